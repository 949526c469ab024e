// Command jsonservice calls backend services from the command line.
//
//	jsonservice -list
//	jsonservice find_user id=42
//	jsonservice -raw http://localhost:8080/services/user.find id=42
//
// Configuration comes from JSONSERVICE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambiyansyah-risyal/jsonservice"
	"github.com/ambiyansyah-risyal/jsonservice/config"
	"github.com/ambiyansyah-risyal/jsonservice/events"
	"github.com/ambiyansyah-risyal/jsonservice/pgcache"
)

const logPrefix = "cmd:jsonservice"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	list     bool
	raw      bool
	async    bool
	version  bool
	manifest string
	timeout  time.Duration
	target   string
	args     jsonservice.Args
}

func parseFlags(argv []string, stderr io.Writer) (*flags, error) {
	fs := flag.NewFlagSet("jsonservice", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &flags{}
	fs.BoolVar(&f.list, "list", false, "list the services the manifest defines")
	fs.BoolVar(&f.raw, "raw", false, "print the decoded JSON payload instead of the result object")
	fs.BoolVar(&f.async, "async", false, "run the call in the background and wait for its future")
	fs.BoolVar(&f.version, "version", false, "print version information")
	fs.StringVar(&f.manifest, "manifest", "", "service manifest file (overrides JSONSERVICE_MANIFEST_FILE)")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-attempt timeout (overrides JSONSERVICE_TIMEOUT)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: jsonservice [flags] <service|url> [key=value ...]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	if f.list || f.version {
		return f, nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, errors.New("missing service name")
	}

	f.target = fs.Arg(0)
	args, err := parseArgs(fs.Args()[1:])
	if err != nil {
		return nil, err
	}
	f.args = args
	return f, nil
}

// parseArgs turns key=value pairs into call arguments. Values that parse as
// JSON keep their type, anything else is sent as a string.
func parseArgs(pairs []string) (jsonservice.Args, error) {
	args := make(jsonservice.Args, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	errOut := color.New(color.FgRed)

	f, err := parseFlags(argv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		errOut.Fprintf(stderr, "%s - %v\n", logPrefix, err)
		return 2
	}
	if f.version {
		fmt.Fprintln(stdout, jsonservice.GetVersion())
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		errOut.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if f.manifest != "" {
		cfg.ManifestFile = f.manifest
	}
	if f.timeout > 0 {
		cfg.Timeout = f.timeout
	}

	app, err := setup(ctx, cfg)
	if err != nil {
		errOut.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer app.close()

	if f.list {
		for _, name := range app.registry.SortedServices() {
			svc, _ := app.registry.Lookup(name)
			color.New(color.FgCyan).Fprintf(stdout, "%s", name)
			fmt.Fprintf(stdout, "\t%s\n", svc.Endpoint())
		}
		return 0
	}

	out, err := app.call(ctx, f)
	if err != nil {
		errOut.Fprintf(stderr, "%v\n", err)
		return 1
	}
	color.New(color.FgGreen).Fprint(stdout, out)
	return 0
}

// app holds the client and the external resources wired around it.
type app struct {
	cfg      *config.Config
	client   *jsonservice.Client
	registry *jsonservice.Registry
	closers  []func()
}

func setup(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	logger := cfg.Logger()
	opts := cfg.ClientOptions(logger)

	if cfg.CacheDatabaseURL != "" {
		pool, err := pgcache.NewPool(ctx, cfg.CacheDatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		store := pgcache.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, jsonservice.WithCustomCache(store))
	}

	sink := jsonservice.EventSink(jsonservice.NewLogSink(logger))
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, "jsonservice-cli")
		if err != nil {
			a.close()
			return nil, err
		}
		natsSink := events.NewNATSSink(nc, cfg.EventSubject)
		a.closers = append(a.closers, func() {
			_ = natsSink.Flush(2 * time.Second)
			nc.Close()
		})
		sink = jsonservice.MultiSink{sink, natsSink}
	}
	opts = append(opts, jsonservice.WithEventSink(sink))

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, jsonservice.WithMetricsRegistry(reg))
		a.closers = append(a.closers, serveMetrics(cfg.MetricsAddr, reg, logger))
	}

	a.client = jsonservice.New(opts...)
	if err := a.client.ValidationError(); err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.client.Close() })

	a.registry = cfg.NewRegistry(a.client)
	if cfg.ManifestFile != "" {
		m, err := jsonservice.LoadManifestFile(cfg.ManifestFile)
		if err != nil {
			a.close()
			return nil, err
		}
		if _, err := m.Register(a.registry); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger jsonservice.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// call runs the target, a defined service name or a full URL, and renders
// the result.
func (a *app) call(ctx context.Context, f *flags) (string, error) {
	if strings.Contains(f.target, "://") {
		return a.callEndpoint(ctx, f)
	}

	svc, err := a.registry.Lookup(f.target)
	if err != nil {
		return "", err
	}
	if f.raw {
		raw, err := svc.CallRaw(ctx, f.args)
		if err != nil {
			return "", err
		}
		return renderRaw(raw)
	}
	if f.async {
		v, err := svc.Go(ctx, f.args).Result()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	v, err := svc.Call(ctx, f.args)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (a *app) callEndpoint(ctx context.Context, f *flags) (string, error) {
	opts := a.cfg.CallOptions()
	if f.raw {
		raw, err := a.client.CallRaw(ctx, f.target, f.args, opts)
		if err != nil {
			return "", err
		}
		return renderRaw(raw)
	}
	if f.async {
		v, err := a.client.Go(ctx, f.target, f.args, opts).Result()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	v, err := a.client.Call(ctx, f.target, f.args, opts)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func renderRaw(raw any) (string, error) {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%s - render result: %w", logPrefix, err)
	}
	return string(data) + "\n", nil
}
