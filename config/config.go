// Package config loads process configuration for jsonservice clients from
// JSONSERVICE_* environment variables.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ambiyansyah-risyal/jsonservice"
	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
)

const logPrefix = "config:Load"

// EnvPrefix is prepended to every variable name, e.g. JSONSERVICE_LOCATION.
const EnvPrefix = "JSONSERVICE"

// Config holds the settings of one backend site and the client talking to
// it.
type Config struct {
	// Location is the plain HTTP base URL of the backend.
	Location string `envconfig:"LOCATION" default:"http://localhost:8080/"`
	// SSLLocation is the HTTPS base URL, used unless SSLDisabled is set.
	SSLLocation string `envconfig:"SSL_LOCATION"`
	SSLDisabled bool   `envconfig:"SSL_DISABLED" default:"true"`
	// Site is the path below the base location, e.g. "services/". A value
	// that already starts with a base location is accepted.
	Site string `envconfig:"SITE"`

	ServicePrefix string `envconfig:"SERVICE_PREFIX"`
	FieldPrefix   string `envconfig:"FIELD_PREFIX"`
	IgnoreMissing bool   `envconfig:"IGNORE_MISSING" default:"false"`

	// Client certificate used by encrypted services that set none.
	ClientCert        string `envconfig:"CLIENT_CERT"`
	ClientKey         string `envconfig:"CLIENT_KEY"`
	ClientKeyPassword string `envconfig:"CLIENT_KEY_PASSWORD"`

	Timeout         time.Duration `envconfig:"TIMEOUT" default:"1s"`
	Retries         int           `envconfig:"RETRIES" default:"0"`
	BackoffUnit     time.Duration `envconfig:"BACKOFF_UNIT" default:"1s"`
	BackoffStrategy string        `envconfig:"BACKOFF_STRATEGY" default:"constant"`
	JSONRPC         bool          `envconfig:"JSONRPC" default:"false"`

	ManifestFile string `envconfig:"MANIFEST_FILE"`

	// Cache enables the in-process result cache. CacheDatabaseURL, when set,
	// selects the shared PostgreSQL store instead.
	Cache            bool   `envconfig:"CACHE" default:"false"`
	CacheDatabaseURL string `envconfig:"CACHE_DATABASE_URL"`

	NATSURL      string `envconfig:"NATS_URL"`
	EventSubject string `envconfig:"EVENT_SUBJECT" default:"jsonservice.events"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the settings are usable together.
func (c *Config) Validate() error {
	var problems []string

	if err := checkBaseURL(c.Location); err != nil {
		problems = append(problems, "LOCATION "+err.Error())
	}
	if !c.SSLDisabled {
		if c.SSLLocation == "" {
			problems = append(problems, "SSL_LOCATION is required unless SSL_DISABLED is set")
		} else if err := checkBaseURL(c.SSLLocation); err != nil {
			problems = append(problems, "SSL_LOCATION "+err.Error())
		}
	}
	if c.Timeout <= 0 {
		problems = append(problems, "TIMEOUT must be positive")
	}
	if c.Retries < 0 {
		problems = append(problems, "RETRIES must be non-negative")
	}
	if c.BackoffUnit < 0 {
		problems = append(problems, "BACKOFF_UNIT must be non-negative")
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		problems = append(problems, "CLIENT_CERT and CLIENT_KEY must be set together")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s - invalid configuration: %s", logPrefix, strings.Join(problems, "; "))
	}
	return nil
}

func checkBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("has no host")
	}
	return nil
}

// BaseLocation is the location services are reached through.
func (c *Config) BaseLocation() string {
	if c.SSLDisabled {
		return c.Location
	}
	return c.SSLLocation
}

// SiteURL joins the active base location and Site. Site may already carry
// either base location; it is stripped first so the result never repeats
// the host.
func (c *Config) SiteURL() string {
	site := c.Site
	if c.Location != "" {
		site = strings.TrimPrefix(site, c.Location)
	}
	if !c.SSLDisabled && c.SSLLocation != "" {
		site = strings.TrimPrefix(site, c.SSLLocation)
	}
	site = strings.TrimPrefix(site, "/")

	return strings.TrimSuffix(c.BaseLocation(), "/") + "/" + site
}

// CallOptions are the per-call defaults every registered service starts
// from.
func (c *Config) CallOptions() jsonservice.CallOptions {
	return jsonservice.CallOptions{
		AuthCert:        c.ClientCert,
		AuthKey:         c.ClientKey,
		AuthKeyPassword: c.ClientKeyPassword,
		Timeout:         c.Timeout,
		Retries:         c.Retries,
		Debug:           c.Debug,
	}
}

// ResultOptions are the field lookup options of returned values.
func (c *Config) ResultOptions() []dynamic.Option {
	var opts []dynamic.Option
	if c.FieldPrefix != "" {
		opts = append(opts, dynamic.WithFieldPrefix(c.FieldPrefix))
	}
	if c.IgnoreMissing {
		opts = append(opts, dynamic.IgnoreMissing())
	}
	return opts
}

// Logger returns a coloured stderr logger at LogLevel.
func (c *Config) Logger() jsonservice.Logger {
	return c.LoggerTo(os.Stderr)
}

// LoggerTo returns a coloured logger writing to w at LogLevel.
func (c *Config) LoggerTo(w io.Writer) jsonservice.Logger {
	return jsonservice.NewSimpleLoggerTo(w, jsonservice.ParseLogLevel(c.LogLevel))
}

// ClientOptions translates the configuration into client options. The
// result cache, event sink and metrics are wired by the caller since they
// own external resources.
func (c *Config) ClientOptions(logger jsonservice.Logger) []jsonservice.Option {
	opts := []jsonservice.Option{
		jsonservice.WithDefaultTimeout(c.Timeout),
		jsonservice.WithBackoffUnit(c.BackoffUnit),
		jsonservice.WithBackoffStrategy(c.BackoffStrategy),
		jsonservice.WithLogger(logger),
	}
	if max := 30 * c.BackoffUnit; max > 0 {
		opts = append(opts, jsonservice.WithMaxBackoff(max))
	}
	if resultOpts := c.ResultOptions(); len(resultOpts) > 0 {
		opts = append(opts, jsonservice.WithResultOptions(resultOpts...))
	}
	if c.JSONRPC {
		opts = append(opts, jsonservice.WithJSONRPC())
	}
	if c.Debug {
		opts = append(opts, jsonservice.WithDebug())
	}
	if c.Cache && c.CacheDatabaseURL == "" {
		opts = append(opts, jsonservice.WithCache())
	}
	return opts
}

// NewRegistry creates a registry for the configured site with CallOptions
// as the service defaults.
func (c *Config) NewRegistry(client *jsonservice.Client) *jsonservice.Registry {
	reg := jsonservice.NewRegistry(client, c.SiteURL(), c.ServicePrefix)
	reg.SetDefaults(c.CallOptions())
	if c.SSLDisabled {
		reg.DisableTLS()
	}
	return reg
}
