package jsonservice

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
	"github.com/ambiyansyah-risyal/jsonservice/internal/wire"
)

// DefaultCacheTime applies to cached services that set no CacheTime.
const DefaultCacheTime = 10 * time.Second

// ErrDuplicateService is returned when a name is defined twice.
var ErrDuplicateService = errors.New("jsonservice: service already defined")

// ErrUnknownService is returned by Lookup for undefined names.
var ErrUnknownService = errors.New("jsonservice: unknown service")

// ServiceDefinition declares one remote operation.
type ServiceDefinition struct {
	// Name is the local name the service is looked up by.
	Name string
	// Path is the dotted remote name, e.g. "com.example.commands.user.find".
	Path string
	// Defaults fill arguments the caller leaves blank.
	Defaults Args
	// Required arguments must be non-blank after defaults are applied.
	Required []string
	// Cached enables result caching for CacheTime.
	Cached    bool
	CacheTime time.Duration
	Encrypted bool
	// AuthCert, AuthKey and AuthKeyPassword configure a client certificate.
	AuthCert        string
	AuthKey         string
	AuthKeyPassword string
	// Timeout is the per-attempt deadline. Zero means the registry default;
	// there is no way to ask for no deadline.
	Timeout time.Duration
	// Retries is the soft retry budget. Nil means the registry default, so
	// RetryCount(0) turns retries off for one service.
	Retries *int
}

// RetryCount returns a pointer for ServiceDefinition.Retries.
func RetryCount(n int) *int { return &n }

// Registry holds the services of one backend site. Build it at startup and
// share it; it is safe for concurrent use.
type Registry struct {
	client    *Client
	site      string
	prefix    string
	plaintext atomic.Bool

	mu       sync.RWMutex
	defaults CallOptions
	services map[string]*Service
	order    []string
}

// NewRegistry creates a registry resolving services against site, with
// prefix used for short (one or two segment) service paths.
func NewRegistry(client *Client, site, prefix string) *Registry {
	return &Registry{
		client:   client,
		site:     site,
		prefix:   prefix,
		services: make(map[string]*Service),
	}
}

// Site returns the base URL services are resolved against.
func (r *Registry) Site() string { return r.site }

// Client returns the client services call through.
func (r *Registry) Client() *Client { return r.client }

// DisableTLS makes every service of the registry ignore its Encrypted flag,
// for sites that are only reachable over plain HTTP.
func (r *Registry) DisableTLS() { r.plaintext.Store(true) }

// SetDefaults sets the options services fall back to when their definition
// leaves credentials, Timeout or Retries unset.
func (r *Registry) SetDefaults(opts CallOptions) {
	r.mu.Lock()
	r.defaults = opts
	r.mu.Unlock()
}

func (r *Registry) callDefaults() CallOptions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Define registers def and returns the callable service.
func (r *Registry) Define(def ServiceDefinition) (*Service, error) {
	return r.define(def, r.prefix)
}

func (r *Registry) define(def ServiceDefinition, registryPrefix string) (*Service, error) {
	if def.Name == "" {
		return nil, newError(KindValidation, "service name is required", nil)
	}
	if def.Path == "" {
		return nil, newError(KindValidation, fmt.Sprintf("service %s has no path", def.Name), nil)
	}
	if def.Cached && def.CacheTime <= 0 {
		def.CacheTime = DefaultCacheTime
	}

	prefix, internal := splitServicePath(def.Path, registryPrefix)
	svc := &Service{
		registry: r,
		def:      def,
		internal: internal,
		endpoint: r.site + prefix + internal,
	}
	if err := r.add(def.Name, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// Fake registers a service that always answers with the decoded json
// without any network activity.
func (r *Registry) Fake(name, json string) (*Service, error) {
	payload, err := wire.Decode([]byte(json))
	if err != nil {
		return nil, newError(KindDecode, fmt.Sprintf("fake service %s has invalid JSON", name), err)
	}
	svc := &Service{
		registry: r,
		def:      ServiceDefinition{Name: name},
		fake:     payload,
		isFake:   true,
	}
	if err := r.add(name, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (r *Registry) add(name string, svc *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}
	r.services[name] = svc
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the service registered under name.
func (r *Registry) Lookup(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

// Services lists registered names in definition order.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// SortedServices lists registered names alphabetically.
func (r *Registry) SortedServices() []string {
	names := r.Services()
	sort.Strings(names)
	return names
}

// splitServicePath applies the naming rule for dotted paths: paths of up to
// two segments use the registry prefix; longer paths keep their last two
// segments as the internal name and the rest becomes the prefix.
func splitServicePath(servicePath, registryPrefix string) (prefix, internal string) {
	segments := strings.Split(servicePath, ".")
	if len(segments) <= 2 {
		return registryPrefix, servicePath
	}
	n := len(segments)
	return strings.Join(segments[:n-2], ".") + ".", strings.Join(segments[n-2:], ".")
}

// Service is one callable remote operation.
type Service struct {
	registry *Registry
	def      ServiceDefinition
	internal string
	endpoint string
	fake     any
	isFake   bool
}

// Name returns the local name.
func (s *Service) Name() string { return s.def.Name }

// Endpoint returns the resolved URL. Fake services have none.
func (s *Service) Endpoint() string { return s.endpoint }

// InternalName returns the last two segments of the dotted path.
func (s *Service) InternalName() string { return s.internal }

// Definition returns the definition the service was created from.
func (s *Service) Definition() ServiceDefinition { return s.def }

// Normalize applies defaults to a copy of args and checks required
// arguments. The caller's map is not modified.
func (s *Service) Normalize(args Args) (Args, error) {
	out := make(Args, len(args)+len(s.def.Defaults))
	for k, v := range args {
		out[k] = v
	}
	for k, v := range s.def.Defaults {
		if isBlank(out[k]) {
			out[k] = v
		}
	}
	for _, k := range s.def.Required {
		if isBlank(out[k]) {
			err := newError(KindRequiredArgument, fmt.Sprintf("Required field %s wasn't supplied", k), nil)
			err.Code = "0"
			err.Service = s.internal
			err.Args = out
			return nil, err
		}
	}
	return out, nil
}

// CallOptions returns the options the definition implies for one call,
// falling back to the registry defaults for unset values.
func (s *Service) CallOptions() CallOptions {
	defaults := s.registry.callDefaults()
	opts := CallOptions{
		Encrypted:       s.def.Encrypted && !s.registry.plaintext.Load(),
		AuthCert:        s.def.AuthCert,
		AuthKey:         s.def.AuthKey,
		AuthKeyPassword: s.def.AuthKeyPassword,
		Timeout:         s.def.Timeout,
		Retries:         defaults.Retries,
		Debug:           defaults.Debug,
	}
	if opts.AuthCert == "" && opts.AuthKey == "" {
		opts.AuthCert = defaults.AuthCert
		opts.AuthKey = defaults.AuthKey
		opts.AuthKeyPassword = defaults.AuthKeyPassword
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if s.def.Retries != nil {
		opts.Retries = *s.def.Retries
	}
	if s.def.Cached {
		opts.CachedFor = s.def.CacheTime
	}
	return opts
}

// Call invokes the service and returns its result.
func (s *Service) Call(ctx context.Context, args Args) (*dynamic.Value, error) {
	return s.CallWith(ctx, args, s.CallOptions())
}

// CallWith invokes the service with explicit options.
func (s *Service) CallWith(ctx context.Context, args Args, opts CallOptions) (*dynamic.Value, error) {
	if s.isFake {
		return s.fakeValue(opts)
	}
	normalized, err := s.Normalize(args)
	if err != nil {
		return nil, err
	}
	return s.registry.client.Call(ctx, s.endpoint, normalized, opts)
}

// CallRaw invokes the service and returns the decoded payload untouched.
func (s *Service) CallRaw(ctx context.Context, args Args) (any, error) {
	if s.isFake {
		return s.fake, nil
	}
	normalized, err := s.Normalize(args)
	if err != nil {
		return nil, err
	}
	return s.registry.client.CallRaw(ctx, s.endpoint, normalized, s.CallOptions())
}

// Go invokes the service on the non-blocking transport.
func (s *Service) Go(ctx context.Context, args Args) *Future {
	if s.isFake {
		f := newFuture(nil)
		v, err := s.fakeValue(s.CallOptions())
		f.resolve(Outcome{Value: v, Raw: s.fake, Err: err})
		return f
	}
	normalized, err := s.Normalize(args)
	if err != nil {
		f := newFuture(nil)
		f.resolve(Outcome{Err: err})
		return f
	}
	return s.registry.client.Go(ctx, s.endpoint, normalized, s.CallOptions())
}

// CallAsync invokes the service on the non-blocking transport and passes the
// result to cb exactly once.
func (s *Service) CallAsync(ctx context.Context, args Args, cb Callback) {
	if s.isFake {
		go cb(s.fakeValue(s.CallOptions()))
		return
	}
	normalized, err := s.Normalize(args)
	if err != nil {
		go cb(nil, err)
		return
	}
	s.registry.client.CallAsync(ctx, s.endpoint, normalized, s.CallOptions(), cb)
}

func (s *Service) fakeValue(opts CallOptions) (*dynamic.Value, error) {
	if !opts.Raw && isServiceError(s.fake) {
		return nil, serviceError(s.def.Name, nil, s.fake)
	}
	resultOpts := []dynamic.Option{dynamic.WithName(s.def.Name)}
	if client := s.registry.client; client != nil {
		resultOpts = append(resultOpts, client.resultOptions...)
	}
	return dynamic.New(s.fake, resultOpts...), nil
}

// isBlank is true for nil, empty strings, empty collections and false.
func isBlank(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case bool:
		return !t
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
