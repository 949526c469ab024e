package jsonservice

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
	"github.com/ambiyansyah-risyal/jsonservice/internal/backoff"
	"github.com/ambiyansyah-risyal/jsonservice/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// Option represents a configuration option
type Option func(*Client)

// WithCache enables result caching with the default in-memory cache. Calls
// are cached only when their CallOptions.CachedFor is positive.
func WithCache() Option {
	return func(c *Client) {
		c.cache = NewInMemoryCache()
	}
}

// WithCustomCache sets a custom cache implementation
func WithCustomCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithDefaultTimeout sets the per-attempt deadline used when a call leaves
// CallOptions.Timeout unset.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.defaultTimeout = d
	}
}

// WithBackoffUnit sets the wait before retrying a refused or broken
// connection.
func WithBackoffUnit(d time.Duration) Option {
	return func(c *Client) {
		c.backoffUnit = d
	}
}

// WithMaxBackoff caps the wait between retries.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoffMax = d
	}
}

// WithBackoffStrategy selects the backoff strategy by name: "constant"
// (default) or "exponential".
func WithBackoffStrategy(name string) Option {
	return func(c *Client) {
		c.backoffStrategy = backoff.ByName(name)
	}
}

// WithJSONRPC switches the wire format to JSON-RPC 2.0.
func WithJSONRPC() Option {
	return func(c *Client) {
		c.codec = wire.JSONRPCCodec{}
	}
}

// WithResultOptions sets the field lookup policy of returned values.
func WithResultOptions(opts ...dynamic.Option) Option {
	return func(c *Client) {
		c.resultOptions = append(c.resultOptions, opts...)
	}
}

// WithHTTPClient sets the client used by the non-blocking transport in place
// of a fresh connection per call.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on the given registerer.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger logs to stderr at debug level
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithDebug logs full response bodies for every call
func WithDebug() Option {
	return func(c *Client) {
		c.debug = true
	}
}

// WithEventSink replaces the default sink, which writes events through the
// logger. Use MultiSink to keep both.
func WithEventSink(sink EventSink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithRequestIDGenerator sets a custom function for generating correlation
// tokens
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTimeouts()...)
	errors = append(errors, c.validateBackoff()...)
	errors = append(errors, c.validateComponents()...)

	if len(errors) > 0 {
		return &Error{
			Kind:    KindValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateTimeouts() []string {
	var errors []string

	if c.defaultTimeout <= 0 {
		errors = append(errors, "defaultTimeout must be positive")
	}
	if c.defaultTimeout > 10*time.Minute {
		errors = append(errors, "defaultTimeout > 10m may cause calls to hang for too long")
	}

	return errors
}

func (c *Client) validateBackoff() []string {
	var errors []string

	if c.backoffUnit < 0 {
		errors = append(errors, "backoffUnit must be non-negative")
	}
	if c.backoffMax < c.backoffUnit {
		errors = append(errors, "maxBackoff must be greater than or equal to backoffUnit")
	}
	if c.backoffUnit > 10*time.Minute {
		errors = append(errors, "backoffUnit > 10m may cause very long delays")
	}

	return errors
}

func (c *Client) validateComponents() []string {
	var errors []string

	if c.codec == nil {
		errors = append(errors, "codec cannot be nil")
	}
	if c.requestIDGen == nil {
		errors = append(errors, "requestIDGen cannot be nil")
	}
	if c.logger == nil {
		errors = append(errors, "logger cannot be nil")
	}

	return errors
}
