package jsonservice

import (
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
	"github.com/ambiyansyah-risyal/jsonservice/internal/pool"
)

// DefaultTimeout is the per-attempt deadline when CallOptions.Timeout is
// unset.
const DefaultTimeout = time.Second

// RequestIDHeader carries the correlation token in both directions.
const RequestIDHeader = "X-LVS-Request-ID"

// ErrorCodeField is the reserved key that turns a decoded object into a
// service error.
const ErrorCodeField = "PCode"

// Args are the named arguments of one call.
type Args map[string]any

// CallOptions configure one call. They are passed by value and never
// modified once the call has started.
type CallOptions struct {
	// Encrypted forces TLS regardless of the endpoint scheme.
	Encrypted bool
	// AuthCert and AuthKey are paths to a PEM client certificate and key.
	AuthCert string
	AuthKey  string
	// AuthKeyPassword decrypts an encrypted AuthKey.
	AuthKeyPassword string
	// InsecureSkipVerify accepts any server certificate.
	InsecureSkipVerify bool
	// Timeout is the per-attempt deadline. Zero means the client default.
	Timeout time.Duration
	// Retries is the soft retry budget: attempts after the first that may be
	// spent on timeouts and refused connections.
	Retries int
	// CachedFor enables result caching with this TTL. Zero disables it.
	CachedFor time.Duration
	// Debug logs full response bodies instead of a snippet.
	Debug bool
	// Async sends the request through the non-blocking transport.
	Async bool
	// Raw returns decoded payloads as-is, including service errors.
	Raw bool
}

// withDefaults returns a copy with unset values filled in.
func (o CallOptions) withDefaults(timeout time.Duration) CallOptions {
	if o.Timeout <= 0 {
		o.Timeout = timeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.CachedFor < 0 {
		o.CachedFor = 0
	}
	return o
}

func (o CallOptions) poolOptions() pool.Options {
	return pool.Options{
		Encrypted:          o.Encrypted,
		AuthCert:           o.AuthCert,
		AuthKey:            o.AuthKey,
		AuthKeyPassword:    o.AuthKeyPassword,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}

// Response describes the exchange that produced a result.
type Response struct {
	StatusCode int
	Header     http.Header
	RequestID  string
	// Attempts is the number of transport attempts made, 0 for cache hits.
	Attempts    int
	NetworkTime time.Duration
	DecodeTime  time.Duration
	Cached      bool
}

// Outcome is the single value a Future resolves to.
type Outcome struct {
	Value    *dynamic.Value
	Raw      any
	Response *Response
	Err      error
}

// Callback receives the result of CallAsync exactly once.
type Callback func(*dynamic.Value, error)
