// Package pool keeps long-lived HTTP connections keyed by host, port and the
// options that change connection identity. It never retries: callers get a
// usable connection or a connection-establishment error.
package pool

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// ErrConnectionSetup wraps every failure to build a connection.
var ErrConnectionSetup = errors.New("pool: connection setup failed")

// Options are the call options that matter to connection identity and setup.
// Deadlines are not among them: a pooled connection serves calls with
// different timeouts, so each request carries its own through its context.
type Options struct {
	Encrypted          bool
	AuthCert           string
	AuthKey            string
	AuthKeyPassword    string
	InsecureSkipVerify bool
}

// Key identifies one pooled connection.
type Key struct {
	Host        string
	Port        int
	Fingerprint string
}

func (k Key) String() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port)) + "#" + k.Fingerprint
}

// KeyFor derives the pool key.
func KeyFor(host string, port int, opts Options) Key {
	fp := "plain"
	if opts.Encrypted {
		h := blake3.New()
		_, _ = h.Write([]byte("tls\x00"))
		_, _ = h.Write([]byte(opts.AuthCert + "\x00" + opts.AuthKey + "\x00" + opts.AuthKeyPassword + "\x00"))
		if opts.InsecureSkipVerify {
			_, _ = h.Write([]byte("noverify"))
		}
		fp = "tls-" + hex.EncodeToString(h.Sum(nil)[:8])
	}
	return Key{Host: host, Port: port, Fingerprint: fp}
}

// Conn is one pooled connection. Callers never close it; they ask the pool
// to invalidate it.
type Conn struct {
	id        uint64
	key       Key
	client    *http.Client
	transport http.RoundTripper
	created   time.Time
	closed    atomic.Bool
}

// Do sends req over the connection.
func (c *Conn) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// ID is unique per connection instance for the lifetime of the process.
func (c *Conn) ID() uint64 { return c.id }

// Key returns the pool key the connection was created for.
func (c *Conn) Key() Key { return c.key }

// Created returns when the connection was established.
func (c *Conn) Created() time.Time { return c.created }

// Closed reports whether the connection was invalidated.
func (c *Conn) Closed() bool { return c.closed.Load() }

// close is best effort; errors from tearing down idle sockets are ignored.
func (c *Conn) close() {
	if c.closed.Swap(true) {
		return
	}
	if ci, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// RoundTripperFactory builds the transport behind a new connection.
type RoundTripperFactory func(key Key, opts Options) (http.RoundTripper, error)

// Option configures a Pool.
type Option func(*Pool)

// WithRoundTripperFactory replaces the default net/http transport factory.
func WithRoundTripperFactory(fn RoundTripperFactory) Option {
	return func(p *Pool) {
		p.factory = fn
	}
}

// WithObserver registers a callback invoked after the number of pooled
// connections changes.
func WithObserver(fn func(size int)) Option {
	return func(p *Pool) {
		p.observe = fn
	}
}

// Pool owns connections keyed by Key. It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	conns   map[Key]*Conn
	factory RoundTripperFactory
	observe func(size int)
	nextID  atomic.Uint64
}

// New creates an empty pool.
func New(options ...Option) *Pool {
	p := &Pool{
		conns:   make(map[Key]*Conn),
		factory: DefaultRoundTripper,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Acquire returns the pooled connection for (host, port, opts), creating one
// if none exists or the existing one was closed.
func (p *Pool) Acquire(host string, port int, opts Options) (*Conn, error) {
	key := KeyFor(host, port, opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[key]; ok && !conn.Closed() {
		return conn, nil
	}

	rt, err := p.factory(key, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionSetup, key, err)
	}

	conn := &Conn{
		id:        p.nextID.Add(1),
		key:       key,
		client:    &http.Client{Transport: rt},
		transport: rt,
		created:   time.Now(),
	}
	p.conns[key] = conn
	p.notify()
	return conn, nil
}

// Invalidate drops and closes the entry for (host, port, opts), forcing the
// next Acquire to reconnect.
func (p *Pool) Invalidate(host string, port int, opts Options) {
	key := KeyFor(host, port, opts)

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[key]; ok {
		conn.close()
		delete(p.conns, key)
		p.notify()
	}
}

// InvalidateAll drops every pooled entry.
func (p *Pool) InvalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, conn := range p.conns {
		conn.close()
		delete(p.conns, key)
	}
	p.notify()
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// notify must be called with p.mu held.
func (p *Pool) notify() {
	if p.observe != nil {
		p.observe(len(p.conns))
	}
}

// DefaultRoundTripper builds a keep-alive transport dedicated to one key. TLS
// is enabled when opts.Encrypted is set, presenting the client certificate if
// one is configured. The transport sets no dial, handshake or header timeouts;
// the request context bounds each of them.
func DefaultRoundTripper(key Key, opts Options) (http.RoundTripper, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}

	if opts.Encrypted {
		tlsConfig, err := TLSConfig(opts)
		if err != nil {
			return nil, err
		}
		tlsConfig.ServerName = key.Host
		transport.TLSClientConfig = tlsConfig
	}

	return transport, nil
}
