package jsonservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/internal/pool"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 32 << 20

// rawResponse is one completed HTTP exchange.
type rawResponse struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	NetworkTime time.Duration
}

// outboundRequest is everything a transport needs for one attempt.
type outboundRequest struct {
	endpoint    *url.URL
	body        []byte
	contentType string
	token       string
	opts        CallOptions
}

// target returns the URL to post to, forcing https for encrypted calls.
func (r *outboundRequest) target() *url.URL {
	u := *r.endpoint
	if r.opts.Encrypted {
		u.Scheme = "https"
	}
	return &u
}

func (r *outboundRequest) hostPort() (string, int) {
	u := r.target()
	host := u.Hostname()
	if p := u.Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			return host, port
		}
	}
	if u.Scheme == "https" {
		return host, 443
	}
	return host, 80
}

// transport sends one attempt. It never retries.
type transport interface {
	send(ctx context.Context, req *outboundRequest) (*rawResponse, error)
	invalidate(req *outboundRequest)
}

// pooledTransport is the blocking variant: it reuses a pooled connection
// per host, port and option fingerprint.
type pooledTransport struct {
	pool *pool.Pool
}

func (t *pooledTransport) send(ctx context.Context, req *outboundRequest) (*rawResponse, error) {
	host, port := req.hostPort()
	conn, err := t.pool.Acquire(host, port, req.opts.poolOptions())
	if err != nil {
		return nil, err
	}
	return roundTrip(ctx, conn.Do, req)
}

func (t *pooledTransport) invalidate(req *outboundRequest) {
	host, port := req.hostPort()
	t.pool.Invalidate(host, port, req.opts.poolOptions())
}

// asyncTransport is the non-blocking variant's sender. Each request gets a
// connection of its own that is not kept alive afterwards.
type asyncTransport struct {
	client *http.Client
}

func (t *asyncTransport) send(ctx context.Context, req *outboundRequest) (*rawResponse, error) {
	client := t.client
	if client == nil {
		var err error
		client, err = newAsyncClient(req.opts)
		if err != nil {
			return nil, err
		}
		defer client.CloseIdleConnections()
	}
	return roundTrip(ctx, client.Do, req)
}

func (t *asyncTransport) invalidate(*outboundRequest) {}

func newAsyncClient(opts CallOptions) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.Timeout,
		}).DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableKeepAlives:     true,
	}
	if opts.Encrypted {
		tlsConfig, err := pool.TLSConfig(opts.poolOptions())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", pool.ErrConnectionSetup, err)
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{Transport: transport}, nil
}

// roundTrip posts req under the per-attempt deadline and reads the whole
// body before the deadline expires.
func roundTrip(ctx context.Context, do func(*http.Request) (*http.Response, error), req *outboundRequest) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, req.opts.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.target().String(), bytes.NewReader(req.body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", req.contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, req.token)
	httpReq.Header.Set("User-Agent", userAgent())

	start := time.Now()
	resp, err := do(httpReq)
	if err != nil {
		return nil, err
	}
	defer cleanlyCloseBody(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	return &rawResponse{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		NetworkTime: time.Since(start),
	}, nil
}

// cleanlyCloseBody drains and closes body so the connection can be reused.
func cleanlyCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
