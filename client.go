package jsonservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
	"github.com/ambiyansyah-risyal/jsonservice/internal/backoff"
	"github.com/ambiyansyah-risyal/jsonservice/internal/pool"
	"github.com/ambiyansyah-risyal/jsonservice/internal/singleflight"
	"github.com/ambiyansyah-risyal/jsonservice/internal/wire"
)

// Client invokes remote JSON services. It owns a connection pool, an
// optional result cache and the retry policy, and is safe for concurrent
// use.
type Client struct {
	pool     *pool.Pool
	blocking transport
	async    transport

	codec wire.Codec

	retry           *retryPolicy
	backoffUnit     time.Duration
	backoffMax      time.Duration
	backoffStrategy backoff.Strategy
	defaultTimeout  time.Duration

	cache      Cache
	cacheGroup *singleflight.Group

	metrics      *MetricsCollector
	logger       Logger
	sink         EventSink
	debug        bool
	requestIDGen func() string

	resultOptions []dynamic.Option
	httpClient    *http.Client

	validationError error
	closed          atomic.Bool
}

// callResult is a decoded, correlated response before dispatch.
type callResult struct {
	raw  any
	resp Response
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; see IsValid and ValidationError.
func New(options ...Option) *Client {
	client := &Client{
		codec:          wire.FormCodec{},
		backoffUnit:    time.Second,
		backoffMax:     30 * time.Second,
		defaultTimeout: DefaultTimeout,
		cacheGroup:     singleflight.New(),
		logger:         nopLogger{},
		requestIDGen:   NewRequestID,
	}

	for _, option := range options {
		option(client)
	}

	if client.pool == nil {
		client.pool = pool.New(pool.WithObserver(func(size int) {
			client.metrics.RecordPoolSize(size)
		}))
	}
	client.blocking = &pooledTransport{pool: client.pool}
	client.async = &asyncTransport{client: client.httpClient}
	client.retry = newRetryPolicy(backoff.NewCalculator(client.backoffStrategy, client.backoffUnit, client.backoffMax))
	if client.sink == nil {
		client.sink = NewLogSink(client.logger)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// IsValid reports whether the configuration passed validation.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// PoolSize returns the number of pooled connections.
func (c *Client) PoolSize() int {
	return c.pool.Len()
}

// InvalidateAll drops every pooled connection.
func (c *Client) InvalidateAll() {
	c.pool.InvalidateAll()
}

// Close drops pooled connections. Calls made afterwards fail with
// ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.pool.InvalidateAll()
	return nil
}

// Call invokes endpoint with args and returns the result as a dynamic value.
// A decoded object carrying a PCode becomes a KindService error unless
// opts.Raw is set. With opts.Async the call runs on the non-blocking
// transport and Call waits for it.
func (c *Client) Call(ctx context.Context, endpoint string, args Args, opts CallOptions) (*dynamic.Value, error) {
	if opts.Async {
		out := c.Go(ctx, endpoint, args, opts).Wait()
		return out.Value, out.Err
	}
	out := c.do(ctx, c.blocking, endpoint, args, opts)
	return out.Value, out.Err
}

// CallRaw invokes endpoint in raw mode and returns the decoded payload
// untouched, service errors included.
func (c *Client) CallRaw(ctx context.Context, endpoint string, args Args, opts CallOptions) (any, error) {
	opts.Raw = true
	if opts.Async {
		out := c.Go(ctx, endpoint, args, opts).Wait()
		return out.Raw, out.Err
	}
	out := c.do(ctx, c.blocking, endpoint, args, opts)
	return out.Raw, out.Err
}

// Go starts the call on the non-blocking transport and returns at once.
func (c *Client) Go(ctx context.Context, endpoint string, args Args, opts CallOptions) *Future {
	return c.start(ctx, endpoint, args, opts, nil)
}

// CallAsync starts the call on the non-blocking transport and invokes cb
// exactly once with its result.
func (c *Client) CallAsync(ctx context.Context, endpoint string, args Args, opts CallOptions, cb Callback) {
	c.start(ctx, endpoint, args, opts, cb)
}

func (c *Client) start(ctx context.Context, endpoint string, args Args, opts CallOptions, cb Callback) *Future {
	opts.Async = true
	f := newFuture(cb)
	go func() {
		f.resolve(c.do(ctx, c.async, endpoint, args, opts))
	}()
	return f
}

func (c *Client) do(ctx context.Context, tr transport, endpoint string, args Args, opts CallOptions) Outcome {
	start := time.Now()
	opts = opts.withDefaults(c.defaultTimeout)
	label := serviceLabel(endpoint)

	c.metrics.RecordCallStart(label)
	defer c.metrics.RecordCallEnd(label)

	out, err := c.execute(ctx, tr, endpoint, args, opts)
	if err != nil {
		c.fail(ctx, endpoint, args, err)
		c.metrics.RecordCall(label, "error", time.Since(start))
		return Outcome{Err: err}
	}

	c.metrics.RecordCall(label, "success", time.Since(start))
	return out
}

func (c *Client) execute(ctx context.Context, tr transport, endpoint string, args Args, opts CallOptions) (Outcome, error) {
	if c.closed.Load() {
		return Outcome{}, ErrClientClosed
	}
	if c.validationError != nil {
		return Outcome{}, c.validationError
	}

	u, err := parseEndpoint(endpoint)
	if err != nil {
		return Outcome{}, annotate(err, endpoint, args, "")
	}

	var res *callResult
	if opts.CachedFor > 0 && c.cache != nil {
		res, err = c.cachedFetch(ctx, tr, u, endpoint, args, opts)
	} else {
		res, err = c.fetch(ctx, tr, u, endpoint, args, opts)
	}
	if err != nil {
		return Outcome{}, err
	}

	return c.dispatch(endpoint, args, res, opts)
}

// dispatch turns a decoded payload into the caller's result.
func (c *Client) dispatch(endpoint string, args Args, res *callResult, opts CallOptions) (Outcome, error) {
	if !opts.Raw && isServiceError(res.raw) {
		err := serviceError(endpoint, args, res.raw)
		err.StatusCode = res.resp.StatusCode
		err.RequestID = res.resp.RequestID
		return Outcome{}, err
	}

	resp := res.resp
	return Outcome{
		Value:    dynamic.New(res.raw, c.resultOptions...),
		Raw:      res.raw,
		Response: &resp,
	}, nil
}

// fetch performs the network path of one call: encode, send with retries,
// correlate, classify the status and decode.
func (c *Client) fetch(ctx context.Context, tr transport, u *url.URL, endpoint string, args Args, opts CallOptions) (*callResult, error) {
	token := c.requestIDGen()
	label := serviceLabel(endpoint)

	body, err := c.codec.EncodeRequest(path.Base(u.Path), map[string]any(args))
	if err != nil {
		return nil, annotate(newError(KindValidation, "Arguments could not be encoded", err), endpoint, args, token)
	}

	req := &outboundRequest{
		endpoint:    u,
		body:        body,
		contentType: c.codec.ContentType(),
		token:       token,
		opts:        opts,
	}

	c.emit(ctx, Event{Type: EventRequest, Service: endpoint, RequestID: token, Args: args})

	raw, attempts, err := c.retry.run(ctx, opts.Retries,
		func(ctx context.Context, n int) (*rawResponse, error) {
			r, err := tr.send(ctx, req)
			status := 0
			if r != nil {
				status = r.StatusCode
			}
			c.metrics.RecordAttempt(label, status)
			return r, err
		},
		retryHooks{
			invalidate: func() { tr.invalidate(req) },
			onRetry: func(class failureClass, n int, cause error) {
				c.metrics.RecordRetry(label, class.String())
				c.emit(ctx, Event{
					Type:      EventRetry,
					Service:   endpoint,
					RequestID: token,
					Attempt:   n,
					Reason:    class.String(),
					Error:     cause.Error(),
				})
			},
		})
	if err != nil {
		return nil, annotate(err, endpoint, args, token)
	}

	if err := verifyRequestID(token, raw.Header.Get(RequestIDHeader)); err != nil {
		return nil, annotate(err, endpoint, args, token)
	}

	switch raw.StatusCode {
	case http.StatusNotFound:
		callErr := newError(KindNotFound, "404 Found for the service", nil)
		callErr.Code = "404"
		callErr.StatusCode = raw.StatusCode
		return nil, annotate(callErr, endpoint, args, token)
	case http.StatusNotModified:
		callErr := newError(KindNotModified, "304 Not Modified", nil)
		callErr.StatusCode = raw.StatusCode
		return nil, annotate(callErr, endpoint, args, token)
	}

	decodeStart := time.Now()
	payload, decodeErr := c.codec.DecodeResponse(raw.Body)
	decodeTime := time.Since(decodeStart)

	logged, snippet := bodyForEvent(raw.Body, opts.Debug || c.debug)
	c.emit(ctx, Event{
		Type:        EventResponse,
		Service:     endpoint,
		RequestID:   token,
		Attempt:     attempts,
		StatusCode:  raw.StatusCode,
		NetworkTime: raw.NetworkTime,
		DecodeTime:  decodeTime,
		Body:        logged,
		Snippet:     snippet,
	})

	if raw.StatusCode < 200 || raw.StatusCode > 299 {
		if decodeErr == nil && isServiceError(payload) {
			callErr := serviceError(endpoint, args, payload)
			callErr.StatusCode = raw.StatusCode
			return nil, annotate(callErr, endpoint, args, token)
		}
		callErr := newError(KindStatus, fmt.Sprintf("Unexpected status %d", raw.StatusCode), decodeErr)
		callErr.StatusCode = raw.StatusCode
		return nil, annotate(callErr, endpoint, args, token)
	}

	if decodeErr != nil {
		var remote *wire.RemoteError
		if errors.As(decodeErr, &remote) {
			callErr := newError(KindService, remote.Message, nil)
			callErr.Code = remote.Code
			callErr.Response = remote.Data
			callErr.StatusCode = raw.StatusCode
			return nil, annotate(callErr, endpoint, args, token)
		}
		callErr := newError(KindDecode, "Response is not valid JSON", decodeErr)
		callErr.StatusCode = raw.StatusCode
		return nil, annotate(callErr, endpoint, args, token)
	}

	return &callResult{
		raw: payload,
		resp: Response{
			StatusCode:  raw.StatusCode,
			Header:      raw.Header,
			RequestID:   token,
			Attempts:    attempts,
			NetworkTime: raw.NetworkTime,
			DecodeTime:  decodeTime,
		},
	}, nil
}

// cachedFetch serves the call from the cache, or fetches it once for all
// concurrent callers of the same key and stores the result. A caller that
// gives up stops waiting without failing the others.
func (c *Client) cachedFetch(ctx context.Context, tr transport, u *url.URL, endpoint string, args Args, opts CallOptions) (*callResult, error) {
	key, err := CacheKey(endpoint, args)
	if err != nil {
		return nil, annotate(newError(KindValidation, "Arguments could not be encoded", err), endpoint, args, "")
	}
	label := serviceLabel(endpoint)

	if res, ok := c.cacheLookup(ctx, key); ok {
		c.metrics.RecordCacheHit(label)
		c.emit(ctx, Event{Type: EventCacheHit, Service: endpoint, Args: args})
		return res, nil
	}
	c.metrics.RecordCacheMiss(label)
	c.emit(ctx, Event{Type: EventCacheMiss, Service: endpoint, Args: args})

	// The shared fetch outlives any single caller's cancellation; the
	// per-attempt deadlines still bound it.
	shared := context.WithoutCancel(ctx)
	ch := c.cacheGroup.DoChan(key, func() (interface{}, error) {
		res, err := c.fetch(shared, tr, u, endpoint, args, opts)
		if err != nil {
			return nil, err
		}
		if !isServiceError(res.raw) {
			c.cacheStore(shared, key, res, opts.CachedFor)
		}
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*callResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cacheLookup retries a failing store once before treating the call as a
// miss.
func (c *Client) cacheLookup(ctx context.Context, key string) (*callResult, bool) {
	entry, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Info("JSON API CALL RETRY", "cacheKey", key, "error", err)
		entry, found, err = c.cache.Get(ctx, key)
	}
	if err != nil {
		c.metrics.RecordCacheError("get")
		c.logger.Warn("Result cache unavailable", "cacheKey", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	raw, err := wire.Decode(entry.Result)
	if err != nil {
		c.logger.Warn("Dropping unreadable cache entry", "cacheKey", key, "error", err)
		_ = c.cache.Delete(ctx, key)
		return nil, false
	}
	return &callResult{
		raw: raw,
		resp: Response{
			StatusCode:  entry.StatusCode,
			RequestID:   entry.RequestID,
			NetworkTime: entry.NetworkTime,
			Cached:      true,
		},
	}, true
}

func (c *Client) cacheStore(ctx context.Context, key string, res *callResult, ttl time.Duration) {
	encoded, err := json.Marshal(res.raw)
	if err != nil {
		c.logger.Warn("Result not cacheable", "cacheKey", key, "error", err)
		return
	}
	entry := &CacheEntry{
		StatusCode:  res.resp.StatusCode,
		RequestID:   res.resp.RequestID,
		Result:      encoded,
		NetworkTime: res.resp.NetworkTime,
	}
	if err := c.cache.Set(ctx, key, entry, ttl); err != nil {
		c.metrics.RecordCacheError("set")
		c.logger.Warn("Result cache write failed", "cacheKey", key, "error", err)
	}
}

func (c *Client) emit(ctx context.Context, ev Event) {
	if c.sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.sink.Emit(ctx, ev)
}

// fail records a terminal failure before it is returned.
func (c *Client) fail(ctx context.Context, endpoint string, args Args, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = "Canceled"
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			kind = "Other"
		}
	}
	c.metrics.RecordError(kind, serviceLabel(endpoint))

	ev := Event{Type: EventFailure, Service: endpoint, Args: args, Error: err.Error()}
	var callErr *Error
	if errors.As(err, &callErr) {
		ev.RequestID = callErr.RequestID
		ev.Attempt = callErr.Attempt
		ev.StatusCode = callErr.StatusCode
	}
	c.emit(ctx, ev)
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, newError(KindValidation, "Invalid endpoint", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(KindValidation, fmt.Sprintf("Unsupported endpoint scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return nil, newError(KindValidation, "Endpoint has no host", nil)
	}
	return u, nil
}

// annotate fills the call context into err when it is an *Error.
func annotate(err error, endpoint string, args Args, token string) error {
	var callErr *Error
	if !errors.As(err, &callErr) {
		return err
	}
	if callErr.Service == "" {
		callErr.Service = endpoint
	}
	if callErr.Args == nil {
		callErr.Args = args
	}
	if callErr.RequestID == "" {
		callErr.RequestID = token
	}
	return err
}

func isServiceError(raw any) bool {
	obj, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	_, ok = obj[ErrorCodeField]
	return ok
}

func serviceError(endpoint string, args Args, payload any) *Error {
	obj, _ := payload.(map[string]any)

	message := ""
	if m, ok := obj["message"]; ok && m != nil {
		message = fmt.Sprint(m)
	}
	code := ""
	if pc := obj[ErrorCodeField]; pc != nil {
		code = fmt.Sprint(pc)
	}

	err := newError(KindService, message, nil)
	err.Code = code
	err.Service = endpoint
	err.Args = args
	err.Response = payload
	return err
}
