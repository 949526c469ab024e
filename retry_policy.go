package jsonservice

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/internal/backoff"
	"github.com/ambiyansyah-risyal/jsonservice/internal/pool"
)

// hardRetries is the fixed budget for broken connections.
const hardRetries = 1

// failureClass is how the retry loop sees one failed attempt. It never
// leaves the loop.
type failureClass int

const (
	failureOther failureClass = iota
	failureTimeout
	failureRefused
	failureHandshake
	failureBroken
	failureCanceled
)

func (f failureClass) String() string {
	switch f {
	case failureTimeout:
		return "timeout"
	case failureRefused:
		return "refused"
	case failureHandshake:
		return "handshake"
	case failureBroken:
		return "broken"
	case failureCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// classifyFailure maps a transport error to a failure class. ctx is the
// caller's context, not the per-attempt one, so that an expired attempt
// deadline reads as a timeout and a cancelled call reads as cancelled.
func classifyFailure(ctx context.Context, err error) failureClass {
	if err == nil {
		return failureOther
	}
	if ctx.Err() != nil {
		return failureCanceled
	}
	if errors.Is(err, pool.ErrConnectionSetup) {
		return failureHandshake
	}

	var recordErr tls.RecordHeaderError
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) || errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidErr) {
		return failureHandshake
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return failureRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return failureBroken
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return failureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTimeout
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return failureRefused
	case strings.Contains(msg, "broken pipe"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection aborted"), strings.Contains(msg, "EOF"):
		return failureBroken
	case strings.Contains(msg, "tls:"), strings.Contains(msg, "handshake"), strings.Contains(msg, "x509:"):
		return failureHandshake
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return failureTimeout
	}
	return failureOther
}

// attemptFunc performs transport attempt number n, counting from 1.
type attemptFunc func(ctx context.Context, n int) (*rawResponse, error)

// retryHooks lets the caller react to retry decisions.
type retryHooks struct {
	// invalidate drops the pooled connection before a retry that must
	// reconnect.
	invalidate func()
	// onRetry runs before attempt n+1 is made.
	onRetry func(class failureClass, n int, cause error)
}

// retryPolicy runs attempts against two budgets. The soft budget
// (CallOptions.Retries) covers timeouts and refused connections; the hard
// budget covers broken connections. Everything else fails the call at once.
type retryPolicy struct {
	backoff *backoff.Calculator
	hard    int
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(calc *backoff.Calculator) *retryPolicy {
	return &retryPolicy{
		backoff: calc,
		hard:    hardRetries,
		sleep:   sleepContext,
	}
}

// run returns the first successful response and the number of attempts
// made, or the terminal error.
func (p *retryPolicy) run(ctx context.Context, retries int, attempt attemptFunc, hooks retryHooks) (*rawResponse, int, error) {
	softUsed, hardUsed := 0, 0

	for n := 1; ; n++ {
		resp, err := attempt(ctx, n)
		if err == nil {
			return resp, n, nil
		}

		class := classifyFailure(ctx, err)
		var delay time.Duration

		switch class {
		case failureCanceled:
			return nil, n, ctx.Err()

		case failureHandshake:
			callErr := newError(KindBackendUnavailable, "Backend handshake failed", err)
			callErr.Attempt = n
			return nil, n, callErr

		case failureTimeout:
			if softUsed >= retries {
				callErr := newError(KindTimeout, "Backend failed to respond in time", err)
				callErr.Attempt = n
				return nil, n, callErr
			}
			softUsed++
			hooks.invalidateConn()

		case failureRefused:
			if softUsed >= retries {
				callErr := newError(KindBackendUnavailable, "Backend unavailable", err)
				callErr.Attempt = n
				return nil, n, callErr
			}
			softUsed++
			delay = p.backoff.Delay(softUsed)

		case failureBroken:
			if hardUsed >= p.hard {
				callErr := newError(KindNoResponse, "Backend closed the connection without a response", err)
				callErr.Attempt = n
				return nil, n, callErr
			}
			hardUsed++
			hooks.invalidateConn()
			delay = p.backoff.Delay(hardUsed)

		default:
			var callErr *Error
			if errors.As(err, &callErr) {
				return nil, n, err
			}
			callErr = newError(KindNetwork, "Request failed", err)
			callErr.Attempt = n
			return nil, n, callErr
		}

		hooks.retry(class, n, err)
		if delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				return nil, n, err
			}
		}
	}
}

func (h retryHooks) invalidateConn() {
	if h.invalidate != nil {
		h.invalidate()
	}
}

func (h retryHooks) retry(class failureClass, n int, cause error) {
	if h.onRetry != nil {
		h.onRetry(class, n, cause)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
