package jsonservice

import (
	"context"
	"sync"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
)

// Future is the single-shot result of a call started with Go.
type Future struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	cb      Callback
}

func newFuture(cb Callback) *Future {
	return &Future{done: make(chan struct{}), cb: cb}
}

// resolve settles the future. Only the first call has any effect.
func (f *Future) resolve(out Outcome) {
	f.once.Do(func() {
		f.outcome = out
		close(f.done)
		if f.cb != nil {
			f.cb(out.Value, out.Err)
		}
	})
}

// Done is closed once the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call completes.
func (f *Future) Wait() Outcome {
	<-f.done
	return f.outcome
}

// WaitContext blocks until the call completes or ctx is done. Giving up
// does not cancel the call itself.
func (f *Future) WaitContext(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Result blocks and returns the call's value and error.
func (f *Future) Result() (*dynamic.Value, error) {
	out := f.Wait()
	return out.Value, out.Err
}
