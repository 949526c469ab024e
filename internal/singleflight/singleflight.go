package singleflight

import (
	"sync"
)

// Group coalesces concurrent calls that share a key. The result cache uses it
// so that simultaneous misses for the same (endpoint, arguments) pair trigger
// a single backend call.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// call represents an in-flight or completed function call.
type call struct {
	wg   sync.WaitGroup
	val  interface{}
	err  error
	dups int
}

// New creates a new singleflight Group.
func New() *Group {
	return &Group{
		m: make(map[string]*call),
	}
}

// Do executes fn, making sure only one execution is in-flight for a given key
// at a time. Duplicate callers wait for the original and receive the same
// results; shared reports whether the result was handed to more than one
// caller. The key is forgotten as soon as fn returns.
func (g *Group) Do(key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	shared = c.dups > 0
	g.mu.Unlock()
	c.wg.Done()

	return c.val, c.err, shared
}

// Result is what DoChan delivers.
type Result struct {
	Val    interface{}
	Err    error
	Shared bool
}

// DoChan is like Do but returns a channel that receives the result, so a
// caller can stop waiting without affecting the other callers of key.
func (g *Group) DoChan(key string, fn func() (interface{}, error)) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		v, err, shared := g.Do(key, fn)
		ch <- Result{Val: v, Err: err, Shared: shared}
	}()
	return ch
}

// Forget drops key so the next Do runs fn again even if a call is in flight.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// InFlight reports how many keys currently have a running call.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
