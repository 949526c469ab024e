// Package events publishes jsonservice call events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/ambiyansyah-risyal/jsonservice"
)

const logPrefix = "events:nats_sink"

// DefaultSubject is the subject root events are published under.
const DefaultSubject = "jsonservice.events"

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url, name string) (*nats.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to NATS at %s as %s", logPrefix, url, name))

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - NATS disconnected: %v", logPrefix, err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - NATS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	return nc, nil
}

// NATSSink publishes every event as JSON to "<subject>.<event type>", e.g.
// jsonservice.events.failure. Publishing is buffered by the NATS client so
// Emit never waits on the network.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	dropped atomic.Int64
}

var _ jsonservice.EventSink = (*NATSSink)(nil)

// NewNATSSink creates a sink on nc. An empty subject means DefaultSubject.
func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{nc: nc, subject: subject}
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t jsonservice.EventType) string {
	return s.subject + "." + string(t)
}

// Emit publishes ev. Failures are logged and counted, never returned to the
// call.
func (s *NATSSink) Emit(_ context.Context, ev jsonservice.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.dropped.Add(1)
		slog.Error(fmt.Sprintf("%s - failed to encode %s event: %v", logPrefix, ev.Type, err))
		return
	}
	if err := s.nc.Publish(s.Subject(ev.Type), data); err != nil {
		s.dropped.Add(1)
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", logPrefix, s.Subject(ev.Type), err))
	}
}

// Dropped returns how many events could not be published.
func (s *NATSSink) Dropped() int64 {
	return s.dropped.Load()
}

// Flush waits until buffered events reached the server or timeout passes.
func (s *NATSSink) Flush(timeout time.Duration) error {
	return s.nc.FlushTimeout(timeout)
}
