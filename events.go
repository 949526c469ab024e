package jsonservice

import (
	"context"
	"strings"
	"time"
)

// EventType names a step of a call.
type EventType string

const (
	EventRequest   EventType = "request"
	EventRetry     EventType = "retry"
	EventResponse  EventType = "response"
	EventCacheHit  EventType = "cache_hit"
	EventCacheMiss EventType = "cache_miss"
	EventFailure   EventType = "failure"
)

// snippetLimit bounds the response body carried by response events unless
// the call asked for debug output.
const snippetLimit = 1024

// Event is a structured record of one step of a call.
type Event struct {
	Type       EventType `json:"type"`
	Service    string    `json:"service"`
	RequestID  string    `json:"request_id,omitempty"`
	Args       Args      `json:"args,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	// NetworkTime and DecodeTime split the response latency.
	NetworkTime time.Duration `json:"network_time,omitempty"`
	DecodeTime  time.Duration `json:"decode_time,omitempty"`
	Body        string        `json:"body,omitempty"`
	Snippet     bool          `json:"snippet,omitempty"`
	Error       string        `json:"error,omitempty"`
	Time        time.Time     `json:"time"`
}

// EventSink receives call events. Emit must not block the call for long;
// sinks that publish remotely should do so asynchronously or with a
// deadline.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiSink fans events out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, ev)
		}
	}
}

// LogSink writes events through a Logger.
type LogSink struct {
	Logger Logger
}

// NewLogSink returns a sink logging to logger.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{Logger: logger}
}

func (s *LogSink) Emit(_ context.Context, ev Event) {
	if s == nil || s.Logger == nil {
		return
	}
	switch ev.Type {
	case EventRequest:
		s.Logger.Info("JSON API CALL", "service", ev.Service, "requestID", ev.RequestID, "args", ev.Args)
	case EventRetry:
		s.Logger.Debug("Retrying "+ev.Service+" due to "+ev.Reason, "requestID", ev.RequestID, "attempt", ev.Attempt)
	case EventResponse:
		msg := "Response"
		if ev.Snippet {
			msg = "Response Snippet"
		}
		s.Logger.Debug(msg, "service", ev.Service, "requestID", ev.RequestID, "status", ev.StatusCode,
			"network", ev.NetworkTime, "decode", ev.DecodeTime, "body", ev.Body)
	case EventCacheHit:
		s.Logger.Debug("JSON API CACHED CALL hit", "service", ev.Service, "args", ev.Args)
	case EventCacheMiss:
		s.Logger.Debug("JSON API CACHED CALL miss", "service", ev.Service, "args", ev.Args)
	case EventFailure:
		s.Logger.Error("JSON API CALL FAIL", "service", ev.Service, "requestID", ev.RequestID, "args", ev.Args, "error", ev.Error)
	}
}

// bodyForEvent flattens body to one line, cutting it at snippetLimit unless
// full is set.
func bodyForEvent(body []byte, full bool) (string, bool) {
	s := strings.ReplaceAll(string(body), "\n", "")
	if full || len(s) < snippetLimit {
		return s, false
	}
	return s[:snippetLimit], true
}
