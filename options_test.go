package jsonservice

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
	"github.com/ambiyansyah-risyal/jsonservice/internal/backoff"
	"github.com/ambiyansyah-risyal/jsonservice/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDefaults(t *testing.T) {
	client := New()

	if !client.IsValid() {
		t.Fatalf("Expected default client to be valid, got %v", client.ValidationError())
	}
	if client.defaultTimeout != DefaultTimeout {
		t.Errorf("Expected default timeout %v, got %v", DefaultTimeout, client.defaultTimeout)
	}
	if client.backoffUnit != time.Second {
		t.Errorf("Expected one second backoff unit, got %v", client.backoffUnit)
	}
	if _, ok := client.codec.(wire.FormCodec); !ok {
		t.Errorf("Expected form codec by default, got %T", client.codec)
	}
	if client.cache != nil {
		t.Error("Expected caching to be off by default")
	}
	if client.metrics != nil {
		t.Error("Expected metrics to be off by default")
	}
	if _, ok := client.sink.(*LogSink); !ok {
		t.Errorf("Expected log sink by default, got %T", client.sink)
	}
	if client.PoolSize() != 0 {
		t.Errorf("Expected empty pool, got %d", client.PoolSize())
	}
}

func TestOptionsApply(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSimpleLoggerTo(&buf, LevelDebug)
	cache := NewInMemoryCache()
	httpClient := &http.Client{}
	registry := prometheus.NewRegistry()

	client := New(
		WithCustomCache(cache),
		WithDefaultTimeout(3*time.Second),
		WithBackoffUnit(200*time.Millisecond),
		WithMaxBackoff(5*time.Second),
		WithBackoffStrategy("exponential"),
		WithJSONRPC(),
		WithResultOptions(dynamic.Strict()),
		WithHTTPClient(httpClient),
		WithMetricsRegistry(registry),
		WithLogger(logger),
		WithDebug(),
		WithRequestIDGenerator(func() string { return "fixed" }),
	)

	if !client.IsValid() {
		t.Fatalf("Expected valid client, got %v", client.ValidationError())
	}
	if client.cache != cache {
		t.Error("Expected custom cache")
	}
	if client.defaultTimeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", client.defaultTimeout)
	}
	if _, ok := client.retry.backoff.Strategy().(backoff.ExponentialJitterStrategy); !ok {
		t.Errorf("Expected exponential strategy, got %T", client.retry.backoff.Strategy())
	}
	if client.retry.backoff.Base() != 200*time.Millisecond {
		t.Errorf("Expected 200ms backoff unit, got %v", client.retry.backoff.Base())
	}
	if _, ok := client.codec.(wire.JSONRPCCodec); !ok {
		t.Errorf("Expected JSON-RPC codec, got %T", client.codec)
	}
	if len(client.resultOptions) != 1 {
		t.Errorf("Expected one result option, got %d", len(client.resultOptions))
	}
	if client.async.(*asyncTransport).client != httpClient {
		t.Error("Expected custom HTTP client on the non-blocking transport")
	}
	if client.metrics.GetRegistry() != registry {
		t.Error("Expected metrics on the supplied registry")
	}
	if !client.debug {
		t.Error("Expected debug to be on")
	}
	if client.requestIDGen() != "fixed" {
		t.Error("Expected custom request id generator")
	}

	client.sink.Emit(context.Background(), Event{Type: EventRequest, Service: "svc"})
	if !strings.Contains(buf.String(), "JSON API CALL") {
		t.Errorf("Expected default sink to use the custom logger, got %q", buf.String())
	}
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		want    string
	}{
		{"zero timeout", []Option{WithDefaultTimeout(0)}, "defaultTimeout must be positive"},
		{"huge timeout", []Option{WithDefaultTimeout(time.Hour)}, "defaultTimeout > 10m"},
		{"negative backoff", []Option{WithBackoffUnit(-time.Second)}, "backoffUnit must be non-negative"},
		{"max below unit", []Option{WithBackoffUnit(time.Minute), WithMaxBackoff(time.Second)}, "maxBackoff must be greater"},
		{"nil logger", []Option{WithLogger(nil)}, "logger cannot be nil"},
		{"nil generator", []Option{WithRequestIDGenerator(nil)}, "requestIDGen cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.options...)
			if client.IsValid() {
				t.Fatal("Expected invalid configuration")
			}
			if !strings.Contains(client.ValidationError().Error(), tt.want) {
				t.Errorf("Expected %q in %v", tt.want, client.ValidationError())
			}
		})
	}
}

func TestClientInvalidateAllAndClose(t *testing.T) {
	client := New()

	_, _ = client.pool.Acquire("a.test", 80, CallOptions{}.poolOptions())
	_, _ = client.pool.Acquire("b.test", 80, CallOptions{}.poolOptions())
	if client.PoolSize() != 2 {
		t.Fatalf("Expected 2 pooled connections, got %d", client.PoolSize())
	}

	client.InvalidateAll()
	if client.PoolSize() != 0 {
		t.Errorf("Expected empty pool, got %d", client.PoolSize())
	}

	if err := client.Close(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}
