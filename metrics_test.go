package jsonservice

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.callsTotal == nil || collector.callDuration == nil || collector.callsInFlight == nil {
		t.Error("call metrics not initialized")
	}
	if collector.cacheHits == nil || collector.cacheMisses == nil || collector.cacheErrors == nil {
		t.Error("cache metrics not initialized")
	}
	if collector.GetRegistry() != registry {
		t.Error("Expected GetRegistry to return the supplied registerer")
	}
}

func TestMetricsCollectorNilReceiver(t *testing.T) {
	var mc *MetricsCollector

	mc.RecordCall("svc", "success", time.Second)
	mc.RecordCallStart("svc")
	mc.RecordCallEnd("svc")
	mc.RecordAttempt("svc", 200)
	mc.RecordRetry("svc", "timeout")
	mc.RecordCacheHit("svc")
	mc.RecordCacheMiss("svc")
	mc.RecordCacheError("get")
	mc.RecordPoolSize(3)
	mc.RecordError(KindTimeout, "svc")

	if mc.GetRegistry() != nil {
		t.Error("Expected nil registry from nil collector")
	}
}

func TestMetricsCollectorRecords(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordCall("host/svc", "success", 20*time.Millisecond)
	collector.RecordAttempt("host/svc", 200)
	collector.RecordAttempt("host/svc", 0)
	collector.RecordRetry("host/svc", "refused")
	collector.RecordCacheHit("host/svc")
	collector.RecordCacheMiss("host/svc")
	collector.RecordCacheError("set")
	collector.RecordPoolSize(4)
	collector.RecordError(KindService, "host/svc")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"calls", testutil.ToFloat64(collector.callsTotal.WithLabelValues("host/svc", "success")), 1},
		{"attempts 200", testutil.ToFloat64(collector.attemptsTotal.WithLabelValues("host/svc", "200")), 1},
		{"attempts 0", testutil.ToFloat64(collector.attemptsTotal.WithLabelValues("host/svc", "0")), 1},
		{"retries", testutil.ToFloat64(collector.retriesTotal.WithLabelValues("host/svc", "refused")), 1},
		{"cache hits", testutil.ToFloat64(collector.cacheHits.WithLabelValues("host/svc")), 1},
		{"cache misses", testutil.ToFloat64(collector.cacheMisses.WithLabelValues("host/svc")), 1},
		{"cache errors", testutil.ToFloat64(collector.cacheErrors.WithLabelValues("set")), 1},
		{"pool", testutil.ToFloat64(collector.poolSize), 4},
		{"errors", testutil.ToFloat64(collector.errorsTotal.WithLabelValues("Service", "host/svc")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestMetricsCollectorInFlight(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordCallStart("svc")
	collector.RecordCallStart("svc")
	collector.RecordCallEnd("svc")

	if got := testutil.ToFloat64(collector.callsInFlight.WithLabelValues("svc")); got != 1 {
		t.Errorf("Expected 1 call in flight, got %v", got)
	}
}

func TestClientRecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":1}`)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	client := newTestClient(WithMetricsRegistry(registry), WithCache())
	mc := client.metrics

	opts := CallOptions{CachedFor: time.Minute}
	for i := 0; i < 2; i++ {
		if _, err := client.Call(context.Background(), server.URL+"/svc", nil, opts); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	label := serviceLabel(server.URL + "/svc")
	if got := testutil.ToFloat64(mc.callsTotal.WithLabelValues(label, "success")); got != 2 {
		t.Errorf("Expected 2 successful calls, got %v", got)
	}
	if got := testutil.ToFloat64(mc.attemptsTotal.WithLabelValues(label, "200")); got != 1 {
		t.Errorf("Expected 1 attempt, got %v", got)
	}
	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues(label)); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(mc.poolSize); got != 1 {
		t.Errorf("Expected pool gauge of 1, got %v", got)
	}
	if got := testutil.ToFloat64(mc.callsInFlight.WithLabelValues(label)); got != 0 {
		t.Errorf("Expected no calls in flight, got %v", got)
	}

	_, _ = client.Call(context.Background(), "http://127.0.0.1:1/down", nil, CallOptions{})
	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(string(KindBackendUnavailable), "127.0.0.1:1/down")); got != 1 {
		t.Errorf("Expected 1 BackendUnavailable error, got %v", got)
	}
}

func TestServiceLabel(t *testing.T) {
	tests := map[string]string{
		"http://host:8080/com.example.user.find?x=1": "host:8080/com.example.user.find",
		"https://user:pw@host/svc":                   "host/svc",
		"not a url":                                  "not a url",
	}
	for in, want := range tests {
		if got := serviceLabel(in); got != want {
			t.Errorf("serviceLabel(%q): expected %q, got %q", in, want, got)
		}
	}
}
