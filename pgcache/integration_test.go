//go:build integration

package pgcache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice"
)

const integrationPrefix = "pgcache:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("pgcache:integration_test - DATABASE_URL not set, skipping")
	}
	return url
}

func TestIntegration_StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, testDBEnv(t))
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", integrationPrefix, err)
	}
	defer pool.Close()

	store := New(pool, WithTable("jsonservice_cache_test"))
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("%s - EnsureSchema failed: %v", integrationPrefix, err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS jsonservice_cache_test`)
	})

	key, _ := jsonservice.CacheKey("http://backend.test/svc", jsonservice.Args{"id": 1})
	entry := &jsonservice.CacheEntry{StatusCode: 200, Result: json.RawMessage(`{"id":1}`)}
	if err := store.Set(ctx, key, entry, time.Minute); err != nil {
		t.Fatalf("%s - Set failed: %v", integrationPrefix, err)
	}

	got, found, err := store.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("%s - expected hit, got found=%v err=%v", integrationPrefix, found, err)
	}
	if string(got.Result) != `{"id":1}` {
		t.Errorf("%s - unexpected result %s", integrationPrefix, got.Result)
	}

	if err := store.Set(ctx, "short", entry, time.Millisecond); err != nil {
		t.Fatalf("%s - Set failed: %v", integrationPrefix, err)
	}
	time.Sleep(10 * time.Millisecond)
	if n, err := store.Purge(ctx); err != nil || n != 1 {
		t.Errorf("%s - expected 1 purged row, got %d (%v)", integrationPrefix, n, err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Errorf("%s - Clear failed: %v", integrationPrefix, err)
	}
}
