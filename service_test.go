package jsonservice

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice/dynamic"
)

const testPrefix = "com.example.commands."

func TestSplitServicePath(t *testing.T) {
	tests := []struct {
		path         string
		wantPrefix   string
		wantInternal string
	}{
		{"find", testPrefix, "find"},
		{"user.find", testPrefix, "user.find"},
		{"com.example.event.details", "com.example.", "event.details"},
		{"a.b.c", "a.", "b.c"},
		{"org.acme.billing.invoice.create", "org.acme.billing.", "invoice.create"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			prefix, internal := splitServicePath(tt.path, testPrefix)
			if prefix != tt.wantPrefix || internal != tt.wantInternal {
				t.Errorf("Expected (%q, %q), got (%q, %q)", tt.wantPrefix, tt.wantInternal, prefix, internal)
			}
		})
	}
}

func TestRegistryDefine(t *testing.T) {
	reg := NewRegistry(New(), "http://backend.test/", testPrefix)

	short, err := reg.Define(ServiceDefinition{Name: "find_user", Path: "user.find"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if short.Endpoint() != "http://backend.test/com.example.commands.user.find" {
		t.Errorf("Unexpected endpoint %s", short.Endpoint())
	}
	if short.InternalName() != "user.find" {
		t.Errorf("Expected internal name user.find, got %s", short.InternalName())
	}

	long, _ := reg.Define(ServiceDefinition{Name: "details", Path: "com.example.event.details"})
	if long.Endpoint() != "http://backend.test/com.example.event.details" {
		t.Errorf("Unexpected endpoint %s", long.Endpoint())
	}

	if _, err := reg.Define(ServiceDefinition{Name: "find_user", Path: "user.other"}); !errors.Is(err, ErrDuplicateService) {
		t.Errorf("Expected duplicate error, got %v", err)
	}
	if _, err := reg.Define(ServiceDefinition{Path: "x.y"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for missing name, got %v", err)
	}
	if _, err := reg.Define(ServiceDefinition{Name: "nopath"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for missing path, got %v", err)
	}

	got, err := reg.Lookup("details")
	if err != nil || got != long {
		t.Errorf("Expected lookup to return the defined service, got %v %v", got, err)
	}
	if _, err := reg.Lookup("missing"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("Expected unknown service error, got %v", err)
	}

	names := reg.Services()
	if len(names) != 2 || names[0] != "find_user" || names[1] != "details" {
		t.Errorf("Expected definition order, got %v", names)
	}
	sorted := reg.SortedServices()
	if sorted[0] != "details" {
		t.Errorf("Expected alphabetical order, got %v", sorted)
	}
}

func TestServiceCallOptions(t *testing.T) {
	reg := NewRegistry(New(), "http://backend.test/", testPrefix)

	cached, _ := reg.Define(ServiceDefinition{Name: "cached", Path: "a.b", Cached: true})
	if cached.CallOptions().CachedFor != DefaultCacheTime {
		t.Errorf("Expected default cache time %v, got %v", DefaultCacheTime, cached.CallOptions().CachedFor)
	}

	custom, _ := reg.Define(ServiceDefinition{
		Name:      "custom",
		Path:      "a.c",
		Cached:    true,
		CacheTime: time.Minute,
		Encrypted: true,
		Timeout:   2 * time.Second,
		Retries:   RetryCount(3),
	})
	opts := custom.CallOptions()
	if opts.CachedFor != time.Minute || !opts.Encrypted || opts.Timeout != 2*time.Second || opts.Retries != 3 {
		t.Errorf("Unexpected call options %+v", opts)
	}

	plain, _ := reg.Define(ServiceDefinition{Name: "plain", Path: "a.d", CacheTime: time.Minute})
	if plain.CallOptions().CachedFor != 0 {
		t.Error("Expected uncached service to ignore CacheTime")
	}
}

func TestServiceNormalize(t *testing.T) {
	reg := NewRegistry(New(), "http://backend.test/", testPrefix)
	svc, _ := reg.Define(ServiceDefinition{
		Name:     "find",
		Path:     "com.example.user.find",
		Defaults: Args{"limit": 10, "sort": "name"},
		Required: []string{"id"},
	})

	in := Args{"id": 5, "sort": ""}
	out, err := svc.Normalize(in)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out["limit"] != 10 || out["sort"] != "name" || out["id"] != 5 {
		t.Errorf("Expected defaults to fill blanks, got %v", out)
	}
	if _, ok := in["limit"]; ok || in["sort"] != "" {
		t.Errorf("Expected caller's args to be untouched, got %v", in)
	}

	_, err = svc.Normalize(Args{"id": "  "})
	var callErr *Error
	if !errors.As(err, &callErr) || callErr.Kind != KindRequiredArgument {
		t.Fatalf("Expected required argument error, got %v", err)
	}
	if callErr.Message != "Required field id wasn't supplied" {
		t.Errorf("Unexpected message %q", callErr.Message)
	}
	if callErr.Code != "0" || callErr.Service != "user.find" {
		t.Errorf("Expected code 0 and service user.find, got %q %q", callErr.Code, callErr.Service)
	}
}

func TestServiceMissingRequiredMakesNoCall(t *testing.T) {
	server := newBackend(t, http.StatusOK, `{}`)
	reg := NewRegistry(newTestClient(), server.URL+"/", testPrefix)
	svc, _ := reg.Define(ServiceDefinition{Name: "find", Path: "user.find", Required: []string{"id"}})

	if _, err := svc.Call(context.Background(), nil); !errors.Is(err, ErrRequiredArgument) {
		t.Errorf("Expected required argument error, got %v", err)
	}
	if err := svc.Go(context.Background(), nil).Wait().Err; !errors.Is(err, ErrRequiredArgument) {
		t.Errorf("Expected required argument error from Go, got %v", err)
	}
	if _, err := svc.CallRaw(context.Background(), Args{}); !errors.Is(err, ErrRequiredArgument) {
		t.Errorf("Expected required argument error from CallRaw, got %v", err)
	}

	done := make(chan error, 1)
	svc.CallAsync(context.Background(), nil, func(_ *dynamic.Value, err error) { done <- err })
	if err := <-done; !errors.Is(err, ErrRequiredArgument) {
		t.Errorf("Expected required argument error from CallAsync, got %v", err)
	}

	if server.calls.Load() != 0 {
		t.Errorf("Expected no backend calls, got %d", server.calls.Load())
	}
}

func TestServiceCall(t *testing.T) {
	server := newBackend(t, http.StatusOK, `{"userName":"ann","startDate":0}`)
	reg := NewRegistry(newTestClient(), server.URL+"/", testPrefix)
	svc, _ := reg.Define(ServiceDefinition{Name: "find", Path: "user.find", Defaults: Args{"limit": 10}})

	v, err := svc.Call(context.Background(), Args{"id": 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if name, _ := v.Str("user_name"); name != "ann" {
		t.Errorf("Expected underscored lookup of userName, got %q", name)
	}
	if got := server.args()["limit"]; got != float64(10) {
		t.Errorf("Expected default limit to be sent, got %#v", got)
	}

	out := svc.Go(context.Background(), Args{"id": 1}).Wait()
	if out.Err != nil || out.Value == nil {
		t.Errorf("Expected async success, got %v", out.Err)
	}
}

func TestServiceCachedDefinition(t *testing.T) {
	server := newBackend(t, http.StatusOK, `{"ok":1}`)
	reg := NewRegistry(newTestClient(WithCache()), server.URL+"/", testPrefix)
	svc, _ := reg.Define(ServiceDefinition{Name: "cached", Path: "a.b", Cached: true})

	for i := 0; i < 3; i++ {
		if _, err := svc.Call(context.Background(), Args{"q": "x"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if server.calls.Load() != 1 {
		t.Errorf("Expected one backend call, got %d", server.calls.Load())
	}
}

func TestFakeService(t *testing.T) {
	reg := NewRegistry(nil, "http://backend.test/", testPrefix)

	ping, err := reg.Fake("ping", `{"ok":1,"hasData":true}`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	v, err := ping.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok, _ := v.Int("ok"); ok != 1 {
		t.Errorf("Expected ok=1, got %d", ok)
	}
	if data, _ := v.Get("data?"); data != true {
		t.Errorf("Expected data?=true, got %v", data)
	}
	if ping.Endpoint() != "" {
		t.Errorf("Expected fake service without endpoint, got %q", ping.Endpoint())
	}

	broken, _ := reg.Fake("broken", `{"PCode":77,"message":"nope"}`)
	_, err = broken.Call(context.Background(), nil)
	var callErr *Error
	if !errors.As(err, &callErr) || callErr.Kind != KindService || callErr.Code != "77" || callErr.Message != "nope" {
		t.Errorf("Expected service error from fake, got %v", err)
	}
	if out := broken.Go(context.Background(), nil).Wait(); !errors.Is(out.Err, ErrService) {
		t.Errorf("Expected service error from fake Go, got %v", out.Err)
	}

	raw, err := broken.CallRaw(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if raw.(map[string]any)["message"] != "nope" {
		t.Errorf("Expected raw payload, got %v", raw)
	}

	done := make(chan error, 1)
	broken.CallAsync(context.Background(), nil, func(_ *dynamic.Value, err error) { done <- err })
	if err := <-done; !errors.Is(err, ErrService) {
		t.Errorf("Expected service error from fake CallAsync, got %v", err)
	}

	if _, err := reg.Fake("bad", `{`); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected decode error for invalid fake JSON, got %v", err)
	}
	if _, err := reg.Fake("ping", `{}`); !errors.Is(err, ErrDuplicateService) {
		t.Errorf("Expected duplicate error, got %v", err)
	}
}

func TestIsBlank(t *testing.T) {
	var nilMap map[string]any
	var nilPtr *int
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"spaces", "  ", true},
		{"false", false, true},
		{"empty slice", []any{}, true},
		{"nil map", nilMap, true},
		{"nil pointer", nilPtr, true},
		{"zero", 0, false},
		{"true", true, false},
		{"text", "x", false},
		{"list", []any{1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBlank(tt.v); got != tt.want {
				t.Errorf("Expected isBlank=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestRegistryDefaultsAndDisableTLS(t *testing.T) {
	reg := NewRegistry(New(), "http://backend.test/", testPrefix)
	reg.SetDefaults(CallOptions{AuthCert: "client.pem", AuthKey: "client.key", Timeout: 3 * time.Second, Retries: 2})

	plain, _ := reg.Define(ServiceDefinition{Name: "plain", Path: "a.b", Encrypted: true})
	opts := plain.CallOptions()
	if opts.AuthCert != "client.pem" || opts.Timeout != 3*time.Second || opts.Retries != 2 {
		t.Errorf("Expected registry defaults, got %+v", opts)
	}
	if !opts.Encrypted {
		t.Error("Expected encryption before DisableTLS")
	}

	own, _ := reg.Define(ServiceDefinition{Name: "own", Path: "a.c", AuthCert: "own.pem", AuthKey: "own.key", Timeout: time.Second, Retries: RetryCount(1)})
	opts = own.CallOptions()
	if opts.AuthCert != "own.pem" || opts.Timeout != time.Second || opts.Retries != 1 {
		t.Errorf("Expected definition values to win, got %+v", opts)
	}

	none, _ := reg.Define(ServiceDefinition{Name: "none", Path: "a.d", Retries: RetryCount(0)})
	if got := none.CallOptions().Retries; got != 0 {
		t.Errorf("Expected an explicit zero to override the registry default, got %d", got)
	}

	reg.DisableTLS()
	if plain.CallOptions().Encrypted {
		t.Error("Expected DisableTLS to turn encryption off")
	}
}
