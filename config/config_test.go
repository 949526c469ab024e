package config

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ambiyansyah-risyal/jsonservice"
)

const configTestPrefix = "config:config_test"

var envVars = []string{
	"LOCATION", "SSL_LOCATION", "SSL_DISABLED", "SITE",
	"SERVICE_PREFIX", "FIELD_PREFIX", "IGNORE_MISSING",
	"CLIENT_CERT", "CLIENT_KEY", "CLIENT_KEY_PASSWORD",
	"TIMEOUT", "RETRIES", "BACKOFF_UNIT", "BACKOFF_STRATEGY", "JSONRPC",
	"MANIFEST_FILE", "CACHE", "CACHE_DATABASE_URL",
	"NATS_URL", "EVENT_SUBJECT", "METRICS_ADDR", "LOG_LEVEL", "DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		key := EnvPrefix + "_" + name
		// Setenv restores the original value on cleanup.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	if cfg.Location != "http://localhost:8080/" {
		t.Errorf("%s - Location = %q, want default", configTestPrefix, cfg.Location)
	}
	if !cfg.SSLDisabled {
		t.Errorf("%s - expected SSLDisabled=true by default", configTestPrefix)
	}
	if cfg.Timeout != time.Second {
		t.Errorf("%s - Timeout = %v, want 1s", configTestPrefix, cfg.Timeout)
	}
	if cfg.Retries != 0 {
		t.Errorf("%s - Retries = %d, want 0", configTestPrefix, cfg.Retries)
	}
	if cfg.EventSubject != "jsonservice.events" {
		t.Errorf("%s - EventSubject = %q, want jsonservice.events", configTestPrefix, cfg.EventSubject)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("%s - LogLevel = %q, want info", configTestPrefix, cfg.LogLevel)
	}
	if cfg.SiteURL() != "http://localhost:8080/" {
		t.Errorf("%s - SiteURL = %q", configTestPrefix, cfg.SiteURL())
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"LOCATION":           "http://agp.local/",
		"SSL_LOCATION":       "https://agp.secure/",
		"SSL_DISABLED":       "false",
		"SITE":               "services/",
		"SERVICE_PREFIX":     "com.example.commands.",
		"FIELD_PREFIX":       "event_",
		"IGNORE_MISSING":     "true",
		"TIMEOUT":            "3s",
		"RETRIES":            "2",
		"BACKOFF_STRATEGY":   "exponential",
		"JSONRPC":            "true",
		"CACHE":              "true",
		"CACHE_DATABASE_URL": "postgres://u@localhost/cache",
		"NATS_URL":           "nats://127.0.0.1:4222",
		"METRICS_ADDR":       ":9100",
		"LOG_LEVEL":          "debug",
	}
	for k, v := range overrides {
		t.Setenv(EnvPrefix+"_"+k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	if cfg.SSLDisabled {
		t.Errorf("%s - expected SSLDisabled=false", configTestPrefix)
	}
	if cfg.Timeout != 3*time.Second || cfg.Retries != 2 {
		t.Errorf("%s - Timeout/Retries = %v/%d", configTestPrefix, cfg.Timeout, cfg.Retries)
	}
	if !cfg.IgnoreMissing || !cfg.JSONRPC || !cfg.Cache {
		t.Errorf("%s - expected boolean overrides to apply: %+v", configTestPrefix, cfg)
	}
	if cfg.CacheDatabaseURL != "postgres://u@localhost/cache" || cfg.NATSURL != "nats://127.0.0.1:4222" || cfg.MetricsAddr != ":9100" {
		t.Errorf("%s - unexpected external endpoints: %+v", configTestPrefix, cfg)
	}
	if cfg.SiteURL() != "https://agp.secure/services/" {
		t.Errorf("%s - SiteURL = %q", configTestPrefix, cfg.SiteURL())
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Errorf("%s - expected error for unparsable duration", configTestPrefix)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Location: "http://agp.local/", SSLDisabled: true, Timeout: time.Second, LogLevel: "info"}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad location", func(c *Config) { c.Location = "agp.local" }, "LOCATION"},
		{"missing ssl location", func(c *Config) { c.SSLDisabled = false }, "SSL_LOCATION is required"},
		{"bad ssl location", func(c *Config) { c.SSLDisabled = false; c.SSLLocation = "ftp://x/" }, "SSL_LOCATION must be"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "TIMEOUT must be positive"},
		{"negative retries", func(c *Config) { c.Retries = -1 }, "RETRIES"},
		{"negative backoff", func(c *Config) { c.BackoffUnit = -time.Second }, "BACKOFF_UNIT"},
		{"cert without key", func(c *Config) { c.ClientCert = "cert.pem" }, "CLIENT_CERT and CLIENT_KEY"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("%s - expected valid config, got %v", configTestPrefix, err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("%s - expected %q in %v", configTestPrefix, tt.want, err)
			}
		})
	}
}

func TestSiteURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"plain relative", Config{Location: "http://agp.local/", SSLDisabled: true, Site: "testjsonservices/"}, "http://agp.local/testjsonservices/"},
		{"leading slash", Config{Location: "http://agp.local", SSLDisabled: true, Site: "/svc/"}, "http://agp.local/svc/"},
		{"already absolute", Config{Location: "http://agp.local/", SSLDisabled: true, Site: "http://agp.local/svc/"}, "http://agp.local/svc/"},
		{"ssl relative", Config{Location: "http://agp.local/", SSLLocation: "https://agp.secure/", Site: "svc/"}, "https://agp.secure/svc/"},
		{"ssl strips plain location", Config{Location: "http://agp.local/", SSLLocation: "https://agp.secure/", Site: "http://agp.local/svc/"}, "https://agp.secure/svc/"},
		{"ssl strips ssl location", Config{Location: "http://agp.local/", SSLLocation: "https://agp.secure/", Site: "https://agp.secure/svc/"}, "https://agp.secure/svc/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.SiteURL(); got != tt.want {
				t.Errorf("%s - SiteURL = %q, want %q", configTestPrefix, got, tt.want)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Config{
		Location:        "http://agp.local/",
		SSLDisabled:     true,
		Timeout:         2 * time.Second,
		BackoffUnit:     10 * time.Millisecond,
		BackoffStrategy: "constant",
		FieldPrefix:     "event_",
		Cache:           true,
		LogLevel:        "warn",
	}

	var buf bytes.Buffer
	client := jsonservice.New(cfg.ClientOptions(cfg.LoggerTo(&buf))...)
	if !client.IsValid() {
		t.Fatalf("%s - expected valid client, got %v", configTestPrefix, client.ValidationError())
	}
	if opts := cfg.ResultOptions(); len(opts) != 1 {
		t.Errorf("%s - expected one result option, got %d", configTestPrefix, len(opts))
	}

	logger := cfg.LoggerTo(&buf)
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("%s - expected warn level logger, got %q", configTestPrefix, buf.String())
	}
}

func TestNewRegistry(t *testing.T) {
	cfg := Config{
		Location:      "http://agp.local/",
		SSLDisabled:   true,
		Site:          "svc/",
		ServicePrefix: "com.example.commands.",
		Timeout:       2 * time.Second,
		Retries:       1,
	}

	reg := cfg.NewRegistry(jsonservice.New())
	svc, err := reg.Define(jsonservice.ServiceDefinition{Name: "find", Path: "user.find", Encrypted: true})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	if svc.Endpoint() != "http://agp.local/svc/com.example.commands.user.find" {
		t.Errorf("%s - Endpoint = %q", configTestPrefix, svc.Endpoint())
	}
	opts := svc.CallOptions()
	if opts.Encrypted {
		t.Errorf("%s - expected encryption off when SSL is disabled", configTestPrefix)
	}
	if opts.Timeout != 2*time.Second || opts.Retries != 1 {
		t.Errorf("%s - expected config defaults, got %+v", configTestPrefix, opts)
	}
}
