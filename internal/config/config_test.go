package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/linkmeta/internal/extract"
)

// clearPortEnv keeps a PORT from the host environment out of the assertions.
func clearPortEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "")
	t.Setenv("LINKMETA_SERVER_PORT", "")
}

func TestLoadDefaults(t *testing.T) {
	clearPortEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Fatalf("expected port 3000, got %d", cfg.Server.Port)
	}
	if got := cfg.Server.Addr(); got != ":3000" {
		t.Fatalf("expected addr :3000, got %q", got)
	}
	if cfg.Resolver.UserAgent != DefaultUserAgent || cfg.Resolver.MaxRedirects != 5 {
		t.Fatalf("unexpected resolver defaults: %+v", cfg.Resolver)
	}
	if cfg.Resolver.Timeout != 10*time.Second || cfg.Resolver.DefaultMaxAge != 10*time.Minute {
		t.Fatalf("unexpected resolver durations: %+v", cfg.Resolver)
	}
	if len(cfg.Resolver.FindParams) != 1 || cfg.Resolver.FindParams[0] != "magnet_twitter_username" {
		t.Fatalf("unexpected find params: %v", cfg.Resolver.FindParams)
	}
	if cfg.Resolver.MaxBodyBytes != 10<<20 {
		t.Fatalf("expected 10MiB body cap, got %d", cfg.Resolver.MaxBodyBytes)
	}
	if cfg.RateLimit.MaxHosts != 1024 {
		t.Fatalf("expected 1024 tracked hosts, got %d", cfg.RateLimit.MaxHosts)
	}
	if cfg.Extract.FetchTimeout != 3*time.Second {
		t.Fatalf("expected 3s fetch timeout, got %v", cfg.Extract.FetchTimeout)
	}
	if cfg.Cache.Capacity != 1000 || cfg.Cache.MaxStale != 2*time.Hour {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.RateLimit.Enabled {
		t.Fatalf("rate limiting should be off by default")
	}
	if len(cfg.OEmbed.Providers) != len(extract.DefaultProviders) {
		t.Fatalf("expected default oembed providers, got %+v", cfg.OEmbed.Providers)
	}
	if cfg.OEmbed.Providers[0] != extract.DefaultProviders[0] {
		t.Fatalf("expected %+v, got %+v", extract.DefaultProviders[0], cfg.OEmbed.Providers[0])
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	clearPortEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  address: 127.0.0.1
  enable_cors: true
  request_timeout: 30s
logging:
  development: false
resolver:
  user_agent: custom-agent
  max_redirects: 2
  timeout: 4s
  default_max_age: 1m
  find_params: [ref, magnet_twitter_username]
  max_body_bytes: 2048
extract:
  fetch_timeout: 1500ms
cache:
  capacity: 50
  default_ttl: 30s
  max_stale: 1h
rate_limit:
  enabled: true
  default_rps: 0.5
  default_burst: 1
oembed:
  providers:
    - host: vimeo.com
      endpoint: https://vimeo.com/api/oembed.json?url=%s
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9090" || !cfg.Server.EnableCORS {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s request timeout, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Resolver.UserAgent != "custom-agent" || cfg.Resolver.MaxRedirects != 2 || cfg.Resolver.Timeout != 4*time.Second {
		t.Fatalf("expected resolver overrides, got %+v", cfg.Resolver)
	}
	if cfg.Resolver.MaxBodyBytes != 2048 {
		t.Fatalf("expected body cap override, got %d", cfg.Resolver.MaxBodyBytes)
	}
	if len(cfg.Resolver.FindParams) != 2 || cfg.Resolver.FindParams[0] != "ref" {
		t.Fatalf("expected find params override, got %v", cfg.Resolver.FindParams)
	}
	if cfg.Extract.FetchTimeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s fetch timeout, got %v", cfg.Extract.FetchTimeout)
	}
	if cfg.Cache.Capacity != 50 || cfg.Cache.DefaultTTL != 30*time.Second || cfg.Cache.MaxStale != time.Hour {
		t.Fatalf("expected cache overrides, got %+v", cfg.Cache)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.DefaultRPS != 0.5 || cfg.RateLimit.DefaultBurst != 1 {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.RateLimit)
	}
	want := extract.Provider{Host: "vimeo.com", Endpoint: "https://vimeo.com/api/oembed.json?url=%s"}
	if len(cfg.OEmbed.Providers) != 1 || cfg.OEmbed.Providers[0] != want {
		t.Fatalf("expected provider override, got %+v", cfg.OEmbed.Providers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearPortEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("LINKMETA_CACHE_CAPACITY", "5")
	t.Setenv("LINKMETA_RESOLVER_TIMEOUT", "2s")
	t.Setenv("LINKMETA_RATE_LIMIT_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected PORT to set the port, got %d", cfg.Server.Port)
	}
	if cfg.Cache.Capacity != 5 || cfg.Resolver.Timeout != 2*time.Second || !cfg.RateLimit.Enabled {
		t.Fatalf("expected env overrides, got %+v %+v %+v", cfg.Cache, cfg.Resolver, cfg.RateLimit)
	}

	t.Setenv("LINKMETA_SERVER_PORT", "9000")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected LINKMETA_SERVER_PORT to win over PORT, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 3000, RequestTimeout: time.Minute},
		Resolver: ResolverConfig{UserAgent: "ua", MaxRedirects: 5, Timeout: time.Second, DefaultMaxAge: time.Minute, MaxBodyBytes: 1024},
		Extract:  ExtractConfig{FetchTimeout: time.Second},
		Cache:    CacheConfig{Capacity: 10, DefaultTTL: time.Minute, MaxStale: time.Hour},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
		{"missing user agent", func(c *Config) { c.Resolver.UserAgent = "" }, "resolver.user_agent"},
		{"negative redirects", func(c *Config) { c.Resolver.MaxRedirects = -1 }, "resolver.max_redirects"},
		{"invalid resolver timeout", func(c *Config) { c.Resolver.Timeout = 0 }, "resolver.timeout"},
		{"invalid max age", func(c *Config) { c.Resolver.DefaultMaxAge = 0 }, "resolver.default_max_age"},
		{"invalid body cap", func(c *Config) { c.Resolver.MaxBodyBytes = 0 }, "resolver.max_body_bytes"},
		{"invalid fetch timeout", func(c *Config) { c.Extract.FetchTimeout = 0 }, "extract.fetch_timeout"},
		{"negative capacity", func(c *Config) { c.Cache.Capacity = -1 }, "cache.capacity"},
		{"invalid ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }, "cache.default_ttl"},
		{"invalid max stale", func(c *Config) { c.Cache.MaxStale = 0 }, "cache.max_stale"},
		{"rate limit without rps", func(c *Config) { c.RateLimit.Enabled = true }, "rate_limit.default_rps"},
		{
			"provider without placeholder",
			func(c *Config) { c.OEmbed.Providers = []extract.Provider{{Host: "x.test", Endpoint: "https://x.test/oembed"}} },
			"oembed.providers[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
