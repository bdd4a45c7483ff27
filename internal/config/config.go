// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/linkmeta/internal/extract"
)

// EnvPrefix namespaces environment overrides, e.g. LINKMETA_CACHE_CAPACITY.
const EnvPrefix = "LINKMETA"

// DefaultUserAgent identifies outbound requests.
const DefaultUserAgent = "linkmeta/1.0 (+https://github.com/JakeFAU/linkmeta)"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	OEmbed    OEmbedConfig    `mapstructure:"oembed"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Address        string        `mapstructure:"address"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Addr is the listen address for http.Server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ResolverConfig governs the main page fetch and redirect handling.
type ResolverConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DefaultMaxAge time.Duration `mapstructure:"default_max_age"`
	FindParams    []string      `mapstructure:"find_params"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
}

// ExtractConfig bounds the manifest and oEmbed side-fetches.
type ExtractConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// CacheConfig sizes the metadata cache.
type CacheConfig struct {
	Capacity   int           `mapstructure:"capacity"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxStale   time.Duration `mapstructure:"max_stale"`
}

// RateLimitConfig enables per-host outbound throttling.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
	MaxHosts     int     `mapstructure:"max_hosts"`
}

// OEmbedConfig lists fallback oEmbed endpoints.
type OEmbedConfig struct {
	Providers []extract.Provider `mapstructure:"providers"`
}

// Load builds a Config from .env, an optional config file and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PaaS platforms hand the listen port over as a bare PORT.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.address", "")
	v.SetDefault("server.enable_cors", false)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("resolver.user_agent", DefaultUserAgent)
	v.SetDefault("resolver.max_redirects", 5)
	v.SetDefault("resolver.timeout", 10*time.Second)
	v.SetDefault("resolver.default_max_age", 10*time.Minute)
	v.SetDefault("resolver.find_params", []string{"magnet_twitter_username"})
	v.SetDefault("resolver.max_body_bytes", 10<<20)
	v.SetDefault("extract.fetch_timeout", 3*time.Second)
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.default_ttl", 10*time.Minute)
	v.SetDefault("cache.max_stale", 2*time.Hour)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 4)
	v.SetDefault("rate_limit.max_hosts", 1024)

	providers := make([]map[string]any, 0, len(extract.DefaultProviders))
	for _, p := range extract.DefaultProviders {
		providers = append(providers, map[string]any{"host": p.Host, "endpoint": p.Endpoint})
	}
	v.SetDefault("oembed.providers", providers)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Resolver.UserAgent == "" {
		return fmt.Errorf("resolver.user_agent must be set")
	}
	if c.Resolver.MaxRedirects < 0 {
		return fmt.Errorf("resolver.max_redirects must be >= 0")
	}
	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("resolver.timeout must be > 0")
	}
	if c.Resolver.MaxBodyBytes <= 0 {
		return fmt.Errorf("resolver.max_body_bytes must be > 0")
	}
	if c.Resolver.DefaultMaxAge <= 0 {
		return fmt.Errorf("resolver.default_max_age must be > 0")
	}
	if c.Extract.FetchTimeout <= 0 {
		return fmt.Errorf("extract.fetch_timeout must be > 0")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be >= 0")
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be > 0")
	}
	if c.Cache.MaxStale <= 0 {
		return fmt.Errorf("cache.max_stale must be > 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.DefaultRPS <= 0 || c.RateLimit.DefaultBurst <= 0) {
		return fmt.Errorf("rate_limit.default_rps and rate_limit.default_burst must be > 0 when rate limiting is enabled")
	}
	for i, p := range c.OEmbed.Providers {
		if p.Host == "" || !strings.Contains(p.Endpoint, "%s") {
			return fmt.Errorf("oembed.providers[%d] needs a host and an endpoint containing %%s", i)
		}
	}
	return nil
}
