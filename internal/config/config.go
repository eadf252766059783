// Package config handles loading and validating router configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/airouter/internal/provider"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels so that single underscores can stay inside key
// names: AIROUTER_SERVER__UPSTREAM_TIMEOUT -> server.upstream_timeout.
const EnvPrefix = "AIROUTER_"

// Config is the top-level configuration for the airouter service.
type Config struct {
	Server       ServerConfig              `koanf:"server"`
	Log          LogConfig                 `koanf:"log"`
	DefaultModel string                    `koanf:"default_model"`
	Providers    map[string]ProviderConfig `koanf:"providers"`
	Models       []ModelConfig             `koanf:"models"`
	Telemetry    TelemetryConfig           `koanf:"telemetry"`
	Auth         AuthConfig                `koanf:"auth"`
	Metrics      MetricsConfig             `koanf:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	UpstreamTimeout time.Duration `koanf:"upstream_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// ProviderConfig holds the settings for a single upstream provider.
// AppURL and AppName are only sent by OpenRouter (as HTTP-Referer / X-Title).
type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	AppURL  string `koanf:"app_url"`
	AppName string `koanf:"app_name"`
}

// ModelConfig adds (or overrides) a catalog entry.
type ModelConfig struct {
	Key      string `koanf:"key"`
	Provider string `koanf:"provider"`
	ID       string `koanf:"id"`
}

// TelemetryConfig selects where review events go and how they get there.
type TelemetryConfig struct {
	Enabled    bool           `koanf:"enabled"`
	Store      string         `koanf:"store"` // none | memory | rest | postgres | sqlite
	SummaryCap int            `koanf:"summary_cap"`
	Workers    int            `koanf:"workers"`
	QueueSize  int            `koanf:"queue_size"`
	Timeout    time.Duration  `koanf:"timeout"`
	REST       RESTConfig     `koanf:"rest"`
	Database   DatabaseConfig `koanf:"database"`
	Cache      CacheConfig    `koanf:"cache"`
}

// RESTConfig points at a hosted PostgREST endpoint (Supabase).
type RESTConfig struct {
	URL        string `koanf:"url"`
	ServiceKey string `koanf:"service_key"`
}

// DatabaseConfig is used by the postgres and sqlite stores.
type DatabaseConfig struct {
	Driver      string `koanf:"driver"`
	DSN         string `koanf:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// CacheConfig picks the (user, day) -> session id cache.
type CacheConfig struct {
	Kind  string        `koanf:"kind"` // memory | redis
	Size  int           `koanf:"size"`
	TTL   time.Duration `koanf:"ttl"`
	Redis RedisConfig   `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// AuthConfig enables bearer-token checks on telemetry identities.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, fills in defaults, and validates the result.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	// The "." delimiter tells koanf how to separate nested keys
	// internally (e.g., "server.port").
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. The callback turns the env var
	// name into a koanf key path:
	//   AIROUTER_SERVER__PORT            -> server.port
	//   AIROUTER_TELEMETRY__CACHE__KIND  -> telemetry.cache.kind
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(
		strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
		"__", ".",
	)
}

// expandEnv resolves ${VAR_NAME} placeholders in every secret and URL
// field. koanf doesn't do this automatically.
func (c *Config) expandEnv() {
	for name, p := range c.Providers {
		p.APIKey = expand(p.APIKey)
		p.BaseURL = expand(p.BaseURL)
		p.AppURL = expand(p.AppURL)
		p.AppName = expand(p.AppName)
		c.Providers[name] = p // write back into the map
	}
	c.Telemetry.REST.URL = expand(c.Telemetry.REST.URL)
	c.Telemetry.REST.ServiceKey = expand(c.Telemetry.REST.ServiceKey)
	c.Telemetry.Database.DSN = expand(c.Telemetry.Database.DSN)
	c.Telemetry.Cache.Redis.Addr = expand(c.Telemetry.Cache.Redis.Addr)
	c.Telemetry.Cache.Redis.Password = expand(c.Telemetry.Cache.Redis.Password)
	c.Auth.JWTSecret = expand(c.Auth.JWTSecret)
}

// expand replaces a whole-value ${VAR} placeholder with the variable's
// value. Anything else is returned unchanged.
func expand(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.UpstreamTimeout == 0 {
		c.Server.UpstreamTimeout = 60 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 4 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-oss-20b"
	}

	t := &c.Telemetry
	if t.Store == "" {
		t.Store = "memory"
	}
	if t.SummaryCap == 0 {
		t.SummaryCap = 1000
	}
	if t.Workers == 0 {
		t.Workers = 4
	}
	if t.QueueSize == 0 {
		t.QueueSize = 256
	}
	if t.Timeout == 0 {
		t.Timeout = 10 * time.Second
	}
	if t.Cache.Kind == "" {
		t.Cache.Kind = "memory"
	}
	if t.Cache.Size == 0 {
		t.Cache.Size = 4096
	}
	if t.Cache.TTL == 0 {
		t.Cache.TTL = 26 * time.Hour
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate rejects settings the router cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for name := range c.Providers {
		if _, err := provider.ParseKind(name); err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
	}
	if _, err := c.ModelEntries(); err != nil {
		return err
	}

	switch c.Telemetry.Store {
	case "none", "memory":
	case "rest":
		if c.Telemetry.REST.URL == "" || c.Telemetry.REST.ServiceKey == "" {
			return fmt.Errorf("telemetry.rest: url and service_key are required for the rest store")
		}
	case "postgres", "sqlite":
		if c.Telemetry.Database.DSN == "" {
			return fmt.Errorf("telemetry.database.dsn is required for the %s store", c.Telemetry.Store)
		}
	default:
		return fmt.Errorf("telemetry.store %q: want none, memory, rest, postgres or sqlite", c.Telemetry.Store)
	}

	switch c.Telemetry.Cache.Kind {
	case "memory":
	case "redis":
		if c.Telemetry.Cache.Redis.Addr == "" {
			return fmt.Errorf("telemetry.cache.redis.addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("telemetry.cache.kind %q: want memory or redis", c.Telemetry.Cache.Kind)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// ModelEntries converts the models section into catalog descriptors.
func (c *Config) ModelEntries() ([]provider.ModelDescriptor, error) {
	out := make([]provider.ModelDescriptor, 0, len(c.Models))
	for i, m := range c.Models {
		kind, err := provider.ParseKind(m.Provider)
		if err != nil {
			return nil, fmt.Errorf("models[%d] (%s): %w", i, m.Key, err)
		}
		out = append(out, provider.ModelDescriptor{Key: m.Key, Provider: kind, ProviderModelID: m.ID})
	}
	return out, nil
}

// Provider returns the settings for kind, or the zero value when the
// provider has no section.
func (c *Config) Provider(kind provider.Kind) ProviderConfig {
	return c.Providers[kind.String()]
}
