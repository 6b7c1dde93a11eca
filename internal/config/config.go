// Package config loads the Run Engine's deployment configuration: store
// backend selection, default run limits, backpressure sizing, auth
// provider registration, and the HTTP boundary's bind address. Loading
// follows loader.go's $include-resolving, environment-expanding pattern;
// this file owns the Config shape, defaulting, and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the single decoded configuration tree for a Run Engine
// deployment (SPEC_FULL.md's ambient Configuration section).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Cron    CronConfig    `yaml:"cron"`
}

// ServerConfig controls the HTTP/SSE boundary (spec §6, C9).
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
}

// StoreConfig selects and configures the backend shared by the Memory,
// Approval, and Auth stores (spec §4.3-§4.5).
type StoreConfig struct {
	// Backend is "memory", "postgres", or "sqlite". Changing this is
	// structural and requires a restart — it is not watched for hot reload.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// EngineConfig supplies engine.RuntimeOptions defaults (spec §5). These are
// non-structural and may be hot-reloaded.
type EngineConfig struct {
	DefaultMaxTurns       int           `yaml:"default_max_turns"`
	DefaultModelTimeout   time.Duration `yaml:"default_model_timeout"`
	DefaultToolTimeout    time.Duration `yaml:"default_tool_timeout"`
	DefaultCancelGrace    time.Duration `yaml:"default_cancel_grace"`
	DefaultEventBufferLen int           `yaml:"default_event_buffer_len"`
}

// Runtime projects EngineConfig into engine.RuntimeOptions's non-hook,
// non-logger fields. Callers fill in Hooks/Logger themselves.
func (c EngineConfig) Runtime() (maxTurns int, modelTimeout, toolTimeout, cancelGrace time.Duration, eventBufferLen int) {
	return c.DefaultMaxTurns, c.DefaultModelTimeout, c.DefaultToolTimeout, c.DefaultCancelGrace, c.DefaultEventBufferLen
}

// AuthConfig registers the OAuth2 providers available to the tool-auth
// flow (spec §4.4) and the signing key the HTTP boundary uses for the
// bearer token it issues after an auth callback resolves (spec §6.3).
type AuthConfig struct {
	Providers      []OAuthProviderConfig `yaml:"providers"`
	JWTSigningKey  string                `yaml:"jwt_signing_key"`
	JWTTTL         time.Duration         `yaml:"jwt_ttl"`
	PendingTTL     time.Duration         `yaml:"pending_ttl"`
	ResponseTTL    time.Duration         `yaml:"response_ttl"`
	PruneInterval  time.Duration         `yaml:"prune_interval"`
}

// OAuthProviderConfig describes one registered OAuth2 scheme, keyed by
// Name (the toolauth authKey it answers for).
type OAuthProviderConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	UsePKCE      bool     `yaml:"use_pkce"`
}

// LoggingConfig controls the slog handler cmd/ constructs at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// TracingConfig controls the OpenTelemetry tracer provider (one span per
// run, one child span per ModelCall/ToolPhase — spec §9, C6).
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsConfig controls the Prometheus registry cmd/ exposes (C7).
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bind_address"`
}

// CronConfig controls the periodic pruning of expired auth/approval
// entries (spec §4.4, §4.3).
type CronConfig struct {
	PruneSchedule string `yaml:"prune_schedule"`
}

// Load reads path (resolving $include directives and environment variable
// expansion per loader.go), decodes it into a Config, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = ":8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Engine.DefaultMaxTurns <= 0 {
		cfg.Engine.DefaultMaxTurns = 50
	}
	if cfg.Engine.DefaultModelTimeout <= 0 {
		cfg.Engine.DefaultModelTimeout = 30 * time.Second
	}
	if cfg.Engine.DefaultCancelGrace <= 0 {
		cfg.Engine.DefaultCancelGrace = 500 * time.Millisecond
	}
	if cfg.Engine.DefaultEventBufferLen <= 0 {
		cfg.Engine.DefaultEventBufferLen = 256
	}
	if cfg.Auth.PendingTTL <= 0 {
		cfg.Auth.PendingTTL = 600 * time.Second
	}
	if cfg.Auth.ResponseTTL <= 0 {
		cfg.Auth.ResponseTTL = 600 * time.Second
	}
	if cfg.Auth.PruneInterval <= 0 {
		cfg.Auth.PruneInterval = time.Minute
	}
	if cfg.Auth.JWTTTL <= 0 {
		cfg.Auth.JWTTTL = time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "jaf-sub004"
	}
	if cfg.Metrics.BindAddress == "" {
		cfg.Metrics.BindAddress = ":9090"
	}
	if cfg.Cron.PruneSchedule == "" {
		cfg.Cron.PruneSchedule = "@every 1m"
	}
}

// ValidationError reports a structurally invalid config value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "memory":
	case "postgres", "sqlite":
		if cfg.Store.DSN == "" {
			return &ValidationError{Field: "store.dsn", Reason: "required for backend " + cfg.Store.Backend}
		}
	default:
		return &ValidationError{Field: "store.backend", Reason: "must be one of memory, postgres, sqlite"}
	}

	if cfg.Engine.DefaultMaxTurns <= 0 {
		return &ValidationError{Field: "engine.default_max_turns", Reason: "must be positive"}
	}
	if cfg.Engine.DefaultEventBufferLen <= 0 {
		return &ValidationError{Field: "engine.default_event_buffer_len", Reason: "must be positive"}
	}

	for i, p := range cfg.Auth.Providers {
		if p.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("auth.providers[%d].name", i), Reason: "required"}
		}
		if p.ClientID == "" || p.TokenURL == "" {
			return &ValidationError{Field: fmt.Sprintf("auth.providers[%d]", i), Reason: "client_id and token_url are required"}
		}
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return &ValidationError{Field: "logging.format", Reason: "must be json or text"}
	}

	return nil
}
