package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/xynehq/jaf-sub004/internal/approval"
	"github.com/xynehq/jaf-sub004/internal/config"
	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/internal/engine/providers"
	"github.com/xynehq/jaf-sub004/internal/httpapi"
	"github.com/xynehq/jaf-sub004/internal/memory"
	"github.com/xynehq/jaf-sub004/internal/observability"
	"github.com/xynehq/jaf-sub004/internal/toolauth"
	"github.com/xynehq/jaf-sub004/internal/toolregistry"
)

// sqlDriver maps a store backend name to the database/sql driver name
// registered by this file's blank imports.
func sqlDriver(backend string) (string, error) {
	switch backend {
	case "postgres":
		return "postgres", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("backend %q has no sql driver", backend)
	}
}

// buildProvider picks the LLM provider from environment-supplied API keys,
// since the Run Engine itself never hardcodes a model (spec §1 Non-goals:
// "no built-in model").
func buildProvider() (engine.LLMProvider, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: key})
	}
	return nil, fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

// buildServer wires every internal/* component into an httpapi.Server per
// cfg, mirroring the component graph SPEC_FULL.md's DOMAIN STACK table
// describes: Store backend -> {memory,approval,toolauth} stores,
// AuthConfig -> toolauth.Runtime, EngineConfig -> default RuntimeOptions.
func buildServer(cfg *config.Config) (*httpapi.Server, func() error, error) {
	provider, err := buildProvider()
	if err != nil {
		return nil, nil, err
	}

	var (
		memStore  memory.Store
		apprStore approval.Store
		authStore toolauth.Store
		closeFn   = func() error { return nil }
	)

	switch cfg.Store.Backend {
	case "memory":
		memStore = memory.NewMemoryStore(memory.RetentionPolicy{})
		apprStore = approval.NewMemoryStore()
		authStore = toolauth.NewMemoryStore()

	case "postgres", "sqlite":
		driver, err := sqlDriver(cfg.Store.Backend)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open(driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open store db: %w", err)
		}
		memStore = memory.NewSQLStore(db, memory.RetentionPolicy{})
		apprStore = approval.NewSQLStore(db)
		authStore = toolauth.NewSQLStore(db)
		closeFn = db.Close

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	authRuntime := toolauth.NewRuntime(authStore)
	var jwtSvc *toolauth.JWTService
	if cfg.Auth.JWTSigningKey != "" {
		jwtSvc = toolauth.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTTTL)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	var tracer *observability.Tracer
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		tracer, shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
			EnableInsecure: cfg.Tracing.Insecure,
		})
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}
	memStore = httpapi.NewMeteredMemoryStore(memStore, metrics, tracer)

	maxTurns, modelTimeout, toolTimeout, cancelGrace, eventBufferLen := cfg.Engine.Runtime()
	runtimeOpts := engine.RuntimeOptions{
		MaxTurns:          maxTurns,
		ModelTimeout:      modelTimeout,
		ToolTimeout:       toolTimeout,
		CancellationGrace: cancelGrace,
		EventBufferSize:   eventBufferLen,
		Logger:            logger.Slog(),
	}

	agents := map[string]httpapi.AgentDefinition{
		"DefaultAgent": {
			Name:     "DefaultAgent",
			Provider: httpapi.NewMeteredProvider(provider, metrics, tracer),
			Registry: toolregistry.NewRegistry(),
		},
	}

	server := httpapi.NewServer(agents, memStore, apprStore, authStore, authRuntime, jwtSvc, runtimeOpts, logger.Slog(), metrics, tracer)

	closeAll := func() error {
		shutdownErr := shutdownTracer(context.Background())
		if err := closeFn(); err != nil {
			return err
		}
		return shutdownErr
	}
	return server, closeAll, nil
}
