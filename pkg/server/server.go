// Package server composes the triage service: storage, runtime config cache,
// capability registry, advice cache and the HTTP API.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	defer srv.Close(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/manatap/triage/internal/advice"
	"github.com/manatap/triage/internal/api"
	"github.com/manatap/triage/internal/api/handlers"
	"github.com/manatap/triage/internal/api/middleware"
	"github.com/manatap/triage/internal/capability"
	"github.com/manatap/triage/internal/config"
	"github.com/manatap/triage/internal/router"
	"github.com/manatap/triage/internal/runtimecfg"
	"github.com/manatap/triage/internal/store"
	"github.com/manatap/triage/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Config is the public configuration for the triage server.
type Config struct {
	Port    int
	Version string
	Env     string
}

// Server holds the initialized triage service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store backs runtime config rows and advice rows.
	Store store.Store

	// Router is the triage core.
	Router *router.Router

	// Config is the server configuration.
	Config *Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error

	stopSweeper context.CancelFunc
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := config.Load()
	return &Config{Port: cfg.Port, Version: cfg.Version, Env: cfg.Env}
}

// New initializes all components from the environment and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, LoadConfig())
}

// NewWithConfig initializes the service, letting pubCfg override the
// environment.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}
	if pubCfg.Version != "" {
		cfg.Version = pubCfg.Version
		cfg.Telemetry.Version = pubCfg.Version
	}
	if pubCfg.Env != "" {
		cfg.Env = pubCfg.Env
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}

	capOpts, err := capability.LoadOptions(cfg.Triage.ResponsesOnlyModels, cfg.Triage.CapabilitiesFile)
	if err != nil {
		dataStore.Close()
		return nil, errors.Join(fmt.Errorf("load model capabilities: %w", err), shutdown(ctx))
	}
	caps := capability.NewRegistry(capOpts)
	log.Info().Int("models", len(caps.ListAll())).Msg("✅ Capability registry initialized")

	runtimeCfg := runtimecfg.New(dataStore, runtimecfg.WithTTL(cfg.Triage.RuntimeConfigTTL))
	initial := runtimeCfg.Get(ctx)
	log.Info().
		Str("source", initial.Source).
		Strs("env_overrides", initial.EnvOverrides).
		Msg("✅ Runtime config loaded")

	adviceCache, err := advice.NewCache(dataStore, advice.CacheOptions{
		TTL:       cfg.Triage.AdviceTTL,
		LocalSize: cfg.Triage.AdviceLocalSize,
	})
	if err != nil {
		dataStore.Close()
		return nil, errors.Join(fmt.Errorf("init advice cache: %w", err), shutdown(ctx))
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go advice.NewSweeper(dataStore, cfg.Triage.AdviceSweepInterval).Start(sweepCtx)

	var completer router.Completer
	if cfg.OpenAI.APIKey != "" {
		completer = router.NewOpenAICompleter(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Timeout, cfg.Strict())
		log.Info().Str("base_url", cfg.OpenAI.BaseURL).Msg("✅ OpenAI completer initialized")
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, model calls will be rejected")
	}

	rt := router.New(runtimeCfg, caps, adviceCache, completer, router.Options{Strict: cfg.Strict()})
	log.Info().Bool("strict", cfg.Strict()).Msg("✅ Triage router initialized")

	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)
	if auth.Enabled() {
		log.Info().Int("keys", len(cfg.Auth.APIKeys)).Msg("🔐 API key auth enabled")
	}

	h := handlers.New(dataStore, rt, runtimeCfg, caps)
	handler := api.NewRouter(cfg, h, auth)

	pubCfg.Port = cfg.Port
	pubCfg.Version = cfg.Version
	pubCfg.Env = cfg.Env

	return &Server{
		Handler:      handler,
		Store:        dataStore,
		Router:       rt,
		Config:       pubCfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		stopSweeper:  stopSweeper,
	}, nil
}

// Close stops background work, releases the store and flushes telemetry.
func (s *Server) Close(ctx context.Context) error {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	var errs []error
	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if s.ShutdownFunc != nil {
		if err := s.ShutdownFunc(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// openStore picks PostgreSQL when DATABASE_URL is set and the in-memory store
// otherwise. REDIS_URL moves advice rows to Redis.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var primary store.Store
	if cfg.Database.URL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.Database.URL, store.PostgresOptions{
			MaxConns:       int32(cfg.Database.MaxConnections),
			ConnectTimeout: cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL store initialized")
		primary = pg
	} else {
		primary = store.NewMemoryStore(cfg.DataDir)
		log.Info().Msg("✅ In-memory store initialized")
	}

	if cfg.Redis.URL == "" {
		return primary, nil
	}
	rdb, err := store.ConnectRedis(ctx, cfg.Redis.URL, cfg.Redis.ConnectTimeout)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("✅ Redis advice store initialized")
	return store.NewComposite(primary, rdb), nil
}
