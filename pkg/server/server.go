// Package server provides the public entry point for initializing the
// YardSight analysis engine.
//
// This package exists in pkg/ (not internal/) so that embedding
// services can import it and compose the engine with their own
// middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/yardsight/yardsight/analysis-engine/internal/api"
	"github.com/yardsight/yardsight/analysis-engine/internal/api/handlers"
	"github.com/yardsight/yardsight/analysis-engine/internal/boundary"
	"github.com/yardsight/yardsight/analysis-engine/internal/cache"
	"github.com/yardsight/yardsight/analysis-engine/internal/config"
	"github.com/yardsight/yardsight/analysis-engine/internal/dispatch"
	"github.com/yardsight/yardsight/analysis-engine/internal/health"
	"github.com/yardsight/yardsight/analysis-engine/internal/notify"
	"github.com/yardsight/yardsight/analysis-engine/internal/retention"
	provrouter "github.com/yardsight/yardsight/analysis-engine/internal/router"
	"github.com/yardsight/yardsight/analysis-engine/internal/store"
	"github.com/yardsight/yardsight/analysis-engine/internal/telemetry"
	"github.com/yardsight/yardsight/analysis-engine/internal/validate"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized analysis engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Dispatcher is exposed so main can stop it on shutdown.
	Dispatcher *dispatch.Dispatcher

	// Store is the result store (in-memory).
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all engine components from environment configuration
// and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var notifier health.Notifier
	if cfg.Alerts.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookSecret)
		log.Info().Msg("alert webhook configured")
	}

	monitor := health.NewMonitor(notifier)
	pr := provrouter.New(monitor, cfg.Router.Cooldown)
	for _, desc := range cfg.Descriptors() {
		if err := pr.AddProvider(desc); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", desc.ID, err)
		}
		log.Info().Str("provider", desc.ID).Str("model", desc.Model).Msg("provider registered")
	}
	if len(pr.Providers()) == 0 {
		log.Warn().Msg("no providers configured, all submissions will fail")
	}

	validator := validate.New(validate.Config{
		ConfidenceThreshold: cfg.Validator.ConfidenceThreshold,
		MaxRetries:          cfg.Validator.MaxRetries,
	})
	enforcer := boundary.NewEnforcer()

	dispatcher := dispatch.New(dispatch.Config{
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		RequeueDelay:  cfg.Dispatch.RequeueDelay,
	}, pr, validator, enforcer)

	var statusCache cache.Cache = cache.Noop{}
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, falling back to no-op cache")
		} else {
			statusCache = rc
			log.Info().Msg("redis status cache initialized")
		}
	}

	dataStore := store.NewMemoryStore()

	if cfg.Retention.Interval > 0 {
		var archiver retention.Archiver
		if cfg.Retention.ArchiveDir != "" {
			archiver = retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, true)
		}
		janitor := retention.NewJanitor(dataStore, archiver, cfg.Retention.Interval, cfg.Retention.MaxAge)
		go janitor.Start(ctx)
	}

	h := handlers.New(dataStore, statusCache, dispatcher, pr, monitor, enforcer)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Dispatcher:   dispatcher,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
