package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/personacast/server/internal/admission"
	"github.com/personacast/server/internal/core"
	"github.com/personacast/server/internal/gateway"
	"github.com/personacast/server/internal/httpapi"
	"github.com/personacast/server/internal/persona"
	"github.com/personacast/server/internal/retrieval"
	logx "github.com/personacast/server/pkg/logger"
)

// AppConfig defines all configurable parameters for the gateway process,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	Quota     admission.Config
	Persona   persona.Config
	Knowledge retrieval.KnowledgeConfig
	Search    retrieval.WebSearchConfig
}

func main() {
	// Load .env file; absence is normal outside local development.
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	env := core.ParseEnvironment(cfg.Environment)
	logx.Init(env)
	logx.Info().Str("environment", env.String()).Msg("Starting conversational request gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Admission control with its background expiry sweep.
	controller := admission.NewController(cfg.Quota)
	go controller.Run(ctx, cfg.Quota.SweepInterval)

	// Persona registry: a missing or empty directory is not fatal, the
	// gateway still serves turns with no personas resolvable.
	registry := persona.NewRegistry(cfg.Persona)
	registry.LoadAll()

	if cfg.Persona.Watch {
		watcher, err := persona.NewWatcher(registry)
		if err != nil {
			logx.Warn().Err(err).Msg("Persona hot-reload disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	// Retrieval backends report their own availability from credentials.
	knowledge := retrieval.NewKnowledgeAssistant(cfg.Knowledge)
	web := retrieval.NewWebSearch(cfg.Search)
	aggregator := retrieval.NewAggregator(knowledge, web)

	gw := gateway.New(controller, registry, aggregator)
	handlers := httpapi.NewHandlers(gw, registry, knowledge, web)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.Router(),
	}

	go func() {
		logx.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logx.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
