package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/PabloGalante/evolve-chat/internal/adapters/http"
	"github.com/PabloGalante/evolve-chat/internal/adapters/llm"
	"github.com/PabloGalante/evolve-chat/internal/adapters/search"
	memstore "github.com/PabloGalante/evolve-chat/internal/adapters/storage/memory"
	"github.com/PabloGalante/evolve-chat/internal/app/conversation"
	"github.com/PabloGalante/evolve-chat/internal/config"
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	closeLog, err := observability.Setup(observability.LogConfig{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		log.Fatalf("error initializing logger: %v", err)
	}
	defer closeLog()
	logger := observability.Logger()

	shutdownTracing, err := observability.SetupTracing(observability.TraceConfig{
		Enabled:  cfg.Tracer.Enabled,
		Exporter: cfg.Tracer.Exporter,
	})
	if err != nil {
		logger.Error("error initializing tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	caps, err := buildCapabilities(ctx, cfg)
	if err != nil {
		logger.Error("error initializing capabilities", "error", err)
		os.Exit(1)
	}

	// Conversation Service
	svc := conversation.NewService(
		memstore.NewSessionStore(),
		func() domain.TurnStore { return memstore.NewTurnStore() },
		caps,
		conversation.ServiceConfig{
			Stream:             cfg.Inference.Stream,
			ResearchMaxResults: cfg.Research.MaxResults,
		},
	)

	// HTTP server
	handler := httpadapter.NewServer(svc, httpadapter.Options{
		Inference:      caps.Inference,
		Media:          caps.Media,
		Research:       caps.Research,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	})

	// No write timeout: research turns and event streams stay open for minutes.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Evolve API listening", "addr", srv.Addr, "mode", cfg.Mode, "mock", cfg.UseMock)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// buildCapabilities picks mock or remote collaborators.
func buildCapabilities(ctx context.Context, cfg *config.Config) (conversation.Capabilities, error) {
	logger := observability.Logger()

	if cfg.UseMock {
		logger.Info("using mock capabilities")
		return conversation.Capabilities{
			Inference: llm.NewMockLLM(),
			Media:     search.MockMedia{},
			Research:  search.MockResearch{Delay: 2 * time.Second},
		}, nil
	}

	inference, err := llm.NewInferenceClient(ctx, cfg.Inference, logger)
	if err != nil {
		return conversation.Capabilities{}, err
	}
	name := cfg.Inference.Primary.Name
	if n, ok := inference.(llm.Named); ok {
		name = n.Name()
	}
	logger.Info("using remote capabilities",
		"inference", name,
		"media", cfg.Media.BaseURL,
		"research", cfg.Research.BaseURL,
	)

	return conversation.Capabilities{
		Inference: inference,
		Media:     search.NewMediaClient(cfg.Media.BaseURL, cfg.Media.Timeout),
		Research:  search.NewResearchClient(cfg.Research.BaseURL, cfg.Research.Timeout),
	}, nil
}
