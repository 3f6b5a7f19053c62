package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	idpecho "go.pilab.hu/idp/api/echo"
	"go.pilab.hu/idp/config"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/internal/server"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/services"
	"go.pilab.hu/idp/tenant"
	"go.pilab.hu/idp/tracing"
	"go.pilab.hu/idp/userservice"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Str("fallback_log_level", logLevel.String()).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	logger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	logger.Info(ctx, "Starting idp server...", log.Fields{
		"http_port":         cfg.HTTPPort,
		"challenge_backend": cfg.ChallengeBackend,
		"token_backend":     cfg.TokenBackend,
		"tenants":           len(cfg.Tenants),
		"log_level":         cfg.LogLevel,
		"otel_service":      cfg.OtelServiceName,
	})

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(registry)

	backends, err := server.OpenBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "Failed to open backends", err)
	}

	provider, err := services.NewProvider(services.ProviderOptions{
		Challenges:   backends.Challenges,
		Tokens:       backends.Tokens,
		Consents:     backends.Consents,
		Revocations:  backends.Revocations,
		Clients:      backends.Clients,
		Scopes:       backends.Scopes,
		Users:        userservice.NewRouter(userservice.NewClient(cfg.StoreTimeout), backends.Users),
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to build provider", err)
	}

	tenants := tenant.NewRegistry(cfg.Tenants, cfg.TenantCacheTTL, logger)
	api := idpecho.NewOAuth2API(provider, tenants, logger, cfg.AdminToken)
	if cfg.AdminToken == "" {
		logger.Warn(ctx, "ADMIN_TOKEN is not set, admin routes are disabled")
	}

	httpServer := server.NewHTTPServer(cfg, idpecho.NewServer(api, logger, registry))
	go func() {
		logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	logger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	// Let pending challenge deletes finish before the stores go away.
	provider.Wait()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}
	if err := backends.Close(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Backend close error", err)
	}

	logger.Info(shutdownCtx, "Server gracefully stopped.")
}
