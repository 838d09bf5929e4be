// Package main runs the mediation server: it loads ads from third-party
// networks on behalf of apps and forwards their callbacks as host events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	srvconfig "github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

func main() {
	cfg := ParseConfig()
	logger.Init(logger.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Log.Error().Err(err).Msg("Mediation server stopped")
		os.Exit(1)
	}
}

// run serves until ctx is done or the listener fails, then drains in-flight
// loads and flushes pending events
func run(ctx context.Context, cfg *ServerConfig) error {
	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Log.Info().
		Str("port", cfg.Port).
		Dur("load_timeout", cfg.LoadTimeout).
		Dur("ad_ttl", cfg.AdTTL).
		Bool("redis", cfg.RedisURL != "").
		Bool("database", cfg.DatabaseConfig != nil).
		Bool("event_webhook", cfg.EventWebhookURL != "").
		Msg("Mediation server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Log.Info().Msg("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			serveErr = fmt.Errorf("listener failed: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvconfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return serveErr
}
