// Package main provides the entry point for the tunewatch capture server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/tunewatch/internal/bootstrap"
	"github.com/maauso/tunewatch/internal/config"
	"github.com/maauso/tunewatch/internal/metrics"
	"github.com/maauso/tunewatch/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting tunewatch",
		slog.String("version", version),
		slog.Int("port", cfg.Port),
		slog.String("input_url", cfg.InputURL),
		slog.String("policy", cfg.Policy),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("channels", cfg.Channels),
		slog.String("segment_format", cfg.SegmentFormat),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := metrics.InitProvider(ctx, metrics.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
		}
	}()
	m := metrics.Default()

	// Build the capture session
	session, err := bootstrap.NewSession(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(session.Processor, session.Matches, logger,
		server.WithPolicyName(session.Policy.Name),
	)
	routerCfg := server.DefaultConfig()
	routerCfg.Metrics = m
	router := server.NewRouter(handlers, logger, routerCfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// End of input stops the process once in-flight work is done.
		defer stop()
		err := session.Run(gctx)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := session.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("session close: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("stopped gracefully")
	return nil
}
