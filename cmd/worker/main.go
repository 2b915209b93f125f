// Package main provides the entry point for the transcoding worker.
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

	"github.com/paul-shell/gauntlet-exchange/internal/bootstrap"
	"github.com/paul-shell/gauntlet-exchange/internal/config"
	"github.com/paul-shell/gauntlet-exchange/internal/server"
)

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

	logger.Info("starting transcoding worker",
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("queue_backend", cfg.QueueBackend),
		slog.String("dead_letter_backend", cfg.DeadLetterBackend),
		slog.String("scratch_dir", cfg.ScratchDir),
		slog.Int("parallel_encodes", cfg.ParallelEncodes()),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("closing dependencies failed", slog.String("error", err.Error()))
		}
	}()

	handlers := server.NewHandlers(deps.Queue, deps.Worker, deps.Runs, logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- deps.Worker.Run(ctx)
	}()

	// Wait for shutdown signal or a server error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		stop()
		<-loopErr
		return err
	}

	// The loop abandons the in-flight job; its message is redelivered.
	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker loop stopped with error", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutting down ops server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("worker stopped gracefully")
	return nil
}
