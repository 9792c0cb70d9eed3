package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-notes/mnemo/internal/config"
	"github.com/mnemosyne-notes/mnemo/internal/httpapi"
	"github.com/mnemosyne-notes/mnemo/internal/logging"
	"github.com/mnemosyne-notes/mnemo/internal/preflight"
)

func newServeCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serve starts the question-answering API on the configured address.

Configuration is read from mnemo.yaml in the config directory, merged
over the user config and environment overrides, and reloaded on change.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), skipCheck)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")
	return cmd
}

func runServe(ctx context.Context, skipCheck bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Server.LogLevel,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	if !skipCheck && preflight.NeedsCheck(cfg.Store.DataDir) {
		checker := preflight.New(
			preflight.WithOutput(os.Stderr),
			preflight.WithBackends(
				preflight.Backend{
					Name:     "embedding_backend",
					Endpoint: cfg.Embeddings.Endpoint,
					Models:   []string{cfg.Embeddings.Model},
				},
				preflight.Backend{
					Name:     "generation_backend",
					Endpoint: cfg.Generation.Endpoint,
					Models:   []string{cfg.Generation.Model},
				},
			),
		)
		results := checker.RunAll(ctx, cfg.Store.DataDir)
		if checker.HasCriticalFailures(results) {
			checker.PrintResults(results)
			return errors.New("system check failed")
		}
		if err := preflight.MarkPassed(cfg.Store.DataDir); err != nil {
			logger.Debug("failed to record preflight marker", slog.String("error", err.Error()))
		}
	}

	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer s.Close()

	if watcher, werr := config.NewWatcher(configDir, cfg, logger); werr != nil {
		logger.Warn("config watch unavailable", slog.String("error", werr.Error()))
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	api := httpapi.NewServer(s.pipeline, s.limiter, s.registry, logger, httpapi.Config{})
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	logger.Info("listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
