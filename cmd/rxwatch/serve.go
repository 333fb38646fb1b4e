package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/rxwatch/internal/api"
	"github.com/opensource-finance/rxwatch/internal/dashboard"
	"github.com/opensource-finance/rxwatch/internal/filter"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	logger.Info("starting rxwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	client, err := newPredictorClient(cfg, logger)
	if err != nil {
		return err
	}
	compiler, err := filter.NewCompiler()
	if err != nil {
		return err
	}
	views := dashboard.NewService(client, compiler, cfg.Views, logger)
	srv := api.NewServer(cfg.Server, views, client, Version, logger)

	logger.Info("configuration loaded",
		"upstream", cfg.Upstream.BaseURL,
		"allowed_origins", cfg.Server.AllowedOrigins,
		"tracing", cfg.Tracing.Enabled,
		"service_name", cfg.Tracing.ServiceName,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("rxwatch is ready", "addr", srv.Addr())
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("rxwatch shutdown complete")
	return nil
}
