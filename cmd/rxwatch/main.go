// rxwatch serves prescription fraud dashboards built from a prediction
// service's history.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/rxwatch/internal/config"
	"github.com/opensource-finance/rxwatch/internal/domain"
	"github.com/opensource-finance/rxwatch/internal/predictor"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Global flags.
var (
	configPath string
	envFile    string
	upstream   string
)

var rootCmd = &cobra.Command{
	Use:           "rxwatch",
	Short:         "Prescription fraud dashboards over a prediction service",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&upstream, "upstream", "", "prediction service base URL (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(backtestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the default logger.
func setup() (*domain.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, nil, err
	}
	if upstream != "" {
		cfg.Upstream.BaseURL = upstream
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}
	return cfg, logger, nil
}

func newPredictorClient(cfg *domain.Config, logger *slog.Logger) (*predictor.Client, error) {
	client, err := predictor.NewClient(cfg.Upstream, predictor.WithLogger(logger.With("component", "predictor")))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction client: %w", err)
	}
	return client, nil
}
