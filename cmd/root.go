// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/app"
	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/logging"
	"github.com/JakeFAU/menu-harvester/internal/orchestrator"
)

// Runner is what the run command drives. It lets tests substitute the
// application.
type Runner interface {
	Run(ctx context.Context) (orchestrator.Summary, error)
	Close() error
}

// newRunner is the application factory. It is a variable so tests can
// replace it.
var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

type options struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest restaurant menus inside a bounding box.",
		Long: `harvester discovers restaurants inside a geographic bounding box,
finds their menu pages, extracts menu items and writes them to CSV files,
optionally mirroring them into Postgres and Pub/Sub. Every run is bounded
by a wall-clock budget.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML); HARVESTER_* env vars override it")
	cmd.AddCommand(newRunCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(opts *options) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
