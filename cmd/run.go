package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/config"
)

func newRunCmd(opts *options) *cobra.Command {
	var minutes float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one bounded harvest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cmd.Flags().Changed("minutes") {
				cfg.Crawler.RuntimeMinutes = minutes
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHarvest(ctx, cmd, cfg, logger)
		},
	}
	cmd.Flags().Float64Var(&minutes, "minutes", 0, "override crawler.runtime_minutes")
	return cmd
}

func runHarvest(ctx context.Context, cmd *cobra.Command, cfg config.Config, logger *zap.Logger) (err error) {
	runner, err := newRunner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer func() {
		if closeErr := runner.Close(); closeErr != nil {
			logger.Warn("shutdown", zap.Error(closeErr))
		}
	}()

	summary, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"venues=%d tried=%d budget_skips=%d menus=%d items=%d fetched=%d disallowed=%d\n",
		summary.Venues, summary.VenuesTried, summary.BudgetSkips,
		summary.Menus, summary.Items, summary.Fetch.Fetched, summary.Fetch.Disallowed,
	)
	return err
}
