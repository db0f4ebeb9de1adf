// Package cmd defines the mapcompute CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mapcompute/internal/app"
	"github.com/JakeFAU/mapcompute/internal/config"
	"github.com/JakeFAU/mapcompute/internal/logging"
)

// cli carries state shared between the root command and its subcommands.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	// registerer receives the progress collectors; nil means the default registry.
	registerer prometheus.Registerer
}

// newRootCmd creates the root command. Config and logger are built in
// PersistentPreRunE so every subcommand sees the same settings.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapcompute",
		Short: "Trigger map construction jobs and follow their progress.",
		Long: `mapcompute asks the map construction backend to compute bundles, the
road network, or both, polls the backend's ping endpoint while the job runs,
and reloads the generated map objects once the job succeeds.`,
		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			if c.logger == nil {
				logger, err := logging.New(logging.Options{
					Development: cfg.Logging.Development,
					Level:       cfg.Logging.Level,
				})
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
				c.logger = logger
			}
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (env MAPCOMPUTE_* overrides)")

	cmd.AddCommand(newComputeCmd(c))
	cmd.AddCommand(newPingCmd(c))
	cmd.AddCommand(newServeCmd(c))
	return cmd
}

// newApp builds the services for a subcommand.
func (c *cli) newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	if opts.Registerer == nil {
		opts.Registerer = c.registerer
	}
	a, err := app.New(ctx, c.cfg, c.logger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(&cli{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
