package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mapcompute/internal/backend"
	"github.com/JakeFAU/mapcompute/internal/compute"
)

func newPingCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Read the backend's current algorithm progress once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := backend.NewClient(c.cfg.Backend.BaseURL,
				backend.WithTimeout(c.cfg.RequestTimeout()),
				backend.WithLogger(c.logger.Named("backend")),
			)
			if err != nil {
				return fmt.Errorf("init backend client: %w", err)
			}
			resp, err := client.Ping(cmd.Context())
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "algorithmProcess=%g fraction=%.3f\n",
				resp.Progress(), compute.ProgressFraction(resp.Progress()))
			return nil
		},
	}
}
