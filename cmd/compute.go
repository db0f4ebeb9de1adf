package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mapcompute/internal/app"
	"github.com/JakeFAU/mapcompute/internal/compute"
)

var errAlreadyRunning = errors.New("a job is already running")

// newComputeCmd groups one subcommand per backend job.
func newComputeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Run a map construction job and wait for it to finish",
	}
	short := map[compute.Job]string{
		compute.JobBundles:           "Compute trajectory bundles",
		compute.JobRoadNetwork:       "Compute the road network",
		compute.JobBundlesAndRoadMap: "Compute bundles, then the road network",
	}
	for _, job := range compute.Jobs() {
		cmd.AddCommand(&cobra.Command{
			Use:   string(job),
			Short: short[job],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.runCompute(cmd, job)
			},
		})
	}
	return cmd
}

// runCompute triggers job, blocks until the runner is idle again and reports
// the outcome. Interrupting the command cancels the request and the poller.
func (c *cli) runCompute(cmd *cobra.Command, job compute.Job) error {
	ctx := cmd.Context()
	a, err := c.newApp(ctx, app.Options{Terminal: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if !a.Runner.Compute(ctx, job) {
		return errAlreadyRunning
	}
	a.Runner.Wait()

	last := a.Runner.Status().Last
	if last == nil {
		return fmt.Errorf("%s: no result recorded", job)
	}
	if !last.Success {
		return fmt.Errorf("%s failed: %s", job, last.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s finished in %s (run %s)\n",
		job, last.FinishedAt.Sub(last.StartedAt).Round(time.Millisecond), last.ID)
	return nil
}
