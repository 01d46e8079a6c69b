package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/oppsync/internal/types"
)

var pollTimeout time.Duration

var pollCmd = &cobra.Command{
	Use:   "poll <job>",
	Short: "Run one poll of a job and wait for it",
	Long: `Query the source org for records modified since the job's watermark,
synchronize them into the target org and print the job report.
Exits non-zero when the job fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", 0,
		"Give up waiting after this long (0 waits until the job ends)")
}

func runPoll(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		p, err := a.svc.Scheduler.Poller(args[0])
		if err != nil {
			return err
		}
		job, err := p.PollOnce(ctx)
		if err != nil {
			return err
		}
		if _, err := job.AwaitTermination(ctx, pollTimeout); err != nil {
			return fmt.Errorf("job %s: %w", job.ID(), err)
		}

		rep := job.Snapshot()
		out := cmd.OutOrStdout()
		if jsonOutput {
			err = printJSON(out, rep)
		} else {
			err = printReport(out, rep)
		}
		if err != nil {
			return err
		}
		if rep.Status != types.JobSucceeded {
			return fmt.Errorf("job %s %s: %s", rep.ID, rep.Status, rep.Error)
		}
		return nil
	})
}
