package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/oppsync/internal/store"
)

var (
	jobsName  string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect persisted job history",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List finished jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job with its record outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsName, "name", "", "Only jobs with this name")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", store.DefaultJobListLimit, "Maximum number of jobs")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	if jobsLimit < 1 {
		return fmt.Errorf("--limit must be positive")
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		jobs, err := a.state.ListJobs(ctx, jobsName, jobsLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, jobs)
		}
		if len(jobs) == 0 {
			fmt.Fprintln(out, "No jobs found.")
			return nil
		}

		tw := newTabWriter(out)
		fmt.Fprintln(tw, "ID\tNAME\tTRIGGER\tSTATUS\tTOTAL\tWRITTEN\tERRORED\tSTARTED")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				j.ID, j.Name, j.Trigger, j.Status,
				j.Counts.Total, j.Counts.Written, j.Counts.Errored,
				formatTime(&j.StartedAt))
		}
		return tw.Flush()
	})
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		rep, err := a.state.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		return printReport(cmd.OutOrStdout(), *rep)
	})
}
