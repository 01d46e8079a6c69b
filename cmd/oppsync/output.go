package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/oppsync/internal/types"
)

// withApp loads config, opens the app for a one-shot command and closes
// it afterwards. Logs go to stderr so stdout stays parseable.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, logFile := newLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	if logFile != nil {
		defer logFile.Close()
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// printReport writes one job in key/value form, followed by its record
// outcomes when present.
func printReport(w io.Writer, rep types.JobReport) error {
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "ID:\t%s\n", rep.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", rep.Name)
	fmt.Fprintf(tw, "Trigger:\t%s\n", rep.Trigger)
	fmt.Fprintf(tw, "Status:\t%s\n", rep.Status)
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(&rep.StartedAt))
	fmt.Fprintf(tw, "Finished:\t%s\n", formatTime(rep.FinishedAt))
	c := rep.Counts
	fmt.Fprintf(tw, "Records:\t%d total, %d skipped, %d inserted, %d updated, %d errored\n",
		c.Total, c.Skipped, c.Inserted, c.Updated, c.Errored)
	if rep.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", rep.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(rep.Outcomes) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = newTabWriter(w)
	fmt.Fprintln(tw, "SOURCE\tNAME\tOUTCOME\tACTION\tTARGET\tATTEMPTS\tERROR")
	for _, o := range rep.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			o.SourceID, o.Name, o.Outcome, dash(string(o.Action)), dash(o.TargetID), o.Attempts, o.Error)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
