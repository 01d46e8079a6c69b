package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/oppsync/internal/types"
)

var watermarkForce bool

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Inspect or move a job's watermark",
}

var watermarkGetCmd = &cobra.Command{
	Use:   "get <job>",
	Short: "Show the watermark the next poll will use",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatermarkGet,
}

var watermarkSetCmd = &cobra.Command{
	Use:   "set <job> <RFC3339 time>",
	Short: "Move the watermark forward (or anywhere with --force)",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatermarkSet,
}

var watermarkResetCmd = &cobra.Command{
	Use:   "reset <job>",
	Short: "Forget the stored watermark; the next poll starts from the default",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatermarkReset,
}

func init() {
	watermarkSetCmd.Flags().BoolVar(&watermarkForce, "force", false,
		"Allow moving the watermark backwards")

	watermarkCmd.AddCommand(watermarkGetCmd)
	watermarkCmd.AddCommand(watermarkSetCmd)
	watermarkCmd.AddCommand(watermarkResetCmd)
}

// watermarkView is the --json shape of get and set.
type watermarkView struct {
	types.WatermarkResponse
	Stored  bool  `json:"stored"`
	Changed *bool `json:"changed,omitempty"`
}

func printWatermark(cmd *cobra.Command, v watermarkView) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, v)
	}
	suffix := ""
	if !v.Stored {
		suffix = " (default)"
	}
	if v.Changed != nil && !*v.Changed {
		suffix = " (unchanged, stored value is newer)"
	}
	_, err := fmt.Fprintf(out, "%s\t%s%s\n", v.Job, v.Watermark.UTC().Format(time.RFC3339Nano), suffix)
	return err
}

func runWatermarkGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		name := args[0]
		if _, err := a.svc.Scheduler.Poller(name); err != nil {
			return err
		}
		_, stored, err := a.svc.Watermarks.Stored(ctx, name)
		if err != nil {
			return err
		}
		ts, err := a.svc.Watermarks.Get(ctx, name)
		if err != nil {
			return err
		}
		return printWatermark(cmd, watermarkView{
			WatermarkResponse: types.WatermarkResponse{Job: name, Watermark: ts},
			Stored:            stored,
		})
	})
}

func runWatermarkSet(cmd *cobra.Command, args []string) error {
	ts, err := time.Parse(time.RFC3339Nano, args[1])
	if err != nil {
		return fmt.Errorf("invalid time %q: want RFC3339, e.g. 2024-01-02T15:04:05Z", args[1])
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		name := args[0]
		if _, err := a.svc.Scheduler.Poller(name); err != nil {
			return err
		}
		if watermarkForce {
			if err := a.svc.Watermarks.Reset(ctx, name); err != nil {
				return err
			}
		}
		changed, err := a.svc.Watermarks.Set(ctx, name, ts)
		if err != nil {
			return err
		}
		current, err := a.svc.Watermarks.Get(ctx, name)
		if err != nil {
			return err
		}
		return printWatermark(cmd, watermarkView{
			WatermarkResponse: types.WatermarkResponse{Job: name, Watermark: current},
			Stored:            true,
			Changed:           &changed,
		})
	})
}

func runWatermarkReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		name := args[0]
		if _, err := a.svc.Scheduler.Poller(name); err != nil {
			return err
		}
		if err := a.svc.Watermarks.Reset(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watermark for %q reset.\n", name)
		return nil
	})
}
