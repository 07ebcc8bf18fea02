package main

import (
	"fmt"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/spf13/cobra"
)

func sweepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass and print what was purged",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := open(ctx, flags, payhooks.Config{})
			if err != nil {
				return err
			}
			defer rt.Close()

			pipeline, err := rt.buildPipeline(ctx, runtimeOptions{})
			if err != nil {
				return err
			}
			if pipeline.Sweeper == nil {
				return fmt.Errorf("payhooksd: retention sweeper is not configured")
			}
			result, err := pipeline.Sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "processed events: %d\n", result.ProcessedEvents)
			fmt.Fprintf(out, "processed jobs:   %d\n", result.ProcessedJobs)
			fmt.Fprintf(out, "dead letters:     %d\n", result.DeadLetters)
			fmt.Fprintf(out, "expired locks:    %d\n", result.ExpiredLocks)
			fmt.Fprintf(out, "archived:         %d\n", result.Archived)
			return nil
		},
	}
}
