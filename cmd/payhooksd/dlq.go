package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-command"
	payhooks "github.com/goliatone/go-payhooks"
	"github.com/goliatone/go-payhooks/adapters/gocommand"
	"github.com/goliatone/go-payhooks/core"
	payhooksquery "github.com/goliatone/go-payhooks/query"
	"github.com/spf13/cobra"
)

func dlqCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered webhook jobs",
	}
	cmd.AddCommand(dlqListCmd(flags))
	cmd.AddCommand(dlqReplayCmd(flags))
	return cmd
}

// withOperations opens the database and subscribes the operator commands on
// the go-command dispatcher for the duration of fn.
func withOperations(ctx context.Context, flags *globalFlags, fn func(ctx context.Context) error) error {
	rt, err := open(ctx, flags, payhooks.Config{})
	if err != nil {
		return err
	}
	defer rt.Close()

	subs, err := gocommand.RegisterOperations(
		gocommand.NewRegistryAdapter(command.NewRegistry()),
		gocommand.Operations{DeadLetters: rt.factory.QueueStore()},
	)
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()
	return fn(ctx)
}

func dlqListCmd(flags *globalFlags) *cobra.Command {
	var (
		eventType string
		since     time.Duration
		limit     int
		offset    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.DeadLetterFilter{EventType: eventType, Limit: limit, Offset: offset}
			if since > 0 {
				from := time.Now().Add(-since)
				filter.Since = &from
			}
			return withOperations(cmd.Context(), flags, func(ctx context.Context) error {
				depth, err := gocommand.DeadLetterDepth(ctx)
				if err != nil {
					return err
				}
				jobs, err := gocommand.ListDeadLetters(ctx, filter)
				if err != nil {
					return err
				}

				out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(out, "JOB\tEVENT\tTYPE\tATTEMPTS\tFAILURE\tDEAD LETTERED\tERROR")
				for _, job := range jobs {
					deadAt := ""
					if job.DeadLetteredAt != nil {
						deadAt = job.DeadLetteredAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
						job.ID, job.EventID, job.EventType, job.AttemptCount, job.FailureKind, deadAt, job.LastError)
				}
				if err := out.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d dead letter(s)\n", len(jobs), depth)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "Only list dead letters of this event type")
	cmd.Flags().DurationVar(&since, "since", 0, "Only list dead letters from this far back (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", payhooksquery.DefaultPageSize, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func dlqReplayCmd(flags *globalFlags) *cobra.Command {
	var (
		all       bool
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "replay [job-id]",
		Short: "Move dead letters back to pending with a fresh attempt budget",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("payhooksd: pass a job id or --all, not both")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("payhooksd: a job id is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperations(cmd.Context(), flags, func(ctx context.Context) error {
				out := cmd.OutOrStdout()
				if !all {
					job, err := gocommand.ReplayDeadLetter(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "replayed %s (%s)\n", job.ID, job.EventType)
					return nil
				}

				result, err := gocommand.ReplayDeadLetters(ctx, core.DeadLetterFilter{EventType: eventType})
				if err != nil {
					return err
				}
				for _, job := range result.Replayed {
					fmt.Fprintf(out, "replayed %s (%s)\n", job.ID, job.EventType)
				}
				for _, id := range result.Skipped {
					fmt.Fprintf(out, "skipped %s\n", id)
				}
				fmt.Fprintf(out, "%d replayed, %d skipped\n", len(result.Replayed), len(result.Skipped))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Replay up to 500 dead letters matching --type")
	cmd.Flags().StringVar(&eventType, "type", "", "With --all, only replay this event type")
	return cmd
}
