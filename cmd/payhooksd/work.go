package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/spf13/cobra"
)

func workCmd(flags *globalFlags) *cobra.Command {
	var (
		workers    int
		drain      bool
		redisLocks bool
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the worker pool and retention sweeper without the HTTP receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			overrides := payhooks.Config{}
			overrides.Queue.Workers = workers
			rt, err := open(ctx, flags, overrides)
			if err != nil {
				return err
			}
			defer rt.Close()

			pipeline, err := rt.buildPipeline(ctx, runtimeOptions{redisLocks: redisLocks})
			if err != nil {
				return err
			}
			if !drain {
				return pipeline.Run(ctx)
			}

			results, err := pipeline.Processor.Drain(ctx, 0)
			if err != nil {
				return err
			}
			counts := map[payhooks.Status]int{}
			for _, result := range results {
				counts[result.Status]++
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Handled %d job(s)\n", len(results))
			for status, count := range counts {
				fmt.Fprintf(out, "  %-12s %d\n", status, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker count (overrides queue.workers)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Process visible jobs once and exit")
	cmd.Flags().BoolVar(&redisLocks, "redis-locks", false, "Hold aggregate locks in Redis instead of the database")
	return cmd
}
