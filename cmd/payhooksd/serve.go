package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		addr       string
		workers    int
		noWorkers  bool
		redisLocks bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive webhooks over HTTP and process them with the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			overrides := payhooks.Config{}
			overrides.HTTP.Addr = addr
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

			server := &http.Server{
				Addr:              rt.cfg.HTTP.Addr,
				Handler:           pipeline.Router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				rt.logger.Info("webhook receiver listening", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			group.Go(func() error {
				<-groupCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), rt.cfg.Queue.DrainTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			if !noWorkers {
				group.Go(func() error {
					return pipeline.Run(groupCtx)
				})
			}
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker count (overrides queue.workers)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Only receive webhooks; run workers with the work command")
	cmd.Flags().BoolVar(&redisLocks, "redis-locks", false, "Hold aggregate locks in Redis instead of the database")
	return cmd
}
