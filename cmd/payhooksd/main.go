package main

import (
	"context"
	"fmt"
	"os"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/spf13/cobra"
)

var Version = "dev"

type globalFlags struct {
	envFile  string
	logLevel string
}

func main() {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "payhooksd",
		Short:         "payhooksd - payment webhook ingestion and processing",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional dotenv file with PAYHOOKS_* variables")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(workCmd(flags))
	rootCmd.AddCommand(sweepCmd(flags))
	rootCmd.AddCommand(migrateCmd(flags))
	rootCmd.AddCommand(dlqCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads configuration and opens the database. Callers must Close the
// returned runtime.
func open(ctx context.Context, flags *globalFlags, overrides payhooks.Config) (*runtime, error) {
	cfg, err := loadConfig(ctx, flags.envFile, overrides)
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg, runtimeOptions{logLevel: flags.logLevel})
}
