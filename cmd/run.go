package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Search, ingest and process in one pass",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		params, err := searchParams(cmd, time.Now())
		if err != nil {
			return err
		}

		summary, err := env.Processor.Run(ctx, params)
		if summary != nil {
			if encErr := writeJSON(os.Stdout, summary); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

func init() {
	addSearchFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
