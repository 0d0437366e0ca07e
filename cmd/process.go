package main

import (
	"os"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <lote-id>",
	Short: "Deduplicate and classify the new records of a lote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Processor.Process(ctx, args[0])
		if summary != nil {
			if encErr := writeJSON(os.Stdout, summary); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
