package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest publications into a new lote",
	Long:  "Ingests publications from a JSON file (--file, '-' for stdin) or from the webservice search, storing them as bronze records of a new lote.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		params, err := searchParams(cmd, time.Now())
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		var raws []model.RawPublication
		if file != "" {
			raws, err = readRawFile(file)
		} else {
			if err := env.requireSource(); err != nil {
				return err
			}
			raws, err = env.Source.Search(ctx, params)
		}
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		lote, err := env.Processor.Ingest(ctx, params, raws)
		if lote != nil {
			zap.L().Info("ingest complete",
				zap.String("lote_id", lote.ID),
				zap.Int("bronze", lote.Total),
				zap.Int("rejected", lote.Stats.Rejected),
			)
			if encErr := writeJSON(os.Stdout, lote); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

// readRawFile reads a JSON array of raw publications; "-" reads stdin.
func readRawFile(path string) ([]model.RawPublication, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	return decodeRaw(r)
}

func decodeRaw(r io.Reader) ([]model.RawPublication, error) {
	var raws []model.RawPublication
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, eris.Wrap(err, "decode publications")
	}
	return raws, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	ingestCmd.Flags().String("file", "", "JSON file of publications ('-' for stdin)")
	addSearchFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}
