package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

var lotesCmd = &cobra.Command{
	Use:   "lotes",
	Short: "Inspect ingested lotes",
}

// -- lotes list --

var lotesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lotes, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lotes"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		lotes, err := st.ListLotes(ctx, store.LoteFilter{Status: model.LoteStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "lotes list")
		}
		if len(lotes) == 0 {
			fmt.Fprintln(os.Stderr, "No lotes found.")
			return nil
		}

		formatLotesList(os.Stdout, lotes)
		return nil
	},
}

// -- lotes show --

var lotesShowCmd = &cobra.Command{
	Use:   "show <lote-id>",
	Short: "Show a lote with its stats and errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lotes"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lote, err := st.GetLote(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "lotes show")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeFormatted(os.Stdout, format, lote)
	},
}

// formatLotesList writes a table of lotes.
func formatLotesList(w io.Writer, lotes []model.Lote) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tTOTAL\tOK\tFAILED\tREJECTED\tGROUP")
	for _, l := range lotes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			shortID(l.ID),
			l.CreatedAt.Format("2006-01-02 15:04"),
			l.Status,
			l.Total,
			l.Stats.Succeeded,
			l.Stats.Failed,
			l.Stats.Rejected,
			l.Params.GroupCode,
		)
	}
	tw.Flush() //nolint:errcheck
}

// writeFormatted renders v as yaml or json.
func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	case "json", "":
		return writeJSON(w, v)
	default:
		return eris.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	lotesListCmd.Flags().String("status", "", "filter by status")
	lotesListCmd.Flags().Int("limit", 50, "max lotes to list")
	lotesShowCmd.Flags().String("format", "yaml", "output format: yaml or json")

	lotesCmd.AddCommand(lotesListCmd, lotesShowCmd)
	rootCmd.AddCommand(lotesCmd)
}
