package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/api"
	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and retry upstream marking attempts",
}

// -- audit query --

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit entries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("audit"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := auditFilter(cmd)
		if err != nil {
			return err
		}
		page, err := audit.NewLog(st).Query(ctx, f)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "table" {
			formatAuditList(os.Stdout, page)
			return nil
		}
		return writeFormatted(os.Stdout, format, page)
	},
}

// -- audit stats --

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate audit entries by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("audit"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := auditFilter(cmd)
		if err != nil {
			return err
		}
		stats, err := audit.NewLog(st).Stats(ctx, f)
		if err != nil {
			return err
		}
		formatAuditStats(os.Stdout, stats)
		return nil
	},
}

// -- audit retry --

var auditRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Mark again every code whose last attempt did not succeed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("audit-retry"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := auditFilter(cmd)
		if err != nil {
			return err
		}
		f.Limit, f.Offset = 0, 0

		log := audit.NewLog(st)
		marker := newMarker(log, newSourceClient(noRetry))
		res, err := marker.Retry(ctx, f)
		if res != nil {
			zap.L().Info("audit retry complete",
				zap.String("execution_id", res.ExecutionID),
				zap.Int("codes", res.Codes),
				zap.Int("calls", res.Calls),
			)
			if encErr := writeJSON(os.Stdout, res); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

// auditFilter reads the shared filter flags.
func auditFilter(cmd *cobra.Command) (model.AuditFilter, error) {
	values := map[string]string{}
	for _, name := range []string{"source_code", "lote_id", "status", "from", "to", "limit", "offset"} {
		flag := cmd.Flags().Lookup(flagName(name))
		if flag != nil && flag.Changed {
			values[name] = flag.Value.String()
		}
	}
	f, err := api.ParseAuditFilter(func(k string) string { return values[k] })
	if err != nil {
		return f, eris.Wrap(err, "audit filter")
	}
	return f, nil
}

func flagName(param string) string {
	switch param {
	case "source_code":
		return "source-code"
	case "lote_id":
		return "lote"
	}
	return param
}

func addAuditFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("source-code", 0, "filter by source code")
	cmd.Flags().String("lote", "", "filter by lote id")
	cmd.Flags().String("status", "", "filter by status (pending, success, failed, timeout, error)")
	cmd.Flags().String("from", "", "created at or after (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().String("to", "", "created at or before (YYYY-MM-DD or RFC 3339)")
}

func formatAuditList(w io.Writer, page *audit.Page) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE CODE\tSTATUS\tATTEMPTS\tDURATION\tLOTE\tUPDATED")
	for _, e := range page.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
			shortID(e.ID),
			e.SourceCode,
			e.Status,
			e.AttemptCount,
			time.Duration(e.TotalDurationMS)*time.Millisecond,
			shortID(e.LoteID),
			e.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	tw.Flush() //nolint:errcheck
	fmt.Fprintf(w, "\n%d of %d entries (offset %d)\n", len(page.Entries), page.Total, page.Offset)
}

func formatAuditStats(w io.Writer, stats *model.AuditStats) {
	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tENTRIES")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%d\n", s, stats.ByStatus[model.AuditStatus(s)])
	}
	tw.Flush() //nolint:errcheck

	fmt.Fprintf(w, "\nEntries:   %d\n", stats.Entries)
	fmt.Fprintf(w, "Attempts:  %d\n", stats.TotalAttempts)
	fmt.Fprintf(w, "Duration:  %s\n", time.Duration(stats.TotalDurationMS)*time.Millisecond)
}

func init() {
	for _, c := range []*cobra.Command{auditQueryCmd, auditStatsCmd, auditRetryCmd} {
		addAuditFilterFlags(c)
	}
	auditQueryCmd.Flags().Int("limit", 50, "page size")
	auditQueryCmd.Flags().Int("offset", 0, "page offset")
	auditQueryCmd.Flags().String("format", "table", "output format: table, yaml or json")

	auditCmd.AddCommand(auditQueryCmd, auditStatsCmd, auditRetryCmd)
	rootCmd.AddCommand(auditCmd)
}
