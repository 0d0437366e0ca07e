package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/model"
)

func TestFormatLotesList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	lotes := []model.Lote{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Params:    model.SearchParams{GroupCode: "g1"},
			Status:    model.LoteStatusProcessedWithErrors,
			Total:     3,
			Stats:     model.LoteStats{Succeeded: 2, Failed: 1, Rejected: 4},
			CreatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatLotesList(&buf, lotes)

	out := buf.String()
	for _, want := range []string{"ID", "STATUS", "REJECTED", "abc12345", "processed_with_errors", "2025-06-15 10:30", "g1"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "6789-0000")
}

func TestWriteFormatted(t *testing.T) {
	lote := &model.Lote{ID: "l1", Status: model.LoteStatusProcessed, Stats: model.LoteStats{Succeeded: 3}}

	var buf bytes.Buffer
	require.NoError(t, writeFormatted(&buf, "yaml", lote))
	assert.Contains(t, buf.String(), "id: l1")
	assert.Contains(t, buf.String(), "succeeded: 3")

	buf.Reset()
	require.NoError(t, writeFormatted(&buf, "json", lote))
	assert.Contains(t, buf.String(), `"id": "l1"`)

	assert.Error(t, writeFormatted(&buf, "xml", lote))
}

func TestFormatAudit(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatAuditList(&buf, &audit.Page{
		Total: 7,
		Entries: []model.AuditEntry{{
			ID: "entry-123456789", SourceCode: 42, Status: model.AuditStatusTimeout,
			AttemptCount: 2, TotalDurationMS: 1500, LoteID: "lote-abcdefgh", UpdatedAt: now,
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "entry-12")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "1 of 7 entries")

	buf.Reset()
	formatAuditStats(&buf, &model.AuditStats{
		Entries:         3,
		ByStatus:        map[model.AuditStatus]int{model.AuditStatusSuccess: 2, model.AuditStatusFailed: 1},
		TotalAttempts:   5,
		TotalDurationMS: 250,
	})
	out = buf.String()
	assert.Less(t, strings.Index(out, "failed"), strings.Index(out, "success"))
	assert.Contains(t, out, "Attempts:  5")
	assert.Contains(t, out, "250ms")
}

func newFlagCmd(t *testing.T, setup func(*cobra.Command), args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "x"}
	setup(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestSearchParams(t *testing.T) {
	cfg = testConfig(t)
	today := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)

	p, err := searchParams(newFlagCmd(t, addSearchFlags), today)
	require.NoError(t, err)
	assert.Equal(t, model.SearchParams{GroupCode: "g1", DateFrom: "2024-03-09", DateTo: "2024-03-09"}, p)

	p, err = searchParams(newFlagCmd(t, addSearchFlags, "--group", "g2", "--from", "2024-03-01", "--to", "2024-03-05", "--process-number", "123"), today)
	require.NoError(t, err)
	assert.Equal(t, model.SearchParams{GroupCode: "g2", DateFrom: "2024-03-01", DateTo: "2024-03-05", ProcessNumber: "123"}, p)

	_, err = searchParams(newFlagCmd(t, addSearchFlags, "--from", "2024-03-05", "--to", "2024-03-01"), today)
	assert.ErrorContains(t, err, "before")

	_, err = searchParams(newFlagCmd(t, addSearchFlags, "--from", "05/03/2024"), today)
	assert.ErrorContains(t, err, "invalid --from")
}

func TestAuditFilterFlags(t *testing.T) {
	setup := func(c *cobra.Command) {
		addAuditFilterFlags(c)
		c.Flags().Int("limit", 50, "")
		c.Flags().Int("offset", 0, "")
	}

	f, err := auditFilter(newFlagCmd(t, setup, "--source-code", "42", "--lote", "l1", "--status", "failed", "--limit", "5"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.SourceCode)
	assert.Equal(t, "l1", f.LoteID)
	assert.Equal(t, model.AuditStatusFailed, f.Status)
	assert.Equal(t, 5, f.Limit)

	f, err = auditFilter(newFlagCmd(t, setup))
	require.NoError(t, err)
	assert.Zero(t, f.Limit)

	_, err = auditFilter(newFlagCmd(t, setup, "--status", "weird"))
	assert.ErrorContains(t, err, "audit filter")
}

func TestDecodeRaw(t *testing.T) {
	raws, err := decodeRaw(strings.NewReader(`[{"source_code": 7, "text": "x", "extra": {"vara": "1"}}]`))
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, int64(7), raws[0].SourceCode)
	assert.Equal(t, "1", raws[0].Extra["vara"])

	_, err = decodeRaw(strings.NewReader(`{"source_code": 7}`))
	assert.Error(t, err)

	_, err = readRawFile("/nonexistent/file.json")
	assert.ErrorContains(t, err, "open")
}
