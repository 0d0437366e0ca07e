// Package monitoring collects lote and marking health over a lookback window
// and alerts a webhook when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Lotes created within the lookback window.
	LotesTotal      int `json:"lotes_total"`
	LotesProcessed  int `json:"lotes_processed"`
	LotesWithErrors int `json:"lotes_with_errors"`
	LotesFailed     int `json:"lotes_failed"`
	LotesStuck      int `json:"lotes_stuck"`

	// Records across those lotes.
	RecordsAttempted int                       `json:"records_attempted"`
	RecordsFailed    int                       `json:"records_failed"`
	RecordsRejected  int                       `json:"records_rejected"`
	RecordFailRate   float64                   `json:"record_fail_rate"`
	ByStatus         map[model.PrataStatus]int `json:"by_status"`

	// Upstream marking.
	MarkingEntries  int `json:"marking_entries"`
	MarkingSuccess  int `json:"marking_success"`
	MarkingPending  int `json:"marking_pending"`
	MarkingFailures int `json:"marking_failures"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is the read side the collector needs.
type Store interface {
	ListLotes(ctx context.Context, filter store.LoteFilter) ([]model.Lote, error)
	AuditStats(ctx context.Context, filter model.AuditFilter) (*model.AuditStats, error)
}

const lotePage = 500

// Collector gathers metrics from the store.
type Collector struct {
	store      Store
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Lotes pending or processing for longer
// than stuckAfter count as stuck; zero disables the check.
func NewCollector(st Store, stuckAfter time.Duration) *Collector {
	return &Collector{store: st, stuckAfter: stuckAfter, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		ByStatus:      make(map[model.PrataStatus]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Lotes come newest first; stop at the first one before the cutoff.
	for offset := 0; ; offset += lotePage {
		lotes, err := c.store.ListLotes(ctx, store.LoteFilter{Limit: lotePage, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list lotes")
		}
		done := len(lotes) < lotePage
		for _, l := range lotes {
			if l.CreatedAt.Before(cutoff) {
				done = true
				break
			}
			c.addLote(snap, l, now)
		}
		if done {
			break
		}
	}

	if snap.RecordsAttempted > 0 {
		snap.RecordFailRate = float64(snap.RecordsFailed) / float64(snap.RecordsAttempted)
	}

	stats, err := c.store.AuditStats(ctx, model.AuditFilter{From: &cutoff})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: audit stats")
	}
	snap.MarkingEntries = stats.Entries
	for status, n := range stats.ByStatus {
		switch status {
		case model.AuditStatusSuccess:
			snap.MarkingSuccess += n
		case model.AuditStatusPending:
			snap.MarkingPending += n
		default:
			snap.MarkingFailures += n
		}
	}

	return snap, nil
}

func (c *Collector) addLote(snap *MetricsSnapshot, l model.Lote, now time.Time) {
	snap.LotesTotal++
	switch l.Status {
	case model.LoteStatusProcessed:
		snap.LotesProcessed++
	case model.LoteStatusProcessedWithErrors:
		snap.LotesWithErrors++
	case model.LoteStatusError:
		snap.LotesFailed++
	case model.LoteStatusPending, model.LoteStatusProcessing:
		if c.stuckAfter > 0 && now.Sub(l.CreatedAt) > c.stuckAfter {
			snap.LotesStuck++
		}
	}
	snap.RecordsAttempted += l.Stats.Attempted
	snap.RecordsFailed += l.Stats.Failed
	snap.RecordsRejected += l.Stats.Rejected
	for status, n := range l.Stats.ByStatus {
		snap.ByStatus[status] += n
	}
}
