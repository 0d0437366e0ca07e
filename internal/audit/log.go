// Package audit records every upstream "mark exported" attempt per source
// code and drives those markings with retry and circuit breaking.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

// Store is the audit slice of the persistence layer.
type Store interface {
	UpsertAuditEntry(ctx context.Context, entry *model.AuditEntry) (string, error)
	AppendAuditAttempt(ctx context.Context, entryID string, attempt model.AuditAttempt) (bool, error)
	GetAuditEntry(ctx context.Context, entryID string) (*model.AuditEntry, error)
	QueryAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, int, error)
	AuditStats(ctx context.Context, filter model.AuditFilter) (*model.AuditStats, error)
}

// Page is one page of audit entries.
type Page struct {
	Entries []model.AuditEntry `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// Log is the append-only marking history. Entries are never deleted.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog creates a Log over st.
func NewLog(st Store) *Log {
	return &Log{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Start opens the entry for code, or returns the existing one's id so
// every attempt for a code lands in a single history.
func (l *Log) Start(ctx context.Context, code int64, loteID, bronzeID string, snapshot map[string]any, execID string) (string, error) {
	now := l.now()
	id, err := l.store.UpsertAuditEntry(ctx, &model.AuditEntry{
		ID:          uuid.NewString(),
		SourceCode:  code,
		LoteID:      loteID,
		ExecutionID: execID,
		BronzeID:    bronzeID,
		Status:      model.AuditStatusPending,
		Snapshot:    snapshot,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return "", eris.Wrapf(err, "audit: start code %d", code)
	}
	return id, nil
}

// RecordAttempt appends one attempt to the entry. It reports false when the
// entry does not exist. Once an entry succeeds it stays succeeded.
func (l *Log) RecordAttempt(ctx context.Context, entryID string, status model.AuditStatus, duration time.Duration, errMsg string, detail map[string]any) (bool, error) {
	switch status {
	case model.AuditStatusSuccess, model.AuditStatusFailed, model.AuditStatusTimeout, model.AuditStatusError:
	default:
		return false, eris.Errorf("audit: invalid attempt status %q", status)
	}
	ok, err := l.store.AppendAuditAttempt(ctx, entryID, model.AuditAttempt{
		At:         l.now(),
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Error:      errMsg,
		Detail:     detail,
	})
	if err != nil {
		return false, eris.Wrapf(err, "audit: record attempt %s", entryID)
	}
	return ok, nil
}

// Get returns one entry with its full attempt history.
func (l *Log) Get(ctx context.Context, entryID string) (*model.AuditEntry, error) {
	e, err := l.store.GetAuditEntry(ctx, entryID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: get")
	}
	return e, nil
}

// Query returns one page of entries matching f, newest first.
func (l *Log) Query(ctx context.Context, f model.AuditFilter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	entries, total, err := l.store.QueryAudit(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "audit: query")
	}
	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Stats aggregates entries matching f. Pagination fields are ignored.
func (l *Log) Stats(ctx context.Context, f model.AuditFilter) (*model.AuditStats, error) {
	f.Limit, f.Offset = 0, 0
	stats, err := l.store.AuditStats(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "audit: stats")
	}
	return stats, nil
}
