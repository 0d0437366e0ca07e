package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

var (
	// ErrNotFound is returned by Get* methods when the row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicateHash is returned by InsertHashEntry when the hash is
	// already registered. Callers treat it as an exact-duplicate signal.
	ErrDuplicateHash = eris.New("store: duplicate hash")
)

// LoteFilter specifies criteria for listing lotes.
type LoteFilter struct {
	Status model.LoteStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// CompanionQuery selects prata records that share a normalized process
// number, optionally within a publication date window.
type CompanionQuery struct {
	ProcessNumber string
	From          *time.Time
	To            *time.Time
	Limit         int
}

// Store defines the persistence interface for the publication pipeline.
type Store interface {
	// Lotes
	CreateLote(ctx context.Context, lote *model.Lote) error
	SaveLoteIngest(ctx context.Context, lote *model.Lote) error
	UpdateLoteStatus(ctx context.Context, loteID string, status model.LoteStatus) error
	CompleteLote(ctx context.Context, loteID string, status model.LoteStatus, stats model.LoteStats, errs []model.RecordError) error
	GetLote(ctx context.Context, loteID string) (*model.Lote, error)
	ListLotes(ctx context.Context, filter LoteFilter) ([]model.Lote, error)

	// Bronze
	InsertBronze(ctx context.Context, records []model.BronzeRecord) (int64, error)
	ListBronze(ctx context.Context, loteID string, status model.BronzeStatus) ([]model.BronzeRecord, error)
	MarkBronzeProcessed(ctx context.Context, bronzeID string) error

	// Prata
	InsertPrata(ctx context.Context, rec *model.PrataRecord) error
	MarkPrataDuplicate(ctx context.Context, prataID, originalID string, score float64, justification string) error
	GetPrata(ctx context.Context, prataID string) (*model.PrataRecord, error)
	ListPrataByHash(ctx context.Context, hash string, limit int) ([]model.PrataRecord, error)
	FindCompanions(ctx context.Context, q CompanionQuery) ([]model.PrataRecord, error)

	// Hash index
	FindHashEntry(ctx context.Context, hash string) (*model.HashIndexEntry, error)
	InsertHashEntry(ctx context.Context, entry model.HashIndexEntry) error

	// Audit log
	UpsertAuditEntry(ctx context.Context, entry *model.AuditEntry) (string, error)
	AppendAuditAttempt(ctx context.Context, entryID string, attempt model.AuditAttempt) (bool, error)
	GetAuditEntry(ctx context.Context, entryID string) (*model.AuditEntry, error)
	QueryAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, int, error)
	AuditStats(ctx context.Context, filter model.AuditFilter) (*model.AuditStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const (
	defaultListLimit  = 100
	defaultAuditLimit = 50
)

const prataColumns = `id, bronze_id, lote_id, source_code, hash_primary, hash_secondary,
	process_number, normalized_text, original_text, original_date, published_on, court,
	status, similarity_score, original_id, justification, similar, classification, created_at`

const bronzeColumns = `id, lote_id, source_code, process_number, publication_date, text,
	court, instance, channel, extra, status, ingested_at`

const loteColumns = `id, params, total, bronze_ids, status, stats, errors, created_at, completed_at`

const auditColumns = `id, source_code, lote_id, execution_id, bronze_id, status, attempts,
	attempt_count, total_duration_ms, snapshot, created_at, updated_at, succeeded_at`

// where accumulates AND-ed conditions with driver-specific placeholders.
// Each condition carries a single %s where its placeholder goes.
type where struct {
	clauses []string
	args    []any
	ph      func(n int) string
}

func newWhere(ph func(n int) string) *where {
	return &where{ph: ph}
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(cond, w.ph(len(w.args))))
}

// next returns the placeholder for an argument appended after the conditions.
func (w *where) next(arg any) string {
	w.args = append(w.args, arg)
	return w.ph(len(w.args))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func sqlitePlaceholder(int) string { return "?" }

// auditWhere builds the shared audit filter. conv adapts time arguments to
// the driver's column representation.
func auditWhere(f model.AuditFilter, ph func(int) string, conv func(time.Time) any) *where {
	w := newWhere(ph)
	if f.SourceCode != 0 {
		w.add("source_code = %s", f.SourceCode)
	}
	if f.LoteID != "" {
		w.add("lote_id = %s", f.LoteID)
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	if f.From != nil {
		w.add("created_at >= %s", conv(f.From.UTC()))
	}
	if f.To != nil {
		w.add("created_at <= %s", conv(f.To.UTC()))
	}
	return w
}

func marshalJSON(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal %s", what)
	}
	return b, nil
}

// marshalOptional returns nil for empty maps so the column stays NULL.
func marshalOptional(m map[string]any, what string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return marshalJSON(m, what)
}

func unmarshalJSON(data []byte, v any, what string) error {
	if len(data) == 0 {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(data, v), "store: unmarshal %s", what)
}

func listLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func newAuditStats() *model.AuditStats {
	return &model.AuditStats{ByStatus: make(map[model.AuditStatus]int)}
}
