package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/publicacoes-cli/internal/db"
	"github.com/sells-group/publicacoes-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertPrata = `INSERT INTO prata_records (` + prataColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	pgMarkPrataDuplicate = `UPDATE prata_records SET status = $1, similarity_score = $2, original_id = $3, justification = $4 WHERE id = $5`
	pgFindHashEntry      = `SELECT hash, prata_id, process_number, published_on, created_at FROM hash_index WHERE hash = $1`
	pgInsertHashEntry    = `INSERT INTO hash_index (hash, prata_id, process_number, published_on, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (hash) DO NOTHING`
	pgMarkBronzeProcessed = `UPDATE bronze_records SET status = $1 WHERE id = $2`
	pgAppendAuditAttempt  = `UPDATE audit_log SET
		attempts = attempts || $2::jsonb,
		attempt_count = attempt_count + 1,
		total_duration_ms = total_duration_ms + $3,
		status = CASE WHEN status = 'success' THEN status ELSE $4 END,
		succeeded_at = CASE WHEN succeeded_at IS NULL AND $4 = 'success' THEN $5 ELSE succeeded_at END,
		updated_at = $5
		WHERE id = $1`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// The hot-path queries are the package constants above; pgx's default
	// statement cache prepares each once per connection.

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lotes (
	id           TEXT PRIMARY KEY,
	params       JSONB NOT NULL,
	total        INTEGER NOT NULL DEFAULT 0,
	bronze_ids   JSONB NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'pending',
	stats        JSONB NOT NULL DEFAULT '{}',
	errors       JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_lotes_status ON lotes(status);
CREATE INDEX IF NOT EXISTS idx_lotes_created_at ON lotes(created_at DESC);

CREATE TABLE IF NOT EXISTS bronze_records (
	id               TEXT PRIMARY KEY,
	lote_id          TEXT NOT NULL REFERENCES lotes(id),
	source_code      BIGINT NOT NULL,
	process_number   TEXT NOT NULL DEFAULT '',
	publication_date TEXT NOT NULL DEFAULT '',
	text             TEXT NOT NULL,
	court            TEXT NOT NULL DEFAULT '',
	instance         TEXT NOT NULL DEFAULT '',
	channel          TEXT NOT NULL DEFAULT '',
	extra            JSONB,
	status           TEXT NOT NULL DEFAULT 'new',
	ingested_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bronze_lote_status ON bronze_records(lote_id, status);
CREATE INDEX IF NOT EXISTS idx_bronze_source_code ON bronze_records(source_code);

CREATE TABLE IF NOT EXISTS prata_records (
	id               TEXT PRIMARY KEY,
	bronze_id        TEXT NOT NULL REFERENCES bronze_records(id),
	lote_id          TEXT NOT NULL,
	source_code      BIGINT NOT NULL,
	hash_primary     TEXT NOT NULL,
	hash_secondary   TEXT NOT NULL,
	process_number   TEXT NOT NULL DEFAULT '',
	normalized_text  TEXT NOT NULL,
	original_text    TEXT NOT NULL,
	original_date    TEXT NOT NULL DEFAULT '',
	published_on     TIMESTAMPTZ,
	court            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	similarity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	original_id      TEXT NOT NULL DEFAULT '',
	justification    TEXT NOT NULL DEFAULT '',
	similar          JSONB NOT NULL DEFAULT '[]',
	classification   JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prata_hash_primary ON prata_records(hash_primary);
CREATE INDEX IF NOT EXISTS idx_prata_lote_id ON prata_records(lote_id);
CREATE INDEX IF NOT EXISTS idx_prata_process_date ON prata_records(process_number, published_on DESC);
CREATE INDEX IF NOT EXISTS idx_prata_status ON prata_records(status);
CREATE INDEX IF NOT EXISTS idx_prata_text_fts ON prata_records USING GIN (to_tsvector('portuguese', normalized_text));

CREATE TABLE IF NOT EXISTS hash_index (
	hash           TEXT PRIMARY KEY,
	prata_id       TEXT NOT NULL REFERENCES prata_records(id),
	process_number TEXT NOT NULL DEFAULT '',
	published_on   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id                TEXT PRIMARY KEY,
	source_code       BIGINT NOT NULL UNIQUE,
	lote_id           TEXT NOT NULL DEFAULT '',
	execution_id      TEXT NOT NULL DEFAULT '',
	bronze_id         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	attempts          JSONB NOT NULL DEFAULT '[]',
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	total_duration_ms BIGINT NOT NULL DEFAULT 0,
	snapshot          JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	succeeded_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_audit_lote_id ON audit_log(lote_id);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_log(status);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_log(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Lotes ---

func (s *PostgresStore) CreateLote(ctx context.Context, lote *model.Lote) error {
	params, err := marshalJSON(lote.Params, "lote params")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lotes (id, params, status, created_at) VALUES ($1, $2, $3, $4)`,
		lote.ID, params, string(lote.Status), lote.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert lote %s", lote.ID)
}

func (s *PostgresStore) SaveLoteIngest(ctx context.Context, lote *model.Lote) error {
	bronzeIDs, err := marshalJSON(nonNilStrings(lote.BronzeIDs), "bronze ids")
	if err != nil {
		return err
	}
	stats, err := marshalJSON(lote.Stats, "lote stats")
	if err != nil {
		return err
	}
	errs, err := marshalJSON(nonNilErrors(lote.Errors), "lote errors")
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE lotes SET total = $1, bronze_ids = $2, stats = $3, errors = $4, status = $5 WHERE id = $6`,
		lote.Total, bronzeIDs, stats, errs, string(lote.Status), lote.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save lote ingest %s", lote.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lote %s", lote.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateLoteStatus(ctx context.Context, loteID string, status model.LoteStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE lotes SET status = $1 WHERE id = $2`, string(status), loteID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lote status %s", loteID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lote %s", loteID)
	}
	return nil
}

func (s *PostgresStore) CompleteLote(ctx context.Context, loteID string, status model.LoteStatus, stats model.LoteStats, errs []model.RecordError) error {
	statsJSON, err := marshalJSON(stats, "lote stats")
	if err != nil {
		return err
	}
	errsJSON, err := marshalJSON(nonNilErrors(errs), "lote errors")
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE lotes SET status = $1, stats = $2, errors = $3, completed_at = $4 WHERE id = $5`,
		string(status), statsJSON, errsJSON, time.Now().UTC(), loteID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete lote %s", loteID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lote %s", loteID)
	}
	return nil
}

func (s *PostgresStore) GetLote(ctx context.Context, loteID string) (*model.Lote, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+loteColumns+` FROM lotes WHERE id = $1`, loteID)
	l, err := scanPgLote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lote %s", loteID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lote %s", loteID)
	}
	return l, nil
}

func (s *PostgresStore) ListLotes(ctx context.Context, filter LoteFilter) ([]model.Lote, error) {
	w := newWhere(pgPlaceholder)
	if filter.Status != "" {
		w.add("status = %s", string(filter.Status))
	}
	query := `SELECT ` + loteColumns + ` FROM lotes` + w.String() + ` ORDER BY created_at DESC`
	query += ` LIMIT ` + w.next(listLimit(filter.Limit, defaultListLimit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + w.next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lotes")
	}
	defer rows.Close()

	var lotes []model.Lote
	for rows.Next() {
		l, err := scanPgLote(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lote")
		}
		lotes = append(lotes, *l)
	}
	return lotes, eris.Wrap(rows.Err(), "postgres: list lotes iterate")
}

func scanPgLote(row pgx.Row) (*model.Lote, error) {
	var l model.Lote
	var params, bronzeIDs, stats, errs []byte
	if err := row.Scan(&l.ID, &params, &l.Total, &bronzeIDs, &l.Status, &stats, &errs, &l.CreatedAt, &l.CompletedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(params, &l.Params, "lote params"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(bronzeIDs, &l.BronzeIDs, "bronze ids"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(stats, &l.Stats, "lote stats"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(errs, &l.Errors, "lote errors"); err != nil {
		return nil, err
	}
	return &l, nil
}

// --- Bronze ---

// InsertBronze writes a chunk of bronze records with COPY.
func (s *PostgresStore) InsertBronze(ctx context.Context, records []model.BronzeRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		extra, err := marshalOptional(r.Extra, "bronze extra")
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			r.ID, r.LoteID, r.SourceCode, r.ProcessNumber, r.PublicationDate, r.Text,
			r.Court, r.Instance, r.Channel, extra, string(r.Status), r.IngestedAt,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "bronze_records", []string{
		"id", "lote_id", "source_code", "process_number", "publication_date", "text",
		"court", "instance", "channel", "extra", "status", "ingested_at",
	}, rows)
	return n, eris.Wrap(err, "postgres: insert bronze")
}

func (s *PostgresStore) ListBronze(ctx context.Context, loteID string, status model.BronzeStatus) ([]model.BronzeRecord, error) {
	w := newWhere(pgPlaceholder)
	w.add("lote_id = %s", loteID)
	if status != "" {
		w.add("status = %s", string(status))
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+bronzeColumns+` FROM bronze_records`+w.String()+` ORDER BY ingested_at, source_code`,
		w.args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list bronze for lote %s", loteID)
	}
	defer rows.Close()

	var out []model.BronzeRecord
	for rows.Next() {
		var b model.BronzeRecord
		var extra []byte
		if err := rows.Scan(&b.ID, &b.LoteID, &b.SourceCode, &b.ProcessNumber, &b.PublicationDate, &b.Text,
			&b.Court, &b.Instance, &b.Channel, &extra, &b.Status, &b.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bronze")
		}
		if err := unmarshalJSON(extra, &b.Extra, "bronze extra"); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list bronze iterate")
}

func (s *PostgresStore) MarkBronzeProcessed(ctx context.Context, bronzeID string) error {
	tag, err := s.pool.Exec(ctx, pgMarkBronzeProcessed, string(model.BronzeStatusProcessed), bronzeID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark bronze processed %s", bronzeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: bronze %s", bronzeID)
	}
	return nil
}

// --- Prata ---

func (s *PostgresStore) InsertPrata(ctx context.Context, rec *model.PrataRecord) error {
	similar, err := marshalJSON(nonNilSimilar(rec.Similar), "prata similar")
	if err != nil {
		return err
	}
	classification, err := marshalJSON(rec.Classification, "prata classification")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, pgInsertPrata,
		rec.ID, rec.BronzeID, rec.LoteID, rec.SourceCode, rec.HashPrimary, rec.HashSecondary,
		rec.ProcessNumber, rec.NormalizedText, rec.OriginalText, rec.OriginalDate, rec.PublishedOn, rec.Court,
		string(rec.Status), rec.SimilarityScore, rec.OriginalID, rec.Justification, similar, classification, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert prata %s", rec.ID)
}

func (s *PostgresStore) MarkPrataDuplicate(ctx context.Context, prataID, originalID string, score float64, justification string) error {
	tag, err := s.pool.Exec(ctx, pgMarkPrataDuplicate,
		string(model.PrataStatusDuplicate), score, originalID, justification, prataID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark prata duplicate %s", prataID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: prata %s", prataID)
	}
	return nil
}

func (s *PostgresStore) GetPrata(ctx context.Context, prataID string) (*model.PrataRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prataColumns+` FROM prata_records WHERE id = $1`, prataID)
	p, err := scanPgPrata(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: prata %s", prataID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prata %s", prataID)
	}
	return p, nil
}

func (s *PostgresStore) ListPrataByHash(ctx context.Context, hash string, limit int) ([]model.PrataRecord, error) {
	return s.queryPrata(ctx, "list prata by hash",
		`SELECT `+prataColumns+` FROM prata_records WHERE hash_primary = $1
		 ORDER BY published_on DESC NULLS LAST, created_at LIMIT $2`,
		hash, listLimit(limit, defaultListLimit),
	)
}

func (s *PostgresStore) FindCompanions(ctx context.Context, q CompanionQuery) ([]model.PrataRecord, error) {
	w := newWhere(pgPlaceholder)
	w.add("process_number = %s", q.ProcessNumber)
	if q.From != nil {
		w.add("published_on >= %s", q.From.UTC())
	}
	if q.To != nil {
		w.add("published_on <= %s", q.To.UTC())
	}
	query := `SELECT ` + prataColumns + ` FROM prata_records` + w.String() +
		` ORDER BY published_on DESC NULLS LAST, created_at DESC LIMIT ` + w.next(listLimit(q.Limit, defaultListLimit))
	return s.queryPrata(ctx, "find companions", query, w.args...)
}

func (s *PostgresStore) queryPrata(ctx context.Context, op, query string, args ...any) ([]model.PrataRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.PrataRecord
	for rows.Next() {
		p, err := scanPgPrata(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s scan", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func scanPgPrata(row pgx.Row) (*model.PrataRecord, error) {
	var p model.PrataRecord
	var similar, classification []byte
	if err := row.Scan(&p.ID, &p.BronzeID, &p.LoteID, &p.SourceCode, &p.HashPrimary, &p.HashSecondary,
		&p.ProcessNumber, &p.NormalizedText, &p.OriginalText, &p.OriginalDate, &p.PublishedOn, &p.Court,
		&p.Status, &p.SimilarityScore, &p.OriginalID, &p.Justification, &similar, &classification, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(similar, &p.Similar, "prata similar"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(classification, &p.Classification, "prata classification"); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Hash index ---

// FindHashEntry returns nil, nil when the hash is not registered.
func (s *PostgresStore) FindHashEntry(ctx context.Context, hash string) (*model.HashIndexEntry, error) {
	var e model.HashIndexEntry
	err := s.pool.QueryRow(ctx, pgFindHashEntry, hash).
		Scan(&e.Hash, &e.PrataID, &e.ProcessNumber, &e.PublishedOn, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find hash entry")
	}
	return &e, nil
}

// InsertHashEntry registers a hash. A hash that is already present yields
// ErrDuplicateHash.
func (s *PostgresStore) InsertHashEntry(ctx context.Context, entry model.HashIndexEntry) error {
	tag, err := s.pool.Exec(ctx, pgInsertHashEntry,
		entry.Hash, entry.PrataID, entry.ProcessNumber, entry.PublishedOn, entry.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return eris.Wrapf(ErrDuplicateHash, "postgres: hash %s", entry.Hash)
		}
		return eris.Wrap(err, "postgres: insert hash entry")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrDuplicateHash, "postgres: hash %s", entry.Hash)
	}
	return nil
}

// --- Audit log ---

// UpsertAuditEntry creates the entry for a source code, or returns the id of
// the one that already exists.
func (s *PostgresStore) UpsertAuditEntry(ctx context.Context, entry *model.AuditEntry) (string, error) {
	snapshot, err := marshalOptional(entry.Snapshot, "audit snapshot")
	if err != nil {
		return "", err
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO audit_log (id, source_code, lote_id, execution_id, bronze_id, status, snapshot, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (source_code) DO UPDATE SET updated_at = audit_log.updated_at
		 RETURNING id`,
		entry.ID, entry.SourceCode, entry.LoteID, entry.ExecutionID, entry.BronzeID,
		string(entry.Status), snapshot, entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: upsert audit entry for code %d", entry.SourceCode)
	}
	return id, nil
}

func (s *PostgresStore) AppendAuditAttempt(ctx context.Context, entryID string, attempt model.AuditAttempt) (bool, error) {
	attemptJSON, err := marshalJSON([]model.AuditAttempt{attempt}, "audit attempt")
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, pgAppendAuditAttempt,
		entryID, attemptJSON, attempt.DurationMS, string(attempt.Status), attempt.At,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: append audit attempt %s", entryID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetAuditEntry(ctx context.Context, entryID string) (*model.AuditEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = $1`, entryID)
	e, err := scanPgAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: audit entry %s", entryID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get audit entry %s", entryID)
	}
	return e, nil
}

// QueryAudit returns one page of matching entries, newest first, and the
// total number of matches.
func (s *PostgresStore) QueryAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, int, error) {
	w := auditWhere(filter, pgPlaceholder, func(t time.Time) any { return t })

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count audit")
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log` + w.String() + ` ORDER BY created_at DESC, source_code`
	query += ` LIMIT ` + w.next(listLimit(filter.Limit, defaultAuditLimit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + w.next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: query audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanPgAudit(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan audit")
		}
		out = append(out, *e)
	}
	return out, total, eris.Wrap(rows.Err(), "postgres: query audit iterate")
}

func (s *PostgresStore) AuditStats(ctx context.Context, filter model.AuditFilter) (*model.AuditStats, error) {
	w := auditWhere(filter, pgPlaceholder, func(t time.Time) any { return t })
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(attempt_count), 0), COALESCE(SUM(total_duration_ms), 0)
		 FROM audit_log`+w.String()+` GROUP BY status`,
		w.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: audit stats")
	}
	defer rows.Close()

	stats := newAuditStats()
	for rows.Next() {
		var status model.AuditStatus
		var count int
		var attempts, duration int64
		if err := rows.Scan(&status, &count, &attempts, &duration); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit stats")
		}
		stats.ByStatus[status] = count
		stats.Entries += count
		stats.TotalAttempts += attempts
		stats.TotalDurationMS += duration
	}
	return stats, eris.Wrap(rows.Err(), "postgres: audit stats iterate")
}

func scanPgAudit(row pgx.Row) (*model.AuditEntry, error) {
	var e model.AuditEntry
	var attempts, snapshot []byte
	if err := row.Scan(&e.ID, &e.SourceCode, &e.LoteID, &e.ExecutionID, &e.BronzeID, &e.Status, &attempts,
		&e.AttemptCount, &e.TotalDurationMS, &snapshot, &e.CreatedAt, &e.UpdatedAt, &e.SucceededAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(attempts, &e.Attempts, "audit attempts"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(snapshot, &e.Snapshot, "audit snapshot"); err != nil {
		return nil, err
	}
	return &e, nil
}

// JSON columns are NOT NULL arrays; keep nil slices encoding as [].

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilErrors(s []model.RecordError) []model.RecordError {
	if s == nil {
		return []model.RecordError{}
	}
	return s
}

func nonNilSimilar(s []model.SimilarRecord) []model.SimilarRecord {
	if s == nil {
		return []model.SimilarRecord{}
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
