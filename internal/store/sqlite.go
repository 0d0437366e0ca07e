package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers; the worker pool still runs the
	// CPU-bound parts of each record concurrently.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lotes (
	id           TEXT PRIMARY KEY,
	params       TEXT NOT NULL,
	total        INTEGER NOT NULL DEFAULT 0,
	bronze_ids   TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'pending',
	stats        TEXT NOT NULL DEFAULT '{}',
	errors       TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_lotes_status ON lotes(status);

CREATE TABLE IF NOT EXISTS bronze_records (
	id               TEXT PRIMARY KEY,
	lote_id          TEXT NOT NULL REFERENCES lotes(id),
	source_code      INTEGER NOT NULL,
	process_number   TEXT NOT NULL DEFAULT '',
	publication_date TEXT NOT NULL DEFAULT '',
	text             TEXT NOT NULL,
	court            TEXT NOT NULL DEFAULT '',
	instance         TEXT NOT NULL DEFAULT '',
	channel          TEXT NOT NULL DEFAULT '',
	extra            TEXT,
	status           TEXT NOT NULL DEFAULT 'new',
	ingested_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bronze_lote_status ON bronze_records(lote_id, status);
CREATE INDEX IF NOT EXISTS idx_bronze_source_code ON bronze_records(source_code);

CREATE TABLE IF NOT EXISTS prata_records (
	id               TEXT PRIMARY KEY,
	bronze_id        TEXT NOT NULL REFERENCES bronze_records(id),
	lote_id          TEXT NOT NULL,
	source_code      INTEGER NOT NULL,
	hash_primary     TEXT NOT NULL,
	hash_secondary   TEXT NOT NULL,
	process_number   TEXT NOT NULL DEFAULT '',
	normalized_text  TEXT NOT NULL,
	original_text    TEXT NOT NULL,
	original_date    TEXT NOT NULL DEFAULT '',
	published_on     TEXT,
	court            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	similarity_score REAL NOT NULL DEFAULT 0,
	original_id      TEXT NOT NULL DEFAULT '',
	justification    TEXT NOT NULL DEFAULT '',
	similar          TEXT NOT NULL DEFAULT '[]',
	classification   TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prata_hash_primary ON prata_records(hash_primary);
CREATE INDEX IF NOT EXISTS idx_prata_lote_id ON prata_records(lote_id);
CREATE INDEX IF NOT EXISTS idx_prata_process_date ON prata_records(process_number, published_on);
CREATE INDEX IF NOT EXISTS idx_prata_status ON prata_records(status);

CREATE TABLE IF NOT EXISTS hash_index (
	hash           TEXT PRIMARY KEY,
	prata_id       TEXT NOT NULL REFERENCES prata_records(id),
	process_number TEXT NOT NULL DEFAULT '',
	published_on   TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id                TEXT PRIMARY KEY,
	source_code       INTEGER NOT NULL UNIQUE,
	lote_id           TEXT NOT NULL DEFAULT '',
	execution_id      TEXT NOT NULL DEFAULT '',
	bronze_id         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	attempts          TEXT NOT NULL DEFAULT '[]',
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0,
	snapshot          TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	succeeded_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_lote_id ON audit_log(lote_id);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_log(status);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_log(created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Lotes ---

func (s *SQLiteStore) CreateLote(ctx context.Context, lote *model.Lote) error {
	params, err := marshalJSON(lote.Params, "lote params")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lotes (id, params, status, created_at) VALUES (?, ?, ?, ?)`,
		lote.ID, string(params), string(lote.Status), formatTime(lote.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert lote %s", lote.ID)
}

func (s *SQLiteStore) SaveLoteIngest(ctx context.Context, lote *model.Lote) error {
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

	res, err := s.db.ExecContext(ctx,
		`UPDATE lotes SET total = ?, bronze_ids = ?, stats = ?, errors = ?, status = ? WHERE id = ?`,
		lote.Total, string(bronzeIDs), string(stats), string(errs), string(lote.Status), lote.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save lote ingest %s", lote.ID)
	}
	return checkRowsAffected(res, "lote", lote.ID)
}

func (s *SQLiteStore) UpdateLoteStatus(ctx context.Context, loteID string, status model.LoteStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE lotes SET status = ? WHERE id = ?`, string(status), loteID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lote status %s", loteID)
	}
	return checkRowsAffected(res, "lote", loteID)
}

func (s *SQLiteStore) CompleteLote(ctx context.Context, loteID string, status model.LoteStatus, stats model.LoteStats, errs []model.RecordError) error {
	statsJSON, err := marshalJSON(stats, "lote stats")
	if err != nil {
		return err
	}
	errsJSON, err := marshalJSON(nonNilErrors(errs), "lote errors")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE lotes SET status = ?, stats = ?, errors = ?, completed_at = ? WHERE id = ?`,
		string(status), string(statsJSON), string(errsJSON), formatTime(time.Now()), loteID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete lote %s", loteID)
	}
	return checkRowsAffected(res, "lote", loteID)
}

func (s *SQLiteStore) GetLote(ctx context.Context, loteID string) (*model.Lote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loteColumns+` FROM lotes WHERE id = ?`, loteID)
	l, err := scanSQLiteLote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lote %s", loteID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lote %s", loteID)
	}
	return l, nil
}

func (s *SQLiteStore) ListLotes(ctx context.Context, filter LoteFilter) ([]model.Lote, error) {
	w := newWhere(sqlitePlaceholder)
	if filter.Status != "" {
		w.add("status = %s", string(filter.Status))
	}
	query := `SELECT ` + loteColumns + ` FROM lotes` + w.String() + ` ORDER BY created_at DESC`
	query += ` LIMIT ` + w.next(listLimit(filter.Limit, defaultListLimit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + w.next(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lotes")
	}
	defer rows.Close()

	var lotes []model.Lote
	for rows.Next() {
		l, err := scanSQLiteLote(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lote")
		}
		lotes = append(lotes, *l)
	}
	return lotes, eris.Wrap(rows.Err(), "sqlite: list lotes iterate")
}

func scanSQLiteLote(row scannable) (*model.Lote, error) {
	var l model.Lote
	var params, bronzeIDs, stats, errs, createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&l.ID, &params, &l.Total, &bronzeIDs, &l.Status, &stats, &errs, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	var err error
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(params), &l.Params, "lote params"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(bronzeIDs), &l.BronzeIDs, "bronze ids"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(stats), &l.Stats, "lote stats"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(errs), &l.Errors, "lote errors"); err != nil {
		return nil, err
	}
	return &l, nil
}

// --- Bronze ---

// sqliteBronzeBatch bounds a multi-row INSERT well under the default
// variable limit (12 columns per row).
const sqliteBronzeBatch = 50

// InsertBronze writes a chunk of bronze records in one transaction.
func (s *SQLiteStore) InsertBronze(ctx context.Context, records []model.BronzeRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert bronze: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for start := 0; start < len(records); start += sqliteBronzeBatch {
		end := min(start+sqliteBronzeBatch, len(records))
		batch := records[start:end]

		values := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*12)
		for _, r := range batch {
			extra, err := marshalOptional(r.Extra, "bronze extra")
			if err != nil {
				return 0, err
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				r.ID, r.LoteID, r.SourceCode, r.ProcessNumber, r.PublicationDate, r.Text,
				r.Court, r.Instance, r.Channel, nullableString(extra), string(r.Status), formatTime(r.IngestedAt),
			)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO bronze_records (`+bronzeColumns+`) VALUES `+strings.Join(values, ", "),
			args...,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert bronze")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert bronze rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert bronze: commit tx")
	}
	return total, nil
}

func (s *SQLiteStore) ListBronze(ctx context.Context, loteID string, status model.BronzeStatus) ([]model.BronzeRecord, error) {
	w := newWhere(sqlitePlaceholder)
	w.add("lote_id = %s", loteID)
	if status != "" {
		w.add("status = %s", string(status))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bronzeColumns+` FROM bronze_records`+w.String()+` ORDER BY ingested_at, source_code`,
		w.args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list bronze for lote %s", loteID)
	}
	defer rows.Close()

	var out []model.BronzeRecord
	for rows.Next() {
		var b model.BronzeRecord
		var extra sql.NullString
		var ingestedAt string
		if err := rows.Scan(&b.ID, &b.LoteID, &b.SourceCode, &b.ProcessNumber, &b.PublicationDate, &b.Text,
			&b.Court, &b.Instance, &b.Channel, &extra, &b.Status, &ingestedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bronze")
		}
		if b.IngestedAt, err = parseTime(ingestedAt); err != nil {
			return nil, err
		}
		if extra.Valid {
			if err := unmarshalJSON([]byte(extra.String), &b.Extra, "bronze extra"); err != nil {
				return nil, err
			}
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list bronze iterate")
}

func (s *SQLiteStore) MarkBronzeProcessed(ctx context.Context, bronzeID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bronze_records SET status = ? WHERE id = ?`,
		string(model.BronzeStatusProcessed), bronzeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark bronze processed %s", bronzeID)
	}
	return checkRowsAffected(res, "bronze", bronzeID)
}

// --- Prata ---

func (s *SQLiteStore) InsertPrata(ctx context.Context, rec *model.PrataRecord) error {
	similar, err := marshalJSON(nonNilSimilar(rec.Similar), "prata similar")
	if err != nil {
		return err
	}
	classification, err := marshalJSON(rec.Classification, "prata classification")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prata_records (`+prataColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BronzeID, rec.LoteID, rec.SourceCode, rec.HashPrimary, rec.HashSecondary,
		rec.ProcessNumber, rec.NormalizedText, rec.OriginalText, rec.OriginalDate, formatNullTime(rec.PublishedOn), rec.Court,
		string(rec.Status), rec.SimilarityScore, rec.OriginalID, rec.Justification, string(similar), string(classification),
		formatTime(rec.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert prata %s", rec.ID)
}

func (s *SQLiteStore) MarkPrataDuplicate(ctx context.Context, prataID, originalID string, score float64, justification string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prata_records SET status = ?, similarity_score = ?, original_id = ?, justification = ? WHERE id = ?`,
		string(model.PrataStatusDuplicate), score, originalID, justification, prataID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark prata duplicate %s", prataID)
	}
	return checkRowsAffected(res, "prata", prataID)
}

func (s *SQLiteStore) GetPrata(ctx context.Context, prataID string) (*model.PrataRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prataColumns+` FROM prata_records WHERE id = ?`, prataID)
	p, err := scanSQLitePrata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: prata %s", prataID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prata %s", prataID)
	}
	return p, nil
}

func (s *SQLiteStore) ListPrataByHash(ctx context.Context, hash string, limit int) ([]model.PrataRecord, error) {
	return s.queryPrata(ctx, "list prata by hash",
		`SELECT `+prataColumns+` FROM prata_records WHERE hash_primary = ?
		 ORDER BY published_on IS NULL, published_on DESC, created_at LIMIT ?`,
		hash, listLimit(limit, defaultListLimit),
	)
}

func (s *SQLiteStore) FindCompanions(ctx context.Context, q CompanionQuery) ([]model.PrataRecord, error) {
	w := newWhere(sqlitePlaceholder)
	w.add("process_number = %s", q.ProcessNumber)
	if q.From != nil {
		w.add("published_on >= %s", formatTime(*q.From))
	}
	if q.To != nil {
		w.add("published_on <= %s", formatTime(*q.To))
	}
	query := `SELECT ` + prataColumns + ` FROM prata_records` + w.String() +
		` ORDER BY published_on IS NULL, published_on DESC, created_at DESC LIMIT ` + w.next(listLimit(q.Limit, defaultListLimit))
	return s.queryPrata(ctx, "find companions", query, w.args...)
}

func (s *SQLiteStore) queryPrata(ctx context.Context, op, query string, args ...any) ([]model.PrataRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []model.PrataRecord
	for rows.Next() {
		p, err := scanSQLitePrata(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func scanSQLitePrata(row scannable) (*model.PrataRecord, error) {
	var p model.PrataRecord
	var similar, classification, createdAt string
	var publishedOn sql.NullString
	if err := row.Scan(&p.ID, &p.BronzeID, &p.LoteID, &p.SourceCode, &p.HashPrimary, &p.HashSecondary,
		&p.ProcessNumber, &p.NormalizedText, &p.OriginalText, &p.OriginalDate, &publishedOn, &p.Court,
		&p.Status, &p.SimilarityScore, &p.OriginalID, &p.Justification, &similar, &classification, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.PublishedOn, err = parseNullTime(publishedOn); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(similar), &p.Similar, "prata similar"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(classification), &p.Classification, "prata classification"); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Hash index ---

// FindHashEntry returns nil, nil when the hash is not registered.
func (s *SQLiteStore) FindHashEntry(ctx context.Context, hash string) (*model.HashIndexEntry, error) {
	var e model.HashIndexEntry
	var publishedOn sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, prata_id, process_number, published_on, created_at FROM hash_index WHERE hash = ?`,
		hash,
	).Scan(&e.Hash, &e.PrataID, &e.ProcessNumber, &publishedOn, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find hash entry")
	}
	if e.PublishedOn, err = parseNullTime(publishedOn); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertHashEntry registers a hash. A hash that is already present yields
// ErrDuplicateHash.
func (s *SQLiteStore) InsertHashEntry(ctx context.Context, entry model.HashIndexEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hash_index (hash, prata_id, process_number, published_on, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Hash, entry.PrataID, entry.ProcessNumber, formatNullTime(entry.PublishedOn), formatTime(entry.CreatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrDuplicateHash, "sqlite: hash %s", entry.Hash)
		}
		return eris.Wrap(err, "sqlite: insert hash entry")
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Audit log ---

// UpsertAuditEntry creates the entry for a source code, or returns the id of
// the one that already exists.
func (s *SQLiteStore) UpsertAuditEntry(ctx context.Context, entry *model.AuditEntry) (string, error) {
	snapshot, err := marshalOptional(entry.Snapshot, "audit snapshot")
	if err != nil {
		return "", err
	}

	now := formatTime(entry.CreatedAt)
	var id string
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO audit_log (id, source_code, lote_id, execution_id, bronze_id, status, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_code) DO UPDATE SET updated_at = audit_log.updated_at
		 RETURNING id`,
		entry.ID, entry.SourceCode, entry.LoteID, entry.ExecutionID, entry.BronzeID,
		string(entry.Status), nullableString(snapshot), now, now,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: upsert audit entry for code %d", entry.SourceCode)
	}
	return id, nil
}

func (s *SQLiteStore) AppendAuditAttempt(ctx context.Context, entryID string, attempt model.AuditAttempt) (bool, error) {
	attemptJSON, err := marshalJSON(attempt, "audit attempt")
	if err != nil {
		return false, err
	}
	at := formatTime(attempt.At)
	status := string(attempt.Status)

	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_log SET
			attempts = json_insert(attempts, '$[#]', json(?)),
			attempt_count = attempt_count + 1,
			total_duration_ms = total_duration_ms + ?,
			status = CASE WHEN status = 'success' THEN status ELSE ? END,
			succeeded_at = CASE WHEN succeeded_at IS NULL AND ? = 'success' THEN ? ELSE succeeded_at END,
			updated_at = ?
		 WHERE id = ?`,
		string(attemptJSON), attempt.DurationMS, status, status, at, at, entryID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: append audit attempt %s", entryID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetAuditEntry(ctx context.Context, entryID string) (*model.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id = ?`, entryID)
	e, err := scanSQLiteAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: audit entry %s", entryID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get audit entry %s", entryID)
	}
	return e, nil
}

// QueryAudit returns one page of matching entries, newest first, and the
// total number of matches.
func (s *SQLiteStore) QueryAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, int, error) {
	w := auditWhere(filter, sqlitePlaceholder, func(t time.Time) any { return formatTime(t) })

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count audit")
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log` + w.String() + ` ORDER BY created_at DESC, source_code`
	query += ` LIMIT ` + w.next(listLimit(filter.Limit, defaultAuditLimit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + w.next(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: query audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanSQLiteAudit(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan audit")
		}
		out = append(out, *e)
	}
	return out, total, eris.Wrap(rows.Err(), "sqlite: query audit iterate")
}

func (s *SQLiteStore) AuditStats(ctx context.Context, filter model.AuditFilter) (*model.AuditStats, error) {
	w := auditWhere(filter, sqlitePlaceholder, func(t time.Time) any { return formatTime(t) })
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(attempt_count), 0), COALESCE(SUM(total_duration_ms), 0)
		 FROM audit_log`+w.String()+` GROUP BY status`,
		w.args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: audit stats")
	}
	defer rows.Close()

	stats := newAuditStats()
	for rows.Next() {
		var status model.AuditStatus
		var count int
		var attempts, duration int64
		if err := rows.Scan(&status, &count, &attempts, &duration); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit stats")
		}
		stats.ByStatus[status] = count
		stats.Entries += count
		stats.TotalAttempts += attempts
		stats.TotalDurationMS += duration
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: audit stats iterate")
}

func scanSQLiteAudit(row scannable) (*model.AuditEntry, error) {
	var e model.AuditEntry
	var attempts, createdAt, updatedAt string
	var snapshot, succeededAt sql.NullString
	if err := row.Scan(&e.ID, &e.SourceCode, &e.LoteID, &e.ExecutionID, &e.BronzeID, &e.Status, &attempts,
		&e.AttemptCount, &e.TotalDurationMS, &snapshot, &createdAt, &updatedAt, &succeededAt); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.SucceededAt, err = parseNullTime(succeededAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(attempts), &e.Attempts, "audit attempts"); err != nil {
		return nil, err
	}
	if snapshot.Valid {
		if err := unmarshalJSON([]byte(snapshot.String), &e.Snapshot, "audit snapshot"); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// helpers

// sqliteTimeLayout is fixed-width so stored timestamps compare correctly as
// text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

var _ Store = (*SQLiteStore)(nil)
