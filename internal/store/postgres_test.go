package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS lotes`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindHashEntry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT hash, prata_id, process_number, published_on, created_at FROM hash_index WHERE hash = \$1`).
		WithArgs("abc").
		WillReturnError(pgx.ErrNoRows)

	entry, err := s.FindHashEntry(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindHashEntry_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM hash_index WHERE hash = \$1`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"hash", "prata_id", "process_number", "published_on", "created_at"}).
			AddRow("abc", "prata-1", "0001234-56.2024.8.26.0100", nil, created))

	entry, err := s.FindHashEntry(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "prata-1", entry.PrataID)
	assert.Equal(t, created, entry.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertHashEntry(t *testing.T) {
	entry := model.HashIndexEntry{Hash: "abc", PrataID: "prata-1", CreatedAt: time.Now().UTC()}

	t.Run("inserted", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`INSERT INTO hash_index .* ON CONFLICT \(hash\) DO NOTHING`).
			WithArgs("abc", "prata-1", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.InsertHashEntry(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict skipped", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`INSERT INTO hash_index`).
			WithArgs("abc", "prata-1", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		err := s.InsertHashEntry(context.Background(), entry)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateHash))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`INSERT INTO hash_index`).
			WithArgs("abc", "prata-1", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "hash_index_pkey"})

		err := s.InsertHashEntry(context.Background(), entry)
		assert.True(t, errors.Is(err, ErrDuplicateHash))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other error", func(t *testing.T) {
		s, mock := newMockPostgresStore(t)
		mock.ExpectExec(`INSERT INTO hash_index`).
			WithArgs("abc", "prata-1", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		err := s.InsertHashEntry(context.Background(), entry)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrDuplicateHash))
		assert.Contains(t, err.Error(), "insert hash entry")
	})
}

func TestPostgresStore_GetLote_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM lotes WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLote(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkBronzeProcessed_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE bronze_records SET status = \$1 WHERE id = \$2`).
		WithArgs("processed", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkBronzeProcessed(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertBronze_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectCopyFrom(pgx.Identifier{"bronze_records"}, []string{
		"id", "lote_id", "source_code", "process_number", "publication_date", "text",
		"court", "instance", "channel", "extra", "status", "ingested_at",
	}).WillReturnResult(2)

	n, err := s.InsertBronze(context.Background(), []model.BronzeRecord{
		{ID: "b1", LoteID: "l1", SourceCode: 1, Text: "a", Status: model.BronzeStatusNew, IngestedAt: now},
		{ID: "b2", LoteID: "l1", SourceCode: 2, Text: "b", Status: model.BronzeStatusNew, IngestedAt: now, Extra: map[string]any{"k": "v"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAuditAttempt(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`attempts = attempts || $2::jsonb`)).
		WithArgs("entry-1", pgxmock.AnyArg(), int64(40), "success", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE audit_log SET`).
		WithArgs("missing", pgxmock.AnyArg(), int64(10), "failed", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.AppendAuditAttempt(context.Background(), "entry-1", model.AuditAttempt{At: at, Status: model.AuditStatusSuccess, DurationMS: 40})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AppendAuditAttempt(context.Background(), "missing", model.AuditAttempt{At: at, Status: model.AuditStatusFailed, DurationMS: 10})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AuditStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\).* FROM audit_log WHERE lote_id = \$1 GROUP BY status`).
		WithArgs("lote-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "attempts", "duration"}).
			AddRow("success", 2, int64(3), int64(120)).
			AddRow("failed", 1, int64(3), int64(90)))

	stats, err := s.AuditStats(context.Background(), model.AuditFilter{LoteID: "lote-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.ByStatus[model.AuditStatusSuccess])
	assert.Equal(t, 1, stats.ByStatus[model.AuditStatusFailed])
	assert.Equal(t, int64(6), stats.TotalAttempts)
	assert.Equal(t, int64(210), stats.TotalDurationMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAuditEntry_ReturnsExistingID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO audit_log .* ON CONFLICT \(source_code\) DO UPDATE .* RETURNING id`).
		WithArgs("new-id", int64(42), "lote-1", "exec-1", "bronze-1", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := s.UpsertAuditEntry(context.Background(), &model.AuditEntry{
		ID: "new-id", SourceCode: 42, LoteID: "lote-1", ExecutionID: "exec-1", BronzeID: "bronze-1",
		Status: model.AuditStatusPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-id", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkPrataDuplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(pgMarkPrataDuplicate)).
		WithArgs("duplicate", 100.0, "winner", "exact hash match with winner", "loser").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(pgMarkPrataDuplicate)).
		WithArgs("duplicate", 100.0, "winner", "x", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.MarkPrataDuplicate(context.Background(), "loser", "winner", 100, "exact hash match with winner"))
	err := s.MarkPrataDuplicate(context.Background(), "missing", "winner", 100, "x")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
