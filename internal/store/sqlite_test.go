package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

func TestSQLite_InsertHashEntry_ConcurrentRace(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	const writers = 8
	recs := seedLote(t, s, "lote-race", writers)
	for i, b := range recs {
		require.NoError(t, s.InsertPrata(ctx, newPrata(fmt.Sprintf("p%d", i), b, "same-hash", day(2024, 3, 10))))
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertHashEntry(ctx, model.HashIndexEntry{
				Hash: "same-hash", PrataID: fmt.Sprintf("p%d", i), CreatedAt: time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, ErrDuplicateHash), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)

	entry, err := s.FindHashEntry(ctx, "same-hash")
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestSQLite_TimeFormatSortsAsText(t *testing.T) {
	a := formatTime(time.Date(2024, 3, 9, 23, 59, 59, 999999999, time.UTC))
	b := formatTime(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Less(t, a, b)
	assert.Len(t, a, len(b))

	sp := time.FixedZone("BRT", -3*3600)
	local := time.Date(2024, 3, 10, 21, 0, 0, 0, sp)
	parsed, err := parseTime(formatTime(local))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(local))
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestSQLite_ParseNullTime(t *testing.T) {
	got, err := parseNullTime(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseNullTime(sql.NullString{String: "not a time", Valid: true})
	require.Error(t, err)
}

func TestSQLite_IsUnique(t *testing.T) {
	assert.True(t, isSQLiteUnique(errors.New("constraint failed: UNIQUE constraint failed: hash_index.hash (2067)")))
	assert.False(t, isSQLiteUnique(errors.New("database is locked")))
}
