package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/dedup"
	"github.com/sells-group/publicacoes-cli/internal/fingerprint"
	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

const (
	processA = "0001234-56.2024.8.26.0100"
	processB = "0009876-54.2023.8.26.0001"
	textA    = "INTIMAÇÃO. Ficam intimadas as partes para manifestação sobre o laudo pericial no prazo de 15 dias."
	textB    = "SENTENÇA. Julgo procedente o pedido formulado pelo autor, condenando o réu ao pagamento das custas."
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newProcessor(st store.Store, cfg Config, opts ...Option) *Processor {
	return NewProcessor(st, dedup.NewEngine(st, dedup.DefaultConfig()), cfg, opts...)
}

func raw(code int64, process, date, text string) model.RawPublication {
	return model.RawPublication{SourceCode: code, ProcessNumber: process, PublicationDate: date, Text: text, Court: "TJSP"}
}

// scenario: #2 repeats #1 exactly, #3 is unrelated.
func scenario() []model.RawPublication {
	return []model.RawPublication{
		raw(1, processA, "01/03/2024", textA),
		raw(2, processA, "01/03/2024", textA),
		raw(3, processB, "02/03/2024", textB),
	}
}

// prataBySource loads every prata record reachable from the lote's bronze ids.
func prataBySource(t *testing.T, st store.Store, lote *model.Lote) map[int64]model.PrataRecord {
	t.Helper()
	ctx := context.Background()
	out := make(map[int64]model.PrataRecord)
	for _, r := range scenario() {
		recs, err := st.ListPrataByHash(ctx, fingerprint.Primary(r.ProcessNumber, r.PublicationDate, r.Text), 10)
		require.NoError(t, err)
		for _, p := range recs {
			if p.LoteID == lote.ID {
				out[p.SourceCode] = p
			}
		}
	}
	return out
}

type fakeTrigger struct {
	mu    sync.Mutex
	codes []int64
	err   error
}

func (f *fakeTrigger) Trigger(_ context.Context, rec model.PrataRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, rec.SourceCode)
	return "run-" + rec.ID, f.err
}

type fakeMarker struct {
	mu    sync.Mutex
	sizes []int
	execs map[string]bool
	err   error
}

func (f *fakeMarker) Mark(_ context.Context, execID string, targets []audit.Target) (*audit.MarkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execs == nil {
		f.execs = make(map[string]bool)
	}
	f.execs[execID] = true
	f.sizes = append(f.sizes, len(targets))
	return &audit.MarkResult{ExecutionID: execID, Codes: len(targets)}, f.err
}

type fakeSource struct {
	params model.SearchParams
	raws   []model.RawPublication
	err    error
}

func (f *fakeSource) Search(_ context.Context, params model.SearchParams) ([]model.RawPublication, error) {
	f.params = params
	return f.raws, f.err
}

// failingStore injects errors into selected store calls.
type failingStore struct {
	store.Store
	failPrata   map[int64]bool
	failBronze  bool
	hideHashes  bool
	prataCalled int
	mu          sync.Mutex
}

func (f *failingStore) InsertPrata(ctx context.Context, rec *model.PrataRecord) error {
	f.mu.Lock()
	f.prataCalled++
	f.mu.Unlock()
	if f.failPrata[rec.SourceCode] {
		return errors.New("disk full")
	}
	return f.Store.InsertPrata(ctx, rec)
}

func (f *failingStore) InsertBronze(ctx context.Context, records []model.BronzeRecord) (int64, error) {
	if f.failBronze {
		return 0, errors.New("disk full")
	}
	return f.Store.InsertBronze(ctx, records)
}

// FindHashEntry and FindCompanions hide existing records to reproduce the
// window where two workers both see a hash as unclaimed.
func (f *failingStore) FindCompanions(ctx context.Context, q store.CompanionQuery) ([]model.PrataRecord, error) {
	if f.hideHashes {
		return nil, nil
	}
	return f.Store.FindCompanions(ctx, q)
}

func TestProcessor_DuplicateScenario(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	trig := &fakeTrigger{}
	p := newProcessor(st, DefaultConfig(), WithTrigger(trig))

	lote, err := p.Ingest(ctx, model.SearchParams{GroupCode: "g1"}, scenario())
	require.NoError(t, err)
	assert.Equal(t, 3, lote.Total)
	assert.Len(t, lote.BronzeIDs, 3)

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)

	assert.Equal(t, model.LoteStatusProcessed, sum.Status)
	assert.Equal(t, 3, sum.Stats.Attempted)
	assert.Equal(t, 3, sum.Stats.Succeeded)
	assert.Zero(t, sum.Stats.Failed)
	assert.Equal(t, 2, sum.Stats.ByStatus[model.PrataStatusNovel])
	assert.Equal(t, 1, sum.Stats.ByStatus[model.PrataStatusDuplicate])

	recs := prataBySource(t, st, lote)
	require.Len(t, recs, 3)

	first, second, third := recs[1], recs[2], recs[3]
	assert.Equal(t, model.PrataStatusNovel, first.Status)
	assert.Equal(t, model.PrataStatusDuplicate, second.Status)
	assert.Equal(t, 100.0, second.SimilarityScore)
	assert.Equal(t, first.ID, second.OriginalID)
	assert.Equal(t, model.PrataStatusNovel, third.Status)
	assert.Zero(t, third.SimilarityScore)
	assert.Equal(t, first.HashPrimary, second.HashPrimary)

	assert.Equal(t, processA, first.ProcessNumber)
	assert.Equal(t, model.TypeIntimacao, first.Classification.Type)
	require.NotNil(t, first.PublishedOn)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *first.PublishedOn)

	entry, err := st.FindHashEntry(ctx, first.HashPrimary)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, first.ID, entry.PrataID)

	left, err := st.ListBronze(ctx, lote.ID, model.BronzeStatusNew)
	require.NoError(t, err)
	assert.Empty(t, left)

	stored, err := st.GetLote(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 3, stored.Stats.Succeeded)

	p.Close()
	assert.ElementsMatch(t, []int64{1, 3}, trig.codes)
}

func TestProcessor_ReprocessIsNoop(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newProcessor(st, DefaultConfig())

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)
	_, err = p.Process(ctx, lote.ID)
	require.NoError(t, err)

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Zero(t, sum.Pass.Attempted)
	assert.Equal(t, model.LoteStatusProcessed, sum.Status)
	assert.Equal(t, 3, sum.Stats.Attempted)
	assert.Equal(t, 3, sum.Stats.Succeeded)
	assert.Equal(t, 2, sum.Stats.ByStatus[model.PrataStatusNovel])
	assert.Equal(t, 1, sum.Stats.ByStatus[model.PrataStatusDuplicate])

	stored, err := st.GetLote(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Total, stored.Stats.Succeeded+stored.Stats.Failed)
	assert.Equal(t, 3, stored.Stats.Succeeded)
}

func TestProcessor_RetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t), failPrata: map[int64]bool{3: true}}
	p := newProcessor(fs, DefaultConfig())

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessedWithErrors, sum.Status)
	assert.Equal(t, 2, sum.Stats.Succeeded)
	assert.Equal(t, 1, sum.Stats.Failed)
	require.Len(t, sum.Errors, 1)

	fs.failPrata = nil
	sum, err = p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessed, sum.Status)
	assert.Equal(t, 1, sum.Pass.Attempted)
	assert.Equal(t, 1, sum.Pass.Succeeded)
	assert.Equal(t, 3, sum.Stats.Succeeded)
	assert.Zero(t, sum.Stats.Failed)
	assert.Empty(t, sum.Errors)

	stored, err := fs.GetLote(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessed, stored.Status)
	assert.Equal(t, stored.Total, stored.Stats.Succeeded+stored.Stats.Failed)
	assert.Equal(t, stored.Stats.Attempted, stored.Stats.Succeeded+stored.Stats.Failed)
	assert.Equal(t, 2, stored.Stats.ByStatus[model.PrataStatusNovel])
	assert.Equal(t, 1, stored.Stats.ByStatus[model.PrataStatusDuplicate])
	assert.Empty(t, stored.Errors)
}

func TestProcessor_ResumeAfterAbort(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t), failPrata: map[int64]bool{1: true}}
	cfg := DefaultConfig()
	cfg.ContinueOnError = false
	p := newProcessor(fs, cfg)

	raws := append(scenario(), raw(0, "", "", "sem codigo"))
	lote, err := p.Ingest(ctx, model.SearchParams{}, raws)
	require.NoError(t, err)
	require.Equal(t, 1, lote.Stats.Rejected)

	_, err = p.Process(ctx, lote.ID)
	require.ErrorIs(t, err, ErrAborted)

	fs.failPrata = nil
	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessed, sum.Status)
	assert.Equal(t, 3, sum.Stats.Succeeded)
	assert.Zero(t, sum.Stats.Failed)
	assert.Equal(t, 1, sum.Stats.Rejected)
	// Only the ingest rejection remains.
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "validate", sum.Errors[0].Stage)
}

func TestProcessor_IngestValidation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newProcessor(st, DefaultConfig())

	raws := []model.RawPublication{
		raw(1, processA, "01/03/2024", textA),
		raw(0, processA, "01/03/2024", textA),
		raw(2, processA, "01/03/2024", "   "),
		raw(1, processB, "02/03/2024", textB),
		raw(3, "", "", textB),
	}
	lote, err := p.Ingest(ctx, model.SearchParams{}, raws)
	require.NoError(t, err)

	assert.Equal(t, 2, lote.Total)
	assert.Equal(t, 3, lote.Stats.Rejected)
	require.Len(t, lote.Errors, 3)
	for _, e := range lote.Errors {
		assert.Equal(t, "validate", e.Stage)
	}
	assert.Equal(t, int64(0), lote.Errors[0].SourceCode)
	assert.Contains(t, lote.Errors[1].Message, "text")
	assert.Contains(t, lote.Errors[2].Message, "repeated")

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Stats.Attempted)
	assert.Equal(t, 3, sum.Stats.Rejected)
	assert.Equal(t, sum.Stats.Attempted, sum.Stats.Succeeded+sum.Stats.Failed)
	assert.Len(t, sum.Errors, 3)

	// Record 3 had no process number; the text has none either.
	recs, err := st.ListPrataByHash(ctx, fingerprint.Primary("", "", textB), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].ProcessNumber)
	assert.Nil(t, recs[0].PublishedOn)
}

func TestProcessor_ContinueOnError(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t), failPrata: map[int64]bool{2: true}}
	p := newProcessor(fs, DefaultConfig())

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessedWithErrors, sum.Status)
	assert.Equal(t, 3, sum.Stats.Attempted)
	assert.Equal(t, 2, sum.Stats.Succeeded)
	assert.Equal(t, 1, sum.Stats.Failed)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "persist_prata", sum.Errors[0].Stage)
	assert.Equal(t, int64(2), sum.Errors[0].SourceCode)
	assert.Contains(t, sum.Errors[0].Message, "disk full")

	// The failed record stays new for a later pass.
	left, err := fs.ListBronze(ctx, lote.ID, model.BronzeStatusNew)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(2), left[0].SourceCode)
}

func TestProcessor_AbortOnError(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t), failPrata: map[int64]bool{1: true}}
	cfg := DefaultConfig()
	cfg.ContinueOnError = false
	p := newProcessor(fs, cfg)

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)

	sum, err := p.Process(ctx, lote.ID)
	require.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, sum)
	assert.Equal(t, model.LoteStatusError, sum.Status)
	assert.Equal(t, 1, sum.Stats.Attempted)
	assert.Equal(t, 1, sum.Stats.Failed)
	assert.Equal(t, 1, fs.prataCalled)

	left, err := fs.ListBronze(ctx, lote.ID, model.BronzeStatusNew)
	require.NoError(t, err)
	assert.Len(t, left, 3)

	stored, err := fs.GetLote(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusError, stored.Status)
}

func TestProcessor_AllRecordsFail(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t), failPrata: map[int64]bool{1: true, 2: true, 3: true}}
	p := newProcessor(fs, DefaultConfig())

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessedWithErrors, sum.Status)
	assert.Equal(t, 3, sum.Stats.Failed)
	assert.Zero(t, sum.Stats.Succeeded)
	assert.Len(t, sum.Errors, 3)
}

func TestProcessor_HashConflictReclassifies(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	p := newProcessor(base, DefaultConfig())

	first, err := p.Ingest(ctx, model.SearchParams{}, scenario()[:1])
	require.NoError(t, err)
	_, err = p.Process(ctx, first.ID)
	require.NoError(t, err)
	winner, err := base.FindHashEntry(ctx, fingerprint.Primary(processA, "01/03/2024", textA))
	require.NoError(t, err)
	require.NotNil(t, winner)

	// The engine sees neither the hash nor the companion, as if both
	// records were checked before either was written.
	fs := &failingStore{Store: base, hideHashes: true}
	blind := NewProcessor(fs, dedup.NewEngine(blindEngineStore{fs}, dedup.DefaultConfig()), DefaultConfig())

	second, err := blind.Ingest(ctx, model.SearchParams{}, scenario()[1:2])
	require.NoError(t, err)
	sum, err := blind.Process(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stats.ByStatus[model.PrataStatusDuplicate])

	recs, err := base.ListPrataByHash(ctx, winner.Hash, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		if r.ID == winner.PrataID {
			assert.Equal(t, model.PrataStatusNovel, r.Status)
			continue
		}
		assert.Equal(t, model.PrataStatusDuplicate, r.Status)
		assert.Equal(t, winner.PrataID, r.OriginalID)
		assert.Equal(t, 100.0, r.SimilarityScore)
	}

	entry, err := base.FindHashEntry(ctx, winner.Hash)
	require.NoError(t, err)
	assert.Equal(t, winner.PrataID, entry.PrataID)
}

// blindEngineStore reports every hash as unclaimed to the dedup engine.
type blindEngineStore struct{ *failingStore }

func (blindEngineStore) FindHashEntry(context.Context, string) (*model.HashIndexEntry, error) {
	return nil, nil
}

func TestProcessor_ConcurrentIdenticalRecords(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.SequentialThreshold = 0
	cfg.Workers = 4
	p := newProcessor(st, cfg)

	var raws []model.RawPublication
	for i := range 8 {
		raws = append(raws, raw(int64(i+1), processA, "01/03/2024", textA))
	}
	lote, err := p.Ingest(ctx, model.SearchParams{}, raws)
	require.NoError(t, err)

	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Stats.Succeeded)
	assert.Equal(t, 1, sum.Stats.ByStatus[model.PrataStatusNovel])
	assert.Equal(t, 7, sum.Stats.ByStatus[model.PrataStatusDuplicate])

	entry, err := st.FindHashEntry(ctx, fingerprint.Primary(processA, "01/03/2024", textA))
	require.NoError(t, err)
	require.NotNil(t, entry)

	recs, err := st.ListPrataByHash(ctx, entry.Hash, 20)
	require.NoError(t, err)
	require.Len(t, recs, 8)
	for _, r := range recs {
		if r.ID == entry.PrataID {
			assert.Equal(t, model.PrataStatusNovel, r.Status)
		} else {
			assert.Equal(t, model.PrataStatusDuplicate, r.Status)
		}
	}
}

func TestProcessor_IngestMarksEachChunk(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := &fakeMarker{err: errors.New("upstream down")}
	cfg := DefaultConfig()
	cfg.ChunkSize = 2
	p := newProcessor(st, cfg, WithMarker(m))

	var raws []model.RawPublication
	for i := range 5 {
		raws = append(raws, raw(int64(i+1), processA, "01/03/2024", fmt.Sprintf("%s %d", textA, i)))
	}
	lote, err := p.Ingest(ctx, model.SearchParams{}, raws)
	require.NoError(t, err, "marking failures never fail ingestion")
	assert.Equal(t, 5, lote.Total)
	assert.Equal(t, []int{2, 2, 1}, m.sizes)
	assert.Len(t, m.execs, 1)
}

func TestProcessor_IngestChunkFailure(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t), failBronze: true}
	p := newProcessor(fs, DefaultConfig())

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.Error(t, err)
	require.NotNil(t, lote)
	assert.Equal(t, model.LoteStatusError, lote.Status)
	assert.Zero(t, lote.Total)
	assert.Equal(t, 3, lote.Stats.Rejected)
	for _, e := range lote.Errors {
		assert.Equal(t, "ingest", e.Stage)
	}

	stored, err := fs.GetLote(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusError, stored.Status)
}

func TestProcessor_Run(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := &fakeSource{raws: scenario()}
	p := newProcessor(st, DefaultConfig(), WithSource(src))

	params := model.SearchParams{GroupCode: "g1", DateFrom: "2024-03-01", DateTo: "2024-03-02"}
	sum, err := p.Run(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, params, src.params)
	assert.Equal(t, 3, sum.Stats.Succeeded)

	stored, err := st.GetLote(ctx, sum.LoteID)
	require.NoError(t, err)
	assert.Equal(t, params, stored.Params)
}

func TestProcessor_RunErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := newProcessor(st, DefaultConfig()).Run(ctx, model.SearchParams{})
	assert.ErrorContains(t, err, "no source")

	src := &fakeSource{err: errors.New("soap fault")}
	_, err = newProcessor(st, DefaultConfig(), WithSource(src)).Run(ctx, model.SearchParams{})
	assert.ErrorContains(t, err, "soap fault")
}

func TestProcessor_TriggerFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	trig := &fakeTrigger{err: errors.New("temporal unavailable")}
	p := newProcessor(st, DefaultConfig(), WithTrigger(trig))

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)
	sum, err := p.Process(ctx, lote.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteStatusProcessed, sum.Status)
	p.Close()
	assert.Len(t, trig.codes, 2)
}

// blockingTrigger holds every call until release is closed.
type blockingTrigger struct {
	started chan int64
	release chan struct{}
}

func (b *blockingTrigger) Trigger(_ context.Context, rec model.PrataRecord) (string, error) {
	b.started <- rec.SourceCode
	<-b.release
	return "run", nil
}

func TestProcessor_TriggerDoesNotHoldWorkers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	trig := &blockingTrigger{started: make(chan int64, 8), release: make(chan struct{})}
	p := newProcessor(st, DefaultConfig(), WithTrigger(trig))

	lote, err := p.Ingest(ctx, model.SearchParams{}, scenario())
	require.NoError(t, err)

	done := make(chan *model.LoteSummary, 1)
	go func() {
		sum, err := p.Process(ctx, lote.ID)
		assert.NoError(t, err)
		done <- sum
	}()

	select {
	case sum := <-done:
		assert.Equal(t, model.LoteStatusProcessed, sum.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("Process waited on the workflow trigger")
	}

	close(trig.release)
	p.Close()
	assert.Len(t, trig.started, 2)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	trig := &blockingTrigger{started: make(chan int64, 4), release: make(chan struct{})}
	d := newDispatcher(trig, 1, 1)

	require.True(t, d.enqueue(model.PrataRecord{SourceCode: 1}))
	assert.Equal(t, int64(1), <-trig.started)
	require.True(t, d.enqueue(model.PrataRecord{SourceCode: 2}))
	assert.False(t, d.enqueue(model.PrataRecord{SourceCode: 3}))

	close(trig.release)
	d.close()
	assert.Equal(t, int64(2), <-trig.started)
	assert.False(t, d.enqueue(model.PrataRecord{SourceCode: 4}), "closed dispatcher")
	d.close()
}

func TestProcessor_ProcessUnknownLote(t *testing.T) {
	_, err := newProcessor(newTestStore(t), DefaultConfig()).Process(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPrepare_FallsBackToProcessInText(t *testing.T) {
	rec := Prepare(model.BronzeRecord{
		ID:              "b1",
		ProcessNumber:   "n/a",
		PublicationDate: "2024-03-05",
		Text:            "Processo 0001234-56.2024.8.26.0100 - DESPACHO: cite-se.",
	})
	assert.Equal(t, processA, rec.ProcessNumber)
	require.NotNil(t, rec.PublishedOn)
	assert.Equal(t, 5, rec.PublishedOn.Day())
	assert.NotEqual(t, rec.HashPrimary, rec.HashSecondary)
}

func TestSummarize_StatusRules(t *testing.T) {
	p := &Processor{}
	lote := &model.Lote{ID: "l1", Stats: model.LoteStats{Rejected: 2}}
	ok := outcome{bronze: model.BronzeRecord{ID: "b1"}, prata: &model.PrataRecord{Status: model.PrataStatusNovel}}
	bad := outcome{bronze: model.BronzeRecord{ID: "b2", SourceCode: 9}, err: atStage("dedup", errors.New("x"))}

	s := p.summarize(lote, []outcome{ok}, false)
	assert.Equal(t, model.LoteStatusProcessed, s.Status)
	assert.Equal(t, 2, s.Stats.Rejected)

	s = p.summarize(lote, []outcome{ok, bad}, false)
	assert.Equal(t, model.LoteStatusProcessedWithErrors, s.Status)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "dedup", s.Errors[0].Stage)
	assert.Equal(t, "b2", s.Errors[0].BronzeID)

	s = p.summarize(lote, []outcome{bad}, true)
	assert.Equal(t, model.LoteStatusError, s.Status)
}

func TestSummarize_FoldsPreviousPass(t *testing.T) {
	p := &Processor{}
	lote := &model.Lote{
		ID:    "l1",
		Total: 3,
		Stats: model.LoteStats{
			Attempted: 3, Succeeded: 1, Failed: 2, Rejected: 1,
			ByStatus: map[model.PrataStatus]int{model.PrataStatusNovel: 1},
		},
		Errors: []model.RecordError{
			{SourceCode: 7, Stage: "validate"},
			{BronzeID: "b2", SourceCode: 2, Stage: "persist_prata"},
			{BronzeID: "b3", SourceCode: 3, Stage: "dedup"},
		},
	}
	ok := outcome{bronze: model.BronzeRecord{ID: "b2"}, prata: &model.PrataRecord{Status: model.PrataStatusDuplicate}}

	// b3 was not reached this pass; its failure carries over.
	s := p.summarize(lote, []outcome{ok}, true)
	assert.Equal(t, model.LoteStatusError, s.Status)
	assert.Equal(t, 2, s.Stats.Succeeded)
	assert.Equal(t, 1, s.Stats.Failed)
	assert.Equal(t, 3, s.Stats.Attempted)
	assert.Equal(t, 1, s.Stats.Rejected)
	assert.Equal(t, 1, s.Stats.ByStatus[model.PrataStatusDuplicate])
	assert.Equal(t, 1, s.Stats.ByStatus[model.PrataStatusNovel])
	assert.Equal(t, 1, s.Pass.Attempted)
	require.Len(t, s.Errors, 2)
	assert.Equal(t, "validate", s.Errors[0].Stage)
	assert.Equal(t, "b3", s.Errors[1].BronzeID)
}

func TestProcessOne_RecoversPanic(t *testing.T) {
	p := NewProcessor(nil, nil, DefaultConfig())
	o := p.processOne(context.Background(), model.BronzeRecord{ID: "b1", Text: textA, ProcessNumber: processA})
	require.Error(t, o.err)
	assert.Contains(t, o.err.Error(), "panic")
	assert.Nil(t, o.prata)
}
