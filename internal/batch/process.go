package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/publicacoes-cli/internal/classify"
	"github.com/sells-group/publicacoes-cli/internal/dedup"
	"github.com/sells-group/publicacoes-cli/internal/fingerprint"
	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/normalize"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

// ErrAborted is returned when a lote stops at its first failure.
var ErrAborted = eris.New("batch: lote aborted")

// stageError tags a record failure with the pipeline stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

// outcome is the result of one bronze record.
type outcome struct {
	bronze model.BronzeRecord
	prata  *model.PrataRecord
	err    error
}

// Process runs every new bronze record of the lote through the pipeline and
// records the aggregate outcome on the lote. A record failure never touches
// other records; with ContinueOnError disabled, records not yet started are
// left new and the lote ends in error.
func (p *Processor) Process(ctx context.Context, loteID string) (*model.LoteSummary, error) {
	start := time.Now()
	log := zap.L().With(zap.String("lote_id", loteID))

	lote, err := p.store.GetLote(ctx, loteID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: process: get lote %s", loteID)
	}
	if err := p.store.UpdateLoteStatus(ctx, loteID, model.LoteStatusProcessing); err != nil {
		return nil, eris.Wrap(model.NewPersistenceError("update lote status", err), "batch: process")
	}
	bronze, err := p.store.ListBronze(ctx, loteID, model.BronzeStatusNew)
	if err != nil {
		p.fail(ctx, lote)
		return nil, eris.Wrap(model.NewPersistenceError("list bronze", err), "batch: process")
	}

	sequential := p.cfg.Sequential || len(bronze) <= p.cfg.SequentialThreshold
	log.Info("processing lote",
		zap.Int("records", len(bronze)),
		zap.Bool("sequential", sequential),
		zap.Int("workers", p.cfg.Workers),
	)

	var (
		mu       sync.Mutex
		outcomes = make([]outcome, 0, len(bronze))
		aborted  atomic.Bool
	)
	collect := func(o outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
		if o.err != nil && !p.cfg.ContinueOnError {
			aborted.Store(true)
		}
	}

	if sequential {
		for _, b := range bronze {
			if aborted.Load() || ctx.Err() != nil {
				break
			}
			collect(p.processOne(ctx, b))
		}
	} else {
		// Plain group: a failing record must not cancel its siblings mid-flight.
		var g errgroup.Group
		g.SetLimit(p.cfg.Workers)
		for _, b := range bronze {
			if aborted.Load() || ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if aborted.Load() {
					return nil
				}
				collect(p.processOne(ctx, b))
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := p.summarize(lote, outcomes, aborted.Load())
	summary.Duration = time.Since(start)

	if err := p.store.CompleteLote(context.WithoutCancel(ctx), loteID, summary.Status, summary.Stats, summary.Errors); err != nil {
		return summary, eris.Wrap(model.NewPersistenceError("complete lote", err), "batch: process")
	}

	log.Info("lote processed",
		zap.String("status", string(summary.Status)),
		zap.Int("pass_attempted", summary.Pass.Attempted),
		zap.Int("attempted", summary.Stats.Attempted),
		zap.Int("succeeded", summary.Stats.Succeeded),
		zap.Int("failed", summary.Stats.Failed),
		zap.Int("rejected", summary.Stats.Rejected),
		zap.Duration("duration", summary.Duration),
	)

	if aborted.Load() {
		return summary, ErrAborted
	}
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "batch: process")
	}
	return summary, nil
}

// fail marks the lote as errored after a setup failure, keeping its stats.
func (p *Processor) fail(ctx context.Context, lote *model.Lote) {
	if err := p.store.CompleteLote(context.WithoutCancel(ctx), lote.ID, model.LoteStatusError, lote.Stats, lote.Errors); err != nil {
		zap.L().Error("batch: mark lote failed", zap.String("lote_id", lote.ID), zap.Error(err))
	}
}

// summarize folds a pass into the lote's running totals. Records attempted in
// this pass replace their earlier outcome; ingest rejections and failures of
// records the pass did not reach are carried over. Succeeded counts records
// whose bronze is processed, Failed counts records still failing, so once
// every record has been tried Succeeded+Failed equals the lote total.
func (p *Processor) summarize(lote *model.Lote, outcomes []outcome, aborted bool) *model.LoteSummary {
	pass := model.LoteStats{Attempted: len(outcomes), ByStatus: make(map[model.PrataStatus]int)}
	tried := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		tried[o.bronze.ID] = true
	}

	var errs []model.RecordError
	for _, e := range lote.Errors {
		if e.BronzeID != "" && tried[e.BronzeID] {
			continue
		}
		errs = append(errs, e)
	}
	for _, o := range outcomes {
		if o.err != nil {
			pass.Failed++
			stage := "process"
			var se *stageError
			if errors.As(o.err, &se) {
				stage = se.stage
			}
			errs = append(errs, model.RecordError{
				BronzeID:   o.bronze.ID,
				SourceCode: o.bronze.SourceCode,
				Stage:      stage,
				Message:    o.err.Error(),
			})
			continue
		}
		pass.Succeeded++
		pass.ByStatus[o.prata.Status]++
	}

	stats := model.LoteStats{
		Succeeded: lote.Stats.Succeeded + pass.Succeeded,
		Rejected:  lote.Stats.Rejected,
		ByStatus:  make(map[model.PrataStatus]int),
	}
	for status, n := range lote.Stats.ByStatus {
		stats.ByStatus[status] += n
	}
	for status, n := range pass.ByStatus {
		stats.ByStatus[status] += n
	}
	// Ingest rejections carry no bronze id.
	for _, e := range errs {
		if e.BronzeID != "" {
			stats.Failed++
		}
	}
	stats.Attempted = stats.Succeeded + stats.Failed

	status := model.LoteStatusProcessed
	switch {
	case aborted:
		status = model.LoteStatusError
	case stats.Failed > 0:
		status = model.LoteStatusProcessedWithErrors
	}
	return &model.LoteSummary{LoteID: lote.ID, Status: status, Stats: stats, Pass: pass, Errors: errs}
}

// processOne never panics; a panic in any stage becomes the record's error.
func (p *Processor) processOne(ctx context.Context, b model.BronzeRecord) (o outcome) {
	o.bronze = b
	defer func() {
		if r := recover(); r != nil {
			o.prata = nil
			o.err = atStage("process", fmt.Errorf("panic: %v", r))
		}
		if o.err != nil {
			zap.L().Warn("batch: record failed",
				zap.String("lote_id", b.LoteID),
				zap.String("bronze_id", b.ID),
				zap.Int64("source_code", b.SourceCode),
				zap.Error(o.err),
			)
		}
	}()
	o.prata, o.err = p.processRecord(ctx, b)
	return o
}

// Prepare derives the curated fields of a bronze record: normalized text and
// process number, classification, hashes and the publication day.
func Prepare(b model.BronzeRecord) model.PrataRecord {
	process := normalize.ProcessNumber(b.ProcessNumber)
	if process == "" {
		process = normalize.FindProcessNumber(b.Text)
	}
	text := normalize.Text(b.Text)
	published, _ := normalize.ParseDate(b.PublicationDate)

	return model.PrataRecord{
		BronzeID:       b.ID,
		LoteID:         b.LoteID,
		SourceCode:     b.SourceCode,
		HashPrimary:    fingerprint.Primary(b.ProcessNumber, b.PublicationDate, b.Text),
		HashSecondary:  fingerprint.Secondary(process, b.PublicationDate, text),
		ProcessNumber:  process,
		NormalizedText: text,
		OriginalText:   b.Text,
		OriginalDate:   b.PublicationDate,
		PublishedOn:    published,
		Court:          b.Court,
		Classification: classify.Analyze(b.Text, text),
	}
}

func (p *Processor) processRecord(ctx context.Context, b model.BronzeRecord) (*model.PrataRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, atStage("process", err)
	}
	rec := Prepare(b)
	if rec.NormalizedText == "" {
		return nil, atStage("normalize", &model.ValidationError{SourceCode: b.SourceCode, Field: "text", Reason: "is empty after normalization"})
	}

	res, err := p.engine.Check(ctx, dedup.Candidate{
		HashPrimary:    rec.HashPrimary,
		ProcessNumber:  rec.ProcessNumber,
		NormalizedText: rec.NormalizedText,
		PublishedOn:    rec.PublishedOn,
	})
	if err != nil {
		return nil, atStage("dedup", err)
	}

	rec.ID = uuid.NewString()
	rec.Status = res.Status
	rec.SimilarityScore = res.Score
	rec.OriginalID = res.OriginalID
	rec.Justification = res.Justification
	rec.Similar = res.Similar
	rec.CreatedAt = p.now()

	if err := p.withStoreRetry(ctx, "insert prata", func(ctx context.Context) error {
		return p.store.InsertPrata(ctx, &rec)
	}); err != nil {
		return nil, atStage("persist_prata", err)
	}

	if rec.Status != model.PrataStatusDuplicate {
		if err := p.registerHash(ctx, &rec); err != nil {
			return nil, atStage("hash_index", err)
		}
	}

	if err := p.withStoreRetry(ctx, "mark bronze processed", func(ctx context.Context) error {
		return p.store.MarkBronzeProcessed(ctx, b.ID)
	}); err != nil {
		return nil, atStage("mark_bronze", err)
	}

	if rec.Status == model.PrataStatusNovel && p.dispatch != nil {
		p.dispatch.enqueue(rec)
	}
	return &rec, nil
}

// registerHash claims the record's primary hash. When a concurrent record
// claimed it first, rec is reclassified as an exact duplicate of the winner.
func (p *Processor) registerHash(ctx context.Context, rec *model.PrataRecord) error {
	err := p.withStoreRetry(ctx, "insert hash entry", func(ctx context.Context) error {
		return p.store.InsertHashEntry(ctx, model.HashIndexEntry{
			Hash:          rec.HashPrimary,
			PrataID:       rec.ID,
			ProcessNumber: rec.ProcessNumber,
			PublishedOn:   rec.PublishedOn,
			CreatedAt:     rec.CreatedAt,
		})
	})
	if !errors.Is(err, store.ErrDuplicateHash) {
		return err
	}

	winner, err := p.store.FindHashEntry(ctx, rec.HashPrimary)
	if err != nil {
		return model.NewPersistenceError("find hash entry", err)
	}
	if winner == nil {
		return eris.Errorf("batch: hash %s conflicted but has no entry", rec.HashPrimary)
	}

	justification := fmt.Sprintf("exact hash match with %s", winner.PrataID)
	if err := p.withStoreRetry(ctx, "mark prata duplicate", func(ctx context.Context) error {
		return p.store.MarkPrataDuplicate(ctx, rec.ID, winner.PrataID, 100, justification)
	}); err != nil {
		return err
	}
	rec.Status = model.PrataStatusDuplicate
	rec.SimilarityScore = 100
	rec.OriginalID = winner.PrataID
	rec.Justification = justification
	return nil
}
