package batch

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/model"
)

// Validate checks a raw publication at the ingestion boundary.
func Validate(raw model.RawPublication) error {
	switch {
	case raw.SourceCode <= 0:
		return &model.ValidationError{SourceCode: raw.SourceCode, Field: "source_code", Reason: "must be positive"}
	case strings.TrimSpace(raw.Text) == "":
		return &model.ValidationError{SourceCode: raw.SourceCode, Field: "text", Reason: "is empty"}
	}
	return nil
}

// Ingest validates raws, persists the valid ones as bronze records of a new
// lote in chunks, and marks each written chunk upstream when a marker is
// configured. Rejected records are listed on the lote, never persisted.
// A chunk that cannot be written is rejected as a whole; chunks already
// written stay.
func (p *Processor) Ingest(ctx context.Context, params model.SearchParams, raws []model.RawPublication) (*model.Lote, error) {
	now := p.now()
	lote := &model.Lote{
		ID:        uuid.NewString(),
		Params:    params,
		Status:    model.LoteStatusPending,
		CreatedAt: now,
	}
	log := zap.L().With(zap.String("lote_id", lote.ID))

	if err := p.store.CreateLote(ctx, lote); err != nil {
		return nil, eris.Wrap(model.NewPersistenceError("create lote", err), "batch: ingest")
	}

	seen := make(map[int64]bool, len(raws))
	valid := make([]model.BronzeRecord, 0, len(raws))
	for _, raw := range raws {
		err := Validate(raw)
		if err == nil && seen[raw.SourceCode] {
			err = &model.ValidationError{SourceCode: raw.SourceCode, Field: "source_code", Reason: "repeated in batch"}
		}
		if err != nil {
			lote.Errors = append(lote.Errors, model.RecordError{SourceCode: raw.SourceCode, Stage: "validate", Message: err.Error()})
			continue
		}
		seen[raw.SourceCode] = true
		valid = append(valid, model.BronzeRecord{
			ID:              uuid.NewString(),
			LoteID:          lote.ID,
			SourceCode:      raw.SourceCode,
			ProcessNumber:   raw.ProcessNumber,
			PublicationDate: raw.PublicationDate,
			Text:            raw.Text,
			Court:           raw.Court,
			Instance:        raw.Instance,
			Channel:         raw.Channel,
			Extra:           raw.Extra,
			Status:          model.BronzeStatusNew,
			IngestedAt:      now,
		})
	}

	execID := uuid.NewString()
	var chunkErr error
	for start := 0; start < len(valid); start += p.cfg.ChunkSize {
		chunk := valid[start:min(start+p.cfg.ChunkSize, len(valid))]
		err := p.withStoreRetry(ctx, "insert bronze", func(ctx context.Context) error {
			_, err := p.store.InsertBronze(ctx, chunk)
			return err
		})
		if err != nil {
			chunkErr = err
			log.Error("batch: bronze chunk failed", zap.Int("offset", start), zap.Int("size", len(chunk)), zap.Error(err))
			for _, b := range chunk {
				lote.Errors = append(lote.Errors, model.RecordError{SourceCode: b.SourceCode, Stage: "ingest", Message: err.Error()})
			}
			continue
		}
		for _, b := range chunk {
			lote.BronzeIDs = append(lote.BronzeIDs, b.ID)
		}
		p.markChunk(ctx, execID, chunk)
	}

	lote.Total = len(lote.BronzeIDs)
	lote.Stats.Rejected = len(lote.Errors)
	if lote.Total == 0 && chunkErr != nil {
		lote.Status = model.LoteStatusError
	}
	if err := p.withStoreRetry(ctx, "save lote", func(ctx context.Context) error {
		return p.store.SaveLoteIngest(ctx, lote)
	}); err != nil {
		return nil, eris.Wrap(err, "batch: ingest")
	}
	if lote.Status == model.LoteStatusError {
		return lote, eris.Wrap(chunkErr, "batch: ingest: no chunk written")
	}

	log.Info("lote ingested",
		zap.Int("received", len(raws)),
		zap.Int("accepted", lote.Total),
		zap.Int("rejected", lote.Stats.Rejected),
	)
	return lote, nil
}

// markChunk is best-effort: failures are in the audit log, and ingestion
// never rolls back because of them.
func (p *Processor) markChunk(ctx context.Context, execID string, chunk []model.BronzeRecord) {
	if p.marker == nil {
		return
	}
	targets := make([]audit.Target, len(chunk))
	for i, b := range chunk {
		targets[i] = audit.TargetFromBronze(b)
	}
	if _, err := p.marker.Mark(ctx, execID, targets); err != nil {
		zap.L().Warn("batch: upstream marking incomplete",
			zap.String("execution_id", execID),
			zap.Int("codes", len(targets)),
			zap.Error(err),
		)
	}
}
