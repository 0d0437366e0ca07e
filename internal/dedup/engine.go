// Package dedup decides whether a candidate publication duplicates one
// already curated, using the hash index first and fuzzy text similarity
// against same-process companions second.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/similarity"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

// Store is the read side of the store the engine needs.
type Store interface {
	FindHashEntry(ctx context.Context, hash string) (*model.HashIndexEntry, error)
	ListPrataByHash(ctx context.Context, hash string, limit int) ([]model.PrataRecord, error)
	FindCompanions(ctx context.Context, q store.CompanionQuery) ([]model.PrataRecord, error)
}

// Config holds the engine thresholds.
type Config struct {
	WindowDays         int
	DuplicateThreshold float64
	AmbiguousThreshold float64
	MaxSimilar         int
	MaxCompanions      int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		WindowDays:         30,
		DuplicateThreshold: 90,
		AmbiguousThreshold: 70,
		MaxSimilar:         10,
		MaxCompanions:      200,
	}
}

// Candidate is a normalized publication awaiting a verdict.
type Candidate struct {
	HashPrimary    string
	ProcessNumber  string
	NormalizedText string
	PublishedOn    *time.Time
}

// Engine checks candidates against the curated set. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	store  Store
	scorer *similarity.Scorer
	cfg    Config
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer replaces the default similarity scorer.
func WithScorer(s *similarity.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// NewEngine creates an engine. Zero config fields fall back to DefaultConfig.
func NewEngine(st Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.AmbiguousThreshold <= 0 {
		cfg.AmbiguousThreshold = def.AmbiguousThreshold
	}
	if cfg.MaxSimilar <= 0 {
		cfg.MaxSimilar = def.MaxSimilar
	}
	if cfg.MaxCompanions <= 0 {
		cfg.MaxCompanions = def.MaxCompanions
	}
	e := &Engine{
		store:  st,
		scorer: similarity.NewScorer(),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Check returns the verdict for c. Only store errors are returned.
func (e *Engine) Check(ctx context.Context, c Candidate) (*model.DedupResult, error) {
	log := zap.L().With(zap.String("hash", short(c.HashPrimary)), zap.String("process_number", c.ProcessNumber))

	entry, err := e.store.FindHashEntry(ctx, c.HashPrimary)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: find hash entry")
	}
	if entry != nil {
		return e.exactMatch(ctx, c, entry)
	}

	companions, err := e.companions(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(companions) == 0 {
		log.Debug("no companions")
		return &model.DedupResult{
			Hash:          c.HashPrimary,
			Status:        model.PrataStatusNovel,
			Justification: "no prior publication for this process within the window",
			AnalyzedAt:    e.now(),
		}, nil
	}

	similar := make([]model.SimilarRecord, 0, len(companions))
	byID := make(map[string]model.PrataRecord, len(companions))
	for _, p := range companions {
		similar = append(similar, similarFrom(p, e.scorer.Score(c.NormalizedText, p.NormalizedText)))
		byID[p.ID] = p
	}
	// Ties go to records that are not themselves duplicates.
	sort.SliceStable(similar, func(i, j int) bool {
		if similar[i].Score != similar[j].Score {
			return similar[i].Score > similar[j].Score
		}
		return similar[i].Status != model.PrataStatusDuplicate && similar[j].Status == model.PrataStatusDuplicate
	})
	best := similar[0]

	res := &model.DedupResult{
		Hash:       c.HashPrimary,
		Score:      best.Score,
		Similar:    similar[:min(len(similar), e.cfg.MaxSimilar)],
		AnalyzedAt: e.now(),
	}
	switch {
	case best.Score >= e.cfg.DuplicateThreshold:
		res.IsDuplicate = true
		res.Status = model.PrataStatusDuplicate
		res.OriginalID = originalOf(byID[best.PrataID])
		res.Justification = fmt.Sprintf("similarity %.2f with %s reaches duplicate threshold %.0f", best.Score, best.PrataID, e.cfg.DuplicateThreshold)
	case best.Score >= e.cfg.AmbiguousThreshold:
		res.Status = model.PrataStatusAmbiguous
		res.Justification = fmt.Sprintf("similarity %.2f with %s reaches ambiguity threshold %.0f", best.Score, best.PrataID, e.cfg.AmbiguousThreshold)
	default:
		res.Status = model.PrataStatusNovel
		res.Justification = fmt.Sprintf("best similarity %.2f across %d companions is below %.0f", best.Score, len(companions), e.cfg.AmbiguousThreshold)
	}

	log.Debug("dedup verdict",
		zap.String("status", string(res.Status)),
		zap.Float64("score", res.Score),
		zap.Int("companions", len(companions)),
	)
	return res, nil
}

// originalOf resolves a duplicate to the record it duplicates. Originals are
// never duplicates themselves, so one hop reaches the root.
func originalOf(p model.PrataRecord) string {
	if p.Status == model.PrataStatusDuplicate && p.OriginalID != "" {
		return p.OriginalID
	}
	return p.ID
}

func (e *Engine) exactMatch(ctx context.Context, c Candidate, entry *model.HashIndexEntry) (*model.DedupResult, error) {
	evidence, err := e.store.ListPrataByHash(ctx, c.HashPrimary, e.cfg.MaxSimilar)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: list prata by hash")
	}
	similar := make([]model.SimilarRecord, 0, len(evidence))
	for _, p := range evidence {
		similar = append(similar, similarFrom(p, 100))
	}
	return &model.DedupResult{
		IsDuplicate:   true,
		Hash:          c.HashPrimary,
		OriginalID:    entry.PrataID,
		Score:         100,
		Similar:       similar,
		Status:        model.PrataStatusDuplicate,
		Justification: "exact hash match with " + entry.PrataID,
		AnalyzedAt:    e.now(),
	}, nil
}

// companions returns prata records for the same process inside the date
// window. An undated candidate is compared against every dated and undated
// record of the process, up to MaxCompanions.
func (e *Engine) companions(ctx context.Context, c Candidate) ([]model.PrataRecord, error) {
	if c.ProcessNumber == "" {
		return nil, nil
	}
	q := store.CompanionQuery{ProcessNumber: c.ProcessNumber, Limit: e.cfg.MaxCompanions}
	if c.PublishedOn != nil {
		window := time.Duration(e.cfg.WindowDays) * 24 * time.Hour
		from, to := c.PublishedOn.Add(-window), c.PublishedOn.Add(window)
		q.From, q.To = &from, &to
	}
	recs, err := e.store.FindCompanions(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: find companions")
	}
	return recs, nil
}

func similarFrom(p model.PrataRecord, score float64) model.SimilarRecord {
	return model.SimilarRecord{
		PrataID:       p.ID,
		Score:         score,
		PublishedOn:   p.PublishedOn,
		ProcessNumber: p.ProcessNumber,
		Court:         p.Court,
		Status:        p.Status,
		Hash:          p.HashPrimary,
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
