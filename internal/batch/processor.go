// Package batch drives raw publications through ingestion into bronze
// records and then through normalization, classification, hashing and
// deduplication into curated prata records.
package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/dedup"
	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/resilience"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

// Source searches the publication webservice.
type Source interface {
	Search(ctx context.Context, params model.SearchParams) ([]model.RawPublication, error)
}

// Marker flags ingested codes as exported upstream.
type Marker interface {
	Mark(ctx context.Context, execID string, targets []audit.Target) (*audit.MarkResult, error)
}

// Trigger starts the downstream workflow for a novel record.
type Trigger interface {
	Trigger(ctx context.Context, rec model.PrataRecord) (string, error)
}

// Config controls chunking and fan-out.
type Config struct {
	ChunkSize           int
	Workers             int
	ContinueOnError     bool
	SequentialThreshold int
	Sequential          bool
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:           200,
		Workers:             10,
		ContinueOnError:     true,
		SequentialThreshold: 20,
	}
}

// Processor owns the ingestion and processing of lotes. It is safe for
// concurrent use; all shared state lives in the store.
type Processor struct {
	store      store.Store
	engine     *dedup.Engine
	cfg        Config
	source     Source
	marker     Marker
	trigger    Trigger
	dispatch   *dispatcher
	storeRetry resilience.RetryConfig
	now        func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithSource enables Run.
func WithSource(s Source) Option {
	return func(p *Processor) { p.source = s }
}

// WithMarker marks every ingested chunk upstream.
func WithMarker(m Marker) Option {
	return func(p *Processor) { p.marker = m }
}

// WithTrigger starts a workflow for every novel record. Triggers run in the
// background; call Close to wait for them.
func WithTrigger(t Trigger) Option {
	return func(p *Processor) { p.trigger = t }
}

// WithStoreRetry overrides the retry policy for idempotent store writes.
func WithStoreRetry(cfg resilience.RetryConfig) Option {
	return func(p *Processor) { p.storeRetry = cfg }
}

// NewProcessor creates a Processor. Zero config fields use DefaultConfig.
func NewProcessor(st store.Store, engine *dedup.Engine, cfg Config, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SequentialThreshold < 0 {
		cfg.SequentialThreshold = 0
	}
	p := &Processor{
		store:  st,
		engine: engine,
		cfg:    cfg,
		storeRetry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			OnRetry:        resilience.RetryLogger("batch", "store write"),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	if p.trigger != nil {
		p.dispatch = newDispatcher(p.trigger, triggerQueueSize, triggerWorkers)
	}
	return p
}

// Close waits for queued workflow triggers. The Processor must not be used
// afterwards.
func (p *Processor) Close() {
	if p.dispatch != nil {
		p.dispatch.close()
	}
}

// Run searches the source, ingests the results and processes the lote.
func (p *Processor) Run(ctx context.Context, params model.SearchParams) (*model.LoteSummary, error) {
	if p.source == nil {
		return nil, eris.New("batch: run: no source configured")
	}
	raws, err := p.source.Search(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "batch: run: search")
	}
	lote, err := p.Ingest(ctx, params, raws)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, lote.ID)
}

// withStoreRetry runs an idempotent store call, retrying transient failures.
func (p *Processor) withStoreRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return model.NewPersistenceError(op, resilience.Do(ctx, p.storeRetry, fn))
}
