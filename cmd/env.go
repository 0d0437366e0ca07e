package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/batch"
	"github.com/sells-group/publicacoes-cli/internal/dedup"
	"github.com/sells-group/publicacoes-cli/internal/resilience"
	"github.com/sells-group/publicacoes-cli/internal/similarity"
	"github.com/sells-group/publicacoes-cli/internal/store"
	"github.com/sells-group/publicacoes-cli/pkg/publicacoes"
	"github.com/sells-group/publicacoes-cli/pkg/workflow"
)

// pipelineEnv holds the store and every component built on top of it for
// the ingest/process/run/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Audit     *audit.Log
	Source    publicacoes.Client // nil without source.base_url
	Marker    *audit.Marker      // nil unless marking.enabled
	Processor *batch.Processor

	closers []func()
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		pe.closers[i]()
	}
}

// initPipeline validates the config for mode and builds the environment.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Audit: audit.NewLog(st)}
	env.closers = append(env.closers, func() { _ = st.Close() })

	if cfg.Source.BaseURL != "" {
		env.Source = newSourceClient(resilience.DefaultRetryConfig())
	}

	opts := []batch.Option{}
	if env.Source != nil {
		opts = append(opts, batch.WithSource(env.Source))
	}

	if cfg.Marking.Enabled && env.Source != nil {
		// The marker owns retries so that each attempt lands in the audit log.
		env.Marker = newMarker(env.Audit, newSourceClient(noRetry))
		opts = append(opts, batch.WithMarker(env.Marker))
		zap.L().Info("upstream marking enabled", zap.Int("max_attempts", cfg.Marking.MaxAttempts))
	} else {
		zap.L().Debug("upstream marking disabled")
	}

	if cfg.Workflow.Enabled {
		trig, closeFn, err := workflow.Dial(workflow.Config{
			HostPort:  cfg.Workflow.HostPort,
			Namespace: cfg.Workflow.Namespace,
			TaskQueue: cfg.Workflow.TaskQueue,
			Workflow:  cfg.Workflow.Name,
		})
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, closeFn)
		opts = append(opts, batch.WithTrigger(trig))
		zap.L().Info("workflow trigger enabled",
			zap.String("host_port", cfg.Workflow.HostPort),
			zap.String("workflow", cfg.Workflow.Name),
		)
	}

	engine := dedup.NewEngine(st, dedup.Config{
		WindowDays:         cfg.Dedup.WindowDays,
		DuplicateThreshold: cfg.Dedup.DuplicateThreshold,
		AmbiguousThreshold: cfg.Dedup.AmbiguousThreshold,
		MaxSimilar:         cfg.Dedup.MaxSimilar,
		MaxCompanions:      cfg.Dedup.MaxCompanions,
	}, dedup.WithScorer(similarity.NewScorer(similarity.WithMaxChars(cfg.Dedup.MaxTextChars))))

	env.Processor = batch.NewProcessor(st, engine, batch.Config{
		ChunkSize:           cfg.Batch.ChunkSize,
		Workers:             cfg.Batch.Workers,
		ContinueOnError:     cfg.Batch.ContinueOnError,
		SequentialThreshold: cfg.Batch.SequentialThreshold,
		Sequential:          cfg.Batch.Sequential,
	}, opts...)
	// Runs before the workflow client closes.
	env.closers = append(env.closers, env.Processor.Close)

	return env, nil
}

func newSourceClient(retry resilience.RetryConfig) publicacoes.Client {
	return publicacoes.NewClient(cfg.Source.BaseURL,
		publicacoes.WithCredentials(cfg.Source.User, cfg.Source.Password),
		publicacoes.WithRateLimit(cfg.Source.RateLimit),
		publicacoes.WithMaxMarkCodes(cfg.Source.MaxMarkCodes),
		publicacoes.WithMaxResponseBytes(int64(cfg.Source.MaxResponseMB)<<20),
		publicacoes.WithRetry(retry),
		publicacoes.WithHTTPClient(newHTTPClient(time.Duration(cfg.Source.TimeoutSecs)*time.Second)),
	)
}

func newMarker(log *audit.Log, exp audit.Exporter) *audit.Marker {
	return audit.NewMarker(log, exp, audit.MarkerConfig{
		MaxCodes:    cfg.Source.MaxMarkCodes,
		CallTimeout: time.Duration(cfg.Marking.TimeoutSecs) * time.Second,
		Retry:       resilience.FromRetryConfig(cfg.Marking.MaxAttempts, cfg.Marking.InitialBackoffMs),
		Breaker:     resilience.FromCircuitConfig(cfg.Marking.FailureThreshold, cfg.Marking.ResetTimeoutSecs),
	})
}

// requireSource fails commands that need the webservice.
func (pe *pipelineEnv) requireSource() error {
	if pe.Source == nil {
		return eris.New("source.base_url is required (PUBLICACOES_SOURCE_BASE_URL)")
	}
	return nil
}

// noRetry leaves retries to the caller.
var noRetry = resilience.RetryConfig{MaxAttempts: 1}
