package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/resilience"
)

// Exporter flags source codes as exported upstream.
type Exporter interface {
	MarkExported(ctx context.Context, codes []int64) (bool, error)
}

// Target is one source code to mark.
type Target struct {
	SourceCode int64
	LoteID     string
	BronzeID   string
	Snapshot   map[string]any
}

// TargetFromBronze builds a Target carrying the record snapshot.
func TargetFromBronze(b model.BronzeRecord) Target {
	return Target{SourceCode: b.SourceCode, LoteID: b.LoteID, BronzeID: b.ID, Snapshot: b.Snapshot()}
}

// MarkerConfig controls a Marker.
type MarkerConfig struct {
	// MaxCodes per upstream call. Default and cap: 3000.
	MaxCodes int
	// CallTimeout bounds each upstream attempt. Default: 30s.
	CallTimeout time.Duration
	Retry       resilience.RetryConfig
	Breaker     resilience.CircuitBreakerConfig
}

// MarkResult summarizes one Mark call.
type MarkResult struct {
	ExecutionID string                    `json:"execution_id"`
	Codes       int                       `json:"codes"`
	Calls       int                       `json:"calls"`
	ByStatus    map[model.AuditStatus]int `json:"by_status"`
	AuditErrors int                       `json:"audit_errors"`
}

// Marker marks codes upstream and records every attempt in the Log.
type Marker struct {
	log      *Log
	exporter Exporter
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	maxCodes int
	timeout  time.Duration
	clock    func() time.Time
}

const maxCodesPerCall = 3000

// NewMarker creates a Marker. The breaker is shared by every Mark call.
func NewMarker(log *Log, exp Exporter, cfg MarkerConfig) *Marker {
	if cfg.MaxCodes <= 0 || cfg.MaxCodes > maxCodesPerCall {
		cfg.MaxCodes = maxCodesPerCall
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "marking"
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("audit", "mark exported")
	}
	return &Marker{
		log:      log,
		exporter: exp,
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		retry:    retry,
		maxCodes: cfg.MaxCodes,
		timeout:  cfg.CallTimeout,
		clock:    time.Now,
	}
}

// Mark flags targets upstream in chunks. Failures never propagate as
// ingestion errors: the returned error is an *model.ExternalMarkingError
// listing every code that did not succeed, and each attempt is in the log.
func (m *Marker) Mark(ctx context.Context, execID string, targets []Target) (*MarkResult, error) {
	if execID == "" {
		execID = uuid.NewString()
	}
	res := &MarkResult{ExecutionID: execID, ByStatus: make(map[model.AuditStatus]int)}
	var failedCodes []int64
	var lastErr error
	timedOut := false

	for start := 0; start < len(targets); start += m.maxCodes {
		chunk := targets[start:min(start+m.maxCodes, len(targets))]
		status, callErr := m.markChunk(ctx, execID, start/m.maxCodes, chunk, res)
		res.Calls++
		res.Codes += len(chunk)
		res.ByStatus[status] += len(chunk)
		if status != model.AuditStatusSuccess {
			for _, t := range chunk {
				failedCodes = append(failedCodes, t.SourceCode)
			}
			lastErr = callErr
			timedOut = timedOut || status == model.AuditStatusTimeout
		}
	}

	if len(failedCodes) == 0 {
		return res, nil
	}
	return res, &model.ExternalMarkingError{Codes: failedCodes, Timeout: timedOut, Err: lastErr}
}

// markChunk makes one upstream call for chunk and records its outcome
// against every code in it.
func (m *Marker) markChunk(ctx context.Context, execID string, chunkIdx int, chunk []Target, res *MarkResult) (model.AuditStatus, error) {
	log := zap.L().With(zap.String("execution_id", execID), zap.Int("chunk", chunkIdx))

	entries := make([]string, 0, len(chunk))
	codes := make([]int64, len(chunk))
	for i, t := range chunk {
		codes[i] = t.SourceCode
		id, err := m.log.Start(ctx, t.SourceCode, t.LoteID, t.BronzeID, t.Snapshot, execID)
		if err != nil {
			res.AuditErrors++
			log.Error("audit: start entry failed", zap.Int64("source_code", t.SourceCode), zap.Error(err))
			continue
		}
		entries = append(entries, id)
	}

	started := m.clock()
	ok, err := resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) (bool, error) {
		return resilience.DoVal(ctx, m.retry, func(ctx context.Context) (bool, error) {
			callCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			return m.exporter.MarkExported(callCtx, codes)
		})
	})
	elapsed := m.clock().Sub(started)

	status, errMsg := classify(ok, err)
	detail := map[string]any{"chunk": chunkIdx, "codes": len(codes)}
	for _, id := range entries {
		if _, recErr := m.log.RecordAttempt(ctx, id, status, elapsed, errMsg, detail); recErr != nil {
			res.AuditErrors++
			log.Error("audit: record attempt failed", zap.String("entry_id", id), zap.Error(recErr))
		}
	}

	log.Info("marking attempt",
		zap.String("status", string(status)),
		zap.Int("codes", len(codes)),
		zap.Duration("elapsed", elapsed),
	)
	if status == model.AuditStatusFailed && err == nil {
		err = eris.New("audit: upstream rejected marking")
	}
	return status, err
}

// classify maps an upstream outcome to an attempt status: a rejection is
// failed, a deadline is timeout, anything else that went wrong is error.
func classify(ok bool, err error) (model.AuditStatus, string) {
	switch {
	case err == nil && ok:
		return model.AuditStatusSuccess, ""
	case err == nil:
		return model.AuditStatusFailed, "upstream rejected"
	case resilience.IsTimeout(err):
		return model.AuditStatusTimeout, err.Error()
	default:
		return model.AuditStatusError, err.Error()
	}
}

// Retry re-marks every entry matching f that has not succeeded. With no
// status in f, every non-success status is retried.
func (m *Marker) Retry(ctx context.Context, f model.AuditFilter) (*MarkResult, error) {
	statuses := []model.AuditStatus{model.AuditStatusFailed, model.AuditStatusTimeout, model.AuditStatusError, model.AuditStatusPending}
	if f.Status == model.AuditStatusSuccess {
		return nil, eris.New("audit: retry: succeeded entries are final")
	}
	if f.Status != "" {
		statuses = []model.AuditStatus{f.Status}
	}

	var targets []Target
	for _, st := range statuses {
		q := f
		q.Status = st
		q.Limit = 500
		q.Offset = 0
		for {
			entries, total, err := m.log.store.QueryAudit(ctx, q)
			if err != nil {
				return nil, eris.Wrap(err, "audit: retry: query")
			}
			for _, e := range entries {
				targets = append(targets, Target{SourceCode: e.SourceCode, LoteID: e.LoteID, BronzeID: e.BronzeID, Snapshot: e.Snapshot})
			}
			q.Offset += len(entries)
			if len(entries) == 0 || q.Offset >= total {
				break
			}
		}
	}

	if len(targets) == 0 {
		return &MarkResult{ByStatus: map[model.AuditStatus]int{}}, nil
	}
	zap.L().Info("audit: retrying markings", zap.Int("codes", len(targets)))
	return m.Mark(ctx, "", targets)
}

// Breaker exposes the circuit state for status reporting.
func (m *Marker) Breaker() resilience.CircuitState {
	return m.breaker.State()
}
