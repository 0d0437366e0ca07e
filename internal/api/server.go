// Package api exposes lotes, prata records and the audit log over a small
// read-mostly HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/audit"
	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/monitoring"
	"github.com/sells-group/publicacoes-cli/internal/store"
)

// Records reads lotes and prata records.
type Records interface {
	Ping(ctx context.Context) error
	ListLotes(ctx context.Context, filter store.LoteFilter) ([]model.Lote, error)
	GetLote(ctx context.Context, loteID string) (*model.Lote, error)
	GetPrata(ctx context.Context, prataID string) (*model.PrataRecord, error)
}

// AuditReader reads the marking audit log.
type AuditReader interface {
	Query(ctx context.Context, f model.AuditFilter) (*audit.Page, error)
	Stats(ctx context.Context, f model.AuditFilter) (*model.AuditStats, error)
	Get(ctx context.Context, entryID string) (*model.AuditEntry, error)
}

// LoteProcessor processes the new records of a lote.
type LoteProcessor interface {
	Process(ctx context.Context, loteID string) (*model.LoteSummary, error)
}

// Metrics exposes the latest monitoring snapshot.
type Metrics interface {
	Latest() *monitoring.MetricsSnapshot
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics enables GET /metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server wires the handlers. Background processing started through the API
// runs on the server's base context, not the request's.
type Server struct {
	base      context.Context
	records   Records
	audit     AuditReader
	processor LoteProcessor
	metrics   Metrics

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// New creates a Server. processor may be nil, which disables
// POST /lotes/{id}/process.
func New(base context.Context, records Records, auditLog AuditReader, processor LoteProcessor, opts ...Option) *Server {
	s := &Server{
		base:      base,
		records:   records,
		audit:     auditLog,
		processor: processor,
		inflight:  make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/metrics", s.getMetrics)
	r.Route("/lotes", func(r chi.Router) {
		r.Get("/", s.listLotes)
		r.Get("/{id}", s.getLote)
		r.Post("/{id}/process", s.processLote)
	})
	r.Get("/prata/{id}", s.getPrata)
	r.Route("/audit", func(r chi.Router) {
		r.Get("/", s.queryAudit)
		r.Get("/stats", s.auditStats)
		r.Get("/{id}", s.getAudit)
	})
	return r
}

// Wait blocks until background processing started by the API finishes.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.records.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotImplemented, errors.New("monitoring is not enabled"))
		return
	}
	snap := s.metrics.Latest()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no metrics collected yet"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listLotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lotes, err := s.records.ListLotes(r.Context(), store.LoteFilter{
		Status: model.LoteStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if lotes == nil {
		lotes = []model.Lote{}
	}
	writeJSON(w, http.StatusOK, lotes)
}

func (s *Server) getLote(w http.ResponseWriter, r *http.Request) {
	lote, err := s.records.GetLote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lote)
}

func (s *Server) processLote(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		writeError(w, http.StatusNotImplemented, errors.New("processing is not enabled"))
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.records.GetLote(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	s.mu.Lock()
	if s.inflight[id] {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, errors.New("lote is already being processed"))
		return
	}
	s.inflight[id] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, id)
			s.mu.Unlock()
		}()
		sum, err := s.processor.Process(s.base, id)
		if err != nil {
			zap.L().Error("api: lote processing failed", zap.String("lote_id", id), zap.Error(err))
			return
		}
		zap.L().Info("api: lote processed",
			zap.String("lote_id", id),
			zap.String("status", string(sum.Status)),
			zap.Int("succeeded", sum.Stats.Succeeded),
			zap.Int("failed", sum.Stats.Failed),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "lote_id": id})
}

func (s *Server) getPrata(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetPrata(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	f, err := ParseAuditFilter(r.URL.Query().Get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := s.audit.Query(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	f, err := ParseAuditFilter(r.URL.Query().Get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.audit.Stats(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	entry, err := s.audit.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ParseAuditFilter reads an audit filter from named string parameters.
// Dates accept YYYY-MM-DD or RFC 3339; a bare date in "to" covers the whole day.
func ParseAuditFilter(get func(string) string) (model.AuditFilter, error) {
	var f model.AuditFilter
	if v := get("source_code"); v != "" {
		code, err := strconv.ParseInt(v, 10, 64)
		if err != nil || code <= 0 {
			return f, errors.New("source_code must be a positive integer")
		}
		f.SourceCode = code
	}
	f.LoteID = get("lote_id")
	if v := get("status"); v != "" {
		switch st := model.AuditStatus(v); st {
		case model.AuditStatusPending, model.AuditStatusSuccess, model.AuditStatusFailed,
			model.AuditStatusTimeout, model.AuditStatusError:
			f.Status = st
		default:
			return f, errors.New("unknown status " + strconv.Quote(v))
		}
	}
	var err error
	if f.From, err = parseTime(get("from"), false); err != nil {
		return f, errors.New("from: " + err.Error())
	}
	if f.To, err = parseTime(get("to"), true); err != nil {
		return f, errors.New("to: " + err.Error())
	}
	f.Limit, f.Offset, err = pagination(get("limit"), get("offset"))
	return f, err
}

func parseTime(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, errors.New("expected YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func pagination(limitRaw, offsetRaw string) (limit, offset int, err error) {
	if limitRaw != "" {
		if limit, err = strconv.Atoi(limitRaw); err != nil || limit < 0 {
			return 0, 0, errors.New("limit must be a non-negative integer")
		}
	}
	if offsetRaw != "" {
		if offset, err = strconv.Atoi(offsetRaw); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	zap.L().Error("api: store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
