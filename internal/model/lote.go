package model

import "time"

// LoteStatus represents the processing state of a lote.
type LoteStatus string

const (
	LoteStatusPending             LoteStatus = "pending"
	LoteStatusProcessing          LoteStatus = "processing"
	LoteStatusProcessed           LoteStatus = "processed"
	LoteStatusProcessedWithErrors LoteStatus = "processed_with_errors"
	LoteStatusError               LoteStatus = "error"
)

// SearchParams are the source search parameters that produced a lote.
type SearchParams struct {
	GroupCode     string `json:"group_code" yaml:"group_code"`
	DateFrom      string `json:"date_from" yaml:"date_from"`
	DateTo        string `json:"date_to" yaml:"date_to"`
	ProcessNumber string `json:"process_number,omitempty" yaml:"process_number,omitempty"`
}

// RecordError ties a failure to the bronze record (or source code, for
// records rejected before persistence) it came from.
type RecordError struct {
	BronzeID   string `json:"bronze_id,omitempty" yaml:"bronze_id,omitempty"`
	SourceCode int64  `json:"source_code" yaml:"source_code"`
	Stage      string `json:"stage" yaml:"stage"`
	Message    string `json:"message" yaml:"message"`
}

// LoteStats aggregates per-record outcomes of a lote.
type LoteStats struct {
	Attempted int                 `json:"attempted" yaml:"attempted"`
	Succeeded int                 `json:"succeeded" yaml:"succeeded"`
	Failed    int                 `json:"failed" yaml:"failed"`
	Rejected  int                 `json:"rejected" yaml:"rejected"`
	ByStatus  map[PrataStatus]int `json:"by_status" yaml:"by_status"`
}

// Lote is a cohort of bronze records ingested together from one search.
type Lote struct {
	ID          string        `json:"id" yaml:"id"`
	Params      SearchParams  `json:"params" yaml:"params"`
	Total       int           `json:"total" yaml:"total"`
	BronzeIDs   []string      `json:"bronze_ids" yaml:"bronze_ids"`
	Status      LoteStatus    `json:"status" yaml:"status"`
	Stats       LoteStats     `json:"stats" yaml:"stats"`
	Errors      []RecordError `json:"errors,omitempty" yaml:"errors,omitempty"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// LoteSummary is returned by a processing pass over a lote. Stats are the
// lote's running totals after the pass; Pass counts only this pass.
type LoteSummary struct {
	LoteID   string        `json:"lote_id" yaml:"lote_id"`
	Status   LoteStatus    `json:"status" yaml:"status"`
	Stats    LoteStats     `json:"stats" yaml:"stats"`
	Pass     LoteStats     `json:"pass" yaml:"pass"`
	Errors   []RecordError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}
