package model

import "time"

// AuditStatus is the outcome of a marking attempt, and the current status of
// an audit entry.
type AuditStatus string

const (
	AuditStatusPending AuditStatus = "pending"
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
	AuditStatusTimeout AuditStatus = "timeout"
	AuditStatusError   AuditStatus = "error"
)

// AuditAttempt is one call to the upstream "mark exported" operation.
type AuditAttempt struct {
	At         time.Time      `json:"at"`
	Status     AuditStatus    `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// AuditEntry is the append-only marking history of one source code.
type AuditEntry struct {
	ID              string         `json:"id"`
	SourceCode      int64          `json:"source_code"`
	LoteID          string         `json:"lote_id,omitempty"`
	ExecutionID     string         `json:"execution_id,omitempty"`
	BronzeID        string         `json:"bronze_id,omitempty"`
	Status          AuditStatus    `json:"status"`
	Attempts        []AuditAttempt `json:"attempts"`
	AttemptCount    int            `json:"attempt_count"`
	TotalDurationMS int64          `json:"total_duration_ms"`
	Snapshot        map[string]any `json:"snapshot,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	SucceededAt     *time.Time     `json:"succeeded_at,omitempty"`
}

// AuditFilter selects audit entries. Zero values mean "any".
type AuditFilter struct {
	SourceCode int64       `json:"source_code,omitempty"`
	LoteID     string      `json:"lote_id,omitempty"`
	Status     AuditStatus `json:"status,omitempty"`
	From       *time.Time  `json:"from,omitempty"`
	To         *time.Time  `json:"to,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}

// AuditStats aggregates audit entries matching a filter.
type AuditStats struct {
	Entries         int                 `json:"entries"`
	ByStatus        map[AuditStatus]int `json:"by_status"`
	TotalAttempts   int64               `json:"total_attempts"`
	TotalDurationMS int64               `json:"total_duration_ms"`
}
