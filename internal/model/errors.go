package model

import "fmt"

// ValidationError rejects a raw publication at the ingestion boundary,
// before it enters the pipeline.
type ValidationError struct {
	SourceCode int64
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: source code %d: %s %s", e.SourceCode, e.Field, e.Reason)
}

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err as a PersistenceError. Returns nil for a nil err.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// ExternalMarkingError reports a failed, timed out, or rejected upstream
// "mark exported" call. It never affects ingestion; it is tracked in the
// audit log.
type ExternalMarkingError struct {
	Codes   []int64
	Timeout bool
	Err     error
}

func (e *ExternalMarkingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("marking: upstream rejected %d codes", len(e.Codes))
	}
	return fmt.Sprintf("marking: %d codes: %v", len(e.Codes), e.Err)
}

func (e *ExternalMarkingError) Unwrap() error {
	return e.Err
}
