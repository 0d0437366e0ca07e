package model

import "time"

// BronzeStatus represents the lifecycle state of a raw ingested publication.
type BronzeStatus string

const (
	BronzeStatusNew       BronzeStatus = "new"
	BronzeStatusProcessed BronzeStatus = "processed"
	BronzeStatusDuplicate BronzeStatus = "duplicate"
	BronzeStatusError     BronzeStatus = "error"
)

// RawPublication is a publication as returned by the ingestion source, before
// it is tagged with a lote and persisted.
type RawPublication struct {
	SourceCode      int64          `json:"source_code"`
	ProcessNumber   string         `json:"process_number"`
	PublicationDate string         `json:"publication_date"`
	Text            string         `json:"text"`
	Court           string         `json:"court"`
	Instance        string         `json:"instance,omitempty"`
	Channel         string         `json:"channel,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// BronzeRecord is a raw publication persisted as part of a lote. Only the
// fields the pipeline depends on are typed; anything else the source sends
// lives in Extra.
type BronzeRecord struct {
	ID              string         `json:"id"`
	LoteID          string         `json:"lote_id"`
	SourceCode      int64          `json:"source_code"`
	ProcessNumber   string         `json:"process_number"`
	PublicationDate string         `json:"publication_date"`
	Text            string         `json:"text"`
	Court           string         `json:"court"`
	Instance        string         `json:"instance,omitempty"`
	Channel         string         `json:"channel,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
	Status          BronzeStatus   `json:"status"`
	IngestedAt      time.Time      `json:"ingested_at"`
}

// Snapshot returns a flat copy of the record suitable for the audit trail.
func (b BronzeRecord) Snapshot() map[string]any {
	snap := map[string]any{
		"id":               b.ID,
		"lote_id":          b.LoteID,
		"source_code":      b.SourceCode,
		"process_number":   b.ProcessNumber,
		"publication_date": b.PublicationDate,
		"court":            b.Court,
		"status":           string(b.Status),
	}
	if b.Instance != "" {
		snap["instance"] = b.Instance
	}
	if b.Channel != "" {
		snap["channel"] = b.Channel
	}
	return snap
}
