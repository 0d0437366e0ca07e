package model

import "time"

// PrataStatus is the deduplication verdict stored on a curated record.
type PrataStatus string

const (
	PrataStatusNovel     PrataStatus = "novel"
	PrataStatusAmbiguous PrataStatus = "ambiguous_identity"
	PrataStatusDuplicate PrataStatus = "duplicate"
	// PrataStatusReadyForScheduling is set by an external review step. The
	// pipeline never assigns it.
	PrataStatusReadyForScheduling PrataStatus = "ready_for_scheduling"
)

// Valid reports whether s is a known status.
func (s PrataStatus) Valid() bool {
	switch s {
	case PrataStatusNovel, PrataStatusAmbiguous, PrataStatusDuplicate, PrataStatusReadyForScheduling:
		return true
	}
	return false
}

// PublicationType is the heuristic category of a publication.
type PublicationType string

const (
	TypeSentenca  PublicationType = "sentenca"
	TypeDecisao   PublicationType = "decisao_interlocutoria"
	TypeDespacho  PublicationType = "despacho"
	TypeIntimacao PublicationType = "intimacao"
	TypeCitacao   PublicationType = "citacao"
	TypeEdital    PublicationType = "edital"
	TypeAudiencia PublicationType = "audiencia"
	TypeOutro     PublicationType = "outro"
)

// Party is a name found after a procedural role keyword.
type Party struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// Entities holds tokens extracted from a publication's text.
type Entities struct {
	ProcessNumbers []string `json:"process_numbers,omitempty"`
	OABCodes       []string `json:"oab_codes,omitempty"`
	Amounts        []string `json:"amounts,omitempty"`
	Dates          []string `json:"dates,omitempty"`
	Parties        []Party  `json:"parties,omitempty"`
}

// Classification is the classifier output attached to a prata record.
type Classification struct {
	Type         PublicationType `json:"type"`
	Confidence   float64         `json:"confidence"`
	Urgent       bool            `json:"urgent"`
	DeadlineDays *int            `json:"deadline_days,omitempty"`
	Entities     Entities        `json:"entities"`
}

// SimilarRecord references an existing prata record that resembles a candidate.
type SimilarRecord struct {
	PrataID       string      `json:"prata_id"`
	Score         float64     `json:"score"`
	PublishedOn   *time.Time  `json:"published_on,omitempty"`
	ProcessNumber string      `json:"process_number"`
	Court         string      `json:"court,omitempty"`
	Status        PrataStatus `json:"status"`
	Hash          string      `json:"hash"`
}

// PrataRecord is the curated record derived from exactly one bronze record.
type PrataRecord struct {
	ID              string          `json:"id"`
	BronzeID        string          `json:"bronze_id"`
	LoteID          string          `json:"lote_id"`
	SourceCode      int64           `json:"source_code"`
	HashPrimary     string          `json:"hash_primary"`
	HashSecondary   string          `json:"hash_secondary"`
	ProcessNumber   string          `json:"process_number"`
	NormalizedText  string          `json:"normalized_text"`
	OriginalText    string          `json:"original_text"`
	OriginalDate    string          `json:"original_date"`
	PublishedOn     *time.Time      `json:"published_on,omitempty"`
	Court           string          `json:"court,omitempty"`
	Status          PrataStatus     `json:"status"`
	SimilarityScore float64         `json:"similarity_score"`
	OriginalID      string          `json:"original_id,omitempty"`
	Justification   string          `json:"justification,omitempty"`
	Similar         []SimilarRecord `json:"similar,omitempty"`
	Classification  Classification  `json:"classification"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HashIndexEntry maps a primary hash to the prata record that first claimed it.
type HashIndexEntry struct {
	Hash          string     `json:"hash"`
	PrataID       string     `json:"prata_id"`
	ProcessNumber string     `json:"process_number"`
	PublishedOn   *time.Time `json:"published_on,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DedupResult is the verdict returned by the deduplication engine. Its
// fields are copied into the prata record.
type DedupResult struct {
	IsDuplicate   bool            `json:"is_duplicate"`
	Hash          string          `json:"hash"`
	OriginalID    string          `json:"original_id,omitempty"`
	Score         float64         `json:"score"`
	Similar       []SimilarRecord `json:"similar,omitempty"`
	Status        PrataStatus     `json:"status"`
	Justification string          `json:"justification"`
	AnalyzedAt    time.Time       `json:"analyzed_at"`
}
