package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrataStatus_Valid(t *testing.T) {
	for _, s := range []PrataStatus{PrataStatusNovel, PrataStatusAmbiguous, PrataStatusDuplicate, PrataStatusReadyForScheduling} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, PrataStatus("pending").Valid())
	assert.False(t, PrataStatus("").Valid())
}

func TestBronzeRecord_Snapshot(t *testing.T) {
	b := BronzeRecord{
		ID:              "b-1",
		LoteID:          "l-1",
		SourceCode:      42,
		ProcessNumber:   "0001234-56.2024.8.26.0100",
		PublicationDate: "10/03/2024",
		Text:            "long text not included",
		Court:           "TJSP",
		Status:          BronzeStatusNew,
	}

	snap := b.Snapshot()
	assert.Equal(t, int64(42), snap["source_code"])
	assert.Equal(t, "new", snap["status"])
	assert.NotContains(t, snap, "text")
	assert.NotContains(t, snap, "instance")
}

func TestPersistenceError_Unwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := eris.Wrap(NewPersistenceError("insert prata", base), "batch: record")

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "insert prata", pe.Op)
	assert.ErrorIs(t, err, base)
	assert.Nil(t, NewPersistenceError("noop", nil))
}

func TestExternalMarkingError_Message(t *testing.T) {
	rejected := &ExternalMarkingError{Codes: []int64{1, 2}}
	assert.Contains(t, rejected.Error(), "rejected 2 codes")

	failed := &ExternalMarkingError{Codes: []int64{1}, Err: fmt.Errorf("boom")}
	assert.Contains(t, failed.Error(), "boom")
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{SourceCode: 7, Field: "text", Reason: "is empty"}
	assert.Equal(t, "validation: source code 7: text is empty", err.Error())
}
