package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

func testRecord() model.PrataRecord {
	deadline := 3
	published := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	return model.PrataRecord{
		ID:            "prata-1",
		BronzeID:      "bronze-1",
		LoteID:        "lote-1",
		SourceCode:    1001,
		ProcessNumber: "0001234-56.2024.8.26.0100",
		Court:         "TJSP",
		PublishedOn:   &published,
		Status:        model.PrataStatusNovel,
		Classification: model.Classification{
			Type: model.TypeIntimacao, Urgent: true, DeadlineDays: &deadline,
		},
	}
}

func TestTrigger_StartsWorkflow(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("publicacao-prata-1")
	run.On("GetRunID").Return("run-1")

	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "publicacao-prata-1" && o.TaskQueue == "publicacoes"
		}),
		"ProcessarPublicacao",
		mock.MatchedBy(func(in PublicationInput) bool {
			return in.PrataID == "prata-1" && in.Type == model.TypeIntimacao && in.Urgent && *in.DeadlineDays == 3
		}),
	).Return(run, nil).Once()

	tr := NewTrigger(c, Config{TaskQueue: "publicacoes", Workflow: "ProcessarPublicacao"})
	runID, err := tr.Trigger(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	c.AssertExpectations(t)
}

func TestTrigger_StartError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("namespace not found"))

	tr := NewTrigger(c, Config{TaskQueue: "q", Workflow: "W"})
	_, err := tr.Trigger(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow: start W for prata-1")
	assert.Contains(t, err.Error(), "namespace not found")
}

func TestTrigger_StartTimeoutApplied(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= 10*time.Second
	}), mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("stop"))

	_, err := NewTrigger(c, Config{}).Trigger(context.Background(), testRecord())
	require.Error(t, err)
	c.AssertExpectations(t)
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	a := zapAdapter{s: zap.New(core).Sugar()}

	a.Debug("d", "k", 1)
	a.Info("i")
	a.Warn("w", "namespace", "default")
	a.Error("e")

	require.Equal(t, 4, logs.Len())
	assert.Equal(t, "default", logs.All()[2].ContextMap()["namespace"])
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "publicacao-abc", WorkflowID("abc"))
}
