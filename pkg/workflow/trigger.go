// Package workflow starts the downstream case-management workflow for each
// newly curated publication.
package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

// Starter is the part of client.Client the trigger uses.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Config names the workflow to start and where.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
	Workflow  string
	// StartTimeout bounds the start call, not the workflow.
	StartTimeout time.Duration
}

// PublicationInput is the workflow argument.
type PublicationInput struct {
	PrataID       string                `json:"prata_id"`
	BronzeID      string                `json:"bronze_id"`
	LoteID        string                `json:"lote_id"`
	SourceCode    int64                 `json:"source_code"`
	ProcessNumber string                `json:"process_number"`
	Court         string                `json:"court,omitempty"`
	PublishedOn   *time.Time            `json:"published_on,omitempty"`
	Type          model.PublicationType `json:"type"`
	Urgent        bool                  `json:"urgent"`
	DeadlineDays  *int                  `json:"deadline_days,omitempty"`
}

// Trigger starts one workflow per prata record. The workflow id is derived
// from the record id, so a repeated trigger attaches to the existing run.
type Trigger struct {
	starter Starter
	cfg     Config
}

// NewTrigger wraps an existing starter.
func NewTrigger(s Starter, cfg Config) *Trigger {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	return &Trigger{starter: s, cfg: cfg}
}

// Dial connects to Temporal and returns a trigger plus a close func.
func Dial(cfg Config) (*Trigger, func(), error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    zapAdapter{s: zap.L().Sugar().Named("temporal")},
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "workflow: dial %s", cfg.HostPort)
	}
	return NewTrigger(c, cfg), c.Close, nil
}

// WorkflowID returns the id used for a prata record.
func WorkflowID(prataID string) string {
	return "publicacao-" + prataID
}

// Trigger starts the workflow for rec and returns the run id.
func (t *Trigger) Trigger(ctx context.Context, rec model.PrataRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.StartTimeout)
	defer cancel()

	run, err := t.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(rec.ID),
		TaskQueue: t.cfg.TaskQueue,
	}, t.cfg.Workflow, inputFrom(rec))
	if err != nil {
		return "", eris.Wrapf(err, "workflow: start %s for %s", t.cfg.Workflow, rec.ID)
	}

	zap.L().Debug("workflow started",
		zap.String("prata_id", rec.ID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return run.GetRunID(), nil
}

func inputFrom(rec model.PrataRecord) PublicationInput {
	return PublicationInput{
		PrataID:       rec.ID,
		BronzeID:      rec.BronzeID,
		LoteID:        rec.LoteID,
		SourceCode:    rec.SourceCode,
		ProcessNumber: rec.ProcessNumber,
		Court:         rec.Court,
		PublishedOn:   rec.PublishedOn,
		Type:          rec.Classification.Type,
		Urgent:        rec.Classification.Urgent,
		DeadlineDays:  rec.Classification.DeadlineDays,
	}
}

// zapAdapter satisfies the Temporal SDK logger with zap key/value pairs.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (z zapAdapter) Debug(msg string, keyvals ...interface{}) { z.s.Debugw(msg, keyvals...) }
func (z zapAdapter) Info(msg string, keyvals ...interface{})  { z.s.Infow(msg, keyvals...) }
func (z zapAdapter) Warn(msg string, keyvals ...interface{})  { z.s.Warnw(msg, keyvals...) }
func (z zapAdapter) Error(msg string, keyvals ...interface{}) { z.s.Errorw(msg, keyvals...) }
