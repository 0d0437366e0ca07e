package batch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

const (
	triggerQueueSize = 1024
	triggerWorkers   = 4
)

// dispatcher hands novel records to the workflow trigger off the worker
// pool. When the queue is full the record is dropped and logged.
type dispatcher struct {
	trigger Trigger
	queue   chan model.PrataRecord
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newDispatcher(t Trigger, size, workers int) *dispatcher {
	d := &dispatcher{trigger: t, queue: make(chan model.PrataRecord, size)}
	for range workers {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for rec := range d.queue {
		runID, err := d.trigger.Trigger(context.Background(), rec)
		if err != nil {
			zap.L().Warn("batch: workflow trigger failed",
				zap.String("prata_id", rec.ID),
				zap.Int64("source_code", rec.SourceCode),
				zap.Error(err),
			)
			continue
		}
		zap.L().Debug("workflow started", zap.String("prata_id", rec.ID), zap.String("run_id", runID))
	}
}

// enqueue never blocks.
func (d *dispatcher) enqueue(rec model.PrataRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- rec:
		return true
	default:
		zap.L().Warn("batch: workflow queue full, trigger dropped",
			zap.String("prata_id", rec.ID),
			zap.Int64("source_code", rec.SourceCode),
		)
		return false
	}
}

// close stops accepting records and waits for queued triggers to finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
