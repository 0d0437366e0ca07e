package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/publicacoes-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRecordFailureRate AlertType = "record_failure_rate"
	AlertLoteFailure       AlertType = "lote_failure"
	AlertStuckLotes        AlertType = "stuck_lotes"
	AlertMarkingFailures   AlertType = "marking_failures"
)

// minRecordsForRate keeps a handful of failures in a tiny window from
// tripping the failure-rate alert.
const minRecordsForRate = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.RecordsAttempted >= minRecordsForRate && a.cfg.FailureRateThreshold > 0 &&
		snap.RecordFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRecordFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Record failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted in last %dh)",
				snap.RecordFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RecordsFailed, snap.RecordsAttempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RecordFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RecordsFailed,
				"attempted":    snap.RecordsAttempted,
			},
			Timestamp: now,
		})
	}

	if snap.LotesFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertLoteFailure,
			Severity: "high",
			Message:  fmt.Sprintf("%d lote(s) ended in error in last %dh", snap.LotesFailed, snap.LookbackHours),
			Details: map[string]any{
				"failed": snap.LotesFailed,
				"total":  snap.LotesTotal,
			},
			Timestamp: now,
		})
	}

	if snap.LotesStuck > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertStuckLotes,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d lote(s) pending or processing for over %d minutes", snap.LotesStuck, a.cfg.StuckLoteMinutes),
			Details:   map[string]any{"stuck": snap.LotesStuck},
			Timestamp: now,
		})
	}

	if a.cfg.MarkingFailureLimit > 0 && snap.MarkingFailures >= a.cfg.MarkingFailureLimit {
		alerts = append(alerts, Alert{
			Type:     AlertMarkingFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d source codes not marked as exported in last %dh (limit %d)",
				snap.MarkingFailures, snap.LookbackHours, a.cfg.MarkingFailureLimit,
			),
			Details: map[string]any{
				"failures": snap.MarkingFailures,
				"entries":  snap.MarkingEntries,
				"limit":    a.cfg.MarkingFailureLimit,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
