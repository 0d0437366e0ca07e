package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/publicacoes-cli/internal/config"
)

func defaultMonitoring() config.MonitoringConfig {
	return config.MonitoringConfig{FailureRateThreshold: 0.2, MarkingFailureLimit: 50, StuckLoteMinutes: 60}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	alerts := a.Evaluate(&MetricsSnapshot{
		LotesTotal:       4,
		LotesProcessed:   4,
		RecordsAttempted: 100,
		RecordsFailed:    5,
		RecordFailRate:   0.05,
		MarkingFailures:  3,
		LookbackHours:    24,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RecordFailureRate(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	alerts := a.Evaluate(&MetricsSnapshot{
		RecordsAttempted: 40,
		RecordsFailed:    16,
		RecordFailRate:   0.4,
		LookbackHours:    24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRecordFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRecordsRequired(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	alerts := a.Evaluate(&MetricsSnapshot{RecordsAttempted: 5, RecordsFailed: 5, RecordFailRate: 1})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring())

	alerts := a.Evaluate(&MetricsSnapshot{
		LotesTotal:       3,
		LotesFailed:      1,
		LotesStuck:       2,
		RecordsAttempted: 30,
		RecordsFailed:    15,
		RecordFailRate:   0.5,
		MarkingFailures:  50,
		LookbackHours:    24,
	})
	require.Len(t, alerts, 4)

	types := map[AlertType]bool{}
	for _, al := range alerts {
		types[al.Type] = true
		assert.False(t, al.Timestamp.IsZero())
	}
	assert.True(t, types[AlertRecordFailureRate])
	assert.True(t, types[AlertLoteFailure])
	assert.True(t, types[AlertStuckLotes])
	assert.True(t, types[AlertMarkingFailures])
}

func TestAlerter_Evaluate_MarkingLimitDisabled(t *testing.T) {
	cfg := defaultMonitoring()
	cfg.MarkingFailureLimit = 0
	alerts := NewAlerter(cfg).Evaluate(&MetricsSnapshot{MarkingFailures: 1000})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRecordFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertLoteFailure, Severity: "high", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertLoteFailure, Message: "test"}}))
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertLoteFailure, Message: "test"}}))
}
