package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/config"
	"github.com/fintech-crm/lead-engine/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockSyncLog struct {
	entries []store.SyncEntry
	err     error
}

func (m *mockSyncLog) ListSyncs(_ context.Context, limit int) ([]store.SyncEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.entries) > limit {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

type mockCircuits map[string]string

func (m mockCircuits) States() map[string]string { return m }

var fixedNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func collectorAt(log SyncLister, circuits CircuitReporter) *Collector {
	c := NewCollector(log, circuits)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	log := &mockSyncLog{entries: []store.SyncEntry{
		{Source: "beehiiv", Status: store.SyncFailed, StartedAt: fixedNow.Add(-time.Hour)},
		{Source: "strapi_loan", Status: store.SyncComplete, StartedAt: fixedNow.Add(-2 * time.Hour), Records: 40},
		{Source: "beehiiv", Status: store.SyncComplete, StartedAt: fixedNow.Add(-3 * time.Hour), Records: 2},
		{Source: "strapi_loan", Status: store.SyncFailed, StartedAt: fixedNow.Add(-4 * time.Hour)},
		{Source: "strapi_cibil", Status: store.SyncRunning, StartedAt: fixedNow.Add(-5 * time.Hour)},
		{Source: "strapi_cibil", Status: store.SyncFailed, StartedAt: fixedNow.Add(-48 * time.Hour)},
	}}

	snap, err := collectorAt(log, mockCircuits{"beehiiv": "open", "strapi_loan": "closed"}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.SyncTotal)
	assert.Equal(t, 2, snap.SyncComplete)
	assert.Equal(t, 2, snap.SyncFailed)
	assert.Equal(t, 1, snap.SyncRunning)
	assert.InDelta(t, 0.5, snap.SyncFailRate, 1e-9)
	assert.Equal(t, int64(42), snap.RowsWritten)
	assert.Equal(t, []string{"beehiiv"}, snap.FailedSources)
	assert.Equal(t, []string{"beehiiv"}, snap.OpenCircuits)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_Error(t *testing.T) {
	_, err := collectorAt(&mockSyncLog{err: errors.New("db down")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list sync entries")
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})
	alerts := a.Evaluate(&MetricsSnapshot{SyncComplete: 10, SyncFailed: 1, SyncFailRate: 1.0 / 11, LookbackHours: 24})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})
	alerts := a.Evaluate(&MetricsSnapshot{SyncComplete: 1, SyncFailed: 3, SyncFailRate: 0.75, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSyncFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "75.0%")
}

func TestAlerter_Evaluate_TooFewRunsForRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})
	alerts := a.Evaluate(&MetricsSnapshot{SyncFailed: 2, SyncFailRate: 1})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_SourcesAndCircuits(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})
	alerts := a.Evaluate(&MetricsSnapshot{
		FailedSources: []string{"beehiiv", "strapi_loan"},
		OpenCircuits:  []string{"beehiiv"},
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertSourceFailing, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "beehiiv, strapi_loan")
	assert.Equal(t, AlertCircuitOpen, alerts[1].Type)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil || alert.Type == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCircuitOpen, Severity: "medium"},
		{Type: AlertSourceFailing, Severity: "medium"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertCircuitOpen}}))
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertCircuitOpen}}))
}

func TestChecker_Check(t *testing.T) {
	log := &mockSyncLog{entries: []store.SyncEntry{
		{Source: "beehiiv", Status: store.SyncFailed, StartedAt: fixedNow.Add(-time.Hour)},
	}}
	checker := NewChecker(collectorAt(log, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSourceFailing, alerts[0].Type)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	checker := NewChecker(collectorAt(&mockSyncLog{}, nil), NewAlerter(config.MonitoringConfig{}),
		config.MonitoringConfig{CheckInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}
