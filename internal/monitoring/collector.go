// Package monitoring watches lead sync health and posts webhook alerts
// when syncs fail or source circuits stay open.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fintech-crm/lead-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Sync runs within the lookback window.
	SyncTotal    int     `json:"sync_total"`
	SyncComplete int     `json:"sync_complete"`
	SyncFailed   int     `json:"sync_failed"`
	SyncRunning  int     `json:"sync_running"`
	SyncFailRate float64 `json:"sync_fail_rate"`
	RowsWritten  int64   `json:"rows_written"`

	// FailedSources lists sources whose latest run in the window failed.
	FailedSources []string `json:"failed_sources,omitempty"`
	// OpenCircuits lists sources whose breaker is not closed.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SyncLister reads recent sync runs, newest first.
type SyncLister interface {
	ListSyncs(ctx context.Context, limit int) ([]store.SyncEntry, error)
}

// CircuitReporter reports breaker states by source name.
type CircuitReporter interface {
	States() map[string]string
}

// Collector gathers sync health from the sync log and breaker registry.
type Collector struct {
	syncLog  SyncLister
	circuits CircuitReporter
	now      func() time.Time
}

// NewCollector creates a collector. circuits may be nil.
func NewCollector(syncLog SyncLister, circuits CircuitReporter) *Collector {
	return &Collector{syncLog: syncLog, circuits: circuits, now: time.Now}
}

// maxEntries bounds how much of the sync log one collection scans.
const maxEntries = 1000

// Collect builds a snapshot over the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.syncLog.ListSyncs(ctx, maxEntries)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sync entries")
	}

	latest := map[string]string{}
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.SyncTotal++
		switch e.Status {
		case store.SyncComplete:
			snap.SyncComplete++
			snap.RowsWritten += e.Records
		case store.SyncFailed:
			snap.SyncFailed++
		case store.SyncRunning:
			snap.SyncRunning++
		}
		if _, seen := latest[e.Source]; !seen {
			latest[e.Source] = e.Status
		}
	}
	if finished := snap.SyncComplete + snap.SyncFailed; finished > 0 {
		snap.SyncFailRate = float64(snap.SyncFailed) / float64(finished)
	}
	for src, status := range latest {
		if status == store.SyncFailed {
			snap.FailedSources = append(snap.FailedSources, src)
		}
	}
	sort.Strings(snap.FailedSources)

	if c.circuits != nil {
		for name, state := range c.circuits.States() {
			if state != "closed" {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
		sort.Strings(snap.OpenCircuits)
	}

	return snap, nil
}
