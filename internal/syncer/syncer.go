// Package syncer runs incremental lead syncs: each source is fetched from
// its last successful run onwards and reconciled into users, with every
// run recorded in lead_sync_log.
package syncer

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/metrics"
	"github.com/fintech-crm/lead-engine/internal/model"
	"github.com/fintech-crm/lead-engine/internal/normalize"
	"github.com/fintech-crm/lead-engine/internal/reconcile"
	"github.com/fintech-crm/lead-engine/internal/resilience"
	"github.com/fintech-crm/lead-engine/internal/source"
	"github.com/fintech-crm/lead-engine/internal/store"
)

// ErrUnknownSource is returned when a run names a source no adapter serves.
var ErrUnknownSource = eris.New("syncer: unknown source")

// SyncLog records sync runs.
type SyncLog interface {
	LastSuccess(ctx context.Context, source string) (*time.Time, error)
	StartSync(ctx context.Context, source string) (int64, error)
	CompleteSync(ctx context.Context, id int64, res store.SyncResult) error
	FailSync(ctx context.Context, id int64, msg string) error
}

// Reconciler persists unified leads.
type Reconciler interface {
	Reconcile(ctx context.Context, leads []model.Lead) (reconcile.Result, error)
}

// RunOpts selects what a run covers.
type RunOpts struct {
	Sources []string // adapter names; empty means all
	Full    bool     // ignore the watermark and fetch everything
}

// Outcome reports one source's run.
type Outcome struct {
	Source    string           `json:"source"`
	Fetched   int              `json:"fetched"`
	Skipped   int              `json:"skipped"`
	Reconcile reconcile.Result `json:"reconcile"`
	Error     string           `json:"error,omitempty"`
}

// Syncer syncs adapters into users.
type Syncer struct {
	adapters []source.Adapter
	syncLog  SyncLog
	writer   Reconciler
	breakers *resilience.Breakers
	timeout  time.Duration
}

// New creates a Syncer. Adapters run sequentially in the given order so
// earlier sources win column conflicts on new rows.
func New(adapters []source.Adapter, syncLog SyncLog, writer Reconciler, breakers *resilience.Breakers, timeout time.Duration) *Syncer {
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.BreakerConfig{})
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Syncer{adapters: adapters, syncLog: syncLog, writer: writer, breakers: breakers, timeout: timeout}
}

// Names lists the adapter names a run can select.
func (s *Syncer) Names() []string {
	names := make([]string, len(s.adapters))
	for i, a := range s.adapters {
		names[i] = a.Name()
	}
	return names
}

// Run syncs the selected sources. A failing source is recorded and the
// run moves on; errors are returned for unknown source names, sync log
// failures and cancellation.
func (s *Syncer) Run(ctx context.Context, opts RunOpts) ([]Outcome, error) {
	log := zap.L().With(zap.String("component", "syncer"))

	selected, err := s.selectAdapters(opts.Sources)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(selected))
	for _, a := range selected {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		srcLog := log.With(zap.String("source", a.Name()))

		var since time.Time
		if !opts.Full {
			last, err := s.syncLog.LastSuccess(ctx, a.Name())
			if err != nil {
				return outcomes, eris.Wrapf(err, "syncer: check last sync for %s", a.Name())
			}
			if last != nil {
				since = *last
			}
		}

		id, err := s.syncLog.StartSync(ctx, a.Name())
		if err != nil {
			return outcomes, eris.Wrapf(err, "syncer: start sync log for %s", a.Name())
		}

		start := time.Now()
		out, err := s.syncOne(ctx, a, since)
		elapsed := time.Since(start)
		if err != nil {
			out.Error = err.Error()
			srcLog.Error("sync failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			if logErr := s.syncLog.FailSync(ctx, id, err.Error()); logErr != nil {
				srcLog.Error("failed to record sync failure", zap.Error(logErr))
			}
			outcomes = append(outcomes, out)
			continue
		}

		res := store.SyncResult{
			Records: out.Reconcile.Upserted + out.Reconcile.Inserted,
			Metadata: map[string]any{
				"fetched":        out.Fetched,
				"skipped":        out.Skipped,
				"failed_batches": out.Reconcile.FailedBatches,
				"since":          since,
			},
		}
		if err := s.syncLog.CompleteSync(ctx, id, res); err != nil {
			srcLog.Error("failed to record sync completion", zap.Error(err))
		}
		srcLog.Info("sync complete",
			zap.Int("fetched", out.Fetched),
			zap.Int64("rows", res.Records),
			zap.Duration("elapsed", elapsed),
		)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (s *Syncer) syncOne(ctx context.Context, a source.Adapter, since time.Time) (Outcome, error) {
	out := Outcome{Source: a.Name()}

	recs, err := resilience.Guard(ctx, s.breakers.For(a.Name()), func(ctx context.Context) ([]source.Record, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return a.FetchAll(ctx, source.FetchOptions{Since: since})
	})
	if err != nil {
		metrics.SourceFailures.WithLabelValues(a.Name()).Inc()
		return out, err
	}
	metrics.SourceRecords.WithLabelValues(a.Name()).Add(float64(len(recs)))

	leads, stats := normalize.NormalizeAll(recs)
	out.Fetched = stats.Total
	out.Skipped = stats.SkippedTotal()

	res, err := s.writer.Reconcile(ctx, leads)
	if err != nil {
		return out, eris.Wrapf(err, "syncer: reconcile %s", a.Name())
	}
	out.Reconcile = res
	if res.FailedBatches > 0 {
		// Leave the watermark where it was so the next run retries these leads.
		return out, eris.Errorf("syncer: %s: %d reconcile batches failed", a.Name(), res.FailedBatches)
	}
	return out, nil
}

func (s *Syncer) selectAdapters(names []string) ([]source.Adapter, error) {
	if len(names) == 0 {
		return s.adapters, nil
	}
	known := s.Names()
	for _, n := range names {
		if !slices.Contains(known, n) {
			return nil, eris.Wrapf(ErrUnknownSource, "%q (known: %v)", n, known)
		}
	}
	var out []source.Adapter
	for _, a := range s.adapters {
		if slices.Contains(names, a.Name()) {
			out = append(out, a)
		}
	}
	return out, nil
}
