package syncer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Scheduler runs a full-source sync on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers s on spec (standard five-field cron) evaluated in
// timezone. An unknown timezone falls back to UTC. Overlapping runs are
// skipped; each run is bounded by runTimeout.
func NewScheduler(s *Syncer, spec, timezone string, runTimeout time.Duration) (*Scheduler, error) {
	log := zap.L().With(zap.String("component", "syncer.schedule"))

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn("unknown timezone, using UTC", zap.String("timezone", timezone), zap.Error(err))
		loc = time.UTC
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		outcomes, err := s.Run(ctx, RunOpts{})
		if err != nil {
			log.Error("scheduled sync failed", zap.Error(err))
			return
		}
		log.Info("scheduled sync finished", zap.Int("sources", len(outcomes)))
	})
	if err != nil {
		return nil, eris.Wrapf(err, "syncer: schedule %q", spec)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins running scheduled syncs in the background.
func (sc *Scheduler) Start() {
	sc.cron.Start()
	zap.L().Info("sync scheduler started", zap.String("component", "syncer.schedule"))
}

// Stop halts scheduling and returns a context done once running jobs finish.
func (sc *Scheduler) Stop() context.Context {
	return sc.cron.Stop()
}

// Next reports the next scheduled run, or the zero time when none.
func (sc *Scheduler) Next() time.Time {
	entries := sc.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
