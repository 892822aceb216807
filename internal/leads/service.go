// Package leads builds the combined lead view: it fans out to every lead
// source, normalizes and filters what comes back, reconciles it into the
// users table and pages the authoritative result.
package leads

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fintech-crm/lead-engine/internal/filter"
	"github.com/fintech-crm/lead-engine/internal/metrics"
	"github.com/fintech-crm/lead-engine/internal/model"
	"github.com/fintech-crm/lead-engine/internal/normalize"
	"github.com/fintech-crm/lead-engine/internal/reconcile"
	"github.com/fintech-crm/lead-engine/internal/resilience"
	"github.com/fintech-crm/lead-engine/internal/source"
)

// DefaultSourceTimeout bounds each adapter call.
const DefaultSourceTimeout = 30 * time.Second

// UserLister reads active users matching a criteria set.
type UserLister interface {
	ListUsers(ctx context.Context, c filter.Criteria) ([]model.UserRecord, error)
}

// Reconciler persists unified leads.
type Reconciler interface {
	Reconcile(ctx context.Context, leads []model.Lead) (reconcile.Result, error)
}

// Service assembles combined leads.
type Service struct {
	adapters      []source.Adapter
	users         UserLister
	writer        Reconciler
	breakers      *resilience.Breakers
	buckets       *filter.Buckets
	sourceTimeout time.Duration
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBreakers guards each adapter with the named breaker from reg.
func WithBreakers(reg *resilience.Breakers) Option {
	return func(s *Service) { s.breakers = reg }
}

// WithSourceTimeout overrides DefaultSourceTimeout.
func WithSourceTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sourceTimeout = d
		}
	}
}

// WithBuckets sets the bucket tables used to resolve range filters.
func WithBuckets(b *filter.Buckets) Option {
	return func(s *Service) { s.buckets = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. Adapters are listed in precedence order:
// when two sources describe the same person, fields from the earlier one
// win. users and writer may be nil, in which case the combined view is
// built from the external sources alone.
func NewService(adapters []source.Adapter, users UserLister, writer Reconciler, opts ...Option) *Service {
	s := &Service{
		adapters:      adapters,
		users:         users,
		writer:        writer,
		breakers:      resilience.NewBreakers(resilience.BreakerConfig{}),
		sourceTimeout: DefaultSourceTimeout,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Criteria resolves request parameters against the service's buckets and clock.
func (s *Service) Criteria(p filter.Params) filter.Criteria {
	var opts []filter.Option
	if s.buckets != nil {
		opts = append(opts, filter.WithBuckets(s.buckets))
	}
	return filter.NewCriteria(p, s.now(), opts...)
}

// GetCombinedLeads returns one page of the combined, filtered lead list.
// Source failures degrade to missing data rather than errors; the only
// error is the caller's context ending first.
func (s *Service) GetCombinedLeads(ctx context.Context, p filter.Params, page, pageSize int) (model.CombinedLeads, error) {
	log := zap.L().With(zap.String("component", "leads"))
	c := s.Criteria(p)

	external, stats := s.FetchExternal(ctx, c, source.FetchOptions{})
	// Adapter order decides merge precedence, so sorting waits until
	// the final set is known.
	filtered := filter.Match(external, c)
	log.Debug("external leads",
		zap.Int("fetched", stats.Total),
		zap.Int("skipped", stats.SkippedTotal()),
		zap.Int("matched", len(filtered)),
	)

	if s.writer != nil && len(filtered) > 0 {
		if _, err := s.writer.Reconcile(ctx, filtered); err != nil {
			log.Error("reconcile failed", zap.Error(err))
		}
	}

	combined, err := s.authoritative(ctx, c, filtered)
	if err != nil {
		log.Error("users query failed, serving external leads", zap.Error(err))
		combined = consolidated(filtered)
		filter.SortByActivity(combined)
	}

	if err := ctx.Err(); err != nil {
		return model.CombinedLeads{}, err
	}
	return Paginate(combined, page, pageSize), nil
}

func (s *Service) authoritative(ctx context.Context, c filter.Criteria, external []model.Lead) ([]model.Lead, error) {
	if s.users == nil {
		out := consolidated(external)
		filter.SortByActivity(out)
		return out, nil
	}
	rows, err := s.users.ListUsers(ctx, c)
	if err != nil {
		return nil, err
	}
	return filter.Apply(normalize.FromUsers(rows), c), nil
}

func consolidated(leads []model.Lead) []model.Lead {
	g := reconcile.Consolidate(leads)
	return append(g.Phone, g.EmailOnly...)
}

// FetchExternal fetches every adapter the criteria allow, concurrently,
// and normalizes the records. The result keeps adapter order. A failing
// adapter contributes nothing.
func (s *Service) FetchExternal(ctx context.Context, c filter.Criteria, opts source.FetchOptions) ([]model.Lead, normalize.Stats) {
	slots := make([][]source.Record, len(s.adapters))

	var g errgroup.Group
	for i, a := range s.adapters {
		if !c.AllowsSource(a.Source()) {
			continue
		}
		i, a := i, a
		g.Go(func() error {
			slots[i] = s.fetch(ctx, a, opts)
			return nil
		})
	}
	_ = g.Wait()

	var records []source.Record
	for _, recs := range slots {
		records = append(records, recs...)
	}
	return normalize.NormalizeAll(records)
}

// fetch calls a single adapter under its breaker and timeout. Timeouts
// count against the breaker; cancellation of ctx does not.
func (s *Service) fetch(ctx context.Context, a source.Adapter, opts source.FetchOptions) []source.Record {
	recs, err := resilience.Guard(ctx, s.breakers.For(a.Name()), func(ctx context.Context) ([]source.Record, error) {
		ctx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
		defer cancel()
		return a.FetchAll(ctx, opts)
	})
	if err != nil {
		metrics.SourceFailures.WithLabelValues(a.Name()).Inc()
		zap.L().Warn("source unavailable, continuing without it",
			zap.String("component", "leads"),
			zap.String("source", a.Name()),
			zap.Error(err),
		)
		return nil
	}
	metrics.SourceRecords.WithLabelValues(a.Name()).Add(float64(len(recs)))
	return recs
}

// Adapters returns the configured adapters in precedence order.
func (s *Service) Adapters() []source.Adapter { return s.adapters }

// Breakers exposes the per-source breaker registry.
func (s *Service) Breakers() *resilience.Breakers { return s.breakers }
