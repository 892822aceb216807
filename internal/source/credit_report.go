package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// CreditReportLister reads stored credit reports.
type CreditReportLister interface {
	ListCreditReports(ctx context.Context, limit int) ([]model.CreditReport, error)
	ListCreditReportsAfter(ctx context.Context, createdAt time.Time, id string, limit int) ([]model.CreditReport, error)
}

// CreditReportAdapter exposes direct CIBIL checks from credit_reports as
// strapi_cibil records.
type CreditReportAdapter struct {
	store CreditReportLister
	limit int
}

// NewCreditReportAdapter reads the limit newest reports on a full fetch
// (default 100). Incremental fetches page through every report created
// since the watermark, limit rows at a time.
func NewCreditReportAdapter(store CreditReportLister, limit int) *CreditReportAdapter {
	return &CreditReportAdapter{store: store, limit: orDefault(limit, 100)}
}

// Name implements Adapter.
func (a *CreditReportAdapter) Name() string { return "credit_reports" }

// Source implements Adapter.
func (a *CreditReportAdapter) Source() model.Source { return model.SourceStrapiCIBIL }

// FetchAll implements Adapter.
func (a *CreditReportAdapter) FetchAll(ctx context.Context, opts FetchOptions) ([]Record, error) {
	reports, err := a.list(ctx, opts.Since)
	if err != nil {
		return nil, unavailable(err, a.Name())
	}

	out := make([]Record, 0, len(reports))
	for _, r := range reports {
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrap(err, "source: encode credit report")
		}
		out = append(out, Record{Kind: KindCreditReport, Source: model.SourceStrapiCIBIL, Payload: payload})
	}
	return out, nil
}

func (a *CreditReportAdapter) list(ctx context.Context, since time.Time) ([]model.CreditReport, error) {
	if since.IsZero() {
		return a.store.ListCreditReports(ctx, a.limit)
	}

	var (
		out      []model.CreditReport
		cursorAt = since
		cursorID string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := a.store.ListCreditReportsAfter(ctx, cursorAt, cursorID, a.limit)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < a.limit {
			return out, nil
		}
		last := page[len(page)-1]
		cursorAt, cursorID = last.CreatedAt, last.ID
	}
}
