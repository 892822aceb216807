package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/model"
)

// strapiPage is one page of a Strapi v5 REST collection response.
type strapiPage struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageSize  int `json:"pageSize"`
			PageCount int `json:"pageCount"`
			Total     int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
}

// StrapiConfig locates a Strapi instance.
type StrapiConfig struct {
	BaseURL       string
	PageSize      int
	CIBILPageSize int
}

// strapiCollection pages through one Strapi collection type.
type strapiCollection struct {
	client   *HTTPClient
	endpoint string
	sort     string
	pageSize int
	kind     Kind
	source   model.Source
}

func (s *strapiCollection) Name() string         { return string(s.kind) }
func (s *strapiCollection) Source() model.Source { return s.source }

// FetchAll walks pages until an empty page or the reported page count.
func (s *strapiCollection) FetchAll(ctx context.Context, opts FetchOptions) ([]Record, error) {
	log := zap.L().With(zap.String("component", "source"), zap.String("source", s.Name()))

	var out []Record
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pagination[page]", strconv.Itoa(page))
		q.Set("pagination[pageSize]", strconv.Itoa(s.pageSize))
		q.Set("sort", s.sort)
		if !opts.Since.IsZero() {
			q.Set("filters[createdAt][$gt]", opts.Since.UTC().Format(time.RFC3339))
		}

		var resp strapiPage
		if err := s.client.GetJSON(ctx, s.endpoint, q, &resp); err != nil {
			return nil, unavailable(err, s.Name())
		}
		for _, raw := range resp.Data {
			out = append(out, Record{Kind: s.kind, Source: s.source, Payload: raw})
		}

		pc := resp.Meta.Pagination.PageCount
		if len(resp.Data) == 0 || (pc > 0 && page >= pc) {
			break
		}
	}

	log.Debug("fetched strapi collection", zap.Int("records", len(out)))
	return out, nil
}

// NewStrapiLoanAdapter reads loan application forms (/api/loan-applies),
// newest first.
func NewStrapiLoanAdapter(client *HTTPClient, cfg StrapiConfig) Adapter {
	return &strapiCollection{
		client:   client,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/api/loan-applies",
		sort:     "createdAt:desc",
		pageSize: orDefault(cfg.PageSize, 100),
		kind:     KindStrapiLoan,
		source:   model.SourceStrapiLoan,
	}
}

// NewStrapiCIBILAdapter reads CIBIL check submissions (/api/cibil-check-users).
func NewStrapiCIBILAdapter(client *HTTPClient, cfg StrapiConfig) Adapter {
	return &strapiCollection{
		client:   client,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/api/cibil-check-users",
		sort:     "first_name:asc",
		pageSize: orDefault(cfg.CIBILPageSize, 1000),
		kind:     KindStrapiCIBIL,
		source:   model.SourceStrapiCIBIL,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
