package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/model"
)

const beehiivPageLimit = "100"

type beehiivPage struct {
	Data       []json.RawMessage `json:"data"`
	Pagination struct {
		NextCursor string `json:"next_cursor"`
		HasMore    bool   `json:"has_more"`
	} `json:"pagination"`
}

// BeehiivAdapter reads newsletter subscriptions for one publication.
type BeehiivAdapter struct {
	client        *HTTPClient
	baseURL       string
	publicationID string
}

// NewBeehiivAdapter creates an adapter for publicationID. baseURL is the
// versioned API root, e.g. https://api.beehiiv.com/v2.
func NewBeehiivAdapter(client *HTTPClient, baseURL, publicationID string) *BeehiivAdapter {
	return &BeehiivAdapter{
		client:        client,
		baseURL:       strings.TrimRight(baseURL, "/"),
		publicationID: publicationID,
	}
}

// Name implements Adapter.
func (a *BeehiivAdapter) Name() string { return string(KindBeehiiv) }

// Source implements Adapter.
func (a *BeehiivAdapter) Source() model.Source { return model.SourceBeehiiv }

// FetchAll follows next_cursor while has_more is set. The API has no
// creation filter, so Since is applied to each subscription's created field.
func (a *BeehiivAdapter) FetchAll(ctx context.Context, opts FetchOptions) ([]Record, error) {
	endpoint := a.baseURL + "/publications/" + url.PathEscape(a.publicationID) + "/subscriptions"

	var out []Record
	cursor := ""
	for {
		q := url.Values{}
		q.Set("limit", beehiivPageLimit)
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp beehiivPage
		if err := a.client.GetJSON(ctx, endpoint, q, &resp); err != nil {
			return nil, unavailable(err, a.Name())
		}
		for _, raw := range resp.Data {
			if !opts.Since.IsZero() && !createdAfter(raw, opts.Since.Unix()) {
				continue
			}
			out = append(out, Record{Kind: KindBeehiiv, Source: model.SourceBeehiiv, Payload: raw})
		}

		cursor = resp.Pagination.NextCursor
		if cursor == "" || !resp.Pagination.HasMore {
			break
		}
	}

	zap.L().Debug("fetched beehiiv subscriptions",
		zap.String("component", "source"),
		zap.Int("records", len(out)),
	)
	return out, nil
}

func createdAfter(raw json.RawMessage, since int64) bool {
	var sub struct {
		Created int64 `json:"created"`
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return true
	}
	return sub.Created > since
}
