package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fintech-crm/lead-engine/internal/model"
	"github.com/fintech-crm/lead-engine/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testClient() *HTTPClient {
	return NewHTTPClient("tok",
		WithRate(0),
		WithBackoff(resilience.Backoff{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}),
	)
}

func TestStrapiLoanAdapter_Pages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/loan-applies", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "createdAt:desc", r.URL.Query().Get("sort"))
		assert.Equal(t, "100", r.URL.Query().Get("pagination[pageSize]"))
		assert.Empty(t, r.URL.Query().Get("filters[createdAt][$gt]"))

		page := r.URL.Query().Get("pagination[page]")
		fmt.Fprintf(w, `{"data":[{"id":%s,"name":"n%s"}],"meta":{"pagination":{"page":%s,"pageCount":2}}}`, page, page, page)
	}))
	defer srv.Close()

	a := NewStrapiLoanAdapter(testClient(), StrapiConfig{BaseURL: srv.URL + "/"})
	assert.Equal(t, "strapi_loan", a.Name())
	assert.Equal(t, model.SourceStrapiLoan, a.Source())

	recs, err := a.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, KindStrapiLoan, recs[0].Kind)
	assert.JSONEq(t, `{"id":1,"name":"n1"}`, string(recs[0].Payload))
}

func TestStrapiCIBILAdapter_StopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cibil-check-users", r.URL.Path)
		assert.Equal(t, "first_name:asc", r.URL.Query().Get("sort"))
		assert.Equal(t, "1000", r.URL.Query().Get("pagination[pageSize]"))
		assert.Equal(t, "2024-01-02T03:04:05Z", r.URL.Query().Get("filters[createdAt][$gt]"))
		if r.URL.Query().Get("pagination[page]") == "1" {
			_, _ = w.Write([]byte(`{"data":[{"id":1},{"id":2}],"meta":{}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[],"meta":{}}`))
	}))
	defer srv.Close()

	a := NewStrapiCIBILAdapter(testClient(), StrapiConfig{BaseURL: srv.URL})
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	recs, err := a.FetchAll(context.Background(), FetchOptions{Since: since})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, model.SourceStrapiCIBIL, recs[1].Source)
}

func TestStrapiAdapter_Unavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewStrapiLoanAdapter(testClient(), StrapiConfig{BaseURL: srv.URL})
	_, err := a.FetchAll(context.Background(), FetchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var out map[string]any
	err := testClient().GetJSON(context.Background(), srv.URL, nil, &out)
	var se *resilience.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	assert.Error(t, testClient().GetJSON(context.Background(), srv.URL, nil, &out))
}

func TestBeehiivAdapter_CursorPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/publications/pub_1/subscriptions", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"id":"s1","email":"a@x.com","created":1700000000}],"pagination":{"next_cursor":"c2","has_more":true}}`))
		case "c2":
			_, _ = w.Write([]byte(`{"data":[{"id":"s2","email":"b@x.com","created":1600000000}],"pagination":{"next_cursor":"c3","has_more":false}}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	a := NewBeehiivAdapter(testClient(), srv.URL+"/v2", "pub_1")
	recs, err := a.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, KindBeehiiv, recs[1].Kind)

	recs, err = a.FetchAll(context.Background(), FetchOptions{Since: time.Unix(1650000000, 0)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, string(recs[0].Payload), "s1")
}

type fakeReports struct {
	reports []model.CreditReport
	err     error
	limit   int
	pages   int
}

func (f *fakeReports) ListCreditReports(_ context.Context, limit int) ([]model.CreditReport, error) {
	f.limit = limit
	return f.reports, f.err
}

// ListCreditReportsAfter expects reports sorted by created_at then id.
func (f *fakeReports) ListCreditReportsAfter(_ context.Context, createdAt time.Time, id string, limit int) ([]model.CreditReport, error) {
	f.pages++
	if f.err != nil {
		return nil, f.err
	}
	var out []model.CreditReport
	for _, r := range f.reports {
		if r.CreatedAt.After(createdAt) || (r.CreatedAt.Equal(createdAt) && r.ID > id) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func TestCreditReportAdapter(t *testing.T) {
	score := 780
	f := &fakeReports{reports: []model.CreditReport{{
		ID:          "r1",
		FirstName:   model.Str("Jane"),
		PhoneNumber: model.Str("9000000001"),
		CreditScore: &score,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}}

	a := NewCreditReportAdapter(f, 0)
	recs, err := a.FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 100, f.limit)
	require.Len(t, recs, 1)
	assert.Equal(t, KindCreditReport, recs[0].Kind)
	assert.Equal(t, model.SourceStrapiCIBIL, recs[0].Source)

	var back model.CreditReport
	require.NoError(t, json.Unmarshal(recs[0].Payload, &back))
	assert.Equal(t, 780, *back.CreditScore)

	f.err = errors.New("db down")
	_, err = a.FetchAll(context.Background(), FetchOptions{})
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestCreditReportAdapter_IncrementalReadsEveryPage(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeReports{}
	for i := 0; i < 7; i++ {
		f.reports = append(f.reports, model.CreditReport{
			ID:          fmt.Sprintf("r%d", i),
			PhoneNumber: model.Str(fmt.Sprintf("900000000%d", i)),
			// two reports share each timestamp to exercise the id tiebreak
			CreatedAt: since.Add(time.Duration(i/2+1) * time.Minute),
		})
	}

	a := NewCreditReportAdapter(f, 3)
	recs, err := a.FetchAll(context.Background(), FetchOptions{Since: since})
	require.NoError(t, err)
	assert.Len(t, recs, 7)
	assert.Equal(t, 3, f.pages)

	var last model.CreditReport
	require.NoError(t, json.Unmarshal(recs[6].Payload, &last))
	assert.Equal(t, "r6", last.ID)
}

type countingAdapter struct {
	calls int
	recs  []Record
}

func (c *countingAdapter) Name() string         { return "beehiiv" }
func (c *countingAdapter) Source() model.Source { return model.SourceBeehiiv }
func (c *countingAdapter) FetchAll(context.Context, FetchOptions) ([]Record, error) {
	c.calls++
	return c.recs, nil
}

func TestCachedAdapter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close() //nolint:errcheck

	inner := &countingAdapter{recs: []Record{{Kind: KindBeehiiv, Source: model.SourceBeehiiv, Payload: json.RawMessage(`{"id":"s1"}`)}}}
	c := NewCachedAdapter(inner, rdb, time.Minute)
	ctx := context.Background()

	first, err := c.FetchAll(ctx, FetchOptions{})
	require.NoError(t, err)
	second, err := c.FetchAll(ctx, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	require.Len(t, second, 1)
	assert.JSONEq(t, string(first[0].Payload), string(second[0].Payload))
	assert.True(t, mr.Exists("leads:source:beehiiv"))

	// incremental fetches bypass the cache
	_, err = c.FetchAll(ctx, FetchOptions{Since: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	require.NoError(t, c.Invalidate(ctx))
	_, _ = c.FetchAll(ctx, FetchOptions{})
	assert.Equal(t, 3, inner.calls)
}

func TestCachedAdapter_RedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close() //nolint:errcheck
	mr.Close()

	inner := &countingAdapter{recs: []Record{{Kind: KindBeehiiv}}}
	recs, err := NewCachedAdapter(inner, rdb, time.Minute).FetchAll(context.Background(), FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, inner.calls)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = rdb.Close()

	_, err = NewRedisClient(context.Background(), "://bad")
	assert.Error(t, err)
}
