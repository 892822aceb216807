package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/fintech-crm/lead-engine/internal/resilience"
)

// HTTPClient is the JSON-over-HTTP client shared by the API adapters. It
// authenticates with a bearer token, rate-limits per upstream and retries
// transient failures.
type HTTPClient struct {
	http    *http.Client
	token   string
	limiter *rate.Limiter
	backoff resilience.Backoff
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = hc }
}

// WithRate limits requests to perSec with a burst of one. Zero disables limiting.
func WithRate(perSec float64) HTTPOption {
	return func(c *HTTPClient) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithBackoff sets the retry policy.
func WithBackoff(b resilience.Backoff) HTTPOption {
	return func(c *HTTPClient) { c.backoff = b }
}

// NewHTTPClient creates a client that sends "Authorization: Bearer <token>".
func NewHTTPClient(token string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		token: token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 1),
		backoff: resilience.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON issues GET base?query and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, base string, query url.Values, out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return eris.Wrapf(err, "source: parse url %s", base)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	target := u.String()

	body, err := resilience.Retry(ctx, c.backoff, "GET "+u.Path, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, target)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "source: decode %s", u.Path)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "source: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "source: http request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "source: read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.StatusError{Code: resp.StatusCode, URL: req.URL.Path, Body: string(body)}
	}
	return body, nil
}
