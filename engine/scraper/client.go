package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/pkg/fn"
)

// Client fetches one page of posts for a profile. An empty token requests
// the first page.
type Client interface {
	Posts(ctx context.Context, username, paginationToken string) (*Page, error)
}

// RapidClient implements Client against the RapidAPI Instagram endpoint.
type RapidClient struct {
	host    string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// RapidOpts configures the RapidAPI client.
type RapidOpts struct {
	Host   string // e.g. "instagram-scraper-api2.p.rapidapi.com"
	APIKey string
	// RequestsPerSecond paces pagination; the upstream enforces its own
	// limits and responds 429 above them.
	RequestsPerSecond float64
}

// NewRapidClient creates a paced RapidAPI client.
func NewRapidClient(opts RapidOpts) *RapidClient {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 0.5
	}
	return &RapidClient{
		host:    opts.Host,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type postsResponse struct {
	Data struct {
		Items []Item `json:"items"`
	} `json:"data"`
	PaginationToken string `json:"pagination_token"`
}

// Posts fetches one page. Transient failures (429, 5xx, network) are
// retried with backoff; auth failures are surfaced immediately as
// unrecoverable.
func (c *RapidClient) Posts(ctx context.Context, username, paginationToken string) (*Page, error) {
	u := url.URL{
		Scheme: "https",
		Host:   c.host,
		Path:   "/v1.2/posts",
	}
	q := u.Query()
	q.Set("username_or_id_or_url", username)
	if paginationToken != "" {
		q.Set("pagination_token", paginationToken)
	}
	u.RawQuery = q.Encode()

	retryable := func(err error) bool {
		return !errors.Is(err, domain.ErrInfrastructure)
	}
	result := fn.RetryIf(ctx, fn.DefaultRetry, retryable, func(ctx context.Context) fn.Result[*Page] {
		if err := c.limiter.Wait(ctx); err != nil {
			return fn.Err[*Page](err)
		}
		return c.fetch(ctx, u.String())
	})
	page, err := result.Unwrap()
	if errors.Is(err, domain.ErrInfrastructure) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamFetch, err)
	}
	return page, nil
}

func (c *RapidClient) fetch(ctx context.Context, rawURL string) fn.Result[*Page] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fn.Err[*Page](err)
	}
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.client.Do(req)
	if err != nil {
		return fn.Err[*Page](err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Auth failures won't heal on retry; give up now with the whole
		// budget intact.
		return fn.Err[*Page](fmt.Errorf("%w: upstream auth rejected (%d)", domain.ErrInfrastructure, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fn.Errf[*Page]("http %d from %s", resp.StatusCode, c.host)
	}

	var body postsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fn.Errf[*Page]("decode posts page: %w", err)
	}
	return fn.Ok(&Page{
		Items:           body.Data.Items,
		PaginationToken: body.PaginationToken,
	})
}
