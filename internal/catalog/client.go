package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/propwatch/ingest-cli/internal/auth"
	"github.com/propwatch/ingest-cli/internal/resilience"
)

// Endpoint classes for circuit breaking. Search and detail fail
// independently upstream, so each gets its own breaker.
const (
	EndpointSearch = "search"
	EndpointDetail = "detail"
)

// Options configures the catalog client.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	PageSize   int
	Retry      resilience.RetryConfig
	Breaker    resilience.BreakerConfig
}

// Client fetches listing pages and detail payloads. Every request passes
// through the shared token-bucket limiter and carries the manager's current
// bearer credential; no caller may bypass either.
type Client struct {
	http     *http.Client
	opts     Options
	creds    *auth.Manager
	limiter  *rate.Limiter
	breakers *resilience.EndpointBreakers
}

// NewClient creates a catalog client. The limiter is the single global
// request budget shared by all workers.
func NewClient(opts Options, creds *auth.Manager) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RatePerSec)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ingest-cli/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		creds:    creds,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		breakers: resilience.NewEndpointBreakers(opts.Breaker),
	}
}

// Limiter exposes the shared limiter for rate-compliance checks.
func (c *Client) Limiter() *rate.Limiter { return c.limiter }

// BreakerStates reports the per-endpoint circuit states for observability.
func (c *Client) BreakerStates() map[string]resilience.CircuitState {
	return c.breakers.States()
}

// SearchPage fetches one page of listings for a region. hasMore reports
// whether further pages exist.
func (c *Client) SearchPage(ctx context.Context, region string, page int) (*SearchPage, bool, error) {
	u := fmt.Sprintf("%s/v2/regions/%s/listings?page=%d&size=%d",
		c.opts.BaseURL, url.PathEscape(region), page, c.opts.PageSize)

	var sp SearchPage
	if err := c.getJSON(ctx, EndpointSearch, u, &sp); err != nil {
		return nil, false, eris.Wrapf(err, "catalog: search region %s page %d", region, page)
	}
	return &sp, sp.Page < sp.TotalPages, nil
}

// Detail fetches the multi-section detail payload for one listing.
func (c *Client) Detail(ctx context.Context, externalID string) (*RawDetail, error) {
	u := fmt.Sprintf("%s/v2/listings/%s", c.opts.BaseURL, url.PathEscape(externalID))

	var d RawDetail
	if err := c.getJSON(ctx, EndpointDetail, u, &d); err != nil {
		return nil, eris.Wrapf(err, "catalog: detail %s", externalID)
	}
	if d.ExternalID == "" {
		d.ExternalID = externalID
	}
	return &d, nil
}

// getJSON issues one logical GET: breaker -> retry loop -> limiter ->
// credential -> request. A 401/403 invalidates the credential and retries
// exactly once after refresh.
func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, out any) error {
	breaker := c.breakers.Get(endpoint)

	body, err := resilience.Execute(ctx, breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, c.retryConfig(endpoint), func(ctx context.Context) ([]byte, error) {
			return c.doOnce(ctx, rawURL, true)
		})
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func (c *Client) retryConfig(endpoint string) resilience.RetryConfig {
	cfg := c.opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = resilience.DefaultRetryConfig()
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(endpoint, "get")
	}
	return cfg
}

// doOnce performs a single attempt. retryAuth permits the one
// invalidate-refresh-retry on a credential rejection.
func (c *Client) doOnce(ctx context.Context, rawURL string, retryAuth bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	token, err := c.creds.Current(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resilience.NetworkError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &resilience.NetworkError{Err: err}
		}
		return body, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.creds.Invalidate()
		if retryAuth {
			zap.L().Warn("credential rejected, refreshing and retrying once",
				zap.Int("status", resp.StatusCode),
				zap.String("url", rawURL),
			)
			return c.doOnce(ctx, rawURL, false)
		}
		return nil, &resilience.AuthError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("credential rejected twice by %s", rawURL),
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitError{
			Err: eris.Errorf("http 429 from %s", rawURL),
		}

	case resp.StatusCode >= 500:
		return nil, &resilience.NetworkError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("http %d from %s", resp.StatusCode, rawURL),
		}

	default:
		return nil, eris.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
}
