// Package geocode provides reverse geocoding of listing coordinates into
// human-readable addresses. Enrichment is best-effort: an unmatched point is
// not an error.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Client resolves a coordinate into an address.
type Client interface {
	// Reverse reverse-geocodes a single coordinate.
	Reverse(ctx context.Context, lat, lon float64) (*Result, error)
}

// Result holds the reverse-geocoding output for a coordinate.
type Result struct {
	Address    string
	PostalCode string
	Matched    bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit for provider calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithBaseURL overrides the provider endpoint. Tests point this at a local
// server.
func WithBaseURL(baseURL string) Option {
	return func(g *geocoder) {
		g.baseURL = baseURL
	}
}

type geocoder struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
}

// NewClient creates a reverse-geocoding Client with the given options.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type reverseResponse struct {
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
}

// Reverse reverse-geocodes a coordinate. Provider errors surface as errors;
// a well-formed empty response is simply unmatched.
func (g *geocoder) Reverse(ctx context.Context, lat, lon float64) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/reverse?lat=%s&lon=%s",
		g.baseURL,
		url.QueryEscape(fmt.Sprintf("%.7f", lat)),
		url.QueryEscape(fmt.Sprintf("%.7f", lon)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: reverse request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Result{Matched: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: reverse returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("geocode: read response: %w", err)
	}

	var parsed reverseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if parsed.Address == "" {
		return &Result{Matched: false}, nil
	}
	return &Result{Address: parsed.Address, PostalCode: parsed.PostalCode, Matched: true}, nil
}
