package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propwatch/ingest-cli/internal/auth"
	"github.com/propwatch/ingest-cli/internal/catalog"
	"github.com/propwatch/ingest-cli/internal/normalize"
	"github.com/propwatch/ingest-cli/internal/resilience"
	"github.com/propwatch/ingest-cli/internal/store"
	"github.com/propwatch/ingest-cli/pkg/geocode"
)

// initStore opens the database pool from config.
func initStore(ctx context.Context) (*store.PostgresStore, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required (INGEST_STORE_DATABASE_URL)")
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// initCatalog builds the upstream API client with its credential manager,
// shared rate limiter, retries, and circuit breakers.
func initCatalog() (*catalog.Client, error) {
	if cfg.Catalog.BaseURL == "" {
		return nil, eris.New("catalog.base_url is required (INGEST_CATALOG_BASE_URL)")
	}
	if cfg.Auth.TokenURL == "" {
		return nil, eris.New("auth.token_url is required (INGEST_AUTH_TOKEN_URL)")
	}

	creds := auth.NewManager(
		auth.NewHTTPTokenSource(cfg.Auth.TokenURL, cfg.Auth.ClientID, cfg.Auth.ClientSecret),
		auth.Options{
			ExpirySkew:  cfg.Auth.ExpirySkew,
			MaxFailures: cfg.Auth.MaxFailures,
		},
	)

	retry := resilience.DefaultRetryConfig()
	if cfg.Catalog.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Catalog.MaxRetries
	}

	return catalog.NewClient(catalog.Options{
		BaseURL:    cfg.Catalog.BaseURL,
		UserAgent:  cfg.Catalog.UserAgent,
		Timeout:    cfg.Catalog.Timeout,
		RatePerSec: cfg.Catalog.RatePerSec,
		Burst:      cfg.Catalog.Burst,
		PageSize:   cfg.Catalog.PageSize,
		Retry:      retry,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Catalog.BreakerTrips,
			Cooldown:         cfg.Catalog.BreakerCooldown,
			MaxOpenDuration:  cfg.Catalog.BreakerMaxOpen,
		},
	}, creds), nil
}

// initNormalizer loads the resolution policy and wires the resolver to the
// store's dimension surface.
func initNormalizer(st *store.PostgresStore) (*normalize.Normalizer, error) {
	policy, err := normalize.LoadPolicy(cfg.Normalize.PolicyPath)
	if err != nil {
		return nil, err
	}
	resolver := normalize.NewResolver(st, policy)
	return normalize.New(resolver, policy), nil
}

// initGeocoder returns nil when enrichment is disabled or unconfigured.
func initGeocoder() geocode.Client {
	if !cfg.Geocode.Enabled || cfg.Geocode.BaseURL == "" {
		return nil
	}
	return geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.APIKey,
		geocode.WithRateLimit(cfg.Geocode.RatePerSec),
	)
}
