// Package pipeline orchestrates one crawl cycle: page discovery, per-listing
// fetch-parse-normalize-persist, optional address enrichment, and the
// delisting sweep, producing a cycle report at the end.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/propwatch/ingest-cli/internal/catalog"
	"github.com/propwatch/ingest-cli/internal/model"
	"github.com/propwatch/ingest-cli/internal/normalize"
	"github.com/propwatch/ingest-cli/internal/parser"
	"github.com/propwatch/ingest-cli/internal/resilience"
	"github.com/propwatch/ingest-cli/internal/store"
	"github.com/propwatch/ingest-cli/pkg/geocode"
)

// Fetcher is the catalog surface the runner needs. The catalog client
// satisfies it; tests substitute fakes.
type Fetcher interface {
	SearchPage(ctx context.Context, region string, page int) (*catalog.SearchPage, bool, error)
	Detail(ctx context.Context, externalID string) (*catalog.RawDetail, error)
}

// Options configures one crawl cycle.
type Options struct {
	Region      string
	Workers     int
	MaxPages    int // 0 = crawl until the upstream reports no more pages
	MaxListings int // 0 = no cap on listings dispatched per cycle
	DelistGrace time.Duration
}

// Runner executes crawl cycles. Pages are discovered sequentially; listings
// within a page are processed by a bounded worker pool. Every worker talks to
// the upstream through the same fetcher, so the global rate budget holds.
type Runner struct {
	fetch    Fetcher
	norm     *normalize.Normalizer
	store    store.Store
	geocoder geocode.Client // optional address enrichment
	opts     Options
	nowFunc  func() time.Time

	mu       sync.Mutex
	report   model.CycleReport
	fatalErr error
}

// New creates a Runner. geocoder may be nil to disable address enrichment.
func New(fetch Fetcher, norm *normalize.Normalizer, st store.Store, geocoder geocode.Client, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DelistGrace <= 0 {
		opts.DelistGrace = 24 * time.Hour
	}
	return &Runner{
		fetch:    fetch,
		norm:     norm,
		store:    st,
		geocoder: geocoder,
		opts:     opts,
		nowFunc:  time.Now,
	}
}

// Run executes one crawl cycle and persists its report. A fatal error aborts
// in-flight work and is returned alongside the (aborted) report.
func (r *Runner) Run(ctx context.Context) (*model.CycleReport, error) {
	start := r.nowFunc().UTC()
	r.mu.Lock()
	r.report = model.CycleReport{
		ID:         uuid.New().String(),
		RegionCode: r.opts.Region,
		StartedAt:  start,
	}
	r.fatalErr = nil
	r.mu.Unlock()

	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("region", r.opts.Region),
	)
	log.Info("crawl cycle starting", zap.Int("workers", r.opts.Workers))

	regionID, err := r.store.EnsureRegion(ctx, normalize.NormalizeKey(r.opts.Region), r.opts.Region)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ensure crawl region")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	outcome := r.crawlPages(gctx, g, cancel, log)

	// Worker closures never return errors; failures land in the tally.
	_ = g.Wait()

	fatal := r.takeFatal()

	// The sweep only runs after a full crawl: an aborted or truncated cycle
	// has not seen every listing and must not mass-delist the ones it missed.
	// A page or listing cap truncates deliberately, so it suppresses the
	// sweep the same way an abort does.
	if outcome == crawlFull && fatal == nil && ctx.Err() == nil {
		cutoff := start.Add(-r.opts.DelistGrace)
		records, err := r.store.SweepDelisted(ctx, regionID, cutoff)
		if err != nil {
			log.Error("delisting sweep failed", zap.Error(err))
			r.tally(err)
		} else {
			r.mu.Lock()
			r.report.Delisted = len(records)
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	report := r.report
	r.mu.Unlock()

	report.FinishedAt = r.nowFunc().UTC()
	switch {
	case fatal != nil || outcome == crawlAborted:
		report.Status = model.CycleAborted
	case report.Failed > 0 || report.Partial > 0:
		report.Status = model.CyclePartial
	default:
		report.Status = model.CycleComplete
	}

	if err := r.store.SaveCycleReport(context.WithoutCancel(ctx), &report); err != nil {
		log.Error("failed to persist cycle report", zap.Error(err))
	}

	log.Info("crawl cycle finished",
		zap.String("status", string(report.Status)),
		zap.Int("listings_seen", report.ListingsSeen),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("partial", report.Partial),
		zap.Int("failed", report.Failed),
		zap.Int("price_changes", report.PriceChanges),
		zap.Int("new_listings", report.NewListings),
		zap.Int("delisted", report.Delisted),
		zap.Int("errors", report.Errors.Total()),
	)

	if fatal != nil {
		return &report, fatal
	}
	return &report, nil
}

// crawlOutcome describes how far the page walk got.
type crawlOutcome int

const (
	// crawlFull means every upstream page was fetched.
	crawlFull crawlOutcome = iota
	// crawlTruncated means a page or listing cap stopped the walk early.
	crawlTruncated
	// crawlAborted means an error or cancellation stopped the walk.
	crawlAborted
)

// crawlPages walks the search pages sequentially, dispatching each listing to
// the worker pool.
func (r *Runner) crawlPages(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc, log *zap.Logger) crawlOutcome {
	dispatched := 0
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return crawlAborted
		}

		sp, more, err := r.fetch.SearchPage(ctx, r.opts.Region, page)
		if err != nil {
			log.Error("search page fetch failed", zap.Int("page", page), zap.Error(err))
			r.tally(err)
			if resilience.IsFatal(err) {
				r.setFatal(err, cancel)
			}
			return crawlAborted
		}

		items := sp.Items
		dropped := false
		if r.opts.MaxListings > 0 && dispatched+len(items) > r.opts.MaxListings {
			items = items[:r.opts.MaxListings-dispatched]
			dropped = true
		}
		dispatched += len(items)

		r.mu.Lock()
		r.report.PagesFetched++
		r.report.ListingsSeen += len(items)
		r.mu.Unlock()

		for _, item := range items {
			g.Go(func() error {
				r.processListing(ctx, cancel, item)
				return nil
			})
		}

		// A cap that leaves upstream listings unobserved truncates the cycle;
		// one landing exactly on the catalog's last listing does not.
		if r.opts.MaxListings > 0 && dispatched >= r.opts.MaxListings {
			if dropped || more {
				log.Info("listing cap reached", zap.Int("listings", dispatched))
				return crawlTruncated
			}
			return crawlFull
		}
		if !more {
			return crawlFull
		}
		if r.opts.MaxPages > 0 && page >= r.opts.MaxPages {
			if more {
				log.Info("page cap reached", zap.Int("pages", page))
				return crawlTruncated
			}
			return crawlFull
		}
	}
}

// processListing runs the full chain for one listing. Failures count against
// the listing, never the cycle, unless they are fatal.
func (r *Runner) processListing(ctx context.Context, cancel context.CancelFunc, item catalog.ListingSummary) {
	if ctx.Err() != nil {
		return
	}

	raw, err := r.fetch.Detail(ctx, item.ExternalID)
	if err != nil {
		r.failListing(item.ExternalID, "fetch", err, cancel)
		return
	}

	parsed := parser.ParseDetail(raw)
	for _, perr := range parsed.Errors {
		r.tally(perr)
	}

	snap, err := r.norm.Snapshot(ctx, parsed, r.opts.Region)
	if err != nil {
		r.failListing(item.ExternalID, "normalize", err, cancel)
		return
	}

	outcome, err := r.store.UpsertSnapshot(ctx, snap)
	if err != nil {
		r.failListing(item.ExternalID, "persist", err, cancel)
		return
	}

	r.mu.Lock()
	if snap.Partial() || len(outcome.SkippedTables) > 0 {
		r.report.Partial++
	} else {
		r.report.Succeeded++
	}
	if outcome.Created {
		r.report.NewListings++
	}
	r.report.PriceChanges += outcome.PriceChanges
	r.report.Errors.Constraint += len(outcome.SkippedTables)
	r.mu.Unlock()

	r.enrichAddress(ctx, snap, outcome.ListingID)
}

// enrichAddress reverse-geocodes the listing's coordinates when the payload
// carried none of its own address fields. Best-effort: failures only log.
func (r *Runner) enrichAddress(ctx context.Context, snap *model.ListingSnapshot, listingID int64) {
	if r.geocoder == nil || snap.Location == nil {
		return
	}
	loc := snap.Location
	if loc.Latitude == nil || loc.Longitude == nil || loc.Address != nil || loc.RoadAddress != nil {
		return
	}

	result, err := r.geocoder.Reverse(ctx, *loc.Latitude, *loc.Longitude)
	if err != nil {
		zap.L().Debug("reverse geocode failed",
			zap.Int64("listing_id", listingID),
			zap.Error(err),
		)
		return
	}
	if !result.Matched {
		return
	}
	if err := r.store.SetEnrichedAddress(ctx, listingID, result.Address); err != nil {
		zap.L().Warn("failed to store enriched address",
			zap.Int64("listing_id", listingID),
			zap.Error(err),
		)
	}
}

func (r *Runner) failListing(externalID, stage string, err error, cancel context.CancelFunc) {
	zap.L().Warn("listing failed",
		zap.String("external_id", externalID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	r.mu.Lock()
	r.report.Failed++
	r.mu.Unlock()
	r.tally(err)
	if resilience.IsFatal(err) {
		r.setFatal(err, cancel)
	}
}

// tally classifies an error into the cycle's error breakdown.
func (r *Runner) tally(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch resilience.Classify(err) {
	case "auth":
		r.report.Errors.Auth++
	case "rate_limit":
		r.report.Errors.RateLimit++
	case "network":
		r.report.Errors.Network++
	case "parse":
		r.report.Errors.Parse++
	case "constraint":
		r.report.Errors.Constraint++
	case "fatal":
		r.report.Errors.Fatal++
	default:
		r.report.Errors.Other++
	}
}

func (r *Runner) setFatal(err error, cancel context.CancelFunc) {
	r.mu.Lock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	r.mu.Unlock()
	cancel()
}

func (r *Runner) takeFatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}
