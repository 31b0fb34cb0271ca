// Package store persists normalized listing snapshots and the reference
// dimensions they point at.
package store

import (
	"context"
	"time"

	"github.com/propwatch/ingest-cli/internal/model"
)

// UpsertOutcome summarizes what one snapshot upsert did, for cycle reporting.
type UpsertOutcome struct {
	ListingID     int64
	Created       bool     // first time this external id was seen
	PriceChanges  int      // price intervals closed and reopened
	FieldChanges  int      // change-history entries written for scalar fields
	SkippedTables []string // child tables skipped on constraint violations
}

// Store defines the persistence interface for the ingest pipeline. The
// dimension methods double as the normalizer's lookup-or-create surface.
type Store interface {
	// Dimensions: idempotent lookup-or-create by natural key.
	EnsurePropertyType(ctx context.Context, code, name string) (int64, error)
	EnsureTradeType(ctx context.Context, code, name string) (int64, error)
	EnsureRegion(ctx context.Context, code, name string) (int64, error)
	EnsureFacility(ctx context.Context, code, name string) (int64, error)
	ListRegions(ctx context.Context) ([]model.Region, error)
	UpsertRegionBoxes(ctx context.Context, regions []model.Region) (int64, error)

	// Listings
	UpsertSnapshot(ctx context.Context, snap *model.ListingSnapshot) (*UpsertOutcome, error)
	SweepDelisted(ctx context.Context, regionID int64, cutoff time.Time) ([]model.DeletionRecord, error)
	SetEnrichedAddress(ctx context.Context, listingID int64, address string) error

	// Cycle reports
	SaveCycleReport(ctx context.Context, report *model.CycleReport) error
	ListCycleReports(ctx context.Context, limit int) ([]model.CycleReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
