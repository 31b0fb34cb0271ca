// Package monitoring computes catalog data-quality metrics: per-field
// completeness over the active listing set and recent cycle outcomes.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/propwatch/ingest-cli/internal/db"
	"github.com/propwatch/ingest-cli/internal/model"
	"github.com/propwatch/ingest-cli/internal/store"
)

// FieldCoverage reports how many active listings carry a value for one field.
type FieldCoverage struct {
	Field     string  `json:"field"`
	Populated int     `json:"populated"`
	Coverage  float64 `json:"coverage"` // populated / active listings
}

// CompletenessSnapshot holds a point-in-time view of catalog completeness.
type CompletenessSnapshot struct {
	ActiveListings int             `json:"active_listings"`
	Unclassified   map[string]int  `json:"unclassified"` // dimension -> listings on the sentinel
	Fields         []FieldCoverage `json:"fields"`
	CollectedAt    time.Time       `json:"collected_at"`
}

// Collector gathers completeness metrics straight off the catalog tables.
type Collector struct {
	pool  db.Pool
	store store.Store
}

// NewCollector creates a metrics collector. The pool handles the aggregate
// queries; the store serves cycle reports.
func NewCollector(pool db.Pool, st store.Store) *Collector {
	return &Collector{pool: pool, store: st}
}

// coverageQueries maps reported field names to the count of active listings
// that carry a value. Every query joins against the active listing set so
// coverage is a ratio over the same denominator.
var coverageQueries = map[string]string{
	"price": `SELECT COUNT(DISTINCT l.id) FROM listings l
	          JOIN price_records p ON p.listing_id = l.id AND p.valid_to IS NULL
	          WHERE l.active`,
	"coordinates": `SELECT COUNT(*) FROM listings l
	                JOIN listing_locations loc ON loc.listing_id = l.id
	                WHERE l.active AND loc.latitude IS NOT NULL AND loc.longitude IS NOT NULL`,
	"address": `SELECT COUNT(*) FROM listings l
	            JOIN listing_locations loc ON loc.listing_id = l.id
	            WHERE l.active AND (loc.address IS NOT NULL OR loc.road_address IS NOT NULL)`,
	"area": `SELECT COUNT(*) FROM listings l
	         JOIN listing_physical p ON p.listing_id = l.id
	         WHERE l.active AND p.area_exclusive IS NOT NULL`,
	"agent": `SELECT COUNT(DISTINCT l.id) FROM listings l
	          JOIN listing_agents a ON a.listing_id = l.id
	          WHERE l.active`,
	"images": `SELECT COUNT(DISTINCT l.id) FROM listings l
	           JOIN listing_images i ON i.listing_id = l.id
	           WHERE l.active`,
	"tax": `SELECT COUNT(*) FROM listings l
	        JOIN listing_taxes t ON t.listing_id = l.id
	        WHERE l.active AND t.acquisition_tax IS NOT NULL`,
}

// coverageOrder fixes the report order; map iteration would shuffle it.
var coverageOrder = []string{"price", "coordinates", "address", "area", "agent", "images", "tax"}

// Collect computes the completeness snapshot over active listings.
func (c *Collector) Collect(ctx context.Context) (*CompletenessSnapshot, error) {
	snap := &CompletenessSnapshot{
		Unclassified: make(map[string]int),
		CollectedAt:  time.Now().UTC(),
	}

	if err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE active`,
	).Scan(&snap.ActiveListings); err != nil {
		return nil, eris.Wrap(err, "monitoring: count active listings")
	}

	// How much of the catalog sits on the unclassified sentinels. A rising
	// number here means the upstream changed its coding scheme.
	unclassifiedQueries := map[string]string{
		"property_type": `SELECT COUNT(*) FROM listings l
		                  JOIN property_types d ON d.id = l.property_type_id
		                  WHERE l.active AND d.code = $1`,
		"trade_type": `SELECT COUNT(*) FROM listings l
		               JOIN trade_types d ON d.id = l.trade_type_id
		               WHERE l.active AND d.code = $1`,
		"region": `SELECT COUNT(*) FROM listings l
		           JOIN regions d ON d.id = l.region_id
		           WHERE l.active AND d.code = $1`,
	}
	for dim, query := range unclassifiedQueries {
		var count int
		if err := c.pool.QueryRow(ctx, query, model.UnclassifiedCode).Scan(&count); err != nil {
			return nil, eris.Wrapf(err, "monitoring: count unclassified %s", dim)
		}
		snap.Unclassified[dim] = count
	}

	for _, field := range coverageOrder {
		var populated int
		if err := c.pool.QueryRow(ctx, coverageQueries[field]).Scan(&populated); err != nil {
			return nil, eris.Wrapf(err, "monitoring: coverage %s", field)
		}
		cov := FieldCoverage{Field: field, Populated: populated}
		if snap.ActiveListings > 0 {
			cov.Coverage = float64(populated) / float64(snap.ActiveListings)
		}
		snap.Fields = append(snap.Fields, cov)
	}

	return snap, nil
}

// RecentCycles returns the most recent crawl cycle reports.
func (c *Collector) RecentCycles(ctx context.Context, limit int) ([]model.CycleReport, error) {
	reports, err := c.store.ListCycleReports(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list cycles")
	}
	return reports, nil
}
