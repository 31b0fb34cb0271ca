package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propwatch/ingest-cli/internal/model"
	"github.com/propwatch/ingest-cli/internal/store"
)

func countRow(n int) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"count"}).AddRow(n)
}

func TestCollect(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Unclassified counts iterate a map, so arrival order is not fixed.
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM listings WHERE active`).
		WillReturnRows(countRow(200))

	mock.ExpectQuery("JOIN property_types").
		WithArgs(model.UnclassifiedCode).
		WillReturnRows(countRow(5))
	mock.ExpectQuery("JOIN trade_types").
		WithArgs(model.UnclassifiedCode).
		WillReturnRows(countRow(2))
	mock.ExpectQuery("JOIN regions").
		WithArgs(model.UnclassifiedCode).
		WillReturnRows(countRow(0))

	mock.ExpectQuery("JOIN price_records").WillReturnRows(countRow(180))
	mock.ExpectQuery(`loc\.latitude IS NOT NULL`).WillReturnRows(countRow(150))
	mock.ExpectQuery("road_address IS NOT NULL").WillReturnRows(countRow(160))
	mock.ExpectQuery("area_exclusive IS NOT NULL").WillReturnRows(countRow(120))
	mock.ExpectQuery("JOIN listing_agents").WillReturnRows(countRow(100))
	mock.ExpectQuery("JOIN listing_images").WillReturnRows(countRow(90))
	mock.ExpectQuery("JOIN listing_taxes").WillReturnRows(countRow(40))

	c := NewCollector(mock, store.NewPostgresWithPool(mock))
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 200, snap.ActiveListings)
	assert.Equal(t, map[string]int{"property_type": 5, "trade_type": 2, "region": 0}, snap.Unclassified)
	assert.WithinDuration(t, time.Now().UTC(), snap.CollectedAt, time.Minute)

	require.Len(t, snap.Fields, 7)
	assert.Equal(t, "price", snap.Fields[0].Field)
	assert.Equal(t, 180, snap.Fields[0].Populated)
	assert.InDelta(t, 0.9, snap.Fields[0].Coverage, 1e-9)
	assert.Equal(t, "tax", snap.Fields[6].Field)
	assert.InDelta(t, 0.2, snap.Fields[6].Coverage, 1e-9)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollect_EmptyCatalog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM listings WHERE active`).
		WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN property_types").WithArgs(model.UnclassifiedCode).WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN trade_types").WithArgs(model.UnclassifiedCode).WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN regions").WithArgs(model.UnclassifiedCode).WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN price_records").WillReturnRows(countRow(0))
	mock.ExpectQuery(`loc\.latitude IS NOT NULL`).WillReturnRows(countRow(0))
	mock.ExpectQuery("road_address IS NOT NULL").WillReturnRows(countRow(0))
	mock.ExpectQuery("area_exclusive IS NOT NULL").WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN listing_agents").WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN listing_images").WillReturnRows(countRow(0))
	mock.ExpectQuery("JOIN listing_taxes").WillReturnRows(countRow(0))

	c := NewCollector(mock, store.NewPostgresWithPool(mock))
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snap.ActiveListings)
	for _, f := range snap.Fields {
		assert.Zero(t, f.Coverage, "coverage over an empty catalog must not divide by zero")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentCycles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	finished := started.Add(45 * time.Minute)
	mock.ExpectQuery("SELECT id, region_code, status").
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "region_code", "status", "started_at", "finished_at", "pages_fetched",
			"listings_seen", "succeeded", "partial", "failed", "price_changes",
			"delisted", "new_listings", "errors",
		}).AddRow("cycle-1", "seoul", "complete", started, finished,
			12, 240, 230, 8, 2, 14, 3, 5, []byte(`{"network":2}`)))

	c := NewCollector(mock, store.NewPostgresWithPool(mock))
	cycles, err := c.RecentCycles(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, model.CycleComplete, cycles[0].Status)
	assert.Equal(t, 230, cycles[0].Succeeded)
	assert.Equal(t, 2, cycles[0].Errors.Network)
	assert.NoError(t, mock.ExpectationsWereMet())
}
