package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/model"
	"github.com/propwatch/ingest-cli/internal/resilience"
)

// UpsertSnapshot persists one normalized snapshot in a single transaction.
// Running it twice with identical data is a no-op beyond last_seen_at: no
// duplicate rows, no spurious history. Child tables whose writes trip a
// constraint are rolled back to a savepoint and skipped; the rest of the
// listing still commits.
func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.ListingSnapshot) (*UpsertOutcome, error) {
	if snap.Listing.ExternalID == "" {
		return nil, eris.New("postgres: snapshot has no external id")
	}

	fallback, err := s.fallbackDimensions(ctx)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot tx")
	}
	defer tx.Rollback(ctx)

	outcome := &UpsertOutcome{}

	listingID, created, changes, err := s.upsertListing(ctx, tx, snap, fallback, now)
	if err != nil {
		return nil, err
	}
	outcome.ListingID = listingID
	outcome.Created = created

	// Price history: close and reopen intervals only where amounts moved.
	if snap.Prices != nil {
		transitions, err := s.applyPrices(ctx, tx, listingID, snap.Prices, now)
		if err != nil {
			return nil, err
		}
		for _, t := range transitions {
			if t.Close {
				outcome.PriceChanges++
				changes = append(changes, t.changeRecord())
			}
		}
	}

	for _, ch := range changes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO change_history (id, listing_id, field, old_value, new_value, detected_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), listingID, ch.Field, ch.OldValue, ch.NewValue, now,
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: insert change %s", ch.Field)
		}
	}
	outcome.FieldChanges = len(changes)

	// Child sections. Each runs inside a savepoint so a constraint violation
	// skips that table without poisoning the transaction.
	children := []struct {
		table string
		fn    func(context.Context, pgx.Tx) error
	}{
		{"listing_locations", func(ctx context.Context, tx pgx.Tx) error {
			return s.upsertLocation(ctx, tx, listingID, snap.Location)
		}},
		{"listing_physical", func(ctx context.Context, tx pgx.Tx) error {
			return s.upsertPhysical(ctx, tx, listingID, snap.Physical)
		}},
		{"listing_facilities", func(ctx context.Context, tx pgx.Tx) error {
			return s.reconcileFacilities(ctx, tx, listingID, snap.Facilities)
		}},
		{"listing_agents", func(ctx context.Context, tx pgx.Tx) error {
			return s.upsertAgents(ctx, tx, listingID, snap.Agents)
		}},
		{"listing_images", func(ctx context.Context, tx pgx.Tx) error {
			return s.replaceImages(ctx, tx, listingID, snap.Images)
		}},
		{"listing_taxes", func(ctx context.Context, tx pgx.Tx) error {
			return s.upsertTax(ctx, tx, listingID, snap.Tax)
		}},
		{"comparable_sales", func(ctx context.Context, tx pgx.Tx) error {
			return s.replaceComparables(ctx, tx, listingID, snap.Comparables)
		}},
	}

	for _, child := range children {
		if err := s.inSavepoint(ctx, tx, child.fn); err != nil {
			if !isConstraintViolation(err) {
				return nil, eris.Wrapf(err, "postgres: persist %s", child.table)
			}
			cerr := &resilience.ConstraintError{Table: child.table, Err: err}
			zap.L().Warn("child record skipped on constraint violation",
				zap.String("external_id", snap.Listing.ExternalID),
				zap.String("table", child.table),
				zap.Error(cerr),
			)
			outcome.SkippedTables = append(outcome.SkippedTables, child.table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit snapshot tx")
	}
	return outcome, nil
}

// inSavepoint runs fn inside a nested transaction, rolling back to the
// savepoint on error so the outer transaction survives.
func (s *PostgresStore) inSavepoint(ctx context.Context, tx pgx.Tx, fn func(context.Context, pgx.Tx) error) error {
	inner, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, inner); err != nil {
		inner.Rollback(ctx)
		return err
	}
	return inner.Commit(ctx)
}

const selectListingSQL = `SELECT id, property_type_id, trade_type_id, region_id, name, description, active FROM listings WHERE external_id = $1 FOR UPDATE`

// upsertListing creates or updates the listing row, returning detected
// scalar changes for existing rows. Dimension FK violations (a race against
// reference-data cleanup) are retried once with the unclassified sentinels.
func (s *PostgresStore) upsertListing(ctx context.Context, tx pgx.Tx, snap *model.ListingSnapshot, fallback fallbackIDs, now time.Time) (int64, bool, []fieldChange, error) {
	l := snap.Listing

	var row listingRow
	err := tx.QueryRow(ctx, selectListingSQL, l.ExternalID).
		Scan(&row.ID, &row.PropertyTypeID, &row.TradeTypeID, &row.RegionID, &row.Name, &row.Description, &row.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		id, err := s.insertListing(ctx, tx, l, fallback, now)
		if err != nil {
			return 0, false, nil, err
		}
		return id, true, nil, nil
	}
	if err != nil {
		return 0, false, nil, eris.Wrapf(err, "postgres: select listing %s", l.ExternalID)
	}

	changes := diffListing(row, l)
	err = s.inSavepoint(ctx, tx, func(ctx context.Context, inner pgx.Tx) error {
		return s.updateListing(ctx, inner, row.ID, l, now)
	})
	if isConstraintViolation(err) {
		zap.L().Warn("listing update hit dimension constraint, retrying with unclassified",
			zap.String("external_id", l.ExternalID),
			zap.Error(err),
		)
		l.PropertyTypeID = fallback.propertyType
		l.TradeTypeID = fallback.tradeType
		l.RegionID = fallback.region
		changes = diffListing(row, l)
		err = s.updateListing(ctx, tx, row.ID, l, now)
	}
	if err != nil {
		return 0, false, nil, eris.Wrapf(err, "postgres: update listing %s", l.ExternalID)
	}
	return row.ID, false, changes, nil
}

func (s *PostgresStore) insertListing(ctx context.Context, tx pgx.Tx, l model.Listing, fallback fallbackIDs, now time.Time) (int64, error) {
	insert := func(ctx context.Context, tx pgx.Tx, l model.Listing) (int64, error) {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO listings (external_id, property_type_id, trade_type_id, region_id, crawl_region_id, name, description, active, first_seen_at, last_seen_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
			 RETURNING id`,
			l.ExternalID, l.PropertyTypeID, l.TradeTypeID, l.RegionID, l.CrawlRegionID, l.Name, l.Description, now,
		).Scan(&id)
		return id, err
	}

	var id int64
	err := s.inSavepoint(ctx, tx, func(ctx context.Context, inner pgx.Tx) error {
		var err error
		id, err = insert(ctx, inner, l)
		return err
	})
	if isConstraintViolation(err) {
		zap.L().Warn("listing insert hit dimension constraint, retrying with unclassified",
			zap.String("external_id", l.ExternalID),
			zap.Error(err),
		)
		l.PropertyTypeID = fallback.propertyType
		l.TradeTypeID = fallback.tradeType
		l.RegionID = fallback.region
		id, err = insert(ctx, tx, l)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert listing %s", l.ExternalID)
	}
	return id, nil
}

func (s *PostgresStore) updateListing(ctx context.Context, tx pgx.Tx, id int64, l model.Listing, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE listings SET property_type_id = $1, trade_type_id = $2, region_id = $3, crawl_region_id = $4,
		   name = $5, description = $6, active = TRUE, last_seen_at = $7
		 WHERE id = $8`,
		l.PropertyTypeID, l.TradeTypeID, l.RegionID, l.CrawlRegionID, l.Name, l.Description, now, id,
	)
	return err
}

// applyPrices reads the open intervals and applies close/open transitions so
// that exactly one open interval per observed kind remains.
func (s *PostgresStore) applyPrices(ctx context.Context, tx pgx.Tx, listingID int64, observed model.PriceSet, now time.Time) ([]priceTransition, error) {
	rows, err := tx.Query(ctx,
		`SELECT kind, amount FROM price_records WHERE listing_id = $1 AND valid_to IS NULL`,
		listingID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current prices")
	}
	current := make(map[model.PriceKind]int64)
	for rows.Next() {
		var kind string
		var amount int64
		if err := rows.Scan(&kind, &amount); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan current price")
		}
		current[model.PriceKind(kind)] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: current prices iterate")
	}

	transitions := diffPrices(current, observed)
	for _, t := range transitions {
		if t.Close {
			if _, err := tx.Exec(ctx,
				`UPDATE price_records SET valid_to = $1 WHERE listing_id = $2 AND kind = $3 AND valid_to IS NULL`,
				now, listingID, string(t.Kind),
			); err != nil {
				return nil, eris.Wrapf(err, "postgres: close price %s", t.Kind)
			}
		}
		if t.Open {
			if _, err := tx.Exec(ctx,
				`INSERT INTO price_records (listing_id, kind, amount, valid_from) VALUES ($1, $2, $3, $4)`,
				listingID, string(t.Kind), t.NewAmount, now,
			); err != nil {
				return nil, eris.Wrapf(err, "postgres: open price %s", t.Kind)
			}
		}
	}
	return transitions, nil
}

// upsertLocation writes the 1:1 location row. The enriched_address column is
// owned by the geocode enrichment step and deliberately left alone here.
func (s *PostgresStore) upsertLocation(ctx context.Context, tx pgx.Tx, listingID int64, loc *model.LocationRecord) error {
	if loc == nil {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO listing_locations (listing_id, latitude, longitude, address, road_address, building_name, postal_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (listing_id) DO UPDATE SET
		   latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, address = EXCLUDED.address,
		   road_address = EXCLUDED.road_address, building_name = EXCLUDED.building_name, postal_code = EXCLUDED.postal_code`,
		listingID, loc.Latitude, loc.Longitude, loc.Address, loc.RoadAddress, loc.BuildingName, loc.PostalCode,
	)
	return err
}

func (s *PostgresStore) upsertPhysical(ctx context.Context, tx pgx.Tx, listingID int64, phys *model.PhysicalAttributesRecord) error {
	if phys == nil {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO listing_physical (listing_id, area_exclusive, area_gross, rooms, bathrooms, floor, total_floors, direction, built_year, condition)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (listing_id) DO UPDATE SET
		   area_exclusive = EXCLUDED.area_exclusive, area_gross = EXCLUDED.area_gross,
		   rooms = EXCLUDED.rooms, bathrooms = EXCLUDED.bathrooms, floor = EXCLUDED.floor,
		   total_floors = EXCLUDED.total_floors, direction = EXCLUDED.direction,
		   built_year = EXCLUDED.built_year, condition = EXCLUDED.condition`,
		listingID, phys.AreaExclusive, phys.AreaGross, phys.Rooms, phys.Bathrooms,
		phys.Floor, phys.TotalFloors, phys.Direction, phys.BuiltYear, phys.Condition,
	)
	return err
}

// reconcileFacilities replaces the facility association set. A nil slice
// means the section was absent this crawl; existing associations stand.
func (s *PostgresStore) reconcileFacilities(ctx context.Context, tx pgx.Tx, listingID int64, facilities []model.FacilityAssociation) error {
	if facilities == nil {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM listing_facilities WHERE listing_id = $1`, listingID); err != nil {
		return err
	}
	for _, f := range facilities {
		if _, err := tx.Exec(ctx,
			`INSERT INTO listing_facilities (listing_id, facility_id, available) VALUES ($1, $2, $3)
			 ON CONFLICT (listing_id, facility_id) DO UPDATE SET available = EXCLUDED.available`,
			listingID, f.FacilityID, f.Available,
		); err != nil {
			return err
		}
	}
	return nil
}

// upsertAgents deduplicates agents by natural key and rewrites the listing's
// association flags. Primaries are demoted first so the partial unique index
// never sees two at once.
func (s *PostgresStore) upsertAgents(ctx context.Context, tx pgx.Tx, listingID int64, agents []model.AgentLink) error {
	if len(agents) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE listing_agents SET "primary" = FALSE WHERE listing_id = $1`, listingID,
	); err != nil {
		return err
	}
	for _, link := range agents {
		var agentID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO agents (natural_key, business_id, name, phone, email, office_name)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (natural_key) DO UPDATE SET
			   business_id = EXCLUDED.business_id, name = EXCLUDED.name, phone = EXCLUDED.phone,
			   email = EXCLUDED.email, office_name = EXCLUDED.office_name
			 RETURNING id`,
			link.Agent.NaturalKey(), link.Agent.BusinessID, link.Agent.Name,
			link.Agent.Phone, link.Agent.Email, link.Agent.OfficeName,
		).Scan(&agentID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO listing_agents (listing_id, agent_id, "primary") VALUES ($1, $2, $3)
			 ON CONFLICT (listing_id, agent_id) DO UPDATE SET "primary" = EXCLUDED."primary"`,
			listingID, agentID, link.Primary,
		); err != nil {
			return err
		}
	}
	return nil
}

// replaceImages rewrites the image sequence wholesale. Nil means the section
// was absent; an empty non-nil slice clears the sequence.
func (s *PostgresStore) replaceImages(ctx context.Context, tx pgx.Tx, listingID int64, images []model.ImageRecord) error {
	if images == nil {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM listing_images WHERE listing_id = $1`, listingID); err != nil {
		return err
	}
	for _, img := range images {
		if _, err := tx.Exec(ctx,
			`INSERT INTO listing_images (listing_id, position, url, kind) VALUES ($1, $2, $3, $4)`,
			listingID, img.Position, img.URL, img.Kind,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) upsertTax(ctx context.Context, tx pgx.Tx, listingID int64, tax *model.TaxRecord) error {
	if tax == nil {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO listing_taxes (listing_id, acquisition_tax, registration_tax, annual_property_tax)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (listing_id) DO UPDATE SET
		   acquisition_tax = EXCLUDED.acquisition_tax, registration_tax = EXCLUDED.registration_tax,
		   annual_property_tax = EXCLUDED.annual_property_tax`,
		listingID, tax.AcquisitionTax, tax.RegistrationTax, tax.AnnualPropertyTax,
	)
	return err
}

func (s *PostgresStore) replaceComparables(ctx context.Context, tx pgx.Tx, listingID int64, comparables []model.ComparableSale) error {
	if comparables == nil {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM comparable_sales WHERE listing_id = $1`, listingID); err != nil {
		return err
	}
	for _, c := range comparables {
		if _, err := tx.Exec(ctx,
			`INSERT INTO comparable_sales (listing_id, trade_date, amount, area_exclusive, floor) VALUES ($1, $2, $3, $4, $5)`,
			listingID, c.TradeDate, c.Amount, c.AreaExclusive, c.Floor,
		); err != nil {
			return err
		}
	}
	return nil
}
