package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/propwatch/ingest-cli/internal/model"
)

// SweepDelisted transitions listings not seen since cutoff from active to
// inactive, writing one delisting record per transition with the final open
// prices and a final attribute snapshot. The FOR UPDATE guard on the active
// flag makes the transition exactly-once even across concurrent sweeps.
// Candidates are scoped by crawl_region_id, the shard whose crawl observed
// them: a payload's finer region classification must not move a listing out
// of reach of its own region's sweep. A regionID of zero sweeps all regions.
func (s *PostgresStore) SweepDelisted(ctx context.Context, regionID int64, cutoff time.Time) ([]model.DeletionRecord, error) {
	now := s.nowFunc().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin sweep tx")
	}
	defer tx.Rollback(ctx)

	query := `SELECT id, external_id, property_type_id, trade_type_id, region_id, name, first_seen_at, last_seen_at
	          FROM listings WHERE active AND last_seen_at < $1`
	args := []any{cutoff}
	if regionID > 0 {
		query += ` AND crawl_region_id = $2`
		args = append(args, regionID)
	}
	query += ` FOR UPDATE`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select delist candidates")
	}

	var candidates []model.Listing
	for rows.Next() {
		var l model.Listing
		if err := rows.Scan(&l.ID, &l.ExternalID, &l.PropertyTypeID, &l.TradeTypeID, &l.RegionID,
			&l.Name, &l.FirstSeenAt, &l.LastSeenAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan delist candidate")
		}
		candidates = append(candidates, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: delist candidates iterate")
	}

	var records []model.DeletionRecord
	for _, l := range candidates {
		record, err := s.delistOne(ctx, tx, l, now)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit sweep tx")
	}
	return records, nil
}

func (s *PostgresStore) delistOne(ctx context.Context, tx queryer, l model.Listing, now time.Time) (*model.DeletionRecord, error) {
	// Capture the open prices, then close every interval.
	prices := model.PriceSet{}
	rows, err := tx.Query(ctx,
		`SELECT kind, amount FROM price_records WHERE listing_id = $1 AND valid_to IS NULL`,
		l.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: final prices for listing %d", l.ID)
	}
	for rows.Next() {
		var kind string
		var amount int64
		if err := rows.Scan(&kind, &amount); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan final price")
		}
		prices[model.PriceKind(kind)] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: final prices iterate")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE price_records SET valid_to = $1 WHERE listing_id = $2 AND valid_to IS NULL`,
		now, l.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: close prices for listing %d", l.ID)
	}

	pricesJSON, err := json.Marshal(prices)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal final prices")
	}
	snapshotJSON, err := json.Marshal(l)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal final snapshot")
	}

	record := model.DeletionRecord{
		ID:            uuid.New().String(),
		ListingID:     l.ID,
		FinalPrices:   prices,
		FinalSnapshot: snapshotJSON,
		DelistedAt:    now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO delisting_records (id, listing_id, final_prices, final_snapshot, delisted_at) VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.ListingID, pricesJSON, snapshotJSON, now,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert delisting record for listing %d", l.ID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE listings SET active = FALSE WHERE id = $1`, l.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: deactivate listing %d", l.ID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO change_history (id, listing_id, field, old_value, new_value, detected_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), l.ID, "active", "true", "false", now,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: record delist change for listing %d", l.ID)
	}

	return &record, nil
}
