package model

import "time"

// ChangeHistoryRecord is one immutable entry in the append-only change log.
// A record is written only when a newly normalized value differs from the
// previously persisted current value.
type ChangeHistoryRecord struct {
	ID         string    `json:"id"`
	ListingID  int64     `json:"listing_id"`
	Field      string    `json:"field"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	DetectedAt time.Time `json:"detected_at"`
}

// DeletionRecord is written exactly once when a listing transitions from
// active to inactive, snapshotting its final prices and attributes.
type DeletionRecord struct {
	ID            string    `json:"id"`
	ListingID     int64     `json:"listing_id"`
	FinalPrices   PriceSet  `json:"final_prices"`
	FinalSnapshot []byte    `json:"final_snapshot,omitempty"` // JSON of listing + attributes
	DelistedAt    time.Time `json:"delisted_at"`
}
