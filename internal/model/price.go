package model

import "time"

// PriceKind identifies which price a PriceRecord tracks.
type PriceKind string

const (
	// PriceSale is the outright sale amount.
	PriceSale PriceKind = "sale"
	// PriceDeposit is the lump-sum deposit (key-money for deposit-only
	// tenancy, or the deposit component of a monthly tenancy).
	PriceDeposit PriceKind = "deposit"
	// PriceMonthlyRent is the recurring monthly rent amount.
	PriceMonthlyRent PriceKind = "monthly_rent"
	// PriceMaintenanceFee is the recurring maintenance/management fee.
	PriceMaintenanceFee PriceKind = "maintenance_fee"
)

// AllPriceKinds lists every tracked price kind in a stable order.
var AllPriceKinds = []PriceKind{PriceSale, PriceDeposit, PriceMonthlyRent, PriceMaintenanceFee}

// PriceRecord is one interval in a listing's price history. At most one
// record per (listing, kind) has ValidTo == nil: the current record.
type PriceRecord struct {
	ID        int64      `json:"id"`
	ListingID int64      `json:"listing_id"`
	Kind      PriceKind  `json:"kind"`
	Amount    int64      `json:"amount"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// PriceSet holds the observed current amount per kind for one crawl of one
// listing. Absent kinds are simply not present in the map.
type PriceSet map[PriceKind]int64
