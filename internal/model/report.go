package model

import "time"

// CycleStatus summarizes how a crawl cycle ended.
type CycleStatus string

const (
	CycleComplete CycleStatus = "complete"
	CyclePartial  CycleStatus = "partial"
	CycleAborted  CycleStatus = "aborted"
)

// ErrorTally counts errors per taxonomy class over one crawl cycle.
type ErrorTally struct {
	Auth       int `json:"auth"`
	RateLimit  int `json:"rate_limit"`
	Network    int `json:"network"`
	Parse      int `json:"parse"`
	Constraint int `json:"constraint"`
	Fatal      int `json:"fatal"`
	Other      int `json:"other"`
}

// Total returns the sum of all tallied errors.
func (t ErrorTally) Total() int {
	return t.Auth + t.RateLimit + t.Network + t.Parse + t.Constraint + t.Fatal + t.Other
}

// CycleReport is the per-cycle outcome summary: how many listings succeeded,
// succeeded with missing sections, or failed, plus the error breakdown.
type CycleReport struct {
	ID         string      `json:"id"`
	RegionCode string      `json:"region_code"`
	Status     CycleStatus `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`

	PagesFetched  int `json:"pages_fetched"`
	ListingsSeen  int `json:"listings_seen"`
	Succeeded     int `json:"succeeded"`
	Partial       int `json:"partial"`
	Failed        int `json:"failed"`
	PriceChanges  int `json:"price_changes"`
	Delisted      int `json:"delisted"`
	NewListings   int `json:"new_listings"`

	Errors ErrorTally `json:"errors"`
}
