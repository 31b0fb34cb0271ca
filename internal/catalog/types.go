// Package catalog is the client for the upstream listing API: paginated
// region search plus per-listing multi-section detail payloads.
package catalog

import "encoding/json"

// ListingSummary is one row of a search page.
type ListingSummary struct {
	ExternalID string `json:"id"`
	Name       string `json:"name"`
}

// SearchPage is one page of region search results.
type SearchPage struct {
	Items      []ListingSummary `json:"items"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
}

// RawDetail is a listing detail payload, split into independently decoded
// named sections. Sections are kept raw here; decoding (and section-scoped
// failure isolation) happens in the parser.
type RawDetail struct {
	ExternalID string                     `json:"id"`
	Name       string                     `json:"name"`
	Desc       string                     `json:"description"`
	Sections   map[string]json.RawMessage `json:"sections"`
}
