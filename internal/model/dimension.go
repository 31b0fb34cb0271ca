package model

// UnclassifiedCode is the natural key of the sentinel dimension row that
// terminates every foreign-key fallback chain. FK resolution never yields
// a missing id: when nothing else matches, it yields the unclassified row.
const UnclassifiedCode = "unclassified"

// Dimension is a generic lookup row (property type, trade type, facility).
// Dimension rows are append-only reference data, looked up by natural key
// and created if absent.
type Dimension struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Region is the region dimension row. The bounding box supports geographic
// inference when a payload carries coordinates but no region code.
type Region struct {
	ID     int64   `json:"id"`
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point falls inside the region's bounding box.
// A region with a zero-extent box (unloaded boundaries) matches nothing.
func (r Region) Contains(lat, lon float64) bool {
	if r.MinLat == 0 && r.MaxLat == 0 && r.MinLon == 0 && r.MaxLon == 0 {
		return false
	}
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}
