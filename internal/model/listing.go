// Package model defines the domain records shared across the ingest pipeline.
package model

import "time"

// Listing is a single catalog entry identified by its upstream external id.
// Listings are never hard-deleted: a listing that disappears from the
// upstream catalog transitions to inactive instead.
type Listing struct {
	ID             int64  `json:"id"`
	ExternalID     string `json:"external_id"`
	PropertyTypeID int64  `json:"property_type_id"`
	TradeTypeID    int64  `json:"trade_type_id"`
	RegionID       int64  `json:"region_id"`
	// CrawlRegionID pins the listing to the region shard whose crawl observed
	// it. RegionID classifies; CrawlRegionID scopes the delisting sweep, so a
	// payload claiming a finer region cannot move the listing out of its shard.
	CrawlRegionID int64     `json:"crawl_region_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Active        bool      `json:"active"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// LocationRecord is the 1:1 location child of a listing. Every field is
// individually nullable; the row itself is created once and updated in place.
type LocationRecord struct {
	ListingID       int64    `json:"listing_id"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Address         *string  `json:"address,omitempty"`
	RoadAddress     *string  `json:"road_address,omitempty"`
	BuildingName    *string  `json:"building_name,omitempty"`
	PostalCode      *string  `json:"postal_code,omitempty"`
	EnrichedAddress *string  `json:"enriched_address,omitempty"`
}

// PhysicalAttributesRecord is the 1:1 physical-attribute child of a listing.
type PhysicalAttributesRecord struct {
	ListingID     int64    `json:"listing_id"`
	AreaExclusive *float64 `json:"area_exclusive,omitempty"`
	AreaGross     *float64 `json:"area_gross,omitempty"`
	Rooms         *int     `json:"rooms,omitempty"`
	Bathrooms     *int     `json:"bathrooms,omitempty"`
	Floor         *int     `json:"floor,omitempty"`
	TotalFloors   *int     `json:"total_floors,omitempty"`
	Direction     *string  `json:"direction,omitempty"`
	BuiltYear     *int     `json:"built_year,omitempty"`
	Condition     *string  `json:"condition,omitempty"`
}

// FacilityAssociation links a listing to a facility dimension row with an
// availability flag.
type FacilityAssociation struct {
	ListingID  int64 `json:"listing_id"`
	FacilityID int64 `json:"facility_id"`
	Available  bool  `json:"available"`
}

// Agent is a deduplicated listing agent. BusinessID is the preferred natural
// key; when the upstream omits it, Name+Phone identifies the agent instead.
type Agent struct {
	ID         int64  `json:"id"`
	BusinessID string `json:"business_id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	OfficeName string `json:"office_name,omitempty"`
}

// NaturalKey returns the stable dedup key for the agent.
func (a Agent) NaturalKey() string {
	if a.BusinessID != "" {
		return "biz:" + a.BusinessID
	}
	return "contact:" + a.Name + "|" + a.Phone
}

// ListingAgentAssociation records which agent represents which listing.
// At most one association per listing has Primary set.
type ListingAgentAssociation struct {
	ListingID int64 `json:"listing_id"`
	AgentID   int64 `json:"agent_id"`
	Primary   bool  `json:"primary"`
}

// ImageRecord is one entry in a listing's ordered image sequence. Image sets
// are point-in-time data and are replaced wholesale on each crawl.
type ImageRecord struct {
	ListingID int64  `json:"listing_id"`
	Position  int    `json:"position"`
	URL       string `json:"url"`
	Kind      string `json:"kind,omitempty"`
}

// TaxRecord is the 1:1 tax estimate child of a listing.
type TaxRecord struct {
	ListingID         int64  `json:"listing_id"`
	AcquisitionTax    *int64 `json:"acquisition_tax,omitempty"`
	RegistrationTax   *int64 `json:"registration_tax,omitempty"`
	AnnualPropertyTax *int64 `json:"annual_property_tax,omitempty"`
}

// ComparableSale is a recent nearby transaction reported on the listing
// detail page. Replaced wholesale on each crawl, like images.
type ComparableSale struct {
	ListingID     int64     `json:"listing_id"`
	TradeDate     time.Time `json:"trade_date"`
	Amount        int64     `json:"amount"`
	AreaExclusive *float64  `json:"area_exclusive,omitempty"`
	Floor         *int      `json:"floor,omitempty"`
}
