package parser

import "time"

// Intermediate records: the typed output of section decoding, before
// normalization resolves dimensions and assembles the persistence snapshot.
// Every field is optional; decoders leave absent what the payload omits.

// PricingInfo holds the decoded pricing section.
type PricingInfo struct {
	SaleAmount     *int64
	Deposit        *int64
	MonthlyRent    *int64
	MaintenanceFee *int64
	TradeTypeCode  *string
}

// LocationInfo holds the decoded location section.
type LocationInfo struct {
	Latitude     *float64
	Longitude    *float64
	Address      *string
	RoadAddress  *string
	BuildingName *string
	PostalCode   *string
	RegionCode   *string
}

// PhysicalInfo holds the decoded physical-attributes section.
type PhysicalInfo struct {
	AreaExclusive    *float64
	AreaGross        *float64
	Rooms            *int
	Bathrooms        *int
	Floor            *int
	TotalFloors      *int
	Direction        *string
	BuiltYear        *int
	Condition        *string
	PropertyTypeCode *string
}

// FacilityInfo is one decoded facility entry.
type FacilityInfo struct {
	Code      string
	Name      string
	Available bool
}

// AgentInfo is one decoded agent entry.
type AgentInfo struct {
	BusinessID string
	Name       string
	Phone      string
	Email      string
	OfficeName string
	Primary    bool
}

// ImageInfo is one decoded image entry.
type ImageInfo struct {
	URL   string
	Kind  string
	Order int
}

// TaxInfo holds the decoded tax section.
type TaxInfo struct {
	AcquisitionTax    *int64
	RegistrationTax   *int64
	AnnualPropertyTax *int64
}

// ComparableInfo is one decoded comparable-sale entry.
type ComparableInfo struct {
	TradeDate     time.Time
	Amount        int64
	AreaExclusive *float64
	Floor         *int
}
