package model

// ListingSnapshot is the fully normalized view of one listing for one crawl,
// handed to the persister as a unit. Nil child pointers mean the section was
// absent or failed to parse; the persister leaves the corresponding rows
// untouched in that case.
type ListingSnapshot struct {
	Listing     Listing
	Prices      PriceSet
	Location    *LocationRecord
	Physical    *PhysicalAttributesRecord
	Facilities  []FacilityAssociation // resolved facility ids; nil = section absent
	Agents      []AgentLink
	Images      []ImageRecord // nil = section absent; empty = observed empty
	Tax         *TaxRecord
	Comparables []ComparableSale

	// FailedSections names payload sections that produced a ParseError for
	// this crawl. Informational: used for the cycle report's partial tally.
	FailedSections []string
}

// AgentLink pairs an agent (possibly not yet persisted, ID zero) with its
// association flags for one listing.
type AgentLink struct {
	Agent   Agent
	Primary bool
}

// Partial reports whether the snapshot is missing any sections due to
// parse failures.
func (s *ListingSnapshot) Partial() bool {
	return len(s.FailedSections) > 0
}
