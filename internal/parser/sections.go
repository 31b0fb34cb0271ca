// Package parser decodes the independently structured sections of a listing
// detail payload into typed intermediate records. Section failures are
// isolated: one malformed section never costs the others, and never the
// listing.
package parser

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/catalog"
	"github.com/propwatch/ingest-cli/internal/resilience"
)

// ParsedDetail is the outcome of decoding every section of one payload.
// Nil section pointers (or nil slices) mean the section was absent or
// failed; Errors carries one ParseError per failed section.
type ParsedDetail struct {
	ExternalID  string
	Name        string
	Description string

	Pricing     *PricingInfo
	Location    *LocationInfo
	Physical    *PhysicalInfo
	Facilities  []FacilityInfo
	Agents      []AgentInfo
	Images      []ImageInfo
	Tax         *TaxInfo
	Comparables []ComparableInfo

	Errors []*resilience.ParseError
}

// FailedSections returns the names of sections that produced a ParseError.
func (p *ParsedDetail) FailedSections() []string {
	if len(p.Errors) == 0 {
		return nil
	}
	names := make([]string, len(p.Errors))
	for i, e := range p.Errors {
		names[i] = e.Section
	}
	return names
}

// ParseDetail decodes every known section of a raw detail payload. Unknown
// sections are ignored; known-but-absent sections are skipped silently.
func ParseDetail(raw *catalog.RawDetail) *ParsedDetail {
	out := &ParsedDetail{
		ExternalID:  raw.ExternalID,
		Name:        raw.Name,
		Description: raw.Desc,
	}

	for _, section := range Sections {
		payload, ok := raw.Sections[section]
		if !ok || len(payload) == 0 || string(payload) == "null" {
			continue
		}
		if perr := decodeSection(section, payload, out); perr != nil {
			out.Errors = append(out.Errors, perr)
			zap.L().Warn("section parse failed",
				zap.String("external_id", raw.ExternalID),
				zap.String("section", perr.Section),
				zap.String("reason", perr.Reason),
			)
		}
	}
	return out
}

func decodeSection(section string, payload json.RawMessage, out *ParsedDetail) *resilience.ParseError {
	switch section {
	case SectionPricing:
		info, perr := decodePricing(payload)
		if perr != nil {
			return perr
		}
		out.Pricing = info
	case SectionLocation:
		info, perr := decodeLocation(payload)
		if perr != nil {
			return perr
		}
		out.Location = info
	case SectionPhysical:
		info, perr := decodePhysical(payload)
		if perr != nil {
			return perr
		}
		out.Physical = info
	case SectionFacilities:
		items, perr := decodeFacilities(payload)
		if perr != nil {
			return perr
		}
		out.Facilities = items
	case SectionAgent:
		agents, perr := decodeAgents(payload)
		if perr != nil {
			return perr
		}
		out.Agents = agents
	case SectionImages:
		images, perr := decodeImages(payload)
		if perr != nil {
			return perr
		}
		out.Images = images
	case SectionTax:
		info, perr := decodeTax(payload)
		if perr != nil {
			return perr
		}
		out.Tax = info
	case SectionComparables:
		items, perr := decodeComparables(payload)
		if perr != nil {
			return perr
		}
		out.Comparables = items
	}
	return nil
}

func decodePricing(raw json.RawMessage) (*PricingInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionPricing, raw)
	if perr != nil {
		return nil, perr
	}
	info := &PricingInfo{
		SaleAmount:     d.int64Ptr("sale_amount"),
		Deposit:        d.int64Ptr("deposit"),
		MonthlyRent:    d.int64Ptr("monthly_rent"),
		MaintenanceFee: d.int64Ptr("maintenance_fee"),
		TradeTypeCode:  d.stringPtr("trade_type"),
	}
	if info.SaleAmount == nil && info.Deposit == nil && info.MonthlyRent == nil &&
		info.MaintenanceFee == nil && info.TradeTypeCode == nil {
		return nil, &resilience.ParseError{Section: SectionPricing, Reason: "no recognizable price fields"}
	}
	return info, nil
}

func decodeLocation(raw json.RawMessage) (*LocationInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionLocation, raw)
	if perr != nil {
		return nil, perr
	}
	info := &LocationInfo{
		Latitude:     d.float64Ptr("latitude"),
		Longitude:    d.float64Ptr("longitude"),
		Address:      d.stringPtr("address"),
		RoadAddress:  d.stringPtr("road_address"),
		BuildingName: d.stringPtr("building_name"),
		PostalCode:   d.stringPtr("postal_code"),
		RegionCode:   d.stringPtr("region_code"),
	}
	// A coordinate pair must be complete to be usable.
	if (info.Latitude == nil) != (info.Longitude == nil) {
		d.warnDrift("latitude/longitude", "coordinate pair", "half pair")
		info.Latitude = nil
		info.Longitude = nil
	}
	return info, nil
}

func decodePhysical(raw json.RawMessage) (*PhysicalInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionPhysical, raw)
	if perr != nil {
		return nil, perr
	}
	return &PhysicalInfo{
		AreaExclusive:    d.float64Ptr("area_exclusive"),
		AreaGross:        d.float64Ptr("area_gross"),
		Rooms:            d.intPtr("rooms"),
		Bathrooms:        d.intPtr("bathrooms"),
		Floor:            d.intPtr("floor"),
		TotalFloors:      d.intPtr("total_floors"),
		Direction:        d.stringPtr("direction"),
		BuiltYear:        d.intPtr("built_year"),
		Condition:        d.stringPtr("condition"),
		PropertyTypeCode: d.stringPtr("property_type"),
	}, nil
}

func decodeFacilities(raw json.RawMessage) ([]FacilityInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionFacilities, raw)
	if perr != nil {
		return nil, perr
	}
	items, ok := d.array("items")
	if !ok {
		return nil, &resilience.ParseError{Section: SectionFacilities, Reason: "missing facility list"}
	}

	var out []FacilityInfo
	for _, item := range items {
		ed, ok := newSliceDecoder(SectionFacilities, item)
		if !ok {
			d.warnDrift("items", "object element", string(item))
			continue
		}
		f := FacilityInfo{Available: true}
		if code := ed.stringPtr("code"); code != nil {
			f.Code = *code
		}
		if name := ed.stringPtr("name"); name != nil {
			f.Name = *name
		}
		if avail := ed.boolPtr("available"); avail != nil {
			f.Available = *avail
		}
		if f.Code == "" && f.Name == "" {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeAgents(raw json.RawMessage) ([]AgentInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionAgent, raw)
	if perr != nil {
		return nil, perr
	}

	// The section holds either an agent list or a single inline agent.
	elems, ok := d.array("agents")
	if !ok {
		elems = []json.RawMessage{raw}
	}

	var out []AgentInfo
	for _, elem := range elems {
		ed, ok := newSliceDecoder(SectionAgent, elem)
		if !ok {
			continue
		}
		a := AgentInfo{}
		if v := ed.stringPtr("business_id"); v != nil {
			a.BusinessID = *v
		}
		if v := ed.stringPtr("name"); v != nil {
			a.Name = *v
		}
		if v := ed.stringPtr("phone"); v != nil {
			a.Phone = *v
		}
		if v := ed.stringPtr("email"); v != nil {
			a.Email = *v
		}
		if v := ed.stringPtr("office"); v != nil {
			a.OfficeName = *v
		}
		if v := ed.boolPtr("primary"); v != nil {
			a.Primary = *v
		}
		if a.BusinessID == "" && a.Name == "" {
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, &resilience.ParseError{Section: SectionAgent, Reason: "no identifiable agent"}
	}

	// At most one primary: first wins, later flags drop. No agent flagged
	// means the first listed agent is primary.
	seenPrimary := false
	for i := range out {
		if out[i].Primary {
			if seenPrimary {
				out[i].Primary = false
			}
			seenPrimary = true
		}
	}
	if !seenPrimary {
		out[0].Primary = true
	}
	return out, nil
}

func decodeImages(raw json.RawMessage) ([]ImageInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionImages, raw)
	if perr != nil {
		return nil, perr
	}
	items, ok := d.array("items")
	if !ok {
		return nil, &resilience.ParseError{Section: SectionImages, Reason: "missing image list"}
	}

	out := make([]ImageInfo, 0, len(items))
	for i, item := range items {
		ed, ok := newSliceDecoder(SectionImages, item)
		if !ok {
			// Bare URL strings appear in older payload versions.
			var url string
			if err := json.Unmarshal(item, &url); err == nil && url != "" {
				out = append(out, ImageInfo{URL: url, Order: i})
			}
			continue
		}
		img := ImageInfo{Order: i}
		if v := ed.stringPtr("url"); v != nil {
			img.URL = *v
		}
		if v := ed.stringPtr("kind"); v != nil {
			img.Kind = *v
		}
		if v := ed.intPtr("order"); v != nil {
			img.Order = *v
		}
		if img.URL == "" {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

func decodeTax(raw json.RawMessage) (*TaxInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionTax, raw)
	if perr != nil {
		return nil, perr
	}
	return &TaxInfo{
		AcquisitionTax:    d.int64Ptr("acquisition_tax"),
		RegistrationTax:   d.int64Ptr("registration_tax"),
		AnnualPropertyTax: d.int64Ptr("annual_property_tax"),
	}, nil
}

// comparableDateFormats lists observed trade-date layouts, newest first.
var comparableDateFormats = []string{"2006-01-02", "2006.01.02", "20060102"}

func decodeComparables(raw json.RawMessage) ([]ComparableInfo, *resilience.ParseError) {
	d, perr := newDecoder(SectionComparables, raw)
	if perr != nil {
		return nil, perr
	}
	items, ok := d.array("items")
	if !ok {
		return nil, &resilience.ParseError{Section: SectionComparables, Reason: "missing comparable list"}
	}

	var out []ComparableInfo
	for _, item := range items {
		ed, ok := newSliceDecoder(SectionComparables, item)
		if !ok {
			continue
		}
		amount := ed.int64Ptr("amount")
		dateStr := ed.stringPtr("trade_date")
		if amount == nil || dateStr == nil {
			continue
		}
		var tradeDate time.Time
		var parsed bool
		for _, layout := range comparableDateFormats {
			if t, err := time.Parse(layout, *dateStr); err == nil {
				tradeDate = t
				parsed = true
				break
			}
		}
		if !parsed {
			ed.warnDrift("trade_date", "date", *dateStr)
			continue
		}
		out = append(out, ComparableInfo{
			TradeDate:     tradeDate,
			Amount:        *amount,
			AreaExclusive: ed.float64Ptr("area_exclusive"),
			Floor:         ed.intPtr("floor"),
		})
	}
	return out, nil
}
