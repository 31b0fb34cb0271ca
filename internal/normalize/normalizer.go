// Package normalize maps parsed intermediate records onto the relational
// entity model, resolving categorical foreign keys through an ordered
// fallback chain that never yields a missing id.
package normalize

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propwatch/ingest-cli/internal/model"
	"github.com/propwatch/ingest-cli/internal/parser"
)

// Normalizer assembles persistence snapshots from parsed details.
type Normalizer struct {
	resolver *Resolver
	policy   Policy
	nowFunc  func() time.Time
}

// New creates a Normalizer using the given resolver and policy.
func New(resolver *Resolver, policy Policy) *Normalizer {
	return &Normalizer{
		resolver: resolver,
		policy:   policy,
		nowFunc:  time.Now,
	}
}

// Snapshot builds the normalized snapshot for one parsed listing.
// crawlRegion is the region code the crawl cycle was invoked with; it backs
// the region fallback chain when the payload carries nothing better.
func (n *Normalizer) Snapshot(ctx context.Context, parsed *parser.ParsedDetail, crawlRegion string) (*model.ListingSnapshot, error) {
	if parsed.ExternalID == "" {
		return nil, eris.New("normalize: parsed detail has no external id")
	}

	now := n.nowFunc().UTC()

	propertyTypeID, err := n.resolvePropertyType(ctx, parsed)
	if err != nil {
		return nil, err
	}
	tradeTypeID, err := n.resolveTradeType(ctx, parsed)
	if err != nil {
		return nil, err
	}
	regionID, err := n.resolveRegion(ctx, parsed, crawlRegion)
	if err != nil {
		return nil, err
	}
	crawlRegionID, err := n.resolveCrawlRegion(ctx, crawlRegion)
	if err != nil {
		return nil, err
	}

	snap := &model.ListingSnapshot{
		Listing: model.Listing{
			ExternalID:     parsed.ExternalID,
			PropertyTypeID: propertyTypeID,
			TradeTypeID:    tradeTypeID,
			RegionID:       regionID,
			CrawlRegionID:  crawlRegionID,
			Name:           parsed.Name,
			Description:    parsed.Description,
			Active:         true,
			FirstSeenAt:    now,
			LastSeenAt:     now,
		},
		FailedSections: parsed.FailedSections(),
	}

	n.applyPricing(snap, parsed.Pricing)
	n.applyLocation(snap, parsed.Location)
	n.applyPhysical(snap, parsed.Physical)
	if err := n.applyFacilities(ctx, snap, parsed.Facilities); err != nil {
		return nil, err
	}
	n.applyAgents(snap, parsed.Agents)
	n.applyImages(snap, parsed.Images)
	n.applyTax(snap, parsed.Tax)
	n.applyComparables(snap, parsed.Comparables)

	return snap, nil
}

// resolvePropertyType: direct payload code via the policy code map, else
// unclassified. Property type has no related-field or geographic inference.
func (n *Normalizer) resolvePropertyType(ctx context.Context, parsed *parser.ParsedDetail) (int64, error) {
	code := model.UnclassifiedCode
	if parsed.Physical != nil && parsed.Physical.PropertyTypeCode != nil {
		raw := NormalizeKey(*parsed.Physical.PropertyTypeCode)
		if canonical, ok := lookupCode(n.policy.PropertyTypeCodes, raw); ok {
			code = canonical
		} else {
			zap.L().Warn("unknown property type code, falling back",
				zap.String("external_id", parsed.ExternalID),
				zap.String("code", raw),
			)
		}
	}
	return n.resolver.PropertyType(ctx, code)
}

// resolveTradeType applies the chain: (a) direct trade-type code;
// (b) inference from which price fields are populated; (d) unclassified.
func (n *Normalizer) resolveTradeType(ctx context.Context, parsed *parser.ParsedDetail) (int64, error) {
	pricing := parsed.Pricing

	if pricing != nil && pricing.TradeTypeCode != nil {
		raw := NormalizeKey(*pricing.TradeTypeCode)
		if canonical, ok := lookupCode(n.policy.TradeTypeCodes, raw); ok {
			return n.resolver.TradeType(ctx, canonical)
		}
		zap.L().Warn("unknown trade type code, inferring from prices",
			zap.String("external_id", parsed.ExternalID),
			zap.String("code", raw),
		)
	}

	if code, ok := n.inferTradeType(pricing); ok {
		return n.resolver.TradeType(ctx, code)
	}
	return n.resolver.TradeType(ctx, model.UnclassifiedCode)
}

// inferTradeType derives the trade type from populated price fields:
// a populated sale amount implies a sale; deposit plus rent implies a
// monthly tenancy; deposit alone implies a key-money deposit tenancy.
func (n *Normalizer) inferTradeType(pricing *parser.PricingInfo) (string, bool) {
	if pricing == nil {
		return "", false
	}
	sale := pricing.SaleAmount != nil && *pricing.SaleAmount >= n.policy.MinSaleAmount
	rent := pricing.MonthlyRent != nil && *pricing.MonthlyRent >= n.policy.MinMonthlyRent
	deposit := pricing.Deposit != nil && *pricing.Deposit > 0

	switch {
	case sale:
		return TradeSale, true
	case deposit && rent:
		return TradeMonthlyRent, true
	case deposit:
		return TradeDeposit, true
	default:
		return "", false
	}
}

// resolveRegion applies the chain: (a) payload region code; (b) the crawl
// cycle's own region code; (c) coordinate containment against known region
// bounding boxes; (d) unclassified.
func (n *Normalizer) resolveRegion(ctx context.Context, parsed *parser.ParsedDetail, crawlRegion string) (int64, error) {
	if parsed.Location != nil && parsed.Location.RegionCode != nil {
		if code := NormalizeKey(*parsed.Location.RegionCode); code != "" {
			return n.resolver.Region(ctx, code)
		}
	}
	if code := NormalizeKey(crawlRegion); code != "" {
		return n.resolver.Region(ctx, code)
	}
	if parsed.Location != nil && parsed.Location.Latitude != nil && parsed.Location.Longitude != nil {
		id, ok, err := n.resolver.RegionFromPoint(ctx, *parsed.Location.Latitude, *parsed.Location.Longitude)
		if err != nil {
			return 0, err
		}
		if ok {
			return id, nil
		}
	}
	return n.resolver.Region(ctx, model.UnclassifiedCode)
}

// resolveCrawlRegion pins the listing to the region shard the crawl was
// invoked for, independent of the finer region the payload may claim.
func (n *Normalizer) resolveCrawlRegion(ctx context.Context, crawlRegion string) (int64, error) {
	if code := NormalizeKey(crawlRegion); code != "" {
		return n.resolver.Region(ctx, code)
	}
	return n.resolver.Region(ctx, model.UnclassifiedCode)
}

func (n *Normalizer) applyPricing(snap *model.ListingSnapshot, pricing *parser.PricingInfo) {
	if pricing == nil {
		return
	}
	prices := model.PriceSet{}
	if pricing.SaleAmount != nil && *pricing.SaleAmount > 0 {
		prices[model.PriceSale] = *pricing.SaleAmount
	}
	if pricing.Deposit != nil && *pricing.Deposit > 0 {
		prices[model.PriceDeposit] = *pricing.Deposit
	}
	if pricing.MonthlyRent != nil && *pricing.MonthlyRent > 0 {
		prices[model.PriceMonthlyRent] = *pricing.MonthlyRent
	}
	if pricing.MaintenanceFee != nil && *pricing.MaintenanceFee > 0 {
		prices[model.PriceMaintenanceFee] = *pricing.MaintenanceFee
	}
	if len(prices) > 0 {
		snap.Prices = prices
	}
}

func (n *Normalizer) applyLocation(snap *model.ListingSnapshot, loc *parser.LocationInfo) {
	if loc == nil {
		return
	}
	snap.Location = &model.LocationRecord{
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		Address:      loc.Address,
		RoadAddress:  loc.RoadAddress,
		BuildingName: loc.BuildingName,
		PostalCode:   loc.PostalCode,
	}
}

func (n *Normalizer) applyPhysical(snap *model.ListingSnapshot, phys *parser.PhysicalInfo) {
	if phys == nil {
		return
	}
	snap.Physical = &model.PhysicalAttributesRecord{
		AreaExclusive: phys.AreaExclusive,
		AreaGross:     phys.AreaGross,
		Rooms:         phys.Rooms,
		Bathrooms:     phys.Bathrooms,
		Floor:         phys.Floor,
		TotalFloors:   phys.TotalFloors,
		Direction:     phys.Direction,
		BuiltYear:     phys.BuiltYear,
		Condition:     phys.Condition,
	}
}

func (n *Normalizer) applyFacilities(ctx context.Context, snap *model.ListingSnapshot, facilities []parser.FacilityInfo) error {
	if facilities == nil {
		return nil
	}
	assocs := make([]model.FacilityAssociation, 0, len(facilities))
	seen := make(map[int64]bool, len(facilities))
	for _, f := range facilities {
		code := f.Code
		if code == "" {
			code = f.Name
		}
		id, err := n.resolver.Facility(ctx, code, f.Name)
		if err != nil {
			return err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		assocs = append(assocs, model.FacilityAssociation{
			FacilityID: id,
			Available:  f.Available,
		})
	}
	snap.Facilities = assocs
	return nil
}

func (n *Normalizer) applyAgents(snap *model.ListingSnapshot, agents []parser.AgentInfo) {
	for _, a := range agents {
		snap.Agents = append(snap.Agents, model.AgentLink{
			Agent: model.Agent{
				BusinessID: NormalizeKey(a.BusinessID),
				Name:       a.Name,
				Phone:      a.Phone,
				Email:      a.Email,
				OfficeName: a.OfficeName,
			},
			Primary: a.Primary,
		})
	}
}

func (n *Normalizer) applyImages(snap *model.ListingSnapshot, images []parser.ImageInfo) {
	if images == nil {
		return
	}
	snap.Images = make([]model.ImageRecord, 0, len(images))
	for i, img := range images {
		snap.Images = append(snap.Images, model.ImageRecord{
			Position: i,
			URL:      img.URL,
			Kind:     img.Kind,
		})
	}
}

func (n *Normalizer) applyTax(snap *model.ListingSnapshot, tax *parser.TaxInfo) {
	if tax == nil {
		return
	}
	snap.Tax = &model.TaxRecord{
		AcquisitionTax:    tax.AcquisitionTax,
		RegistrationTax:   tax.RegistrationTax,
		AnnualPropertyTax: tax.AnnualPropertyTax,
	}
}

func (n *Normalizer) applyComparables(snap *model.ListingSnapshot, comparables []parser.ComparableInfo) {
	for _, c := range comparables {
		snap.Comparables = append(snap.Comparables, model.ComparableSale{
			TradeDate:     c.TradeDate,
			Amount:        c.Amount,
			AreaExclusive: c.AreaExclusive,
			Floor:         c.Floor,
		})
	}
}

// lookupCode resolves a raw code through a policy code map, normalizing
// both sides.
func lookupCode(codes map[string]string, raw string) (string, bool) {
	if canonical, ok := codes[raw]; ok {
		return canonical, true
	}
	for k, v := range codes {
		if NormalizeKey(k) == raw {
			return v, true
		}
	}
	return "", false
}
