package parser

// The upstream API has renamed payload fields across versions. Every decoder
// resolves canonical field names through this alias table, so an upstream
// rename is a one-line change here instead of a hunt through the pipeline.
//
// Aliases are ordered: the first key present in the payload wins.

// FieldMapVersion identifies the alias table revision, logged with every
// drift warning so operators can correlate payload shape against mapping.
const FieldMapVersion = 7

// Section names as they appear in the detail payload.
const (
	SectionPricing     = "pricing"
	SectionLocation    = "location"
	SectionPhysical    = "physical"
	SectionFacilities  = "facilities"
	SectionAgent       = "agent"
	SectionImages      = "images"
	SectionTax         = "tax"
	SectionComparables = "comparables"
)

// Sections lists every independently decoded section in payload order.
var Sections = []string{
	SectionPricing,
	SectionLocation,
	SectionPhysical,
	SectionFacilities,
	SectionAgent,
	SectionImages,
	SectionTax,
	SectionComparables,
}

var fieldAliases = map[string]map[string][]string{
	SectionPricing: {
		"sale_amount":     {"sale_amount", "salePrice", "dealPrice", "price"},
		"deposit":         {"deposit", "warrantPrice", "depositAmount"},
		"monthly_rent":    {"monthly_rent", "rentPrice", "monthlyRent"},
		"maintenance_fee": {"maintenance_fee", "managementFee", "maintenanceFee"},
		"trade_type":      {"trade_type", "tradeTypeCode", "tradeType"},
	},
	SectionLocation: {
		"latitude":      {"latitude", "lat", "y"},
		"longitude":     {"longitude", "lon", "lng", "x"},
		"address":       {"address", "jibunAddress", "lotAddress"},
		"road_address":  {"road_address", "roadAddress", "streetAddress"},
		"building_name": {"building_name", "buildingName", "complexName"},
		"postal_code":   {"postal_code", "zipCode", "postCode"},
		"region_code":   {"region_code", "regionCode", "cortarNo", "districtCode"},
	},
	SectionPhysical: {
		"area_exclusive": {"area_exclusive", "exclusiveArea", "netArea", "area2"},
		"area_gross":     {"area_gross", "supplyArea", "grossArea", "area1"},
		"rooms":          {"rooms", "roomCount", "roomCnt"},
		"bathrooms":      {"bathrooms", "bathroomCount", "bathroomCnt"},
		"floor":          {"floor", "floorNumber", "currentFloor"},
		"total_floors":   {"total_floors", "totalFloor", "buildingFloors"},
		"direction":      {"direction", "directionCode", "facing"},
		"built_year":     {"built_year", "constructYear", "completionYear"},
		"condition":      {"condition", "conditionCode", "state"},
		"property_type":  {"property_type", "realEstateTypeCode", "propertyTypeCode", "categoryCode"},
	},
	SectionFacilities: {
		"items":     {"items", "facilities", "facilityList"},
		"code":      {"code", "facilityCode", "id"},
		"name":      {"name", "facilityName", "label"},
		"available": {"available", "isAvailable", "exists"},
	},
	SectionAgent: {
		"agents":      {"agents", "agentList", "brokers"},
		"business_id": {"business_id", "businessNo", "registrationNo", "brokerageId"},
		"name":        {"name", "agentName", "brokerName"},
		"phone":       {"phone", "phoneNumber", "tel"},
		"email":       {"email", "emailAddress"},
		"office":      {"office", "officeName", "brokerageName"},
		"primary":     {"primary", "isPrimary", "representative"},
	},
	SectionImages: {
		"items": {"items", "images", "imageList", "photos"},
		"url":   {"url", "imageUrl", "imageSrc"},
		"kind":  {"kind", "imageType", "category"},
		"order": {"order", "imageOrder", "seq"},
	},
	SectionTax: {
		"acquisition_tax":     {"acquisition_tax", "acquisitionTax"},
		"registration_tax":    {"registration_tax", "registTax", "registrationTax"},
		"annual_property_tax": {"annual_property_tax", "propertyTax", "holdingTax"},
	},
	SectionComparables: {
		"items":          {"items", "comparables", "recentTrades", "dealList"},
		"trade_date":     {"trade_date", "tradeDate", "dealDate"},
		"amount":         {"amount", "dealAmount", "tradePrice"},
		"area_exclusive": {"area_exclusive", "exclusiveArea", "area"},
		"floor":          {"floor", "floorNumber"},
	},
}

// aliasesFor returns the ordered alias list for a canonical field within a
// section. Unknown fields return just the canonical name.
func aliasesFor(section, canonical string) []string {
	if m, ok := fieldAliases[section]; ok {
		if a, ok := m[canonical]; ok {
			return a
		}
	}
	return []string{canonical}
}
