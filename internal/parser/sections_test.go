package parser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propwatch/ingest-cli/internal/catalog"
)

func rawDetail(sections map[string]string) *catalog.RawDetail {
	d := &catalog.RawDetail{
		ExternalID: "ext-1",
		Name:       "Sunrise Tower 1203",
		Sections:   map[string]json.RawMessage{},
	}
	for name, payload := range sections {
		d.Sections[name] = json.RawMessage(payload)
	}
	return d
}

func TestParseDetail_AllSections(t *testing.T) {
	out := ParseDetail(rawDetail(map[string]string{
		"pricing":  `{"salePrice":52000,"managementFee":12,"tradeTypeCode":"A1"}`,
		"location": `{"lat":37.5665,"lon":126.978,"roadAddress":"12 Sejong-daero","zipCode":"04524","cortarNo":"1114010300"}`,
		"physical": `{"exclusiveArea":84.92,"supplyArea":112.4,"roomCount":3,"bathroomCnt":2,"currentFloor":12,"totalFloor":25,"constructYear":2014,"realEstateTypeCode":"APT"}`,
		"facilities": `{"facilityList":[
			{"facilityCode":"ELEV","facilityName":"Elevator","isAvailable":true},
			{"facilityCode":"PARK","facilityName":"Parking"}
		]}`,
		"agent":       `{"agentList":[{"businessNo":"B-100","agentName":"Kim","isPrimary":true,"officeName":"Alpha Realty"}]}`,
		"images":      `{"imageList":[{"imageUrl":"https://img/1.jpg","imageType":"floorplan","seq":0}]}`,
		"tax":         `{"acquisitionTax":520,"registTax":104}`,
		"comparables": `{"recentTrades":[{"dealDate":"2026-07-14","dealAmount":51000,"exclusiveArea":84.92,"floorNumber":9}]}`,
	}))

	require.Empty(t, out.Errors)
	assert.Equal(t, "ext-1", out.ExternalID)

	require.NotNil(t, out.Pricing)
	assert.Equal(t, int64(52000), *out.Pricing.SaleAmount)
	assert.Equal(t, "A1", *out.Pricing.TradeTypeCode)

	require.NotNil(t, out.Location)
	assert.Equal(t, 37.5665, *out.Location.Latitude)
	assert.Equal(t, "1114010300", *out.Location.RegionCode)

	require.NotNil(t, out.Physical)
	assert.Equal(t, 84.92, *out.Physical.AreaExclusive)
	assert.Equal(t, 3, *out.Physical.Rooms)
	assert.Equal(t, "APT", *out.Physical.PropertyTypeCode)

	require.Len(t, out.Facilities, 2)
	assert.True(t, out.Facilities[0].Available)
	assert.True(t, out.Facilities[1].Available, "missing availability defaults to present")

	require.Len(t, out.Agents, 1)
	assert.Equal(t, "B-100", out.Agents[0].BusinessID)
	assert.True(t, out.Agents[0].Primary)

	require.Len(t, out.Images, 1)
	assert.Equal(t, "floorplan", out.Images[0].Kind)

	require.NotNil(t, out.Tax)
	assert.Equal(t, int64(520), *out.Tax.AcquisitionTax)

	require.Len(t, out.Comparables, 1)
	assert.Equal(t, time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC), out.Comparables[0].TradeDate)
}

func TestParseDetail_MalformedSectionDoesNotPoisonOthers(t *testing.T) {
	out := ParseDetail(rawDetail(map[string]string{
		"pricing":  `"not an object"`,
		"location": `{"lat":37.5,"lon":127.0}`,
	}))

	require.Len(t, out.Errors, 1)
	assert.Equal(t, []string{"pricing"}, out.FailedSections())
	assert.Nil(t, out.Pricing)

	require.NotNil(t, out.Location)
	assert.Equal(t, 37.5, *out.Location.Latitude)
}

func TestParseDetail_AbsentAndNullSectionsSkipped(t *testing.T) {
	out := ParseDetail(rawDetail(map[string]string{
		"location": `null`,
		"pricing":  `{"price":1000}`,
	}))

	assert.Empty(t, out.Errors)
	assert.Nil(t, out.Location)
	assert.Nil(t, out.Physical)
	require.NotNil(t, out.Pricing)
}

func TestParseDetail_UnknownSectionIgnored(t *testing.T) {
	out := ParseDetail(rawDetail(map[string]string{
		"promotions": `{"banner":"x"}`,
	}))
	assert.Empty(t, out.Errors)
}

func TestDecodePricing_StringNumberCoerced(t *testing.T) {
	info, perr := decodePricing(json.RawMessage(`{"salePrice":"120,000","warrantPrice":"5000"}`))
	require.Nil(t, perr)
	assert.Equal(t, int64(120000), *info.SaleAmount)
	assert.Equal(t, int64(5000), *info.Deposit)
}

func TestDecodePricing_NoRecognizableFields(t *testing.T) {
	_, perr := decodePricing(json.RawMessage(`{"somethingElse":1}`))
	require.NotNil(t, perr)
	assert.Equal(t, SectionPricing, perr.Section)
}

func TestDecodeLocation_HalfCoordinatePairDropped(t *testing.T) {
	info, perr := decodeLocation(json.RawMessage(`{"lat":37.5,"jibunAddress":"Mapo-gu 100"}`))
	require.Nil(t, perr)
	assert.Nil(t, info.Latitude)
	assert.Nil(t, info.Longitude)
	assert.Equal(t, "Mapo-gu 100", *info.Address)
}

func TestDecodeLocation_AliasPrecedence(t *testing.T) {
	// The first alias present wins; later aliases for the same canonical
	// field are ignored.
	info, perr := decodeLocation(json.RawMessage(`{"latitude":37.1,"lat":37.9,"longitude":127.1}`))
	require.Nil(t, perr)
	assert.Equal(t, 37.1, *info.Latitude)
}

func TestDecodePhysical_FloatArrivingForInt(t *testing.T) {
	info, perr := decodePhysical(json.RawMessage(`{"roomCount":3.0,"floorNumber":"12"}`))
	require.Nil(t, perr)
	assert.Equal(t, 3, *info.Rooms)
	assert.Equal(t, 12, *info.Floor)
}

func TestDecodeFacilities_SkipsUnidentifiableEntries(t *testing.T) {
	items, perr := decodeFacilities(json.RawMessage(`{"items":[
		{"code":"ELEV","name":"Elevator","available":"yes"},
		{"available":true},
		"garbage"
	]}`))
	require.Nil(t, perr)
	require.Len(t, items, 1)
	assert.Equal(t, "ELEV", items[0].Code)
	assert.True(t, items[0].Available)
}

func TestDecodeAgents_ExactlyOnePrimary(t *testing.T) {
	agents, perr := decodeAgents(json.RawMessage(`{"agents":[
		{"businessNo":"B-1","name":"First","isPrimary":true},
		{"businessNo":"B-2","name":"Second","isPrimary":true},
		{"businessNo":"B-3","name":"Third"}
	]}`))
	require.Nil(t, perr)
	require.Len(t, agents, 3)
	assert.True(t, agents[0].Primary, "first flagged agent keeps primary")
	assert.False(t, agents[1].Primary, "duplicate primary flag drops")
	assert.False(t, agents[2].Primary)
}

func TestDecodeAgents_NoFlagPromotesFirst(t *testing.T) {
	agents, perr := decodeAgents(json.RawMessage(`{"brokers":[
		{"brokerName":"A"},
		{"brokerName":"B"}
	]}`))
	require.Nil(t, perr)
	require.Len(t, agents, 2)
	assert.True(t, agents[0].Primary)
	assert.False(t, agents[1].Primary)
}

func TestDecodeAgents_SingleInlineAgent(t *testing.T) {
	agents, perr := decodeAgents(json.RawMessage(`{"businessNo":"B-9","agentName":"Solo","tel":"02-555-0100"}`))
	require.Nil(t, perr)
	require.Len(t, agents, 1)
	assert.Equal(t, "B-9", agents[0].BusinessID)
	assert.True(t, agents[0].Primary)
}

func TestDecodeAgents_NoIdentifiableAgent(t *testing.T) {
	_, perr := decodeAgents(json.RawMessage(`{"agents":[{"tel":"02-555-0100"}]}`))
	require.NotNil(t, perr)
	assert.Equal(t, SectionAgent, perr.Section)
}

func TestDecodeImages_BareURLStrings(t *testing.T) {
	images, perr := decodeImages(json.RawMessage(`{"photos":["https://img/a.jpg","https://img/b.jpg"]}`))
	require.Nil(t, perr)
	require.Len(t, images, 2)
	assert.Equal(t, "https://img/a.jpg", images[0].URL)
	assert.Equal(t, 0, images[0].Order)
	assert.Equal(t, 1, images[1].Order)
}

func TestDecodeImages_MissingList(t *testing.T) {
	_, perr := decodeImages(json.RawMessage(`{"count":3}`))
	require.NotNil(t, perr)
}

func TestDecodeComparables_DateFormats(t *testing.T) {
	items, perr := decodeComparables(json.RawMessage(`{"items":[
		{"tradeDate":"2026-03-01","amount":48000},
		{"tradeDate":"2026.03.02","amount":48500},
		{"tradeDate":"20260303","amount":49000},
		{"tradeDate":"March 4th","amount":49500},
		{"amount":50000}
	]}`))
	require.Nil(t, perr)
	require.Len(t, items, 3, "unparseable dates and missing dates drop the entry")
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), items[0].TradeDate)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), items[1].TradeDate)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), items[2].TradeDate)
}

func TestDecoder_BoolCoercion(t *testing.T) {
	d, perr := newDecoder(SectionFacilities, json.RawMessage(`{"available":"Y","exists":0}`))
	require.Nil(t, perr)
	v := d.boolPtr("available")
	require.NotNil(t, v)
	assert.True(t, *v)
}

func TestAliasesFor_UnknownFallsBackToCanonical(t *testing.T) {
	assert.Equal(t, []string{"mystery"}, aliasesFor("pricing", "mystery"))
	assert.Equal(t, []string{"field"}, aliasesFor("nosection", "field"))
}
