package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propwatch/ingest-cli/internal/model"
)

func TestDiffListing_EqualRowsProduceNothing(t *testing.T) {
	old := listingRow{ID: 1, PropertyTypeID: 10, TradeTypeID: 11, RegionID: 12, Name: "A", Description: "d", Active: true}
	next := model.Listing{PropertyTypeID: 10, TradeTypeID: 11, RegionID: 12, Name: "A", Description: "d"}
	assert.Empty(t, diffListing(old, next))
}

func TestDiffListing_TracksScalarFields(t *testing.T) {
	old := listingRow{PropertyTypeID: 10, TradeTypeID: 11, RegionID: 12, Name: "A", Description: "d", Active: true}
	next := model.Listing{PropertyTypeID: 20, TradeTypeID: 11, RegionID: 13, Name: "B", Description: "d"}

	changes := diffListing(old, next)
	fields := make(map[string]fieldChange, len(changes))
	for _, ch := range changes {
		fields[ch.Field] = ch
	}

	assert.Len(t, changes, 3)
	assert.Equal(t, fieldChange{Field: "property_type", OldValue: "10", NewValue: "20"}, fields["property_type"])
	assert.Equal(t, fieldChange{Field: "region", OldValue: "12", NewValue: "13"}, fields["region"])
	assert.Equal(t, fieldChange{Field: "name", OldValue: "A", NewValue: "B"}, fields["name"])
}

func TestDiffListing_RelistRecordsActiveTransition(t *testing.T) {
	old := listingRow{PropertyTypeID: 10, TradeTypeID: 11, RegionID: 12, Active: false}
	next := model.Listing{PropertyTypeID: 10, TradeTypeID: 11, RegionID: 12}

	changes := diffListing(old, next)
	assert.Equal(t, []fieldChange{{Field: "active", OldValue: "false", NewValue: "true"}}, changes)
}

func TestDiffPrices(t *testing.T) {
	tests := []struct {
		name     string
		current  map[model.PriceKind]int64
		observed model.PriceSet
		want     []priceTransition
	}{
		{
			name:     "equal amounts yield nothing",
			current:  map[model.PriceKind]int64{model.PriceSale: 100},
			observed: model.PriceSet{model.PriceSale: 100},
			want:     nil,
		},
		{
			name:     "new kind opens",
			current:  map[model.PriceKind]int64{},
			observed: model.PriceSet{model.PriceDeposit: 500},
			want:     []priceTransition{{Kind: model.PriceDeposit, Open: true, NewAmount: 500}},
		},
		{
			name:     "changed amount closes and reopens",
			current:  map[model.PriceKind]int64{model.PriceSale: 100},
			observed: model.PriceSet{model.PriceSale: 120},
			want:     []priceTransition{{Kind: model.PriceSale, Close: true, Open: true, OldAmount: 100, NewAmount: 120}},
		},
		{
			name:     "withdrawn kind closes",
			current:  map[model.PriceKind]int64{model.PriceMonthlyRent: 80},
			observed: model.PriceSet{},
			want:     []priceTransition{{Kind: model.PriceMonthlyRent, Close: true, OldAmount: 80}},
		},
		{
			name:    "mixed set in stable kind order",
			current: map[model.PriceKind]int64{model.PriceSale: 100, model.PriceDeposit: 500},
			observed: model.PriceSet{
				model.PriceSale:        100,
				model.PriceDeposit:     600,
				model.PriceMonthlyRent: 70,
			},
			want: []priceTransition{
				{Kind: model.PriceDeposit, Close: true, Open: true, OldAmount: 500, NewAmount: 600},
				{Kind: model.PriceMonthlyRent, Open: true, NewAmount: 70},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, diffPrices(tt.current, tt.observed))
		})
	}
}

func TestPriceTransition_ChangeRecord(t *testing.T) {
	ch := priceTransition{Kind: model.PriceSale, Close: true, Open: true, OldAmount: 100, NewAmount: 120}.changeRecord()
	assert.Equal(t, fieldChange{Field: "price:sale", OldValue: "100", NewValue: "120"}, ch)

	withdrawn := priceTransition{Kind: model.PriceDeposit, Close: true, OldAmount: 500}.changeRecord()
	assert.Equal(t, fieldChange{Field: "price:deposit", OldValue: "500", NewValue: ""}, withdrawn)
}

func TestAgentNaturalKey(t *testing.T) {
	assert.Equal(t, "biz:b-100", model.Agent{BusinessID: "b-100", Name: "Kim"}.NaturalKey())
	assert.Equal(t, "contact:Kim|02-555-0100", model.Agent{Name: "Kim", Phone: "02-555-0100"}.NaturalKey())
}
