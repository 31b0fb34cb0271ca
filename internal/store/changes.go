package store

import (
	"strconv"

	"github.com/propwatch/ingest-cli/internal/model"
)

// listingRow holds the currently persisted scalar fields of a listing, read
// under FOR UPDATE before an upsert decides what changed.
type listingRow struct {
	ID             int64
	PropertyTypeID int64
	TradeTypeID    int64
	RegionID       int64
	Name           string
	Description    string
	Active         bool
}

// fieldChange is one detected scalar difference, pending a change_history row.
type fieldChange struct {
	Field    string
	OldValue string
	NewValue string
}

// diffListing compares the persisted row against the incoming snapshot and
// returns one change per differing tracked field. Equal values produce
// nothing: re-crawling unchanged data must leave no trace.
func diffListing(old listingRow, next model.Listing) []fieldChange {
	var changes []fieldChange

	if old.PropertyTypeID != next.PropertyTypeID {
		changes = append(changes, fieldChange{
			Field:    "property_type",
			OldValue: strconv.FormatInt(old.PropertyTypeID, 10),
			NewValue: strconv.FormatInt(next.PropertyTypeID, 10),
		})
	}
	if old.TradeTypeID != next.TradeTypeID {
		changes = append(changes, fieldChange{
			Field:    "trade_type",
			OldValue: strconv.FormatInt(old.TradeTypeID, 10),
			NewValue: strconv.FormatInt(next.TradeTypeID, 10),
		})
	}
	if old.RegionID != next.RegionID {
		changes = append(changes, fieldChange{
			Field:    "region",
			OldValue: strconv.FormatInt(old.RegionID, 10),
			NewValue: strconv.FormatInt(next.RegionID, 10),
		})
	}
	if old.Name != next.Name {
		changes = append(changes, fieldChange{Field: "name", OldValue: old.Name, NewValue: next.Name})
	}
	if old.Description != next.Description {
		changes = append(changes, fieldChange{Field: "description", OldValue: old.Description, NewValue: next.Description})
	}
	if !old.Active {
		// Relisting: the listing reappeared after a delisting sweep.
		changes = append(changes, fieldChange{Field: "active", OldValue: "false", NewValue: "true"})
	}
	return changes
}

// diffPrices compares current open price intervals against the observed set
// and returns the transitions to apply. A kind present in both with an equal
// amount yields nothing.
func diffPrices(current map[model.PriceKind]int64, observed model.PriceSet) []priceTransition {
	var transitions []priceTransition
	for _, kind := range model.AllPriceKinds {
		cur, hasCur := current[kind]
		next, hasNext := observed[kind]
		switch {
		case hasNext && !hasCur:
			transitions = append(transitions, priceTransition{Kind: kind, Open: true, NewAmount: next})
		case hasNext && hasCur && next != cur:
			transitions = append(transitions, priceTransition{Kind: kind, Close: true, Open: true, OldAmount: cur, NewAmount: next})
		case !hasNext && hasCur:
			transitions = append(transitions, priceTransition{Kind: kind, Close: true, OldAmount: cur})
		}
	}
	return transitions
}

// priceTransition describes one interval close and/or open for a price kind.
type priceTransition struct {
	Kind      model.PriceKind
	Close     bool
	Open      bool
	OldAmount int64
	NewAmount int64
}

func (t priceTransition) changeRecord() fieldChange {
	old, next := "", ""
	if t.Close {
		old = strconv.FormatInt(t.OldAmount, 10)
	}
	if t.Open {
		next = strconv.FormatInt(t.NewAmount, 10)
	}
	return fieldChange{Field: "price:" + string(t.Kind), OldValue: old, NewValue: next}
}
