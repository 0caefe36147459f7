package order

import (
	"testing"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

func TestDetermineOrderType(t *testing.T) {
	cases := []struct {
		style plan.OrderStyle
		dir   plan.Direction
		want  venue.OrderType
	}{
		{plan.OrderStyleMarket, plan.DirectionLong, venue.OrderTypeMarket},
		{plan.OrderStyleMarket, plan.DirectionShort, venue.OrderTypeMarket},
		{plan.OrderStyleStop, plan.DirectionLong, venue.OrderTypeBuyStop},
		{plan.OrderStyleStop, plan.DirectionShort, venue.OrderTypeSellStop},
		{plan.OrderStyleLimit, plan.DirectionLong, venue.OrderTypeBuyLimit},
		{plan.OrderStyleLimit, plan.DirectionShort, venue.OrderTypeSellLimit},
	}
	for _, tc := range cases {
		p := &plan.Plan{OrderStyle: tc.style, Direction: tc.dir}
		if got := DetermineOrderType(p); got != tc.want {
			t.Errorf("style=%q dir=%q: got %s want %s", tc.style, tc.dir, got, tc.want)
		}
	}
}

func TestValidateEntryGeometry(t *testing.T) {
	const current = 90000.0

	cases := []struct {
		orderType venue.OrderType
		entry     float64
		valid     bool
	}{
		{venue.OrderTypeBuyStop, 91000, true},
		{venue.OrderTypeBuyStop, 89000, false},
		{venue.OrderTypeSellLimit, 91000, true},
		{venue.OrderTypeSellLimit, 89000, false},
		{venue.OrderTypeBuyLimit, 89000, true},
		{venue.OrderTypeBuyLimit, 91000, false},
		{venue.OrderTypeSellStop, 89000, true},
		{venue.OrderTypeSellStop, 91000, false},
		{venue.OrderTypeMarket, 90000, true},
	}
	for _, tc := range cases {
		err := ValidateEntry(tc.orderType, tc.entry, current)
		if tc.valid && err != nil {
			t.Errorf("%s entry=%.0f: unexpected error %v", tc.orderType, tc.entry, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("%s entry=%.0f: expected rejection", tc.orderType, tc.entry)
		}
	}
}

func TestValidateEntryEqualityAlwaysInvalid(t *testing.T) {
	for _, orderType := range []venue.OrderType{
		venue.OrderTypeBuyStop,
		venue.OrderTypeBuyLimit,
		venue.OrderTypeSellStop,
		venue.OrderTypeSellLimit,
	} {
		if err := ValidateEntry(orderType, 90000, 90000); err == nil {
			t.Errorf("%s: entry equal to current price must be invalid", orderType)
		}
	}
}
