package venue

import (
	"context"
	"testing"
)

func TestSimulatedMarketOrderOpensPosition(t *testing.T) {
	sim := NewSimulated(nil, nil)

	ticket, err := sim.SubmitMarketOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT",
		Type:   OrderTypeMarket,
		Side:   "buy",
		Price:  90000,
		Amount: 0.5,
	})
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if ticket.PositionID == "" {
		t.Fatalf("market fill should produce a position id")
	}

	positions, err := sim.ListOpenPositions(context.Background(), "BTC/USDT:USDT")
	if err != nil || len(positions) != 1 {
		t.Fatalf("expected one open position, got %v %v", positions, err)
	}
	if positions[0].Side != "long" || positions[0].Size != 0.5 {
		t.Fatalf("position mismatch: %+v", positions[0])
	}
}

func TestSimulatedPendingOrderLifecycle(t *testing.T) {
	sim := NewSimulated(nil, nil)

	ticket, err := sim.SubmitPendingOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT",
		Type:   OrderTypeBuyStop,
		Side:   "buy",
		Price:  91000,
		Amount: 0.5,
	})
	if err != nil {
		t.Fatalf("SubmitPendingOrder: %v", err)
	}

	orders, _ := sim.ListOpenOrders(context.Background(), "BTC/USDT:USDT")
	if len(orders) != 1 || orders[0].Ticket != ticket.ID {
		t.Fatalf("pending order should be listed, got %v", orders)
	}

	pos, err := sim.FillPendingOrder(ticket.ID)
	if err != nil {
		t.Fatalf("FillPendingOrder: %v", err)
	}
	if pos.EntryPrice != 91000 || pos.Side != "long" {
		t.Fatalf("fill should inherit the order terms: %+v", pos)
	}

	orders, _ = sim.ListOpenOrders(context.Background(), "BTC/USDT:USDT")
	if len(orders) != 0 {
		t.Fatalf("filled order must leave the book")
	}
	positions, _ := sim.ListOpenPositions(context.Background(), "BTC/USDT:USDT")
	if len(positions) != 1 {
		t.Fatalf("fill should open exactly one position")
	}
}

func TestSimulatedRejectsMarketAsPending(t *testing.T) {
	sim := NewSimulated(nil, nil)

	if _, err := sim.SubmitPendingOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT",
		Type:   OrderTypeMarket,
		Side:   "buy",
		Amount: 1,
	}); err == nil {
		t.Fatalf("market type must be rejected by the pending order path")
	}
}

func TestSimulatedCancelOrder(t *testing.T) {
	sim := NewSimulated(nil, nil)

	ticket, err := sim.SubmitPendingOrder(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT",
		Type:   OrderTypeSellLimit,
		Side:   "sell",
		Price:  95000,
		Amount: 0.5,
	})
	if err != nil {
		t.Fatalf("SubmitPendingOrder: %v", err)
	}

	if err := sim.CancelOrder(context.Background(), ticket.ID, "BTC/USDT:USDT"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if err := sim.CancelOrder(context.Background(), ticket.ID, "BTC/USDT:USDT"); err == nil {
		t.Fatalf("cancelling twice must fail")
	}
}

func TestOrderTypeHelpers(t *testing.T) {
	if OrderTypeMarket.Pending() {
		t.Fatalf("market orders are not pending")
	}
	if !OrderTypeBuyStop.Pending() || !OrderTypeSellLimit.Pending() {
		t.Fatalf("stop and limit orders are pending")
	}
	if OrderTypeBuyStop.Side() != "buy" || OrderTypeSellStop.Side() != "sell" {
		t.Fatalf("side mapping mismatch")
	}
}
