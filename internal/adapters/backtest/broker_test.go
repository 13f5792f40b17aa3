package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestSubmitMarketOrderFillsImmediately(t *testing.T) {
	clock := NewClock()
	b := NewBroker(zap.NewNop(), clock, policy.DefaultPolicies().Cost)
	bar := core.Bar{Ts: time.Now(), Symbol: "BTC", Close: decimal.NewFromInt(100)}
	b.SetCurrentBar(bar)

	req := core.OrderRequest{IdempotencyKey: "k1", Symbol: "BTC", Side: core.SideBuy, OrderType: core.OrderTypeMarket, Qty: decimal.NewFromInt(1)}
	rec, err := b.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != core.OrderStatusAccepted {
		t.Fatalf("expected Accepted from SubmitOrder, got %s", rec.Status)
	}

	fills, err := b.GetFills(context.Background(), rec.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.GreaterThan(decimal.NewFromInt(100)) {
		t.Fatalf("expected buy fill price above close due to slippage, got %s", fills[0].Price)
	}
}

func TestLimitOrderRestsUntilTriggered(t *testing.T) {
	clock := NewClock()
	b := NewBroker(zap.NewNop(), clock, policy.DefaultPolicies().Cost)
	b.SetCurrentBar(core.Bar{Ts: time.Now(), Symbol: "BTC", Close: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99)})

	limit := decimal.NewFromInt(95)
	req := core.OrderRequest{IdempotencyKey: "k2", Symbol: "BTC", Side: core.SideBuy, OrderType: core.OrderTypeLimit, Qty: decimal.NewFromInt(1), LimitPrice: &limit}
	rec, _ := b.SubmitOrder(context.Background(), req)

	fills, _ := b.GetFills(context.Background(), rec.OrderID)
	if len(fills) != 0 {
		t.Fatal("expected no fill before the bar range reaches the limit price")
	}

	b.SetCurrentBar(core.Bar{Ts: time.Now(), Symbol: "BTC", Close: decimal.NewFromInt(94), High: decimal.NewFromInt(96), Low: decimal.NewFromInt(93)})
	fills, _ = b.GetFills(context.Background(), rec.OrderID)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill once the low crosses the limit price, got %d", len(fills))
	}
}
