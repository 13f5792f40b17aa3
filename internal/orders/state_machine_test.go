package orders

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleRequest(key string) core.OrderRequest {
	return core.OrderRequest{
		IdempotencyKey: key,
		CreatedAt:      time.Date(2026, 1, 1, 0, 2, 0, 0, time.UTC),
		Symbol:         "BTC",
		Side:           core.SideBuy,
		OrderType:      core.OrderTypeMarket,
		Qty:            decimal.NewFromInt(1),
		StrategyName:   "s",
	}
}

func TestSubmitCreatesOrderAndTransitionsToSubmitted(t *testing.T) {
	sm := New(zap.NewNop(), fixedClock(time.Now()))
	rec, err := sm.Submit(sampleRequest("s:BTC:buy:2026-01-01T00:02:00Z:0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != core.OrderStatusSubmitted {
		t.Fatalf("expected status Submitted, got %s", rec.Status)
	}
	if len(rec.Transitions) != 1 {
		t.Fatalf("expected exactly one transition, got %d", len(rec.Transitions))
	}
}

func TestIdempotentReplaySamePayloadReturnsSameRecord(t *testing.T) {
	sm := New(zap.NewNop(), fixedClock(time.Now()))
	key := "s:BTC:buy:2026-01-01T00:02:00Z:0"
	first, err := sm.Submit(sampleRequest(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := sm.Submit(sampleRequest(key))
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("expected same order id on replay, got %s and %s", first.OrderID, second.OrderID)
	}
	if len(second.Transitions) != 1 {
		t.Fatalf("expected exactly one Submitted transition total, got %d", len(second.Transitions))
	}
}

func TestIdempotentConflictDifferentPayload(t *testing.T) {
	sm := New(zap.NewNop(), fixedClock(time.Now()))
	key := "s:BTC:buy:2026-01-01T00:02:00Z:0"
	if _, err := sm.Submit(sampleRequest(key)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conflicting := sampleRequest(key)
	conflicting.Qty = decimal.NewFromInt(2)
	_, err := sm.Submit(conflicting)
	if err == nil {
		t.Fatal("expected IdempotencyConflictError")
	}
	if _, ok := err.(*core.IdempotencyConflictError); !ok {
		t.Fatalf("expected *core.IdempotencyConflictError, got %T", err)
	}
}

func TestFillReconciliationPartialThenFilled(t *testing.T) {
	sm := New(zap.NewNop(), fixedClock(time.Now()))
	rec, err := sm.Submit(sampleRequest("k1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sm.Accept(rec.OrderID, "venue-1"); err != nil {
		t.Fatalf("unexpected accept error: %v", err)
	}

	updated, err := sm.ApplyFill(core.Fill{OrderID: rec.OrderID, Qty: decimal.NewFromFloat(0.4)})
	if err != nil {
		t.Fatalf("unexpected fill error: %v", err)
	}
	if updated.Status != core.OrderStatusPartiallyFilled {
		t.Fatalf("expected PartiallyFilled, got %s", updated.Status)
	}

	updated, err = sm.ApplyFill(core.Fill{OrderID: rec.OrderID, Qty: decimal.NewFromFloat(0.6)})
	if err != nil {
		t.Fatalf("unexpected fill error: %v", err)
	}
	if updated.Status != core.OrderStatusFilled {
		t.Fatalf("expected Filled, got %s", updated.Status)
	}
	if !updated.Status.IsTerminal() {
		t.Fatal("expected Filled to be terminal")
	}
}

func TestInvalidTransitionRaisesLifecycleInvariantError(t *testing.T) {
	sm := New(zap.NewNop(), fixedClock(time.Now()))
	rec, err := sm.Submit(sampleRequest("k2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sm.Cancel(rec.OrderID, "user requested"); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	// Cancelled is terminal; any further transition must fail.
	if err := sm.Accept(rec.OrderID, "venue-1"); err == nil {
		t.Fatal("expected LifecycleInvariantError after terminal state")
	} else if _, ok := err.(*core.LifecycleInvariantError); !ok {
		t.Fatalf("expected *core.LifecycleInvariantError, got %T", err)
	}
}
