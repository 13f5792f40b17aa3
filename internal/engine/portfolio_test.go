package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-runtime/internal/core"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestApplyFillOpensPositionAndDebitsCash(t *testing.T) {
	p := NewPortfolio(d(10_000))
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideBuy, Qty: d(1), Price: d(100), Commission: d(1)})

	pos := p.Position("BTC")
	if !pos.Qty.Equal(d(1)) {
		t.Fatalf("expected qty=1, got %s", pos.Qty)
	}
	if !pos.AvgPrice.Equal(d(100)) {
		t.Fatalf("expected avg_price=100, got %s", pos.AvgPrice)
	}
	if !p.Cash().Equal(d(9_899)) {
		t.Fatalf("expected cash=9899, got %s", p.Cash())
	}
}

func TestApplyFillReducesAndBooksRealizedPnL(t *testing.T) {
	p := NewPortfolio(d(10_000))
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideBuy, Qty: d(2), Price: d(100)})
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideSell, Qty: d(1), Price: d(110)})

	pos := p.Position("BTC")
	if !pos.Qty.Equal(d(1)) {
		t.Fatalf("expected remaining qty=1, got %s", pos.Qty)
	}
	if !pos.RealizedPnL.Equal(d(10)) {
		t.Fatalf("expected realized_pnl=10, got %s", pos.RealizedPnL)
	}
}

func TestMarkToMarketComputesUnrealizedPnL(t *testing.T) {
	p := NewPortfolio(d(10_000))
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideBuy, Qty: d(1), Price: d(100)})
	p.MarkToMarket("BTC", d(120))

	pos := p.Position("BTC")
	if !pos.UnrealizedPnL.Equal(d(20)) {
		t.Fatalf("expected unrealized_pnl=20, got %s", pos.UnrealizedPnL)
	}
}

func TestSnapshotDerivesEquityAndExposure(t *testing.T) {
	p := NewPortfolio(d(10_000))
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideBuy, Qty: d(1), Price: d(100)})
	p.MarkToMarket("BTC", d(150))

	snap := p.Snapshot(time.Now())
	if !snap.Equity.Equal(d(10_050)) {
		t.Fatalf("expected equity=10050 (9900 cash + 150 mark value), got %s", snap.Equity)
	}
	if !snap.GrossExposure.Equal(d(150)) {
		t.Fatalf("expected gross_exposure=150, got %s", snap.GrossExposure)
	}
}

func TestApplyFillFlipsThroughFlat(t *testing.T) {
	p := NewPortfolio(d(10_000))
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideBuy, Qty: d(1), Price: d(100)})
	p.ApplyFill(core.Fill{Symbol: "BTC", Side: core.SideSell, Qty: d(2), Price: d(110)})

	pos := p.Position("BTC")
	if !pos.Qty.Equal(d(-1)) {
		t.Fatalf("expected flipped short qty=-1, got %s", pos.Qty)
	}
	if !pos.AvgPrice.Equal(d(110)) {
		t.Fatalf("expected new short leg avg_price=110, got %s", pos.AvgPrice)
	}
	if !pos.RealizedPnL.Equal(d(10)) {
		t.Fatalf("expected realized_pnl=10 from the closed long leg, got %s", pos.RealizedPnL)
	}
}
