package engine

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/artifacts"
	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// stubRebalancingStrategy requests a fixed target-weight vector on its first
// bar only, then holds (no further rebalance) on subsequent bars.
type stubRebalancingStrategy struct {
	weights map[string]decimal.Decimal
	sent    bool
}

func (s *stubRebalancingStrategy) OnBar(core.Bar) (*core.Signal, error) { return nil, nil }
func (s *stubRebalancingStrategy) OnFill(core.Fill) error               { return nil }
func (s *stubRebalancingStrategy) Finalize() error                      { return nil }

func (s *stubRebalancingStrategy) TargetWeights(ts time.Time, _ core.PortfolioState) (*core.TargetWeights, error) {
	if s.sent {
		return &core.TargetWeights{Ts: ts, Rebalance: false}, nil
	}
	s.sent = true
	return &core.TargetWeights{Ts: ts, Weights: s.weights, Rebalance: true, Reason: "initial allocation"}, nil
}

func TestRebalancingEngineConvertsTargetWeightsIntoOrders(t *testing.T) {
	broker := newStubBroker()
	ts := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	strat := &stubRebalancingStrategy{weights: map[string]decimal.Decimal{
		"BTC": decimal.NewFromFloat(0.6),
		"ETH": decimal.NewFromFloat(0.4),
	}}

	eng := NewRebalancingEngine(SingleStrategyConfig{
		Logger:       zap.NewNop(),
		Broker:       broker,
		StartingCash: decimal.NewFromInt(10_000),
		Policies:     policy.DefaultPolicies(),
		Writer:       artifacts.New(zap.NewNop(), t.TempDir()),
		StrategyName: "stub_rebalance",
		Now:          func() time.Time { return ts },
	}, strat)

	bar := core.Bar{Ts: ts, Symbol: "BTC", Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(10), Timeframe: "1m", IsClosed: true}
	if err := eng.ProcessBar(context.Background(), bar); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pos := eng.portfolio.Position("BTC"); pos.Qty.IsZero() {
		t.Fatal("expected a non-zero BTC position after the initial rebalance")
	}
	if pos := eng.portfolio.Position("ETH"); pos.Qty.IsZero() {
		t.Fatal("expected a non-zero ETH position after the initial rebalance")
	}
}

func TestRebalancingEngineSkipsWhenStrategyDoesNotRequestRebalance(t *testing.T) {
	broker := newStubBroker()
	ts := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	strat := &stubRebalancingStrategy{weights: nil, sent: true}

	eng := NewRebalancingEngine(SingleStrategyConfig{
		Logger:       zap.NewNop(),
		Broker:       broker,
		StartingCash: decimal.NewFromInt(10_000),
		Policies:     policy.DefaultPolicies(),
		StrategyName: "stub_rebalance",
		Now:          func() time.Time { return ts },
	}, strat)

	bar := core.Bar{Ts: ts, Symbol: "BTC", Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(10), Timeframe: "1m", IsClosed: true}
	if err := eng.ProcessBar(context.Background(), bar); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos := eng.portfolio.Position("BTC"); !pos.Qty.IsZero() {
		t.Fatal("expected no position change when Rebalance is false")
	}
}

// liquidatingRebalanceStrategy allocates fully into one symbol on its first
// bar, then requests full liquidation on the next bar that calls it.
type liquidatingRebalanceStrategy struct {
	symbol string
	called int
}

func (s *liquidatingRebalanceStrategy) OnBar(core.Bar) (*core.Signal, error) { return nil, nil }
func (s *liquidatingRebalanceStrategy) OnFill(core.Fill) error               { return nil }
func (s *liquidatingRebalanceStrategy) Finalize() error                      { return nil }

func (s *liquidatingRebalanceStrategy) TargetWeights(ts time.Time, _ core.PortfolioState) (*core.TargetWeights, error) {
	s.called++
	if s.called == 1 {
		return &core.TargetWeights{Ts: ts, Weights: map[string]decimal.Decimal{s.symbol: decimal.NewFromInt(1)}, Rebalance: true, Reason: "initial allocation"}, nil
	}
	return &core.TargetWeights{Ts: ts, Weights: map[string]decimal.Decimal{s.symbol: decimal.Zero}, Rebalance: true, Reason: "liquidate"}, nil
}

// TestRebalancingEngineTripsKillSwitchOnRealizedLoss exercises the fix for
// the missing post-fill risk check: RebalancingEngine.ProcessBar must call
// risk.AfterFill after every fill, the same as SingleStrategyEngine.
func TestRebalancingEngineTripsKillSwitchOnRealizedLoss(t *testing.T) {
	broker := newPriceBroker()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	policies := policy.DefaultPolicies()
	policies.Risk.KillSwitchDD = decimal.NewFromFloat(0.10)
	policies.Cost = policy.CostPolicy{CommissionBps: decimal.Zero, SlippageBps: decimal.Zero, MinFee: decimal.Zero}

	strat := &liquidatingRebalanceStrategy{symbol: "BTC"}
	writer := artifacts.New(zap.NewNop(), t.TempDir())
	eng := NewRebalancingEngine(SingleStrategyConfig{
		Logger:       zap.NewNop(),
		Broker:       broker,
		StartingCash: decimal.NewFromInt(100_000),
		Policies:     policies,
		Writer:       writer,
		StrategyName: "liquidation_test",
		Now:          func() time.Time { return start },
	}, strat)

	ctx := context.Background()
	bar := func(minute int, price float64) core.Bar {
		c := decimal.NewFromFloat(price)
		return core.Bar{
			Ts: start.Add(time.Duration(minute) * time.Minute), Symbol: "BTC",
			Open: c, High: c, Low: c, Close: c,
			Volume: decimal.NewFromInt(10), Timeframe: "1m", IsClosed: true,
		}
	}

	// Allocate fully into BTC at 100, then liquidate after it has crashed to
	// 40: the realized loss on the closing fill crosses the 10% threshold.
	steps := []core.Bar{bar(0, 100), bar(1, 40)}
	for i, b := range steps {
		broker.setPrice(b.Symbol, b.Close)
		if err := eng.ProcessBar(ctx, b); err != nil {
			t.Fatalf("ProcessBar at step %d: %v", i, err)
		}
	}

	if entries := writer.Entries(core.StreamRiskEvent); len(entries) == 0 {
		t.Fatal("expected a risk_event artifact after the realized-loss drawdown breach")
	}
}

func TestCapTurnoverScalesDeltasProportionally(t *testing.T) {
	deltas := []delta{
		{symbol: "BTC", notional: d(800)},
		{symbol: "ETH", notional: d(-200)},
	}
	scaled := capTurnover(deltas, d(1_000), d(0.5))

	gross := decimal.Zero
	for _, dl := range scaled {
		gross = gross.Add(dl.notional.Abs())
	}
	if !gross.Equal(d(500)) {
		t.Fatalf("expected capped gross=500 (1000*0.5), got %s", gross)
	}
}
