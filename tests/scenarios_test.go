// Package tests reproduces the end-to-end scenarios from the runtime's
// testable-properties enumeration as integration tests, each wiring the real
// engine to the real backtest adapters rather than mocks.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/adapters/backtest"
	"github.com/atlas-desktop/trading-runtime/internal/artifacts"
	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/engine"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/atlas-desktop/trading-runtime/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func closes(vals ...float64) []core.Bar {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, len(vals))
	for i, v := range vals {
		c := decimal.NewFromFloat(v)
		bars[i] = core.Bar{
			Ts:        start.Add(time.Duration(i) * time.Minute),
			Symbol:    "BTC-USD",
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    decimal.NewFromInt(10),
			Timeframe: "1m",
			IsClosed:  true,
		}
	}
	return bars
}

// runBacktest drives one full ma_crossover run over bars and returns the
// resulting artifact manifest's stream hashes.
func runBacktest(t *testing.T, bars []core.Bar) artifacts.Manifest {
	t.Helper()

	logger := zap.NewNop()
	clock := backtest.NewClock()
	cost := policy.CostPolicy{
		CommissionBps: decimal.NewFromInt(10),
		SlippageBps:   decimal.NewFromInt(5),
		MinFee:        decimal.Zero,
	}
	broker := backtest.NewBroker(logger, clock, cost)
	writer := artifacts.New(logger, t.TempDir())

	bundle := strategy.NewMACrossoverBundle()
	strat := bundle.Build()
	policies := policy.Merge(policy.DefaultPolicies(), bundle.Overrides)
	policies.Cost = cost

	eng := engine.NewSingleStrategyEngine(engine.SingleStrategyConfig{
		Logger:       logger,
		Broker:       broker,
		StartingCash: decimal.NewFromInt(10_000),
		Policies:     policies,
		Writer:       writer,
		Strategy:     strat,
		StrategyName: bundle.Meta.Name,
		SizingMethod: policy.SizingFixedFractional,
		Now:          clock.Now,
	})

	ctx := context.Background()
	for _, bar := range bars {
		clock.Advance(bar.Ts)
		broker.SetCurrentBar(bar)
		if err := eng.ProcessBar(ctx, bar); err != nil {
			t.Fatalf("ProcessBar: %v", err)
		}
	}
	if err := strat.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	return writer.BuildManifest()
}

// Scenario 1: deterministic backtest. Closes 100,101,102,101,100 enter long
// when price rises, exit on any non-rising close; running the identical
// inputs twice must produce identical artifact manifests.
func TestDeterministicBacktestProducesStableManifest(t *testing.T) {
	bars := closes(100, 101, 102, 101, 100)

	first := runBacktest(t, bars)
	second := runBacktest(t, bars)

	if len(first.StreamHashes) == 0 {
		t.Fatal("expected at least one stream to be recorded")
	}
	for stream, hash := range first.StreamHashes {
		other, ok := second.StreamHashes[stream]
		if !ok {
			t.Fatalf("stream %s missing from second run's manifest", stream)
		}
		if hash != other {
			t.Fatalf("manifest hash for stream %s differs across identical runs: %s != %s", stream, hash, other)
		}
	}
	if ordersHash, ok := first.StreamHashes[core.StreamOrders]; !ok || ordersHash == "" {
		t.Fatal("expected a non-empty orders stream hash")
	}
}

// Scenario 3: kill-switch trip. A sequence of fills driving equity down by
// more than the configured drawdown threshold must trip the kill switch,
// reject the next pre-trade check, and record a risk_event artifact.
func TestKillSwitchTripsAndBlocksSubsequentIntent(t *testing.T) {
	logger := zap.NewNop()
	clock := backtest.NewClock()
	cost := policy.CostPolicy{CommissionBps: decimal.Zero, SlippageBps: decimal.Zero, MinFee: decimal.Zero}
	broker := backtest.NewBroker(logger, clock, cost)
	writer := artifacts.New(logger, t.TempDir())

	policies := policy.DefaultPolicies()
	policies.Risk.KillSwitchDD = decimal.NewFromFloat(0.10)
	policies.Cost = cost

	strat := &alternatingStrategy{}
	eng := engine.NewSingleStrategyEngine(engine.SingleStrategyConfig{
		Logger:       logger,
		Broker:       broker,
		StartingCash: decimal.NewFromInt(100_000),
		Policies:     policies,
		Writer:       writer,
		Strategy:     strat,
		StrategyName: "crash_test",
		SizingMethod: policy.SizingFixedFractional,
		Now:          clock.Now,
	})

	ctx := context.Background()
	// Enter at 100, exit at 80 (realizes a loss), re-enter at 80, exit at 60:
	// each exit is a fill that drives AfterFill's post-fill drawdown check,
	// and the cumulative realized loss crosses the 10% kill-switch threshold.
	bars := closes(100, 80, 80, 60)
	for i, bar := range bars {
		clock.Advance(bar.Ts)
		broker.SetCurrentBar(bar)
		if err := eng.ProcessBar(ctx, bar); err != nil {
			t.Fatalf("ProcessBar at bar %d: %v", i, err)
		}
	}

	entries := writer.Entries(core.StreamRiskEvent)
	if len(entries) == 0 {
		t.Fatal("expected a risk_event artifact after the drawdown breach")
	}

	// The trip leaves the strategy flat, so one more bar produces an entry
	// intent; with the kill switch active it is blocked before any order is
	// recorded.
	ordersBefore := len(writer.Entries(core.StreamOrders))
	next := closes(100, 80, 80, 60, 60)[4]
	clock.Advance(next.Ts)
	broker.SetCurrentBar(next)
	if err := eng.ProcessBar(ctx, next); err != nil {
		t.Fatalf("ProcessBar after trip: %v", err)
	}
	if got := len(writer.Entries(core.StreamOrders)); got != ordersBefore {
		t.Fatalf("expected the post-trip entry intent to be blocked, orders grew from %d to %d", ordersBefore, got)
	}
}

// alternatingStrategy enters long when flat and exits when in position, on
// every bar, so every bar produces exactly one fill and the test can drive
// realized losses directly rather than waiting on unrealized mark-to-market.
type alternatingStrategy struct {
	inPos bool
}

func (s *alternatingStrategy) OnBar(bar core.Bar) (*core.Signal, error) {
	if !s.inPos {
		s.inPos = true
		return &core.Signal{
			Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionEnterLong,
			Strength: decimal.NewFromInt(1), StrategyName: "crash_test",
		}, nil
	}
	s.inPos = false
	return &core.Signal{
		Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionExitLong,
		Strength: decimal.NewFromInt(1), StrategyName: "crash_test",
	}, nil
}

func (s *alternatingStrategy) OnFill(core.Fill) error { return nil }
func (s *alternatingStrategy) Finalize() error        { return nil }
