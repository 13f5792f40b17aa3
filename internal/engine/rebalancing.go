package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/artifacts"
	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/orders"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/atlas-desktop/trading-runtime/internal/ports"
	"github.com/atlas-desktop/trading-runtime/internal/risk"
	"github.com/atlas-desktop/trading-runtime/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RebalancingEngine drives a RebalancingStrategy: target weights reduced to
// delta orders, turnover-capped, submitted in deterministic order.
type RebalancingEngine struct {
	logger    *zap.Logger
	broker    ports.Broker
	notifier  ports.Notifier
	sm        *orders.StateMachine
	risk      *risk.Monitor
	portfolio *Portfolio
	policies  policy.Defaults
	writer    *artifacts.Writer
	strategy  strategy.RebalancingStrategy
	name      string
	seq       map[string]int
}

// NewRebalancingEngine wires the same collaborators as SingleStrategyEngine
// around a RebalancingStrategy instead of a bar-intent Strategy.
func NewRebalancingEngine(cfg SingleStrategyConfig, rs strategy.RebalancingStrategy) *RebalancingEngine {
	return &RebalancingEngine{
		logger:    cfg.Logger,
		broker:    cfg.Broker,
		notifier:  cfg.Notifier,
		sm:        orders.New(cfg.Logger, cfg.Now),
		risk:      risk.New(cfg.Logger, cfg.Policies.Risk),
		portfolio: NewPortfolio(cfg.StartingCash),
		policies:  cfg.Policies,
		writer:    cfg.Writer,
		strategy:  rs,
		name:      cfg.StrategyName,
		seq:       make(map[string]int),
	}
}

// delta is one symbol's signed notional change required to reach its target weight.
type delta struct {
	symbol   string
	notional decimal.Decimal // signed: positive buys, negative sells
}

// ProcessBar marks the book, asks the strategy for target weights, and — if
// it requests a rebalance — converts the weight delta into capped,
// deterministically ordered orders.
func (e *RebalancingEngine) ProcessBar(ctx context.Context, bar core.Bar) error {
	if !bar.IsClosed {
		return fmt.Errorf("engine: bar for %s at %s is not closed", bar.Symbol, bar.Ts)
	}
	e.portfolio.MarkToMarket(bar.Symbol, bar.Close)
	snapshot := e.portfolio.Snapshot(bar.Ts)
	e.risk.MarkBar(bar.Ts, snapshot.Equity)

	tw, err := e.strategy.TargetWeights(bar.Ts, snapshot)
	if err != nil {
		return fmt.Errorf("engine: strategy.TargetWeights: %w", err)
	}
	if tw == nil || !tw.Rebalance {
		return nil
	}

	deltas := e.computeDeltas(tw, snapshot)
	deltas = capTurnover(deltas, snapshot.Equity, e.policies.Sizing.MaxGrossExposure)

	for _, dl := range deltas {
		if dl.notional.IsZero() {
			continue
		}
		side := core.SideBuy
		if dl.notional.LessThan(decimal.Zero) {
			side = core.SideSell
		}
		qty := dl.notional.Abs().Div(bar.Close)
		key := fmt.Sprintf("%s:%s:%s:%s:%d", e.name, dl.symbol, side, bar.Ts.UTC().Format("2006-01-02T15:04:05Z"), e.nextSeq(bar.Ts, dl.symbol))

		req := core.OrderRequest{
			IdempotencyKey: key,
			CreatedAt:      bar.Ts,
			Symbol:         dl.symbol,
			Side:           side,
			OrderType:      core.OrderTypeMarket,
			Qty:            qty,
			StrategyName:   e.name,
		}

		projectedNotional := qty.Mul(bar.Close)
		projectedLeverage := decimal.Zero
		if !snapshot.Equity.IsZero() {
			projectedLeverage = snapshot.GrossExposure.Add(projectedNotional).Div(snapshot.Equity)
		}
		if err := e.risk.PreTradeCheck(dl.symbol, projectedLeverage, projectedNotional); err != nil {
			e.logger.Info("pre-trade check rejected rebalance leg", zap.String("symbol", dl.symbol), zap.Error(err))
			continue
		}

		rec, err := e.sm.Submit(req)
		if err != nil {
			return fmt.Errorf("engine: submit: %w", err)
		}
		e.appendArtifact(core.StreamOrders, bar.Ts, rec)

		submitted, err := e.submitWithRetry(ctx, req)
		if err != nil {
			if e.broker.ClassifyError(err) == ports.ErrorSemantic {
				_ = e.sm.Reject(rec.OrderID, err.Error())
			}
			continue
		}
		if err := e.sm.Accept(rec.OrderID, submitted.VenueOrderID); err != nil {
			return fmt.Errorf("engine: accept: %w", err)
		}

		fills, err := e.broker.GetFills(ctx, rec.OrderID)
		if err != nil {
			return fmt.Errorf("engine: broker.GetFills: %w", err)
		}
		for _, fill := range fills {
			if _, err := e.sm.ApplyFill(fill); err != nil {
				return fmt.Errorf("engine: apply fill: %w", err)
			}
			e.portfolio.ApplyFill(fill)
			e.appendArtifact(core.StreamFills, fill.Ts, fill)
			if err := e.strategy.OnFill(fill); err != nil {
				return fmt.Errorf("engine: strategy.OnFill: %w", err)
			}

			equity := e.portfolio.Snapshot(fill.Ts).Equity
			trip := e.risk.AfterFill(fill.Ts, equity)
			if trip.Tripped {
				e.appendArtifact(core.StreamRiskEvent, fill.Ts, trip.Event.Payload)
				if e.notifier != nil {
					_ = e.notifier.Emit(ctx, trip.Event)
				}
				e.cancelAllOpenOrders(ctx)
				if trip.Flatten {
					if err := e.flattenPositions(ctx, bar.Ts); err != nil {
						e.logger.Error("flatten on trip failed", zap.Error(err))
					}
				}
			}
		}
	}

	return nil
}

// cancelAllOpenOrders mirrors SingleStrategyEngine.cancelAllOpenOrders:
// cancellation of every non-terminal order is unconditional on a kill switch
// trip, independent of RiskPolicy.FlattenOnTrip.
func (e *RebalancingEngine) cancelAllOpenOrders(ctx context.Context) {
	for _, rec := range e.sm.OpenOrders() {
		if err := e.sm.Cancel(rec.OrderID, "kill switch trip"); err != nil {
			e.logger.Warn("cancel during kill switch trip failed", zap.String("order_id", rec.OrderID), zap.Error(err))
		}
		if _, err := e.broker.CancelOrder(ctx, rec.OrderID); err != nil {
			e.logger.Warn("broker cancel during kill switch trip failed", zap.String("order_id", rec.OrderID), zap.Error(err))
		}
	}
}

// flattenPositions mirrors SingleStrategyEngine.flattenPositions: it submits
// a closing market order for every non-flat position, used only when
// RiskPolicy.FlattenOnTrip is true, bypassing risk.PreTradeCheck (the kill
// switch is already active and would otherwise block its own unwind).
func (e *RebalancingEngine) flattenPositions(ctx context.Context, ts time.Time) error {
	snapshot := e.portfolio.Snapshot(ts)
	symbols := make([]string, 0, len(snapshot.Positions))
	for symbol := range snapshot.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := snapshot.Positions[symbol]
		if pos.Qty.IsZero() {
			continue
		}
		side := core.SideSell
		if pos.Qty.LessThan(decimal.Zero) {
			side = core.SideBuy
		}

		key := fmt.Sprintf("%s:%s:%s:%s:%d", e.name, symbol, side, ts.UTC().Format("2006-01-02T15:04:05Z"), e.nextSeq(ts, symbol))
		req := core.OrderRequest{
			IdempotencyKey: key,
			CreatedAt:      ts,
			Symbol:         symbol,
			Side:           side,
			OrderType:      core.OrderTypeMarket,
			Qty:            pos.Qty.Abs(),
			StrategyName:   e.name,
		}

		rec, err := e.sm.Submit(req)
		if err != nil {
			e.logger.Error("flatten submit failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		e.appendArtifact(core.StreamOrders, ts, rec)

		submitted, err := e.submitWithRetry(ctx, req)
		if err != nil {
			if e.broker.ClassifyError(err) == ports.ErrorSemantic {
				_ = e.sm.Reject(rec.OrderID, err.Error())
			}
			e.logger.Error("flatten broker submit failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if err := e.sm.Accept(rec.OrderID, submitted.VenueOrderID); err != nil {
			e.logger.Error("flatten accept failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		fills, err := e.broker.GetFills(ctx, rec.OrderID)
		if err != nil {
			e.logger.Error("flatten get fills failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		for _, fill := range fills {
			if _, err := e.sm.ApplyFill(fill); err != nil {
				e.logger.Error("flatten apply fill failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			e.portfolio.ApplyFill(fill)
			e.appendArtifact(core.StreamFills, fill.Ts, fill)
			if err := e.strategy.OnFill(fill); err != nil {
				e.logger.Error("flatten strategy.OnFill failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
	return nil
}

// computeDeltas compares target weights against the marked portfolio's
// current weight vector and returns the signed notional change per symbol,
// sorted ascending by symbol then sells-before-buys, per the spec's
// deterministic-ordering requirement.
func (e *RebalancingEngine) computeDeltas(tw *core.TargetWeights, snapshot core.PortfolioState) []delta {
	symbols := make(map[string]bool)
	for s := range tw.Weights {
		symbols[s] = true
	}
	for s := range snapshot.Positions {
		symbols[s] = true
	}

	deltas := make([]delta, 0, len(symbols))
	for symbol := range symbols {
		target := tw.Weights[symbol]
		pos, held := snapshot.Positions[symbol]
		currentNotional := decimal.Zero
		if held {
			currentNotional = pos.Qty.Mul(pos.MarkPrice)
		}
		targetNotional := target.Mul(snapshot.Equity)
		deltas = append(deltas, delta{symbol: symbol, notional: targetNotional.Sub(currentNotional)})
	}

	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].symbol != deltas[j].symbol {
			return deltas[i].symbol < deltas[j].symbol
		}
		// Sells (negative notional) precede buys at the same symbol to free
		// buying power before it is needed.
		return deltas[i].notional.LessThan(deltas[j].notional)
	})
	return deltas
}

// capTurnover scales every delta proportionally so that total gross traded
// notional never exceeds equity*maxGrossExposure.
func capTurnover(deltas []delta, equity, maxGrossExposure decimal.Decimal) []delta {
	gross := decimal.Zero
	for _, dl := range deltas {
		gross = gross.Add(dl.notional.Abs())
	}
	cap := equity.Mul(maxGrossExposure)
	if gross.IsZero() || gross.LessThanOrEqual(cap) {
		return deltas
	}
	scale := cap.Div(gross)
	scaled := make([]delta, len(deltas))
	for i, dl := range deltas {
		scaled[i] = delta{symbol: dl.symbol, notional: dl.notional.Mul(scale)}
	}
	return scaled
}

// submitWithRetry applies the same bounded transient-error retry schedule as
// SingleStrategyEngine.submitWithRetry, resubmitting req unchanged (and so
// under the same idempotency key) on transient broker errors only.
func (e *RebalancingEngine) submitWithRetry(ctx context.Context, req core.OrderRequest) (core.OrderRecord, error) {
	var rec core.OrderRecord
	var err error

	for attempt := 0; ; attempt++ {
		rec, err = e.broker.SubmitOrder(ctx, req)
		if err == nil {
			return rec, nil
		}
		if e.broker.ClassifyError(err) != ports.ErrorTransient || attempt >= len(submitBackoff) {
			return rec, err
		}

		delay := submitBackoff[attempt]
		jitter := time.Duration(rand.Int63n(int64(delay) / 5))
		e.logger.Warn("retrying transient broker error",
			zap.String("idempotency_key", req.IdempotencyKey), zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-time.After(delay + jitter):
		}
	}
}

func (e *RebalancingEngine) nextSeq(ts time.Time, symbol string) int {
	key := symbol + "|" + ts.String()
	n := e.seq[key]
	e.seq[key] = n + 1
	return n
}

func (e *RebalancingEngine) appendArtifact(stream core.ArtifactStream, ts time.Time, payload any) {
	if e.writer == nil {
		return
	}
	if err := e.writer.Append(core.ArtifactEvent{Stream: stream, Ts: ts, Payload: payload}); err != nil {
		e.logger.Error("artifact append failed", zap.Error(err))
	}
}
