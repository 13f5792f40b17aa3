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

// submitBackoff is the bounded retry schedule for transient broker errors:
// 250ms, 500ms, 1s, each with up to 20% jitter. Each delay precedes one
// retry, so an order is submitted at most four times (one try, three retries).
var submitBackoff = [...]time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

// SingleStrategyEngine drives one strategy over a bounded universe: mark,
// on_bar, size, pre-trade check, submit, reconcile fills, emit artifacts.
// It is single-threaded and cooperative — every step in ProcessBar runs to
// completion before the next bar is admitted, so strategies never observe a
// partially-applied fill.
type SingleStrategyEngine struct {
	logger    *zap.Logger
	broker    ports.Broker
	notifier  ports.Notifier
	sm        *orders.StateMachine
	risk      *risk.Monitor
	portfolio *Portfolio
	policies  policy.Defaults
	writer    *artifacts.Writer
	strategy  strategy.Strategy
	name      string
	sizing    policy.SizingMethod

	seq map[string]int
}

// SingleStrategyConfig bundles the collaborators a SingleStrategyEngine is
// built from. Broker and Notifier are ports; a nil Notifier disables
// broadcast per the port's optionality.
type SingleStrategyConfig struct {
	Logger       *zap.Logger
	Broker       ports.Broker
	Notifier     ports.Notifier
	StartingCash decimal.Decimal
	Policies     policy.Defaults
	Writer       *artifacts.Writer
	Strategy     strategy.Strategy
	StrategyName string
	SizingMethod policy.SizingMethod
	Now          func() time.Time
}

// NewSingleStrategyEngine wires the order state machine, risk monitor, and
// portfolio from cfg.
func NewSingleStrategyEngine(cfg SingleStrategyConfig) *SingleStrategyEngine {
	return &SingleStrategyEngine{
		logger:    cfg.Logger,
		broker:    cfg.Broker,
		notifier:  cfg.Notifier,
		sm:        orders.New(cfg.Logger, cfg.Now),
		risk:      risk.New(cfg.Logger, cfg.Policies.Risk),
		portfolio: NewPortfolio(cfg.StartingCash),
		policies:  cfg.Policies,
		writer:    cfg.Writer,
		strategy:  cfg.Strategy,
		name:      cfg.StrategyName,
		sizing:    cfg.SizingMethod,
		seq:       make(map[string]int),
	}
}

// ProcessBar runs one full step of the loop for a single closed bar.
func (e *SingleStrategyEngine) ProcessBar(ctx context.Context, bar core.Bar) error {
	if !bar.IsClosed {
		return fmt.Errorf("engine: bar for %s at %s is not closed", bar.Symbol, bar.Ts)
	}

	e.portfolio.MarkToMarket(bar.Symbol, bar.Close)
	snapshot := e.portfolio.Snapshot(bar.Ts)
	e.risk.MarkBar(bar.Ts, snapshot.Equity)

	signal, err := e.strategy.OnBar(bar)
	if err != nil {
		return fmt.Errorf("engine: strategy.OnBar: %w", err)
	}
	e.emitPositionsSnapshot(bar.Ts, snapshot)

	if signal == nil || signal.Action == core.ActionHold {
		return nil
	}

	req, err := e.buildOrderRequest(bar, signal, snapshot)
	if err != nil {
		return err
	}

	projectedNotional := req.Qty.Mul(bar.Close)
	projectedLeverage := decimal.Zero
	if !snapshot.Equity.IsZero() {
		projectedLeverage = snapshot.GrossExposure.Add(projectedNotional).Div(snapshot.Equity)
	}

	if err := e.risk.PreTradeCheck(bar.Symbol, projectedLeverage, projectedNotional); err != nil {
		e.logger.Info("pre-trade check rejected order", zap.String("symbol", bar.Symbol), zap.Error(err))
		return nil
	}

	rec, err := e.sm.Submit(req)
	if err != nil {
		return fmt.Errorf("engine: submit: %w", err)
	}
	e.appendArtifact(core.StreamOrders, bar.Ts, rec)

	submitted, err := e.submitWithRetry(ctx, req)
	if err != nil {
		class := e.broker.ClassifyError(err)
		if class == ports.ErrorSemantic {
			_ = e.sm.Reject(rec.OrderID, err.Error())
		}
		return fmt.Errorf("engine: broker.SubmitOrder: %w", err)
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
			// Cancellation of every non-terminal order is unconditional on a
			// trip; flattening held positions is the separately configurable half.
			e.cancelAllOpenOrders(ctx)
			if trip.Flatten {
				if err := e.flattenPositions(ctx, bar.Ts); err != nil {
					e.logger.Error("flatten on trip failed", zap.Error(err))
				}
			}
		}
	}

	return nil
}

// buildOrderRequest converts a Signal into an OrderRequest, assigning the
// canonical idempotency key "{strategy_name}:{symbol}:{side}:{bar_ts_iso}:{seq}".
// An exit closes exactly the held position; an entry sizes a new quantity via
// the merged SizingPolicy. Sizing an exit afresh instead of reading the held
// quantity would leave a residual or flip the position on every exit.
func (e *SingleStrategyEngine) buildOrderRequest(bar core.Bar, signal *core.Signal, snapshot core.PortfolioState) (core.OrderRequest, error) {
	side := core.SideBuy
	if signal.Action == core.ActionExitLong || signal.Action == core.ActionEnterShort {
		side = core.SideSell
	}

	var qty decimal.Decimal
	switch signal.Action {
	case core.ActionExitLong, core.ActionExitShort:
		qty = e.portfolio.Position(bar.Symbol).Qty.Abs()
	default:
		qty = policy.PositionSize(e.sizing, e.policies.Sizing, snapshot.Equity, bar.Close, signal.Strength, decimal.Zero)
	}
	if qty.IsZero() {
		return core.OrderRequest{}, fmt.Errorf("engine: sized quantity is zero for %s", bar.Symbol)
	}

	key := fmt.Sprintf("%s:%s:%s:%s:%d", e.name, bar.Symbol, side, bar.Ts.UTC().Format("2006-01-02T15:04:05Z"), e.nextSeq(bar))

	return core.OrderRequest{
		IdempotencyKey: key,
		CreatedAt:      bar.Ts,
		Symbol:         bar.Symbol,
		Side:           side,
		OrderType:      core.OrderTypeMarket,
		Qty:            qty,
		StrategyName:   e.name,
	}, nil
}

func (e *SingleStrategyEngine) nextSeq(bar core.Bar) int {
	return e.nextSeqFor(bar.Symbol, bar.Ts)
}

func (e *SingleStrategyEngine) nextSeqFor(symbol string, ts time.Time) int {
	key := symbol + "|" + ts.String()
	n := e.seq[key]
	e.seq[key] = n + 1
	return n
}

// Equity returns the current marked equity as of ts, for reporting.
func (e *SingleStrategyEngine) Equity(ts time.Time) decimal.Decimal {
	return e.portfolio.Snapshot(ts).Equity
}

// RealizedPnLs returns the realized PnL booked so far for every symbol that
// has seen at least one reducing or flipping fill, for trade-summary reporting.
func (e *SingleStrategyEngine) RealizedPnLs() []decimal.Decimal {
	snapshot := e.portfolio.Snapshot(time.Time{})
	symbols := make([]string, 0, len(snapshot.Positions))
	for symbol := range snapshot.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	pnls := make([]decimal.Decimal, 0, len(symbols))
	for _, symbol := range symbols {
		if pnl := snapshot.Positions[symbol].RealizedPnL; !pnl.IsZero() {
			pnls = append(pnls, pnl)
		}
	}
	return pnls
}

func (e *SingleStrategyEngine) emitPositionsSnapshot(ts time.Time, snapshot core.PortfolioState) {
	e.appendArtifact(core.StreamPositionsSnapshot, ts, snapshot)
	e.appendArtifact(core.StreamPnLSnapshot, ts, map[string]any{
		"equity": snapshot.Equity.String(),
		"cash":   snapshot.Cash.String(),
	})
}

func (e *SingleStrategyEngine) appendArtifact(stream core.ArtifactStream, ts time.Time, payload any) {
	if e.writer == nil {
		return
	}
	if err := e.writer.Append(core.ArtifactEvent{Stream: stream, Ts: ts, Payload: payload}); err != nil {
		e.logger.Error("artifact append failed", zap.Error(err))
	}
}

// submitWithRetry calls broker.SubmitOrder, retrying only errors the broker
// classifies as transient with the same req (and therefore the same
// idempotency key) on the bounded schedule in submitBackoff. A semantic
// error returns immediately with no retry.
func (e *SingleStrategyEngine) submitWithRetry(ctx context.Context, req core.OrderRequest) (core.OrderRecord, error) {
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

// cancelAllOpenOrders cancels every non-terminal order through the broker
// port. §4.5 requires this unconditionally on every kill-switch trip,
// regardless of RiskPolicy.FlattenOnTrip — flattening held positions is the
// separately configurable behavior in flattenPositions.
func (e *SingleStrategyEngine) cancelAllOpenOrders(ctx context.Context) {
	for _, rec := range e.sm.OpenOrders() {
		if err := e.sm.Cancel(rec.OrderID, "kill switch trip"); err != nil {
			e.logger.Warn("cancel during kill switch trip failed", zap.String("order_id", rec.OrderID), zap.Error(err))
		}
		if _, err := e.broker.CancelOrder(ctx, rec.OrderID); err != nil {
			e.logger.Warn("broker cancel during kill switch trip failed", zap.String("order_id", rec.OrderID), zap.Error(err))
		}
	}
}

// flattenPositions submits a closing market order for every non-flat
// position, used only when RiskPolicy.FlattenOnTrip is true. It bypasses
// risk.PreTradeCheck (the kill switch is already active and would otherwise
// block its own unwind) and does not feed its fills back into AfterFill.
func (e *SingleStrategyEngine) flattenPositions(ctx context.Context, ts time.Time) error {
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

		key := fmt.Sprintf("%s:%s:%s:%s:%d", e.name, symbol, side, ts.UTC().Format("2006-01-02T15:04:05Z"), e.nextSeqFor(symbol, ts))
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
