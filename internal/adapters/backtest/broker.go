package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/atlas-desktop/trading-runtime/internal/ports"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broker is a synchronous backtest broker: every market order submitted
// against the bar most recently passed to SetCurrentBar fills immediately at the bar's
// close price plus a configured slippage, and commission is charged per the
// merged CostPolicy. Limit/stop orders are accepted but left pending until a
// later bar's range would have triggered them.
type Broker struct {
	ports.DefaultClassifier

	mu     sync.Mutex
	logger *zap.Logger
	clock  *Clock
	cost   policy.CostPolicy

	currentBar core.Bar
	pending    map[string]core.OrderRequest
	fills      map[string][]core.Fill
	records    map[string]core.OrderRecord
	fillSeq    map[string]int
}

// NewBroker builds a Broker bound to clock (advanced once per bar by the
// caller) and cost (commission/slippage assumptions).
func NewBroker(logger *zap.Logger, clock *Clock, cost policy.CostPolicy) *Broker {
	return &Broker{
		logger:  logger,
		clock:   clock,
		cost:    cost,
		pending: make(map[string]core.OrderRequest),
		fills:   make(map[string][]core.Fill),
		records: make(map[string]core.OrderRecord),
		fillSeq: make(map[string]int),
	}
}

// SetCurrentBar tells the broker which bar's OHLC to use for fill and
// trigger checks; the backtest driver calls this once per bar before the
// engine's ProcessBar.
func (b *Broker) SetCurrentBar(bar core.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentBar = bar
	b.checkPendingLocked()
}

// SubmitOrder fills market orders immediately against the current bar's
// close; limit/stop orders are held pending and checked on subsequent bars.
func (b *Broker) SubmitOrder(ctx context.Context, req core.OrderRequest) (core.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := core.OrderRecord{OrderID: req.IdempotencyKey, VenueOrderID: "bt-" + req.IdempotencyKey, Request: req, Status: core.OrderStatusAccepted}
	b.records[rec.OrderID] = rec

	if req.OrderType == core.OrderTypeMarket {
		b.fillLocked(rec.OrderID, req, b.currentBar.Close)
		return rec, nil
	}

	b.pending[rec.OrderID] = req
	return rec, nil
}

// CancelOrder removes a pending order; market orders are already filled by
// the time Cancel could be called, matching a real venue's race.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (core.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, orderID)
	rec, ok := b.records[orderID]
	if !ok {
		return core.OrderRecord{}, fmt.Errorf("backtest broker: unknown order %s", orderID)
	}
	rec.Status = core.OrderStatusCancelled
	b.records[orderID] = rec
	return rec, nil
}

// GetOrder returns the current record for orderID.
func (b *Broker) GetOrder(ctx context.Context, orderID string) (core.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[orderID]
	if !ok {
		return core.OrderRecord{}, fmt.Errorf("backtest broker: unknown order %s", orderID)
	}
	return rec, nil
}

// ListOpenOrders returns every pending order for symbol ("" for all symbols).
func (b *Broker) ListOpenOrders(ctx context.Context, symbol string) ([]core.OrderRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var open []core.OrderRecord
	for id, req := range b.pending {
		if symbol == "" || req.Symbol == symbol {
			open = append(open, b.records[id])
		}
	}
	return open, nil
}

// GetFills returns every fill recorded against orderID so far.
func (b *Broker) GetFills(ctx context.Context, orderID string) ([]core.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fills := b.fills[orderID]
	b.fills[orderID] = nil // hand them off once; the engine reconciles immediately
	return fills, nil
}

// checkPendingLocked triggers any resting limit/stop order whose condition
// the current bar's high/low range satisfies. Caller holds b.mu.
func (b *Broker) checkPendingLocked() {
	for id, req := range b.pending {
		triggered, price := b.evaluateTrigger(req)
		if !triggered {
			continue
		}
		delete(b.pending, id)
		b.fillLocked(id, req, price)
	}
}

func (b *Broker) evaluateTrigger(req core.OrderRequest) (bool, decimal.Decimal) {
	switch req.OrderType {
	case core.OrderTypeLimit:
		if req.LimitPrice == nil {
			return false, decimal.Zero
		}
		if req.Side == core.SideBuy && b.currentBar.Low.LessThanOrEqual(*req.LimitPrice) {
			return true, *req.LimitPrice
		}
		if req.Side == core.SideSell && b.currentBar.High.GreaterThanOrEqual(*req.LimitPrice) {
			return true, *req.LimitPrice
		}
	case core.OrderTypeStop, core.OrderTypeStopLimit:
		if req.StopPrice == nil {
			return false, decimal.Zero
		}
		if req.Side == core.SideBuy && b.currentBar.High.GreaterThanOrEqual(*req.StopPrice) {
			return true, *req.StopPrice
		}
		if req.Side == core.SideSell && b.currentBar.Low.LessThanOrEqual(*req.StopPrice) {
			return true, *req.StopPrice
		}
	}
	return false, decimal.Zero
}

// fillLocked books one fill at basePrice adjusted by the configured
// slippage (adverse to the order's side) and commission. Caller holds b.mu.
func (b *Broker) fillLocked(orderID string, req core.OrderRequest, basePrice decimal.Decimal) {
	slippage := basePrice.Mul(b.cost.SlippageBps).Div(decimal.NewFromInt(10_000))
	fillPrice := basePrice.Add(slippage)
	if req.Side == core.SideSell {
		fillPrice = basePrice.Sub(slippage)
	}

	notional := req.Qty.Mul(fillPrice)
	commission := decimal.Max(notional.Mul(b.cost.CommissionBps).Div(decimal.NewFromInt(10_000)), b.cost.MinFee)

	seq := b.fillSeq[orderID]
	b.fillSeq[orderID] = seq + 1

	fill := core.Fill{
		FillID:      fmt.Sprintf("bt-fill-%s-%d", orderID, seq),
		OrderID:     orderID,
		Ts:          b.currentBar.Ts,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		Price:       fillPrice,
		Commission:  commission,
		SlippageBps: b.cost.SlippageBps,
	}
	b.fills[orderID] = append(b.fills[orderID], fill)

	rec := b.records[orderID]
	rec.Status = core.OrderStatusFilled
	rec.FilledQty = req.Qty
	b.records[orderID] = rec

	b.logger.Debug("backtest fill", zap.String("order_id", orderID), zap.String("price", fillPrice.String()))
}
