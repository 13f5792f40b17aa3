// Package engine runs the cooperative, single-threaded event loop that
// drives strategies from bars to signals to orders to fills, and owns the
// PortfolioState derived from those fills and marks.
package engine

import (
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/shopspring/decimal"
)

// Portfolio owns cash, positions, and the derived exposure/equity figures.
// It is mutated only by ApplyFill and MarkToMarket; nothing else writes to
// its fields.
type Portfolio struct {
	cash      decimal.Decimal
	positions map[string]core.Position
}

// NewPortfolio seeds a Portfolio with starting cash and no open positions.
func NewPortfolio(startingCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:      startingCash,
		positions: make(map[string]core.Position),
	}
}

// ApplyFill updates cash and the position for fill.Symbol. Buys reduce cash
// by qty*price plus commission; sells increase it. Average price is
// recomputed on same-direction adds; realized PnL is booked on reductions
// and flips using average-cost accounting. The position is then marked at
// the fill price, so it counts toward equity before the next MarkToMarket.
func (p *Portfolio) ApplyFill(fill core.Fill) {
	pos := p.positions[fill.Symbol]
	signedQty := fill.Qty
	if fill.Side == core.SideSell {
		signedQty = fill.Qty.Neg()
	}

	notional := fill.Qty.Mul(fill.Price)
	if fill.Side == core.SideBuy {
		p.cash = p.cash.Sub(notional).Sub(fill.Commission)
	} else {
		p.cash = p.cash.Add(notional).Sub(fill.Commission)
	}

	newQty := pos.Qty.Add(signedQty)

	switch {
	case pos.Qty.IsZero() || sameSign(pos.Qty, signedQty):
		// Opening or adding to a position: recompute weighted average price.
		totalCost := pos.AvgPrice.Mul(pos.Qty.Abs()).Add(fill.Price.Mul(fill.Qty))
		totalQty := pos.Qty.Abs().Add(fill.Qty)
		if !totalQty.IsZero() {
			pos.AvgPrice = totalCost.Div(totalQty)
		}
	default:
		// Reducing or flipping: book realized PnL on the closed portion.
		closedQty := decimal.Min(fill.Qty, pos.Qty.Abs())
		var pnlPerUnit decimal.Decimal
		if pos.Qty.GreaterThan(decimal.Zero) {
			pnlPerUnit = fill.Price.Sub(pos.AvgPrice)
		} else {
			pnlPerUnit = pos.AvgPrice.Sub(fill.Price)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnlPerUnit.Mul(closedQty))

		if newQty.IsZero() {
			pos.AvgPrice = decimal.Zero
		} else if !sameSign(pos.Qty, newQty) {
			// Flipped through flat: the remainder opens at the fill price.
			pos.AvgPrice = fill.Price
		}
	}

	pos.Qty = newQty
	p.positions[fill.Symbol] = pos
	p.MarkToMarket(fill.Symbol, fill.Price)
}

func sameSign(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return a.Sign() == b.Sign()
}

// MarkToMarket updates MarkPrice and UnrealizedPnL for symbol given the
// latest close, leaving Qty/AvgPrice/RealizedPnL untouched.
func (p *Portfolio) MarkToMarket(symbol string, price decimal.Decimal) {
	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = price
	if pos.Qty.GreaterThan(decimal.Zero) {
		pos.UnrealizedPnL = price.Sub(pos.AvgPrice).Mul(pos.Qty)
	} else if pos.Qty.LessThan(decimal.Zero) {
		pos.UnrealizedPnL = pos.AvgPrice.Sub(price).Mul(pos.Qty.Abs())
	} else {
		pos.UnrealizedPnL = decimal.Zero
	}
	p.positions[symbol] = pos
}

// Snapshot derives a PortfolioState from the current cash and positions.
// Equity is cash plus each position's qty * mark_price: cash was already
// debited (or credited) by the fill's full notional in ApplyFill, so summing
// unrealized PnL on top of it would double-count the cost basis.
func (p *Portfolio) Snapshot(ts time.Time) core.PortfolioState {
	equity := p.cash
	gross := decimal.Zero
	net := decimal.Zero
	positions := make(map[string]core.Position, len(p.positions))

	for symbol, pos := range p.positions {
		notional := pos.Qty.Abs().Mul(pos.MarkPrice)
		equity = equity.Add(pos.Qty.Mul(pos.MarkPrice))
		gross = gross.Add(notional)
		net = net.Add(pos.Qty.Mul(pos.MarkPrice))
		positions[symbol] = pos
	}

	return core.PortfolioState{
		Ts:            ts,
		Cash:          p.cash,
		Equity:        equity,
		Positions:     positions,
		GrossExposure: gross,
		NetExposure:   net,
	}
}

// Position returns the current position for symbol, zero-valued if flat.
func (p *Portfolio) Position(symbol string) core.Position {
	return p.positions[symbol]
}

// Cash returns the current free cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	return p.cash
}
