package policy

import (
	"github.com/atlas-desktop/trading-runtime/pkg/utils"
	"github.com/shopspring/decimal"
)

// SizingMethod selects how a signal's strength is converted into quantity.
type SizingMethod string

const (
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingKelly           SizingMethod = "kelly"
	SizingVolatility      SizingMethod = "volatility"
)

// PositionSize computes an order quantity from equity, a reference price, and
// the chosen sizing policy. It never returns a size exceeding
// SizingPolicy.MaxGrossExposure worth of equity at the reference price.
func PositionSize(method SizingMethod, sizing SizingPolicy, equity, price, confidence, atr decimal.Decimal) decimal.Decimal {
	if price.IsZero() || equity.IsZero() {
		return decimal.Zero
	}

	maxUnits := equity.Mul(sizing.MaxGrossExposure).Div(price)

	var raw decimal.Decimal
	switch method {
	case SizingKelly:
		raw = kellySize(equity, price, confidence)
	case SizingVolatility:
		raw = volatilitySize(equity, price, sizing, atr)
	default:
		raw = fixedFractionalSize(equity, price, sizing)
	}

	clamped := utils.ClampDecimal(raw, decimal.Zero, maxUnits)
	return utils.RoundToStepSize(clamped, sizing.StepSize)
}

// fixedFractionalSize risks PerTradeRisk of equity against an assumed 5% stop.
func fixedFractionalSize(equity, price decimal.Decimal, sizing SizingPolicy) decimal.Decimal {
	riskAmount := equity.Mul(sizing.PerTradeRisk)
	stopPct := decimal.NewFromFloat(0.05)
	riskPerUnit := price.Mul(stopPct)
	if riskPerUnit.IsZero() {
		return decimal.Zero
	}
	return riskAmount.Div(riskPerUnit)
}

// kellySize applies a half-Kelly allocation using signal confidence as the
// win-probability estimate and an assumed 1.5:1 reward/risk ratio, clamped to
// [0, 0.25] of equity for safety.
func kellySize(equity, price, confidence decimal.Decimal) decimal.Decimal {
	winProb := confidence
	if winProb.IsZero() {
		winProb = decimal.NewFromFloat(0.5)
	}
	odds := decimal.NewFromFloat(1.5)
	lossProb := decimal.NewFromInt(1).Sub(winProb)
	kelly := odds.Mul(winProb).Sub(lossProb).Div(odds)
	kelly = kelly.Div(decimal.NewFromInt(2)) // half Kelly

	if kelly.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	cap := decimal.NewFromFloat(0.25)
	if kelly.GreaterThan(cap) {
		kelly = cap
	}
	if price.IsZero() {
		return decimal.Zero
	}
	return equity.Mul(kelly).Div(price)
}

// volatilitySize sizes so that a 2*ATR adverse move consumes PerTradeRisk of
// equity. Falls back to fixed-fractional when atr is zero.
func volatilitySize(equity, price decimal.Decimal, sizing SizingPolicy, atr decimal.Decimal) decimal.Decimal {
	if atr.IsZero() {
		return fixedFractionalSize(equity, price, sizing)
	}
	riskAmount := equity.Mul(sizing.PerTradeRisk)
	return riskAmount.Div(atr.Mul(decimal.NewFromInt(2)))
}
