// Package policy builds default cost/risk/sizing policies and merges
// per-strategy overrides onto them by field, purely and deterministically.
package policy

import "github.com/shopspring/decimal"

// CostPolicy governs commission and slippage assumptions.
type CostPolicy struct {
	CommissionBps decimal.Decimal
	SlippageBps   decimal.Decimal
	MinFee        decimal.Decimal
}

// RiskPolicy governs leverage, notional, and drawdown limits, including the
// kill-switch threshold and its post-trip behavior.
type RiskPolicy struct {
	MaxLeverage         decimal.Decimal
	MaxPositionNotional decimal.Decimal
	MaxDrawdown         decimal.Decimal
	KillSwitchDD        decimal.Decimal
	// FlattenOnTrip resolves the spec's open question on post-trip behavior:
	// false (default) cancels non-terminal orders only; true also flattens
	// open positions through the broker port.
	FlattenOnTrip bool
}

// SizingPolicy governs how raw signal strength is converted into order quantity.
type SizingPolicy struct {
	TargetVol        decimal.Decimal
	MaxGrossExposure decimal.Decimal
	PerTradeRisk     decimal.Decimal
	// StepSize is the venue's minimum tradable lot increment; a zero value
	// disables rounding. PositionSize rounds its sized quantity down to it.
	StepSize decimal.Decimal
}

// Defaults bundles the three default policy objects.
type Defaults struct {
	Cost   CostPolicy
	Risk   RiskPolicy
	Sizing SizingPolicy
}

// DefaultPolicies returns a conservative baseline: 10bps commission, 5bps
// slippage, 3x max leverage, 10% max drawdown before kill-switch trip.
func DefaultPolicies() Defaults {
	return Defaults{
		Cost: CostPolicy{
			CommissionBps: decimal.NewFromInt(10),
			SlippageBps:   decimal.NewFromInt(5),
			MinFee:        decimal.Zero,
		},
		Risk: RiskPolicy{
			MaxLeverage:         decimal.NewFromInt(3),
			MaxPositionNotional: decimal.NewFromInt(1_000_000),
			MaxDrawdown:         decimal.NewFromFloat(0.25),
			KillSwitchDD:        decimal.NewFromFloat(0.10),
			FlattenOnTrip:       false,
		},
		Sizing: SizingPolicy{
			TargetVol:        decimal.NewFromFloat(0.15),
			MaxGrossExposure: decimal.NewFromFloat(1.0),
			PerTradeRisk:     decimal.NewFromFloat(0.02),
		},
	}
}

// CostOverride, RiskOverride, and SizingOverride mirror their policy
// counterparts but every field is optional: a nil field means "keep default".
type CostOverride struct {
	CommissionBps *decimal.Decimal
	SlippageBps   *decimal.Decimal
	MinFee        *decimal.Decimal
}

type RiskOverride struct {
	MaxLeverage         *decimal.Decimal
	MaxPositionNotional *decimal.Decimal
	MaxDrawdown         *decimal.Decimal
	KillSwitchDD        *decimal.Decimal
	FlattenOnTrip       *bool
}

type SizingOverride struct {
	TargetVol        *decimal.Decimal
	MaxGrossExposure *decimal.Decimal
	PerTradeRisk     *decimal.Decimal
	StepSize         *decimal.Decimal
}

// Overrides is the partial policy a strategy bundle may supply.
type Overrides struct {
	Cost   *CostOverride
	Risk   *RiskOverride
	Sizing *SizingOverride
}

// Merge applies overrides onto defaults field-by-field. It never mutates
// defaults and is deterministic: the same (defaults, overrides) pair always
// produces the same result.
func Merge(defaults Defaults, overrides Overrides) Defaults {
	out := defaults // value copy; Defaults and its fields are all value types

	if overrides.Cost != nil {
		o := overrides.Cost
		if o.CommissionBps != nil {
			out.Cost.CommissionBps = *o.CommissionBps
		}
		if o.SlippageBps != nil {
			out.Cost.SlippageBps = *o.SlippageBps
		}
		if o.MinFee != nil {
			out.Cost.MinFee = *o.MinFee
		}
	}

	if overrides.Risk != nil {
		o := overrides.Risk
		if o.MaxLeverage != nil {
			out.Risk.MaxLeverage = *o.MaxLeverage
		}
		if o.MaxPositionNotional != nil {
			out.Risk.MaxPositionNotional = *o.MaxPositionNotional
		}
		if o.MaxDrawdown != nil {
			out.Risk.MaxDrawdown = *o.MaxDrawdown
		}
		if o.KillSwitchDD != nil {
			out.Risk.KillSwitchDD = *o.KillSwitchDD
		}
		if o.FlattenOnTrip != nil {
			out.Risk.FlattenOnTrip = *o.FlattenOnTrip
		}
	}

	if overrides.Sizing != nil {
		o := overrides.Sizing
		if o.TargetVol != nil {
			out.Sizing.TargetVol = *o.TargetVol
		}
		if o.MaxGrossExposure != nil {
			out.Sizing.MaxGrossExposure = *o.MaxGrossExposure
		}
		if o.PerTradeRisk != nil {
			out.Sizing.PerTradeRisk = *o.PerTradeRisk
		}
		if o.StepSize != nil {
			out.Sizing.StepSize = *o.StepSize
		}
	}

	return out
}
