package policy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMergeNoOverridesReturnsDefaults(t *testing.T) {
	d := DefaultPolicies()
	merged := Merge(d, Overrides{})
	if !merged.Cost.CommissionBps.Equal(d.Cost.CommissionBps) {
		t.Fatalf("expected defaults preserved, got %s", merged.Cost.CommissionBps)
	}
	if merged.Risk.FlattenOnTrip != d.Risk.FlattenOnTrip {
		t.Fatalf("expected default FlattenOnTrip preserved")
	}
}

func TestMergeAllNilFieldsReturnsDefaults(t *testing.T) {
	d := DefaultPolicies()
	merged := Merge(d, Overrides{Cost: &CostOverride{}, Risk: &RiskOverride{}, Sizing: &SizingOverride{}})
	if !merged.Cost.SlippageBps.Equal(d.Cost.SlippageBps) {
		t.Fatalf("expected default slippage preserved when override object present but empty")
	}
}

func TestMergeSingleFieldOverride(t *testing.T) {
	d := DefaultPolicies()
	newLeverage := decimal.NewFromInt(5)
	merged := Merge(d, Overrides{Risk: &RiskOverride{MaxLeverage: &newLeverage}})
	if !merged.Risk.MaxLeverage.Equal(newLeverage) {
		t.Fatalf("expected overridden leverage=5, got %s", merged.Risk.MaxLeverage)
	}
	if !merged.Risk.MaxDrawdown.Equal(d.Risk.MaxDrawdown) {
		t.Fatalf("expected other risk fields untouched")
	}
}

func TestMergeDoesNotMutateDefaults(t *testing.T) {
	d := DefaultPolicies()
	original := d.Risk.MaxLeverage
	newLeverage := decimal.NewFromInt(99)
	_ = Merge(d, Overrides{Risk: &RiskOverride{MaxLeverage: &newLeverage}})
	if !d.Risk.MaxLeverage.Equal(original) {
		t.Fatalf("Merge must not mutate the defaults argument")
	}
}

func TestPositionSizeRoundsDownToStepSize(t *testing.T) {
	sizing := SizingPolicy{
		TargetVol:        decimal.NewFromFloat(0.15),
		MaxGrossExposure: decimal.NewFromFloat(1.0),
		PerTradeRisk:     decimal.NewFromFloat(0.02),
		StepSize:         decimal.NewFromFloat(0.01),
	}
	equity := decimal.NewFromInt(10_000)
	price := decimal.NewFromInt(100)
	size := PositionSize(SizingFixedFractional, sizing, equity, price, decimal.Zero, decimal.Zero)
	if !size.Mod(sizing.StepSize).IsZero() {
		t.Fatalf("expected size %s to be a multiple of step size %s", size, sizing.StepSize)
	}

	unrounded := PositionSize(SizingFixedFractional, SizingPolicy{
		TargetVol:        sizing.TargetVol,
		MaxGrossExposure: sizing.MaxGrossExposure,
		PerTradeRisk:     sizing.PerTradeRisk,
	}, equity, price, decimal.Zero, decimal.Zero)
	if size.GreaterThan(unrounded) {
		t.Fatalf("rounded size %s must not exceed unrounded size %s", size, unrounded)
	}
}

func TestPositionSizeRespectsMaxGrossExposure(t *testing.T) {
	sizing := SizingPolicy{
		TargetVol:        decimal.NewFromFloat(0.15),
		MaxGrossExposure: decimal.NewFromFloat(0.10),
		PerTradeRisk:     decimal.NewFromFloat(0.5), // deliberately aggressive
	}
	equity := decimal.NewFromInt(10_000)
	price := decimal.NewFromInt(100)
	size := PositionSize(SizingFixedFractional, sizing, equity, price, decimal.Zero, decimal.Zero)
	maxUnits := equity.Mul(sizing.MaxGrossExposure).Div(price)
	if size.GreaterThan(maxUnits) {
		t.Fatalf("position size %s exceeds max gross exposure cap %s", size, maxUnits)
	}
}
