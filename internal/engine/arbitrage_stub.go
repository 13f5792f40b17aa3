package engine

import "github.com/atlas-desktop/trading-runtime/internal/core"

// ArbitrageLeg is one venue/symbol leg of a multi-leg arbitrage bundle.
type ArbitrageLeg struct {
	Symbol string
	Venue  string
	Side   core.OrderSide
}

// AlignmentPolicy names how legs are required to align before execution;
// declared for the interface's shape only — no policy is ever evaluated at
// runtime by this core.
type AlignmentPolicy string

// LegOrderPolicy names the ordering constraint across legs; same status as
// AlignmentPolicy.
type LegOrderPolicy string

// ArbitrageBundle is the declarative shape a multi-leg strategy would
// export. This core declares the interface and rejects any bundle at load
// time — no ArbitrageEngine exists, and none is planned here.
type ArbitrageBundle struct {
	Legs            []ArbitrageLeg
	AlignmentPolicy AlignmentPolicy
	LegOrderPolicy  LegOrderPolicy
}

// ErrArbitrageUnsupported is returned by ValidateArbitrageBundle for every
// non-empty bundle; multi-leg execution is out of scope for this core.
type ErrArbitrageUnsupported struct{}

func (ErrArbitrageUnsupported) Error() string {
	return "arbitrage bundles are not executable in this core; no ArbitrageEngine is provided"
}

// ValidateArbitrageBundle rejects any bundle with one or more legs at load
// time, before a strategy plugin reaches either engine.
func ValidateArbitrageBundle(b ArbitrageBundle) error {
	if len(b.Legs) > 0 {
		return ErrArbitrageUnsupported{}
	}
	return nil
}
