// Package risk maintains the live RiskState, runs the pre-trade check before
// any order is submitted, and trips the kill switch on breach.
package risk

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Monitor owns RiskState for a run and is the only mutator of it.
type Monitor struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	riskPolicy  policy.RiskPolicy
	state       core.RiskState
}

// New builds a Monitor seeded from the merged RiskPolicy.
func New(logger *zap.Logger, p policy.RiskPolicy) *Monitor {
	return &Monitor{
		logger:     logger,
		riskPolicy: p,
		state: core.RiskState{
			MaxLeverage:         p.MaxLeverage,
			MaxPositionNotional: p.MaxPositionNotional,
			MaxDrawdown:         p.MaxDrawdown,
			KillSwitchDD:        p.KillSwitchDD,
		},
	}
}

// State returns a snapshot of the current risk state.
func (m *Monitor) State() core.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// MarkBar updates peak equity and drawdown from the current marked equity,
// called once per bar after positions have been marked to close.
func (m *Monitor) MarkBar(ts time.Time, equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Ts = ts
	if equity.GreaterThan(m.state.PeakEquity) {
		m.state.PeakEquity = equity
	}
	if !m.state.PeakEquity.IsZero() {
		m.state.CurrentDrawdown = m.state.PeakEquity.Sub(equity).Div(m.state.PeakEquity)
	}
}

// PreTradeCheck evaluates the three-step check in §4.5 before an order is
// submitted. projectedLeverage and projectedNotional are the values that
// would result if the order were accepted.
func (m *Monitor) PreTradeCheck(symbol string, projectedLeverage, projectedNotional decimal.Decimal) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.KillSwitchActive {
		return &core.KillSwitchBlocked{Symbol: symbol}
	}
	if projectedLeverage.GreaterThan(m.riskPolicy.MaxLeverage) {
		return &core.RiskPreTradeReject{Symbol: symbol, Reason: "projected leverage exceeds max_leverage"}
	}
	if projectedNotional.GreaterThan(m.riskPolicy.MaxPositionNotional) {
		return &core.RiskPreTradeReject{Symbol: symbol, Reason: "projected position notional exceeds max_position_notional"}
	}
	return nil
}

// TripResult describes what happened when AfterFill trips the kill switch.
type TripResult struct {
	Tripped   bool
	Event     core.ArtifactEvent
	Flatten   bool
}

// AfterFill recomputes drawdown after a fill has been applied to the
// portfolio and trips the kill switch if current_drawdown >= kill_switch_dd.
// Reset requires an explicit call to Reset.
func (m *Monitor) AfterFill(ts time.Time, equity decimal.Decimal) TripResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if equity.GreaterThan(m.state.PeakEquity) {
		m.state.PeakEquity = equity
	}
	if !m.state.PeakEquity.IsZero() {
		m.state.CurrentDrawdown = m.state.PeakEquity.Sub(equity).Div(m.state.PeakEquity)
	}

	if m.state.KillSwitchActive || m.state.CurrentDrawdown.LessThan(m.riskPolicy.KillSwitchDD) {
		return TripResult{}
	}

	m.state.KillSwitchActive = true
	m.state.BreachedRules = append(m.state.BreachedRules, "kill_switch_dd")
	m.logger.Warn("kill switch tripped",
		zap.String("threshold", m.riskPolicy.KillSwitchDD.String()),
		zap.String("observed", m.state.CurrentDrawdown.String()),
	)

	return TripResult{
		Tripped: true,
		Flatten: m.riskPolicy.FlattenOnTrip,
		Event: core.ArtifactEvent{
			Stream: core.StreamRiskEvent,
			Ts:     ts,
			Payload: map[string]any{
				"kind":      "kill_switch_tripped",
				"reason":    "current_drawdown exceeded kill_switch_dd",
				"threshold": m.riskPolicy.KillSwitchDD.String(),
				"observed":  m.state.CurrentDrawdown.String(),
			},
		},
	}
}

// IsKillSwitchActive reports whether new intents are currently blocked.
func (m *Monitor) IsKillSwitchActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.KillSwitchActive
}

// Reset clears the kill switch and breach history. Requires an explicit
// external command per §4.5 — the monitor never resets itself.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.KillSwitchActive = false
	m.state.BreachedRules = nil
	m.state.PeakEquity = decimal.Zero
	m.state.CurrentDrawdown = decimal.Zero
}
