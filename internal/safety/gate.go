// Package safety implements the dual environment-variable gate required
// before any live broker adapter is constructed.
package safety

import (
	"os"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"go.uber.org/zap"
)

// Mode selects what Check does when the gate fails: hard-fail with
// LiveSafetyGateError, or downgrade to paper with a recorded warning. Both
// are spec-sanctioned; which one runs is a deployment-time choice made by
// the composition root, not by this package.
type Mode string

const (
	ModeHardFail  Mode = "hard_fail"
	ModeDowngrade Mode = "downgrade_to_paper"
)

// Gate checks the two required environment assertions for live trading:
// LIVE_API=1 and CONFIRM_LIVE=YES. A Gate carries no state beyond its logger
// and mode, so Check can be called from more than one place. In this
// repository the composition root is the only caller; no live broker adapter
// is included.
type Gate struct {
	logger *zap.Logger
	mode   Mode
}

// New builds a Gate. mode governs Check's behavior on failure.
func New(logger *zap.Logger, mode Mode) *Gate {
	return &Gate{logger: logger, mode: mode}
}

// Satisfied reports whether both environment assertions are currently set.
func Satisfied() bool {
	return os.Getenv("LIVE_API") == "1" && os.Getenv("CONFIRM_LIVE") == "YES"
}

// Check evaluates the gate for callSite (a short label like
// "composition_root" or "live_broker_constructor" used only in logging).
// In ModeHardFail it returns LiveSafetyGateError on failure. In
// ModeDowngrade it logs a warning and returns nil, leaving the decision to
// fall back to a paper adapter to the caller.
func (g *Gate) Check(callSite string) error {
	if Satisfied() {
		return nil
	}

	if g.mode == ModeDowngrade {
		g.logger.Warn("live safety gate not satisfied, downgrading to paper trading",
			zap.String("call_site", callSite),
			zap.Bool("live_api_set", os.Getenv("LIVE_API") == "1"),
			zap.Bool("confirm_live_set", os.Getenv("CONFIRM_LIVE") == "YES"),
		)
		return nil
	}

	var missing []string
	if os.Getenv("LIVE_API") != "1" {
		missing = append(missing, "LIVE_API=1")
	}
	if os.Getenv("CONFIRM_LIVE") != "YES" {
		missing = append(missing, "CONFIRM_LIVE=YES")
	}
	g.logger.Error("live safety gate failed", zap.String("call_site", callSite), zap.Strings("missing", missing))
	return &core.LiveSafetyGateError{Missing: missing}
}
