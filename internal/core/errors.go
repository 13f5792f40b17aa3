package core

import (
	"fmt"
	"time"
)

// BarSchemaError reports a bar row with a missing column or wrong type.
type BarSchemaError struct {
	Symbol string
	Field  string
	Reason string
}

func (e *BarSchemaError) Error() string {
	return fmt.Sprintf("bar schema error: symbol=%s field=%s: %s", e.Symbol, e.Field, e.Reason)
}

// BarTimezoneError reports a bar timestamp that is not timezone-aware UTC.
type BarTimezoneError struct {
	Symbol string
	Ts     time.Time
}

func (e *BarTimezoneError) Error() string {
	return fmt.Sprintf("bar timezone error: symbol=%s ts=%s is not UTC", e.Symbol, e.Ts)
}

// BarOrderingError reports a bar that arrived out of order beyond the reorder window.
type BarOrderingError struct {
	Symbol   string
	Ts       time.Time
	LastTs   time.Time
	WindowS  int
}

func (e *BarOrderingError) Error() string {
	return fmt.Sprintf("bar ordering error: symbol=%s ts=%s <= last committed ts=%s (reorder_window_seconds=%d)",
		e.Symbol, e.Ts, e.LastTs, e.WindowS)
}

// StrategyLoadError reports a failure to resolve or import a strategy plugin.
type StrategyLoadError struct {
	Name   string
	Reason string
}

func (e *StrategyLoadError) Error() string {
	return fmt.Sprintf("strategy load error: %s: %s", e.Name, e.Reason)
}

// StrategySandboxError reports a denylisted or non-allowlisted import found
// during static sandboxing of a strategy's source.
type StrategySandboxError struct {
	Name       string
	ImportPath string
	Line       int
}

func (e *StrategySandboxError) Error() string {
	return fmt.Sprintf("strategy sandbox error: %s imports %q at line %d", e.Name, e.ImportPath, e.Line)
}

// StrategyValidationError reports a bundle that failed schema validation.
type StrategyValidationError struct {
	Name   string
	Field  string
	Reason string
}

func (e *StrategyValidationError) Error() string {
	return fmt.Sprintf("strategy validation error: %s field=%s: %s", e.Name, e.Field, e.Reason)
}

// LifecycleInvariantError reports an order transition not present in the
// allowed table.
type LifecycleInvariantError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *LifecycleInvariantError) Error() string {
	return fmt.Sprintf("lifecycle invariant error: order %s cannot transition %s -> %s", e.OrderID, e.From, e.To)
}

// IdempotencyConflictError reports two requests sharing a key with different payloads.
type IdempotencyConflictError struct {
	Key string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency conflict: key %q resubmitted with a different payload", e.Key)
}

// PolicyMergeError reports an override field incompatible with its policy field's type.
type PolicyMergeError struct {
	Field  string
	Reason string
}

func (e *PolicyMergeError) Error() string {
	return fmt.Sprintf("policy merge error: field=%s: %s", e.Field, e.Reason)
}

// RiskPreTradeReject reports an intent rejected by the pre-trade risk check.
type RiskPreTradeReject struct {
	Symbol string
	Reason string
}

func (e *RiskPreTradeReject) Error() string {
	return fmt.Sprintf("risk pre-trade reject: symbol=%s: %s", e.Symbol, e.Reason)
}

// KillSwitchBlocked reports an intent rejected because the kill switch is active.
type KillSwitchBlocked struct {
	Symbol string
}

func (e *KillSwitchBlocked) Error() string {
	return fmt.Sprintf("kill switch blocked: symbol=%s", e.Symbol)
}

// LiveSafetyGateError reports a live adapter construction refused because the
// dual environment assertions were not satisfied.
type LiveSafetyGateError struct {
	Missing []string
}

func (e *LiveSafetyGateError) Error() string {
	return fmt.Sprintf("live safety gate error: missing assertions %v", e.Missing)
}

// PortTimeoutError reports a port call that exceeded its deadline.
type PortTimeoutError struct {
	Port string
}

func (e *PortTimeoutError) Error() string {
	return fmt.Sprintf("port timeout: %s did not respond within its deadline", e.Port)
}
