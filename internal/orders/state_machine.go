// Package orders implements the order lifecycle state machine: idempotency
// key resolution, transition-table enforcement, and fill reconciliation.
package orders

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"go.uber.org/zap"
)

// allowedTransitions is the lifecycle table from §4.4. Anything not listed
// here raises LifecycleInvariantError.
var allowedTransitions = map[core.OrderStatus]map[core.OrderStatus]bool{
	core.OrderStatusCreated: {
		core.OrderStatusSubmitted: true,
		core.OrderStatusRejected:  true,
	},
	core.OrderStatusSubmitted: {
		core.OrderStatusAccepted:        true,
		core.OrderStatusRejected:        true,
		core.OrderStatusPartiallyFilled: true,
		core.OrderStatusFilled:          true,
		core.OrderStatusCancelled:       true,
		core.OrderStatusExpired:         true,
	},
	core.OrderStatusAccepted: {
		core.OrderStatusPartiallyFilled: true,
		core.OrderStatusFilled:          true,
		core.OrderStatusCancelled:       true,
		core.OrderStatusExpired:         true,
		core.OrderStatusRejected:        true,
	},
	core.OrderStatusPartiallyFilled: {
		core.OrderStatusPartiallyFilled: true,
		core.OrderStatusFilled:          true,
		core.OrderStatusCancelled:       true,
		core.OrderStatusExpired:         true,
	},
}

// StateMachine owns every OrderRecord for a run: it resolves the idempotency
// keys the engines compute, enforces the transition table, and reconciles
// fill events.
type StateMachine struct {
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
	byKey  map[string]string // idempotency_key -> order_id
	byID   map[string]*core.OrderRecord
}

// New builds an empty StateMachine. now supplies the timestamp recorded on
// each transition — pass the engine's Clock port (bar ts in backtest, system
// clock in paper/live) so that artifact hashes stay deterministic.
func New(logger *zap.Logger, now func() time.Time) *StateMachine {
	return &StateMachine{
		logger: logger,
		now:    now,
		byKey:  make(map[string]string),
		byID:   make(map[string]*core.OrderRecord),
	}
}

// Submit resolves idempotency for req and, on an unknown key, creates a new
// OrderRecord and transitions it Created -> Submitted. On a known key with an
// identical payload it returns the existing record unchanged (the
// replay-safe path). On a known key with a different payload it returns
// IdempotencyConflictError.
func (sm *StateMachine) Submit(req core.OrderRequest) (*core.OrderRecord, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if existingID, ok := sm.byKey[req.IdempotencyKey]; ok {
		existing := sm.byID[existingID]
		if existing.Request.PayloadHash() != req.PayloadHash() {
			return nil, &core.IdempotencyConflictError{Key: req.IdempotencyKey}
		}
		sm.logger.Debug("idempotent replay, returning existing order", zap.String("order_id", existing.OrderID))
		return existing, nil
	}

	// OrderID is the idempotency key itself rather than a freshly minted id:
	// broker adapters (see internal/adapters/backtest.Broker) key their own
	// order/fill bookkeeping by the same idempotency key, and a run's order
	// ids must be a deterministic function of its inputs for manifest hashing
	// to be reproducible across identical runs.
	rec := &core.OrderRecord{
		OrderID: req.IdempotencyKey,
		Request: req,
		Status:  core.OrderStatusCreated,
	}
	if err := sm.transition(rec, core.OrderStatusSubmitted, "submitted to broker port"); err != nil {
		return nil, err
	}

	sm.byKey[req.IdempotencyKey] = rec.OrderID
	sm.byID[rec.OrderID] = rec
	return rec, nil
}

// Accept records a broker acknowledgement.
func (sm *StateMachine) Accept(orderID, venueOrderID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rec, ok := sm.byID[orderID]
	if !ok {
		return &core.LifecycleInvariantError{OrderID: orderID}
	}
	rec.VenueOrderID = venueOrderID
	return sm.transition(rec, core.OrderStatusAccepted, "broker accepted")
}

// Reject terminates an order with a recorded reason.
func (sm *StateMachine) Reject(orderID, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rec, ok := sm.byID[orderID]
	if !ok {
		return &core.LifecycleInvariantError{OrderID: orderID}
	}
	rec.RejectReason = reason
	return sm.transition(rec, core.OrderStatusRejected, reason)
}

// Cancel terminates a non-terminal order as cancelled.
func (sm *StateMachine) Cancel(orderID, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rec, ok := sm.byID[orderID]
	if !ok {
		return &core.LifecycleInvariantError{OrderID: orderID}
	}
	return sm.transition(rec, core.OrderStatusCancelled, reason)
}

// Expire terminates a non-terminal order as expired.
func (sm *StateMachine) Expire(orderID, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rec, ok := sm.byID[orderID]
	if !ok {
		return &core.LifecycleInvariantError{OrderID: orderID}
	}
	return sm.transition(rec, core.OrderStatusExpired, reason)
}

// ApplyFill increments cumulative filled quantity and transitions the order
// to PartiallyFilled or Filled accordingly.
func (sm *StateMachine) ApplyFill(fill core.Fill) (*core.OrderRecord, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rec, ok := sm.byID[fill.OrderID]
	if !ok {
		return nil, &core.LifecycleInvariantError{OrderID: fill.OrderID}
	}

	rec.FilledQty = rec.FilledQty.Add(fill.Qty)
	if rec.FilledQty.GreaterThanOrEqual(rec.Request.Qty) {
		if err := sm.transition(rec, core.OrderStatusFilled, "cumulative filled_qty reached requested qty"); err != nil {
			return nil, err
		}
	} else {
		if err := sm.transition(rec, core.OrderStatusPartiallyFilled, "partial fill"); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Get returns the order record by id.
func (sm *StateMachine) Get(orderID string) (*core.OrderRecord, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rec, ok := sm.byID[orderID]
	return rec, ok
}

// OpenOrders returns every order not yet in a terminal state.
func (sm *StateMachine) OpenOrders() []*core.OrderRecord {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var open []*core.OrderRecord
	for _, rec := range sm.byID {
		if !rec.Status.IsTerminal() {
			open = append(open, rec)
		}
	}
	return open
}

// transition validates and applies a single state change; caller holds sm.mu.
func (sm *StateMachine) transition(rec *core.OrderRecord, to core.OrderStatus, cause string) error {
	if rec.Status.IsTerminal() {
		return &core.LifecycleInvariantError{OrderID: rec.OrderID, From: rec.Status, To: to}
	}
	allowed := allowedTransitions[rec.Status]
	if !allowed[to] {
		return &core.LifecycleInvariantError{OrderID: rec.OrderID, From: rec.Status, To: to}
	}
	from := rec.Status
	rec.Status = to
	rec.Transitions = append(rec.Transitions, core.Transition{
		Ts: sm.now(), From: from, To: to, Cause: cause,
	})
	return nil
}
