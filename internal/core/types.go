// Package core holds the immutable value types shared by every component of
// the trading runtime: bars, signals, orders, fills, portfolio and risk
// snapshots, and the artifact events derived from them.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the execution style requested for an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus is a position in the order lifecycle state machine.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "Created"
	OrderStatusSubmitted       OrderStatus = "Submitted"
	OrderStatusAccepted        OrderStatus = "Accepted"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusExpired         OrderStatus = "Expired"
)

// IsTerminal reports whether status is an absorbing lifecycle state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// SignalAction is the intent a strategy emits for a symbol on a bar.
type SignalAction string

const (
	ActionEnterLong  SignalAction = "enter_long"
	ActionExitLong   SignalAction = "exit_long"
	ActionEnterShort SignalAction = "enter_short"
	ActionExitShort  SignalAction = "exit_short"
	ActionHold       SignalAction = "hold"
)

// Bar is a single one-minute OHLCV record, indexed by close time in UTC.
type Bar struct {
	Ts        time.Time
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Timeframe string
	IsClosed  bool
	Source    string
}

// Signal is the intermediate decision a strategy emits for SingleStrategyEngine.
type Signal struct {
	SignalID     string
	Ts           time.Time
	Symbol       string
	Action       SignalAction
	Strength     decimal.Decimal
	StrategyName string
	Metadata     map[string]any
}

// TargetWeights is the output of a rebalancing strategy's target_weights hook.
type TargetWeights struct {
	Ts        time.Time
	Weights   map[string]decimal.Decimal
	Rebalance bool
	Reason    string
}

// OrderRequest is the immutable request a strategy intent is converted into.
type OrderRequest struct {
	IdempotencyKey string
	CreatedAt      time.Time
	Symbol         string
	Side           OrderSide
	OrderType      OrderType
	Qty            decimal.Decimal
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	StrategyName   string
	Metadata       map[string]any
}

// PayloadHash returns the canonical hash fields used to detect idempotency
// conflicts: two requests with the same key must carry an identical payload.
func (r OrderRequest) PayloadHash() string {
	limit := ""
	if r.LimitPrice != nil {
		limit = r.LimitPrice.String()
	}
	stop := ""
	if r.StopPrice != nil {
		stop = r.StopPrice.String()
	}
	return r.Symbol + "|" + string(r.Side) + "|" + string(r.OrderType) + "|" + r.Qty.String() + "|" + limit + "|" + stop
}

// Transition records a single lifecycle state change on an order.
type Transition struct {
	Ts    time.Time
	From  OrderStatus
	To    OrderStatus
	Cause string
}

// OrderRecord is the mutable projection the Order State Machine owns.
type OrderRecord struct {
	OrderID      string
	Request      OrderRequest
	Status       OrderStatus
	FilledQty    decimal.Decimal
	VenueOrderID string
	RejectReason string
	Transitions  []Transition
}

// Fill is a single execution report against an order.
type Fill struct {
	FillID      string
	OrderID     string
	Ts          time.Time
	Symbol      string
	Side        OrderSide
	Qty         decimal.Decimal
	Price       decimal.Decimal
	Commission  decimal.Decimal
	SlippageBps decimal.Decimal
	VenueFillID string
	Metadata    map[string]any
}

// Position is a single symbol's holding within PortfolioState.
type Position struct {
	Qty           decimal.Decimal
	AvgPrice      decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// PortfolioState is the engine-owned snapshot derived from cash + fills + marks.
type PortfolioState struct {
	Ts             time.Time
	Cash           decimal.Decimal
	Equity         decimal.Decimal
	Positions      map[string]Position
	GrossExposure  decimal.Decimal
	NetExposure    decimal.Decimal
	PendingOrders  int
}

// RiskState is the engine-owned live risk snapshot.
type RiskState struct {
	Ts                  time.Time
	MaxLeverage         decimal.Decimal
	CurrentLeverage     decimal.Decimal
	MaxPositionNotional decimal.Decimal
	MaxDrawdown         decimal.Decimal
	CurrentDrawdown     decimal.Decimal
	KillSwitchDD        decimal.Decimal
	PeakEquity          decimal.Decimal
	BreachedRules       []string
	KillSwitchActive    bool
}

// ArtifactStream names one of the six append-only artifact streams.
type ArtifactStream string

const (
	StreamOrders            ArtifactStream = "orders"
	StreamFills             ArtifactStream = "fills"
	StreamPositionsSnapshot ArtifactStream = "positions_snapshot"
	StreamPnLSnapshot       ArtifactStream = "pnl_snapshot"
	StreamRiskEvent         ArtifactStream = "risk_event"
	StreamLimitHit          ArtifactStream = "limit_hit"
)

// ArtifactEvent is the tagged union written to the hash-chained artifact streams.
type ArtifactEvent struct {
	Stream  ArtifactStream
	Ts      time.Time
	Payload any
}
