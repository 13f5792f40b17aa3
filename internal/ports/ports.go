// Package ports declares the abstract contracts the core consumes: bar data
// sources, brokers, clocks, state stores, and notifiers. Concrete adapters
// live under internal/adapters and are external collaborators — the core
// never imports a concrete adapter package.
package ports

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
)

// BarDataSource supplies historical and live bar streams.
type BarDataSource interface {
	// LoadHistoricalBars returns a finite, restartable, ordered sequence.
	LoadHistoricalBars(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]core.Bar, error)
	// StreamLiveBars returns an infinite, non-restartable channel; the
	// channel is closed when ctx is cancelled.
	StreamLiveBars(ctx context.Context, symbols []string, timeframe string) (<-chan core.Bar, error)
}

// ErrorClass categorizes a Broker error for the engine's retry policy.
type ErrorClass string

const (
	// ErrorTransient is retried by the engine with the same idempotency key,
	// up to three retries after the first attempt, bounded backoff.
	ErrorTransient ErrorClass = "transient"
	// ErrorSemantic is surfaced without retry; the order transitions to Rejected.
	ErrorSemantic ErrorClass = "semantic"
)

// Broker submits and tracks orders against a venue, real or simulated. It
// must honor the idempotency key on SubmitOrder.
type Broker interface {
	SubmitOrder(ctx context.Context, req core.OrderRequest) (core.OrderRecord, error)
	CancelOrder(ctx context.Context, orderID string) (core.OrderRecord, error)
	GetOrder(ctx context.Context, orderID string) (core.OrderRecord, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]core.OrderRecord, error)
	GetFills(ctx context.Context, orderID string) ([]core.Fill, error)
	// ClassifyError maps a port-boundary error to a retry class. Adapters may
	// embed DefaultClassifier and override only the cases they know about.
	ClassifyError(err error) ErrorClass
}

// DefaultClassifier is a heuristic ErrorClass mapping adapters can embed.
// Any error not recognized as transient is treated as semantic, matching the
// spec's "surfaced without retry" default for unmapped adapter errors.
type DefaultClassifier struct{}

// ClassifyError implements Broker's default heuristic: context deadline and
// cancellation are treated as transient, everything else as semantic. Real
// adapters should override this with venue-specific mappings (insufficient
// funds, invalid symbol, and rate limits are always semantic; network
// timeouts and 5xx are always transient).
func (DefaultClassifier) ClassifyError(err error) ErrorClass {
	if err == context.DeadlineExceeded || err == context.Canceled {
		return ErrorTransient
	}
	return ErrorSemantic
}

// Clock supplies the current instant: the bar ts in backtest, the system
// clock in paper/live.
type Clock interface {
	Now() time.Time
}

// StateStore persists portfolio state, risk state, and the idempotency map
// for restart safety. Optional: a nil StateStore means no persistence.
type StateStore interface {
	SavePortfolioState(ctx context.Context, runID string, state core.PortfolioState) error
	LoadPortfolioState(ctx context.Context, runID string) (core.PortfolioState, bool, error)
	SaveRiskState(ctx context.Context, runID string, state core.RiskState) error
	LoadRiskState(ctx context.Context, runID string) (core.RiskState, bool, error)
	// The idempotency map is keyed by idempotency key; each value is the
	// order id recorded under that key.
	SaveIdempotencyMap(ctx context.Context, runID string, keys map[string]string) error
	LoadIdempotencyMap(ctx context.Context, runID string) (map[string]string, bool, error)
}

// Notifier broadcasts artifact events for external observers (limit-hit,
// kill-switch). Optional: a nil Notifier means no broadcast.
type Notifier interface {
	Emit(ctx context.Context, event core.ArtifactEvent) error
}
