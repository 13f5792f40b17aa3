package analytics

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-runtime/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config governs a Monte Carlo resampling run over one completed backtest's
// trade return stream.
type Config struct {
	NumSimulations   int
	Seed             int64 // 0 means time-based
	ConfidenceLevels []float64
	Workers          int
}

// DefaultConfig mirrors the teacher's conservative default: 1000 resamples
// at the five standard confidence levels.
func DefaultConfig() Config {
	return Config{
		NumSimulations:   1000,
		ConfidenceLevels: []float64{0.05, 0.25, 0.50, 0.75, 0.95},
	}
}

// Distribution summarizes one resampled statistic across every simulation.
type Distribution struct {
	Mean              decimal.Decimal
	StdDev            decimal.Decimal
	ConfidenceIntervals map[string]decimal.Decimal
}

// Result is the resampled-distribution report for a single completed run.
type Result struct {
	NumSimulations int
	FinalReturn    Distribution
	MaxDrawdown    Distribution
	SharpeRatio    Distribution
}

// Simulator resamples a fixed trade-return sequence with replacement to
// build confidence intervals around the strategy's realized performance.
// It consumes one backtest's output; it never runs the strategy again and
// never varies its parameters, so this is reporting, not optimization.
type Simulator struct {
	logger *zap.Logger
	cfg    Config
	rng    *rand.Rand
	mu     sync.Mutex
}

// NewSimulator builds a Simulator. A zero Seed in cfg falls back to a
// time-based seed, matching the teacher's simulator default.
func NewSimulator(logger *zap.Logger, cfg Config) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{logger: logger, cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Run resamples tradeReturns cfg.NumSimulations times, computing final
// cumulative return, max drawdown, and Sharpe ratio for each resample, and
// returns their distributions.
func (s *Simulator) Run(ctx context.Context, tradeReturns []decimal.Decimal) (Result, error) {
	if len(tradeReturns) == 0 {
		return Result{}, nil
	}

	finalReturns := make([]decimal.Decimal, s.cfg.NumSimulations)
	maxDrawdowns := make([]decimal.Decimal, s.cfg.NumSimulations)
	sharpes := make([]decimal.Decimal, s.cfg.NumSimulations)

	pool := NewPool(s.logger, s.cfg.Workers, s.cfg.NumSimulations)
	tasks := make([]Task, s.cfg.NumSimulations)
	for i := 0; i < s.cfg.NumSimulations; i++ {
		i := i
		tasks[i] = func() error {
			sample := s.resample(tradeReturns)
			equity := cumulativeEquity(sample)
			finalReturns[i] = equity[len(equity)-1]
			maxDrawdowns[i] = utils.CalculateMaxDrawdown(equity)
			sharpes[i] = utils.CalculateSharpeRatio(sample, decimal.Zero, 252)
			return nil
		}
	}

	if err := pool.Run(ctx, tasks); err != nil {
		return Result{}, err
	}

	return Result{
		NumSimulations: s.cfg.NumSimulations,
		FinalReturn:    s.summarize(finalReturns),
		MaxDrawdown:    s.summarize(maxDrawdowns),
		SharpeRatio:    s.summarize(sharpes),
	}, nil
}

// resample draws len(returns) samples from returns with replacement. The
// shared *rand.Rand is not goroutine-safe, so access is serialized by mu —
// the lock is held only for the duration of index generation, not the rest
// of the simulation.
func (s *Simulator) resample(returns []decimal.Decimal) []decimal.Decimal {
	n := len(returns)
	out := make([]decimal.Decimal, n)

	s.mu.Lock()
	for i := 0; i < n; i++ {
		out[i] = returns[s.rng.Intn(n)]
	}
	s.mu.Unlock()

	return out
}

func cumulativeEquity(returns []decimal.Decimal) []decimal.Decimal {
	equity := make([]decimal.Decimal, len(returns))
	running := decimal.NewFromInt(1)
	for i, r := range returns {
		running = running.Mul(decimal.NewFromInt(1).Add(r))
		equity[i] = running
	}
	return equity
}

func (s *Simulator) summarize(values []decimal.Decimal) Distribution {
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	cis := make(map[string]decimal.Decimal, len(s.cfg.ConfidenceLevels))
	for _, level := range s.cfg.ConfidenceLevels {
		idx := int(level * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		cis[formatLevel(level)] = sorted[idx]
	}

	return Distribution{
		Mean:                utils.CalculateMean(values),
		StdDev:              utils.CalculateStdDev(values),
		ConfidenceIntervals: cis,
	}
}

func formatLevel(level float64) string {
	return decimal.NewFromFloat(level).StringFixed(2)
}
