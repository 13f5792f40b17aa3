package strategy

import (
	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/atlas-desktop/trading-runtime/pkg/utils"
	"github.com/shopspring/decimal"
)

// maCrossoverStrategy enters long when close rises above the previous close
// and exits on any non-rising close. It is the literal "ma_crossover" test
// bundle the end-to-end scenarios in §8 of the spec exercise.
type maCrossoverStrategy struct {
	baseStrategy
	lastClose decimal.Decimal
	haveLast  bool
	inPos     bool
}

func (s *maCrossoverStrategy) OnBar(bar core.Bar) (*core.Signal, error) {
	s.addBar(bar)
	defer func() {
		s.lastClose = bar.Close
		s.haveLast = true
	}()

	if !s.haveLast {
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "ma_crossover"}, nil
	}

	if bar.Close.GreaterThan(s.lastClose) {
		if !s.inPos {
			s.inPos = true
			return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionEnterLong, Strength: decimal.NewFromInt(1), StrategyName: "ma_crossover"}, nil
		}
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "ma_crossover"}, nil
	}

	if s.inPos {
		s.inPos = false
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionExitLong, Strength: decimal.NewFromInt(1), StrategyName: "ma_crossover"}, nil
	}
	return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "ma_crossover"}, nil
}

// NewMACrossoverBundle is registered under "ma_crossover".
func NewMACrossoverBundle() Bundle {
	return Bundle{
		Meta: Meta{
			Name:           "ma_crossover",
			Universe:       []string{"BTC-USD"},
			Timeframe:      "1m",
			RequiredFields: []string{"close"},
		},
		Build: func() Strategy { return &maCrossoverStrategy{baseStrategy: baseStrategy{maxBars: 200}} },
	}
}

// trendConfluenceStrategy combines an EMA crossover (trend direction, adapted
// from the teacher's TrendFollowingStrategy) with a simple multi-indicator
// confirmation vote (adapted from the teacher's signal aggregator: an
// indicator only confirms the trade if a majority of its component votes
// agree) before emitting an entry.
type trendConfluenceStrategy struct {
	baseStrategy
	fastEMA   *utils.EMA
	slowEMA   *utils.EMA
	rsiWindow []decimal.Decimal
	inPos     bool
}

func newTrendConfluenceStrategy() *trendConfluenceStrategy {
	return &trendConfluenceStrategy{
		baseStrategy: baseStrategy{maxBars: 200},
		fastEMA:      utils.NewEMA(12),
		slowEMA:      utils.NewEMA(26),
	}
}

func (s *trendConfluenceStrategy) OnBar(bar core.Bar) (*core.Signal, error) {
	s.addBar(bar)
	fast := s.fastEMA.Add(bar.Close)
	slow := s.slowEMA.Add(bar.Close)

	s.rsiWindow = append(s.rsiWindow, bar.Close)
	if len(s.rsiWindow) > 14 {
		s.rsiWindow = s.rsiWindow[1:]
	}

	votes := 0
	total := 0

	total++
	if fast.GreaterThan(slow) {
		votes++
	}

	if len(s.rsiWindow) >= 2 {
		total++
		if s.rsiWindow[len(s.rsiWindow)-1].GreaterThan(s.rsiWindow[0]) {
			votes++
		}
	}

	confirmed := total > 0 && decimal.NewFromInt(int64(votes)).GreaterThan(decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(2)))

	switch {
	case confirmed && !s.inPos:
		s.inPos = true
		return &core.Signal{
			Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionEnterLong,
			Strength: decimal.NewFromInt(int64(votes)).Div(decimal.NewFromInt(int64(total))),
			StrategyName: "trend_confluence",
		}, nil
	case !confirmed && s.inPos:
		s.inPos = false
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionExitLong, Strength: decimal.NewFromInt(1), StrategyName: "trend_confluence"}, nil
	default:
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "trend_confluence"}, nil
	}
}

// NewTrendConfluenceBundle is registered under "trend_confluence". It carries
// a tighter kill-switch override than the runtime default, demonstrating a
// per-strategy RiskPolicy override merged by the Policy Composer.
func NewTrendConfluenceBundle() Bundle {
	tighterDD := decimal.NewFromFloat(0.06)
	return Bundle{
		Meta: Meta{
			Name:           "trend_confluence",
			Universe:       []string{"BTC-USD", "ETH-USD"},
			Timeframe:      "1m",
			RequiredFields: []string{"close"},
		},
		Build: func() Strategy { return newTrendConfluenceStrategy() },
		Overrides: policy.Overrides{
			Risk: &policy.RiskOverride{KillSwitchDD: &tighterDD},
		},
	}
}

// meanReversionStrategy enters long when price falls below its SMA by more
// than a threshold number of standard deviations and exits once price is back
// at or above the mean.
type meanReversionStrategy struct {
	baseStrategy
	sma       *utils.SMA
	window    []decimal.Decimal
	threshold decimal.Decimal
	inPos     bool
}

func newMeanReversionStrategy() *meanReversionStrategy {
	return &meanReversionStrategy{
		baseStrategy: baseStrategy{maxBars: 200},
		sma:          utils.NewSMA(20),
		threshold:    decimal.NewFromFloat(2.0),
	}
}

func (s *meanReversionStrategy) OnBar(bar core.Bar) (*core.Signal, error) {
	s.addBar(bar)
	mean := s.sma.Add(bar.Close)

	s.window = append(s.window, bar.Close)
	if len(s.window) > 20 {
		s.window = s.window[1:]
	}
	if len(s.window) < 5 {
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "mean_reversion"}, nil
	}

	stdDev := utils.CalculateStdDev(s.window)
	if stdDev.IsZero() {
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "mean_reversion"}, nil
	}

	zScore := bar.Close.Sub(mean).Div(stdDev)

	switch {
	case zScore.LessThan(s.threshold.Neg()) && !s.inPos:
		s.inPos = true
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionEnterLong, Strength: decimal.NewFromInt(1), StrategyName: "mean_reversion"}, nil
	case zScore.GreaterThanOrEqual(decimal.Zero) && s.inPos:
		s.inPos = false
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionExitLong, Strength: decimal.NewFromInt(1), StrategyName: "mean_reversion"}, nil
	default:
		return &core.Signal{Ts: bar.Ts, Symbol: bar.Symbol, Action: core.ActionHold, StrategyName: "mean_reversion"}, nil
	}
}

// NewMeanReversionBundle is registered under "mean_reversion".
func NewMeanReversionBundle() Bundle {
	return Bundle{
		Meta: Meta{
			Name:           "mean_reversion",
			Universe:       []string{"BTC-USD"},
			Timeframe:      "1m",
			RequiredFields: []string{"close"},
		},
		Build: func() Strategy { return newMeanReversionStrategy() },
	}
}
