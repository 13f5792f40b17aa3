package analytics

import (
	"github.com/atlas-desktop/trading-runtime/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeSummary is the realized-performance report computed once per
// completed backtest, alongside (and independent of) the Monte Carlo
// resampled distributions: where Simulator.Run answers "how stable is this
// outcome," TradeSummary answers "what actually happened."
type TradeSummary struct {
	TradeCount     int
	WinRate        decimal.Decimal
	ProfitFactor   decimal.Decimal
	TotalReturnPct decimal.Decimal
	PeriodReturns  []decimal.Decimal
}

// SummarizeTrades derives a TradeSummary from per-trade realized PnL and the
// equity curve sampled once per bar. startEquity and endEquity give the
// total-return percentage; pnls feed win rate and profit factor.
func SummarizeTrades(pnls []decimal.Decimal, equityCurve []decimal.Decimal, startEquity, endEquity decimal.Decimal) TradeSummary {
	return TradeSummary{
		TradeCount:     len(pnls),
		WinRate:        utils.CalculateWinRate(pnls),
		ProfitFactor:   utils.CalculateProfitFactor(pnls),
		TotalReturnPct: utils.RoundToDecimalPlaces(utils.CalculatePercentageChange(startEquity, endEquity), 2),
		PeriodReturns:  utils.CalculateReturns(equityCurve),
	}
}

// Log emits a human-readable one-line summary, formatting equity figures in
// the given currency.
func (s TradeSummary) Log(logger *zap.Logger, startEquity, endEquity decimal.Decimal, currency string) {
	logger.Info("trade summary",
		zap.Int("trades", s.TradeCount),
		zap.String("win_rate", s.WinRate.StringFixed(4)),
		zap.String("profit_factor", s.ProfitFactor.StringFixed(2)),
		zap.String("total_return_pct", s.TotalReturnPct.String()),
		zap.String("start_equity", utils.FormatMoney(startEquity, currency)),
		zap.String("end_equity", utils.FormatMoney(endEquity, currency)),
	)
}
