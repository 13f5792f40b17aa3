package analytics

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestSummarizeTradesComputesWinRateAndProfitFactor(t *testing.T) {
	pnls := []decimal.Decimal{
		decimal.NewFromInt(100),
		decimal.NewFromInt(-50),
		decimal.NewFromInt(200),
	}
	equityCurve := []decimal.Decimal{
		decimal.NewFromInt(10_000),
		decimal.NewFromInt(10_100),
		decimal.NewFromInt(10_050),
		decimal.NewFromInt(10_250),
	}
	summary := SummarizeTrades(pnls, equityCurve, decimal.NewFromInt(10_000), decimal.NewFromInt(10_250))

	if summary.TradeCount != 3 {
		t.Fatalf("expected 3 trades, got %d", summary.TradeCount)
	}
	wantWinRate := decimal.NewFromInt(2).Div(decimal.NewFromInt(3))
	if !summary.WinRate.Equal(wantWinRate) {
		t.Fatalf("expected win rate %s, got %s", wantWinRate, summary.WinRate)
	}
	wantProfitFactor := decimal.NewFromInt(300).Div(decimal.NewFromInt(50))
	if !summary.ProfitFactor.Equal(wantProfitFactor) {
		t.Fatalf("expected profit factor %s, got %s", wantProfitFactor, summary.ProfitFactor)
	}
	if len(summary.PeriodReturns) != len(equityCurve)-1 {
		t.Fatalf("expected %d period returns, got %d", len(equityCurve)-1, len(summary.PeriodReturns))
	}
	if !summary.TotalReturnPct.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("expected total return pct 2.5, got %s", summary.TotalReturnPct)
	}
}

func TestSummarizeTradesHandlesNoTrades(t *testing.T) {
	summary := SummarizeTrades(nil, nil, decimal.NewFromInt(10_000), decimal.NewFromInt(10_000))
	if summary.TradeCount != 0 {
		t.Fatalf("expected 0 trades, got %d", summary.TradeCount)
	}
	if !summary.WinRate.IsZero() {
		t.Fatalf("expected zero win rate, got %s", summary.WinRate)
	}
	summary.Log(zap.NewNop(), decimal.NewFromInt(10_000), decimal.NewFromInt(10_000), "USD")
}
