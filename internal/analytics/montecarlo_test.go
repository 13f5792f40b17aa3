package analytics

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestRunProducesConfidenceIntervals(t *testing.T) {
	returns := []decimal.Decimal{
		decimal.NewFromFloat(0.01),
		decimal.NewFromFloat(-0.02),
		decimal.NewFromFloat(0.03),
		decimal.NewFromFloat(0.005),
		decimal.NewFromFloat(-0.01),
	}
	cfg := DefaultConfig()
	cfg.NumSimulations = 50
	cfg.Seed = 42
	sim := NewSimulator(zap.NewNop(), cfg)

	result, err := sim.Run(context.Background(), returns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NumSimulations != 50 {
		t.Fatalf("expected 50 simulations, got %d", result.NumSimulations)
	}
	if len(result.FinalReturn.ConfidenceIntervals) != len(cfg.ConfidenceLevels) {
		t.Fatalf("expected %d confidence levels, got %d", len(cfg.ConfidenceLevels), len(result.FinalReturn.ConfidenceIntervals))
	}
}

func TestRunHandlesEmptyInput(t *testing.T) {
	sim := NewSimulator(zap.NewNop(), DefaultConfig())
	result, err := sim.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NumSimulations != 0 {
		t.Fatalf("expected zero-value result for empty input, got %+v", result)
	}
}
