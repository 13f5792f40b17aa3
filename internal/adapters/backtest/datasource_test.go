package backtest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func writeBarsFile(t *testing.T, dir, symbol, timeframe string, bars []core.Bar) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, symbol+"_"+timeframe+".jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, b := range bars {
		if err := enc.Encode(b); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestLoadHistoricalBarsFiltersRangeAndSorts(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []core.Bar{
		{Ts: base.Add(2 * time.Minute), Symbol: "BTC", Close: decimal.NewFromInt(3), IsClosed: true},
		{Ts: base, Symbol: "BTC", Close: decimal.NewFromInt(1), IsClosed: true},
		{Ts: base.Add(time.Minute), Symbol: "BTC", Close: decimal.NewFromInt(2), IsClosed: true},
	}
	writeBarsFile(t, dir, "BTC", "1m", bars)

	ds := NewDataSource(zap.NewNop(), dir)
	out, err := ds.LoadHistoricalBars(context.Background(), "BTC", base, base.Add(time.Minute), "1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 bars within range, got %d", len(out))
	}
	if !out[0].Ts.Equal(base) || !out[1].Ts.Equal(base.Add(time.Minute)) {
		t.Fatal("expected bars sorted ascending by ts")
	}
}

func TestClockAdvanceAndNow(t *testing.T) {
	c := NewClock()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Advance(ts)
	if !c.Now().Equal(ts) {
		t.Fatalf("expected Now()=%s, got %s", ts, c.Now())
	}
}
