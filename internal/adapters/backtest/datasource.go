// Package backtest provides the deterministic, file-backed BarDataSource,
// Clock, and synchronous Broker used to run a backtest against historical
// bars with no external network dependency.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"go.uber.org/zap"
)

// DataSource loads historical bars from newline-delimited JSON files under
// dataDir, one file per "{symbol}_{timeframe}.jsonl", caching the parsed
// result in memory for the lifetime of the run.
type DataSource struct {
	mu      sync.Mutex
	logger  *zap.Logger
	dataDir string
	cache   map[string][]core.Bar
}

// NewDataSource builds a DataSource rooted at dataDir.
func NewDataSource(logger *zap.Logger, dataDir string) *DataSource {
	return &DataSource{logger: logger, dataDir: dataDir, cache: make(map[string][]core.Bar)}
}

// LoadHistoricalBars returns the bars for symbol/timeframe within [start,
// end], sorted ascending by Ts. Satisfies ports.BarDataSource.
func (d *DataSource) LoadHistoricalBars(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]core.Bar, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := symbol + "_" + timeframe
	bars, ok := d.cache[key]
	if !ok {
		loaded, err := d.readFile(symbol, timeframe)
		if err != nil {
			return nil, err
		}
		sort.Slice(loaded, func(i, j int) bool { return loaded[i].Ts.Before(loaded[j].Ts) })
		d.cache[key] = loaded
		bars = loaded
	}

	out := make([]core.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Ts.Before(start) && !b.Ts.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// StreamLiveBars is not supported by the backtest adapter: there is no live
// feed to subscribe to, and the engine drives backtests from
// LoadHistoricalBars directly.
func (d *DataSource) StreamLiveBars(ctx context.Context, symbols []string, timeframe string) (<-chan core.Bar, error) {
	return nil, fmt.Errorf("backtest data source: live bar streaming is not supported")
}

func (d *DataSource) readFile(symbol, timeframe string) ([]core.Bar, error) {
	path := filepath.Join(d.dataDir, fmt.Sprintf("%s_%s.jsonl", symbol, timeframe))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest data source: %w", err)
	}
	defer f.Close()

	var bars []core.Bar
	dec := json.NewDecoder(f)
	for dec.More() {
		var b core.Bar
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("backtest data source: decode %s: %w", path, err)
		}
		bars = append(bars, b)
	}
	d.logger.Info("loaded historical bars", zap.String("symbol", symbol), zap.Int("count", len(bars)))
	return bars, nil
}

// Clock is a deterministic ports.Clock whose Now() returns the timestamp of
// whichever bar the engine is currently processing, not the wall clock —
// required for manifest-hash determinism across repeated backtest runs.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock builds a Clock seeded at the zero time; Advance must be called
// before Now() is meaningful.
func NewClock() *Clock {
	return &Clock{}
}

// Advance sets the clock to ts, called by the backtest driver once per bar
// before the engine's ProcessBar records any timestamp.
func (c *Clock) Advance(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}

// Now returns the last timestamp passed to Advance.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
