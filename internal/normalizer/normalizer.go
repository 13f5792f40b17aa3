// Package normalizer validates, sorts, and deduplicates bar streams from any
// data source before they are allowed to drive trading decisions.
package normalizer

import (
	"sort"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"go.uber.org/zap"
)

// GapMove is ambient metadata attached to a detected gap; it never manufactures a bar.
type GapMove struct {
	Symbol  string
	PrevTs  time.Time
	NextTs  time.Time
	GapSecs int
}

// DedupWinner selects which of two duplicate bars survives.
type DedupWinner string

const (
	WinnerLast  DedupWinner = "last"
	WinnerFirst DedupWinner = "first"
)

// RejectOnGap controls whether a gap beyond 60s between adjacent bars aborts
// the stream or is merely recorded as metadata.
type RejectOnGap string

const (
	GapNever  RejectOnGap = "never"
	GapStrict RejectOnGap = "strict"
)

// Config configures the normalizer's ordering, dedup, and gap policy.
type Config struct {
	ReorderWindowSeconds int
	RejectOnGap          RejectOnGap
	DedupWinner          DedupWinner
}

// DefaultConfig returns the conservative backtest default: no reordering
// tolerance, gaps recorded but not rejected, later duplicate wins.
func DefaultConfig() Config {
	return Config{
		ReorderWindowSeconds: 0,
		RejectOnGap:          GapNever,
		DedupWinner:          WinnerLast,
	}
}

// Report summarizes what the normalizer did to a symbol's raw bar stream.
type Report struct {
	Symbol         string
	TotalIn        int
	TotalOut       int
	DuplicateCount int
	Gaps           []GapMove
}

// Normalizer enforces the §3 bar invariants over a raw, possibly unordered,
// possibly duplicate-laden sequence of bars for a single symbol.
type Normalizer struct {
	logger *zap.Logger
	cfg    Config
}

// New builds a Normalizer with the given configuration.
func New(logger *zap.Logger, cfg Config) *Normalizer {
	return &Normalizer{logger: logger, cfg: cfg}
}

// Normalize validates, sorts, and dedups a batch of raw bars for one symbol,
// returning only is_closed=true bars in strictly increasing ts order.
func (n *Normalizer) Normalize(symbol string, raw []core.Bar) ([]core.Bar, *Report, error) {
	report := &Report{Symbol: symbol, TotalIn: len(raw)}

	for i, b := range raw {
		if err := validateSchema(b); err != nil {
			return nil, report, err
		}
		if isNaiveTimestamp(b.Ts) {
			return nil, report, &core.BarTimezoneError{Symbol: symbol, Ts: raw[i].Ts}
		}
	}

	sorted := make([]core.Bar, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ts.Before(sorted[j].Ts)
	})

	deduped := n.dedup(sorted, report)

	out := make([]core.Bar, 0, len(deduped))
	var lastTs time.Time
	haveLast := false
	for _, b := range deduped {
		if haveLast {
			if !b.Ts.After(lastTs) {
				windowOK := lastTs.Sub(b.Ts) <= time.Duration(n.cfg.ReorderWindowSeconds)*time.Second
				if !windowOK {
					return nil, report, &core.BarOrderingError{
						Symbol:  symbol,
						Ts:      b.Ts,
						LastTs:  lastTs,
						WindowS: n.cfg.ReorderWindowSeconds,
					}
				}
				if n.cfg.RejectOnGap == GapStrict {
					return nil, report, &core.BarOrderingError{
						Symbol:  symbol,
						Ts:      b.Ts,
						LastTs:  lastTs,
						WindowS: n.cfg.ReorderWindowSeconds,
					}
				}
				continue
			}
			gap := b.Ts.Sub(lastTs)
			if gap != 60*time.Second {
				report.Gaps = append(report.Gaps, GapMove{
					Symbol:  symbol,
					PrevTs:  lastTs,
					NextTs:  b.Ts,
					GapSecs: int(gap.Seconds()),
				})
				if n.cfg.RejectOnGap == GapStrict && gap > 60*time.Second {
					return nil, report, &core.BarOrderingError{Symbol: symbol, Ts: b.Ts, LastTs: lastTs, WindowS: n.cfg.ReorderWindowSeconds}
				}
			}
		}
		lastTs = b.Ts
		haveLast = true
		if b.IsClosed {
			out = append(out, b)
		}
	}

	report.TotalOut = len(out)
	n.logger.Debug("normalized bar batch",
		zap.String("symbol", symbol),
		zap.Int("in", report.TotalIn),
		zap.Int("out", report.TotalOut),
		zap.Int("duplicates", report.DuplicateCount),
		zap.Int("gaps", len(report.Gaps)),
	)
	return out, report, nil
}

// isNaiveTimestamp reports whether ts carries no real timezone information.
// time.UTC and any fixed-offset zone with a zero offset (a common decoding
// artifact of "Z"-suffixed or offsetless wire formats) both represent UTC and
// are not naive; a timestamp whose zone has a non-zero offset at ts is.
func isNaiveTimestamp(ts time.Time) bool {
	if ts.Location() == time.UTC {
		return false
	}
	_, offset := ts.Zone()
	return offset != 0
}

func validateSchema(b core.Bar) error {
	if b.Symbol == "" {
		return &core.BarSchemaError{Symbol: b.Symbol, Field: "symbol", Reason: "empty"}
	}
	if b.Timeframe != "" && b.Timeframe != "1m" {
		return &core.BarSchemaError{Symbol: b.Symbol, Field: "timeframe", Reason: "only 1m is supported"}
	}
	if b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() && b.Close.IsZero() {
		return &core.BarSchemaError{Symbol: b.Symbol, Field: "ohlc", Reason: "all-zero OHLC, likely missing data"}
	}
	return nil
}

// dedup collapses bars sharing (symbol, ts, timeframe), keeping the
// configured winner. Input must already be sorted by ts.
func (n *Normalizer) dedup(sorted []core.Bar, report *Report) []core.Bar {
	if len(sorted) == 0 {
		return sorted
	}
	out := make([]core.Bar, 0, len(sorted))
	out = append(out, sorted[0])
	for i := 1; i < len(sorted); i++ {
		b := sorted[i]
		last := &out[len(out)-1]
		if b.Ts.Equal(last.Ts) && b.Symbol == last.Symbol {
			report.DuplicateCount++
			if n.cfg.DedupWinner == WinnerLast {
				*last = b
			}
			continue
		}
		out = append(out, b)
	}
	return out
}
