// Package strategy defines the plugin surface strategies implement, the
// registry that resolves them by name, and a handful of built-in example
// strategies exercised by the loader and the engines.
package strategy

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
)

// Strategy is the lifecycle every loaded plugin must implement.
type Strategy interface {
	OnBar(bar core.Bar) (*core.Signal, error)
	OnFill(fill core.Fill) error
	Finalize() error
}

// RebalancingStrategy is implemented by strategies consumed by the
// RebalancingEngine instead of SingleStrategyEngine.
type RebalancingStrategy interface {
	Strategy
	TargetWeights(barTs time.Time, portfolio core.PortfolioState) (*core.TargetWeights, error)
}

// Meta describes a strategy bundle's declared universe and requirements.
// Timeframe is validated to equal "1m" at load time (see the loader's
// Validate step) but kept as a string field for a future-compatibility slot,
// per the spec's open question about multi-timeframe metadata.
type Meta struct {
	Name           string
	Universe       []string
	Timeframe      string
	RequiredFields []string
	Session        string
}

// Bundle is the declarative record a strategy plugin exports: metadata, a
// parameterless factory that builds the strategy instance, and optional
// policy overrides merged onto the runtime defaults.
type Bundle struct {
	Meta      Meta
	Build     func() Strategy
	Overrides policy.Overrides
}

// Registry resolves strategy bundles by name. Entries are added by Register;
// NewRegistry registers the built-in examples. The registry itself performs
// no sandboxing: Loader.Load runs the static import sandbox on a strategy's
// source file before it resolves that strategy here.
type Registry struct {
	mu      sync.RWMutex
	bundles map[string]func() Bundle
}

// NewRegistry creates an empty registry and registers the built-in example
// strategies.
func NewRegistry() *Registry {
	r := &Registry{bundles: make(map[string]func() Bundle)}
	r.Register("ma_crossover", NewMACrossoverBundle)
	r.Register("trend_confluence", NewTrendConfluenceBundle)
	r.Register("mean_reversion", NewMeanReversionBundle)
	return r
}

// Register adds a bundle factory under name, overwriting any prior entry.
func (r *Registry) Register(name string, factory func() Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[name] = factory
}

// Resolve returns the named bundle's factory, or false if unknown.
func (r *Registry) Resolve(name string) (func() Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.bundles[name]
	return f, ok
}

// Names lists every registered bundle name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bundles))
	for n := range r.bundles {
		names = append(names, n)
	}
	return names
}

// baseStrategy provides the bar buffer and no-op OnFill/Finalize that most
// bar-driven example strategies share.
type baseStrategy struct {
	bars    []core.Bar
	maxBars int
}

func (s *baseStrategy) addBar(bar core.Bar) {
	s.bars = append(s.bars, bar)
	if s.maxBars > 0 && len(s.bars) > s.maxBars {
		s.bars = s.bars[1:]
	}
}

func (s *baseStrategy) OnFill(core.Fill) error { return nil }
func (s *baseStrategy) Finalize() error        { return nil }
