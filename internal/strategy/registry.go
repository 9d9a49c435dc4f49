// Package strategy holds the registry of trade-decision implementations.
// Strategies are resolved by name exactly once at startup; the engine only
// ever sees the ports.Strategy interface.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"tradebot/internal/ports"
)

// Config carries the strategy parameters sourced from configuration.
type Config struct {
	// Stoploss distance as a positive fraction of the entry price.
	Stoploss float64
	// MaxEntryAdjustments bounds how many additional entries a strategy
	// may stack onto one trade.
	MaxEntryAdjustments int
	// AdjustmentTriggerRatio is the drawdown (as a negative profit ratio)
	// at which adjustment strategies add to a position.
	AdjustmentTriggerRatio float64
}

// Factory constructs a strategy from configuration.
type Factory func(cfg Config, logger ports.Logger) (ports.Strategy, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a strategy factory under a unique name. It panics on
// duplicates since registration happens from init functions only.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	factories[name] = f
}

// New resolves a strategy by name.
func New(name string, cfg Config, logger ports.Logger) (ports.Strategy, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q (available: %v)",
			ports.ErrConfiguration, name, Names())
	}
	return f(cfg, logger)
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
