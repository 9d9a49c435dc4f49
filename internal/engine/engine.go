// Package engine drives the trade/order lifecycle: it opens and sizes
// positions, keeps the local ledger aligned with exchange-reported order
// state, applies position adjustments and enforces stoploss/ROI rules.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradebot/config"
	"tradebot/internal/domain"
	"tradebot/internal/metrics"
	"tradebot/internal/ports"
	"tradebot/internal/retry"
	"tradebot/internal/wallet"
)

// Notifier receives trade lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event string, fields map[string]interface{})
}

// Engine owns the per-trade state machine and the control loop.
// A single goroutine executes ticks; administrative commands serialize
// against the loop through the engine mutex, so no two mutations of the
// ledger ever overlap.
type Engine struct {
	cfg      *config.Config
	logger   ports.Logger
	gateway  ports.ExchangeGateway
	trades   ports.TradeRepository
	locks    ports.PairLockRepository
	strategy ports.Strategy
	wallets  *wallet.Wallets
	retry    retry.Policy
	notifier Notifier

	// mu serializes ticks and administrative commands.
	mu      sync.Mutex
	running atomic.Bool
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config   *config.Config
	Logger   ports.Logger
	Gateway  ports.ExchangeGateway
	Trades   ports.TradeRepository
	Locks    ports.PairLockRepository
	Strategy ports.Strategy
	Wallets  *wallet.Wallets
	Retry    retry.Policy
	Notifier Notifier // Optional
}

// New creates an engine instance.
func New(d Deps) (*Engine, error) {
	if d.Config == nil || d.Logger == nil || d.Gateway == nil || d.Trades == nil ||
		d.Locks == nil || d.Strategy == nil || d.Wallets == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	return &Engine{
		cfg:      d.Config,
		logger:   d.Logger,
		gateway:  d.Gateway,
		trades:   d.Trades,
		locks:    d.Locks,
		strategy: d.Strategy,
		wallets:  d.Wallets,
		retry:    d.Retry,
		notifier: d.Notifier,
	}, nil
}

// IsRunning reports whether the control loop is active.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Run executes the control loop until the context is cancelled. A stop
// request takes effect between ticks only: any in-flight order submission
// or cancellation finishes before Run returns, so no exchange-side order is
// left without a corresponding local record.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	e.logger.Info(ctx, "Engine started", map[string]interface{}{
		"strategy":  e.strategy.Name(),
		"whitelist": e.cfg.PairWhitelist,
		"throttle":  e.cfg.ProcessThrottle.String(),
	})

	// Warm the wallet snapshot before trading.
	if err := e.wallets.Update(ctx, true); err != nil {
		return fmt.Errorf("initial wallet sync failed: %w", err)
	}

	ticker := time.NewTicker(e.cfg.ProcessThrottle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Engine stopping")
			return nil
		case <-ticker.C:
			if err := e.ProcessTick(ctx); err != nil {
				e.logger.Error(ctx, err, "Tick failed")
			}
		}
	}
}

// ProcessTick runs one full cycle: reconcile in-flight orders against
// exchange truth, refresh balances, evaluate every open trade for exit and
// adjustment, then look for new entries. Trades are processed sequentially
// so sizing for trade N+1 observes the ledger effects of trade N.
func (e *Engine) ProcessTick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("loading open trades: %w", err)
	}

	for _, t := range open {
		if err := e.syncTrade(ctx, t); err != nil {
			e.logger.Error(ctx, err, "Order reconciliation failed", map[string]interface{}{
				"tradeID": t.ID, "pair": t.Pair,
			})
		}
	}

	if err := e.wallets.Update(ctx, false); err != nil {
		e.logger.Error(ctx, err, "Wallet refresh failed")
	}

	for _, t := range open {
		if !t.IsOpen || t.NeedsAttention {
			continue
		}
		if err := e.manageTrade(ctx, t); err != nil {
			e.logger.Error(ctx, err, "Trade evaluation failed", map[string]interface{}{
				"tradeID": t.ID, "pair": t.Pair,
			})
		}
	}

	if err := e.enterNewTrades(ctx); err != nil {
		e.logger.Error(ctx, err, "Entry evaluation failed")
	}

	e.updateOpenTradeGauge(ctx)
	return nil
}

// manageTrade evaluates one open trade for exit and adjustment conditions.
func (e *Engine) manageTrade(ctx context.Context, t *domain.Trade) error {
	tick, err := e.fetchTicker(ctx, t.Pair)
	if err != nil {
		return err
	}
	rate := exitRate(tick, t.IsShort)

	if t.Status == domain.StatusOpen && !t.HasOpenOrder() {
		exited, err := e.evaluateExit(ctx, t, rate)
		if err != nil || exited {
			return err
		}
		if e.cfg.PositionAdjustmentEnable {
			return e.adjustPosition(ctx, t, entryRate(tick, t.IsShort))
		}
		return nil
	}

	// An entry order is still working: give the strategy a chance to
	// reprice it.
	if e.cfg.PositionAdjustmentEnable && t.HasOpenOrder() {
		if o := t.OpenOrder(); o != nil && o.Kind == domain.KindEntry && !o.Status.IsTerminal() {
			return e.adjustEntryPrice(ctx, t, o, entryRate(tick, t.IsShort))
		}
	}
	return nil
}

// enterNewTrades scans the whitelist for pairs eligible for a new entry.
func (e *Engine) enterNewTrades(ctx context.Context) error {
	for _, pair := range e.cfg.PairWhitelist {
		if !e.hasFreeSlot(ctx) {
			return nil
		}
		locked, err := e.isPairLocked(ctx, pair)
		if err != nil {
			return err
		}
		if locked {
			continue
		}
		existing, err := e.trades.FindOpenByPair(ctx, pair)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		tick, err := e.fetchTicker(ctx, pair)
		if err != nil {
			e.logger.Error(ctx, err, "Ticker unavailable, skipping pair", map[string]interface{}{"pair": pair})
			continue
		}
		signal := e.strategy.ShouldEnter(ctx, pair, tick.Last)
		if !signal.Enter {
			continue
		}
		var priceOverride *float64
		if signal.Price > 0 {
			priceOverride = &signal.Price
		}
		if _, err := e.executeEntry(ctx, pair, signal.Short, priceOverride, nil, false); err != nil {
			e.logger.Error(ctx, err, "Entry failed", map[string]interface{}{"pair": pair})
		}
	}
	return nil
}

// hasFreeSlot reports whether another trade may be opened.
func (e *Engine) hasFreeSlot(ctx context.Context) bool {
	if e.cfg.MaxOpenTrades <= 0 {
		return true
	}
	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		e.logger.Error(ctx, err, "Open-trade count unavailable")
		return false
	}
	return len(open) < e.cfg.MaxOpenTrades
}

func (e *Engine) isPairLocked(ctx context.Context, pair string) (bool, error) {
	now := time.Now().UTC()
	locks, err := e.locks.ActiveLocks(ctx, pair, now)
	if err != nil {
		return false, fmt.Errorf("lock lookup for %s: %w", pair, err)
	}
	return locks.IsPairLocked(pair, now), nil
}

// fetchTicker retrieves a price snapshot through the retry policy.
func (e *Engine) fetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	var tick *ports.Ticker
	err := e.retry.Do(ctx, "fetch_ticker", func(ctx context.Context) error {
		var err error
		tick, err = e.gateway.FetchTicker(ctx, pair)
		return err
	})
	return tick, err
}

// fetchLimits retrieves pair stake limits through the retry policy.
func (e *Engine) fetchLimits(ctx context.Context, pair string) (*ports.MarketLimits, error) {
	var limits *ports.MarketLimits
	err := e.retry.Do(ctx, "get_market_limits", func(ctx context.Context) error {
		var err error
		limits, err = e.gateway.GetMarketLimits(ctx, pair)
		return err
	})
	return limits, err
}

func (e *Engine) updateOpenTradeGauge(ctx context.Context) {
	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return
	}
	metrics.OpenTrades.Set(float64(len(open)))
}

func (e *Engine) notify(ctx context.Context, event string, fields map[string]interface{}) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, event, fields)
	}
}

// entryRate picks the ticker side an entry order crosses.
func entryRate(t *ports.Ticker, short bool) float64 {
	if short {
		return t.Bid
	}
	return t.Ask
}

// exitRate picks the ticker side an exit order crosses.
func exitRate(t *ports.Ticker, short bool) float64 {
	if short {
		return t.Ask
	}
	return t.Bid
}
