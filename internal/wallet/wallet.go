// Package wallet tracks exchange balances and computes the stake committed
// to each new position.
package wallet

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

// amountReserve is the headroom factor used when bumping a below-minimum
// stake up to the exchange minimum. A stake more than 30% below the minimum
// is rejected instead of silently inflated.
const amountReserve = 1.3

// Config holds the sizing parameters the allocator works from.
type Config struct {
	StakeCurrency        string
	StakeAmount          float64 // Ignored when Unlimited
	Unlimited            bool
	MaxOpenTrades        int      // 0 = unbounded (disables unlimited sizing)
	TradableBalanceRatio float64  // 0-1
	AvailableCapital     *float64 // Absolute override for the deployable capital
	RefreshInterval      time.Duration
}

// Wallets caches per-currency balance snapshots and sizes new positions.
// Snapshots are refreshed from the gateway on a throttled cadence; sizing
// itself is recomputed fresh on every call so a realized loss immediately
// reduces the stake offered to the next trade.
type Wallets struct {
	cfg     Config
	logger  ports.Logger
	gateway ports.ExchangeGateway
	trades  ports.TradeRepository

	mu          sync.RWMutex
	wallets     map[string]domain.Wallet
	positions   map[string]domain.Position
	lastRefresh time.Time
}

// New creates a wallet allocator.
func New(cfg Config, logger ports.Logger, gateway ports.ExchangeGateway, trades ports.TradeRepository) (*Wallets, error) {
	if logger == nil || gateway == nil || trades == nil {
		return nil, fmt.Errorf("missing required dependencies for wallets")
	}
	if cfg.TradableBalanceRatio <= 0 || cfg.TradableBalanceRatio > 1 {
		return nil, fmt.Errorf("%w: tradable_balance_ratio must be in (0, 1]", ports.ErrConfiguration)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	return &Wallets{
		cfg:       cfg,
		logger:    logger,
		gateway:   gateway,
		trades:    trades,
		wallets:   make(map[string]domain.Wallet),
		positions: make(map[string]domain.Position),
	}, nil
}

// Update refreshes the balance snapshot from the gateway. Unless force is
// set, a snapshot younger than the refresh interval is kept to bound call
// volume.
func (w *Wallets) Update(ctx context.Context, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !force && time.Since(w.lastRefresh) < w.cfg.RefreshInterval {
		return nil
	}

	balances, err := w.gateway.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("wallet refresh failed: %w", err)
	}
	positions, err := w.gateway.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("position refresh failed: %w", err)
	}

	// Rebuild instead of merge: currencies missing from the response no
	// longer exist on the exchange.
	wallets := make(map[string]domain.Wallet, len(balances))
	for cur, b := range balances {
		wallets[cur] = domain.Wallet{Currency: cur, Free: b.Free, Used: b.Used, Total: b.Total}
	}
	posMap := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		if p.Size > 0 {
			posMap[p.Pair] = p
		}
	}

	w.wallets = wallets
	w.positions = posMap
	w.lastRefresh = time.Now()
	w.logger.Debug(ctx, "Wallet snapshot refreshed", map[string]interface{}{
		"currencies": len(wallets),
		"positions":  len(posMap),
	})
	return nil
}

// GetFree returns the free balance for a currency (0 when unknown).
func (w *Wallets) GetFree(currency string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wallets[currency].Free
}

// GetUsed returns the used balance for a currency (0 when unknown).
func (w *Wallets) GetUsed(currency string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wallets[currency].Used
}

// GetTotal returns the total balance for a currency (0 when unknown).
func (w *Wallets) GetTotal(currency string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wallets[currency].Total
}

// GetAllPositions returns the cached exchange-side positions by pair.
func (w *Wallets) GetAllPositions() map[string]domain.Position {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]domain.Position, len(w.positions))
	for k, v := range w.positions {
		out[k] = v
	}
	return out
}

// GetStartingBalance reconstructs the capital the bot started with:
// the configured available capital when set, otherwise the tradable part of
// the free balance corrected by realized profit and capital tied up in open
// trades.
func (w *Wallets) GetStartingBalance(ctx context.Context) (float64, error) {
	if w.cfg.AvailableCapital != nil {
		return *w.cfg.AvailableCapital, nil
	}
	closedProfit, err := w.trades.TotalClosedProfit(ctx)
	if err != nil {
		return 0, fmt.Errorf("starting balance: %w", err)
	}
	openStakes, err := w.trades.TotalOpenStake(ctx)
	if err != nil {
		return 0, fmt.Errorf("starting balance: %w", err)
	}
	free := w.GetFree(w.cfg.StakeCurrency)
	return free*w.cfg.TradableBalanceRatio - closedProfit + openStakes, nil
}

// GetAvailableStakeAmount returns the capital currently deployable for new
// entries: the starting balance minus what is tied up, never exceeding the
// free balance.
func (w *Wallets) GetAvailableStakeAmount(ctx context.Context) (float64, error) {
	starting, err := w.GetStartingBalance(ctx)
	if err != nil {
		return 0, err
	}
	openStakes, err := w.trades.TotalOpenStake(ctx)
	if err != nil {
		return 0, err
	}
	free := w.GetFree(w.cfg.StakeCurrency)
	return math.Min(starting-openStakes, free), nil
}

// TradeStakeAmount computes the stake for a new entry on pair.
// In unlimited mode the deployable capital is split evenly across the
// configured trade slots; the result is recomputed fresh on every call and
// never cached. In fixed mode the configured stake is returned, failing
// with ErrInsufficientCapital when the available balance cannot cover it.
func (w *Wallets) TradeStakeAmount(ctx context.Context, pair string) (float64, error) {
	if err := w.Update(ctx, false); err != nil {
		return 0, err
	}

	available, err := w.GetAvailableStakeAmount(ctx)
	if err != nil {
		return 0, err
	}

	if w.cfg.Unlimited {
		if w.cfg.MaxOpenTrades <= 0 {
			// Unbounded slots make even division meaningless.
			return 0, nil
		}
		tiedUp, err := w.trades.TotalOpenStake(ctx)
		if err != nil {
			return 0, err
		}
		stake := (available + tiedUp) / float64(w.cfg.MaxOpenTrades)
		stake = math.Min(stake, available)
		if stake <= 0 {
			return 0, nil
		}
		w.logger.Debug(ctx, "Unlimited stake computed", map[string]interface{}{
			"pair": pair, "stake": stake, "available": available, "tiedUp": tiedUp,
		})
		return stake, nil
	}

	stake := w.cfg.StakeAmount
	if available < stake {
		return 0, fmt.Errorf("%w: available %.8f below stake amount %.8f for %s",
			ports.ErrInsufficientCapital, available, stake, pair)
	}
	return stake, nil
}

// ValidateStakeAmount clips a proposed stake against exchange limits and
// the deployable balance. A stake below the exchange minimum is bumped up
// to the minimum only when the gap is within the reserve headroom and the
// balance covers it; otherwise 0 is returned so no under-funded order is
// ever submitted.
func (w *Wallets) ValidateStakeAmount(ctx context.Context, pair string, stake float64, minStake *float64, maxStake float64) (float64, error) {
	if stake <= 0 {
		return 0, nil
	}
	available, err := w.GetAvailableStakeAmount(ctx)
	if err != nil {
		return 0, err
	}

	maxAllowed := math.Min(maxStake, available)
	if minStake != nil {
		if *minStake > maxAllowed {
			w.logger.Warn(ctx, "Minimum stake exceeds allowed stake, skipping entry", map[string]interface{}{
				"pair": pair, "minStake": *minStake, "maxAllowed": maxAllowed,
			})
			return 0, nil
		}
		if stake < *minStake {
			if *minStake > stake*amountReserve {
				w.logger.Warn(ctx, "Stake too far below exchange minimum, skipping entry", map[string]interface{}{
					"pair": pair, "stake": stake, "minStake": *minStake,
				})
				return 0, nil
			}
			w.logger.Info(ctx, "Stake below exchange minimum, raising to minimum", map[string]interface{}{
				"pair": pair, "stake": stake, "minStake": *minStake,
			})
			stake = *minStake
		}
	}
	if stake > maxAllowed {
		return maxAllowed, nil
	}
	return stake, nil
}
