package ports

import (
	"context"

	"tradebot/internal/domain"
)

// EntrySignal is an externally-supplied decision to open a position.
type EntrySignal struct {
	Enter bool
	Short bool
	// Price overrides the ticker-derived entry price when non-zero.
	Price float64
}

// Strategy is the fixed capability interface trade decisions flow through.
// Signal generation itself lives outside the engine; implementations adapt
// external signals to these hooks. Implementations are resolved by name
// from the strategy registry once at startup.
type Strategy interface {
	// Name identifies the strategy in the registry.
	Name() string

	// Stoploss returns the stoploss distance as a positive fraction of the
	// entry price (0.10 = 10% below entry for a long).
	Stoploss() float64

	// ShouldEnter reports whether a new position should be opened on pair.
	ShouldEnter(ctx context.Context, pair string, rate float64) EntrySignal

	// ShouldExit reports whether the open trade should be closed at rate.
	ShouldExit(ctx context.Context, trade *domain.Trade, rate float64) bool

	// StakeAmount may adjust the proposed stake for a new entry. Returning
	// the proposed value keeps the allocator's sizing.
	StakeAmount(ctx context.Context, pair string, proposed, minStake, maxStake float64) float64

	// AdjustTradePosition is consulted for open trades without an in-flight
	// order when position adjustment is enabled. A positive return is an
	// additional stake to invest at the current price; zero means no change.
	AdjustTradePosition(ctx context.Context, trade *domain.Trade, rate, profitRatio, minStake, maxStake float64) float64

	// AdjustEntryPrice is consulted while an entry order is still unfilled.
	// Returning a different price cancels and replaces the order; returning
	// order.Price (or 0) keeps it.
	AdjustEntryPrice(ctx context.Context, trade *domain.Trade, order *domain.Order, rate float64) float64

	// ConfirmTradeEntry is a final veto before an entry order is submitted.
	ConfirmTradeEntry(ctx context.Context, pair string, side domain.OrderSide, stake, rate float64) bool

	// ConfirmTradeExit is a final veto before an exit order is submitted.
	// Force and emergency exits bypass it.
	ConfirmTradeExit(ctx context.Context, trade *domain.Trade, rate float64, reason domain.ExitReason) bool
}
