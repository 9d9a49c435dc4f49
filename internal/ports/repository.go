package ports

import (
	"context"
	"time"

	"tradebot/internal/domain"
)

// TradeRepository is the ledger for trades and their order history.
// Implementations must persist a trade and its orders atomically: a trade
// update and the orders it carries either all land or none do.
type TradeRepository interface {
	// Create saves a new trade (and any orders it already carries) and
	// returns its assigned ID.
	Create(ctx context.Context, t *domain.Trade) (int64, error)
	// Update modifies an existing trade and upserts its orders.
	Update(ctx context.Context, t *domain.Trade) error
	// Delete removes a trade and its order history.
	Delete(ctx context.Context, id int64) error
	// FindByID retrieves a trade with its orders. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindOpen retrieves all open trades ordered by open time ascending.
	FindOpen(ctx context.Context) ([]*domain.Trade, error)
	// FindOpenByPair retrieves the open trade for a pair, if any.
	// Returns nil, nil if no open trade exists.
	FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error)
	// FindAll retrieves all trades ordered by open time descending.
	FindAll(ctx context.Context) ([]*domain.Trade, error)
	// TotalClosedProfit sums the realized profit of all closed trades.
	TotalClosedProfit(ctx context.Context) (float64, error)
	// TotalOpenStake sums the stake committed to currently open trades.
	TotalOpenStake(ctx context.Context) (float64, error)
}

// PairLockRepository stores temporary entry prohibitions per pair.
type PairLockRepository interface {
	// Create saves a new lock and returns its assigned ID.
	Create(ctx context.Context, lock *domain.PairLock) (int64, error)
	// ActiveLocks retrieves locks active at the given instant. An empty
	// pair returns locks for all pairs; otherwise locks covering the pair
	// (including the wildcard) are returned.
	ActiveLocks(ctx context.Context, pair string, now time.Time) (domain.PairLocks, error)
	// Deactivate releases a lock by ID. Returns ErrNotFound if unknown.
	Deactivate(ctx context.Context, id int64) error
	// DeactivatePair releases all active locks covering a pair and returns
	// how many were released.
	DeactivatePair(ctx context.Context, pair string, now time.Time) (int, error)
}
