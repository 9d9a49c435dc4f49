package ports

import (
	"context"
	"time"

	"tradebot/internal/domain"
)

// Ticker is a point-in-time price snapshot for a pair.
type Ticker struct {
	Pair string
	Bid  float64
	Ask  float64
	Last float64
}

// Balance is the exchange-reported balance for one currency.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// OrderResult represents the essential details the exchange returns for an
// order, both on placement and on later status fetches.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Pair          string
	Side          domain.OrderSide
	Price         float64 // Requested price (0 for market orders)
	Average       float64 // Average fill price, 0 when nothing filled
	Amount        float64 // Requested quantity
	Filled        float64 // Executed quantity
	Cost          float64 // Quote cost of the executed part
	Status        domain.OrderStatus
	Timestamp     time.Time
}

// MarketLimits carries the exchange's stake boundaries for a pair.
// MinStake is nil when the exchange does not publish a minimum.
type MarketLimits struct {
	MinStake *float64
	MaxStake float64
	domain.PairPrecision
}

// OrderRequest describes an order to be placed.
type OrderRequest struct {
	Pair          string
	Side          domain.OrderSide
	Kind          domain.OrderKind
	Amount        float64
	Price         *float64 // nil = market order
	StopPrice     *float64 // Trigger price for stoploss orders
	ClientOrderID string
}

// ExchangeGateway is the narrow interface the engine drives an exchange
// through. Implementations must translate transport failures into
// ErrTemporary-class errors and order declines into ErrOrderRejected so the
// retry policy can distinguish them.
type ExchangeGateway interface {
	// FetchTicker retrieves the current price snapshot for a pair.
	FetchTicker(ctx context.Context, pair string) (*Ticker, error)

	// FetchOrder retrieves the authoritative state of an order.
	// Returns ErrOrderNotFound if the exchange does not know the order.
	FetchOrder(ctx context.Context, orderID, pair string) (*OrderResult, error)

	// CreateOrder places an order and returns the exchange's view of it.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// CancelOrder cancels an open order, returning its final state so any
	// partial fill can be reconciled. Returns ErrOrderNotFound when the
	// order is already gone.
	CancelOrder(ctx context.Context, orderID, pair string) (*OrderResult, error)

	// GetBalances retrieves all non-zero balances keyed by currency.
	GetBalances(ctx context.Context) (map[string]Balance, error)

	// FetchPositions retrieves open positions (empty on spot accounts).
	FetchPositions(ctx context.Context) ([]domain.Position, error)

	// GetMarketLimits retrieves stake boundaries and precision for a pair.
	GetMarketLimits(ctx context.Context, pair string) (*MarketLimits, error)
}
