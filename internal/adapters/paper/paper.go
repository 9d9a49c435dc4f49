// Package paper simulates an exchange in memory for dry-run operation.
// Limit orders rest until the simulated price crosses them; market orders
// fill at the current ticker. Balances move the way a spot exchange moves
// them, so the wallet allocator behaves exactly as it would live.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

// Gateway implements ports.ExchangeGateway against an in-memory book.
type Gateway struct {
	logger ports.Logger

	mu       sync.Mutex
	tickers  map[string]*ports.Ticker
	balances map[string]*ports.Balance
	orders   map[string]*paperOrder
	seq      int64
}

type paperOrder struct {
	result ports.OrderResult
	kind   domain.OrderKind
	stop   *float64
}

// Config holds configuration for the paper gateway.
type Config struct {
	Logger ports.Logger
	// StakeCurrency is credited with WalletBalance at startup.
	StakeCurrency string
	WalletBalance float64
}

// New creates a paper gateway seeded with the dry-run wallet.
func New(cfg Config) (*Gateway, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper gateway")
	}
	if cfg.StakeCurrency == "" || cfg.WalletBalance <= 0 {
		return nil, fmt.Errorf("%w: paper gateway needs a stake currency and a positive wallet balance", ports.ErrConfiguration)
	}
	g := &Gateway{
		logger:   cfg.Logger,
		tickers:  make(map[string]*ports.Ticker),
		balances: make(map[string]*ports.Balance),
		orders:   make(map[string]*paperOrder),
	}
	g.balances[cfg.StakeCurrency] = &ports.Balance{
		Free:  cfg.WalletBalance,
		Total: cfg.WalletBalance,
	}
	cfg.Logger.Info(context.Background(), "Paper trading wallet seeded", map[string]interface{}{
		"currency": cfg.StakeCurrency, "balance": cfg.WalletBalance,
	})
	return g, nil
}

// SetPrice sets the simulated price for a pair and settles any resting
// orders the new price crosses.
func (g *Gateway) SetPrice(pair string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tickers[pair] = &ports.Ticker{Pair: pair, Bid: price, Ask: price, Last: price}
	g.settleRestingOrders(pair, price)
}

// FetchTicker retrieves the simulated price snapshot for a pair.
func (g *Gateway) FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickers[pair]
	if !ok {
		return nil, fmt.Errorf("%w: no price set for %s", ports.ErrExchangeUnavailable, pair)
	}
	cp := *t
	return &cp, nil
}

// FetchOrder retrieves the state of a simulated order.
func (g *Gateway) FetchOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	cp := o.result
	return &cp, nil
}

// CreateOrder places a simulated order. Market orders and marketable limit
// orders fill immediately at the current price.
func (g *Gateway) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tick, ok := g.tickers[req.Pair]
	if !ok {
		return nil, fmt.Errorf("%w: no price set for %s", ports.ErrExchangeUnavailable, req.Pair)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ports.ErrOrderRejected)
	}

	g.seq++
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	o := &paperOrder{
		result: ports.OrderResult{
			OrderID:       fmt.Sprintf("paper-%d", g.seq),
			ClientOrderID: clientID,
			Pair:          req.Pair,
			Side:          req.Side,
			Amount:        req.Amount,
			Status:        domain.OrderOpen,
			Timestamp:     time.Now().UTC(),
		},
		kind: req.Kind,
		stop: req.StopPrice,
	}
	if req.Price != nil {
		o.result.Price = *req.Price
	}

	// Funds check against the quote (buy) or base (sell) balance. The
	// reservation price must match what releaseFunds and settle use later:
	// limit price first, then stop price, then the current tick.
	refPrice := tick.Last
	if req.Price != nil {
		refPrice = *req.Price
	} else if req.StopPrice != nil {
		refPrice = *req.StopPrice
	}
	if err := g.reserveFunds(req, refPrice); err != nil {
		return nil, err
	}

	g.orders[o.result.OrderID] = o

	if req.StopPrice == nil && (req.Price == nil || crosses(req.Side, *req.Price, tick.Last)) {
		g.fillOrder(o, tick.Last)
	}

	cp := o.result
	g.logger.Debug(ctx, "Paper order placed", map[string]interface{}{
		"orderID": cp.OrderID, "pair": cp.Pair, "side": cp.Side, "status": cp.Status,
	})
	return &cp, nil
}

// CancelOrder cancels a resting simulated order.
func (g *Gateway) CancelOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	if !o.result.Status.IsTerminal() {
		g.releaseFunds(o)
		o.result.Status = domain.OrderCanceled
	}
	cp := o.result
	return &cp, nil
}

// GetBalances retrieves the simulated balances keyed by currency.
func (g *Gateway) GetBalances(ctx context.Context) (map[string]ports.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]ports.Balance, len(g.balances))
	for cur, b := range g.balances {
		out[cur] = *b
	}
	return out, nil
}

// FetchPositions returns nothing: the paper book simulates spot.
func (g *Gateway) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

// GetMarketLimits returns permissive defaults; dry-run carries no exchange
// filters.
func (g *Gateway) GetMarketLimits(ctx context.Context, pair string) (*ports.MarketLimits, error) {
	return &ports.MarketLimits{
		MaxStake:      1e12,
		PairPrecision: domain.DefaultPrecision,
	}, nil
}

// --- Simulation internals (callers hold g.mu) ---

// crosses reports whether a limit price is marketable at the current price.
func crosses(side domain.OrderSide, limit, price float64) bool {
	if side == domain.Buy {
		return price <= limit
	}
	return price >= limit
}

// stopTriggered reports whether a stop order fires at the current price.
func stopTriggered(side domain.OrderSide, stop, price float64) bool {
	if side == domain.Sell {
		return price <= stop
	}
	return price >= stop
}

func (g *Gateway) settleRestingOrders(pair string, price float64) {
	for _, o := range g.orders {
		if o.result.Pair != pair || o.result.Status.IsTerminal() {
			continue
		}
		if o.stop != nil {
			if stopTriggered(o.result.Side, *o.stop, price) {
				g.fillOrder(o, *o.stop)
			}
			continue
		}
		if o.result.Price > 0 && crosses(o.result.Side, o.result.Price, price) {
			g.fillOrder(o, o.result.Price)
		}
	}
}

func (g *Gateway) fillOrder(o *paperOrder, price float64) {
	remaining := o.result.Amount - o.result.Filled
	o.result.Filled = o.result.Amount
	o.result.Average = price
	o.result.Cost = price * o.result.Amount
	o.result.Status = domain.OrderClosed
	o.result.Timestamp = time.Now().UTC()
	g.settle(o, remaining, price)
}

// reserveFunds moves the order's cost from free to used.
func (g *Gateway) reserveFunds(req ports.OrderRequest, price float64) error {
	base, quote := splitPair(req.Pair)
	if req.Side == domain.Buy {
		need := price * req.Amount
		b := g.balance(quote)
		if b.Free < need {
			return fmt.Errorf("%w: need %.8f %s, have %.8f", ports.ErrInsufficientFunds, need, quote, b.Free)
		}
		b.Free -= need
		b.Used += need
		return nil
	}
	b := g.balance(base)
	if b.Free < req.Amount {
		return fmt.Errorf("%w: need %.8f %s, have %.8f", ports.ErrInsufficientFunds, req.Amount, base, b.Free)
	}
	b.Free -= req.Amount
	b.Used += req.Amount
	return nil
}

// releaseFunds returns the unfilled part's reservation on cancel.
func (g *Gateway) releaseFunds(o *paperOrder) {
	base, quote := splitPair(o.result.Pair)
	remaining := o.result.Amount - o.result.Filled
	if remaining <= 0 {
		return
	}
	if o.result.Side == domain.Buy {
		refPrice := o.result.Price
		if o.stop != nil {
			refPrice = *o.stop
		}
		amount := refPrice * remaining
		b := g.balance(quote)
		b.Used -= amount
		b.Free += amount
		return
	}
	b := g.balance(base)
	b.Used -= remaining
	b.Free += remaining
}

// settle converts the reservation into the bought/sold asset.
func (g *Gateway) settle(o *paperOrder, amount, price float64) {
	base, quote := splitPair(o.result.Pair)
	cost := price * amount
	if o.result.Side == domain.Buy {
		qb := g.balance(quote)
		reserved := o.result.Price
		if reserved == 0 && o.stop != nil {
			reserved = *o.stop
		}
		if reserved == 0 {
			reserved = price
		}
		qb.Used -= reserved * amount
		qb.Free += reserved*amount - cost
		qb.Total = qb.Free + qb.Used

		bb := g.balance(base)
		bb.Free += amount
		bb.Total = bb.Free + bb.Used
		return
	}
	bb := g.balance(base)
	bb.Used -= amount
	bb.Total = bb.Free + bb.Used

	qb := g.balance(quote)
	qb.Free += cost
	qb.Total = qb.Free + qb.Used
}

func (g *Gateway) balance(currency string) *ports.Balance {
	b, ok := g.balances[currency]
	if !ok {
		b = &ports.Balance{}
		g.balances[currency] = b
	}
	return b
}

func splitPair(pair string) (base, quote string) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair, ""
	}
	return parts[0], parts[1]
}
