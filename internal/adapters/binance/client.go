// Package binance implements the exchange gateway against the Binance spot
// API using the go-binance library.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	defaultMaxStake = 1e12 // Used when the exchange publishes no notional cap
)

// Client implements ports.ExchangeGateway for Binance spot markets.
type Client struct {
	spot   *binance.Client
	logger ports.Logger
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance gateway.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty; only public endpoints will work")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
	})
	return &Client{spot: client, logger: cfg.Logger}, nil
}

// handleError translates Binance API errors into the standard ports errors
// so the retry policy can classify them.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1000, -1001: // Internal error / disconnected
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature / API key
			mappedErr = ports.ErrAuthentication
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderRejected
			}
		case -2011, -2013: // Cancel rejected / order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -1013, -1111, -1121: // Filter failure / bad precision / bad symbol
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %v", operation, mappedErr, err)
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %v", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w", operation, err)
	default:
		// Transport-level failures are worth a retry.
		finalErr = fmt.Errorf("%s failed: %w: %v", operation, ports.ErrExchangeUnavailable, err)
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// FetchTicker retrieves the current best bid/ask and last price for a pair.
func (c *Client) FetchTicker(ctx context.Context, pair string) (*ports.Ticker, error) {
	op := "FetchTicker"
	symbol := toSymbol(pair)

	books, err := c.spot.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(books) == 0 {
		return nil, c.handleError(ctx, fmt.Errorf("no book ticker returned for %s", symbol), op)
	}
	bid, err := strconv.ParseFloat(books[0].BidPrice, 64)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not parse bid '%s': %w", books[0].BidPrice, err), op)
	}
	ask, err := strconv.ParseFloat(books[0].AskPrice, 64)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not parse ask '%s': %w", books[0].AskPrice, err), op)
	}

	last := (bid + ask) / 2
	if prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx); err == nil && len(prices) > 0 {
		if p, err := strconv.ParseFloat(prices[0].Price, 64); err == nil {
			last = p
		}
	}
	return &ports.Ticker{Pair: pair, Bid: bid, Ask: ask, Last: last}, nil
}

// FetchOrder retrieves the authoritative state of an order.
func (c *Client) FetchOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	op := "FetchOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: order ID %q is not numeric", ports.ErrInvalidRequest, orderID)
	}
	order, err := c.spot.NewGetOrderService().Symbol(toSymbol(pair)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(pair, order), nil
}

// CreateOrder places an order and returns the exchange's view of it.
func (c *Client) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	op := "CreateOrder"
	svc := c.spot.NewCreateOrderService().
		Symbol(toSymbol(req.Pair)).
		Side(binance.SideType(req.Side)).
		Quantity(formatFloat(req.Amount))
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	switch {
	case req.StopPrice != nil:
		// Exchange-side stoploss: a stop-limit with the limit a hair past
		// the trigger so it behaves like a stop-market.
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			StopPrice(formatFloat(*req.StopPrice)).
			Price(formatFloat(*req.StopPrice))
	case req.Price != nil:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatFloat(*req.Price))
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := translateCreateResponse(req.Pair, res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"pair": req.Pair, "side": req.Side, "kind": req.Kind,
		"orderID": out.OrderID, "status": out.Status,
	})
	return out, nil
}

// CancelOrder cancels an open order, returning its final state so partial
// fills can be reconciled.
func (c *Client) CancelOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: order ID %q is not numeric", ports.ErrInvalidRequest, orderID)
	}
	res, err := c.spot.NewCancelOrderService().Symbol(toSymbol(pair)).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	price, _ := strconv.ParseFloat(res.Price, 64)
	amount, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	cost, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)
	out := &ports.OrderResult{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Pair:          pair,
		Side:          domain.OrderSide(res.Side),
		Price:         price,
		Amount:        amount,
		Filled:        filled,
		Cost:          cost,
		Status:        translateStatus(res.Status),
		Timestamp:     time.Now().UTC(),
	}
	if filled > 0 {
		out.Average = cost / filled
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"pair": pair, "orderID": orderID, "status": out.Status,
	})
	return out, nil
}

// GetBalances retrieves all non-zero balances keyed by currency.
func (c *Client) GetBalances(ctx context.Context) (map[string]ports.Balance, error) {
	op := "GetBalances"
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	balances := make(map[string]ports.Balance)
	for _, b := range account.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances[b.Asset] = ports.Balance{Free: free, Used: locked, Total: free + locked}
	}
	return balances, nil
}

// FetchPositions returns nothing: spot accounts hold balances, not
// positions.
func (c *Client) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

// GetMarketLimits retrieves stake boundaries and precision for a pair from
// the exchange filters.
func (c *Client) GetMarketLimits(ctx context.Context, pair string) (*ports.MarketLimits, error) {
	op := "GetMarketLimits"
	info, err := c.spot.NewExchangeInfoService().Symbols(toSymbol(pair)).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(info.Symbols) == 0 {
		return nil, c.handleError(ctx, fmt.Errorf("no exchange info returned for %s", pair), op)
	}
	sym := info.Symbols[0]

	limits := &ports.MarketLimits{
		MaxStake:      defaultMaxStake,
		PairPrecision: domain.DefaultPrecision,
	}
	if f := sym.LotSizeFilter(); f != nil {
		limits.AmountDecimals = precisionFromStep(f.StepSize)
	}
	if f := sym.PriceFilter(); f != nil {
		limits.PriceDecimals = precisionFromStep(f.TickSize)
	}
	if f := sym.NotionalFilter(); f != nil {
		if min, err := strconv.ParseFloat(f.MinNotional, 64); err == nil && min > 0 {
			limits.MinStake = &min
		}
	}
	return limits, nil
}

// --- Translation Helpers ---

func toSymbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func translateStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled, binance.OrderStatusTypePendingCancel:
		return domain.OrderOpen
	case binance.OrderStatusTypeFilled:
		return domain.OrderClosed
	case binance.OrderStatusTypeCanceled:
		return domain.OrderCanceled
	case binance.OrderStatusTypeExpired:
		return domain.OrderExpired
	case binance.OrderStatusTypeRejected:
		return domain.OrderRejected
	}
	return domain.OrderOpen
}

func translateOrder(pair string, o *binance.Order) *ports.OrderResult {
	price, _ := strconv.ParseFloat(o.Price, 64)
	amount, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	cost, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)

	res := &ports.OrderResult{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Pair:          pair,
		Side:          domain.OrderSide(o.Side),
		Price:         price,
		Amount:        amount,
		Filled:        filled,
		Cost:          cost,
		Status:        translateStatus(o.Status),
		Timestamp:     time.UnixMilli(o.UpdateTime),
	}
	if filled > 0 {
		res.Average = cost / filled
	}
	return res
}

func translateCreateResponse(pair string, o *binance.CreateOrderResponse) *ports.OrderResult {
	price, _ := strconv.ParseFloat(o.Price, 64)
	amount, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	cost, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)

	res := &ports.OrderResult{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Pair:          pair,
		Side:          domain.OrderSide(o.Side),
		Price:         price,
		Amount:        amount,
		Filled:        filled,
		Cost:          cost,
		Status:        translateStatus(o.Status),
		Timestamp:     time.UnixMilli(o.TransactTime),
	}
	if filled > 0 {
		res.Average = cost / filled
	}
	return res
}

// precisionFromStep derives decimal places from a filter step like
// "0.00100000".
func precisionFromStep(step string) int32 {
	f, err := strconv.ParseFloat(step, 64)
	if err != nil || f <= 0 {
		return 8
	}
	var p int32
	for f < 1 {
		f *= 10
		p++
	}
	return p
}
