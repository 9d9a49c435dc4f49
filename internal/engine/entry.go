package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradebot/internal/domain"
	"tradebot/internal/metrics"
	"tradebot/internal/ports"
)

// executeEntry sizes and submits the opening order for a new trade.
// Sizing skips (insufficient capital, below exchange minimum, strategy
// veto) return a nil trade without error; submission failures surface.
// force entries (administrative) report lock and slot violations as errors
// instead of skipping silently.
func (e *Engine) executeEntry(ctx context.Context, pair string, isShort bool, priceOverride, stakeOverride *float64, force bool) (*domain.Trade, error) {
	op := "executeEntry"

	locked, err := e.isPairLocked(ctx, pair)
	if err != nil {
		return nil, err
	}
	if locked {
		if force {
			return nil, fmt.Errorf("%w: %s", ports.ErrPairLocked, pair)
		}
		return nil, nil
	}
	existing, err := e.trades.FindOpenByPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: trade %d", ports.ErrAlreadyOpen, existing.ID)
	}
	if !e.hasFreeSlot(ctx) {
		if force {
			return nil, ports.ErrMaxTradesReached
		}
		return nil, nil
	}

	tick, err := e.fetchTicker(ctx, pair)
	if err != nil {
		return nil, err
	}
	rate := entryRate(tick, isShort)
	if priceOverride != nil && *priceOverride > 0 {
		rate = *priceOverride
	}
	limits, err := e.fetchLimits(ctx, pair)
	if err != nil {
		return nil, err
	}

	// --- Sizing ---
	var stake float64
	if stakeOverride != nil && *stakeOverride > 0 {
		stake = *stakeOverride
	} else {
		stake, err = e.wallets.TradeStakeAmount(ctx, pair)
		if err != nil {
			if errors.Is(err, ports.ErrInsufficientCapital) {
				e.logger.Info(ctx, op+": insufficient capital, entry skipped", map[string]interface{}{"pair": pair})
				return nil, nil
			}
			return nil, err
		}
	}
	stake = e.strategy.StakeAmount(ctx, pair, stake, derefOrZero(limits.MinStake), limits.MaxStake)
	stake, err = e.wallets.ValidateStakeAmount(ctx, pair, stake, limits.MinStake, limits.MaxStake)
	if err != nil {
		return nil, err
	}
	if stake <= 0 {
		e.logger.Debug(ctx, op+": no stake available, entry skipped", map[string]interface{}{"pair": pair})
		return nil, nil
	}

	side := domain.Buy
	if isShort {
		side = domain.Sell
	}
	if !e.strategy.ConfirmTradeEntry(ctx, pair, side, stake, rate) {
		e.logger.Info(ctx, op+": entry vetoed by strategy", map[string]interface{}{"pair": pair})
		return nil, nil
	}

	rate = limits.PriceToPrecision(rate)
	amount := limits.AmountToPrecision(stake / rate)
	if amount <= 0 {
		return nil, nil
	}

	// --- Submission ---
	req := ports.OrderRequest{
		Pair:          pair,
		Side:          side,
		Kind:          domain.KindEntry,
		Amount:        amount,
		Price:         &rate,
		ClientOrderID: uuid.NewString(),
	}
	res, err := e.submitOrder(ctx, "entry_order", req)
	if err != nil {
		return nil, fmt.Errorf("entry order for %s failed: %w", pair, err)
	}

	// The intended stake is committed the moment the order is live, so it
	// must count against open stakes even before anything fills.
	trade := &domain.Trade{
		Pair:        pair,
		IsShort:     isShort,
		Leverage:    1,
		StakeAmount: stake,
		IsOpen:      true,
		Status:      domain.StatusPendingEntry,
		OpenDate:    time.Now().UTC(),
	}
	order := orderFromResult(res, domain.KindEntry)
	trade.AddOrder(order)
	trade.OpenOrderID = &res.OrderID

	if order.IsFullyFilled() {
		e.applyEntryFill(ctx, trade, order)
	}

	id, err := e.trades.Create(ctx, trade)
	if err != nil {
		// The order is live on the exchange but the ledger write failed:
		// cancel to avoid an orphaned exchange-side order.
		e.logger.Error(ctx, err, op+": ledger write failed, cancelling entry order", map[string]interface{}{
			"pair": pair, "orderID": res.OrderID,
		})
		if _, cancelErr := e.cancelOrder(ctx, res.OrderID, pair); cancelErr != nil {
			e.logger.Error(ctx, cancelErr, op+": cancel after ledger failure also failed; manual intervention required", map[string]interface{}{
				"pair": pair, "orderID": res.OrderID,
			})
		}
		return nil, fmt.Errorf("saving trade after order placement: %w", err)
	}
	trade.ID = id

	// The exchange has moved the committed funds out of free; refresh the
	// snapshot so sizing for entries later in the same tick sees it.
	if err := e.wallets.Update(ctx, true); err != nil {
		e.logger.Error(ctx, err, op+": wallet refresh after entry failed", map[string]interface{}{"pair": pair})
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.KindEntry), string(side)).Inc()
	e.logger.Info(ctx, op+": entry order submitted", map[string]interface{}{
		"tradeID": trade.ID, "pair": pair, "side": side, "stake": stake, "amount": amount, "rate": rate,
	})
	e.notify(ctx, "entry", map[string]interface{}{
		"trade_id": trade.ID, "pair": pair, "side": string(side), "stake": stake, "rate": rate,
	})
	return trade, nil
}

// submitOrder places an order through the retry policy.
func (e *Engine) submitOrder(ctx context.Context, op string, req ports.OrderRequest) (*ports.OrderResult, error) {
	var res *ports.OrderResult
	err := e.retry.Do(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = e.gateway.CreateOrder(ctx, req)
		return err
	})
	return res, err
}

// cancelOrder cancels an order through the retry policy, returning its
// final exchange state so partial fills can be folded in.
func (e *Engine) cancelOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	var res *ports.OrderResult
	err := e.retry.Do(ctx, "cancel_order", func(ctx context.Context) error {
		var err error
		res, err = e.gateway.CancelOrder(ctx, orderID, pair)
		return err
	})
	return res, err
}

// orderFromResult builds the ledger order record for an exchange response.
func orderFromResult(res *ports.OrderResult, kind domain.OrderKind) *domain.Order {
	o := &domain.Order{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Side:          res.Side,
		Kind:          kind,
		Price:         res.Price,
		Amount:        res.Amount,
		Status:        domain.OrderOpen,
		OrderDate:     res.Timestamp,
	}
	if o.OrderDate.IsZero() {
		o.OrderDate = time.Now().UTC()
	}
	o.ApplyUpdate(resultUpdate(res))
	return o
}

// resultUpdate converts a gateway order result into an order update.
func resultUpdate(res *ports.OrderResult) domain.OrderUpdate {
	price := res.Average
	if price == 0 {
		price = res.Price
	}
	return domain.OrderUpdate{
		OrderID:   res.OrderID,
		Status:    res.Status,
		Price:     price,
		Amount:    res.Amount,
		Filled:    res.Filled,
		Cost:      res.Cost,
		Timestamp: res.Timestamp,
	}
}

func derefOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
