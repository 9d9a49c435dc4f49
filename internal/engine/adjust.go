package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tradebot/internal/domain"
	"tradebot/internal/metrics"
	"tradebot/internal/ports"
)

// adjustEntryPrice gives the strategy a chance to reprice a still-working
// entry order. A repriced order is cancelled first; any partial fill stays
// with the trade and only the residual of the originally intended cost is
// resubmitted at the new price.
func (e *Engine) adjustEntryPrice(ctx context.Context, t *domain.Trade, o *domain.Order, rate float64) error {
	newPrice := e.strategy.AdjustEntryPrice(ctx, t, o, rate)
	if newPrice <= 0 || newPrice == o.Price {
		return nil
	}
	limits, err := e.fetchLimits(ctx, t.Pair)
	if err != nil {
		return err
	}
	newPrice = limits.PriceToPrecision(newPrice)
	if newPrice == o.Price {
		return nil
	}

	intendedCost := o.Price * o.Amount

	res, err := e.cancelOrder(ctx, o.OrderID, t.Pair)
	if err != nil {
		return fmt.Errorf("cancelling entry order %s for repricing: %w", o.OrderID, err)
	}
	if res != nil {
		o.ApplyUpdate(resultUpdate(res))
	}
	if o.IsFullyFilled() {
		// Filled in the race with the cancel; nothing left to reprice.
		e.applyEntryFill(ctx, t, o)
		return e.trades.Update(ctx, t)
	}
	if !o.Status.IsTerminal() {
		o.Status = domain.OrderCanceled
	}
	t.OpenOrderID = nil
	t.RecalcFromOrders()

	residualCost := intendedCost - o.Cost
	amount := limits.AmountToPrecision(residualCost / newPrice)
	if amount <= 0 {
		if t.Amount > 0 && t.Status == domain.StatusPendingEntry {
			t.Status = domain.StatusOpen
			t.SetInitialStoploss(e.strategy.Stoploss())
		}
		return e.trades.Update(ctx, t)
	}

	req := ports.OrderRequest{
		Pair:          t.Pair,
		Side:          t.EntrySide(),
		Kind:          domain.KindEntry,
		Amount:        amount,
		Price:         &newPrice,
		ClientOrderID: uuid.NewString(),
	}
	replacement, err := e.submitOrder(ctx, "entry_order", req)
	if err != nil {
		// The old order is gone; the trade keeps whatever filled.
		if t.Amount > 0 && t.Status == domain.StatusPendingEntry {
			t.Status = domain.StatusOpen
			t.SetInitialStoploss(e.strategy.Stoploss())
		}
		if updErr := e.trades.Update(ctx, t); updErr != nil {
			return updErr
		}
		return fmt.Errorf("replacement entry order for trade %d failed: %w", t.ID, err)
	}

	order := orderFromResult(replacement, domain.KindEntry)
	t.AddOrder(order)
	t.OpenOrderID = &replacement.OrderID
	if order.IsFullyFilled() {
		e.applyEntryFill(ctx, t, order)
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.KindEntry), string(req.Side)).Inc()
	e.logger.Info(ctx, "Entry order repriced", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "oldPrice": o.Price, "newPrice": newPrice, "amount": amount,
	})
	return e.trades.Update(ctx, t)
}

// adjustPosition asks the strategy whether to increase an open position at
// the current rate and submits the additional entry order when it does.
func (e *Engine) adjustPosition(ctx context.Context, t *domain.Trade, rate float64) error {
	limits, err := e.fetchLimits(ctx, t.Pair)
	if err != nil {
		return err
	}
	extra := e.strategy.AdjustTradePosition(ctx, t, rate, t.ProfitRatio(rate), derefOrZero(limits.MinStake), limits.MaxStake)
	if extra <= 0 {
		return nil
	}
	extra, err = e.wallets.ValidateStakeAmount(ctx, t.Pair, extra, limits.MinStake, limits.MaxStake)
	if err != nil {
		return err
	}
	if extra <= 0 {
		return nil
	}

	price := limits.PriceToPrecision(rate)
	amount := limits.AmountToPrecision(extra / price)
	if amount <= 0 {
		return nil
	}

	req := ports.OrderRequest{
		Pair:          t.Pair,
		Side:          t.EntrySide(),
		Kind:          domain.KindEntry,
		Amount:        amount,
		Price:         &price,
		ClientOrderID: uuid.NewString(),
	}
	res, err := e.submitOrder(ctx, "adjust_order", req)
	if err != nil {
		return fmt.Errorf("position adjustment order for trade %d failed: %w", t.ID, err)
	}

	order := orderFromResult(res, domain.KindEntry)
	t.AddOrder(order)
	t.OpenOrderID = &res.OrderID
	if order.IsFullyFilled() {
		e.applyEntryFill(ctx, t, order)
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.KindEntry), string(req.Side)).Inc()
	e.logger.Info(ctx, "Position adjustment order submitted", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "stake": extra, "rate": price, "amount": amount,
	})
	e.notify(ctx, "position_adjust", map[string]interface{}{
		"trade_id": t.ID, "pair": t.Pair, "stake": extra, "rate": price,
	})
	return e.trades.Update(ctx, t)
}
