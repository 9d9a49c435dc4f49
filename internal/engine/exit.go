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

// evaluateExit checks exit conditions for an open trade in strict
// precedence order: stoploss, then ROI, then strategy signal. It returns
// true when an exit order was submitted.
func (e *Engine) evaluateExit(ctx context.Context, t *domain.Trade, rate float64) (bool, error) {
	e.updateTrailing(ctx, t, rate)

	if e.cfg.StoplossOnExchange {
		if err := e.maintainStoplossOnExchange(ctx, t); err != nil {
			e.logger.Error(ctx, err, "Stoploss mirror maintenance failed", map[string]interface{}{
				"tradeID": t.ID, "pair": t.Pair,
			})
		}
	}

	if t.StoplossHit(rate) {
		// With an exchange-side mirror in place the exchange executes the
		// stop; the local path only fires as a fallback when no mirror
		// exists (e.g. its placement failed).
		if e.cfg.StoplossOnExchange && t.StoplossOrderID != nil {
			return false, nil
		}
		reason := domain.ExitReasonStoploss
		if t.Stoploss != t.InitialStoploss {
			reason = domain.ExitReasonTrailingStoploss
		}
		return e.executeExit(ctx, t, rate, reason, false)
	}

	if ratio, ok := e.cfg.ROIFor(t.OpenMinutes(time.Now().UTC())); ok {
		if t.ProfitRatio(rate) >= ratio {
			return e.executeExit(ctx, t, rate, domain.ExitReasonROI, false)
		}
	}

	if e.strategy.ShouldExit(ctx, t, rate) {
		return e.executeExit(ctx, t, rate, domain.ExitReasonExitSignal, false)
	}
	return false, nil
}

// executeExit submits the closing order for a trade. force bypasses the
// strategy veto and cancels any in-flight order first; the normal path
// waits for the in-flight order to settle instead.
func (e *Engine) executeExit(ctx context.Context, t *domain.Trade, rate float64, reason domain.ExitReason, force bool) (bool, error) {
	op := "executeExit"

	if t.HasOpenOrder() {
		if !force {
			return false, nil
		}
		if err := e.cancelOpenOrder(ctx, t); err != nil {
			return false, err
		}
		if t.Amount <= 0 && t.Status == domain.StatusPendingEntry {
			// Nothing ever filled; cancelling the entry flattened the trade.
			if err := e.trades.Delete(ctx, t.ID); err != nil {
				return false, err
			}
			return true, nil
		}
		// Persist the folded state before anything below can bail out.
		if err := e.trades.Update(ctx, t); err != nil {
			return false, err
		}
	}

	// The exchange-side stoploss mirror must be gone before the exit order
	// goes out, otherwise both could execute.
	if err := e.cancelStoplossOrder(ctx, t); err != nil {
		return false, err
	}
	if !t.IsOpen {
		// The mirror had already filled: cancellation surfaced the fill and
		// closed the trade.
		return true, e.trades.Update(ctx, t)
	}

	if t.Amount <= 0 {
		return false, nil
	}
	if !force && !e.strategy.ConfirmTradeExit(ctx, t, rate, reason) {
		e.logger.Info(ctx, op+": exit vetoed by strategy", map[string]interface{}{
			"tradeID": t.ID, "pair": t.Pair, "reason": reason.String(),
		})
		return false, nil
	}

	limits, err := e.fetchLimits(ctx, t.Pair)
	if err != nil {
		return false, err
	}
	price := limits.PriceToPrecision(rate)
	amount := limits.AmountToPrecision(t.Amount)

	req := ports.OrderRequest{
		Pair:          t.Pair,
		Side:          t.ExitSide(),
		Kind:          domain.KindExit,
		Amount:        amount,
		Price:         &price,
		ClientOrderID: uuid.NewString(),
	}
	res, err := e.submitOrder(ctx, "exit_order", req)
	if err != nil {
		return false, fmt.Errorf("exit order for trade %d failed: %w", t.ID, err)
	}

	order := orderFromResult(res, domain.KindExit)
	t.AddOrder(order)
	t.OpenOrderID = &res.OrderID
	t.Status = domain.StatusPendingExit
	t.ExitReason = reason

	if order.IsFullyFilled() {
		e.applyExitFill(ctx, t, order)
	}
	if err := e.trades.Update(ctx, t); err != nil {
		return false, fmt.Errorf("saving trade after exit order: %w", err)
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.KindExit), string(req.Side)).Inc()
	e.logger.Info(ctx, op+": exit order submitted", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "reason": reason.String(), "rate": price, "amount": amount,
	})
	e.notify(ctx, "exit", map[string]interface{}{
		"trade_id": t.ID, "pair": t.Pair, "reason": reason.String(), "rate": price,
	})
	return true, nil
}

// cancelOpenOrder cancels the trade's in-flight entry/exit order and folds
// any partial fill into the trade.
func (e *Engine) cancelOpenOrder(ctx context.Context, t *domain.Trade) error {
	o := t.OpenOrder()
	if o == nil {
		t.OpenOrderID = nil
		return nil
	}
	res, err := e.cancelOrder(ctx, o.OrderID, t.Pair)
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return fmt.Errorf("cancelling order %s: %w", o.OrderID, err)
	}
	if res != nil {
		o.ApplyUpdate(resultUpdate(res))
	}
	if !o.Status.IsTerminal() {
		o.Status = domain.OrderCanceled
	}
	t.OpenOrderID = nil

	switch o.Kind {
	case domain.KindEntry:
		t.RecalcFromOrders()
		if t.Amount > 0 {
			t.Status = domain.StatusOpen
		}
	case domain.KindExit:
		if o.IsFullyFilled() {
			e.applyExitFill(ctx, t, o)
		} else {
			// A partial exit fill has already left the position; the rest
			// of the amount stays open.
			t.Amount -= o.Filled
			t.Status = domain.StatusOpen
			t.ExitReason = domain.ExitReasonNone
		}
	}
	return nil
}
