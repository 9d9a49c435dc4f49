package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradebot/internal/domain"
	"tradebot/internal/metrics"
	"tradebot/internal/ports"
)

// syncTrade aligns one trade with exchange-reported order state. The
// exchange is the source of truth for fills; the ledger only ever advances
// toward it, so replaying the same state is a no-op. An order the exchange
// no longer recognises freezes the trade for operator attention instead of
// guessing what happened to it.
func (e *Engine) syncTrade(ctx context.Context, t *domain.Trade) error {
	if t.NeedsAttention {
		return nil
	}

	if t.StoplossOrderID != nil {
		if err := e.syncStoplossOrder(ctx, t); err != nil {
			return err
		}
		if !t.IsOpen {
			return e.trades.Update(ctx, t)
		}
	}

	if t.OpenOrderID == nil {
		return nil
	}
	o := t.OpenOrder()
	if o == nil {
		// Ledger corruption rather than exchange divergence, but equally
		// not something to act on automatically.
		return e.markDivergent(ctx, t, fmt.Errorf("open order %s missing from trade history", *t.OpenOrderID))
	}

	res, err := e.fetchOrder(ctx, o.OrderID, t.Pair)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			return e.markDivergent(ctx, t, err)
		}
		return err
	}
	changed := o.ApplyUpdate(resultUpdate(res))

	switch {
	case o.IsFullyFilled():
		switch o.Kind {
		case domain.KindEntry:
			e.applyEntryFill(ctx, t, o)
		case domain.KindExit:
			e.applyExitFill(ctx, t, o)
		}
		return e.trades.Update(ctx, t)

	case o.Status.IsTerminal():
		return e.handleTerminalUnfilled(ctx, t, o)

	case changed && o.Kind == domain.KindEntry && o.Filled > 0:
		// A partial fill already holds a position even though the order is
		// still working.
		t.RecalcFromOrders()
		return e.trades.Update(ctx, t)

	case changed:
		return e.trades.Update(ctx, t)
	}
	return nil
}

// syncStoplossOrder refreshes the exchange-side stoploss mirror.
func (e *Engine) syncStoplossOrder(ctx context.Context, t *domain.Trade) error {
	mirror := t.StoplossOrder()
	if mirror == nil {
		t.StoplossOrderID = nil
		return nil
	}
	res, err := e.fetchOrder(ctx, mirror.OrderID, t.Pair)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			return e.markDivergent(ctx, t, err)
		}
		return err
	}
	mirror.ApplyUpdate(resultUpdate(res))

	if mirror.IsFullyFilled() {
		e.applyStoplossFill(ctx, t, mirror)
		return nil
	}
	if mirror.Status.IsTerminal() {
		// Cancelled out of band; the next evaluation replaces it.
		t.StoplossOrderID = nil
	}
	return nil
}

// handleTerminalUnfilled resolves an order that died without filling
// completely (cancelled, expired or rejected).
func (e *Engine) handleTerminalUnfilled(ctx context.Context, t *domain.Trade, o *domain.Order) error {
	t.OpenOrderID = nil

	switch o.Kind {
	case domain.KindEntry:
		t.RecalcFromOrders()
		if t.Amount > 0 {
			// The filled part is a live position.
			if t.Status == domain.StatusPendingEntry {
				t.Status = domain.StatusOpen
				t.SetInitialStoploss(e.strategy.Stoploss())
			}
			return e.trades.Update(ctx, t)
		}
		if t.Status == domain.StatusPendingEntry {
			// Nothing ever filled: the trade never existed economically.
			e.logger.Info(ctx, "Entry order died unfilled, removing trade", map[string]interface{}{
				"tradeID": t.ID, "pair": t.Pair, "orderStatus": string(o.Status),
			})
			return e.trades.Delete(ctx, t.ID)
		}
		return e.trades.Update(ctx, t)

	case domain.KindExit:
		if o.Filled > 0 {
			t.Amount -= o.Filled
		}
		t.Status = domain.StatusOpen
		t.ExitReason = domain.ExitReasonNone
		e.logger.Info(ctx, "Exit order died unfilled, trade stays open", map[string]interface{}{
			"tradeID": t.ID, "pair": t.Pair, "orderStatus": string(o.Status),
		})
		return e.trades.Update(ctx, t)
	}
	return e.trades.Update(ctx, t)
}

// applyEntryFill promotes a trade whose entry order completed.
func (e *Engine) applyEntryFill(ctx context.Context, t *domain.Trade, o *domain.Order) {
	t.OpenOrderID = nil
	t.RecalcFromOrders()
	if t.Status == domain.StatusPendingEntry {
		t.Status = domain.StatusOpen
	}
	t.SetInitialStoploss(e.strategy.Stoploss())

	e.logger.Info(ctx, "Entry order filled", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "amount": t.Amount, "openRate": t.OpenRate, "stake": t.StakeAmount,
	})
	e.notify(ctx, "entry_fill", map[string]interface{}{
		"trade_id": t.ID, "pair": t.Pair, "amount": t.Amount, "open_rate": t.OpenRate,
	})
}

// applyExitFill closes a trade whose exit order completed.
func (e *Engine) applyExitFill(ctx context.Context, t *domain.Trade, o *domain.Order) {
	reason := t.ExitReason
	if reason == domain.ExitReasonNone {
		reason = domain.ExitReasonExitSignal
	}
	t.Close(o.SafePrice(), reason, time.Now().UTC())

	metrics.ExitReasons.WithLabelValues(t.ExitReason.String()).Inc()
	e.logger.Info(ctx, "Exit order filled, trade closed", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "closeRate": t.CloseRate,
		"profit": t.CloseProfit, "profitRatio": t.CloseProfitRatio, "reason": t.ExitReason.String(),
	})
	e.notify(ctx, "exit_fill", map[string]interface{}{
		"trade_id": t.ID, "pair": t.Pair, "reason": t.ExitReason.String(),
		"rate": t.CloseRate, "profit": t.CloseProfit, "profit_ratio": t.CloseProfitRatio,
	})
}

// markDivergent freezes a trade whose exchange state can no longer be
// established. No fills are guessed; an operator resolves it through the
// admin API.
func (e *Engine) markDivergent(ctx context.Context, t *domain.Trade, cause error) error {
	t.NeedsAttention = true
	metrics.Divergences.Inc()

	e.logger.Error(ctx, cause, "Trade diverged from exchange state, freezing", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair,
	})
	e.notify(ctx, "divergence", map[string]interface{}{
		"trade_id": t.ID, "pair": t.Pair, "error": cause.Error(),
	})
	if err := e.trades.Update(ctx, t); err != nil {
		return err
	}
	return fmt.Errorf("trade %d: %w: %v", t.ID, ports.ErrDivergence, cause)
}
