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

// updateTrailing ratchets the trade stoploss toward the current rate when
// trailing is enabled. The stoploss only ever tightens.
func (e *Engine) updateTrailing(ctx context.Context, t *domain.Trade, rate float64) {
	if !e.cfg.TrailingStop || t.Status != domain.StatusOpen {
		return
	}
	pct := e.strategy.Stoploss()
	if e.cfg.TrailingStopPositive > 0 {
		// The tighter positive distance only arms once the trade is in
		// profit beyond the offset.
		if t.ProfitRatio(rate) < e.cfg.TrailingStopPositiveOffset {
			return
		}
		pct = e.cfg.TrailingStopPositive
	}
	if t.AdjustStoploss(rate, pct) {
		e.logger.Debug(ctx, "Trailing stoploss tightened", map[string]interface{}{
			"tradeID": t.ID, "pair": t.Pair, "stoploss": t.Stoploss,
		})
		if err := e.trades.Update(ctx, t); err != nil {
			e.logger.Error(ctx, err, "Persisting trailing stoploss failed", map[string]interface{}{
				"tradeID": t.ID,
			})
		}
	}
}

// maintainStoplossOnExchange keeps the exchange-side stop order aligned
// with the trade's local stoploss price. The local price is authoritative:
// when trailing tightens it, the mirror is cancelled and replaced.
func (e *Engine) maintainStoplossOnExchange(ctx context.Context, t *domain.Trade) error {
	if t.Status != domain.StatusOpen || t.Amount <= 0 || t.Stoploss == 0 {
		return nil
	}
	mirror := t.StoplossOrder()
	if mirror != nil {
		if mirror.Price == t.Stoploss {
			return nil
		}
		// Cancellation must complete before the replacement goes out so the
		// position is never covered by two live stop orders.
		if err := e.cancelStoplossOrder(ctx, t); err != nil {
			return err
		}
		if !t.IsOpen {
			return e.trades.Update(ctx, t)
		}
	}
	return e.placeStoplossOrder(ctx, t)
}

// placeStoplossOrder submits the exchange-side stoploss mirror order.
func (e *Engine) placeStoplossOrder(ctx context.Context, t *domain.Trade) error {
	stop := t.Stoploss
	req := ports.OrderRequest{
		Pair:          t.Pair,
		Side:          t.ExitSide(),
		Kind:          domain.KindStoploss,
		Amount:        t.Amount,
		StopPrice:     &stop,
		ClientOrderID: uuid.NewString(),
	}
	res, err := e.submitOrder(ctx, "stoploss_order", req)
	if err != nil {
		return fmt.Errorf("stoploss order for trade %d failed: %w", t.ID, err)
	}

	order := orderFromResult(res, domain.KindStoploss)
	order.Price = stop
	t.AddOrder(order)
	t.StoplossOrderID = &res.OrderID

	metrics.OrdersPlaced.WithLabelValues(string(domain.KindStoploss), string(req.Side)).Inc()
	e.logger.Info(ctx, "Stoploss mirror placed", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "stop": stop,
	})
	return e.trades.Update(ctx, t)
}

// cancelStoplossOrder removes the exchange-side stoploss mirror. An order
// the exchange no longer knows counts as cancelled; a mirror that executed
// before the cancel reached the exchange closes the trade instead.
func (e *Engine) cancelStoplossOrder(ctx context.Context, t *domain.Trade) error {
	mirror := t.StoplossOrder()
	if mirror == nil {
		t.StoplossOrderID = nil
		return nil
	}
	res, err := e.cancelOrder(ctx, mirror.OrderID, t.Pair)
	if err != nil {
		if !errors.Is(err, ports.ErrOrderNotFound) {
			return fmt.Errorf("cancelling stoploss order %s: %w", mirror.OrderID, err)
		}
		// Already gone: find out whether it executed.
		fetched, fetchErr := e.fetchOrder(ctx, mirror.OrderID, t.Pair)
		if fetchErr == nil {
			res = fetched
		}
	}
	if res != nil {
		mirror.ApplyUpdate(resultUpdate(res))
	}
	if !mirror.Status.IsTerminal() {
		mirror.Status = domain.OrderCanceled
	}
	t.StoplossOrderID = nil

	if mirror.IsFullyFilled() {
		e.applyStoplossFill(ctx, t, mirror)
	}
	return nil
}

// applyStoplossFill closes the trade after its exchange-side stop executed.
func (e *Engine) applyStoplossFill(ctx context.Context, t *domain.Trade, o *domain.Order) {
	t.StoplossOrderID = nil
	t.OpenOrderID = nil
	t.ExitReason = domain.ExitReasonStoplossOnExchange
	t.Close(o.SafePrice(), domain.ExitReasonStoplossOnExchange, time.Now().UTC())

	metrics.ExitReasons.WithLabelValues(t.ExitReason.String()).Inc()
	e.logger.Info(ctx, "Trade closed by exchange-side stoploss", map[string]interface{}{
		"tradeID": t.ID, "pair": t.Pair, "rate": t.CloseRate, "profit": t.CloseProfit,
	})
	e.notify(ctx, "exit_fill", map[string]interface{}{
		"trade_id": t.ID, "pair": t.Pair, "reason": t.ExitReason.String(),
		"rate": t.CloseRate, "profit": t.CloseProfit, "profit_ratio": t.CloseProfitRatio,
	})
}

// fetchOrder retrieves authoritative order state through the retry policy.
func (e *Engine) fetchOrder(ctx context.Context, orderID, pair string) (*ports.OrderResult, error) {
	var res *ports.OrderResult
	err := e.retry.Do(ctx, "fetch_order", func(ctx context.Context) error {
		var err error
		res, err = e.gateway.FetchOrder(ctx, orderID, pair)
		return err
	})
	return res, err
}
