package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tradebot/internal/domain"
	"tradebot/internal/ports"
)

// TradeView is the API representation of a trade.
type TradeView struct {
	ID             int64   `json:"trade_id"`
	Pair           string  `json:"pair"`
	IsShort        bool    `json:"is_short"`
	IsOpen         bool    `json:"is_open"`
	Status         string  `json:"status"`
	Amount         float64 `json:"amount"`
	OpenRate       float64 `json:"open_rate"`
	StakeAmount    float64 `json:"stake_amount"`
	Stoploss       float64 `json:"stoploss"`
	OpenDate       string  `json:"open_date"`
	CloseDate      string  `json:"close_date,omitempty"`
	CloseRate      float64 `json:"close_rate,omitempty"`
	CloseProfit    float64 `json:"close_profit,omitempty"`
	ProfitRatio    float64 `json:"profit_ratio"`
	CurrentRate    float64 `json:"current_rate,omitempty"`
	ExitReason     string  `json:"exit_reason,omitempty"`
	HasOpenOrder   bool    `json:"has_open_order"`
	NeedsAttention bool    `json:"needs_attention"`
}

// TradeCount reports slot usage.
type TradeCount struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// ForceEnter opens a position on demand, bypassing signal evaluation but
// not the safety checks: pair locks, the one-trade-per-pair rule and the
// slot limit all still apply and are reported as errors.
func (e *Engine) ForceEnter(ctx context.Context, pair string, isShort bool, price, stake *float64) (*domain.Trade, error) {
	if !e.IsRunning() {
		return nil, ports.ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.executeEntry(ctx, pair, isShort, price, stake, true)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: entry for %s produced no trade", ports.ErrInvalidRequest, pair)
	}
	return t, nil
}

// ForceExit closes the trade with the given ID, or every open trade when
// id is "all". Forced exits bypass the strategy veto and cancel any
// in-flight order first.
func (e *Engine) ForceExit(ctx context.Context, id string) ([]int64, error) {
	if !e.IsRunning() {
		return nil, ports.ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var targets []*domain.Trade
	if id == "all" {
		open, err := e.trades.FindOpen(ctx)
		if err != nil {
			return nil, err
		}
		targets = open
	} else {
		tradeID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: trade id %q", ports.ErrInvalidRequest, id)
		}
		t, err := e.trades.FindByID(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		if t == nil || !t.IsOpen {
			return nil, fmt.Errorf("%w: no open trade %d", ports.ErrTradeNotFound, tradeID)
		}
		targets = []*domain.Trade{t}
	}

	var exited []int64
	for _, t := range targets {
		tick, err := e.fetchTicker(ctx, t.Pair)
		if err != nil {
			e.logger.Error(ctx, err, "Force exit skipped, no ticker", map[string]interface{}{"tradeID": t.ID})
			continue
		}
		ok, err := e.executeExit(ctx, t, exitRate(tick, t.IsShort), domain.ExitReasonForceExit, true)
		if err != nil {
			e.logger.Error(ctx, err, "Force exit failed", map[string]interface{}{"tradeID": t.ID})
			continue
		}
		if ok {
			exited = append(exited, t.ID)
		}
	}
	if len(exited) == 0 && len(targets) > 0 {
		return nil, fmt.Errorf("no trade could be exited")
	}
	return exited, nil
}

// DeleteTrade removes a trade from the ledger after cancelling whatever
// orders it still has on the exchange. It returns how many orders were
// cancelled. This is the operator's resolution path for diverged trades.
func (e *Engine) DeleteTrade(ctx context.Context, id int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.trades.FindByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, fmt.Errorf("%w: trade %d", ports.ErrTradeNotFound, id)
	}

	cancelled := 0
	for _, orderID := range []*string{t.OpenOrderID, t.StoplossOrderID} {
		if orderID == nil {
			continue
		}
		if _, err := e.cancelOrder(ctx, *orderID, t.Pair); err != nil {
			if !errors.Is(err, ports.ErrOrderNotFound) {
				e.logger.Error(ctx, err, "Order cancellation during trade removal failed", map[string]interface{}{
					"tradeID": t.ID, "orderID": *orderID,
				})
				continue
			}
		}
		cancelled++
	}

	if err := e.trades.Delete(ctx, id); err != nil {
		return cancelled, err
	}
	e.logger.Info(ctx, "Trade removed", map[string]interface{}{"tradeID": id, "cancelledOrders": cancelled})
	e.notify(ctx, "trade_deleted", map[string]interface{}{"trade_id": id})
	return cancelled, nil
}

// LockPair prohibits new entries on a pair (or all pairs with the
// wildcard) until the given time.
func (e *Engine) LockPair(ctx context.Context, pair, reason string, until time.Time) (*domain.PairLock, error) {
	if pair == "" || !until.After(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: pair and a future end time are required", ports.ErrInvalidRequest)
	}
	lock := &domain.PairLock{
		Pair:     pair,
		Reason:   reason,
		LockTime: time.Now().UTC(),
		LockEnd:  until.UTC(),
		Active:   true,
	}
	id, err := e.locks.Create(ctx, lock)
	if err != nil {
		return nil, err
	}
	lock.ID = id
	e.logger.Info(ctx, "Pair locked", map[string]interface{}{
		"pair": pair, "until": lock.LockEnd, "reason": reason,
	})
	return lock, nil
}

// Unlock releases a single lock by ID.
func (e *Engine) Unlock(ctx context.Context, id int64) error {
	return e.locks.Deactivate(ctx, id)
}

// UnlockPair releases all active locks covering a pair and returns how
// many were released.
func (e *Engine) UnlockPair(ctx context.Context, pair string) (int, error) {
	n, err := e.locks.DeactivatePair(ctx, pair, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	e.logger.Info(ctx, "Pair unlocked", map[string]interface{}{"pair": pair, "released": n})
	return n, nil
}

// Locks returns all currently active pair locks.
func (e *Engine) Locks(ctx context.Context) (domain.PairLocks, error) {
	return e.locks.ActiveLocks(ctx, "", time.Now().UTC())
}

// Status returns API views of all open trades, enriched with the current
// rate where a ticker is available.
func (e *Engine) Status(ctx context.Context) ([]TradeView, error) {
	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]TradeView, 0, len(open))
	for _, t := range open {
		v := tradeView(t)
		if tick, err := e.fetchTicker(ctx, t.Pair); err == nil {
			rate := exitRate(tick, t.IsShort)
			v.CurrentRate = rate
			v.ProfitRatio = t.ProfitRatio(rate)
		}
		views = append(views, v)
	}
	return views, nil
}

// History returns API views of every trade, open and closed.
func (e *Engine) History(ctx context.Context) ([]TradeView, error) {
	all, err := e.trades.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]TradeView, 0, len(all))
	for _, t := range all {
		views = append(views, tradeView(t))
	}
	return views, nil
}

// Count reports open-trade slot usage.
func (e *Engine) Count(ctx context.Context) (TradeCount, error) {
	open, err := e.trades.FindOpen(ctx)
	if err != nil {
		return TradeCount{}, err
	}
	return TradeCount{Current: len(open), Max: e.cfg.MaxOpenTrades}, nil
}

func tradeView(t *domain.Trade) TradeView {
	v := TradeView{
		ID:             t.ID,
		Pair:           t.Pair,
		IsShort:        t.IsShort,
		IsOpen:         t.IsOpen,
		Status:         string(t.Status),
		Amount:         t.Amount,
		OpenRate:       t.OpenRate,
		StakeAmount:    t.StakeAmount,
		Stoploss:       t.Stoploss,
		OpenDate:       t.OpenDate.Format(time.RFC3339),
		ExitReason:     t.ExitReason.String(),
		HasOpenOrder:   t.HasOpenOrder(),
		NeedsAttention: t.NeedsAttention,
	}
	if !t.IsOpen {
		v.CloseDate = t.CloseDate.Format(time.RFC3339)
		v.CloseRate = t.CloseRate
		v.CloseProfit = t.CloseProfit
		v.ProfitRatio = t.CloseProfitRatio
	}
	return v
}
