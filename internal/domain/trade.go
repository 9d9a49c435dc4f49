package domain

import "time"

// Trade represents one position lifecycle on a pair, long or short.
// A trade owns its orders in submission order and derives its aggregate
// amount, open rate and stake from the filled entry-side orders.
type Trade struct {
	ID          int64
	Pair        string  // Trading pair (e.g. "ETH/USDT")
	IsShort     bool    // Direction: false = long, true = short
	Amount      float64 // Net filled base-currency quantity
	OpenRate    float64 // Volume-weighted average entry price
	StakeAmount float64 // Quote-currency capital committed
	Leverage    float64 // 1 for spot

	Stoploss           float64 // Current absolute stoploss price
	StoplossPct        float64 // Percentage the current stoploss was derived from
	InitialStoploss    float64 // Fixed at entry confirmation, never mutated
	InitialStoplossPct float64

	IsOpen     bool
	Status     TradeStatus
	ExitReason ExitReason

	OpenDate         time.Time
	CloseDate        time.Time
	CloseRate        float64
	CloseProfit      float64 // Absolute realized profit in quote currency
	CloseProfitRatio float64

	// At most one in-flight entry/exit order may exist per trade. The
	// exchange-side stoploss mirror is tracked separately: it shadows the
	// local stoploss price and is not part of the entry/exit lifecycle.
	OpenOrderID     *string
	StoplossOrderID *string

	// NeedsAttention freezes the trade from automated mutation after a
	// reconciliation divergence until an operator resolves it.
	NeedsAttention bool

	Orders []*Order // Submission order == insertion order
}

// EntrySide returns the order side used to open or increase the position.
func (t *Trade) EntrySide() OrderSide {
	if t.IsShort {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side used to reduce or close the position.
func (t *Trade) ExitSide() OrderSide {
	return t.EntrySide().Opposite()
}

// HasOpenOrder reports whether an entry/exit order is still in flight.
func (t *Trade) HasOpenOrder() bool {
	return t.OpenOrderID != nil
}

// OpenOrder returns the in-flight entry/exit order, or nil.
func (t *Trade) OpenOrder() *Order {
	if t.OpenOrderID == nil {
		return nil
	}
	for _, o := range t.Orders {
		if o.OrderID == *t.OpenOrderID {
			return o
		}
	}
	return nil
}

// StoplossOrder returns the exchange-side stoploss mirror order, or nil.
func (t *Trade) StoplossOrder() *Order {
	if t.StoplossOrderID == nil {
		return nil
	}
	for _, o := range t.Orders {
		if o.OrderID == *t.StoplossOrderID {
			return o
		}
	}
	return nil
}

// AddOrder appends an order to the trade's history.
func (t *Trade) AddOrder(o *Order) {
	o.TradeID = t.ID
	t.Orders = append(t.Orders, o)
}

// RecalcFromOrders recomputes Amount, OpenRate and StakeAmount as a weighted
// average over all entry-side orders with a non-zero fill. Partially-filled
// cancelled orders contribute their filled part; unfilled and exit orders
// never contribute. While nothing has filled yet the intended stake set at
// submission stands, so a pending trade keeps counting against open stakes.
// Recomputing from scratch keeps the operation idempotent under repeated
// reconciliation.
func (t *Trade) RecalcFromOrders() {
	var amount, cost float64
	entrySide := t.EntrySide()
	for _, o := range t.Orders {
		if o.Side != entrySide || o.Kind != KindEntry || o.Filled <= 0 {
			continue
		}
		amount += o.Filled
		cost += o.SafePrice() * o.Filled
	}
	if amount <= 0 {
		return
	}
	t.Amount = amount
	t.OpenRate = cost / amount
	lev := t.Leverage
	if lev == 0 {
		lev = 1
	}
	t.StakeAmount = cost / lev
}

// stoplossPrice computes the absolute stoploss price for the given
// reference rate and percentage, honouring direction.
func (t *Trade) stoplossPrice(rate, pct float64) float64 {
	if t.IsShort {
		return rate * (1 + pct)
	}
	return rate * (1 - pct)
}

// SetInitialStoploss derives and fixes the initial stoploss from the
// realized open rate. It is a no-op if the initial stoploss is already set.
func (t *Trade) SetInitialStoploss(pct float64) {
	if t.InitialStoploss != 0 {
		return
	}
	price := t.stoplossPrice(t.OpenRate, pct)
	t.InitialStoploss = price
	t.InitialStoplossPct = pct
	t.Stoploss = price
	t.StoplossPct = pct
}

// AdjustStoploss ratchets the stoploss toward the given reference rate.
// The stoploss only ever tightens: for a long it may only increase, for a
// short only decrease. A worse candidate is ignored.
func (t *Trade) AdjustStoploss(rate, pct float64) bool {
	candidate := t.stoplossPrice(rate, pct)
	if t.Stoploss == 0 {
		t.Stoploss = candidate
		t.StoplossPct = pct
		return true
	}
	if (!t.IsShort && candidate > t.Stoploss) || (t.IsShort && candidate < t.Stoploss) {
		t.Stoploss = candidate
		t.StoplossPct = pct
		return true
	}
	return false
}

// StoplossHit reports whether the given rate breaches the stoploss.
func (t *Trade) StoplossHit(rate float64) bool {
	if t.Stoploss == 0 {
		return false
	}
	if t.IsShort {
		return rate >= t.Stoploss
	}
	return rate <= t.Stoploss
}

// ProfitRatio returns the current profit relative to the stake, signed by
// direction and scaled by leverage.
func (t *Trade) ProfitRatio(rate float64) float64 {
	if t.OpenRate == 0 {
		return 0
	}
	lev := t.Leverage
	if lev == 0 {
		lev = 1
	}
	if t.IsShort {
		return (t.OpenRate - rate) / t.OpenRate * lev
	}
	return (rate - t.OpenRate) / t.OpenRate * lev
}

// ProfitAbs returns the absolute quote-currency profit at the given rate.
func (t *Trade) ProfitAbs(rate float64) float64 {
	if t.IsShort {
		return (t.OpenRate - rate) * t.Amount
	}
	return (rate - t.OpenRate) * t.Amount
}

// OpenMinutes returns full minutes elapsed since the trade opened.
func (t *Trade) OpenMinutes(now time.Time) int {
	if t.OpenDate.IsZero() {
		return 0
	}
	return int(now.Sub(t.OpenDate).Minutes())
}

// Close marks the trade as closed at the given rate.
func (t *Trade) Close(rate float64, reason ExitReason, now time.Time) {
	t.CloseRate = rate
	t.CloseDate = now
	t.CloseProfit = t.ProfitAbs(rate)
	t.CloseProfitRatio = t.ProfitRatio(rate)
	t.IsOpen = false
	t.Status = StatusClosed
	if t.ExitReason == ExitReasonNone {
		t.ExitReason = reason
	}
	t.OpenOrderID = nil
}
