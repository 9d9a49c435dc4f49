package domain

import "time"

// Order is one exchange order instance belonging to exactly one Trade.
// A Trade accumulates Orders in submission order: the initial entry, any
// position-adjustment entries, the exchange-side stoploss mirror and the
// final exit.
type Order struct {
	ID            int64       // Ledger-assigned identifier
	TradeID       int64       // Owning trade
	OrderID       string      // Exchange-assigned identifier, empty until acknowledged
	ClientOrderID string      // Client-generated identifier sent with the order
	Side          OrderSide   // BUY or SELL
	Kind          OrderKind   // entry, exit or stoploss
	Price         float64     // Requested price (0 for market orders until filled)
	Amount        float64     // Requested base-currency quantity
	Filled        float64     // Filled quantity, only ever advances
	Cost          float64     // Quote-currency cost of the filled part
	Status        OrderStatus // Exchange-reported status
	OrderDate     time.Time   // Submission time
	FilledDate    time.Time   // Time the order became fully filled (zero otherwise)
}

// OrderUpdate carries authoritative exchange state for an order.
type OrderUpdate struct {
	OrderID   string
	Status    OrderStatus
	Price     float64
	Amount    float64
	Filled    float64
	Cost      float64
	Timestamp time.Time
}

// ApplyUpdate merges authoritative exchange state into the order.
// Filled is a high-water mark: a stale or repeated update never rolls it
// back, which makes reconciliation idempotent. Returns true when the update
// advanced the fill or changed the status.
func (o *Order) ApplyUpdate(u OrderUpdate) bool {
	changed := false
	if u.OrderID != "" && o.OrderID == "" {
		o.OrderID = u.OrderID
		changed = true
	}
	if u.Filled > o.Filled {
		o.Filled = u.Filled
		if u.Cost > 0 {
			o.Cost = u.Cost
		} else {
			o.Cost = o.Filled * o.Price
		}
		changed = true
	}
	if u.Price > 0 && o.Price == 0 {
		o.Price = u.Price
		changed = true
	}
	if u.Status != "" && u.Status != o.Status && !o.Status.IsTerminal() {
		o.Status = u.Status
		changed = true
	}
	if o.Status == OrderClosed && o.FilledDate.IsZero() {
		if !u.Timestamp.IsZero() {
			o.FilledDate = u.Timestamp
		} else {
			o.FilledDate = time.Now().UTC()
		}
		changed = true
	}
	return changed
}

// IsFullyFilled reports whether the whole requested amount has been executed.
func (o *Order) IsFullyFilled() bool {
	return o.Status == OrderClosed && o.Filled >= o.Amount
}

// Remaining returns the unfilled part of the requested amount.
func (o *Order) Remaining() float64 {
	if o.Filled >= o.Amount {
		return 0
	}
	return o.Amount - o.Filled
}

// SafePrice returns the best known execution price for the order: the
// average fill price when cost information is present, the requested price
// otherwise.
func (o *Order) SafePrice() float64 {
	if o.Filled > 0 && o.Cost > 0 {
		return o.Cost / o.Filled
	}
	return o.Price
}
