package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an order opened with this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind distinguishes what role an order plays in a trade's lifecycle.
type OrderKind string

const (
	KindEntry    OrderKind = "entry"
	KindExit     OrderKind = "exit"
	KindStoploss OrderKind = "stoploss"
)

// OrderStatus represents the exchange-reported status of an order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
	OrderExpired  OrderStatus = "expired"
	OrderRejected OrderStatus = "rejected"
)

// IsTerminal reports whether the exchange will no longer change this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderClosed, OrderCanceled, OrderExpired, OrderRejected:
		return true
	}
	return false
}

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	StatusPendingEntry TradeStatus = "pending_entry"
	StatusOpen         TradeStatus = "open"
	StatusPendingExit  TradeStatus = "pending_exit"
	StatusClosed       TradeStatus = "closed"
)

// ExitReason indicates why a trade was (or is being) closed.
// The string values are stable: they are persisted and exposed over the API.
type ExitReason string

const (
	ExitReasonNone               ExitReason = ""
	ExitReasonROI                ExitReason = "roi"
	ExitReasonStoploss           ExitReason = "stop_loss"
	ExitReasonStoplossOnExchange ExitReason = "stoploss_on_exchange"
	ExitReasonTrailingStoploss   ExitReason = "trailing_stop_loss"
	ExitReasonExitSignal         ExitReason = "exit_signal"
	ExitReasonForceExit          ExitReason = "force_exit"
	ExitReasonEmergencyExit      ExitReason = "emergency_exit"
)

func (r ExitReason) String() string { return string(r) }
