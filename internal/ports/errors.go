package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so the engine can classify failures without knowing the adapter.
var (
	// General
	ErrUnknown        = errors.New("unknown error occurred")
	ErrInvalidRequest = errors.New("invalid request parameters or format")
	ErrNotFound       = errors.New("resource not found")
	ErrTimeout        = errors.New("operation timed out")
	ErrConfiguration  = errors.New("invalid or missing configuration")

	// ErrTemporary marks transient failures (network, rate limit, exchange
	// hiccup). Operations failing with it are safe to retry.
	ErrTemporary           = errors.New("temporary failure")
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrRateLimited         = errors.New("API rate limit exceeded")

	// Exchange outcomes that must not be retried.
	ErrOrderRejected     = errors.New("exchange rejected the order")
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrOrderNotFound     = errors.New("order not found on the exchange")
	ErrAuthentication    = errors.New("exchange authentication failed (check API keys)")

	// Engine-level outcomes.
	ErrInsufficientCapital = errors.New("available capital below required stake")
	ErrDivergence          = errors.New("local order state diverged from exchange")
	ErrPairLocked          = errors.New("pair is locked for new entries")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrAlreadyOpen         = errors.New("trade already open for pair")
	ErrMaxTradesReached    = errors.New("maximum number of open trades reached")
	ErrNotRunning          = errors.New("trader is not running")

	// Store
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// IsTemporary reports whether an error is transient and safe to retry.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTemporary) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrDBConnection)
}
