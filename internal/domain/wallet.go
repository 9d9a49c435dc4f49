package domain

// Wallet is a per-currency balance snapshot.
type Wallet struct {
	Currency string
	Free     float64
	Used     float64
	Total    float64
}

// Position is an exchange-reported open position (futures/margin accounts).
type Position struct {
	Pair     string
	Side     OrderSide
	Size     float64 // Base-currency size, always positive
	Value    float64 // Quote-currency notional
	Leverage float64
}
