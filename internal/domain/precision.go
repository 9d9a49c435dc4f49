package domain

import "github.com/shopspring/decimal"

// PairPrecision describes the rounding an exchange applies to a pair.
type PairPrecision struct {
	AmountDecimals int32
	PriceDecimals  int32
}

// DefaultPrecision matches common quote-denominated spot pairs.
var DefaultPrecision = PairPrecision{AmountDecimals: 8, PriceDecimals: 8}

// AmountToPrecision truncates an amount to the pair's amount precision.
// Truncates rather than rounds: rounding up could exceed the available
// balance by a fraction the exchange rejects.
func (p PairPrecision) AmountToPrecision(amount float64) float64 {
	d := decimal.NewFromFloat(amount).Truncate(p.AmountDecimals)
	f, _ := d.Float64()
	return f
}

// PriceToPrecision rounds a price to the pair's price precision.
func (p PairPrecision) PriceToPrecision(price float64) float64 {
	d := decimal.NewFromFloat(price).Round(p.PriceDecimals)
	f, _ := d.Float64()
	return f
}
