package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountToPrecisionTruncates(t *testing.T) {
	p := PairPrecision{AmountDecimals: 3, PriceDecimals: 2}
	assert.Equal(t, 0.123, p.AmountToPrecision(0.123999))
	assert.Equal(t, 0.123, p.AmountToPrecision(0.123001))
}

func TestPriceToPrecisionRounds(t *testing.T) {
	p := PairPrecision{AmountDecimals: 3, PriceDecimals: 2}
	assert.Equal(t, 1999.99, p.PriceToPrecision(1999.994))
	assert.Equal(t, 2000.0, p.PriceToPrecision(1999.995))
}
