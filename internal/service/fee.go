package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeCalculator computes the merchant fee recorded on card payments.
type FeeCalculator struct {
	rate decimal.Decimal
}

// NewFeeCalculator parses a decimal rate such as "0.015". The rate must be
// in [0, 1).
func NewFeeCalculator(rate string) (FeeCalculator, error) {
	if rate == "" {
		return FeeCalculator{rate: decimal.Zero}, nil
	}
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return FeeCalculator{}, fmt.Errorf("parsing merchant fee rate %q: %w", rate, err)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeCalculator{}, fmt.Errorf("merchant fee rate must be in [0, 1), got %s", r)
	}
	return FeeCalculator{rate: r}, nil
}

// Fee returns amount × rate rounded half-to-even to whole minor units.
func (f FeeCalculator) Fee(amount int64) int64 {
	if f.rate.IsZero() || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(f.rate).RoundBank(0).IntPart()
}

// Rate returns the configured rate.
func (f FeeCalculator) Rate() decimal.Decimal {
	return f.rate
}
