// Package pricing derives the partner payout from the buyer CPC and the
// platform fee. All arithmetic is exact decimal; results are quantized to
// cents with half-up rounding.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidCPC rejects a non-positive buyer CPC.
var ErrInvalidCPC = errors.New("buyer cpc must be positive")

var hundred = decimal.NewFromInt(100)

// ClampFeePercent bounds a configured fee to [0, 100].
func ClampFeePercent(fee decimal.Decimal) decimal.Decimal {
	if fee.IsNegative() {
		return decimal.Zero
	}
	if fee.GreaterThan(hundred) {
		return hundred
	}
	return fee
}

// PartnerPayout computes cpc * (100 - fee) / 100 rounded half-up to 2
// decimals. The fee is clamped to [0, 100] first, so the payout is always in
// [0, cpc]. A non-positive cpc is ErrInvalidCPC.
func PartnerPayout(cpc, feePercent decimal.Decimal) (decimal.Decimal, error) {
	if !cpc.IsPositive() {
		return decimal.Decimal{}, ErrInvalidCPC
	}
	fee := ClampFeePercent(feePercent)
	return cpc.Mul(hundred.Sub(fee)).Div(hundred).Round(2), nil
}

// PlatformMargin is the per-click platform take: cpc - PartnerPayout.
func PlatformMargin(cpc, feePercent decimal.Decimal) (decimal.Decimal, error) {
	payout, err := PartnerPayout(cpc, feePercent)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return cpc.Sub(payout), nil
}
