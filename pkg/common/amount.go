package common

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var maxBaseUnits = decimal.NewFromInt(math.MaxInt64)

// ParseAmount converts a human-readable token amount ("1.5") into base units with the given decimals.
// Digits beyond the token's precision are truncated, never rounded up.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return 0, errors.New("amount must be positive")
	}
	units := d.Shift(decimals).Truncate(0)
	if units.IsZero() {
		return 0, fmt.Errorf("amount %s is below the smallest unit", s)
	}
	if units.GreaterThan(maxBaseUnits) {
		return 0, fmt.Errorf("amount %s is too large", s)
	}
	return uint64(units.IntPart()), nil
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(units uint64, decimals int32) string {
	return FormatBigAmount(new(big.Int).SetUint64(units), decimals)
}

// FormatBigAmount is FormatAmount for on-chain quantities such as balances and allowances, which may exceed uint64.
func FormatBigAmount(units *big.Int, decimals int32) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}
