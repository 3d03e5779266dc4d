package minter

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const precisionDecimals = 18

// FormatScaled renders a Precision-scaled value as a decimal string, e.g.
// 1.1 for 1_100_000_000_000_000_000.
func FormatScaled(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -precisionDecimals).String()
}

// FormatPercent renders a scaled percentage with a trailing percent sign.
func FormatPercent(x *uint256.Int) string {
	return FormatScaled(x) + "%"
}

// ParseScaled parses a human decimal such as "0.08" or "200" into its
// Precision-scaled integer form. Inputs with more than eighteen fractional
// digits or negative values are rejected.
func ParseScaled(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty decimal", ErrInvalidParameters)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative decimal %s", ErrInvalidParameters, raw)
	}
	scaled := d.Shift(precisionDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidParameters, raw, precisionDecimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidParameters, raw)
	}
	return out, nil
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidParameters)
	}
	out, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidParameters, raw, err)
	}
	return out, nil
}
