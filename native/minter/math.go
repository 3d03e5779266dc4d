package minter

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Precision is the fixed-point scale shared by every ratio in the module.
const Precision = 1_000_000_000_000_000_000

var (
	precision    = uint256.NewInt(Precision)
	hundred      = uint256.NewInt(100)
	maxUint256Bi = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// PrecisionInt returns a fresh copy of the fixed-point scale.
func PrecisionInt() *uint256.Int {
	return new(uint256.Int).Set(precision)
}

func zero() *uint256.Int { return new(uint256.Int) }

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// mulDiv computes floor(a*b/d) with a 512-bit intermediate product.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s/%s overflows", ErrArithmeticInvariant, a, b, d)
	}
	return out, nil
}

func mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s overflows", ErrArithmeticInvariant, a, b)
	}
	return out, nil
}

func add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s+%s overflows", ErrArithmeticInvariant, a, b)
	}
	return out, nil
}

// sub returns a-b and fails when the result would be negative.
func sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s-%s underflows", ErrArithmeticInvariant, a, b)
	}
	return out, nil
}

// toNat converts a signed wire value to an unsigned amount. Nil is treated as
// zero; negative values violate the non-negativity invariant.
func toNat(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value %s", ErrArithmeticInvariant, x)
	}
	if x.Cmp(maxUint256Bi) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrArithmeticInvariant, x)
	}
	out, _ := uint256.FromBig(x)
	return out, nil
}

// toInt converts an unsigned amount back to the signed wire representation.
func toInt(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}
