package minter

import (
	"fmt"

	"github.com/holiman/uint256"
)

// AccruedFee returns the fee newly accrued by an oven whose debt was last
// synchronised at ovenIndex, now that the global index is globalIndex. The
// fee is charged on principal plus the fee balance, so unpaid fees compound.
func AccruedFee(principal, feeBalance, ovenIndex, globalIndex *uint256.Int) (*uint256.Int, error) {
	if ovenIndex == nil || ovenIndex.IsZero() {
		return nil, fmt.Errorf("%w: oven interest index is zero", ErrDivideByZero)
	}
	ratio, err := mulDiv(clone(globalIndex), precision, ovenIndex)
	if err != nil {
		return nil, err
	}
	before, err := add(clone(principal), clone(feeBalance))
	if err != nil {
		return nil, err
	}
	after, err := mulDiv(ratio, before, precision)
	if err != nil {
		return nil, err
	}
	return sub(after, before)
}

// Accrue returns the oven's fee balance brought up to globalIndex. The caller
// records globalIndex as the oven's new interest index.
func Accrue(principal, feeBalance, ovenIndex, globalIndex *uint256.Int) (*uint256.Int, error) {
	accrued, err := AccruedFee(principal, feeBalance, ovenIndex, globalIndex)
	if err != nil {
		return nil, err
	}
	return add(clone(feeBalance), accrued)
}
