package minter

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CollateralizationRatio returns collateral*price/debt as a scaled
// percentage, so an oven holding twice its debt reports 200 * Precision.
// Debt must be positive.
func CollateralizationRatio(collateral, price, debt *uint256.Int) (*uint256.Int, error) {
	if debt == nil || debt.IsZero() {
		return nil, fmt.Errorf("%w: no outstanding debt", ErrDivideByZero)
	}
	value, err := mulDiv(clone(collateral), clone(price), precision)
	if err != nil {
		return nil, err
	}
	ratio, err := mulDiv(value, precision, debt)
	if err != nil {
		return nil, err
	}
	return mul(ratio, hundred)
}

// EnforceMinimum fails with ErrUnderCollateralized when the oven would hold
// less than minRatio. An oven without debt is always compliant.
func EnforceMinimum(collateral, price, debt, minRatio *uint256.Int) error {
	if debt == nil || debt.IsZero() {
		return nil
	}
	ratio, err := CollateralizationRatio(collateral, price, debt)
	if err != nil {
		return err
	}
	if ratio.Lt(clone(minRatio)) {
		return fmt.Errorf("%w: ratio %s below minimum %s", ErrUnderCollateralized, FormatPercent(ratio), FormatPercent(minRatio))
	}
	return nil
}

// EnforceBelowMinimum is the liquidation check: it fails with
// ErrNotUnderCollateralized unless the oven is strictly below minRatio. An
// oven without debt can never be liquidated.
func EnforceBelowMinimum(collateral, price, debt, minRatio *uint256.Int) error {
	if debt == nil || debt.IsZero() {
		return fmt.Errorf("%w: no outstanding debt", ErrNotUnderCollateralized)
	}
	ratio, err := CollateralizationRatio(collateral, price, debt)
	if err != nil {
		return err
	}
	if !ratio.Lt(clone(minRatio)) {
		return fmt.Errorf("%w: ratio %s at or above minimum %s", ErrNotUnderCollateralized, FormatPercent(ratio), FormatPercent(minRatio))
	}
	return nil
}
