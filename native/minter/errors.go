package minter

import "errors"

var (
	// ErrUnauthorized is returned when the caller is not the identity an entry
	// point is restricted to (oven proxy or governor).
	ErrUnauthorized = errors.New("minter: unauthorized caller")
	// ErrLiquidated rejects operations on ovens that reached the terminal state.
	ErrLiquidated = errors.New("minter: oven is liquidated")
	// ErrUnderCollateralized is returned when an operation would leave the oven
	// below the minimum collateralization ratio.
	ErrUnderCollateralized = errors.New("minter: oven under-collateralized")
	// ErrNotUnderCollateralized rejects liquidation of a compliant oven.
	ErrNotUnderCollateralized = errors.New("minter: oven not under-collateralized")
	// ErrCapExceeded is returned when a deposit pushes the oven above the cap.
	ErrCapExceeded = errors.New("minter: oven value cap exceeded")
	// ErrValueNotAllowed rejects native value attached to a view call.
	ErrValueNotAllowed = errors.New("minter: value not allowed")
	// ErrInsufficientDebt is returned when a repay or withdraw amount exceeds
	// the available balance.
	ErrInsufficientDebt = errors.New("minter: amount exceeds available balance")
	// ErrArithmeticInvariant signals a violated arithmetic invariant: an
	// underflow, a negative signed input or a 256-bit overflow.
	ErrArithmeticInvariant = errors.New("minter: arithmetic invariant violated")
	// ErrClockRegression is returned when the supplied time precedes the last
	// index update.
	ErrClockRegression = errors.New("minter: clock regression")
	// ErrDivideByZero is returned for an oven whose interest index is zero.
	ErrDivideByZero = errors.New("minter: division by zero")
	// ErrInvalidParameters rejects malformed parameter sets.
	ErrInvalidParameters = errors.New("minter: invalid parameters")
)
