package minter

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CompoundLinear advances index by periods using the linear approximation
// index * (1 + periods*rate). Periods are not compounded against each other
// within a single call; the error grows with periods squared, which stays
// negligible while periods are short.
func CompoundLinear(index, rate *uint256.Int, periods uint64) (*uint256.Int, error) {
	if periods == 0 {
		return clone(index), nil
	}
	growth, err := mul(uint256.NewInt(periods), clone(rate))
	if err != nil {
		return nil, err
	}
	factor, err := add(precision, growth)
	if err != nil {
		return nil, err
	}
	return mulDiv(clone(index), factor, precision)
}

// RefreshGlobalIndex advances interest by the whole periods elapsed up to now
// and returns the number of periods consumed. The sub-period remainder is left
// for the next call, so calling twice with the same now is a no-op.
func RefreshGlobalIndex(interest *InterestState, params Params, now uint64) (uint64, error) {
	if interest == nil {
		return 0, fmt.Errorf("%w: interest state missing", ErrInvalidParameters)
	}
	if params.PeriodSeconds == 0 {
		return 0, fmt.Errorf("%w: period length must be positive", ErrInvalidParameters)
	}
	if now < interest.LastUpdate {
		return 0, fmt.Errorf("%w: now %d precedes last update %d", ErrClockRegression, now, interest.LastUpdate)
	}
	periods := (now - interest.LastUpdate) / params.PeriodSeconds
	if periods == 0 {
		return 0, nil
	}
	index, err := CompoundLinear(interest.Index, params.StabilityFee, periods)
	if err != nil {
		return 0, err
	}
	interest.Index = index
	interest.LastUpdate += periods * params.PeriodSeconds
	return periods, nil
}
