package minter

import (
	"fmt"

	"github.com/holiman/uint256"

	"ovenmint/core/types"
	"ovenmint/crypto"
)

func requireGovernor(st State, caller crypto.Address) error {
	if caller.IsZero() || !caller.Equal(st.Collaborators.Governor) {
		return fmt.Errorf("%w: %s is not the governor", ErrUnauthorized, caller)
	}
	return nil
}

// UpdateParameters replaces the governance-mutable parameters. The index is
// advanced under the old stability fee first so the new rate only applies
// from now on. A nil OvenCap removes the cap.
func (e *Engine) UpdateParameters(st State, caller crypto.Address, now uint64, update ParamsUpdate) (*Result, error) {
	if err := requireGovernor(st, caller); err != nil {
		return nil, err
	}
	if update.StabilityFee == nil || update.LiquidationFeeRate == nil || update.MinCollateralRatio == nil {
		return nil, fmt.Errorf("%w: stability fee, liquidation fee and collateral ratio are required", ErrInvalidParameters)
	}
	next := st.Clone()
	periods, err := RefreshGlobalIndex(&next.Interest, next.Params, now)
	if err != nil {
		return nil, err
	}
	next.Params.StabilityFee = clone(update.StabilityFee)
	next.Params.LiquidationFeeRate = clone(update.LiquidationFeeRate)
	next.Params.MinCollateralRatio = clone(update.MinCollateralRatio)
	next.Params.OvenCap = nil
	if update.OvenCap != nil {
		next.Params.OvenCap = clone(update.OvenCap)
	}
	var events []*types.Event
	if periods > 0 {
		events = append(events, indexUpdatedEvent(next.Interest, periods))
	}
	events = append(events, paramsUpdatedEvent(next.Params))
	return &Result{Operation: OperationUpdateParameters, State: next, Events: events}, nil
}

// UpdateCollaborators replaces the collaborator identities verbatim.
func (e *Engine) UpdateCollaborators(st State, caller crypto.Address, collaborators Collaborators) (*Result, error) {
	if err := requireGovernor(st, caller); err != nil {
		return nil, err
	}
	next := st.Clone()
	next.Collaborators = collaborators
	return &Result{
		Operation: OperationUpdateCollaborators,
		State:     next,
		Events:    []*types.Event{collaboratorsUpdatedEvent(collaborators)},
	}, nil
}

// QueryInterestIndex refreshes the index and hands a copy of it to callback.
// The call is view-style and rejects any attached value. A callback error
// aborts the query and leaves the state untouched.
func (e *Engine) QueryInterestIndex(st State, now uint64, value *uint256.Int, callback func(*uint256.Int) error) (*Result, error) {
	if value != nil && !value.IsZero() {
		return nil, fmt.Errorf("%w: %s attached", ErrValueNotAllowed, value)
	}
	next := st.Clone()
	periods, err := RefreshGlobalIndex(&next.Interest, next.Params, now)
	if err != nil {
		return nil, err
	}
	if callback != nil {
		if err := callback(clone(next.Interest.Index)); err != nil {
			return nil, err
		}
	}
	var events []*types.Event
	if periods > 0 {
		events = append(events, indexUpdatedEvent(next.Interest, periods))
	}
	return &Result{Operation: OperationQueryInterestIndex, State: next, Events: events}, nil
}
