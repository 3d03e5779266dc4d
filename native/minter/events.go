package minter

import (
	"strconv"

	"github.com/holiman/uint256"

	"ovenmint/core/types"
)

const (
	EventTypeBorrow               = "minter.borrow"
	EventTypeRepay                = "minter.repay"
	EventTypeDeposit              = "minter.deposit"
	EventTypeWithdraw             = "minter.withdraw"
	EventTypeLiquidate            = "minter.liquidate"
	EventTypeIndexUpdated         = "minter.index_updated"
	EventTypeParamsUpdated        = "minter.params_updated"
	EventTypeCollaboratorsUpdated = "minter.collaborators_updated"
)

func amountString(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func indexUpdatedEvent(interest InterestState, periods uint64) *types.Event {
	return types.NewEvent(EventTypeIndexUpdated).
		With("index", amountString(interest.Index)).
		With("lastUpdate", strconv.FormatUint(interest.LastUpdate, 10)).
		With("periods", strconv.FormatUint(periods, 10))
}

func ovenEvent(eventType string, update *OvenUpdate) *types.Event {
	return types.NewEvent(eventType).
		With("oven", update.Oven.String()).
		With("owner", update.Owner.String()).
		With("principal", amountString(update.Principal)).
		With("feeBalance", amountString(update.FeeBalance)).
		With("interestIndex", amountString(update.InterestIndex)).
		With("liquidated", strconv.FormatBool(update.Liquidated)).
		With("value", amountString(update.Value))
}

func paramsUpdatedEvent(p Params) *types.Event {
	ev := types.NewEvent(EventTypeParamsUpdated).
		With("stabilityFee", amountString(p.StabilityFee)).
		With("liquidationFeeRate", amountString(p.LiquidationFeeRate)).
		With("minCollateralRatio", amountString(p.MinCollateralRatio))
	if p.OvenCap != nil {
		ev.With("ovenCap", p.OvenCap.Dec())
	}
	return ev
}

func collaboratorsUpdatedEvent(c Collaborators) *types.Event {
	return types.NewEvent(EventTypeCollaboratorsUpdated).
		With("governor", c.Governor.String()).
		With("token", c.Token.String()).
		With("ovenProxy", c.OvenProxy.String()).
		With("stabilityFund", c.StabilityFund.String()).
		With("devFund", c.DevFund.String())
}
