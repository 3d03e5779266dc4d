package minter

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestUpdateParametersRefreshesWithOldFee(t *testing.T) {
	st := testState(t, func(p *Params) { p.StabilityFee = dec(tenPercent) })
	update := ParamsUpdate{
		StabilityFee:       u(0),
		LiquidationFeeRate: dec("50000000000000000"),
		MinCollateralRatio: dec("150000000000000000000"),
	}
	res, err := NewEngine().UpdateParameters(st, governor, 120, update)
	if err != nil {
		t.Fatalf("update parameters: %v", err)
	}
	expectAmount(t, "index", res.State.Interest.Index, dec("1200000000000000000"))
	expectAmount(t, "stability fee", res.State.Params.StabilityFee, u(0))
	expectAmount(t, "liquidation fee", res.State.Params.LiquidationFeeRate, dec("50000000000000000"))
	expectAmount(t, "collateral ratio", res.State.Params.MinCollateralRatio, dec("150000000000000000000"))
	if res.State.Params.OvenCap != nil {
		t.Fatalf("nil cap in the update must remove the cap")
	}
	expectAmount(t, "dev split untouched", res.State.Params.DevFundSplit, st.Params.DevFundSplit)
	if res.State.Params.PeriodSeconds != st.Params.PeriodSeconds {
		t.Fatalf("period length must not change")
	}
	expectAmount(t, "input fee untouched", st.Params.StabilityFee, dec(tenPercent))
	if got := res.Events[len(res.Events)-1].Type; got != EventTypeParamsUpdated {
		t.Fatalf("expected params event, got %s", got)
	}
}

func TestUpdateParametersRequiresGovernor(t *testing.T) {
	st := testState(t, nil)
	update := ParamsUpdate{StabilityFee: u(1), LiquidationFeeRate: u(1), MinCollateralRatio: u(1)}
	if _, err := NewEngine().UpdateParameters(st, ovenProxy, 0, update); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := NewEngine().UpdateParameters(st, governor, 0, ParamsUpdate{}); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
}

func TestUpdateCollaborators(t *testing.T) {
	st := testState(t, nil)
	next := testCollaborators()
	next.OvenProxy = ownerAddr

	if _, err := NewEngine().UpdateCollaborators(st, ownerAddr, next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	res, err := NewEngine().UpdateCollaborators(st, governor, next)
	if err != nil {
		t.Fatalf("update collaborators: %v", err)
	}
	if !res.State.Collaborators.OvenProxy.Equal(ownerAddr) {
		t.Fatalf("oven proxy not replaced")
	}
	if !st.Collaborators.OvenProxy.Equal(ovenProxy) {
		t.Fatalf("input state mutated")
	}
	if _, err := NewEngine().Borrow(res.State, proxyCall(activeOven(200, 0, 0), 200, 0), u(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old proxy must lose access, got %v", err)
	}
}

func TestQueryInterestIndex(t *testing.T) {
	st := testState(t, func(p *Params) { p.StabilityFee = dec(tenPercent) })
	engine := NewEngine()

	if _, err := engine.QueryInterestIndex(st, 60, u(1), nil); !errors.Is(err, ErrValueNotAllowed) {
		t.Fatalf("expected ErrValueNotAllowed, got %v", err)
	}

	var seen *uint256.Int
	res, err := engine.QueryInterestIndex(st, 60, u(0), func(idx *uint256.Int) error {
		seen = idx
		return nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	expectAmount(t, "callback index", seen, dec("1100000000000000000"))
	expectAmount(t, "state index", res.State.Interest.Index, dec("1100000000000000000"))

	boom := errors.New("callback failed")
	if _, err := engine.QueryInterestIndex(st, 60, nil, func(*uint256.Int) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
