package minter

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"ovenmint/crypto"
)

var (
	governor      = makeAddress(crypto.AccountPrefix, 0x01)
	tokenAddr     = makeAddress(crypto.AccountPrefix, 0x02)
	ovenProxy     = makeAddress(crypto.AccountPrefix, 0x03)
	stabilityFund = makeAddress(crypto.AccountPrefix, 0x04)
	devFund       = makeAddress(crypto.AccountPrefix, 0x05)
	ownerAddr     = makeAddress(crypto.AccountPrefix, 0x10)
	liquidator    = makeAddress(crypto.AccountPrefix, 0x11)
	ovenAddr      = makeAddress(crypto.OvenPrefix, 0x20)
)

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = b
	return crypto.NewAddress(prefix, raw)
}

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func dec(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

const one = "1000000000000000000"

func testCollaborators() Collaborators {
	return Collaborators{
		Governor:      governor,
		Token:         tokenAddr,
		OvenProxy:     ovenProxy,
		StabilityFund: stabilityFund,
		DevFund:       devFund,
	}
}

// testState returns genesis at time zero with no stability fee.
func testState(t *testing.T, mutate func(*Params)) State {
	t.Helper()
	params := DefaultParams()
	if mutate != nil {
		mutate(&params)
	}
	if err := params.Validate(); err != nil {
		t.Fatalf("invalid test params: %v", err)
	}
	return NewState(params, testCollaborators(), 0)
}

// activeOven returns a freshly synchronised oven at index 1.0.
func activeOven(collateral, principal, fee uint64) Oven {
	return Oven{
		Address:       ovenAddr,
		Owner:         ownerAddr,
		Collateral:    u(collateral),
		Principal:     u(principal),
		FeeBalance:    new(big.Int).SetUint64(fee),
		InterestIndex: PrecisionInt().ToBig(),
	}
}

func proxyCall(oven Oven, value uint64, now uint64) OvenCall {
	return OvenCall{
		Caller: ovenProxy,
		Value:  u(value),
		Now:    now,
		Price:  PrecisionInt(),
		Oven:   oven,
	}
}

func expectAmount(t *testing.T, label string, got *uint256.Int, want *uint256.Int) {
	t.Helper()
	if got == nil || !got.Eq(want) {
		t.Fatalf("%s: expected %s, got %v", label, want, got)
	}
}

func expectInstruction(t *testing.T, ins Instruction, kind InstructionKind, account crypto.Address, amount uint64) {
	t.Helper()
	if ins.Kind != kind {
		t.Fatalf("expected %s instruction, got %s", kind, ins.Kind)
	}
	if !ins.Account.Equal(account) {
		t.Fatalf("%s: expected account %s, got %s", kind, account, ins.Account)
	}
	expectAmount(t, kind.String()+" amount", ins.Amount, u(amount))
}
