package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	genesisconfig "ovenmint/config"
	"ovenmint/core/state"
	"ovenmint/crypto"
	"ovenmint/native/minter"
	"ovenmint/storage"
)

func TestSeedAllocationsOnlyOnFirstStart(t *testing.T) {
	oven := crypto.NewAddress(crypto.OvenPrefix, bytes.Repeat([]byte{0x0a}, crypto.AddressLength))
	account := func(b byte) string {
		return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength)).String()
	}
	genesis := genesisconfig.Default()
	genesis.Collaborators = genesisconfig.Collaborators{
		Governor:      account(1),
		Token:         account(2),
		OvenProxy:     account(3),
		StabilityFund: account(4),
		DevFund:       account(5),
	}
	genesis.Allocations = []genesisconfig.Allocation{{Address: oven.String(), Native: "4000000"}}

	ledger := state.NewLedger(storage.NewMemDB())
	require.NoError(t, seedAllocations(ledger, genesis))
	custody, err := ledger.NativeBalance(oven)
	require.NoError(t, err)
	require.Equal(t, uint64(4_000_000), custody.Uint64())

	st, err := genesis.State()
	require.NoError(t, err)
	_, err = minter.NewModule(minter.NewEngine(), ledger, st)
	require.NoError(t, err)

	require.NoError(t, seedAllocations(ledger, genesis))
	custody, err = ledger.NativeBalance(oven)
	require.NoError(t, err)
	require.Equal(t, uint64(4_000_000), custody.Uint64(), "restart must not fund twice")
}
