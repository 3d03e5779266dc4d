package minter

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"ovenmint/core/types"
	"ovenmint/crypto"
)

const (
	// DefaultPeriodSeconds is the compounding period length.
	DefaultPeriodSeconds uint64 = 60
	// DefaultNativeScale converts six-decimal native units into the
	// eighteen-decimal precision of the debt token.
	DefaultNativeScale uint64 = 1_000_000_000_000
)

// Params groups the protocol parameters owned by the minter. Ratios are scaled
// by Precision; the collateralization ratio is a scaled percentage so 200% is
// 200 * Precision.
type Params struct {
	// MinCollateralRatio is the ratio an oven must hold after borrowing or
	// withdrawing, and the threshold below which it becomes liquidatable.
	MinCollateralRatio *uint256.Int
	// StabilityFee is the interest charged per compounding period.
	StabilityFee *uint256.Int
	// LiquidationFeeRate is the share of outstanding debt a liquidator pays
	// on top of the debt itself.
	LiquidationFeeRate *uint256.Int
	// DevFundSplit is the share of fund mints routed to the developer fund.
	// The stability fund receives the remainder.
	DevFundSplit *uint256.Int
	// OvenCap bounds the native balance of an oven after a deposit. Nil
	// disables the cap.
	OvenCap *uint256.Int
	// PeriodSeconds is the length of one compounding period.
	PeriodSeconds uint64
	// NativeScale converts native base units into debt-token units.
	NativeScale *uint256.Int
}

// DefaultParams mirrors the launch configuration: 200% collateral, no
// stability fee, 8% liquidation fee, 10% developer split and a 100 unit cap.
func DefaultParams() Params {
	return Params{
		MinCollateralRatio: new(uint256.Int).Mul(uint256.NewInt(200), precision),
		StabilityFee:       new(uint256.Int),
		LiquidationFeeRate: uint256.NewInt(80_000_000_000_000_000),
		DevFundSplit:       uint256.NewInt(100_000_000_000_000_000),
		OvenCap:            uint256.NewInt(100_000_000),
		PeriodSeconds:      DefaultPeriodSeconds,
		NativeScale:        uint256.NewInt(DefaultNativeScale),
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	out := Params{
		MinCollateralRatio: clone(p.MinCollateralRatio),
		StabilityFee:       clone(p.StabilityFee),
		LiquidationFeeRate: clone(p.LiquidationFeeRate),
		DevFundSplit:       clone(p.DevFundSplit),
		PeriodSeconds:      p.PeriodSeconds,
		NativeScale:        clone(p.NativeScale),
	}
	if p.OvenCap != nil {
		out.OvenCap = clone(p.OvenCap)
	}
	return out
}

// Validate checks the structural requirements the engine relies on. Values
// are otherwise trusted as set by governance.
func (p Params) Validate() error {
	switch {
	case p.MinCollateralRatio == nil:
		return fmt.Errorf("%w: min collateral ratio required", ErrInvalidParameters)
	case p.StabilityFee == nil:
		return fmt.Errorf("%w: stability fee required", ErrInvalidParameters)
	case p.LiquidationFeeRate == nil:
		return fmt.Errorf("%w: liquidation fee required", ErrInvalidParameters)
	case p.DevFundSplit == nil:
		return fmt.Errorf("%w: developer fund split required", ErrInvalidParameters)
	case p.DevFundSplit.Gt(precision):
		return fmt.Errorf("%w: developer fund split above 100%%", ErrInvalidParameters)
	case p.PeriodSeconds == 0:
		return fmt.Errorf("%w: period length must be positive", ErrInvalidParameters)
	case p.NativeScale == nil || p.NativeScale.IsZero():
		return fmt.Errorf("%w: native scale must be positive", ErrInvalidParameters)
	}
	return nil
}

// ParamsUpdate is the governance-mutable subset of Params.
type ParamsUpdate struct {
	StabilityFee       *uint256.Int
	LiquidationFeeRate *uint256.Int
	MinCollateralRatio *uint256.Int
	OvenCap            *uint256.Int
}

// Collaborators lists the external identities the minter talks to.
type Collaborators struct {
	Governor      crypto.Address
	Token         crypto.Address
	OvenProxy     crypto.Address
	StabilityFund crypto.Address
	DevFund       crypto.Address
}

// InterestState is the pool-wide interest index and the time it was last
// advanced by a whole number of periods.
type InterestState struct {
	Index      *uint256.Int
	LastUpdate uint64
}

// Clone returns a deep copy of the interest state.
func (s InterestState) Clone() InterestState {
	return InterestState{Index: clone(s.Index), LastUpdate: s.LastUpdate}
}

// State bundles the singletons the minter owns. Operations receive a State
// and return the successor; the input is never mutated.
type State struct {
	Params        Params
	Collaborators Collaborators
	Interest      InterestState
}

// NewState builds the genesis state with the index at 1.0.
func NewState(params Params, collaborators Collaborators, genesis uint64) State {
	return State{
		Params:        params.Clone(),
		Collaborators: collaborators,
		Interest:      InterestState{Index: PrecisionInt(), LastUpdate: genesis},
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{
		Params:        s.Params.Clone(),
		Collaborators: s.Collaborators,
		Interest:      s.Interest.Clone(),
	}
}

// Oven is the snapshot of a position forwarded by the registry. Fee balance
// and interest index are signed on the wire and converted on entry.
type Oven struct {
	Address crypto.Address
	Owner   crypto.Address
	// Collateral is the oven balance expressed in debt-token units.
	Collateral *uint256.Int
	// Principal is the borrowed amount excluding fees.
	Principal *uint256.Int
	// FeeBalance is the accrued but unpaid stability fee.
	FeeBalance *big.Int
	// InterestIndex is the global index last synchronised into the oven.
	InterestIndex *big.Int
	Liquidated    bool
}

// OvenCall is the envelope every oven operation arrives in.
type OvenCall struct {
	// Caller is the identity invoking the entry point.
	Caller crypto.Address
	// Value is the native amount attached to the call. It is the oven's
	// authoritative native balance at call time.
	Value *uint256.Int
	// Now is the current time in unix seconds.
	Now uint64
	// Price is the collateral price in debt-token units, scaled by Precision.
	Price *uint256.Int
	Oven  Oven
}

// OvenUpdate is the state the registry must persist for an oven, together
// with the native amount returned to its custody.
type OvenUpdate struct {
	Oven          crypto.Address
	Owner         crypto.Address
	Principal     *uint256.Int
	FeeBalance    *uint256.Int
	InterestIndex *uint256.Int
	Liquidated    bool
	Value         *uint256.Int
}

// Outstanding returns principal plus fees.
func (u *OvenUpdate) Outstanding() *uint256.Int {
	if u == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Add(clone(u.Principal), clone(u.FeeBalance))
}

// InstructionKind enumerates the outbound effects of an operation.
type InstructionKind uint8

const (
	InstructionMint InstructionKind = iota + 1
	InstructionBurn
	InstructionTransfer
	InstructionUpdateOven
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionMint:
		return "mint"
	case InstructionBurn:
		return "burn"
	case InstructionTransfer:
		return "transfer"
	case InstructionUpdateOven:
		return "update_oven"
	default:
		return "unknown"
	}
}

// Instruction is a single outbound effect. Mint and Burn target the token
// ledger, Transfer moves native value, UpdateOven goes to the registry.
type Instruction struct {
	Kind    InstructionKind
	Account crypto.Address
	Amount  *uint256.Int
	Oven    *OvenUpdate
}

// Result is the outcome of a core operation: the successor state and the
// ordered instructions that must be applied together with it.
type Result struct {
	Operation    string
	State        State
	Instructions []Instruction
	Oven         *OvenUpdate
	Events       []*types.Event
}

// Minted sums the mint instructions.
func (r *Result) Minted() *uint256.Int {
	return r.sum(InstructionMint)
}

// Burned sums the burn instructions.
func (r *Result) Burned() *uint256.Int {
	return r.sum(InstructionBurn)
}

// Transferred sums the native transfer instructions.
func (r *Result) Transferred() *uint256.Int {
	return r.sum(InstructionTransfer)
}

func (r *Result) sum(kind InstructionKind) *uint256.Int {
	total := new(uint256.Int)
	if r == nil {
		return total
	}
	for _, ins := range r.Instructions {
		if ins.Kind == kind && ins.Amount != nil {
			total.Add(total, ins.Amount)
		}
	}
	return total
}
