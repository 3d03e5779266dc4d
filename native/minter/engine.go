package minter

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"ovenmint/core/types"
	"ovenmint/crypto"
	nativecommon "ovenmint/native/common"
)

const moduleName = "minter"

const (
	OperationBorrow              = "borrow"
	OperationRepay               = "repay"
	OperationDeposit             = "deposit"
	OperationWithdraw            = "withdraw"
	OperationLiquidate           = "liquidate"
	OperationUpdateParameters    = "update_parameters"
	OperationUpdateCollaborators = "update_collaborators"
	OperationQueryInterestIndex  = "query_interest_index"
)

// Engine is the pure accounting core. Every operation takes the current
// State and returns a Result holding the successor state and the ordered
// instructions for the collaborators. Inputs are never mutated.
type Engine struct {
	pauses nativecommon.PauseView
}

// NewEngine constructs an engine with no pause view attached.
func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// operation describes the part of an oven entry point that differs between
// borrow, repay, deposit, withdraw and liquidate.
type operation struct {
	name          string
	eventType     string
	requireActive bool
	// precheck runs before the index refresh.
	precheck func(*opContext) error
	// apply runs after accrual and emits the operation specific instructions.
	apply func(*opContext) error
}

// opContext carries the working copy of an oven while an operation runs.
type opContext struct {
	call   OvenCall
	state  State
	params Params

	periods    uint64
	index      *uint256.Int
	collateral *uint256.Int
	principal  *uint256.Int
	fee        *uint256.Int
	liquidated bool
	value      *uint256.Int

	instructions []Instruction
	events       []*types.Event
	// attrs are merged into the operation event.
	attrs map[string]string
}

func (c *opContext) outstanding() (*uint256.Int, error) {
	return add(clone(c.principal), clone(c.fee))
}

func (c *opContext) mint(to crypto.Address, amount *uint256.Int) {
	c.instructions = append(c.instructions, Instruction{Kind: InstructionMint, Account: to, Amount: clone(amount)})
}

func (c *opContext) burn(from crypto.Address, amount *uint256.Int) {
	c.instructions = append(c.instructions, Instruction{Kind: InstructionBurn, Account: from, Amount: clone(amount)})
}

func (c *opContext) transfer(to crypto.Address, amount *uint256.Int) {
	c.instructions = append(c.instructions, Instruction{Kind: InstructionTransfer, Account: to, Amount: clone(amount)})
}

// splitToFunds mints amount to the developer and stability funds, developer
// first.
func (c *opContext) splitToFunds(amount *uint256.Int) error {
	dev, stability, err := Split(amount, c.params.DevFundSplit)
	if err != nil {
		return err
	}
	c.mint(c.state.Collaborators.DevFund, dev)
	c.mint(c.state.Collaborators.StabilityFund, stability)
	return nil
}

func (c *opContext) update() *OvenUpdate {
	return &OvenUpdate{
		Oven:          c.call.Oven.Address,
		Owner:         c.call.Oven.Owner,
		Principal:     clone(c.principal),
		FeeBalance:    clone(c.fee),
		InterestIndex: clone(c.index),
		Liquidated:    c.liquidated,
		Value:         clone(c.value),
	}
}

func (e *Engine) execute(st State, call OvenCall, op operation) (*Result, error) {
	if e != nil {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return nil, err
		}
	}
	if call.Caller.IsZero() || !call.Caller.Equal(st.Collaborators.OvenProxy) {
		return nil, fmt.Errorf("%w: %s is not the oven proxy", ErrUnauthorized, call.Caller)
	}
	ctx := &opContext{
		call:       call,
		state:      st.Clone(),
		collateral: clone(call.Oven.Collateral),
		principal:  clone(call.Oven.Principal),
		liquidated: call.Oven.Liquidated,
		value:      clone(call.Value),
		attrs:      make(map[string]string),
	}
	ctx.params = ctx.state.Params
	if op.precheck != nil {
		if err := op.precheck(ctx); err != nil {
			return nil, err
		}
	}
	periods, err := RefreshGlobalIndex(&ctx.state.Interest, ctx.params, call.Now)
	if err != nil {
		return nil, err
	}
	ctx.periods = periods
	ctx.index = clone(ctx.state.Interest.Index)
	if op.requireActive && ctx.liquidated {
		return nil, fmt.Errorf("%w: %s", ErrLiquidated, call.Oven.Address)
	}
	fee, err := toNat(call.Oven.FeeBalance)
	if err != nil {
		return nil, fmt.Errorf("fee balance: %w", err)
	}
	ovenIndex, err := toNat(call.Oven.InterestIndex)
	if err != nil {
		return nil, fmt.Errorf("interest index: %w", err)
	}
	ctx.fee, err = Accrue(ctx.principal, fee, ovenIndex, ctx.index)
	if err != nil {
		return nil, err
	}
	if op.apply != nil {
		if err := op.apply(ctx); err != nil {
			return nil, err
		}
	}
	update := ctx.update()
	ctx.instructions = append(ctx.instructions, Instruction{
		Kind:    InstructionUpdateOven,
		Account: update.Oven,
		Amount:  clone(update.Value),
		Oven:    update,
	})
	if periods > 0 {
		ctx.events = append(ctx.events, indexUpdatedEvent(ctx.state.Interest, periods))
	}
	ev := ovenEvent(op.eventType, update)
	for k, v := range ctx.attrs {
		ev.With(k, v)
	}
	ctx.events = append(ctx.events, ev)
	return &Result{
		Operation:    op.name,
		State:        ctx.state,
		Instructions: ctx.instructions,
		Oven:         update,
		Events:       ctx.events,
	}, nil
}

// Borrow mints amount to the oven owner provided the oven stays above the
// minimum collateralization ratio.
func (e *Engine) Borrow(st State, call OvenCall, amount *uint256.Int) (*Result, error) {
	return e.execute(st, call, operation{
		name:          OperationBorrow,
		eventType:     EventTypeBorrow,
		requireActive: true,
		apply: func(c *opContext) error {
			principal, err := add(c.principal, clone(amount))
			if err != nil {
				return err
			}
			outstanding, err := add(clone(principal), clone(c.fee))
			if err != nil {
				return err
			}
			if err := EnforceMinimum(c.collateral, c.call.Price, outstanding, c.params.MinCollateralRatio); err != nil {
				return err
			}
			c.principal = principal
			c.mint(c.call.Oven.Owner, amount)
			c.attrs["amount"] = amountString(amount)
			return nil
		},
	})
}

// Repay burns amount from the owner. Stability fees are settled before
// principal and the settled fee is minted to the funds.
func (e *Engine) Repay(st State, call OvenCall, amount *uint256.Int) (*Result, error) {
	return e.execute(st, call, operation{
		name:          OperationRepay,
		eventType:     EventTypeRepay,
		requireActive: true,
		apply: func(c *opContext) error {
			amount := clone(amount)
			feePaid := clone(amount)
			if amount.Lt(c.fee) {
				c.fee = new(uint256.Int).Sub(c.fee, amount)
			} else {
				feePaid = clone(c.fee)
				remainder := new(uint256.Int).Sub(amount, c.fee)
				if remainder.Gt(c.principal) {
					return fmt.Errorf("%w: repay %s exceeds outstanding %s", ErrInsufficientDebt, amount, new(uint256.Int).Add(c.principal, c.fee))
				}
				c.principal = new(uint256.Int).Sub(c.principal, remainder)
				c.fee = zero()
			}
			if err := c.splitToFunds(feePaid); err != nil {
				return err
			}
			c.burn(c.call.Oven.Owner, amount)
			c.attrs["amount"] = amount.Dec()
			c.attrs["feePaid"] = feePaid.Dec()
			return nil
		},
	})
}

// Deposit records new collateral. The attached value is the oven balance
// after the deposit and is checked against the oven cap.
func (e *Engine) Deposit(st State, call OvenCall) (*Result, error) {
	return e.execute(st, call, operation{
		name:          OperationDeposit,
		eventType:     EventTypeDeposit,
		requireActive: true,
		precheck: func(c *opContext) error {
			if c.params.OvenCap != nil && c.value.Gt(c.params.OvenCap) {
				return fmt.Errorf("%w: balance %s above cap %s", ErrCapExceeded, c.value, c.params.OvenCap)
			}
			return nil
		},
	})
}

// Withdraw sends amount of native value to the owner. Liquidated ovens may
// still withdraw whatever balance they hold.
func (e *Engine) Withdraw(st State, call OvenCall, amount *uint256.Int) (*Result, error) {
	return e.execute(st, call, operation{
		name:      OperationWithdraw,
		eventType: EventTypeWithdraw,
		apply: func(c *opContext) error {
			amount := clone(amount)
			if amount.Gt(c.value) {
				return fmt.Errorf("%w: withdraw %s exceeds balance %s", ErrInsufficientDebt, amount, c.value)
			}
			outstanding, err := c.outstanding()
			if err != nil {
				return err
			}
			if !outstanding.IsZero() {
				scaled, err := mul(clone(amount), clone(c.params.NativeScale))
				if err != nil {
					return err
				}
				remaining, err := sub(clone(c.collateral), scaled)
				if err != nil {
					if errors.Is(err, ErrArithmeticInvariant) {
						return fmt.Errorf("%w: withdraw %s exceeds collateral %s", ErrInsufficientDebt, scaled, c.collateral)
					}
					return err
				}
				if err := EnforceMinimum(remaining, c.call.Price, outstanding, c.params.MinCollateralRatio); err != nil {
					return err
				}
			}
			c.transfer(c.call.Oven.Owner, amount)
			c.value = new(uint256.Int).Sub(c.value, amount)
			c.attrs["amount"] = amount.Dec()
			return nil
		},
	})
}

// Liquidate closes an under-collateralized oven. The liquidator burns the
// outstanding debt plus the liquidation fee and receives the whole oven
// balance; fees are minted to the funds.
func (e *Engine) Liquidate(st State, call OvenCall, liquidator crypto.Address) (*Result, error) {
	return e.execute(st, call, operation{
		name:          OperationLiquidate,
		eventType:     EventTypeLiquidate,
		requireActive: true,
		apply: func(c *opContext) error {
			outstanding, err := c.outstanding()
			if err != nil {
				return err
			}
			if err := EnforceBelowMinimum(c.collateral, c.call.Price, outstanding, c.params.MinCollateralRatio); err != nil {
				return err
			}
			liquidationFee, err := mulDiv(clone(outstanding), clone(c.params.LiquidationFeeRate), precision)
			if err != nil {
				return err
			}
			burned, err := add(clone(outstanding), liquidationFee)
			if err != nil {
				return err
			}
			toFunds, err := add(clone(c.fee), liquidationFee)
			if err != nil {
				return err
			}
			c.burn(liquidator, burned)
			if err := c.splitToFunds(toFunds); err != nil {
				return err
			}
			c.transfer(liquidator, c.value)
			c.principal = zero()
			c.fee = zero()
			c.liquidated = true
			c.value = zero()
			c.attrs["liquidator"] = liquidator.String()
			c.attrs["burned"] = burned.Dec()
			c.attrs["liquidationFee"] = liquidationFee.Dec()
			c.attrs["seized"] = amountString(c.call.Value)
			return nil
		},
	})
}
