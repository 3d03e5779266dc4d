package minter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"ovenmint/crypto"
)

var errNilBackend = errors.New("minter: backend not configured")

// Tx stages the effects of one operation on the collaborators. Nothing is
// visible to readers until Commit succeeds; Discard drops every staged write.
type Tx interface {
	Mint(to crypto.Address, amount *uint256.Int) error
	Burn(from crypto.Address, amount *uint256.Int) error
	// Attach moves the native value attached to a call out of the oven's
	// custody and into the minter.
	Attach(oven crypto.Address, amount *uint256.Int) error
	// Transfer credits native value held by the minter to an account.
	Transfer(to crypto.Address, amount *uint256.Int) error
	// UpdateOven persists the oven snapshot and returns update.Value to the
	// oven's custody.
	UpdateOven(update *OvenUpdate) error
	PutState(st State) error
	Commit() error
	Discard()
}

// Backend is the persistence boundary of the module.
type Backend interface {
	// LoadState returns the persisted singletons. The boolean is false when
	// nothing has been stored yet.
	LoadState() (State, bool, error)
	Begin() (Tx, error)
}

// Observer receives the outcome of every operation. Metrics collectors
// implement it.
type Observer interface {
	Observe(operation string, result *Result, err error)
}

// Module serialises operations over the engine and applies each result to
// the backend as a single transaction.
type Module struct {
	mu       sync.Mutex
	engine   *Engine
	backend  Backend
	state    State
	logger   *slog.Logger
	observer Observer
}

// Option customises a Module.
type Option func(*Module)

// WithLogger sets the structured logger used for operation logs.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver attaches an observer notified after every operation.
func WithObserver(observer Observer) Option {
	return func(m *Module) { m.observer = observer }
}

// NewModule loads the persisted state from backend, or stores genesis when
// the backend is empty.
func NewModule(engine *Engine, backend Backend, genesis State, opts ...Option) (*Module, error) {
	if backend == nil {
		return nil, errNilBackend
	}
	if engine == nil {
		engine = NewEngine()
	}
	m := &Module{engine: engine, backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	st, ok, err := backend.LoadState()
	if err != nil {
		return nil, fmt.Errorf("load minter state: %w", err)
	}
	if ok {
		m.state = st
		return m, nil
	}
	if err := genesis.Params.Validate(); err != nil {
		return nil, err
	}
	tx, err := backend.Begin()
	if err != nil {
		return nil, err
	}
	if err := tx.PutState(genesis); err != nil {
		tx.Discard()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		tx.Discard()
		return nil, err
	}
	m.state = genesis.Clone()
	return m, nil
}

// State returns a copy of the current singletons.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Engine exposes the underlying engine, e.g. to attach a pause view.
func (m *Module) Engine() *Engine {
	return m.engine
}

func (m *Module) Borrow(ctx context.Context, call OvenCall, amount *uint256.Int) (*Result, error) {
	return m.run(ctx, OperationBorrow, &call, func(st State) (*Result, error) {
		return m.engine.Borrow(st, call, amount)
	})
}

func (m *Module) Repay(ctx context.Context, call OvenCall, amount *uint256.Int) (*Result, error) {
	return m.run(ctx, OperationRepay, &call, func(st State) (*Result, error) {
		return m.engine.Repay(st, call, amount)
	})
}

func (m *Module) Deposit(ctx context.Context, call OvenCall) (*Result, error) {
	return m.run(ctx, OperationDeposit, &call, func(st State) (*Result, error) {
		return m.engine.Deposit(st, call)
	})
}

func (m *Module) Withdraw(ctx context.Context, call OvenCall, amount *uint256.Int) (*Result, error) {
	return m.run(ctx, OperationWithdraw, &call, func(st State) (*Result, error) {
		return m.engine.Withdraw(st, call, amount)
	})
}

func (m *Module) Liquidate(ctx context.Context, call OvenCall, liquidator crypto.Address) (*Result, error) {
	return m.run(ctx, OperationLiquidate, &call, func(st State) (*Result, error) {
		return m.engine.Liquidate(st, call, liquidator)
	})
}

func (m *Module) UpdateParameters(ctx context.Context, caller crypto.Address, now uint64, update ParamsUpdate) (*Result, error) {
	return m.run(ctx, OperationUpdateParameters, nil, func(st State) (*Result, error) {
		return m.engine.UpdateParameters(st, caller, now, update)
	})
}

func (m *Module) UpdateCollaborators(ctx context.Context, caller crypto.Address, collaborators Collaborators) (*Result, error) {
	return m.run(ctx, OperationUpdateCollaborators, nil, func(st State) (*Result, error) {
		return m.engine.UpdateCollaborators(st, caller, collaborators)
	})
}

// QueryInterestIndex refreshes the index, persists the advance and returns
// the current value.
func (m *Module) QueryInterestIndex(ctx context.Context, now uint64, value *uint256.Int) (*uint256.Int, *Result, error) {
	var index *uint256.Int
	res, err := m.run(ctx, OperationQueryInterestIndex, nil, func(st State) (*Result, error) {
		return m.engine.QueryInterestIndex(st, now, value, func(idx *uint256.Int) error {
			index = idx
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return index, res, nil
}

func (m *Module) run(ctx context.Context, name string, call *OvenCall, fn func(State) (*Result, error)) (res *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if m.observer != nil {
			m.observer.Observe(name, res, err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err = fn(m.state.Clone())
	if err == nil && call != nil {
		err = checkConservation(call.Value, res)
	}
	if err == nil {
		err = m.apply(res, call)
	}
	if err != nil {
		m.logger.Warn("minter operation rejected", slog.String("operation", name), slog.Any("error", err))
		return nil, err
	}
	m.state = res.State.Clone()
	attrs := []any{
		slog.String("operation", name),
		slog.String("index", m.state.Interest.Index.Dec()),
		slog.Int("instructions", len(res.Instructions)),
	}
	if res.Oven != nil {
		attrs = append(attrs, slog.String("oven", res.Oven.Oven.String()))
	}
	m.logger.Info("minter operation committed", attrs...)
	return res, nil
}

// checkConservation verifies that the native value attached to a call is
// either transferred out or returned to the oven.
func checkConservation(value *uint256.Int, res *Result) error {
	if res == nil || res.Oven == nil {
		return fmt.Errorf("%w: oven update missing", ErrArithmeticInvariant)
	}
	out, err := add(res.Transferred(), clone(res.Oven.Value))
	if err != nil {
		return err
	}
	if !out.Eq(clone(value)) {
		return fmt.Errorf("%w: attached %s but accounted %s", ErrArithmeticInvariant, clone(value), out)
	}
	return nil
}

// apply stages res on one transaction. For oven calls the attached value is
// taken from custody before any instruction runs.
func (m *Module) apply(res *Result, call *OvenCall) (err error) {
	tx, err := m.backend.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Discard()
		}
	}()
	if call != nil {
		if err = tx.Attach(call.Oven.Address, clone(call.Value)); err != nil {
			return fmt.Errorf("attach value: %w", err)
		}
	}
	for i, ins := range res.Instructions {
		switch ins.Kind {
		case InstructionMint:
			err = tx.Mint(ins.Account, ins.Amount)
		case InstructionBurn:
			err = tx.Burn(ins.Account, ins.Amount)
		case InstructionTransfer:
			err = tx.Transfer(ins.Account, ins.Amount)
		case InstructionUpdateOven:
			err = tx.UpdateOven(ins.Oven)
		default:
			err = fmt.Errorf("minter: unknown instruction kind %d", ins.Kind)
		}
		if err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, ins.Kind, err)
		}
	}
	if err = tx.PutState(res.State); err != nil {
		return err
	}
	return tx.Commit()
}
