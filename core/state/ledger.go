package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"ovenmint/crypto"
	"ovenmint/native/minter"
	"ovenmint/storage"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrTxClosed            = errors.New("ledger: transaction already closed")
)

// storedState is the RLP layout of the minter singletons. Addresses are kept
// in bech32 form so the prefix survives the round trip.
type storedState struct {
	MinCollateralRatio *big.Int
	StabilityFee       *big.Int
	LiquidationFeeRate *big.Int
	DevFundSplit       *big.Int
	HasOvenCap         bool
	OvenCap            *big.Int
	PeriodSeconds      uint64
	NativeScale        *big.Int
	Governor           string
	Token              string
	OvenProxy          string
	StabilityFund      string
	DevFund            string
	Index              *big.Int
	LastUpdate         uint64
}

// storedOven is the RLP layout of the last snapshot the minter returned for
// an oven.
type storedOven struct {
	Owner         string
	Principal     *big.Int
	FeeBalance    *big.Int
	InterestIndex *big.Int
	Liquidated    bool
	Value         *big.Int
}

func hashedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func tokenBalanceKey(addr crypto.Address) []byte {
	return hashedKey(tokenBalancePrefix, []byte(addr.String()))
}

func nativeBalanceKey(addr crypto.Address) []byte {
	return hashedKey(nativeBalancePrefix, []byte(addr.String()))
}

func ovenKey(addr crypto.Address) []byte {
	return hashedKey(ovenRecordPrefix, []byte(addr.String()))
}

func minterStateKey() []byte { return ethcrypto.Keccak256(minterStateKeyBytes) }

func tokenSupplyKey() []byte { return ethcrypto.Keccak256(tokenSupplyKeyBytes) }

func toBig(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x.ToBig()
}

func fromBig(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(x)
	if overflow || x.Sign() < 0 {
		return nil, fmt.Errorf("ledger: stored value %s out of range", x)
	}
	return out, nil
}

func decodeAddress(s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(s)
}

func encodeState(st minter.State) ([]byte, error) {
	rec := storedState{
		MinCollateralRatio: toBig(st.Params.MinCollateralRatio),
		StabilityFee:       toBig(st.Params.StabilityFee),
		LiquidationFeeRate: toBig(st.Params.LiquidationFeeRate),
		DevFundSplit:       toBig(st.Params.DevFundSplit),
		HasOvenCap:         st.Params.OvenCap != nil,
		OvenCap:            toBig(st.Params.OvenCap),
		PeriodSeconds:      st.Params.PeriodSeconds,
		NativeScale:        toBig(st.Params.NativeScale),
		Governor:           st.Collaborators.Governor.String(),
		Token:              st.Collaborators.Token.String(),
		OvenProxy:          st.Collaborators.OvenProxy.String(),
		StabilityFund:      st.Collaborators.StabilityFund.String(),
		DevFund:            st.Collaborators.DevFund.String(),
		Index:              toBig(st.Interest.Index),
		LastUpdate:         st.Interest.LastUpdate,
	}
	return rlp.EncodeToBytes(&rec)
}

func decodeState(data []byte) (minter.State, error) {
	rec := new(storedState)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return minter.State{}, fmt.Errorf("decode minter state: %w", err)
	}
	var (
		st  minter.State
		err error
	)
	fields := []struct {
		dst **uint256.Int
		src *big.Int
	}{
		{&st.Params.MinCollateralRatio, rec.MinCollateralRatio},
		{&st.Params.StabilityFee, rec.StabilityFee},
		{&st.Params.LiquidationFeeRate, rec.LiquidationFeeRate},
		{&st.Params.DevFundSplit, rec.DevFundSplit},
		{&st.Params.NativeScale, rec.NativeScale},
		{&st.Interest.Index, rec.Index},
	}
	for _, f := range fields {
		if *f.dst, err = fromBig(f.src); err != nil {
			return minter.State{}, err
		}
	}
	if rec.HasOvenCap {
		if st.Params.OvenCap, err = fromBig(rec.OvenCap); err != nil {
			return minter.State{}, err
		}
	}
	st.Params.PeriodSeconds = rec.PeriodSeconds
	st.Interest.LastUpdate = rec.LastUpdate
	addrs := []struct {
		dst *crypto.Address
		src string
	}{
		{&st.Collaborators.Governor, rec.Governor},
		{&st.Collaborators.Token, rec.Token},
		{&st.Collaborators.OvenProxy, rec.OvenProxy},
		{&st.Collaborators.StabilityFund, rec.StabilityFund},
		{&st.Collaborators.DevFund, rec.DevFund},
	}
	for _, a := range addrs {
		if *a.dst, err = decodeAddress(a.src); err != nil {
			return minter.State{}, fmt.Errorf("decode collaborator: %w", err)
		}
	}
	return st, nil
}

func encodeOven(update *minter.OvenUpdate) ([]byte, error) {
	rec := storedOven{
		Owner:         update.Owner.String(),
		Principal:     toBig(update.Principal),
		FeeBalance:    toBig(update.FeeBalance),
		InterestIndex: toBig(update.InterestIndex),
		Liquidated:    update.Liquidated,
		Value:         toBig(update.Value),
	}
	return rlp.EncodeToBytes(&rec)
}

func decodeOven(addr crypto.Address, data []byte) (*minter.OvenUpdate, error) {
	rec := new(storedOven)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return nil, fmt.Errorf("decode oven: %w", err)
	}
	owner, err := decodeAddress(rec.Owner)
	if err != nil {
		return nil, err
	}
	out := &minter.OvenUpdate{Oven: addr, Owner: owner, Liquidated: rec.Liquidated}
	for _, f := range []struct {
		dst **uint256.Int
		src *big.Int
	}{
		{&out.Principal, rec.Principal},
		{&out.FeeBalance, rec.FeeBalance},
		{&out.InterestIndex, rec.InterestIndex},
		{&out.Value, rec.Value},
	} {
		if *f.dst, err = fromBig(f.src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeAmount(x *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(toBig(x))
}

func decodeAmount(data []byte) (*uint256.Int, error) {
	v := new(big.Int)
	if err := rlp.DecodeBytes(data, v); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	return fromBig(v)
}

// Ledger is the reference collaborator for the minter: a token ledger, a
// native balance book and the oven registry's snapshot store, all backed by
// one key-value database. It implements minter.Backend.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger wraps db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) get(key []byte) ([]byte, bool, error) {
	data, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (l *Ledger) amount(key []byte) (*uint256.Int, error) {
	data, ok, err := l.get(key)
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return decodeAmount(data)
}

// LoadState returns the persisted minter singletons.
func (l *Ledger) LoadState() (minter.State, bool, error) {
	data, ok, err := l.get(minterStateKey())
	if err != nil || !ok {
		return minter.State{}, false, err
	}
	st, err := decodeState(data)
	if err != nil {
		return minter.State{}, false, err
	}
	return st, true, nil
}

// TokenBalance returns the debt-token balance of addr.
func (l *Ledger) TokenBalance(addr crypto.Address) (*uint256.Int, error) {
	return l.amount(tokenBalanceKey(addr))
}

// TotalSupply returns the outstanding debt-token supply.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	return l.amount(tokenSupplyKey())
}

// NativeBalance returns the native balance of addr. For ovens this is the
// custody balance the next call can attach.
func (l *Ledger) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	return l.amount(nativeBalanceKey(addr))
}

// Oven returns the last snapshot persisted for addr.
func (l *Ledger) Oven(addr crypto.Address) (*minter.OvenUpdate, bool, error) {
	data, ok, err := l.get(ovenKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	oven, err := decodeOven(addr, data)
	if err != nil {
		return nil, false, err
	}
	return oven, true, nil
}

// Begin opens a transaction. Writes are staged in memory and flushed in a
// single batch by Commit.
func (l *Ledger) Begin() (minter.Tx, error) {
	return l.begin(), nil
}

func (l *Ledger) begin() *Tx {
	l.mu.Lock()
	return &Tx{ledger: l, staged: make(map[string][]byte)}
}

// Tx is a ledger transaction. It holds the ledger lock until Commit or
// Discard.
type Tx struct {
	ledger *Ledger
	staged map[string][]byte
	order  []string
	closed bool
}

var _ minter.Tx = (*Tx)(nil)

func (tx *Tx) read(key []byte) ([]byte, bool, error) {
	if v, ok := tx.staged[string(key)]; ok {
		return v, true, nil
	}
	return tx.ledger.get(key)
}

func (tx *Tx) write(key []byte, value []byte) {
	k := string(key)
	if _, ok := tx.staged[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.staged[k] = value
}

func (tx *Tx) amount(key []byte) (*uint256.Int, error) {
	data, ok, err := tx.read(key)
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return decodeAmount(data)
}

func (tx *Tx) setAmount(key []byte, x *uint256.Int) error {
	enc, err := encodeAmount(x)
	if err != nil {
		return err
	}
	tx.write(key, enc)
	return nil
}

func (tx *Tx) adjust(key []byte, delta *uint256.Int, credit bool) error {
	if tx.closed {
		return ErrTxClosed
	}
	current, err := tx.amount(key)
	if err != nil {
		return err
	}
	next := new(uint256.Int)
	if credit {
		var overflow bool
		if next, overflow = next.AddOverflow(current, delta); overflow {
			return fmt.Errorf("ledger: balance overflow")
		}
	} else {
		if current.Lt(delta) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, current, delta)
		}
		next.Sub(current, delta)
	}
	return tx.setAmount(key, next)
}

func (tx *Tx) Mint(to crypto.Address, amount *uint256.Int) error {
	if err := tx.adjust(tokenBalanceKey(to), amount, true); err != nil {
		return err
	}
	return tx.adjust(tokenSupplyKey(), amount, true)
}

func (tx *Tx) Burn(from crypto.Address, amount *uint256.Int) error {
	if err := tx.adjust(tokenBalanceKey(from), amount, false); err != nil {
		return err
	}
	return tx.adjust(tokenSupplyKey(), amount, false)
}

// Attach debits the oven's custody. It fails with ErrInsufficientBalance when
// the oven does not hold the attached value.
func (tx *Tx) Attach(oven crypto.Address, amount *uint256.Int) error {
	return tx.adjust(nativeBalanceKey(oven), amount, false)
}

func (tx *Tx) Transfer(to crypto.Address, amount *uint256.Int) error {
	return tx.adjust(nativeBalanceKey(to), amount, true)
}

func (tx *Tx) UpdateOven(update *minter.OvenUpdate) error {
	if tx.closed {
		return ErrTxClosed
	}
	if update == nil {
		return fmt.Errorf("ledger: nil oven update")
	}
	enc, err := encodeOven(update)
	if err != nil {
		return err
	}
	tx.write(ovenKey(update.Oven), enc)
	return tx.adjust(nativeBalanceKey(update.Oven), update.Value, true)
}

func (tx *Tx) PutState(st minter.State) error {
	if tx.closed {
		return ErrTxClosed
	}
	enc, err := encodeState(st)
	if err != nil {
		return err
	}
	tx.write(minterStateKey(), enc)
	return nil
}

func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	batch := tx.ledger.db.NewBatch()
	for _, k := range tx.order {
		batch.Put([]byte(k), tx.staged[k])
	}
	err := batch.Write()
	tx.close()
	return err
}

func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.staged = nil
	tx.order = nil
	tx.ledger.mu.Unlock()
}

// Fund credits native value to addr outside of any minter operation. Genesis
// allocations seed oven custody through it.
func (l *Ledger) Fund(addr crypto.Address, amount *uint256.Int) error {
	tx := l.begin()
	if err := tx.Transfer(addr, amount); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}
