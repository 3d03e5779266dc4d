package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"ovenmint/core/types"
	"ovenmint/crypto"
	"ovenmint/native/minter"
)

const maxBodyBytes = 64 << 10

var errInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

// ovenRequest is the oven snapshot forwarded by the proxy. Collateral,
// principal, fee balance and interest index are base-10 integers in
// debt-token units; fee balance and index may be signed on the wire.
type ovenRequest struct {
	Address       string `json:"address"`
	Owner         string `json:"owner"`
	Collateral    string `json:"collateral"`
	Principal     string `json:"principal"`
	FeeBalance    string `json:"feeBalance"`
	InterestIndex string `json:"interestIndex"`
	Liquidated    bool   `json:"liquidated"`
}

// ovenCallRequest carries one oven entry point. Value is the oven's native
// balance in base units; Price is a decimal such as "1.5".
type ovenCallRequest struct {
	Value      string      `json:"value"`
	Price      string      `json:"price"`
	Oven       ovenRequest `json:"oven"`
	Amount     string      `json:"amount,omitempty"`
	Liquidator string      `json:"liquidator,omitempty"`
}

type paramsRequest struct {
	StabilityFee       string `json:"stabilityFee"`
	LiquidationFee     string `json:"liquidationFee"`
	MinCollateralRatio string `json:"minCollateralRatio"`
	// OvenCap in native base units; empty removes the cap.
	OvenCap string `json:"ovenCap"`
}

type collaboratorsRequest struct {
	Governor      string `json:"governor"`
	Token         string `json:"token"`
	OvenProxy     string `json:"ovenProxy"`
	StabilityFund string `json:"stabilityFund"`
	DevFund       string `json:"devFund"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("request body is empty")
		}
		return invalid("decode request: %v", err)
	}
	return nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, invalid("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, invalid("%s: %v", field, err)
	}
	return addr, nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	amount, err := minter.ParseAmount(raw)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	return amount, nil
}

func parseOptionalAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, raw)
}

func parseSigned(field, raw string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return nil, invalid("%s is required", field)
		}
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalid("%s: %q is not an integer", field, raw)
	}
	return value, nil
}

func parseDecimal(field, raw string) (*uint256.Int, error) {
	value, err := minter.ParseScaled(raw)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	return value, nil
}

func (req ovenRequest) toOven() (minter.Oven, error) {
	var (
		oven minter.Oven
		err  error
	)
	if oven.Address, err = parseAddress("oven.address", req.Address); err != nil {
		return oven, err
	}
	if oven.Owner, err = parseAddress("oven.owner", req.Owner); err != nil {
		return oven, err
	}
	if oven.Collateral, err = parseOptionalAmount("oven.collateral", req.Collateral); err != nil {
		return oven, err
	}
	if oven.Principal, err = parseOptionalAmount("oven.principal", req.Principal); err != nil {
		return oven, err
	}
	if oven.FeeBalance, err = parseSigned("oven.feeBalance", req.FeeBalance, false); err != nil {
		return oven, err
	}
	if oven.InterestIndex, err = parseSigned("oven.interestIndex", req.InterestIndex, true); err != nil {
		return oven, err
	}
	oven.Liquidated = req.Liquidated
	return oven, nil
}

func (req ovenCallRequest) toCall(caller crypto.Address, now uint64) (minter.OvenCall, error) {
	call := minter.OvenCall{Caller: caller, Now: now}
	var err error
	if call.Value, err = parseOptionalAmount("value", req.Value); err != nil {
		return call, err
	}
	if call.Price, err = parseDecimal("price", req.Price); err != nil {
		return call, err
	}
	if call.Oven, err = req.Oven.toOven(); err != nil {
		return call, err
	}
	return call, nil
}

func (req paramsRequest) toUpdate() (minter.ParamsUpdate, error) {
	var (
		update minter.ParamsUpdate
		err    error
	)
	if update.StabilityFee, err = parseDecimal("stabilityFee", req.StabilityFee); err != nil {
		return update, err
	}
	if update.LiquidationFeeRate, err = parseDecimal("liquidationFee", req.LiquidationFee); err != nil {
		return update, err
	}
	if update.MinCollateralRatio, err = parseDecimal("minCollateralRatio", req.MinCollateralRatio); err != nil {
		return update, err
	}
	if strings.TrimSpace(req.OvenCap) != "" {
		if update.OvenCap, err = parseAmount("ovenCap", req.OvenCap); err != nil {
			return update, err
		}
	}
	return update, nil
}

func (req collaboratorsRequest) toCollaborators() (minter.Collaborators, error) {
	var (
		out minter.Collaborators
		err error
	)
	if out.Governor, err = parseAddress("governor", req.Governor); err != nil {
		return out, err
	}
	if out.Token, err = parseAddress("token", req.Token); err != nil {
		return out, err
	}
	if out.OvenProxy, err = parseAddress("ovenProxy", req.OvenProxy); err != nil {
		return out, err
	}
	if out.StabilityFund, err = parseAddress("stabilityFund", req.StabilityFund); err != nil {
		return out, err
	}
	if out.DevFund, err = parseAddress("devFund", req.DevFund); err != nil {
		return out, err
	}
	return out, nil
}

type instructionView struct {
	Kind    string `json:"kind"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type ovenView struct {
	Address       string `json:"address"`
	Owner         string `json:"owner"`
	Principal     string `json:"principal"`
	FeeBalance    string `json:"feeBalance"`
	InterestIndex string `json:"interestIndex"`
	Outstanding   string `json:"outstanding"`
	Liquidated    bool   `json:"liquidated"`
	Value         string `json:"value"`
}

type interestView struct {
	Index        string `json:"index"`
	IndexDecimal string `json:"indexDecimal"`
	LastUpdate   uint64 `json:"lastUpdate"`
}

// receiptView is the body returned for every state-changing request and the
// payload stored in the journal.
type receiptView struct {
	ID           string            `json:"id,omitempty"`
	Digest       string            `json:"digest,omitempty"`
	Operation    string            `json:"operation"`
	Caller       string            `json:"caller"`
	Timestamp    uint64            `json:"timestamp"`
	Interest     interestView      `json:"interest"`
	Oven         *ovenView         `json:"oven,omitempty"`
	Instructions []instructionView `json:"instructions"`
	Events       []*types.Event    `json:"events"`
}

type paramsView struct {
	MinCollateralRatio string `json:"minCollateralRatio"`
	StabilityFee       string `json:"stabilityFee"`
	LiquidationFee     string `json:"liquidationFee"`
	DevFundSplit       string `json:"devFundSplit"`
	OvenCap            string `json:"ovenCap,omitempty"`
	PeriodSeconds      uint64 `json:"periodSeconds"`
	NativeScale        string `json:"nativeScale"`
}

type stateView struct {
	Params        paramsView           `json:"params"`
	Collaborators collaboratorsRequest `json:"collaborators"`
	Interest      interestView         `json:"interest"`
	TotalSupply   string               `json:"totalSupply"`
	Paused        bool                 `json:"paused"`
}

type balanceView struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Native  string `json:"native"`
}

type indexView struct {
	interestView
	Receipt *receiptView `json:"receipt,omitempty"`
}

func decString(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func newInterestView(st minter.InterestState) interestView {
	return interestView{
		Index:        decString(st.Index),
		IndexDecimal: minter.FormatScaled(st.Index),
		LastUpdate:   st.LastUpdate,
	}
}

func newOvenView(update *minter.OvenUpdate) *ovenView {
	if update == nil {
		return nil
	}
	return &ovenView{
		Address:       update.Oven.String(),
		Owner:         update.Owner.String(),
		Principal:     decString(update.Principal),
		FeeBalance:    decString(update.FeeBalance),
		InterestIndex: decString(update.InterestIndex),
		Outstanding:   update.Outstanding().Dec(),
		Liquidated:    update.Liquidated,
		Value:         decString(update.Value),
	}
}

func newReceiptView(res *minter.Result, caller crypto.Address, now uint64) *receiptView {
	view := &receiptView{
		Operation:    res.Operation,
		Caller:       caller.String(),
		Timestamp:    now,
		Interest:     newInterestView(res.State.Interest),
		Oven:         newOvenView(res.Oven),
		Instructions: make([]instructionView, 0, len(res.Instructions)),
		Events:       res.Events,
	}
	if view.Events == nil {
		view.Events = []*types.Event{}
	}
	for _, ins := range res.Instructions {
		view.Instructions = append(view.Instructions, instructionView{
			Kind:    ins.Kind.String(),
			Account: ins.Account.String(),
			Amount:  decString(ins.Amount),
		})
	}
	return view
}

func newParamsView(p minter.Params) paramsView {
	view := paramsView{
		MinCollateralRatio: minter.FormatScaled(p.MinCollateralRatio),
		StabilityFee:       minter.FormatScaled(p.StabilityFee),
		LiquidationFee:     minter.FormatScaled(p.LiquidationFeeRate),
		DevFundSplit:       minter.FormatScaled(p.DevFundSplit),
		PeriodSeconds:      p.PeriodSeconds,
		NativeScale:        decString(p.NativeScale),
	}
	if p.OvenCap != nil {
		view.OvenCap = p.OvenCap.Dec()
	}
	return view
}

func newCollaboratorsView(c minter.Collaborators) collaboratorsRequest {
	return collaboratorsRequest{
		Governor:      c.Governor.String(),
		Token:         c.Token.String(),
		OvenProxy:     c.OvenProxy.String(),
		StabilityFund: c.StabilityFund.String(),
		DevFund:       c.DevFund.String(),
	}
}
