package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"ovenmint/core/state"
	"ovenmint/crypto"
	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
	"ovenmint/services/minterd/config"
	"ovenmint/services/minterd/journal"
	"ovenmint/storage"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	oneToken    = "1000000000000000000"
	genesisTime = 1_700_000_000
)

var (
	governor      = testAddress(crypto.AccountPrefix, 0x01)
	tokenAddr     = testAddress(crypto.AccountPrefix, 0x02)
	ovenProxy     = testAddress(crypto.AccountPrefix, 0x03)
	stabilityFund = testAddress(crypto.AccountPrefix, 0x04)
	devFund       = testAddress(crypto.AccountPrefix, 0x05)
	owner         = testAddress(crypto.AccountPrefix, 0x06)
	ovenA         = testAddress(crypto.OvenPrefix, 0x0a)
	ovenB         = testAddress(crypto.OvenPrefix, 0x0b)
	ovenC         = testAddress(crypto.OvenPrefix, 0x0c)
)

func testAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.NewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

type harness struct {
	t      *testing.T
	srv    *Server
	ledger *state.Ledger
	pauses *nativecommon.PauseSet
	now    time.Time
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	ledger := state.NewLedger(storage.NewMemDB())
	pauses := nativecommon.NewPauseSet()
	engine := minter.NewEngine()
	engine.SetPauses(pauses)
	genesis := minter.NewState(minter.DefaultParams(), minter.Collaborators{
		Governor:      governor,
		Token:         tokenAddr,
		OvenProxy:     ovenProxy,
		StabilityFund: stabilityFund,
		DevFund:       devFund,
	}, genesisTime)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	module, err := minter.NewModule(engine, ledger, genesis, minter.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, ledger.Fund(ovenA, uint256.NewInt(4_000_000)))
	require.NoError(t, ledger.Fund(ovenB, uint256.NewInt(2_000_000)))

	db, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	h := &harness{t: t, ledger: ledger, pauses: pauses, now: time.Unix(genesisTime+120, 0)}
	cfg := Config{
		Minter:  module,
		Ledger:  ledger,
		Journal: journal.New(db),
		Pauses:  pauses,
		Auth:    config.AuthConfig{HMACSecret: testSecret, Issuer: "ovenmint", ClockSkew: time.Minute},
		Logger:  logger,
		Now:     func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.srv = New(cfg)
	return h
}

func (h *harness) token(sub crypto.Address) string {
	h.t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub.String(),
		"iss": "ovenmint",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(h.t, err)
	return signed
}

func (h *harness) do(method, path string, body any, token string, headers map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) proxy(path string, body ovenCallRequest) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, path, body, h.token(ovenProxy), nil)
}

func ovenCall(oven crypto.Address, value, price, collateral, principal, amount string) ovenCallRequest {
	return ovenCallRequest{
		Value:  value,
		Price:  price,
		Amount: amount,
		Oven: ovenRequest{
			Address:       oven.String(),
			Owner:         owner.String(),
			Collateral:    collateral,
			Principal:     principal,
			InterestIndex: oneToken,
		},
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBorrowMintsAndJournals(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.proxy("/v1/ovens/borrow", ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decodeBody[receiptView](t, rec)
	require.Equal(t, minter.OperationBorrow, receipt.Operation)
	require.Equal(t, ovenProxy.String(), receipt.Caller)
	require.NotEmpty(t, receipt.ID)
	require.Len(t, receipt.Digest, 64)
	require.Equal(t, oneToken, receipt.Oven.Principal)
	require.Equal(t, "4000000", receipt.Oven.Value)
	require.Equal(t, "mint", receipt.Instructions[0].Kind)
	require.Equal(t, owner.String(), receipt.Instructions[0].Account)

	rec = h.do(http.MethodGet, "/v1/balances/"+owner.String(), nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[balanceView](t, rec)
	require.Equal(t, oneToken, balance.Token)

	rec = h.do(http.MethodGet, "/v1/ovens/"+ovenA.String(), nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	oven := decodeBody[ovenView](t, rec)
	require.Equal(t, oneToken, oven.Outstanding)
	require.False(t, oven.Liquidated)

	rec = h.do(http.MethodGet, "/v1/receipts/"+receipt.ID, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeBody[storedReceiptView](t, rec)
	require.True(t, stored.Verified)
	require.Equal(t, receipt.Digest, stored.Digest)

	rec = h.do(http.MethodGet, "/v1/ovens/"+ovenA.String()+"/receipts?limit=5", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]storedReceiptView](t, rec), 2)
}

func TestLiquidationSettlesThroughLedger(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.proxy("/v1/ovens/borrow", ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.proxy("/v1/ovens/borrow", ovenCall(ovenB, "2000000", "1", "2000000000000000000", "0", "500000000000000000"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	healthy := ovenCall(ovenB, "2000000", "1", "2000000000000000000", "500000000000000000", "")
	healthy.Liquidator = owner.String()
	rec = h.proxy("/v1/ovens/liquidate", healthy)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "not_under_collateralized", decodeBody[errorBody](t, rec).Code)

	call := ovenCall(ovenB, "2000000", "0.2", "2000000000000000000", "500000000000000000", "")
	call.Liquidator = owner.String()
	rec = h.proxy("/v1/ovens/liquidate", call)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decodeBody[receiptView](t, rec)
	require.True(t, receipt.Oven.Liquidated)
	require.Equal(t, "0", receipt.Oven.Value)

	balance := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+owner.String(), nil, "", nil))
	require.Equal(t, "960000000000000000", balance.Token)
	require.Equal(t, "2000000", balance.Native)

	dev := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+devFund.String(), nil, "", nil))
	require.Equal(t, "4000000000000000", dev.Token)
	stability := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+stabilityFund.String(), nil, "", nil))
	require.Equal(t, "36000000000000000", stability.Token)

	liquidated := ovenCall(ovenB, "0", "1", "0", "0", "1")
	liquidated.Oven.Liquidated = true
	rec = h.proxy("/v1/ovens/borrow", liquidated)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLiquidatorWithoutTokensIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.proxy("/v1/ovens/borrow", ovenCall(ovenB, "2000000", "1", "2000000000000000000", "0", "500000000000000000"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	call := ovenCall(ovenB, "2000000", "0.2", "2000000000000000000", "500000000000000000", "")
	call.Liquidator = owner.String()
	rec = h.proxy("/v1/ovens/liquidate", call)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "insufficient_balance", decodeBody[errorBody](t, rec).Code)

	oven := decodeBody[ovenView](t, h.do(http.MethodGet, "/v1/ovens/"+ovenB.String(), nil, "", nil))
	require.False(t, oven.Liquidated)
	require.Equal(t, "500000000000000000", oven.Principal)
}

func TestAttachedValueMustBeInCustody(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.proxy("/v1/ovens/deposit", ovenCall(ovenC, "1000", "1", "0", "0", ""))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Equal(t, "insufficient_balance", decodeBody[errorBody](t, rec).Code)

	require.NoError(t, h.ledger.Fund(ovenC, uint256.NewInt(1000)))
	rec = h.proxy("/v1/ovens/deposit", ovenCall(ovenC, "1000", "1", "0", "0", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	custody := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+ovenC.String(), nil, "", nil))
	require.Equal(t, "1000", custody.Native)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), h.token(owner), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unauthorized", decodeBody[errorBody](t, rec).Code)

	rec = h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "100000001", "1", "0", "0", ""))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "cap_exceeded", decodeBody[errorBody](t, rec).Code)

	rec = h.proxy("/v1/ovens/borrow", ovenCall(ovenA, "2000000", "1", "2000000000000000000", "0", "1000000000000000001"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "under_collateralized", decodeBody[errorBody](t, rec).Code)

	rec = h.proxy("/v1/ovens/borrow", ovenCall(ovenA, "2000000", "1", "2000000000000000000", "0", "-5"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	missing := ovenCall(ovenA, "1", "1", "0", "0", "")
	missing.Oven.InterestIndex = ""
	rec = h.proxy("/v1/ovens/deposit", missing)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	zeroIndex := ovenCall(ovenA, "1", "1", "0", "0", "")
	zeroIndex.Oven.InterestIndex = "0"
	rec = h.proxy("/v1/ovens/deposit", zeroIndex)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", decodeBody[errorBody](t, rec).Error)

	h.now = time.Unix(genesisTime-60, 0)
	rec = h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "clock_regression", decodeBody[errorBody](t, rec).Code)

	rec = h.do(http.MethodGet, "/v1/ovens/"+ovenB.String(), nil, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseBlocksOvenOperations(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/governance/pause", pauseRequest{Module: "minter", Paused: true}, h.token(owner), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/governance/pause", pauseRequest{Module: "Minter", Paused: true}, h.token(governor), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, h.pauses.IsPaused("minter"))

	rec = h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "paused", decodeBody[errorBody](t, rec).Code)

	st := decodeBody[stateView](t, h.do(http.MethodGet, "/v1/state", nil, "", nil))
	require.True(t, st.Paused)

	rec = h.do(http.MethodGet, "/v1/index", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.pauses.Set("minter", false)
	rec = h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGovernanceUpdatesParameters(t *testing.T) {
	h := newHarness(t, nil)
	body := paramsRequest{StabilityFee: "0.001", LiquidationFee: "0.05", MinCollateralRatio: "150", OvenCap: ""}

	rec := h.do(http.MethodPost, "/v1/governance/params", body, h.token(ovenProxy), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/governance/params", body, h.token(governor), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decodeBody[receiptView](t, rec)
	require.Equal(t, minter.OperationUpdateParameters, receipt.Operation)
	require.Equal(t, uint64(genesisTime+120), receipt.Interest.LastUpdate)

	st := decodeBody[stateView](t, h.do(http.MethodGet, "/v1/state", nil, "", nil))
	require.Equal(t, "0.001", st.Params.StabilityFee)
	require.Equal(t, "0.05", st.Params.LiquidationFee)
	require.Equal(t, "150", st.Params.MinCollateralRatio)
	require.Empty(t, st.Params.OvenCap)
	require.Equal(t, governor.String(), st.Collaborators.Governor)

	rec = h.do(http.MethodPost, "/v1/governance/params", paramsRequest{StabilityFee: "0.1"}, h.token(governor), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGovernanceUpdatesCollaborators(t *testing.T) {
	h := newHarness(t, nil)
	next := testAddress(crypto.AccountPrefix, 0x09)
	body := collaboratorsRequest{
		Governor:      governor.String(),
		Token:         tokenAddr.String(),
		OvenProxy:     next.String(),
		StabilityFund: stabilityFund.String(),
		DevFund:       devFund.String(),
	}
	rec := h.do(http.MethodPost, "/v1/governance/collaborators", body, h.token(governor), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""))
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), h.token(next), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInterestIndexQuery(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/v1/index?value=5", nil, "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "value_not_allowed", decodeBody[errorBody](t, rec).Code)

	rec = h.do(http.MethodGet, "/v1/index?value=0", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[indexView](t, rec)
	require.Equal(t, oneToken, view.Index)
	require.Equal(t, "1", view.IndexDecimal)
	require.Equal(t, uint64(genesisTime+120), view.LastUpdate)
	require.NotNil(t, view.Receipt)

	rec = h.do(http.MethodGet, "/v1/index", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, decodeBody[indexView](t, rec).Receipt)
}

func TestIdempotentReplay(t *testing.T) {
	h := newHarness(t, nil)
	body := ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken)
	headers := map[string]string{idempotencyHeader: "borrow-1"}

	first := h.do(http.MethodPost, "/v1/ovens/borrow", body, h.token(ovenProxy), headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := h.do(http.MethodPost, "/v1/ovens/borrow", body, h.token(ovenProxy), headers)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), second.Body.String())

	balance := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+owner.String(), nil, "", nil))
	require.Equal(t, oneToken, balance.Token)

	rec := h.do(http.MethodPost, "/v1/ovens/repay", body, h.token(ovenProxy), headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/ovens/borrow", body, h.token(ovenProxy), map[string]string{idempotencyHeader: strings.Repeat("k", 65)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotentBorrowRunsOnceUnderConcurrency(t *testing.T) {
	h := newHarness(t, nil)
	payload, err := json.Marshal(ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken))
	require.NoError(t, err)
	token := h.token(ovenProxy)

	const attempts = 8
	codes := make([]int, attempts)
	replays := make([]string, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodPost, "/v1/ovens/borrow", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set(idempotencyHeader, "borrow-race")
			rec := httptest.NewRecorder()
			h.srv.Handler().ServeHTTP(rec, req)
			codes[i] = rec.Code
			replays[i] = rec.Header().Get("Idempotent-Replay")
		}(i)
	}
	close(start)
	wg.Wait()

	executed := 0
	for i := range codes {
		require.Equal(t, http.StatusOK, codes[i])
		if replays[i] != "true" {
			executed++
		}
	}
	require.Equal(t, 1, executed)

	balance := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+owner.String(), nil, "", nil))
	require.Equal(t, oneToken, balance.Token)
}

func TestIdempotencyKeyHeldElsewhereConflicts(t *testing.T) {
	h := newHarness(t, nil)
	_, reserved, err := h.srv.journal.Reserve(context.Background(), &journal.IdempotencyKey{
		Key:    ovenProxy.String() + ":borrow-pending",
		Method: http.MethodPost,
		Path:   "/v1/ovens/borrow",
	})
	require.NoError(t, err)
	require.True(t, reserved)

	body := ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken)
	rec := h.do(http.MethodPost, "/v1/ovens/borrow", body, h.token(ovenProxy), map[string]string{idempotencyHeader: "borrow-pending"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "in_progress", decodeBody[errorBody](t, rec).Code)

	balance := decodeBody[balanceView](t, h.do(http.MethodGet, "/v1/balances/"+owner.String(), nil, "", nil))
	require.Equal(t, "0", balance.Token)
}

func TestIdempotencyReleasedAfterRejection(t *testing.T) {
	h := newHarness(t, nil)
	headers := map[string]string{idempotencyHeader: "borrow-retry"}

	h.pauses.Set("minter", true)
	rec := h.do(http.MethodPost, "/v1/ovens/borrow", ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken), h.token(ovenProxy), headers)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.pauses.Set("minter", false)
	rec = h.do(http.MethodPost, "/v1/ovens/borrow", ovenCall(ovenA, "4000000", "1", "4000000000000000000", "0", oneToken), h.token(ovenProxy), headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Empty(t, rec.Header().Get("Idempotent-Replay"))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}
	})
	rec := h.do(http.MethodGet, "/v1/state", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/v1/state", nil, "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate_limited", decodeBody[errorBody](t, rec).Code)

	rec = h.do(http.MethodGet, "/healthz", nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamBroadcastsReceipts(t *testing.T) {
	h := newHarness(t, nil)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.srv.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := h.proxy("/v1/ovens/deposit", ovenCall(ovenA, "1000", "1", "0", "0", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	var receipt receiptView
	require.NoError(t, json.Unmarshal(payload, &receipt))
	require.Equal(t, minter.OperationDeposit, receipt.Operation)
	require.Equal(t, ovenA.String(), receipt.Oven.Address)
	require.NotEmpty(t, receipt.ID)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	updates, unsubscribe := hub.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish([]byte("x"))
	}
	require.Len(t, updates, subscriberBuffer)
	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, hub.Subscribers())
}

func TestExpiredTokenRejected(t *testing.T) {
	h := newHarness(t, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": ovenProxy.String(),
		"iss": "ovenmint",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec := h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), signed, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": ovenProxy.String(),
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err = wrongIssuer.SignedString([]byte(testSecret))
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), signed, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthFailureLogRedactsCredentials(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t, func(cfg *Config) {
		cfg.Logger = slog.New(slog.NewJSONHandler(&logs, nil))
	})
	const bogus = "eyJhbGciOiJIUzI1NiJ9.e30.bogus-signature"
	rec := h.do(http.MethodPost, "/v1/ovens/deposit", ovenCall(ovenA, "1", "1", "0", "0", ""), bogus, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	out := logs.String()
	require.Contains(t, out, "token validation failed")
	require.Contains(t, out, "/v1/ovens/deposit")
	require.NotContains(t, out, "bogus-signature")
	require.NotContains(t, out, "192.0.2.1")
	require.Contains(t, out, "[REDACTED]")
}
