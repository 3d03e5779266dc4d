package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ovenmint/crypto"
	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
	"ovenmint/observability/logging"
	telemetry "ovenmint/observability/otel"
	"ovenmint/services/minterd/journal"
)

type ovenExec func(ctx context.Context, call minter.OvenCall, req ovenCallRequest) (*minter.Result, error)

// handleOvenCall decodes the proxy envelope, runs exec and responds with the
// journaled receipt.
func (s *Server) handleOvenCall(w http.ResponseWriter, r *http.Request, operation string, exec ovenExec) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, errUnauthenticated)
		return
	}
	var req ovenCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	now := s.now()
	call, err := req.toCall(caller, now)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, span := telemetry.Tracer().Start(r.Context(), "minter."+operation, trace.WithAttributes(
		attribute.String("minter.operation", operation),
		attribute.String("minter.oven", call.Oven.Address.String()),
	))
	defer span.End()
	res, err := exec(ctx, call, req)
	span.SetAttributes(attribute.String("minter.outcome", errorCode(err)))
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(ctx, w, res, caller, now)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.handleOvenCall(w, r, minter.OperationBorrow, func(ctx context.Context, call minter.OvenCall, req ovenCallRequest) (*minter.Result, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return s.minter.Borrow(ctx, call, amount)
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.handleOvenCall(w, r, minter.OperationRepay, func(ctx context.Context, call minter.OvenCall, req ovenCallRequest) (*minter.Result, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return s.minter.Repay(ctx, call, amount)
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleOvenCall(w, r, minter.OperationDeposit, func(ctx context.Context, call minter.OvenCall, _ ovenCallRequest) (*minter.Result, error) {
		return s.minter.Deposit(ctx, call)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleOvenCall(w, r, minter.OperationWithdraw, func(ctx context.Context, call minter.OvenCall, req ovenCallRequest) (*minter.Result, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return s.minter.Withdraw(ctx, call, amount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	s.handleOvenCall(w, r, minter.OperationLiquidate, func(ctx context.Context, call minter.OvenCall, req ovenCallRequest) (*minter.Result, error) {
		liquidator, err := parseAddress("liquidator", req.Liquidator)
		if err != nil {
			return nil, err
		}
		return s.minter.Liquidate(ctx, call, liquidator)
	})
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, errUnauthenticated)
		return
	}
	var req paramsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.now()
	res, err := s.minter.UpdateParameters(r.Context(), caller, now, update)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(r.Context(), w, res, caller, now)
}

func (s *Server) handleUpdateCollaborators(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, errUnauthenticated)
		return
	}
	var req collaboratorsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	collaborators, err := req.toCollaborators()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.minter.UpdateCollaborators(r.Context(), caller, collaborators)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respond(r.Context(), w, res, caller, s.now())
}

// handlePause lets the governor halt or resume a module at runtime.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, errUnauthenticated)
		return
	}
	if s.pauses == nil {
		writeError(w, fmt.Errorf("%w: pauses not configured", errNotFound))
		return
	}
	governor := s.minter.State().Collaborators.Governor
	if governor.IsZero() || !caller.Equal(governor) {
		writeError(w, fmt.Errorf("%w: %s is not the governor", minter.ErrUnauthorized, caller))
		return
	}
	var req pauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	if module == "" {
		writeError(w, invalid("module is required"))
		return
	}
	s.pauses.Set(module, req.Paused)
	s.logger.Info("module pause toggled",
		logging.MaskField("module", module),
		slog.Bool("paused", req.Paused),
		logging.MaskField("caller", caller.String()))
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	value := new(uint256.Int)
	if raw := r.URL.Query().Get("value"); raw != "" {
		parsed, err := parseAmount("value", raw)
		if err != nil {
			writeError(w, err)
			return
		}
		value = parsed
	}
	now := s.now()
	_, res, err := s.minter.QueryInterestIndex(r.Context(), now, value)
	if err != nil {
		writeError(w, err)
		return
	}
	view := indexView{interestView: newInterestView(res.State.Interest)}
	if len(res.Events) > 0 {
		view.Receipt = s.record(r.Context(), res, crypto.Address{}, now)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.minter.State()
	supply, err := s.ledger.TotalSupply()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateView{
		Params:        newParamsView(st.Params),
		Collaborators: newCollaboratorsView(st.Collaborators),
		Interest:      newInterestView(st.Interest),
		TotalSupply:   supply.Dec(),
		Paused:        nativecommon.Guard(s.pauses, "minter") != nil,
	})
}

func (s *Server) handleOven(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	oven, ok, err := s.ledger.Oven(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: oven %s", errNotFound, addr))
		return
	}
	writeJSON(w, http.StatusOK, newOvenView(oven))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := s.ledger.TokenBalance(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	native, err := s.ledger.NativeBalance(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Address: addr.String(), Token: token.Dec(), Native: native.Dec()})
}

type storedReceiptView struct {
	ID        string          `json:"id"`
	Digest    string          `json:"digest"`
	Verified  bool            `json:"verified"`
	CreatedAt time.Time       `json:"createdAt"`
	Receipt   json.RawMessage `json:"receipt"`
}

func newStoredReceiptView(rec *journal.Receipt) storedReceiptView {
	return storedReceiptView{
		ID:        rec.ID.String(),
		Digest:    rec.Digest,
		Verified:  rec.Verify(),
		CreatedAt: rec.CreatedAt,
		Receipt:   json.RawMessage(rec.Payload),
	}
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, errNotFound)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, invalid("receipt id: %v", err))
		return
	}
	rec, err := s.journal.Receipt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoredReceiptView(rec))
}

func (s *Server) handleOvenReceipts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, errNotFound)
		return
	}
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, invalid("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	receipts, err := s.journal.OvenReceipts(r.Context(), addr.String(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]storedReceiptView, 0, len(receipts))
	for i := range receipts {
		out = append(out, newStoredReceiptView(&receipts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// respond journals the result, broadcasts it and writes it to the client.
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, res *minter.Result, caller crypto.Address, now uint64) {
	writeJSON(w, http.StatusOK, s.record(ctx, res, caller, now))
}

// record stores the receipt and publishes it to stream subscribers. A journal
// failure is logged; the operation itself has already committed.
func (s *Server) record(ctx context.Context, res *minter.Result, caller crypto.Address, now uint64) *receiptView {
	view := newReceiptView(res, caller, now)
	if s.journal != nil {
		payload, err := json.Marshal(view)
		if err == nil {
			entry := journal.Entry{
				Operation: view.Operation,
				Caller:    view.Caller,
				Index:     view.Interest.Index,
				Payload:   payload,
			}
			if view.Oven != nil {
				entry.Oven = view.Oven.Address
			}
			var rec *journal.Receipt
			rec, err = s.journal.Record(ctx, entry)
			if err == nil {
				view.ID = rec.ID.String()
				view.Digest = rec.Digest
			}
		}
		if err != nil {
			s.logger.Error("journal receipt",
				logging.MaskField("operation", view.Operation),
				logging.MaskField("caller", view.Caller),
				slog.Any("error", err))
		}
	}
	if broadcast, err := json.Marshal(view); err == nil {
		s.hub.Publish(broadcast)
	}
	return view
}
