package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ovenmint/core/state"
	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
	"ovenmint/observability/metrics"
	"ovenmint/services/minterd/journal"
)

var (
	errUnauthenticated = errors.New("unauthenticated")
	errNotFound        = errors.New("resource not found")
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// toStatus maps an error onto the HTTP status and the public message. Internal
// failures never leak their text.
func toStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errInvalidRequest), errors.Is(err, minter.ErrInvalidParameters):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, minter.ErrValueNotAllowed):
		return http.StatusBadRequest, "value not allowed"
	case errors.Is(err, errNotFound), errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound, "resource not found"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "operation paused"
	case errors.Is(err, minter.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, minter.ErrLiquidated):
		return http.StatusConflict, "oven is liquidated"
	case errors.Is(err, errRequestInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, minter.ErrUnderCollateralized),
		errors.Is(err, minter.ErrNotUnderCollateralized),
		errors.Is(err, minter.ErrCapExceeded),
		errors.Is(err, minter.ErrInsufficientDebt),
		errors.Is(err, state.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, errInvalidRequest):
		return "invalid_request"
	case errors.Is(err, errNotFound), errors.Is(err, journal.ErrNotFound):
		return "not_found"
	case errors.Is(err, minter.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, errRequestInFlight):
		return "in_progress"
	case errors.Is(err, state.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return metrics.Outcome(err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, message := toStatus(err)
	writeJSON(w, status, errorBody{Error: message, Code: errorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","code":"error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
