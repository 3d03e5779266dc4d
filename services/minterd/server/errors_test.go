package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"ovenmint/core/state"
	nativecommon "ovenmint/native/common"
	"ovenmint/native/minter"
	"ovenmint/services/minterd/journal"
)

func TestToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "unauthenticated", err: errUnauthenticated, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "invalid request", err: invalid("bad"), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "invalid parameters", err: fmt.Errorf("wrap: %w", minter.ErrInvalidParameters), status: http.StatusBadRequest, code: "invalid_parameters"},
		{name: "value not allowed", err: minter.ErrValueNotAllowed, status: http.StatusBadRequest, code: "value_not_allowed"},
		{name: "not found", err: journal.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "paused", err: nativecommon.ErrModulePaused, status: http.StatusServiceUnavailable, code: "paused"},
		{name: "unauthorized", err: fmt.Errorf("wrap: %w", minter.ErrUnauthorized), status: http.StatusForbidden, code: "unauthorized"},
		{name: "liquidated", err: minter.ErrLiquidated, status: http.StatusConflict, code: "liquidated"},
		{name: "under collateralized", err: minter.ErrUnderCollateralized, status: http.StatusUnprocessableEntity, code: "under_collateralized"},
		{name: "not under collateralized", err: minter.ErrNotUnderCollateralized, status: http.StatusUnprocessableEntity, code: "not_under_collateralized"},
		{name: "cap exceeded", err: minter.ErrCapExceeded, status: http.StatusUnprocessableEntity, code: "cap_exceeded"},
		{name: "insufficient debt", err: minter.ErrInsufficientDebt, status: http.StatusUnprocessableEntity, code: "insufficient_debt"},
		{name: "insufficient balance", err: fmt.Errorf("instruction 0 (burn): %w", state.ErrInsufficientBalance), status: http.StatusUnprocessableEntity, code: "insufficient_balance"},
		{name: "clock regression", err: minter.ErrClockRegression, status: http.StatusInternalServerError, code: "clock_regression"},
		{name: "arithmetic", err: minter.ErrArithmeticInvariant, status: http.StatusInternalServerError, code: "invariant"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "error"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, message := toStatus(tc.err)
			if status != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, status)
			}
			if message == "" {
				t.Fatalf("expected a message")
			}
			if code := errorCode(tc.err); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	_, message := toStatus(fmt.Errorf("%w: secret detail", minter.ErrArithmeticInvariant))
	if message != "internal error" {
		t.Fatalf("expected generic message, got %q", message)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearerabc":    "",
	}
	for header, want := range cases {
		if got := extractBearer(header); got != want {
			t.Fatalf("extractBearer(%q) = %q, want %q", header, got, want)
		}
	}
}
