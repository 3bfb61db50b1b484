package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"gigescrow/native/bank"
	"gigescrow/native/orders"
	"gigescrow/services/escrowd/journal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain errors onto HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, orders.ErrAlreadyPresent):
		return http.StatusConflict, "already_present"
	case errors.Is(err, orders.ErrNotPresent):
		return http.StatusConflict, "not_present"
	case errors.Is(err, orders.ErrUnsupportedCurrency):
		return http.StatusUnprocessableEntity, "unsupported_currency"
	case errors.Is(err, orders.ErrPaymentMismatch):
		return http.StatusPaymentRequired, "payment_mismatch"
	case errors.Is(err, bank.ErrInsufficientFunds), errors.Is(err, bank.ErrInsufficientAllowance):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, orders.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(err, orders.ErrSuspended):
		return http.StatusServiceUnavailable, "suspended"
	case errors.Is(err, orders.ErrRunning):
		return http.StatusServiceUnavailable, "running"
	case errors.Is(err, orders.ErrInvalidArgument), errors.Is(err, bank.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, journal.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
	}
	writeError(w, status, code, err.Error())
}
