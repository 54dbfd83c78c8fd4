package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/reports"
)

var errBadRequest = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged
// and returned as an opaque 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		message = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidAccountType),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrSameAccount),
		errors.Is(err, reports.ErrInvalidBucket),
		errors.Is(err, auth.ErrMissingField),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into dst. Amount parse failures keep
// their domain error so they map to 422; everything else malformed is a plain
// bad request.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			return core.ErrInvalidAmount
		}
		return errBadRequest
	}
	return nil
}

// sanitize trims whitespace and strips control characters from user input.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// transactionResponse is the wire shape of one ledger entry.
type transactionResponse struct {
	ID          int64      `json:"id"`
	Account     string     `json:"account"`
	Kind        string     `json:"kind"`
	Amount      core.Money `json:"amount"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		Account:     string(t.Account),
		Kind:        string(t.Kind),
		Amount:      t.Amount,
		Category:    t.Category,
		Description: t.Description,
		OccurredAt:  t.OccurredAt,
	}
}
