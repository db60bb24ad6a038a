package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sipico/comms-gateway/internal/auth"
	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/ratelimit"
	"github.com/sipico/comms-gateway/internal/storage"
)

// Error codes of the dedicated error shapes.
const (
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeRecipientNotAllowed = "recipient_not_allowed"
	CodeConsentDenied       = "contact_consent_denied"
	CodeContentBlocked      = "content_blocked"
)

// ErrLocalOnly rejects management requests that do not come from loopback.
var ErrLocalOnly = errors.New("This endpoint is only accessible from localhost") //nolint:staticcheck // user-facing message

// ValidationError is a malformed or incomplete request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AllowlistError rejects a recipient outside the key's allowlist.
type AllowlistError struct {
	Recipient       string
	AllowedPatterns []string
}

func (e *AllowlistError) Error() string {
	return fmt.Sprintf("recipient %s is not allowed", e.Recipient)
}

// ConsentDeniedError rejects a recipient who opted out of AI messages.
type ConsentDeniedError struct {
	Recipient string
}

func (e *ConsentDeniedError) Error() string {
	return fmt.Sprintf("contact %s does not accept AI messages", e.Recipient)
}

// ContentBlockedError rejects text that matched a deny filter.
type ContentBlockedError struct {
	Filter      string
	Description string
}

func (e *ContentBlockedError) Error() string {
	return "content blocked by " + e.Filter
}

// envelope is the standard response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type rateLimitBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	LimitType         string `json:"limit_type"`
	CurrentCount      int    `json:"current_count"`
	Limit             int    `json:"limit"`
}

type allowlistBody struct {
	Error           string   `json:"error"`
	AllowedPatterns []string `json:"allowed_patterns"`
}

type consentBody struct {
	Error     string `json:"error"`
	Recipient string `json:"recipient"`
}

type contentBlockedBody struct {
	Error       string `json:"error"`
	Filter      string `json:"filter"`
	Description string `json:"description"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// writeError maps the error taxonomy to a status code and body. Errors
// outside the taxonomy are logged and reported as 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validation *ValidationError
		exceeded   *ratelimit.ExceededError
		allowlist  *AllowlistError
		consent    *ConsentDeniedError
		blocked    *ContentBlockedError
		transition *storage.TransitionError
		authErr    *auth.Error
	)

	switch {
	case errors.As(err, &validation):
		writeFailure(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &authErr):
		writeFailure(w, http.StatusUnauthorized, authErr.Error())
	case errors.As(err, &exceeded):
		w.Header().Set("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds()))
		writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
			Error:             CodeRateLimitExceeded,
			RetryAfterSeconds: exceeded.RetryAfterSeconds(),
			LimitType:         string(exceeded.Window),
			CurrentCount:      exceeded.CurrentCount,
			Limit:             exceeded.Limit,
		})
	case errors.As(err, &allowlist):
		writeJSON(w, http.StatusForbidden, allowlistBody{
			Error:           CodeRecipientNotAllowed,
			AllowedPatterns: allowlist.AllowedPatterns,
		})
	case errors.As(err, &consent):
		writeJSON(w, http.StatusForbidden, consentBody{
			Error:     CodeConsentDenied,
			Recipient: consent.Recipient,
		})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusBadRequest, contentBlockedBody{
			Error:       CodeContentBlocked,
			Filter:      blocked.Filter,
			Description: blocked.Description,
		})
	case errors.Is(err, ErrLocalOnly):
		writeFailure(w, http.StatusForbidden, ErrLocalOnly.Error())
	case errors.As(err, &transition):
		verb := "approve"
		if transition.To == message.StatusDenied {
			verb = "deny"
		}
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("Cannot %s: status is %s", verb, transition.From))
	case errors.Is(err, storage.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "Message not found")
	default:
		logger.Error("request failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "internal error")
	}
}
