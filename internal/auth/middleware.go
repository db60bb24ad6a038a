package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sipico/comms-gateway/internal/metrics"
)

// HeaderName carries the agent's key.
const HeaderName = "X-Gateway-Key"

// Middleware returns Chi-compatible middleware that authenticates every
// request, records the use of the key and stores it in the request context.
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := a.Authenticate(r.Context(), extractKey(r))
			if err != nil {
				var authErr *Error
				if errors.As(err, &authErr) {
					metrics.RecordAuthFailure(authErr.Reason.String())
					writeJSONError(w, http.StatusUnauthorized, authErr.Error())
					return
				}
				a.logger.Error("authentication failed", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}

			if err := a.Touch(r.Context(), key.ID); err != nil {
				a.logger.Warn("failed to record key use", "key_id", key.ID, "error", err)
			}

			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
		})
	}
}

// extractKey reads the gateway header, falling back to "Authorization: Bearer <key>".
func extractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderName)); key != "" {
		return key
	}
	return extractBearerToken(r)
}

// extractBearerToken gets token from "Authorization: Bearer <token>" header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeJSONError writes the gateway's failure envelope.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Error: message}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}
