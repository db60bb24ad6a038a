// Package logging provides utilities for secure logging with data masking.
//
// Gateway traffic carries two kinds of secrets: API keys in headers, and
// personal data (recipients, subjects, message bodies) in JSON bodies. Keys
// are partially masked; bodies are reduced to an allowlist of routing fields.
package logging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BodyAllowlist lists the JSON fields that are safe to log verbatim.
// Everything else in a request or response body is redacted.
var BodyAllowlist = []string{
	"success",
	"error",
	"action_id",
	"id",
	"status",
	"channel",
	"priority",
	"agent_name",
	"created_at",
	"reviewed_at",
	"sent_at",
	"error_message",
	"limit_type",
	"retry_after_seconds",
	"current_count",
	"limit",
	"filter",
	"total",
	"uptime_secs",
	"pending_count",
	"version",
}

// MaskHeader redacts sensitive header values based on header name.
// Returns the redacted value suitable for logging.
//
// Rules:
//   - Password/secret/cookie headers: "[REDACTED]"
//   - Key headers: the first three and last four characters survive
//   - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "cookie") {
		return "[REDACTED]"
	}

	switch lowerName {
	case "x-gateway-key", "x-api-key":
		return MaskSecret(value)
	case "authorization":
		if scheme, token, ok := strings.Cut(value, " "); ok {
			return scheme + " " + MaskSecret(token)
		}
		return MaskSecret(value)
	}

	return value
}

// MaskSecret keeps the "gw_"-style prefix and the last four characters of a
// credential. Short values are fully masked.
func MaskSecret(value string) string {
	if len(value) < 12 {
		return "****"
	}
	return value[:3] + "****" + value[len(value)-4:]
}

// MaskAddress shortens a recipient for log lines: the domain of an email
// address survives, and a phone number keeps its last four digits.
func MaskAddress(addr string) string {
	if local, domain, ok := strings.Cut(addr, "@"); ok {
		if local == "" {
			return "@" + domain
		}
		return local[:1] + "***@" + domain
	}
	if len(addr) <= 4 {
		return "****"
	}
	return "***" + addr[len(addr)-4:]
}

// MaskJSONBody redacts non-allowlisted fields in a JSON body.
//
// If allowlist is nil, returns the body unchanged (everything allowed).
// Otherwise primitive values of fields outside the allowlist become
// "[REDACTED]"; objects and arrays are walked so that allowlisted fields
// nested inside them survive.
//
// Returns the masked JSON as bytes, or the original if parsing fails.
func MaskJSONBody(body []byte, allowlist []string) []byte {
	if allowlist == nil || len(body) == 0 {
		return body
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, field := range allowlist {
		allowed[field] = true
	}

	result, err := json.Marshal(maskJSONValue(data, allowed, false))
	if err != nil {
		return body
	}
	return result
}

// maskJSONValue redacts primitives unless keep is set. Object fields decide
// keep by their own key; array elements inherit it from the enclosing key.
func maskJSONValue(value any, allowed map[string]bool, keep bool) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = maskJSONValue(val, allowed, allowed[key])
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = maskJSONValue(item, allowed, keep)
		}
		return result
	default:
		if keep {
			return value
		}
		return "[REDACTED]"
	}
}

// FormatBinaryData formats binary data for logging.
func FormatBinaryData(data []byte) string {
	return fmt.Sprintf("[BINARY: %d bytes]", len(data))
}
