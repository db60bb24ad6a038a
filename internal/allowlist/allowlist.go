// Package allowlist decides whether a recipient is permitted by a key's
// recipient patterns.
package allowlist

import (
	"strings"
)

// minPhoneDigits is the fewest digits a string needs to be treated as a phone number.
const minPhoneDigits = 7

// IsPhoneNumber reports whether s looks like a phone number: a leading '+'
// or digit, at least seven digits, and nothing but digits and common
// punctuation.
func IsPhoneNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if first := s[0]; first != '+' && (first < '0' || first > '9') {
		return false
	}

	digits := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '+', c == '-', c == ' ', c == '(', c == ')', c == '.':
		default:
			return false
		}
	}
	return digits >= minPhoneDigits
}

// Normalize canonicalizes an address. Phone numbers keep only digits and
// '+'; anything else is trimmed and lowercased.
func Normalize(address string) string {
	if IsPhoneNumber(address) {
		var b strings.Builder
		for _, c := range address {
			if (c >= '0' && c <= '9') || c == '+' {
				b.WriteRune(c)
			}
		}
		return b.String()
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// Matches reports whether recipient is permitted by any of patterns.
// A pattern "*@domain" admits every address at that domain; any other
// pattern must equal the recipient after normalization. Phone numbers are
// compared on their digits, so a missing leading '+' does not matter.
//
// Callers treat an empty pattern list as unrestricted and do not call Matches.
func Matches(recipient string, patterns []string) bool {
	for _, p := range patterns {
		if matchOne(recipient, p) {
			return true
		}
	}
	return false
}

func matchOne(recipient, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if strings.HasPrefix(pattern, "*@") {
		if IsPhoneNumber(recipient) {
			return false
		}
		return strings.HasSuffix(Normalize(recipient), strings.ToLower(pattern[1:]))
	}

	if IsPhoneNumber(recipient) && IsPhoneNumber(pattern) {
		return phoneDigits(recipient) == phoneDigits(pattern)
	}
	return Normalize(recipient) == Normalize(pattern)
}

func phoneDigits(s string) string {
	return strings.TrimPrefix(Normalize(s), "+")
}
