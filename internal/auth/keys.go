package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix starts every gateway key.
	KeyPrefix = "gw_"
	// keyRandomBytes is the entropy of a key; it is hex encoded.
	keyRandomBytes = 24
	// KeyLength is the total length of a well-formed key.
	KeyLength = len(KeyPrefix) + keyRandomBytes*2
	// DisplayPrefixLength is how much of a key may be shown or logged.
	DisplayPrefixLength = 11
)

// GenerateKey returns a new random key and its display prefix.
func GenerateKey() (key, displayPrefix string, err error) {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	key = KeyPrefix + hex.EncodeToString(b)
	return key, key[:DisplayPrefixLength], nil
}

// HashKey computes the SHA256 hash of a key for storage lookup.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateKeyFormat checks the shape of a key without touching storage.
func ValidateKeyFormat(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) != KeyLength {
		return false
	}
	for _, c := range key[len(KeyPrefix):] {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// MaskKey returns the display prefix of a key followed by an ellipsis.
func MaskKey(key string) string {
	if len(key) <= DisplayPrefixLength {
		return "****"
	}
	return key[:DisplayPrefixLength] + "..."
}
