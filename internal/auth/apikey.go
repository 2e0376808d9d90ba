package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	// DefaultKeyTag is prepended to every issued key so callers can recognise it.
	DefaultKeyTag = "eqs_"

	// MaxKeyTagLength keeps tag plus payload prefix within the key_prefix column.
	MaxKeyTagLength = 12

	keyEntropyBytes  = 32 // 256 bits
	keyPrefixPayload = 8
)

// GenerateAPIKey returns a new plaintext key: tag followed by 256 bits of
// URL-safe random payload. The plaintext is shown to the caller once and
// never stored.
func GenerateAPIKey(tag string) (string, error) {
	if tag == "" {
		tag = DefaultKeyTag
	}
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tag + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey returns the SHA-256 hex digest used for storage and lookup.
func HashAPIKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// ExtractKeyPrefix returns tag plus the first 8 payload characters. Keys
// that do not carry tag fall back to their first 8 characters.
func ExtractKeyPrefix(rawKey, tag string) string {
	if tag == "" {
		tag = DefaultKeyTag
	}
	n := keyPrefixPayload
	if strings.HasPrefix(rawKey, tag) {
		n += len(tag)
	}
	if len(rawKey) <= n {
		return rawKey
	}
	return rawKey[:n]
}
