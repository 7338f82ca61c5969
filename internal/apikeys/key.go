package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// KeyLength is the number of random bytes in a generated key.
	KeyLength = 32

	// KeyPrefix starts every key so leaked keys are easy to recognise.
	KeyPrefix = "gw_"

	// displayPrefixLen is how much of a key is stored in clear for display.
	displayPrefixLen = len(KeyPrefix) + 6
)

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating key bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the SHA-256 digest of key used as the lookup value in storage.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidFormat reports whether key looks like a key this package generated.
func ValidFormat(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && len(key) > len(KeyPrefix)
}

// DisplayPrefix returns the leading characters of key that are safe to show.
func DisplayPrefix(key string) string {
	if len(key) <= displayPrefixLen {
		return key
	}
	return key[:displayPrefixLen]
}
