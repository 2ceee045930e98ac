// Package keys turns operator-supplied secrets into AES session keys. Key
// agreement is out of scope: both ends must be given the same material.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// DefaultSize selects AES-256.
const DefaultSize = 32

// ValidSize reports whether n is an AES key length.
func ValidSize(n int) bool {
	return n == 16 || n == 24 || n == 32
}

// ParseHex decodes a hex session key of 16, 24 or 32 bytes.
func ParseHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}
	if !ValidSize(len(key)) {
		return nil, fmt.Errorf("session key is %d bytes, want 16, 24 or 32", len(key))
	}
	return key, nil
}

// Derive stretches a passphrase into a DefaultSize key with Argon2id. Both
// ends must use the same salt.
func Derive(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	return argon2.IDKey([]byte(passphrase), []byte(salt), 1, 64*1024, 4, DefaultSize), nil
}

// Generate returns a fresh random key of the given size.
func Generate(size int) ([]byte, error) {
	if !ValidSize(size) {
		return nil, fmt.Errorf("invalid key size %d", size)
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Resolve picks the key source the way the CLI exposes it: an explicit hex
// key wins, otherwise the passphrase is derived.
func Resolve(hexKey, passphrase, salt string) ([]byte, error) {
	switch {
	case hexKey != "" && passphrase != "":
		return nil, errors.New("use either a key or a passphrase, not both")
	case hexKey != "":
		return ParseHex(hexKey)
	case passphrase != "":
		return Derive(passphrase, salt)
	default:
		return nil, errors.New("no session key: set --key or --passphrase")
	}
}

// Wipe zeroes key material that is no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
