// Package token generates and encodes the opaque secrets behind refresh
// and password-reset tokens. A wire token is id||secret, base64url without
// padding; only the SHA-256 of the secret is ever persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	idSize     = 16
	secretSize = 32
	wireSize   = idSize + secretSize
)

// ID is the random identifier of a token row.
type ID [idSize]byte

// Secret is the opaque secret half of a wire token.
type Secret [secretSize]byte

// NewID returns a fresh random token row identifier.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

// String renders the ID as compact base64url.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes a base64url row identifier.
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != idSize {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewSecret returns a fresh opaque secret.
func NewSecret() (Secret, error) {
	var secret Secret
	_, err := rand.Read(secret[:])
	return secret, err
}

// Hash is the persisted representation of a secret. The raw secret never
// reaches a store.
func (s Secret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// Encode packs id and secret into the wire form handed to clients.
func Encode(id ID, secret Secret) string {
	var raw [wireSize]byte
	copy(raw[:idSize], id[:])
	copy(raw[idSize:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// Decode splits a wire token back into its row id and secret. It performs
// no store lookups; a decodable token proves nothing by itself.
func Decode(wire string) (ID, Secret, error) {
	var (
		id     ID
		secret Secret
	)

	raw, err := base64.RawURLEncoding.DecodeString(wire)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != wireSize {
		return id, secret, errors.New("invalid token size")
	}

	copy(id[:], raw[:idSize])
	copy(secret[:], raw[idSize:])

	return id, secret, nil
}

// HashFingerprint collapses a client fingerprint (IP + user agent) into
// the fixed-size digest bound to a refresh token at issuance.
func HashFingerprint(ip, userAgent string) [32]byte {
	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
