package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Config holds the argon2id work factors. Values below the package
// minimums are rejected by NewVerifier.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the stock argon2id work factors.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Verifier hashes and verifies passwords with argon2id. A Verifier carries
// a pre-computed dummy hash so that verification against a missing or
// malformed stored hash still runs the full key derivation; callers that
// need the no-account timing guarantee use VerifyStored.
type Verifier struct {
	config    Config
	dummyHash string
}

type parsedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewVerifier validates cfg and pre-computes the dummy hash used for
// constant-time verification against nonexistent accounts.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	v := &Verifier{config: cfg}

	// The dummy target is a random throwaway password hashed once at
	// construction. Its plaintext is discarded immediately.
	throwaway := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, throwaway); err != nil {
		return nil, err
	}
	dummy, err := v.Hash(base64.RawStdEncoding.EncodeToString(throwaway))
	if err != nil {
		return nil, err
	}
	v.dummyHash = dummy

	return v, nil
}

// Hash derives an argon2id hash of password and encodes it in PHC string
// format with a fresh random salt.
func (v *Verifier) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, v.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		v.config.Time,
		v.config.Memory,
		v.config.Parallelism,
		v.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		v.config.Memory,
		v.config.Time,
		v.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether password matches encodedHash. The comparison of
// the derived key is constant-time.
func (v *Verifier) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.hash)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// VerifyStored verifies password against a stored hash that may be empty
// (no such account) or malformed. In either degenerate case the dummy hash
// is substituted so the full argon2id derivation still runs, and the result
// is forced to false. The latency of a login attempt must not depend on
// whether the account exists or on the shape of the stored hash.
func (v *Verifier) VerifyStored(password, storedHash string) bool {
	target := storedHash
	usable := true

	if _, err := parsePHC(storedHash); err != nil {
		target = v.dummyHash
		usable = false
	}

	ok, err := v.Verify(password, target)
	if err != nil {
		return false
	}

	return ok && usable
}

// DummyHash exposes the pre-computed dummy hash for callers that need to
// burn a verification without an account record.
func (v *Verifier) DummyHash() string {
	return v.dummyHash
}

func parsePHC(encodedHash string) (*parsedHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var p parsedHash
	if err := parsePHCParams(parts[3], &p); err != nil {
		return nil, err
	}

	p.salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(p.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}

	p.hash, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(p.hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	return &p, nil
}

func parsePHCParams(part string, p *parsedHash) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return errors.New("invalid parameter format")
	}

	var haveMemory, haveTime, haveParallelism bool
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			n, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return errors.New("invalid memory parameter")
			}
			p.memory = uint32(n)
			haveMemory = true
		case "t":
			n, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return errors.New("invalid time parameter")
			}
			p.time = uint32(n)
			haveTime = true
		case "p":
			n, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return errors.New("invalid parallelism parameter")
			}
			p.parallelism = uint8(n)
			haveParallelism = true
		default:
			return errors.New("unsupported parameter")
		}
	}

	if !haveMemory || !haveTime || !haveParallelism {
		return errors.New("missing parameters")
	}

	return nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
