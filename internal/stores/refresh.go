package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const refreshRecordVersionV1 = 1

var (
	// ErrRefreshNotFound is returned when the presented token row does not exist.
	ErrRefreshNotFound = errors.New("refresh token not found")
	// ErrRefreshRevoked is returned when the row exists but left the issued state.
	// Presenting a rotated-away secret lands here: replay.
	ErrRefreshRevoked = errors.New("refresh token revoked")
	// ErrRefreshExpired is returned when the row outlived its lifetime.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshSecretMismatch is returned when the presented secret hash does
	// not match the stored one.
	ErrRefreshSecretMismatch = errors.New("refresh secret mismatch")
	// ErrRefreshFingerprintMismatch is returned when the presenting client's
	// fingerprint differs from the one bound at issuance. The row has already
	// been revoked when this is returned.
	ErrRefreshFingerprintMismatch = errors.New("refresh fingerprint mismatch")
	// ErrRefreshRedisUnavailable wraps connectivity failures.
	ErrRefreshRedisUnavailable = errors.New("refresh redis unavailable")
)

// RefreshRecord is one link of a refresh-token chain. Only the SHA-256 of
// the opaque secret is stored. RevokedAt == 0 means the link is still in
// the issued state.
type RefreshRecord struct {
	TokenID         string
	AccountID       string
	SecretHash      [32]byte
	FingerprintHash [32]byte
	IssuedAt        int64
	ExpiresAt       int64
	RevokedAt       int64
}

// RefreshStore persists refresh-token chains in Redis. Rotation runs under
// WATCH so two concurrent presentations of the same secret cannot both
// succeed.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRefreshStore creates a refresh store under the given key prefix.
func NewRefreshStore(redisClient redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "art"
	}
	return &RefreshStore{redis: redisClient, prefix: prefix}
}

func (s *RefreshStore) key(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *RefreshStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save inserts a fresh chain link and indexes it under its account. The
// row's TTL tracks its expiry so revoked and expired links age out of Redis
// on their own.
func (s *RefreshStore) Save(ctx context.Context, rec *RefreshRecord) error {
	encoded, err := encodeRefreshRecord(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("refresh record already expired")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.TokenID), encoded, ttl)
		pipe.SAdd(ctx, s.accountKey(rec.AccountID), rec.TokenID)
		pipe.Expire(ctx, s.accountKey(rec.AccountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	return nil
}

// Get returns the raw record. Used by flows that need the row after a
// failure and by tests.
func (s *RefreshStore) Get(ctx context.Context, tokenID string) (*RefreshRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRefreshNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	rec, err := decodeRefreshRecord(data)
	if err != nil {
		return nil, err
	}
	rec.TokenID = tokenID

	return rec, nil
}

// Rotate atomically retires the presented link and installs its successor.
// The revoke-then-insert step runs inside one Redis transaction: there is
// no window where both links are trusted and no window where neither is if
// the transaction commits.
//
// A fingerprint mismatch is treated as suspected theft: the presented link
// is revoked inside the same transaction and ErrRefreshFingerprintMismatch
// is returned without rotating.
func (s *RefreshStore) Rotate(
	ctx context.Context,
	tokenID string,
	providedHash [32]byte,
	fingerprint [32]byte,
	successor *RefreshRecord,
) (*RefreshRecord, error) {
	const maxRetries = 4
	key := s.key(tokenID)

	for i := 0; i < maxRetries; i++ {
		var rotated *RefreshRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeRefreshRecord(data)
			if err != nil {
				return err
			}
			rec.TokenID = tokenID

			now := time.Now()
			if rec.RevokedAt != 0 {
				return ErrRefreshRevoked
			}
			if now.Unix() >= rec.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.accountKey(rec.AccountID), tokenID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrRefreshExpired
			}

			if subtle.ConstantTimeCompare(rec.SecretHash[:], providedHash[:]) != 1 {
				return ErrRefreshSecretMismatch
			}

			if subtle.ConstantTimeCompare(rec.FingerprintHash[:], fingerprint[:]) != 1 {
				rec.RevokedAt = now.Unix()
				revoked, encErr := encodeRefreshRecord(rec)
				if encErr != nil {
					return encErr
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, revoked, redis.KeepTTL)
					pipe.SRem(ctx, s.accountKey(rec.AccountID), tokenID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrRefreshFingerprintMismatch
			}

			rec.RevokedAt = now.Unix()
			retired, err := encodeRefreshRecord(rec)
			if err != nil {
				return err
			}

			// The successor always belongs to the retired link's account.
			successor.AccountID = rec.AccountID
			next, err := encodeRefreshRecord(successor)
			if err != nil {
				return err
			}
			nextTTL := time.Until(time.Unix(successor.ExpiresAt, 0))
			if nextTTL <= 0 {
				return errors.New("successor record already expired")
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, retired, redis.KeepTTL)
				pipe.Set(ctx, s.key(successor.TokenID), next, nextTTL)
				pipe.SRem(ctx, s.accountKey(rec.AccountID), tokenID)
				pipe.SAdd(ctx, s.accountKey(successor.AccountID), successor.TokenID)
				pipe.Expire(ctx, s.accountKey(successor.AccountID), nextTTL)
				return nil
			})
			if err != nil {
				return err
			}

			rotated = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrRefreshNotFound
			case errors.Is(err, ErrRefreshRevoked),
				errors.Is(err, ErrRefreshExpired),
				errors.Is(err, ErrRefreshSecretMismatch),
				errors.Is(err, ErrRefreshFingerprintMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
			}
		}

		return rotated, nil
	}

	return nil, ErrRefreshNotFound
}

// Revoke marks a link revoked. It is idempotent: revoking a missing or
// already-revoked link is not an error.
func (s *RefreshStore) Revoke(ctx context.Context, tokenID string) error {
	key := s.key(tokenID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	rec, err := decodeRefreshRecord(data)
	if err != nil {
		return err
	}
	if rec.RevokedAt != 0 {
		return nil
	}

	rec.RevokedAt = time.Now().Unix()
	encoded, err := encodeRefreshRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, redis.KeepTTL)
		pipe.SRem(ctx, s.accountKey(rec.AccountID), tokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	return nil
}

// RevokeAllForAccount revokes every live link of an account. Used after a
// credential change to force re-login everywhere.
func (s *RefreshStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	for _, id := range ids {
		if err := s.Revoke(ctx, id); err != nil {
			return err
		}
	}

	if err := s.redis.Del(ctx, s.accountKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	return nil
}

func encodeRefreshRecord(rec *RefreshRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(refreshRecordVersionV1)

	if len(rec.AccountID) > 65535 {
		return nil, errors.New("refresh record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.AccountID)
	buf.Write(rec.SecretHash[:])
	buf.Write(rec.FingerprintHash[:])

	for _, ts := range []int64{rec.IssuedAt, rec.ExpiresAt, rec.RevokedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeRefreshRecord(data []byte) (*RefreshRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != refreshRecordVersionV1 {
		return nil, errors.New("invalid refresh record version")
	}

	var accountIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountIDLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, accountIDLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}

	rec := &RefreshRecord{AccountID: string(accountID)}

	if _, err := io.ReadFull(reader, rec.SecretHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, rec.FingerprintHash[:]); err != nil {
		return nil, err
	}

	for _, ts := range []*int64{&rec.IssuedAt, &rec.ExpiresAt, &rec.RevokedAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return rec, nil
}
