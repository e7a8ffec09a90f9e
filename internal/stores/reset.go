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

const (
	resetRecordVersionV1 = 1

	// Consumed rows linger briefly so a concurrent redemption observes the
	// used marker instead of a missing row.
	consumedRetention = 2 * time.Minute
)

var (
	// ErrResetNotFound covers missing and expired reset rows.
	ErrResetNotFound = errors.New("reset token not found")
	// ErrResetUsed is returned when the unused-to-used transition finds the
	// row already consumed. This is the concurrent double-redemption defense.
	ErrResetUsed = errors.New("reset token already used")
	// ErrResetSecretMismatch is returned when the presented secret hash does
	// not match the stored one.
	ErrResetSecretMismatch = errors.New("reset secret mismatch")
	// ErrResetRedisUnavailable wraps connectivity failures.
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// ResetRecord is a single-use password-reset token row.
type ResetRecord struct {
	TokenID    string
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
	Used       bool
}

// ResetStore persists single-use reset tokens in Redis. Consumption is a
// conditional unused-to-used update under WATCH; exactly one of two
// concurrent redemptions can succeed.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewResetStore creates a reset store under the given key prefix.
func NewResetStore(redisClient redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &ResetStore{redis: redisClient, prefix: prefix}
}

func (s *ResetStore) key(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *ResetStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save inserts a fresh reset row and indexes it under its account.
func (s *ResetStore) Save(ctx context.Context, rec *ResetRecord) error {
	encoded, err := encodeResetRecord(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("reset record already expired")
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.TokenID), encoded, ttl+consumedRetention)
		pipe.SAdd(ctx, s.accountKey(rec.AccountID), rec.TokenID)
		pipe.Expire(ctx, s.accountKey(rec.AccountID), ttl+consumedRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	return nil
}

// Get reads a reset row without consuming it. Callers validate the new
// credential against it first; Consume re-checks everything conditionally.
func (s *ResetStore) Get(ctx context.Context, tokenID string) (*ResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	rec, err := decodeResetRecord(data)
	if err != nil {
		return nil, err
	}
	rec.TokenID = tokenID

	if time.Now().Unix() >= rec.ExpiresAt {
		return nil, ErrResetNotFound
	}

	return rec, nil
}

// Consume performs the single-use redemption: it validates expiry and the
// secret hash, then flips unused to used. A row already marked used fails
// with ErrResetUsed; the caller must abort the password change.
//
// Expiry is a strict boundary: a token presented exactly at its expiry
// instant is rejected.
func (s *ResetStore) Consume(ctx context.Context, tokenID string, providedHash [32]byte) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(tokenID)

	for i := 0; i < maxRetries; i++ {
		var consumed *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeResetRecord(data)
			if err != nil {
				return err
			}
			rec.TokenID = tokenID

			if time.Now().Unix() >= rec.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetNotFound
			}

			if rec.Used {
				return ErrResetUsed
			}

			if subtle.ConstantTimeCompare(rec.SecretHash[:], providedHash[:]) != 1 {
				return ErrResetSecretMismatch
			}

			rec.Used = true
			updated, err := encodeResetRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, consumedRetention)
				pipe.SRem(ctx, s.accountKey(rec.AccountID), tokenID)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetUsed), errors.Is(err, ErrResetSecretMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}

		return consumed, nil
	}

	return nil, ErrResetUsed
}

// InvalidateForAccount deletes every outstanding unused reset row for an
// account. A new forgot-password request supersedes all previous links.
func (s *ResetStore) InvalidateForAccount(ctx context.Context, accountID string) error {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	if len(ids) > 0 {
		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, s.key(id))
		}
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
	}

	if err := s.redis.Del(ctx, s.accountKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	return nil
}

func encodeResetRecord(rec *ResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	if rec.Used {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	if len(rec.AccountID) > 65535 {
		return nil, errors.New("reset record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.AccountID)
	buf.Write(rec.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	used, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &ResetRecord{Used: used == 1}

	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	var accountIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountIDLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, accountIDLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	rec.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, rec.SecretHash[:]); err != nil {
		return nil, err
	}

	return rec, nil
}
