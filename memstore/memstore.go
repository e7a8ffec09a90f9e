// Package memstore is an in-memory AccountStore for development and
// tests. It honors the same contract a SQL-backed store would, including
// the single-call password update with history append and prune.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	authcore "github.com/cmskit/authcore"
)

// Store is a mutex-guarded in-memory account store.
type Store struct {
	mu         sync.Mutex
	byID       map[string]*authcore.Account
	byEmail    map[string]string
	byUsername map[string]string
	history    map[string][]authcore.PasswordHistoryEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*authcore.Account),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		history:    make(map[string][]authcore.PasswordHistoryEntry),
	}
}

// Create implements authcore.AccountStore.
func (s *Store) Create(ctx context.Context, acct *authcore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(acct.Email)
	username := strings.ToLower(acct.Username)

	if _, ok := s.byEmail[email]; ok {
		return authcore.ErrDuplicateAccount
	}
	if _, ok := s.byUsername[username]; ok {
		return authcore.ErrDuplicateAccount
	}

	clone := *acct
	s.byID[acct.ID] = &clone
	s.byEmail[email] = acct.ID
	s.byUsername[username] = acct.ID

	return nil
}

// FindByID implements authcore.AccountStore.
func (s *Store) FindByID(ctx context.Context, id string) (*authcore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked(id)
}

// FindByEmail implements authcore.AccountStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*authcore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return s.locked(id)
}

// FindByUsername implements authcore.AccountStore.
func (s *Store) FindByUsername(ctx context.Context, username string) (*authcore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return s.locked(id)
}

// RecordLogin implements authcore.AccountStore.
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	acct.LastLoginAt = at

	return nil
}

// UpdatePassword implements authcore.AccountStore. The retired hash is
// appended to history and history is pruned to keep entries, oldest
// first, in the same critical section as the credential swap.
func (s *Store) UpdatePassword(ctx context.Context, id, newHash, retiredHash string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return authcore.ErrAccountNotFound
	}

	acct.PasswordHash = newHash
	entries := append(s.history[id], authcore.PasswordHistoryEntry{
		AccountID: id,
		Hash:      retiredHash,
		CreatedAt: time.Now(),
	})
	if keep > 0 && len(entries) > keep {
		entries = entries[len(entries)-keep:]
	}
	s.history[id] = entries

	return nil
}

// PasswordHistory implements authcore.AccountStore.
func (s *Store) PasswordHistory(ctx context.Context, id string) ([]authcore.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[id]
	out := make([]authcore.PasswordHistoryEntry, len(entries))
	copy(out, entries)

	return out, nil
}

// Deactivate flips an account inactive. Test and admin hook.
func (s *Store) Deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct, ok := s.byID[id]; ok {
		acct.Active = false
	}
}

func (s *Store) locked(id string) (*authcore.Account, error) {
	acct, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}

	clone := *acct
	return &clone, nil
}
