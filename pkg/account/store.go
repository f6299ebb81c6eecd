package account

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/rexliu/acrpc/pkg/storage"
)

// StorageKey is the key holding the account list.
const StorageKey = "chooserAccounts"

// Store keeps accounts most recently used first, unique by Match.
type Store struct {
	mu sync.Mutex
	kv storage.Store
}

// NewStore returns a Store persisting to kv.
func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// Available reports whether the backing storage can persist.
func (s *Store) Available(ctx context.Context) bool {
	return s.kv.Available(ctx)
}

// List returns the stored accounts.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// IsEmpty reports whether no account is stored.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	accounts, err := s.List(ctx)
	return len(accounts) == 0, err
}

// Find returns the first stored account for which pred(stored, a) holds.
func (s *Store) Find(ctx context.Context, a Account, pred func(stored, given Account) bool) (Account, bool, error) {
	accounts, err := s.List(ctx)
	if err != nil {
		return Account{}, false, err
	}
	found, ok := lo.Find(accounts, func(stored Account) bool { return pred(stored, a) })
	return found, ok, nil
}

// Add moves each account to the front, merging profile fields from an
// existing match. Later arguments end up first. Accounts without an email
// are skipped.
func (s *Store) Add(ctx context.Context, accounts ...Account) error {
	if len(accounts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.Email == "" {
			continue
		}
		if existing, ok := lo.Find(list, func(stored Account) bool { return Match(stored, a) }); ok {
			a = Merge(existing, a)
		}
		list = append([]Account{a}, lo.Reject(list, func(stored Account, _ int) bool {
			return Match(stored, a)
		})...)
	}
	return s.save(ctx, list)
}

// Refresh replaces the matching account in place. It reports whether a
// match was found.
func (s *Store) Refresh(ctx context.Context, a Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	_, idx, ok := lo.FindIndexOf(list, func(stored Account) bool { return Match(stored, a) })
	if !ok {
		return false, nil
	}
	list[idx] = Merge(list[idx], a)
	return true, s.save(ctx, list)
}

// Remove deletes the matching account. It reports whether one was removed.
func (s *Store) Remove(ctx context.Context, a Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	kept := lo.Reject(list, func(stored Account, _ int) bool { return Match(stored, a) })
	if len(kept) == len(list) {
		return false, nil
	}
	return true, s.save(ctx, kept)
}

// Clear removes every account.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.kv.Clear(ctx, StorageKey), "clear accounts")
}

func (s *Store) load(ctx context.Context) ([]Account, error) {
	var list []Account
	if _, err := storage.ReadJSON(ctx, s.kv, StorageKey, &list); err != nil {
		return nil, errors.Wrap(err, "load accounts")
	}
	return list, nil
}

func (s *Store) save(ctx context.Context, list []Account) error {
	return errors.Wrap(storage.WriteJSON(ctx, s.kv, StorageKey, list), "save accounts")
}
