// Package memory is an in-process storage.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rexliu/acrpc/pkg/storage"
)

// Store keeps values in a map.
type Store struct {
	mu          sync.Mutex
	values      map[string]string
	unavailable bool
}

// New returns an empty, available store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// SetAvailable toggles availability. An unavailable store reads nothing
// and rejects writes, like a browser with storage disabled.
func (s *Store) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !available
}

func (s *Store) Available(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unavailable
}

func (s *Store) Read(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return "", false, storage.ErrUnavailable
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Write(ctx context.Context, key, value string) error {
	return s.Apply(ctx, storage.WriteOp{Key: key, Value: value})
}

func (s *Store) Clear(ctx context.Context, key string) error {
	return s.Apply(ctx, storage.ClearOp{Key: key})
}

func (s *Store) Apply(_ context.Context, ops ...storage.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return storage.ErrUnavailable
	}
	for _, op := range ops {
		switch v := op.(type) {
		case storage.WriteOp, storage.ClearOp:
		default:
			return fmt.Errorf("unsupported op %T", v)
		}
	}
	for _, op := range ops {
		switch v := op.(type) {
		case storage.WriteOp:
			s.values[v.Key] = v.Value
		case storage.ClearOp:
			delete(s.values, v.Key)
		}
	}
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
