// Package storage defines the key/value persistence capability shared by
// the account list, browser config and relay store.
package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrUnavailable is returned by stores that cannot persist.
var ErrUnavailable = errors.New("storage unavailable")

// Store persists string values by key.
type Store interface {
	// Read returns the value at key and whether it was present.
	Read(ctx context.Context, key string) (string, bool, error)
	Write(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
	// Apply runs ops atomically, in order.
	Apply(ctx context.Context, ops ...Op) error
	Available(ctx context.Context) bool
}

// Op is a mutation applied by Store.Apply.
type Op interface {
	isOp()
}

// WriteOp stores Value at Key.
type WriteOp struct {
	Key   string
	Value string
}

func (WriteOp) isOp() {}

// ClearOp removes Key.
type ClearOp struct {
	Key string
}

func (ClearOp) isOp() {}

// ReadJSON decodes the value at key into v. It reports false when the key
// is absent.
func ReadJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Read(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

// WriteJSONOp encodes v into a WriteOp for key.
func WriteJSONOp(key string, v any) (WriteOp, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return WriteOp{}, errors.Wrapf(err, "encode %s", key)
	}
	return WriteOp{Key: key, Value: string(data)}, nil
}

// WriteJSON encodes v and stores it at key.
func WriteJSON(ctx context.Context, s Store, key string, v any) error {
	op, err := WriteJSONOp(key, v)
	if err != nil {
		return err
	}
	return s.Write(ctx, op.Key, op.Value)
}
