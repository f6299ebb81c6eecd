// Package relay keeps the one in-flight request or response per client
// domain across a full page navigation.
package relay

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/storage"
)

const (
	incomingPrefix = "IN_RPC_"
	outgoingPrefix = "OUT_RPC_"

	// DefaultExpiry is how long a saved entry stays usable.
	DefaultExpiry = 5 * time.Minute
)

// Logger is the logging surface used here.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures a Store. Zero values take defaults.
type Options struct {
	Clock  clock.Clock
	Expiry time.Duration
	Logger Logger
}

// Store persists incoming (client to chooser) and outgoing (chooser to
// client) RPC objects keyed by client domain. Writing either channel
// clears both, so a newer exchange supersedes an unanswered one.
type Store struct {
	kv     storage.Store
	clock  clock.Clock
	expiry time.Duration
	log    Logger
}

// record is the stored form. RPCs holds at most one object; only the
// last is ever used.
type record struct {
	RPCs      []json.RawMessage `json:"rpcs"`
	Recovered bool              `json:"recovered,omitempty"`
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// New returns a Store on kv.
func New(kv storage.Store, opts Options) *Store {
	s := &Store{kv: kv, clock: opts.Clock, expiry: opts.Expiry, log: opts.Logger}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.expiry <= 0 {
		s.expiry = DefaultExpiry
	}
	if s.log == nil {
		s.log = nopLogger{}
	}
	return s
}

var schemePrefix = regexp.MustCompile(`^https?://`)

// Domain normalizes an origin into a relay key suffix.
func Domain(origin string) string {
	return schemePrefix.ReplaceAllString(origin, "")
}

// Available reports whether the backing storage can persist.
func (s *Store) Available(ctx context.Context) bool {
	return s.kv.Available(ctx)
}

// SaveIncoming stamps req and stores it as the pending request for domain.
func (s *Store) SaveIncoming(ctx context.Context, domain string, req rpc.ClientRequest) error {
	return s.save(ctx, domain, req, true)
}

// SaveOutgoing stamps obj and stores it as the pending reply for domain.
func (s *Store) SaveOutgoing(ctx context.Context, domain string, obj rpc.Object) error {
	return s.save(ctx, domain, obj, false)
}

// LoadIncoming returns and removes the pending request for domain.
func (s *Store) LoadIncoming(ctx context.Context, domain string) (map[string]any, bool, error) {
	raw, _, err := s.load(ctx, incomingPrefix+Domain(domain))
	return raw, raw != nil, err
}

// RecoverIncoming is LoadIncoming for the page serving the request. The
// first recovery writes the entry back, unchanged in age, so a single
// reload of that page can recover it again.
func (s *Store) RecoverIncoming(ctx context.Context, domain string) (map[string]any, bool, error) {
	key := incomingPrefix + Domain(domain)
	raw, rec, err := s.load(ctx, key)
	if err != nil || raw == nil {
		return nil, false, err
	}
	if !rec.Recovered {
		rec.Recovered = true
		if err := storage.WriteJSON(ctx, s.kv, key, rec); err != nil {
			return nil, false, errors.Wrap(err, "keep recovered request")
		}
	}
	return raw, true, nil
}

// LoadOutgoing returns and removes the pending reply for domain.
func (s *Store) LoadOutgoing(ctx context.Context, domain string) (map[string]any, bool, error) {
	raw, _, err := s.load(ctx, outgoingPrefix+Domain(domain))
	return raw, raw != nil, err
}

func (s *Store) save(ctx context.Context, domain string, obj rpc.Object, incoming bool) error {
	domain = Domain(domain)
	if domain == "" {
		return errors.New("relay: empty domain")
	}
	obj.Metadata().Timestamp = s.clock.Now().UnixMilli()
	data, err := rpc.Marshal(obj)
	if err != nil {
		return err
	}
	key := outgoingPrefix + domain
	if incoming {
		key = incomingPrefix + domain
	}
	write, err := storage.WriteJSONOp(key, record{RPCs: []json.RawMessage{data}})
	if err != nil {
		return err
	}
	err = s.kv.Apply(ctx,
		storage.ClearOp{Key: incomingPrefix + domain},
		storage.ClearOp{Key: outgoingPrefix + domain},
		write,
	)
	return errors.Wrapf(err, "save %s", key)
}

// load reads and deletes key, then returns the latest unexpired object.
func (s *Store) load(ctx context.Context, key string) (map[string]any, record, error) {
	var rec record
	ok, err := storage.ReadJSON(ctx, s.kv, key, &rec)
	if err != nil || !ok {
		return nil, rec, err
	}
	if err := s.kv.Clear(ctx, key); err != nil {
		return nil, rec, errors.Wrapf(err, "clear %s", key)
	}
	if len(rec.RPCs) == 0 {
		return nil, rec, nil
	}
	latest := rec.RPCs[len(rec.RPCs)-1]
	raw, err := rpc.Decode(string(latest))
	if err != nil {
		s.log.Printf("drop unreadable relay entry %s: %v", key, err)
		return nil, rec, nil
	}
	ts, _ := raw["timestamp"].(float64)
	age := s.clock.Since(time.UnixMilli(int64(ts)))
	if ts == 0 || age >= s.expiry {
		s.log.Printf("ignore expired relay entry %s: %s", key, latest)
		return nil, rec, nil
	}
	return raw, rec, nil
}
