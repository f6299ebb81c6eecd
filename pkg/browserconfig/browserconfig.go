// Package browserconfig holds per-browser chooser settings under a single
// storage key.
package browserconfig

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/storage"
)

// StorageKey is the key holding the settings object.
const StorageKey = "cdsSettings"

const (
	disabledKey        = "disabled"
	bootstrapDomainKey = "bootstrap_domain"
)

// Logger is the logging surface used here.
type Logger interface {
	Printf(format string, args ...any)
}

// Config reads and writes the settings object.
type Config struct {
	mu  sync.Mutex
	kv  storage.Store
	log Logger
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// New returns a Config persisting to kv. log may be nil.
func New(kv storage.Store, log Logger) *Config {
	if log == nil {
		log = nopLogger{}
	}
	return &Config{kv: kv, log: log}
}

// All returns every setting. A missing object reads as empty.
func (c *Config) All(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// SetAll replaces every setting.
func (c *Config) SetAll(ctx context.Context, settings map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(ctx, settings)
}

// ClearAll removes the settings object.
func (c *Config) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Printf("clear browser config")
	return errors.Wrap(c.kv.Clear(ctx, StorageKey), "clear browser config")
}

// Get returns one setting.
func (c *Config) Get(ctx context.Context, key string) (any, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return all[key], nil
}

// Set updates one setting.
func (c *Config) Set(ctx context.Context, key string, value any) error {
	return c.update(ctx, func(all map[string]any) { all[key] = value })
}

// Clear removes one setting.
func (c *Config) Clear(ctx context.Context, key string) error {
	return c.update(ctx, func(all map[string]any) { delete(all, key) })
}

// IsDisabled reports whether the user turned the chooser off.
func (c *Config) IsDisabled(ctx context.Context) (bool, error) {
	v, err := c.Get(ctx, disabledKey)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (c *Config) SetDisabled(ctx context.Context, disabled bool) error {
	return c.Set(ctx, disabledKey, disabled)
}

// BootstrapDomain returns the domain that bootstrapped this browser, or "".
func (c *Config) BootstrapDomain(ctx context.Context) (string, error) {
	v, err := c.Get(ctx, bootstrapDomainKey)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *Config) SetBootstrapDomain(ctx context.Context, domain string) error {
	return c.Set(ctx, bootstrapDomainKey, domain)
}

func (c *Config) update(ctx context.Context, fn func(map[string]any)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.load(ctx)
	if err != nil {
		return err
	}
	fn(all)
	return c.save(ctx, all)
}

func (c *Config) load(ctx context.Context) (map[string]any, error) {
	all := map[string]any{}
	if _, err := storage.ReadJSON(ctx, c.kv, StorageKey, &all); err != nil {
		return nil, errors.Wrap(err, "load browser config")
	}
	if all == nil {
		all = map[string]any{}
	}
	return all, nil
}

func (c *Config) save(ctx context.Context, all map[string]any) error {
	c.log.Printf("set browser config %v", all)
	return errors.Wrap(storage.WriteJSON(ctx, c.kv, StorageKey, all), "save browser config")
}
