package browserconfig

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rexliu/acrpc/pkg/storage/memory"
)

func TestDisabledAndBootstrapDomain(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	c := New(kv, nil)

	if disabled, err := c.IsDisabled(ctx); err != nil || disabled {
		t.Fatalf("expected enabled by default, got %v %v", disabled, err)
	}
	if err := c.SetDisabled(ctx, true); err != nil {
		t.Fatalf("set disabled: %v", err)
	}
	if err := c.SetBootstrapDomain(ctx, "https://idp.example"); err != nil {
		t.Fatalf("set bootstrap domain: %v", err)
	}
	raw, _, _ := kv.Read(ctx, StorageKey)
	if raw != `{"bootstrap_domain":"https://idp.example","disabled":true}` {
		t.Fatalf("unexpected stored settings %s", raw)
	}
	if disabled, _ := c.IsDisabled(ctx); !disabled {
		t.Fatal("expected disabled")
	}
	if domain, _ := c.BootstrapDomain(ctx); domain != "https://idp.example" {
		t.Fatalf("unexpected bootstrap domain %q", domain)
	}
}

func TestSetClearAll(t *testing.T) {
	ctx := context.Background()
	c := New(memory.New(), nil)
	if err := c.SetAll(ctx, map[string]any{"a": "1", "b": true}); err != nil {
		t.Fatalf("set all: %v", err)
	}
	if err := c.Clear(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	all, err := c.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"b": true}, all); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}
	if err := c.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if v, _ := c.Get(ctx, "b"); v != nil {
		t.Fatalf("expected cleared, got %v", v)
	}
}
