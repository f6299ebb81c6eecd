package account

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rexliu/acrpc/pkg/storage/memory"
)

func TestRelations(t *testing.T) {
	plain := Account{Email: "a@b.com"}
	withProvider := Account{Email: "a@b.com", ProviderID: "x"}

	cases := []struct {
		name       string
		a, b       Account
		match      bool
		loose      bool
		compatible bool
	}{
		{"identical", plain, plain, true, true, true},
		{"blank vs set provider", plain, withProvider, false, true, false},
		{"different provider", withProvider, Account{Email: "a@b.com", ProviderID: "y"}, false, false, false},
		{"different email", plain, Account{Email: "c@d.com"}, false, false, false},
		{"display names conflict", Account{Email: "a@b.com", DisplayName: "A"}, Account{Email: "a@b.com", DisplayName: "B"}, true, true, false},
		{"one display name", Account{Email: "a@b.com", DisplayName: "A"}, plain, true, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.a, tc.b); got != tc.match {
				t.Fatalf("Match = %v, want %v", got, tc.match)
			}
			if got := LooselyMatch(tc.a, tc.b); got != tc.loose {
				t.Fatalf("LooselyMatch = %v, want %v", got, tc.loose)
			}
			if got := Compatible(tc.a, tc.b); got != tc.compatible {
				t.Fatalf("Compatible = %v, want %v", got, tc.compatible)
			}
		})
	}
}

func TestNeedsUpdate(t *testing.T) {
	stored := Account{Email: "a@b.com", DisplayName: "A"}
	if NeedsUpdate(stored, Account{Email: "a@b.com"}) {
		t.Fatal("nothing new to update")
	}
	if !NeedsUpdate(stored, Account{Email: "a@b.com", PhotoURL: "https://p/x.png"}) {
		t.Fatal("expected new photo to need update")
	}
	if NeedsUpdate(stored, Account{Email: "a@b.com", DisplayName: "B"}) {
		t.Fatal("conflicting account must not be updated")
	}
}

func TestStoreMostRecentlyUsedFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.New())

	if empty, err := s.IsEmpty(ctx); err != nil || !empty {
		t.Fatalf("expected empty store, got %v %v", empty, err)
	}
	a := Account{Email: "a@b.com", DisplayName: "A", PhotoURL: "https://p/a.png"}
	b := Account{Email: "b@b.com"}
	if err := s.Add(ctx, a, b); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Re-adding a without profile data keeps the stored fields.
	if err := s.Add(ctx, Account{Email: "a@b.com"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]Account{a, b}, got); diff != "" {
		t.Fatalf("accounts mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreRefreshAndRemove(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.New())
	a, b := Account{Email: "a@b.com"}, Account{Email: "b@b.com"}
	if err := s.Add(ctx, a, b); err != nil {
		t.Fatalf("add: %v", err)
	}

	ok, err := s.Refresh(ctx, Account{Email: "a@b.com", DisplayName: "A"})
	if err != nil || !ok {
		t.Fatalf("refresh: %v %v", ok, err)
	}
	if ok, _ := s.Refresh(ctx, Account{Email: "z@b.com"}); ok {
		t.Fatal("refresh of unknown account should report false")
	}
	got, _ := s.List(ctx)
	want := []Account{b, {Email: "a@b.com", DisplayName: "A"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("refresh moved accounts (-want +got):\n%s", diff)
	}

	if ok, err := s.Remove(ctx, b); err != nil || !ok {
		t.Fatalf("remove: %v %v", ok, err)
	}
	found, ok, err := s.Find(ctx, Account{Email: "a@b.com", ProviderID: "x"}, LooselyMatch)
	if err != nil || !ok || found.DisplayName != "A" {
		t.Fatalf("find: %+v %v %v", found, ok, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if empty, _ := s.IsEmpty(ctx); !empty {
		t.Fatal("expected empty after clear")
	}
}

func TestFromListSkipsNonObjects(t *testing.T) {
	got := FromList([]any{map[string]any{"email": "a@b.com", "providerId": "p"}, "junk"})
	want := []Account{{Email: "a@b.com", ProviderID: "p"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"email": "a@b.com", "providerId": "p"}, got[0].Map()); diff != "" {
		t.Fatalf("map mismatch (-want +got):\n%s", diff)
	}
}
