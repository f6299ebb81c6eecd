package validate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rexliu/acrpc/pkg/rpc"
)

func TestRequestStoreSchema(t *testing.T) {
	req := rpc.NewStoreRequest("store",
		[]any{map[string]any{
			"email":       "a@b.com",
			"displayName": "<b>Ann</b>",
			"photoUrl":    "http://insecure.example/p.png",
		}},
		map[string]any{
			"clientCallbackUrl": "https://client.example/cb",
			"silent":            "yes",
			"language":          "en-GB",
			"tracking":          "drop me",
		})
	if err := Request(req, "https://client.example"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := rpc.Params{
		"accounts": []any{map[string]any{"email": "a@b.com", "displayName": "Ann"}},
		"clientConfig": map[string]any{
			"clientCallbackUrl": "https://client.example/cb",
			"silent":            true,
			"language":          "en_gb",
		},
	}
	if diff := cmp.Diff(want, req.Params()); diff != "" {
		t.Fatalf("unexpected params (-want +got):\n%s", diff)
	}
}

func TestRequestRejectsForeignCallback(t *testing.T) {
	req := rpc.NewSelectRequest("select", nil, map[string]any{
		"clientCallbackUrl": "https://evil.example/cb",
	})
	err := Request(req, "https://client.example")
	if !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("expected ErrInvalidDomain, got %v", err)
	}
	var verr *Error
	if !errors.As(err, &verr) || verr.Field() != "clientConfig.clientCallbackUrl" {
		t.Fatalf("unexpected error path: %v", err)
	}
}

func TestRequestRejectsUnknownAccountField(t *testing.T) {
	req := rpc.NewUpdateRequest("update",
		map[string]any{"email": "a@b.com", "password": "x"},
		map[string]any{})
	if err := Request(req, "client.example"); !errors.Is(err, ErrUnrecognizedField) {
		t.Fatalf("expected ErrUnrecognizedField, got %v", err)
	}
}

func TestRequestQuerySchema(t *testing.T) {
	if err := Request(rpc.NewQueryRequest("q", rpc.QueryEmpty, nil), "x.example"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := Request(rpc.NewQueryRequest("q", "dropTables", nil), "x.example"); !errors.Is(err, ErrNotEnum) {
		t.Fatalf("expected ErrNotEnum, got %v", err)
	}
}

func TestRequestBootstrapOrigin(t *testing.T) {
	ok := rpc.NewBootstrapRequest("b", "https://client.example", nil, map[string]any{})
	if err := Request(ok, "https://client.example"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	bad := rpc.NewBootstrapRequest("b", "https://other.example", nil, map[string]any{})
	if err := Request(bad, "https://client.example"); !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("expected ErrInvalidDomain, got %v", err)
	}
}

func TestRequestClientReadyHasNoSchema(t *testing.T) {
	if err := Request(rpc.NewClientReadyNotification(), "x.example"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestRequestUnregisteredPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unregistered method")
		}
	}()
	Request(rpc.NewServerReadyNotification(), "x.example")
}
