package registry

import (
	"context"
	"testing"
)

func TestRegisterRig_AuthenticatesWithReturnedSecret(t *testing.T) {
	r := New(NewMemoryStore())
	ctx := context.Background()

	credID, secret, err := r.RegisterRig(ctx, "rig-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := r.Authenticate(ctx, credID, secret)
	if err != nil {
		t.Fatalf("unexpected authentication error: %v", err)
	}
	if id.Role != RoleRig || id.RigID != "rig-1" {
		t.Fatalf("expected rig-scoped identity for rig-1, got %+v", id)
	}
}

func TestAuthenticate_RejectsWrongSecret(t *testing.T) {
	r := New(NewMemoryStore())
	ctx := context.Background()
	credID, _, err := r.RegisterRig(ctx, "rig-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Authenticate(ctx, credID, "wrong-secret"); err == nil {
		t.Fatal("expected authentication to fail with wrong secret")
	}
}

func TestAuthenticate_RejectsUnknownCredential(t *testing.T) {
	r := New(NewMemoryStore())
	if _, err := r.Authenticate(context.Background(), "does-not-exist", "secret"); err == nil {
		t.Fatal("expected authentication to fail for unknown credential")
	}
}

func TestRegisterAdmin_YieldsAdminRole(t *testing.T) {
	r := New(NewMemoryStore())
	ctx := context.Background()
	credID, secret, err := r.RegisterAdmin(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := r.Authenticate(ctx, credID, secret)
	if err != nil {
		t.Fatalf("unexpected authentication error: %v", err)
	}
	if id.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %v", id.Role)
	}
}

func TestAuthenticate_CachesVerificationAcrossCalls(t *testing.T) {
	r := New(NewMemoryStore())
	ctx := context.Background()
	credID, secret, err := r.RegisterRig(ctx, "rig-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Authenticate(ctx, credID, secret); err != nil {
		t.Fatalf("first authenticate: %v", err)
	}
	if _, ok := r.cacheLookup(credID + ":" + secret); !ok {
		t.Fatal("expected successful verification to populate the cache")
	}
}
