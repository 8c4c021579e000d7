package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veridian-id/oidc/storage"
	"github.com/veridian-id/oidc/storage/memory"
)

func seedTokens(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	if err := store.SaveAccessToken(ctx, &storage.AccessToken{
		Handle:    "access-1",
		ClientID:  "client-1",
		UserID:    "alice",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}
	if err := store.SaveRefreshToken(ctx, &storage.RefreshToken{
		Handle:    "refresh-1",
		ClientID:  "client-1",
		UserID:    "alice",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	return store
}

func TestResolver_Resolve_HintDirected(t *testing.T) {
	store := seedTokens(t)
	r := NewResolver(store, store)

	tests := []struct {
		name        string
		handle      string
		hint        string
		wantAccess  bool
		wantRefresh bool
	}{
		{"access handle no hint", "access-1", "", true, false},
		{"access handle access hint", "access-1", HintAccessToken, true, false},
		{"refresh handle no hint falls through", "refresh-1", "", false, true},
		{"refresh handle refresh hint", "refresh-1", HintRefreshToken, false, true},
		{"access handle wrong hint falls through", "access-1", HintRefreshToken, true, false},
		{"unknown handle", "nope", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := r.Resolve(context.Background(), tt.handle, tt.hint)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if (resolved.AccessToken != nil) != tt.wantAccess {
				t.Errorf("AccessToken present = %v, want %v", resolved.AccessToken != nil, tt.wantAccess)
			}
			if (resolved.RefreshToken != nil) != tt.wantRefresh {
				t.Errorf("RefreshToken present = %v, want %v", resolved.RefreshToken != nil, tt.wantRefresh)
			}
			if resolved.Active() != (tt.wantAccess || tt.wantRefresh) {
				t.Errorf("Active() = %v", resolved.Active())
			}
		})
	}
}

func TestResolver_Resolve_UnsupportedHint(t *testing.T) {
	store := seedTokens(t)
	r := NewResolver(store, store)

	_, err := r.Resolve(context.Background(), "access-1", "id_token")
	if !errors.Is(err, ErrUnsupportedHint) {
		t.Fatalf("Resolve() error = %v, want ErrUnsupportedHint", err)
	}
}

func TestResolver_Resolve_NilRefreshStore(t *testing.T) {
	store := seedTokens(t)
	r := NewResolver(store, nil)

	resolved, err := r.Resolve(context.Background(), "refresh-1", HintRefreshToken)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Active() {
		t.Error("Resolve() found a refresh token although refresh lookup is disabled")
	}
}

func TestResolver_Resolve_UnboundTokenIsUnknown(t *testing.T) {
	store := memory.New()
	if err := store.SaveAccessToken(context.Background(), &storage.AccessToken{
		Handle: "orphan",
	}); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}
	r := NewResolver(store, nil)

	resolved, err := r.Resolve(context.Background(), "orphan", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Active() {
		t.Error("Resolve() treated a token without an owning client as active")
	}
}
