package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/veridian-id/oidc/internal/testutil"
	"github.com/veridian-id/oidc/storage"
)

func TestStore_SaveClient(t *testing.T) {
	store := New()
	ctx := context.Background()

	client := testutil.NewWebClient("client-1")
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Name != client.Name {
		t.Errorf("Name = %q, want %q", got.Name, client.Name)
	}

	// Mutating the returned copy must not affect the stored record
	got.Name = "mutated"
	again, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if again.Name == "mutated" {
		t.Error("GetClient() returned a reference to the stored record")
	}
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := New()

	_, err := store.GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient() error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteClient(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.SaveClient(ctx, testutil.NewWebClient("client-1")); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.DeleteClient(ctx, "client-1"); err != nil {
		t.Fatalf("DeleteClient() error = %v", err)
	}
	if _, err := store.GetClient(ctx, "client-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_ValidateClientSecret(t *testing.T) {
	store := New()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	client := testutil.NewWebClient("client-1")
	client.SecretHash = string(hash)
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", "client-1", "s3cret", false},
		{"wrong secret", "client-1", "wrong", true},
		{"unknown client", "client-2", "s3cret", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_GrantChallengeLookups(t *testing.T) {
	store := New()
	ctx := context.Background()

	grant := &storage.Grant{
		ID:               "grant-1",
		LoginChallenge:   "lc-1",
		ConsentChallenge: "cc-1",
		ClientID:         "client-1",
		SessionID:        "session-1",
		ExpiresAt:        time.Now().Add(time.Minute),
	}
	if err := store.SaveGrant(ctx, grant); err != nil {
		t.Fatalf("SaveGrant() error = %v", err)
	}

	byLogin, err := store.GetGrantByLoginChallenge(ctx, "lc-1")
	if err != nil {
		t.Fatalf("GetGrantByLoginChallenge() error = %v", err)
	}
	if byLogin.ID != "grant-1" {
		t.Errorf("grant ID = %q, want %q", byLogin.ID, "grant-1")
	}

	byConsent, err := store.GetGrantByConsentChallenge(ctx, "cc-1")
	if err != nil {
		t.Fatalf("GetGrantByConsentChallenge() error = %v", err)
	}
	if byConsent.ID != "grant-1" {
		t.Errorf("grant ID = %q, want %q", byConsent.ID, "grant-1")
	}

	byID, err := store.GetGrant(ctx, "grant-1")
	if err != nil {
		t.Fatalf("GetGrant() error = %v", err)
	}
	if byID.LoginChallenge != "lc-1" {
		t.Errorf("LoginChallenge = %q, want %q", byID.LoginChallenge, "lc-1")
	}
}

func TestStore_DeleteGrant_RemovesChallengeIndexes(t *testing.T) {
	store := New()
	ctx := context.Background()

	grant := &storage.Grant{
		ID:               "grant-1",
		LoginChallenge:   "lc-1",
		ConsentChallenge: "cc-1",
	}
	if err := store.SaveGrant(ctx, grant); err != nil {
		t.Fatalf("SaveGrant() error = %v", err)
	}
	if err := store.DeleteGrant(ctx, "grant-1"); err != nil {
		t.Fatalf("DeleteGrant() error = %v", err)
	}

	if _, err := store.GetGrantByLoginChallenge(ctx, "lc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetGrantByLoginChallenge() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetGrantByConsentChallenge(ctx, "cc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetGrantByConsentChallenge() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListLoginsByUser(t *testing.T) {
	store := New()
	ctx := context.Background()

	logins := []*storage.Login{
		{ID: "login-1", UserID: "alice", SessionID: "s1", CreatedAt: time.Now().Add(-2 * time.Minute)},
		{ID: "login-2", UserID: "bob", SessionID: "s2", CreatedAt: time.Now().Add(-1 * time.Minute)},
		{ID: "login-3", UserID: "alice", SessionID: "s3", CreatedAt: time.Now()},
	}
	for _, l := range logins {
		if err := store.SaveLogin(ctx, l); err != nil {
			t.Fatalf("SaveLogin(%s) error = %v", l.ID, err)
		}
	}

	got, err := store.ListLoginsByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListLoginsByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListLoginsByUser() returned %d logins, want 2", len(got))
	}
	for _, l := range got {
		if l.UserID != "alice" {
			t.Errorf("login %s has UserID %q, want alice", l.ID, l.UserID)
		}
	}
}

func TestStore_FindConsent(t *testing.T) {
	store := New()
	ctx := context.Background()

	older := &storage.Consent{
		ID: "consent-1", UserID: "alice", ClientID: "client-1",
		GrantedScopes: []string{"openid"},
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	newer := &storage.Consent{
		ID: "consent-2", UserID: "alice", ClientID: "client-1",
		GrantedScopes: []string{"openid", "profile"},
		CreatedAt:     time.Now(),
	}
	for _, c := range []*storage.Consent{older, newer} {
		if err := store.SaveConsent(ctx, c); err != nil {
			t.Fatalf("SaveConsent(%s) error = %v", c.ID, err)
		}
	}

	got, err := store.FindConsent(ctx, "alice", "client-1")
	if err != nil {
		t.Fatalf("FindConsent() error = %v", err)
	}
	if got.ID != "consent-2" {
		t.Errorf("FindConsent() = %q, want the most recent consent consent-2", got.ID)
	}

	if _, err := store.FindConsent(ctx, "alice", "client-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FindConsent() for unknown client error = %v, want ErrNotFound", err)
	}
}

func TestStore_LogoutTicketLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	ticket := &storage.LogoutTicket{
		ID:        "ticket-1",
		Challenge: "logout-ch-1",
		ClientID:  "client-1",
		SessionID: "session-1",
	}
	if err := store.SaveLogoutTicket(ctx, ticket); err != nil {
		t.Fatalf("SaveLogoutTicket() error = %v", err)
	}

	byChallenge, err := store.GetLogoutTicketByChallenge(ctx, "logout-ch-1")
	if err != nil {
		t.Fatalf("GetLogoutTicketByChallenge() error = %v", err)
	}
	if byChallenge.ID != "ticket-1" {
		t.Errorf("ticket ID = %q, want ticket-1", byChallenge.ID)
	}

	byID, err := store.GetLogoutTicket(ctx, "ticket-1")
	if err != nil {
		t.Fatalf("GetLogoutTicket() error = %v", err)
	}
	if byID.Challenge != "logout-ch-1" {
		t.Errorf("Challenge = %q, want logout-ch-1", byID.Challenge)
	}

	if err := store.DeleteLogoutTicket(ctx, "ticket-1"); err != nil {
		t.Fatalf("DeleteLogoutTicket() error = %v", err)
	}
	if _, err := store.GetLogoutTicketByChallenge(ctx, "logout-ch-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetLogoutTicketByChallenge() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_AccessTokenRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	token := &storage.AccessToken{
		Handle:    "handle-1",
		ClientID:  "client-1",
		UserID:    "alice",
		Scopes:    []string{"openid"},
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	got, err := store.GetAccessToken(ctx, "handle-1")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got.ClientID != "client-1" || got.UserID != "alice" {
		t.Errorf("token = %+v, want client-1/alice", got)
	}

	got.Revoked = true
	if err := store.SaveAccessToken(ctx, got); err != nil {
		t.Fatalf("SaveAccessToken() update error = %v", err)
	}
	updated, err := store.GetAccessToken(ctx, "handle-1")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if !updated.Revoked {
		t.Error("Revoked = false after update, want true")
	}
}
