package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/veridian-id/oidc/storage"
	"github.com/veridian-id/oidc/storage/memory"
	"github.com/veridian-id/oidc/token"
)

// backchannelRecorder counts logout token deliveries per client.
type backchannelRecorder struct {
	mu     sync.Mutex
	tokens map[string][]string // client id -> raw logout tokens
}

func newBackchannelRecorder() *backchannelRecorder {
	return &backchannelRecorder{tokens: make(map[string][]string)}
}

func (r *backchannelRecorder) handler(clientID string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.tokens[clientID] = append(r.tokens[clientID], req.PostFormValue("logout_token"))
	}
}

func (r *backchannelRecorder) count(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens[clientID])
}

func (r *backchannelRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		n += len(t)
	}
	return n
}

type logoutFixture struct {
	store    *memory.Store
	auth     *AuthHandler
	notifier *BackchannelNotifier
	recorder *backchannelRecorder
	signKey  *rsa.PrivateKey
}

func newLogoutFixture(t *testing.T) *logoutFixture {
	t.Helper()

	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	keys := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key: signKey, KeyID: "sig-1", Algorithm: "RS256", Use: "sig",
	}}}

	store := memory.New()
	negotiator := token.NewNegotiator("https://issuer.example.com", keys, nil, nil)
	return &logoutFixture{
		store:    store,
		auth:     NewAuthHandler(store, store, time.Hour, nil),
		notifier: NewBackchannelNotifier(negotiator, nil, time.Second, nil),
		recorder: newBackchannelRecorder(),
		signKey:  signKey,
	}
}

// addClient registers a client whose backchannel endpoint records deliveries.
func (f *logoutFixture) addClient(t *testing.T, id string, sessionRequired bool) {
	t.Helper()
	srv := httptest.NewServer(f.recorder.handler(id))
	t.Cleanup(srv.Close)
	if err := f.store.SaveClient(context.Background(), &storage.Client{
		ID:                               id,
		BackchannelLogoutURI:             srv.URL,
		BackchannelLogoutSessionRequired: sessionRequired,
	}); err != nil {
		t.Fatalf("SaveClient(%s) error = %v", id, err)
	}
}

// addLogin creates a session holding one active login for the user with the
// given client associations.
func (f *logoutFixture) addLogin(t *testing.T, sessionID, userID string, clientIDs ...string) *storage.Login {
	t.Helper()
	ctx := context.Background()
	if err := f.store.SaveSession(ctx, &storage.Session{ID: sessionID}); err != nil {
		t.Fatalf("SaveSession(%s) error = %v", sessionID, err)
	}
	login, err := f.auth.Login(ctx, sessionID, userID, nil, "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	login.ClientIDs = clientIDs
	if err := f.store.SaveLogin(ctx, login); err != nil {
		t.Fatalf("SaveLogin() error = %v", err)
	}
	return login
}

func TestLocalLogout(t *testing.T) {
	f := newLogoutFixture(t)
	ctx := context.Background()

	f.addClient(t, "client-a", false)
	f.addClient(t, "client-b", true)
	login := f.addLogin(t, "sess-1", "alice", "client-a", "client-b")

	// A second session of the same user must survive a local logout
	other := f.addLogin(t, "sess-2", "alice", "client-a")

	strategies := Strategies(f.auth, f.store, f.store, f.notifier, nil, nil, nil)
	sess, err := f.store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if err := strategies[LogoutTypeLocal].Logout(ctx, login, sess); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := f.store.GetLogin(ctx, login.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetLogin(terminated) error = %v, want ErrNotFound", err)
	}
	if _, err := f.store.GetLogin(ctx, other.ID); err != nil {
		t.Errorf("GetLogin(other session) error = %v, want the login kept", err)
	}

	if got := f.recorder.count("client-a"); got != 1 {
		t.Errorf("client-a notifications = %d, want 1", got)
	}
	if got := f.recorder.count("client-b"); got != 1 {
		t.Errorf("client-b notifications = %d, want 1", got)
	}
}

func TestLocalLogout_LogoutTokenClaims(t *testing.T) {
	f := newLogoutFixture(t)
	ctx := context.Background()

	f.addClient(t, "sid-client", true)
	login := f.addLogin(t, "sess-1", "alice", "sid-client")
	sess, err := f.store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	strategies := Strategies(f.auth, f.store, f.store, f.notifier, nil, nil, nil)
	if err := strategies[LogoutTypeLocal].Logout(ctx, login, sess); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	f.recorder.mu.Lock()
	raw := f.recorder.tokens["sid-client"][0]
	f.recorder.mu.Unlock()

	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("ParseSigned() error = %v", err)
	}
	var claims struct {
		Subject string                    `json:"sub"`
		SID     string                    `json:"sid"`
		JTI     string                    `json:"jti"`
		Events  map[string]map[string]any `json:"events"`
	}
	if err := parsed.Claims(f.signKey.Public(), &claims); err != nil {
		t.Fatalf("Claims() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("sub = %q, want alice", claims.Subject)
	}
	if claims.SID != "sess-1" {
		t.Errorf("sid = %q, want sess-1", claims.SID)
	}
	if claims.JTI == "" {
		t.Error("jti is empty")
	}
	if _, ok := claims.Events["http://schemas.openid.net/event/backchannel-logout"]; !ok {
		t.Errorf("events = %v, want the backchannel-logout event", claims.Events)
	}
}

func TestSSOLogout_FanOut(t *testing.T) {
	f := newLogoutFixture(t)
	ctx := context.Background()

	f.addClient(t, "client-a", false)
	f.addClient(t, "client-b", false)
	f.addClient(t, "client-c", false)

	first := f.addLogin(t, "sess-1", "alice", "client-a", "client-b")
	second := f.addLogin(t, "sess-2", "alice", "client-c")
	bystander := f.addLogin(t, "sess-3", "bob", "client-a")

	strategies := Strategies(f.auth, f.store, f.store, f.notifier, nil, nil, nil)
	sess, err := f.store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if err := strategies[LogoutTypeSSO].Logout(ctx, first, sess); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	// Every login of alice is gone, bob's is untouched
	for _, id := range []string{first.ID, second.ID} {
		if _, err := f.store.GetLogin(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetLogin(%s) error = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := f.store.GetLogin(ctx, bystander.ID); err != nil {
		t.Errorf("GetLogin(bob) error = %v, want the login kept", err)
	}

	// One notification per client association across alice's logins
	if got := f.recorder.total(); got != 3 {
		t.Errorf("total notifications = %d, want 3", got)
	}
	for _, clientID := range []string{"client-a", "client-b", "client-c"} {
		if got := f.recorder.count(clientID); got != 1 {
			t.Errorf("%s notifications = %d, want 1", clientID, got)
		}
	}

	// Both terminated sessions lost their active login
	for _, sessionID := range []string{"sess-1", "sess-2"} {
		got, err := f.store.GetSession(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetSession(%s) error = %v", sessionID, err)
		}
		if got.ActiveLoginID != "" {
			t.Errorf("session %s ActiveLoginID = %q, want empty", sessionID, got.ActiveLoginID)
		}
	}
}

func TestSSOLogout_UnknownClientSkipped(t *testing.T) {
	f := newLogoutFixture(t)
	ctx := context.Background()

	f.addClient(t, "client-a", false)
	login := f.addLogin(t, "sess-1", "alice", "ghost", "client-a")

	strategies := Strategies(f.auth, f.store, f.store, f.notifier, nil, nil, nil)
	sess, err := f.store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if err := strategies[LogoutTypeSSO].Logout(ctx, login, sess); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got := f.recorder.count("client-a"); got != 1 {
		t.Errorf("client-a notifications = %d, want 1 despite the unknown client", got)
	}
}

func TestBackchannelNotifier_SkipsClientsWithoutURI(t *testing.T) {
	f := newLogoutFixture(t)
	ctx := context.Background()

	if err := f.store.SaveClient(ctx, &storage.Client{ID: "no-backchannel"}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	login := f.addLogin(t, "sess-1", "alice", "no-backchannel")
	sess, err := f.store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	client, err := f.store.GetClient(ctx, "no-backchannel")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	// Must neither panic nor attempt any delivery
	f.notifier.Notify(ctx, client, login, sess)
	if got := f.recorder.total(); got != 0 {
		t.Errorf("notifications = %d, want 0", got)
	}
}

func TestBackchannelNotifier_DeliveryFailureIsSwallowed(t *testing.T) {
	f := newLogoutFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := f.store.SaveClient(ctx, &storage.Client{
		ID:                   "flaky",
		BackchannelLogoutURI: srv.URL,
	}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	login := f.addLogin(t, "sess-1", "alice", "flaky")

	strategies := Strategies(f.auth, f.store, f.store, f.notifier, nil, nil, nil)
	sess, err := f.store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if err := strategies[LogoutTypeLocal].Logout(ctx, login, sess); err != nil {
		t.Fatalf("Logout() error = %v, want delivery failures swallowed", err)
	}
	if _, err := f.store.GetLogin(ctx, login.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetLogin() error = %v, want the login terminated anyway", err)
	}
}
