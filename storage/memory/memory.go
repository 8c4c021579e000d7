package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/veridian-id/oidc/instrumentation"
	"github.com/veridian-id/oidc/storage"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client

	sessions map[string]*storage.Session
	logins   map[string]*storage.Login

	// Grants and logout tickets are additionally indexed by their challenge
	// strings, which is how the interaction endpoints look them up.
	grants                   map[string]*storage.Grant
	grantsByLoginChallenge   map[string]string // challenge -> grant ID
	grantsByConsentChallenge map[string]string

	consents map[string]*storage.Consent

	logoutTickets            map[string]*storage.LogoutTicket
	logoutTicketsByChallenge map[string]string // challenge -> ticket ID

	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.SessionStore      = (*Store)(nil)
	_ storage.LoginStore        = (*Store)(nil)
	_ storage.GrantStore        = (*Store)(nil)
	_ storage.ConsentStore      = (*Store)(nil)
	_ storage.LogoutTicketStore = (*Store)(nil)
	_ storage.AccessTokenStore  = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.Store             = (*Store)(nil)
)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		clients:                  make(map[string]*storage.Client),
		sessions:                 make(map[string]*storage.Session),
		logins:                   make(map[string]*storage.Login),
		grants:                   make(map[string]*storage.Grant),
		grantsByLoginChallenge:   make(map[string]string),
		grantsByConsentChallenge: make(map[string]string),
		consents:                 make(map[string]*storage.Consent),
		logoutTickets:            make(map[string]*storage.LogoutTicket),
		logoutTicketsByChallenge: make(map[string]string),
		accessTokens:             make(map[string]*storage.AccessToken),
		refreshTokens:            make(map[string]*storage.RefreshToken),
		logger:                   slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables OpenTelemetry metrics for storage operations
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

func (s *Store) recordOp(ctx context.Context, entity, op string) {
	if s.instrumentation != nil {
		s.instrumentation.RecordStorageOperation(ctx, entity, op)
	}
}

// ==================== ClientStore ====================

// SaveClient saves a registered client (insert or update)
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ID] = &c
	s.recordOp(ctx, "client", "save")
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "client", "get")
	c := *client
	return &c, nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, clientID)
	s.recordOp(ctx, "client", "delete")
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := *client
		clients = append(clients, &c)
	}
	s.recordOp(ctx, "client", "list")
	return clients, nil
}

// ValidateClientSecret validates a client's secret against its stored bcrypt hash
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		// Run a dummy comparison to keep timing consistent for unknown clients
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000u"), []byte(clientSecret))
		return storage.ErrNotFound
	}

	if client.SecretHash == "" {
		return storage.ErrNotFound
	}
	if !client.SecretExpiresAt.IsZero() && time.Now().After(client.SecretExpiresAt) {
		s.logger.Warn("Client secret expired", "client_id", clientID)
		return storage.ErrNotFound
	}
	s.recordOp(ctx, "client", "validate_secret")
	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret))
}

// ==================== SessionStore ====================

// SaveSession saves a session (insert or update)
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *session
	c.LoginIDs = append([]string(nil), session.LoginIDs...)
	s.sessions[session.ID] = &c
	s.recordOp(ctx, "session", "save")
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "session", "get")
	c := *session
	c.LoginIDs = append([]string(nil), session.LoginIDs...)
	return &c, nil
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	s.recordOp(ctx, "session", "delete")
	return nil
}

// ==================== LoginStore ====================

// SaveLogin saves a login record (insert or update)
func (s *Store) SaveLogin(ctx context.Context, login *storage.Login) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneLogin(login)
	s.logins[login.ID] = c
	s.recordOp(ctx, "login", "save")
	return nil
}

// GetLogin retrieves a login by ID
func (s *Store) GetLogin(ctx context.Context, loginID string) (*storage.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	login, ok := s.logins[loginID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "login", "get")
	return cloneLogin(login), nil
}

// DeleteLogin removes a login record
func (s *Store) DeleteLogin(ctx context.Context, loginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logins, loginID)
	s.recordOp(ctx, "login", "delete")
	return nil
}

// ListLoginsByUser returns every login belonging to the user, in insertion order
func (s *Store) ListLoginsByUser(ctx context.Context, userID string) ([]*storage.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logins []*storage.Login
	for _, login := range s.logins {
		if login.UserID == userID {
			logins = append(logins, cloneLogin(login))
		}
	}
	// Map iteration order is random; present logins oldest-first so the SSO
	// fan-out processes them deterministically.
	sortLoginsByCreation(logins)
	s.recordOp(ctx, "login", "list_by_user")
	return logins, nil
}

func cloneLogin(login *storage.Login) *storage.Login {
	c := *login
	c.AMR = append([]string(nil), login.AMR...)
	c.ClientIDs = append([]string(nil), login.ClientIDs...)
	return &c
}

func sortLoginsByCreation(logins []*storage.Login) {
	for i := 1; i < len(logins); i++ {
		for j := i; j > 0 && logins[j].CreatedAt.Before(logins[j-1].CreatedAt); j-- {
			logins[j], logins[j-1] = logins[j-1], logins[j]
		}
	}
}

// ==================== GrantStore ====================

// SaveGrant saves a grant and indexes it by its challenge strings
func (s *Store) SaveGrant(ctx context.Context, grant *storage.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneGrant(grant)
	s.grants[grant.ID] = c
	if grant.LoginChallenge != "" {
		s.grantsByLoginChallenge[grant.LoginChallenge] = grant.ID
	}
	if grant.ConsentChallenge != "" {
		s.grantsByConsentChallenge[grant.ConsentChallenge] = grant.ID
	}
	s.recordOp(ctx, "grant", "save")
	return nil
}

// GetGrant retrieves a grant by ID
func (s *Store) GetGrant(ctx context.Context, grantID string) (*storage.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "grant", "get")
	return cloneGrant(grant), nil
}

// GetGrantByLoginChallenge retrieves a grant by its login challenge
func (s *Store) GetGrantByLoginChallenge(ctx context.Context, challenge string) (*storage.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.grantsByLoginChallenge[challenge]
	if !ok {
		return nil, storage.ErrNotFound
	}
	grant, ok := s.grants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "grant", "get_by_login_challenge")
	return cloneGrant(grant), nil
}

// GetGrantByConsentChallenge retrieves a grant by its consent challenge
func (s *Store) GetGrantByConsentChallenge(ctx context.Context, challenge string) (*storage.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.grantsByConsentChallenge[challenge]
	if !ok {
		return nil, storage.ErrNotFound
	}
	grant, ok := s.grants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "grant", "get_by_consent_challenge")
	return cloneGrant(grant), nil
}

// DeleteGrant removes a grant and its challenge indexes
func (s *Store) DeleteGrant(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grant, ok := s.grants[grantID]; ok {
		delete(s.grantsByLoginChallenge, grant.LoginChallenge)
		delete(s.grantsByConsentChallenge, grant.ConsentChallenge)
		delete(s.grants, grantID)
	}
	s.recordOp(ctx, "grant", "delete")
	return nil
}

func cloneGrant(grant *storage.Grant) *storage.Grant {
	c := *grant
	c.Interactions = append([]string(nil), grant.Interactions...)
	c.RequestParams = cloneParams(grant.RequestParams)
	return &c
}

func cloneParams(params map[string][]string) map[string][]string {
	if params == nil {
		return nil
	}
	out := make(map[string][]string, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ==================== ConsentStore ====================

// SaveConsent saves a consent record
func (s *Store) SaveConsent(ctx context.Context, consent *storage.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *consent
	c.GrantedScopes = append([]string(nil), consent.GrantedScopes...)
	s.consents[consent.ID] = &c
	s.recordOp(ctx, "consent", "save")
	return nil
}

// GetConsent retrieves a consent by ID
func (s *Store) GetConsent(ctx context.Context, consentID string) (*storage.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consent, ok := s.consents[consentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "consent", "get")
	c := *consent
	c.GrantedScopes = append([]string(nil), consent.GrantedScopes...)
	return &c, nil
}

// DeleteConsent removes a consent record
func (s *Store) DeleteConsent(ctx context.Context, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.consents, consentID)
	s.recordOp(ctx, "consent", "delete")
	return nil
}

// FindConsent returns the most recent consent the user granted to the client
func (s *Store) FindConsent(ctx context.Context, userID, clientID string) (*storage.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *storage.Consent
	for _, consent := range s.consents {
		if consent.UserID != userID || consent.ClientID != clientID {
			continue
		}
		if found == nil || consent.CreatedAt.After(found.CreatedAt) {
			found = consent
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "consent", "find")
	c := *found
	c.GrantedScopes = append([]string(nil), found.GrantedScopes...)
	return &c, nil
}

// ==================== LogoutTicketStore ====================

// SaveLogoutTicket saves a logout ticket and indexes it by challenge
func (s *Store) SaveLogoutTicket(ctx context.Context, ticket *storage.LogoutTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *ticket
	c.RequestParams = cloneParams(ticket.RequestParams)
	s.logoutTickets[ticket.ID] = &c
	if ticket.Challenge != "" {
		s.logoutTicketsByChallenge[ticket.Challenge] = ticket.ID
	}
	s.recordOp(ctx, "logout_ticket", "save")
	return nil
}

// GetLogoutTicket retrieves a logout ticket by ID
func (s *Store) GetLogoutTicket(ctx context.Context, ticketID string) (*storage.LogoutTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.logoutTickets[ticketID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "logout_ticket", "get")
	c := *ticket
	c.RequestParams = cloneParams(ticket.RequestParams)
	return &c, nil
}

// GetLogoutTicketByChallenge retrieves a logout ticket by its challenge
func (s *Store) GetLogoutTicketByChallenge(ctx context.Context, challenge string) (*storage.LogoutTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.logoutTicketsByChallenge[challenge]
	if !ok {
		return nil, storage.ErrNotFound
	}
	ticket, ok := s.logoutTickets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "logout_ticket", "get_by_challenge")
	c := *ticket
	c.RequestParams = cloneParams(ticket.RequestParams)
	return &c, nil
}

// DeleteLogoutTicket removes a logout ticket and its challenge index
func (s *Store) DeleteLogoutTicket(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket, ok := s.logoutTickets[ticketID]; ok {
		delete(s.logoutTicketsByChallenge, ticket.Challenge)
		delete(s.logoutTickets, ticketID)
	}
	s.recordOp(ctx, "logout_ticket", "delete")
	return nil
}

// ==================== AccessTokenStore ====================

// SaveAccessToken saves an access token record
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *token
	c.Scopes = append([]string(nil), token.Scopes...)
	s.accessTokens[token.Handle] = &c
	s.recordOp(ctx, "access_token", "save")
	return nil
}

// GetAccessToken retrieves an access token by its opaque handle
func (s *Store) GetAccessToken(ctx context.Context, handle string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.accessTokens[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "access_token", "get")
	c := *token
	c.Scopes = append([]string(nil), token.Scopes...)
	return &c, nil
}

// DeleteAccessToken removes an access token record
func (s *Store) DeleteAccessToken(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, handle)
	s.recordOp(ctx, "access_token", "delete")
	return nil
}

// ==================== RefreshTokenStore ====================

// SaveRefreshToken saves a refresh token record
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *token
	c.Scopes = append([]string(nil), token.Scopes...)
	s.refreshTokens[token.Handle] = &c
	s.recordOp(ctx, "refresh_token", "save")
	return nil
}

// GetRefreshToken retrieves a refresh token by its opaque handle
func (s *Store) GetRefreshToken(ctx context.Context, handle string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[handle]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.recordOp(ctx, "refresh_token", "get")
	c := *token
	c.Scopes = append([]string(nil), token.Scopes...)
	return &c, nil
}

// DeleteRefreshToken removes a refresh token record
func (s *Store) DeleteRefreshToken(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, handle)
	s.recordOp(ctx, "refresh_token", "delete")
	return nil
}
