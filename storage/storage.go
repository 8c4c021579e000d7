// Package storage defines interfaces for persisting the entities of the
// authorization server: clients, sessions, logins, grants, consents, logout
// tickets, and tokens. It supports various backend implementations; the
// repository ships an in-memory reference implementation only.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// ErrNotFound is returned by all stores when the requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// Client represents a registered OAuth client
type Client struct {
	ID              string
	SecretHash      string // bcrypt hash, empty for public clients
	SecretExpiresAt time.Time
	Name            string
	ApplicationType string // "web" or "native"

	RedirectURIs  []string
	ResponseTypes []string
	GrantTypes    []string
	Scopes        []string

	TokenEndpointAuthMethod     string
	TokenEndpointAuthSigningAlg string

	// Exactly one of JWKS / JWKSURI may be set.
	JWKS    *jose.JSONWebKeySet
	JWKSURI string

	SubjectType         string
	SectorIdentifierURI string
	RequireAuthTime     bool

	IDTokenSignedResponseAlg    string
	IDTokenEncryptedResponseAlg string
	IDTokenEncryptedResponseEnc string

	UserinfoSignedResponseAlg    string
	UserinfoEncryptedResponseAlg string
	UserinfoEncryptedResponseEnc string

	AuthorizationSignedResponseAlg    string
	AuthorizationEncryptedResponseAlg string
	AuthorizationEncryptedResponseEnc string

	BackchannelLogoutURI             string
	BackchannelLogoutSessionRequired bool
	PostLogoutRedirectURIs           []string

	CreatedAt time.Time
}

// Session represents a browser session owning an ordered list of logins.
// ActiveLoginID, if non-empty, must refer to a member of LoginIDs.
type Session struct {
	ID            string
	UserID        string
	LoginIDs      []string
	ActiveLoginID string
	CreatedAt     time.Time
}

// Login represents one authentication of a user within a session.
// ClientIDs records the clients that consented or authenticated under this
// login; it drives the back-channel logout fan-out.
type Login struct {
	ID        string
	UserID    string
	SessionID string
	AMR       []string
	ACR       string
	ClientIDs []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Grant represents one in-flight authorization request. It is created at the
// authorization endpoint and destroyed when the flow completes or expires.
type Grant struct {
	ID               string
	LoginChallenge   string
	ConsentChallenge string
	RequestParams    map[string][]string // original authorization request parameters
	Interactions     []string            // interactions already processed, in order
	ClientID         string
	SessionID        string
	ConsentID        string // empty until consent is granted
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Consent records scopes a user granted to a client.
type Consent struct {
	ID            string
	ClientID      string
	UserID        string
	GrantedScopes []string
	CreatedAt     time.Time
}

// LogoutTicket represents one in-flight end-session request.
type LogoutTicket struct {
	ID            string
	Challenge     string
	RequestParams map[string][]string // original end-session request parameters
	ClientID      string
	SessionID     string
	Granted       bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// AccessToken is an opaque-handle access token record.
type AccessToken struct {
	Handle    string
	ClientID  string
	UserID    string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// RefreshToken is an opaque-handle refresh token record. ValidAfter supports
// delayed activation during rotation.
type RefreshToken struct {
	Handle     string
	ClientID   string
	UserID     string
	Scopes     []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ValidAfter time.Time
	Revoked    bool
}

// IsExpired reports whether the refresh token is past its expiry.
func (t *RefreshToken) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// ClientStore manages OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client (insert or update)
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// ValidateClientSecret validates a client's secret against its stored hash
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// SessionStore manages browser sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// LoginStore manages login records.
type LoginStore interface {
	SaveLogin(ctx context.Context, login *Login) error
	GetLogin(ctx context.Context, loginID string) (*Login, error)
	DeleteLogin(ctx context.Context, loginID string) error

	// ListLoginsByUser returns every login belonging to the user across all
	// sessions, in storage order. Used by the SSO logout fan-out.
	ListLoginsByUser(ctx context.Context, userID string) ([]*Login, error)
}

// GrantStore manages in-flight authorization requests, looked up by their
// challenge strings.
type GrantStore interface {
	SaveGrant(ctx context.Context, grant *Grant) error
	GetGrant(ctx context.Context, grantID string) (*Grant, error)
	GetGrantByLoginChallenge(ctx context.Context, challenge string) (*Grant, error)
	GetGrantByConsentChallenge(ctx context.Context, challenge string) (*Grant, error)
	DeleteGrant(ctx context.Context, grantID string) error
}

// ConsentStore manages consent records.
type ConsentStore interface {
	SaveConsent(ctx context.Context, consent *Consent) error
	GetConsent(ctx context.Context, consentID string) (*Consent, error)
	DeleteConsent(ctx context.Context, consentID string) error

	// FindConsent returns the most recent consent the user granted to the
	// client, or ErrNotFound.
	FindConsent(ctx context.Context, userID, clientID string) (*Consent, error)
}

// LogoutTicketStore manages in-flight end-session requests, looked up by
// their logout challenge.
type LogoutTicketStore interface {
	SaveLogoutTicket(ctx context.Context, ticket *LogoutTicket) error
	GetLogoutTicket(ctx context.Context, ticketID string) (*LogoutTicket, error)
	GetLogoutTicketByChallenge(ctx context.Context, challenge string) (*LogoutTicket, error)
	DeleteLogoutTicket(ctx context.Context, ticketID string) error
}

// AccessTokenStore manages opaque access token handles.
type AccessTokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves a token by its opaque handle
	GetAccessToken(ctx context.Context, handle string) (*AccessToken, error)

	DeleteAccessToken(ctx context.Context, handle string) error
}

// RefreshTokenStore manages opaque refresh token handles.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a token by its opaque handle
	GetRefreshToken(ctx context.Context, handle string) (*RefreshToken, error)

	DeleteRefreshToken(ctx context.Context, handle string) error
}

// Store combines all entity stores. The in-memory implementation satisfies
// it; production deployments may compose separate backends instead.
type Store interface {
	ClientStore
	SessionStore
	LoginStore
	GrantStore
	ConsentStore
	LogoutTicketStore
	AccessTokenStore
	RefreshTokenStore
}
