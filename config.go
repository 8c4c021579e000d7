package oidc

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Config holds the authorization server configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// Issuer is the issuer identifier, the base URL of this server (required)
	Issuer string

	// Keys is the server's JSON Web Key Set. Signing keys must carry
	// use="sig" and an algorithm; at least one is required.
	Keys jose.JSONWebKeySet

	// Endpoints are the URLs interaction redirects are built against
	Endpoints EndpointConfig

	// TTL groups the lifetimes of short-lived artifacts
	TTL TTLConfig

	// Negotiation lists the algorithm and method capabilities advertised to
	// clients and enforced during registration
	Negotiation NegotiationConfig

	// Logout groups back-channel logout settings
	Logout LogoutConfig

	// RateLimit groups rate limiting configuration
	RateLimit RateLimitConfig

	// DisableRefreshTokens turns off refresh token issuance and resolution
	DisableRefreshTokens bool

	// EnableAuditLogging enables security audit logging
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is used for outbound requests: client JWKS fetches and
	// back-channel logout deliveries. Defaults to a client with a sane
	// timeout.
	HTTPClient *http.Client
}

// EndpointConfig holds the server URLs handed to user agents
type EndpointConfig struct {
	// Authorization is the authorization endpoint URL.
	// Default: Issuer + "/oauth/authorize"
	Authorization string

	// EndSession is the end-session endpoint URL.
	// Default: Issuer + "/oauth/end_session"
	EndSession string

	// Interaction is the interaction endpoint the front-end serves.
	// Default: Issuer + "/oauth/interaction"
	Interaction string

	// Error is the generic error page deny decisions redirect to.
	// Default: Issuer + "/oauth/error"
	Error string

	// LoggedOut is where completed end-session flows land when the client
	// supplied no valid post_logout_redirect_uri.
	// Default: Issuer + "/oauth/logged_out"
	LoggedOut string
}

// TTLConfig holds lifetimes for short-lived artifacts
type TTLConfig struct {
	// Challenge is the lifetime of grants and logout tickets.
	// Default: 5 minutes
	Challenge time.Duration

	// Login is how long a recorded login remains valid.
	// Default: 24 hours
	Login time.Duration

	// AccessToken is the access token lifetime.
	// Default: 1 hour
	AccessToken time.Duration

	// RefreshToken is the refresh token lifetime.
	// Default: 30 days
	RefreshToken time.Duration

	// AuthorizationResponse is the lifetime of the signed authorization
	// response token.
	// Default: 86400 seconds
	AuthorizationResponse time.Duration
}

// NegotiationConfig holds the server's algorithm and method capabilities
type NegotiationConfig struct {
	// SigningAlgs lists supported JWS algorithms.
	// Default: RS256, RS384, RS512, ES256, ES384, ES512, PS256, HS256
	SigningAlgs []string

	// KeyWrapAlgs lists supported JWE key management algorithms.
	// Default: RSA-OAEP, RSA-OAEP-256, ECDH-ES, A128KW, A256KW
	KeyWrapAlgs []string

	// ContentEncAlgs lists supported JWE content encryption algorithms.
	// Default: A128CBC-HS256, A256CBC-HS512, A128GCM, A256GCM
	ContentEncAlgs []string

	// AuthMethods lists supported token endpoint auth methods.
	// Default: client_secret_basic, client_secret_post, none
	AuthMethods []string
}

// LogoutConfig holds back-channel logout settings
type LogoutConfig struct {
	// BackchannelEnabled gates acceptance of backchannel_logout_uri at
	// registration and delivery of logout tokens.
	// Default: true
	BackchannelEnabled bool

	// BackchannelSessionSupported advertises sid-bearing logout tokens.
	// Default: true
	BackchannelSessionSupported bool

	// BackchannelTimeout bounds each notification delivery.
	// Default: 5 seconds
	BackchannelTimeout time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RegistrationRate is registration requests per second allowed per IP.
	// Zero disables registration rate limiting.
	RegistrationRate int

	// RegistrationBurst is the maximum registration burst per IP.
	RegistrationBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server. Default: 1
	TrustedProxyCount int
}

// Validate checks the configuration for required fields
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	hasSigningKey := false
	for _, key := range c.Keys.Keys {
		if key.Use == "sig" && key.Algorithm != "" {
			hasSigningKey = true
			break
		}
	}
	if !hasSigningKey {
		return fmt.Errorf("at least one signing key (use=sig) is required")
	}
	return nil
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config) *Config {
	if config.Endpoints.Authorization == "" {
		config.Endpoints.Authorization = config.Issuer + "/oauth/authorize"
	}
	if config.Endpoints.EndSession == "" {
		config.Endpoints.EndSession = config.Issuer + "/oauth/end_session"
	}
	if config.Endpoints.Interaction == "" {
		config.Endpoints.Interaction = config.Issuer + "/oauth/interaction"
	}
	if config.Endpoints.Error == "" {
		config.Endpoints.Error = config.Issuer + "/oauth/error"
	}
	if config.Endpoints.LoggedOut == "" {
		config.Endpoints.LoggedOut = config.Issuer + "/oauth/logged_out"
	}

	if config.TTL.Challenge == 0 {
		config.TTL.Challenge = 5 * time.Minute
	}
	if config.TTL.Login == 0 {
		config.TTL.Login = 24 * time.Hour
	}
	if config.TTL.AccessToken == 0 {
		config.TTL.AccessToken = time.Hour
	}
	if config.TTL.RefreshToken == 0 {
		config.TTL.RefreshToken = 30 * 24 * time.Hour
	}
	if config.TTL.AuthorizationResponse == 0 {
		config.TTL.AuthorizationResponse = 86400 * time.Second
	}

	if len(config.Negotiation.SigningAlgs) == 0 {
		config.Negotiation.SigningAlgs = []string{
			"RS256", "RS384", "RS512",
			"ES256", "ES384", "ES512",
			"PS256", "HS256",
		}
	}
	if len(config.Negotiation.KeyWrapAlgs) == 0 {
		config.Negotiation.KeyWrapAlgs = []string{
			"RSA-OAEP", "RSA-OAEP-256", "ECDH-ES", "A128KW", "A256KW",
		}
	}
	if len(config.Negotiation.ContentEncAlgs) == 0 {
		config.Negotiation.ContentEncAlgs = []string{
			"A128CBC-HS256", "A256CBC-HS512", "A128GCM", "A256GCM",
		}
	}
	if len(config.Negotiation.AuthMethods) == 0 {
		config.Negotiation.AuthMethods = []string{
			"client_secret_basic", "client_secret_post", "none",
		}
	}

	// Back-channel logout defaults on; a zero-value LogoutConfig means the
	// operator did not configure it at all.
	if !config.Logout.BackchannelEnabled && !config.Logout.BackchannelSessionSupported && config.Logout.BackchannelTimeout == 0 {
		config.Logout.BackchannelEnabled = true
		config.Logout.BackchannelSessionSupported = true
	}
	if config.Logout.BackchannelTimeout == 0 {
		config.Logout.BackchannelTimeout = 5 * time.Second
	}

	if config.RateLimit.TrustedProxyCount == 0 {
		config.RateLimit.TrustedProxyCount = 1
	}

	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return config
}
