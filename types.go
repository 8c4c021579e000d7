package oidc

// IntrospectionResponse is the RFC 7662 introspection response. Inactive
// tokens yield {"active": false} with every other field omitted.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
}

// RegistrationResponse is the RFC 7591 client information response.
type RegistrationResponse struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`

	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string `json:"registration_client_uri,omitempty"`

	RedirectURIs    []string `json:"redirect_uris"`
	ResponseTypes   []string `json:"response_types,omitempty"`
	GrantTypes      []string `json:"grant_types,omitempty"`
	ApplicationType string   `json:"application_type,omitempty"`
	ClientName      string   `json:"client_name,omitempty"`
	Scope           string   `json:"scope,omitempty"`

	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	SubjectType              string `json:"subject_type,omitempty"`
	IDTokenSignedResponseAlg string `json:"id_token_signed_response_alg,omitempty"`

	BackchannelLogoutURI             string   `json:"backchannel_logout_uri,omitempty"`
	BackchannelLogoutSessionRequired bool     `json:"backchannel_logout_session_required,omitempty"`
	PostLogoutRedirectURIs           []string `json:"post_logout_redirect_uris,omitempty"`
}

// ServerMetadata is the RFC 8414 authorization server metadata document.
type ServerMetadata struct {
	Issuer                 string `json:"issuer"`
	AuthorizationEndpoint  string `json:"authorization_endpoint"`
	RegistrationEndpoint   string `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint  string `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint     string `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint     string `json:"end_session_endpoint,omitempty"`

	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported  []string `json:"subject_types_supported,omitempty"`

	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	IDTokenSigningAlgValuesSupported                 []string `json:"id_token_signing_alg_values_supported,omitempty"`
	AuthorizationSigningAlgValuesSupported           []string `json:"authorization_signing_alg_values_supported,omitempty"`
	AuthorizationEncryptionAlgValuesSupported        []string `json:"authorization_encryption_alg_values_supported,omitempty"`
	AuthorizationEncryptionEncValuesSupported        []string `json:"authorization_encryption_enc_values_supported,omitempty"`

	BackchannelLogoutSupported        bool `json:"backchannel_logout_supported"`
	BackchannelLogoutSessionSupported bool `json:"backchannel_logout_session_supported"`
}

// AuthorizationResult is the outcome of one pass through the authorization
// endpoint: either a redirect to the interaction front-end for the next
// pending interaction, or the final redirect back to the client.
type AuthorizationResult struct {
	// RedirectTo is where the user agent must be sent next
	RedirectTo string

	// Completed reports whether the flow finished and the grant was consumed
	Completed bool

	// SessionID identifies the browser session the flow runs under; callers
	// persist it client-side (typically a cookie) and replay it on the next
	// pass
	SessionID string
}

// EndSessionResult is the outcome of one pass through the end-session
// endpoint.
type EndSessionResult struct {
	// RedirectTo is where the user agent must be sent next
	RedirectTo string

	// Completed reports whether the logout finished and the ticket was
	// consumed
	Completed bool
}
