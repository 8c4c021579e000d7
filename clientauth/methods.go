package clientauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/storage"
)

// Registered client authentication method names
const (
	MethodSecretBasic = "client_secret_basic"
	MethodSecretPost  = "client_secret_post"
	MethodNone        = "none"
)

// SecretBasic authenticates clients via HTTP Basic credentials.
type SecretBasic struct {
	Clients storage.ClientStore
}

// Name returns the token_endpoint_auth_method name
func (m *SecretBasic) Name() string { return MethodSecretBasic }

// Requested reports whether the request carries HTTP Basic credentials
func (m *SecretBasic) Requested(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "basic ")
}

// Authenticate validates the Basic credentials against the client store
func (m *SecretBasic) Authenticate(ctx context.Context, r *http.Request) (*storage.Client, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		return nil, fmt.Errorf("malformed Basic authorization header: %w", ErrInvalidCredentials)
	}
	return validateSecret(ctx, m.Clients, clientID, clientSecret, MethodSecretBasic)
}

// SecretPost authenticates clients via client_id/client_secret form parameters.
type SecretPost struct {
	Clients storage.ClientStore
}

// Name returns the token_endpoint_auth_method name
func (m *SecretPost) Name() string { return MethodSecretPost }

// Requested reports whether the form body carries a client_secret
func (m *SecretPost) Requested(r *http.Request) bool {
	return r.PostFormValue("client_secret") != ""
}

// Authenticate validates the form credentials against the client store
func (m *SecretPost) Authenticate(ctx context.Context, r *http.Request) (*storage.Client, error) {
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" {
		return nil, fmt.Errorf("client_secret without client_id: %w", ErrInvalidCredentials)
	}
	return validateSecret(ctx, m.Clients, clientID, clientSecret, MethodSecretPost)
}

// None identifies public clients that present only a client_id.
type None struct {
	Clients storage.ClientStore
}

// Name returns the token_endpoint_auth_method name
func (m *None) Name() string { return MethodNone }

// Requested reports whether the request carries a bare client_id with no secret
func (m *None) Requested(r *http.Request) bool {
	return r.PostFormValue("client_id") != "" &&
		r.PostFormValue("client_secret") == "" &&
		r.Header.Get("Authorization") == ""
}

// Authenticate resolves the public client by id
func (m *None) Authenticate(ctx context.Context, r *http.Request) (*storage.Client, error) {
	clientID := r.PostFormValue("client_id")
	client, err := m.Clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("unknown client %q: %w", clientID, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if client.TokenEndpointAuthMethod != MethodNone {
		return nil, fmt.Errorf("client %q requires credentials: %w", clientID, ErrInvalidCredentials)
	}
	return client, nil
}

func validateSecret(ctx context.Context, clients storage.ClientStore, clientID, clientSecret, method string) (*storage.Client, error) {
	client, err := clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		// Still run the secret comparison path to keep timing uniform
		_ = clients.ValidateClientSecret(ctx, clientID, clientSecret)
		return nil, fmt.Errorf("unknown client %q: %w", clientID, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if client.TokenEndpointAuthMethod != method {
		return nil, fmt.Errorf("client %q is not registered for %s: %w", clientID, method, ErrInvalidCredentials)
	}
	if err := clients.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		return nil, fmt.Errorf("secret validation failed for client %q: %w", clientID, ErrInvalidCredentials)
	}
	return client, nil
}

// BearerHeader resolves tokens sent as an Authorization: Bearer header.
type BearerHeader struct {
	Tokens storage.AccessTokenStore
}

// Name identifies the transport
func (m *BearerHeader) Name() string { return "header" }

// Requested reports whether the request carries a Bearer authorization header
func (m *BearerHeader) Requested(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ")
}

// Authorize validates the header token
func (m *BearerHeader) Authorize(ctx context.Context, r *http.Request) (*storage.AccessToken, error) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}
	return lookupToken(ctx, m.Tokens, strings.TrimSpace(parts[1]))
}

// BearerBody resolves tokens sent as a form-body access_token parameter (RFC 6750 section 2.2).
type BearerBody struct {
	Tokens storage.AccessTokenStore
}

// Name identifies the transport
func (m *BearerBody) Name() string { return "body" }

// Requested reports whether the form body carries an access_token
func (m *BearerBody) Requested(r *http.Request) bool {
	return r.PostFormValue("access_token") != ""
}

// Authorize validates the body token
func (m *BearerBody) Authorize(ctx context.Context, r *http.Request) (*storage.AccessToken, error) {
	return lookupToken(ctx, m.Tokens, r.PostFormValue("access_token"))
}

// BearerQuery resolves tokens sent as a query-string access_token parameter (RFC 6750 section 2.3).
type BearerQuery struct {
	Tokens storage.AccessTokenStore
}

// Name identifies the transport
func (m *BearerQuery) Name() string { return "query" }

// Requested reports whether the query string carries an access_token
func (m *BearerQuery) Requested(r *http.Request) bool {
	return r.URL.Query().Get("access_token") != ""
}

// Authorize validates the query token
func (m *BearerQuery) Authorize(ctx context.Context, r *http.Request) (*storage.AccessToken, error) {
	return lookupToken(ctx, m.Tokens, r.URL.Query().Get("access_token"))
}

func lookupToken(ctx context.Context, tokens storage.AccessTokenStore, handle string) (*storage.AccessToken, error) {
	if handle == "" {
		return nil, ErrInvalidToken
	}
	token, err := tokens.GetAccessToken(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if token.Revoked || security.IsExpired(token.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	return token, nil
}
