// Package clientauth resolves which client is making a request. It maintains
// ordered, pluggable lists of authentication methods (for client-credential
// bearing endpoints such as introspection and revocation) and authorization
// methods (for Bearer-token bearing endpoints such as registration
// management).
//
// For a given request, each method reports whether the request carries the
// credential shape that method handles. Exactly one method must match:
// simultaneous credential presentation is itself a protocol violation.
package clientauth

import (
	"context"
	"errors"
	"net/http"

	"github.com/veridian-id/oidc/storage"
)

// Errors returned by the method-selection step.
var (
	// ErrNoAuthenticationMethod indicates no registered method matched the request
	ErrNoAuthenticationMethod = errors.New("No Client Authentication Method detected")

	// ErrMultipleAuthenticationMethods indicates more than one method matched
	ErrMultipleAuthenticationMethods = errors.New("Multiple Client Authentication Methods detected")

	// ErrNoAuthorizationMethod indicates no registered method matched the request
	ErrNoAuthorizationMethod = errors.New("No Client Authorization Method detected")

	// ErrMultipleAuthorizationMethods indicates more than one method matched
	ErrMultipleAuthorizationMethods = errors.New("Multiple Client Authorization Methods detected")

	// ErrInvalidCredentials indicates the matched method rejected the credentials
	ErrInvalidCredentials = errors.New("invalid client credentials")

	// ErrInvalidToken indicates the presented bearer token is unknown, revoked, or expired
	ErrInvalidToken = errors.New("invalid access token")
)

// AuthenticationMethod validates client credentials presented on a request.
type AuthenticationMethod interface {
	// Name returns the registered token_endpoint_auth_method name
	Name() string

	// Requested reports whether the request carries the credential shape
	// this method handles. It must not touch storage.
	Requested(r *http.Request) bool

	// Authenticate validates the credentials and returns the resolved client
	Authenticate(ctx context.Context, r *http.Request) (*storage.Client, error)
}

// AuthorizationMethod resolves a bearer access token presented on a request.
type AuthorizationMethod interface {
	// Name identifies the token transport (header, form, query)
	Name() string

	// Requested reports whether the request carries a token in this transport
	Requested(r *http.Request) bool

	// Authorize validates the token and returns the resolved access token record
	Authorize(ctx context.Context, r *http.Request) (*storage.AccessToken, error)
}

// Authenticator runs an ordered list of authentication methods against a request.
type Authenticator struct {
	methods []AuthenticationMethod
}

// NewAuthenticator creates an authenticator over the given methods, tried in order
func NewAuthenticator(methods ...AuthenticationMethod) *Authenticator {
	return &Authenticator{methods: methods}
}

// Authenticate selects the single matching method and runs it. Zero matches
// and multiple matches are both protocol violations.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*storage.Client, error) {
	var matched AuthenticationMethod
	for _, method := range a.methods {
		if !method.Requested(r) {
			continue
		}
		if matched != nil {
			return nil, ErrMultipleAuthenticationMethods
		}
		matched = method
	}
	if matched == nil {
		return nil, ErrNoAuthenticationMethod
	}
	return matched.Authenticate(ctx, r)
}

// Authorizer runs an ordered list of authorization methods against a request.
type Authorizer struct {
	methods []AuthorizationMethod
}

// NewAuthorizer creates an authorizer over the given methods, tried in order
func NewAuthorizer(methods ...AuthorizationMethod) *Authorizer {
	return &Authorizer{methods: methods}
}

// Authorize selects the single matching method and runs it.
func (a *Authorizer) Authorize(ctx context.Context, r *http.Request) (*storage.AccessToken, error) {
	var matched AuthorizationMethod
	for _, method := range a.methods {
		if !method.Requested(r) {
			continue
		}
		if matched != nil {
			return nil, ErrMultipleAuthorizationMethods
		}
		matched = method
	}
	if matched == nil {
		return nil, ErrNoAuthorizationMethod
	}
	return matched.Authorize(ctx, r)
}
