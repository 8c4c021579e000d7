package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/veridian-id/oidc/storage"
)

// Token type hints accepted by the introspection and revocation endpoints (RFC 7662 / RFC 7009)
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// ErrUnsupportedHint indicates an unknown token_type_hint value.
var ErrUnsupportedHint = errors.New("unsupported token type hint")

// Resolved carries the outcome of resolving an opaque handle. At most one of
// the fields is non-nil; both nil means the handle is unknown, which the
// introspection endpoint reports as an inactive token rather than an error.
type Resolved struct {
	AccessToken  *storage.AccessToken
	RefreshToken *storage.RefreshToken
}

// Active reports whether the resolution produced a token.
func (r *Resolved) Active() bool {
	return r.AccessToken != nil || r.RefreshToken != nil
}

// Resolver resolves opaque token handles against access token storage and,
// when configured, refresh token storage.
type Resolver struct {
	accessTokens  storage.AccessTokenStore
	refreshTokens storage.RefreshTokenStore // nil disables refresh token lookup
}

// NewResolver creates a resolver. refreshTokens may be nil when the server
// does not issue refresh tokens.
func NewResolver(accessTokens storage.AccessTokenStore, refreshTokens storage.RefreshTokenStore) *Resolver {
	return &Resolver{
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
	}
}

// Resolve looks up an opaque handle with hint-directed search order: an
// access_token hint (or no hint) searches access tokens first then refresh
// tokens, a refresh_token hint searches the other way around. The first
// result bearing an owning client wins. A token without an owning client
// signals an unbound bootstrap token and is treated as unknown.
//
// An unknown handle is not an error: the returned Resolved carries no token
// and the caller reports it inactive. Storage failures other than not-found
// propagate unchanged.
func (r *Resolver) Resolve(ctx context.Context, handle, hint string) (*Resolved, error) {
	var order []func(context.Context, string) (*Resolved, error)
	switch hint {
	case "", HintAccessToken:
		order = []func(context.Context, string) (*Resolved, error){r.resolveAccess, r.resolveRefresh}
	case HintRefreshToken:
		order = []func(context.Context, string) (*Resolved, error){r.resolveRefresh, r.resolveAccess}
	default:
		return nil, fmt.Errorf("token_type_hint %q: %w", hint, ErrUnsupportedHint)
	}

	for _, lookup := range order {
		resolved, err := lookup(ctx, handle)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			return resolved, nil
		}
	}

	return &Resolved{}, nil
}

func (r *Resolver) resolveAccess(ctx context.Context, handle string) (*Resolved, error) {
	if r.accessTokens == nil {
		return nil, nil
	}
	token, err := r.accessTokens.GetAccessToken(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if token == nil || token.ClientID == "" {
		return nil, nil
	}
	return &Resolved{AccessToken: token}, nil
}

func (r *Resolver) resolveRefresh(ctx context.Context, handle string) (*Resolved, error) {
	if r.refreshTokens == nil {
		return nil, nil
	}
	token, err := r.refreshTokens.GetRefreshToken(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if token == nil || token.ClientID == "" {
		return nil, nil
	}
	return &Resolved{RefreshToken: token}, nil
}
