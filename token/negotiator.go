// Package token implements the token and algorithm negotiation layer: it
// selects signing and encryption keys per client metadata to produce signed
// or signed-then-encrypted response tokens, and resolves opaque token handles
// for introspection and revocation.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/veridian-id/oidc/storage"
)

const (
	// defaultSigningAlg is used when the client registered no algorithm for
	// a response category.
	defaultSigningAlg = "RS256"

	// defaultContentEncryption is used when the client registered a key-wrap
	// algorithm but no content-encryption algorithm.
	defaultContentEncryption = "A128CBC-HS256"

	// maxJWKSBytes bounds the size of a fetched client key set.
	maxJWKSBytes = 1 << 20
)

var (
	// ErrKeyNotFound indicates no key matching the negotiated algorithm and
	// use was found in the relevant key set.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoClientKeys indicates the client registered neither an inline JWKS
	// nor a JWKS URI although encryption was requested.
	ErrNoClientKeys = errors.New("client has no registered JSON Web Key Set")
)

// Category identifies which of the client's per-response-type algorithm
// preferences governs a response token.
type Category string

const (
	// CategoryAuthorization covers JWT-secured authorization responses
	CategoryAuthorization Category = "authorization"
	// CategoryIDToken covers ID tokens
	CategoryIDToken Category = "id_token"
	// CategoryUserinfo covers signed userinfo responses
	CategoryUserinfo Category = "userinfo"
	// CategoryLogout covers back-channel logout tokens, which use the
	// client's ID token algorithm preferences
	CategoryLogout Category = "logout"
)

// signingAlg returns the client's requested signing algorithm for the category
func (c Category) signingAlg(client *storage.Client) string {
	var alg string
	switch c {
	case CategoryAuthorization:
		alg = client.AuthorizationSignedResponseAlg
	case CategoryUserinfo:
		alg = client.UserinfoSignedResponseAlg
	case CategoryIDToken, CategoryLogout:
		alg = client.IDTokenSignedResponseAlg
	}
	if alg == "" {
		alg = defaultSigningAlg
	}
	return alg
}

// encryptionAlgs returns the client's requested key-wrap and content-encryption
// algorithms for the category. An empty key-wrap algorithm means the response
// is signed only.
func (c Category) encryptionAlgs(client *storage.Client) (keyWrap, contentEnc string) {
	switch c {
	case CategoryAuthorization:
		keyWrap, contentEnc = client.AuthorizationEncryptedResponseAlg, client.AuthorizationEncryptedResponseEnc
	case CategoryUserinfo:
		keyWrap, contentEnc = client.UserinfoEncryptedResponseAlg, client.UserinfoEncryptedResponseEnc
	case CategoryIDToken, CategoryLogout:
		keyWrap, contentEnc = client.IDTokenEncryptedResponseAlg, client.IDTokenEncryptedResponseEnc
	}
	if keyWrap != "" && contentEnc == "" {
		contentEnc = defaultContentEncryption
	}
	return keyWrap, contentEnc
}

// Negotiator builds response tokens by selecting a compatible signing key
// from the server's key set and, when the client registered encryption
// algorithms, a compatible encryption key from the client's key set.
type Negotiator struct {
	issuer     string
	keys       jose.JSONWebKeySet // the server's own keys
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNegotiator creates a negotiator over the server's signing key set.
// httpClient is used to fetch client key sets by jwks_uri; pass nil to use
// http.DefaultClient.
func NewNegotiator(issuer string, keys jose.JSONWebKeySet, httpClient *http.Client, logger *slog.Logger) *Negotiator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		issuer:     issuer,
		keys:       keys,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ResponseToken produces a compact signed token carrying the given claims,
// nested inside a JWE when the client registered encryption algorithms for
// the category.
//
// Claims always include issuer, audience (the client id), issued-at, and an
// expiry at the given lifetime past issued-at; the caller merges in
// domain-specific claims such as the authorization code or logout subject.
func (n *Negotiator) ResponseToken(ctx context.Context, client *storage.Client, category Category, lifetime time.Duration, claims map[string]any) (string, error) {
	alg := category.signingAlg(client)

	signingKey, err := n.signingKey(alg)
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create signer for %s: %w", alg, err)
	}

	now := time.Now()
	std := jwt.Claims{
		Issuer:   n.issuer,
		Audience: jwt.Audience{client.ID},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(lifetime)),
	}

	keyWrap, contentEnc := category.encryptionAlgs(client)
	if keyWrap == "" {
		raw, err := jwt.Signed(signer).Claims(std).Claims(claims).Serialize()
		if err != nil {
			return "", fmt.Errorf("failed to sign %s response token: %w", category, err)
		}
		return raw, nil
	}

	encryptionKey, err := n.clientEncryptionKey(ctx, client, keyWrap)
	if err != nil {
		return "", err
	}

	encrypter, err := jose.NewEncrypter(
		jose.ContentEncryption(contentEnc),
		jose.Recipient{Algorithm: jose.KeyAlgorithm(keyWrap), Key: encryptionKey},
		(&jose.EncrypterOptions{}).WithType("JWT").WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter for %s/%s: %w", keyWrap, contentEnc, err)
	}

	raw, err := jwt.SignedAndEncrypted(signer, encrypter).Claims(std).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to produce nested %s response token: %w", category, err)
	}
	return raw, nil
}

// signingKey selects a key from the server's key set whose algorithm matches
// and whose use is "sig".
func (n *Negotiator) signingKey(alg string) (jose.JSONWebKey, error) {
	for _, key := range n.keys.Keys {
		if key.Use == "sig" && key.Algorithm == alg {
			return key, nil
		}
	}
	return jose.JSONWebKey{}, fmt.Errorf("no signing key with alg %q in server key set: %w", alg, ErrKeyNotFound)
}

// clientEncryptionKey resolves the client's key set (inline JWKS or fetched
// from its JWKS URI) and selects an encryption key whose algorithm matches
// the requested key-wrap algorithm and whose use is "enc".
func (n *Negotiator) clientEncryptionKey(ctx context.Context, client *storage.Client, keyWrap string) (jose.JSONWebKey, error) {
	keySet := client.JWKS
	if keySet == nil {
		if client.JWKSURI == "" {
			return jose.JSONWebKey{}, fmt.Errorf("client %s requested encryption: %w", client.ID, ErrNoClientKeys)
		}
		fetched, err := n.fetchKeySet(ctx, client.JWKSURI)
		if err != nil {
			return jose.JSONWebKey{}, err
		}
		keySet = fetched
	}

	for _, key := range keySet.Keys {
		if key.Use == "enc" && key.Algorithm == keyWrap {
			return key, nil
		}
	}
	return jose.JSONWebKey{}, fmt.Errorf("no encryption key with alg %q in key set of client %s: %w", keyWrap, client.ID, ErrKeyNotFound)
}

// fetchKeySet retrieves a client key set from its jwks_uri
func (n *Negotiator) fetchKeySet(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid jwks_uri %q: %w", uri, err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks_uri %q: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks_uri %q returned status %d", uri, resp.StatusCode)
	}

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("failed to decode key set from %q: %w", uri, err)
	}

	n.logger.Debug("Fetched client key set", "jwks_uri", uri, "keys", len(keySet.Keys))
	return &keySet, nil
}
