// Package testutil provides shared helpers for the package tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/veridian-id/oidc/storage"
)

// NewRSASigningKey generates an RSA signing key wrapped in a key set, keyed
// by the given algorithm (RS256, RS384, RS512, PS256).
func NewRSASigningKey(t *testing.T, kid, alg string) jose.JSONWebKeySet {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       key,
		KeyID:     kid,
		Algorithm: alg,
		Use:       "sig",
	}}}
}

// NewECSigningKey generates a P-256 or P-384 signing key wrapped in a key
// set, matching the curve the algorithm requires.
func NewECSigningKey(t *testing.T, kid, alg string) jose.JSONWebKeySet {
	t.Helper()
	curve := elliptic.P256()
	if alg == "ES384" {
		curve = elliptic.P384()
	}
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       key,
		KeyID:     kid,
		Algorithm: alg,
		Use:       "sig",
	}}}
}

// NewWebClient returns a minimal confidential web client record.
func NewWebClient(id string) *storage.Client {
	return &storage.Client{
		ID:                      id,
		Name:                    "Test Client " + id,
		ApplicationType:         "web",
		RedirectURIs:            []string{"https://client.example.com/cb"},
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{"authorization_code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		SubjectType:             "public",
		CreatedAt:               time.Now(),
	}
}
