package security

import "golang.org/x/oauth2"

// GenerateChallenge generates an unguessable random challenge string for a
// grant or logout ticket. Challenges are single-use capability tokens; they
// use the same CSPRNG construction as PKCE verifiers.
func GenerateChallenge() string {
	return oauth2.GenerateVerifier()
}

// GenerateTokenHandle generates an opaque token handle (access or refresh).
func GenerateTokenHandle() string {
	return oauth2.GenerateVerifier()
}

// GenerateClientSecret generates a client secret for confidential clients.
// Only the bcrypt hash of the secret is persisted.
func GenerateClientSecret() string {
	return oauth2.GenerateVerifier()
}
