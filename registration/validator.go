// Package registration implements the Dynamic Client Registration validation
// engine (RFC 7591 / OpenID Connect Registration): a pure validation pipeline
// over request metadata that either returns a normalized, typed Metadata or
// fails fast on the first violated rule.
package registration

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/veridian-id/oidc/internal/helpers"
)

// Application types
const (
	ApplicationTypeWeb    = "web"
	ApplicationTypeNative = "native"
)

// Subject types
const (
	SubjectTypePublic   = "public"
	SubjectTypePairwise = "pairwise"
)

// MetadataError reports a violated registration rule. Each rule carries a
// distinct description; validation aborts on the first failure.
type MetadataError struct {
	Description string
}

// Error implements the error interface
func (e *MetadataError) Error() string {
	return "invalid_client_metadata: " + e.Description
}

func errf(format string, args ...any) error {
	return &MetadataError{Description: fmt.Sprintf(format, args...)}
}

// Request carries the raw registration metadata as submitted by the client.
type Request struct {
	RedirectURIs    []string `json:"redirect_uris,omitempty"`
	ResponseTypes   []string `json:"response_types,omitempty"`
	GrantTypes      []string `json:"grant_types,omitempty"`
	ApplicationType string   `json:"application_type,omitempty"`
	ClientName      string   `json:"client_name,omitempty"`
	ClientURI       string   `json:"client_uri,omitempty"`
	Scope           string   `json:"scope,omitempty"`

	TokenEndpointAuthMethod     string `json:"token_endpoint_auth_method,omitempty"`
	TokenEndpointAuthSigningAlg string `json:"token_endpoint_auth_signing_alg,omitempty"`

	JWKS    *jose.JSONWebKeySet `json:"jwks,omitempty"`
	JWKSURI string              `json:"jwks_uri,omitempty"`

	SubjectType         string `json:"subject_type,omitempty"`
	SectorIdentifierURI string `json:"sector_identifier_uri,omitempty"`
	RequireAuthTime     bool   `json:"require_auth_time,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`

	UserinfoSignedResponseAlg    string `json:"userinfo_signed_response_alg,omitempty"`
	UserinfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
	UserinfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty"`

	AuthorizationSignedResponseAlg    string `json:"authorization_signed_response_alg,omitempty"`
	AuthorizationEncryptedResponseAlg string `json:"authorization_encrypted_response_alg,omitempty"`
	AuthorizationEncryptedResponseEnc string `json:"authorization_encrypted_response_enc,omitempty"`

	BackchannelLogoutURI             string `json:"backchannel_logout_uri,omitempty"`
	BackchannelLogoutSessionRequired bool   `json:"backchannel_logout_session_required,omitempty"`
	PostLogoutRedirectURIs           []string `json:"post_logout_redirect_uris,omitempty"`
}

// Metadata is the fully validated, normalized registration result. Either all
// rules pass and a complete Metadata is produced, or the first failure aborts
// the whole request; metadata is never partially applied.
type Metadata struct {
	RedirectURIs    []string
	ResponseTypes   []string
	GrantTypes      []string
	ApplicationType string
	ClientName      string
	ClientURI       string
	Scopes          []string

	TokenEndpointAuthMethod     string
	TokenEndpointAuthSigningAlg string

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
}

// Config describes the authorization server's capabilities that registration
// metadata is validated against.
type Config struct {
	// SupportedSigningAlgs lists JWS algorithms the server can sign with
	SupportedSigningAlgs []string

	// SupportedKeyWrapAlgs lists JWE key management algorithms
	SupportedKeyWrapAlgs []string

	// SupportedContentEncAlgs lists JWE content encryption algorithms
	SupportedContentEncAlgs []string

	// SupportedAuthMethods lists token endpoint auth methods
	SupportedAuthMethods []string

	// BackchannelLogoutEnabled gates acceptance of backchannel_logout_uri
	BackchannelLogoutEnabled bool

	// BackchannelLogoutSessionSupported gates sid-bearing logout tokens
	BackchannelLogoutSessionSupported bool
}

// Validator validates dynamic client registration metadata against the
// server's configuration.
type Validator struct {
	cfg Config
}

// NewValidator creates a metadata validator
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// responseTypeGrants maps each supported response type to the grant types it requires.
var responseTypeGrants = map[string][]string{
	"code":                {"authorization_code"},
	"id_token":            {"implicit"},
	"id_token token":      {"implicit"},
	"token":               {"implicit"},
	"code id_token":       {"authorization_code", "implicit"},
	"code token":          {"authorization_code", "implicit"},
	"code id_token token": {"authorization_code", "implicit"},
}

// grantResponseTypes maps each grant type to the response types that can exercise it.
var grantResponseTypes = map[string][]string{
	"authorization_code": {"code", "code id_token", "code token", "code id_token token"},
	"implicit":           {"id_token", "id_token token", "token", "code id_token", "code token", "code id_token token"},
}

// Validate runs the full rule pipeline and returns normalized metadata.
func (v *Validator) Validate(req *Request) (*Metadata, error) {
	meta := &Metadata{
		ClientName:      req.ClientName,
		ClientURI:       req.ClientURI,
		RequireAuthTime: req.RequireAuthTime,
	}

	if err := v.validateApplicationType(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateRedirectURIs(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateResponseAndGrantTypes(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateKeySet(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateSubjectType(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateResponseAlgorithms(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateAuthMethod(req, meta); err != nil {
		return nil, err
	}
	if err := v.validateBackchannelLogout(req, meta); err != nil {
		return nil, err
	}
	if err := v.validatePostLogoutRedirectURIs(req, meta); err != nil {
		return nil, err
	}

	if req.Scope != "" {
		meta.Scopes = strings.Fields(req.Scope)
	}

	return meta, nil
}

func (v *Validator) validateApplicationType(req *Request, meta *Metadata) error {
	appType := req.ApplicationType
	if appType == "" {
		appType = ApplicationTypeWeb
	}
	if appType != ApplicationTypeWeb && appType != ApplicationTypeNative {
		return errf("application_type must be %q or %q, got %q", ApplicationTypeWeb, ApplicationTypeNative, appType)
	}
	meta.ApplicationType = appType
	return nil
}

func (v *Validator) validateRedirectURIs(req *Request, meta *Metadata) error {
	if len(req.RedirectURIs) == 0 {
		return errf("redirect_uris is required and must not be empty")
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectStyleURI(uri, meta.ApplicationType, "redirect_uris"); err != nil {
			return err
		}
	}
	meta.RedirectURIs = append([]string(nil), req.RedirectURIs...)
	return nil
}

// validateRedirectStyleURI applies the application-type/scheme/localhost rules
// shared by redirect_uris, post_logout_redirect_uris, and backchannel_logout_uri.
func validateRedirectStyleURI(rawURI, appType, field string) error {
	parsed, err := url.Parse(rawURI)
	if err != nil || parsed.Scheme == "" {
		return errf("%s entry %q is not a valid URI", field, rawURI)
	}
	if parsed.Fragment != "" {
		return errf("%s entry %q must not contain a fragment", field, rawURI)
	}

	scheme := strings.ToLower(parsed.Scheme)
	isLoopback := helpers.IsLoopbackHostname(strings.ToLower(parsed.Hostname()))

	switch appType {
	case ApplicationTypeWeb:
		if scheme != "https" {
			return errf("%s entry %q: web clients must use the https scheme", field, rawURI)
		}
		if isLoopback {
			return errf("%s entry %q: web clients must not use localhost", field, rawURI)
		}
	case ApplicationTypeNative:
		if (scheme == "http" || scheme == "https") && !isLoopback {
			return errf("%s entry %q: native clients may only use http(s) with localhost", field, rawURI)
		}
	}
	return nil
}

func (v *Validator) validateResponseAndGrantTypes(req *Request, meta *Metadata) error {
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code"}
	}

	grantSet := make(map[string]bool, len(grantTypes))
	for _, gt := range grantTypes {
		switch gt {
		case "authorization_code", "implicit", "refresh_token":
		default:
			return errf("grant_types entry %q is not supported", gt)
		}
		grantSet[gt] = true
	}

	responseSet := make(map[string]bool, len(responseTypes))
	for _, rt := range responseTypes {
		required, ok := responseTypeGrants[normalizeResponseType(rt)]
		if !ok {
			return errf("response_types entry %q is not supported", rt)
		}
		for _, gt := range required {
			if !grantSet[gt] {
				return errf("response_types entry %q requires the %q grant type", rt, gt)
			}
		}
		responseSet[normalizeResponseType(rt)] = true
	}

	for _, gt := range grantTypes {
		compatible, ok := grantResponseTypes[gt]
		if !ok {
			continue // refresh_token has no response type of its own
		}
		found := false
		for _, rt := range compatible {
			if responseSet[rt] {
				found = true
				break
			}
		}
		if !found {
			return errf("grant_types entry %q requires a compatible response type", gt)
		}
	}

	if grantSet["refresh_token"] && !grantSet["authorization_code"] {
		return errf("grant_types entry \"refresh_token\" requires the \"authorization_code\" grant type")
	}

	meta.ResponseTypes = append([]string(nil), responseTypes...)
	meta.GrantTypes = append([]string(nil), grantTypes...)
	return nil
}

// normalizeResponseType sorts space-delimited compound response types into
// their canonical order so "token id_token" and "id_token token" compare equal.
func normalizeResponseType(rt string) string {
	parts := strings.Fields(rt)
	if len(parts) <= 1 {
		return rt
	}
	var code, idToken, token bool
	for _, p := range parts {
		switch p {
		case "code":
			code = true
		case "id_token":
			idToken = true
		case "token":
			token = true
		default:
			return rt // unknown component, leave for the lookup to reject
		}
	}
	var out []string
	if code {
		out = append(out, "code")
	}
	if idToken {
		out = append(out, "id_token")
	}
	if token {
		out = append(out, "token")
	}
	return strings.Join(out, " ")
}

func (v *Validator) validateKeySet(req *Request, meta *Metadata) error {
	if req.JWKS != nil && req.JWKSURI != "" {
		return errf("jwks and jwks_uri must not both be present")
	}
	if req.JWKSURI != "" {
		parsed, err := url.Parse(req.JWKSURI)
		if err != nil || parsed.Scheme != "https" {
			return errf("jwks_uri must be an https URI")
		}
		if err := rejectInternalHost(parsed.Hostname(), "jwks_uri"); err != nil {
			return err
		}
	}
	meta.JWKS = req.JWKS
	meta.JWKSURI = req.JWKSURI
	return nil
}

func (v *Validator) validateSubjectType(req *Request, meta *Metadata) error {
	subjectType := req.SubjectType
	if subjectType == "" {
		subjectType = SubjectTypePublic
	}
	switch subjectType {
	case SubjectTypePublic:
	case SubjectTypePairwise:
		if req.SectorIdentifierURI == "" {
			return errf("subject_type \"pairwise\" requires sector_identifier_uri")
		}
	default:
		return errf("subject_type must be %q or %q, got %q", SubjectTypePublic, SubjectTypePairwise, subjectType)
	}
	if req.SectorIdentifierURI != "" {
		parsed, err := url.Parse(req.SectorIdentifierURI)
		if err != nil || parsed.Scheme != "https" {
			return errf("sector_identifier_uri must be an https URI")
		}
		if err := rejectInternalHost(parsed.Hostname(), "sector_identifier_uri"); err != nil {
			return err
		}
	}
	meta.SubjectType = subjectType
	meta.SectorIdentifierURI = req.SectorIdentifierURI
	return nil
}

func (v *Validator) validateResponseAlgorithms(req *Request, meta *Metadata) error {
	idTokenAlg := req.IDTokenSignedResponseAlg
	if idTokenAlg == "" {
		idTokenAlg = "RS256"
	}
	if !contains(v.cfg.SupportedSigningAlgs, idTokenAlg) {
		return errf("id_token_signed_response_alg %q is not supported", idTokenAlg)
	}
	meta.IDTokenSignedResponseAlg = idTokenAlg

	categories := []struct {
		name       string
		signedAlg  string
		encAlg     string
		encEnc     string
		requireSig bool // encryption requires a signing alg already set for the category
	}{
		{"id_token", idTokenAlg, req.IDTokenEncryptedResponseAlg, req.IDTokenEncryptedResponseEnc, false},
		{"userinfo", req.UserinfoSignedResponseAlg, req.UserinfoEncryptedResponseAlg, req.UserinfoEncryptedResponseEnc, true},
		{"authorization", req.AuthorizationSignedResponseAlg, req.AuthorizationEncryptedResponseAlg, req.AuthorizationEncryptedResponseEnc, true},
	}

	for _, cat := range categories {
		if cat.name != "id_token" && cat.signedAlg != "" && !contains(v.cfg.SupportedSigningAlgs, cat.signedAlg) {
			return errf("%s_signed_response_alg %q is not supported", cat.name, cat.signedAlg)
		}
		if cat.encEnc != "" && cat.encAlg == "" {
			return errf("%s_encrypted_response_enc requires %s_encrypted_response_alg", cat.name, cat.name)
		}
		if cat.encAlg != "" {
			if !contains(v.cfg.SupportedKeyWrapAlgs, cat.encAlg) {
				return errf("%s_encrypted_response_alg %q is not supported", cat.name, cat.encAlg)
			}
			if cat.requireSig && cat.signedAlg == "" {
				return errf("%s encryption requires %s_signed_response_alg to be set", cat.name, cat.name)
			}
		}
		if cat.encEnc != "" && !contains(v.cfg.SupportedContentEncAlgs, cat.encEnc) {
			return errf("%s_encrypted_response_enc %q is not supported", cat.name, cat.encEnc)
		}
	}

	meta.UserinfoSignedResponseAlg = req.UserinfoSignedResponseAlg
	meta.AuthorizationSignedResponseAlg = req.AuthorizationSignedResponseAlg
	meta.IDTokenEncryptedResponseAlg = req.IDTokenEncryptedResponseAlg
	meta.IDTokenEncryptedResponseEnc = req.IDTokenEncryptedResponseEnc
	meta.UserinfoEncryptedResponseAlg = req.UserinfoEncryptedResponseAlg
	meta.UserinfoEncryptedResponseEnc = req.UserinfoEncryptedResponseEnc
	meta.AuthorizationEncryptedResponseAlg = req.AuthorizationEncryptedResponseAlg
	meta.AuthorizationEncryptedResponseEnc = req.AuthorizationEncryptedResponseEnc
	return nil
}

func (v *Validator) validateAuthMethod(req *Request, meta *Metadata) error {
	method := req.TokenEndpointAuthMethod
	if method == "" {
		method = "client_secret_basic"
	}
	if len(v.cfg.SupportedAuthMethods) > 0 && !contains(v.cfg.SupportedAuthMethods, method) {
		return errf("token_endpoint_auth_method %q is not supported", method)
	}

	alg := req.TokenEndpointAuthSigningAlg
	switch method {
	case "client_secret_jwt":
		if alg == "" {
			return errf("token_endpoint_auth_method \"client_secret_jwt\" requires token_endpoint_auth_signing_alg")
		}
		if !strings.HasPrefix(alg, "HS") {
			return errf("token_endpoint_auth_method \"client_secret_jwt\" requires an HMAC signing algorithm, got %q", alg)
		}
	case "private_key_jwt":
		if alg == "" {
			return errf("token_endpoint_auth_method \"private_key_jwt\" requires token_endpoint_auth_signing_alg")
		}
		if strings.HasPrefix(alg, "HS") {
			return errf("token_endpoint_auth_method \"private_key_jwt\" requires a non-HMAC signing algorithm, got %q", alg)
		}
		if req.JWKS == nil && req.JWKSURI == "" {
			return errf("token_endpoint_auth_method \"private_key_jwt\" requires jwks or jwks_uri")
		}
	default:
		if alg != "" {
			return errf("token_endpoint_auth_signing_alg must not be set for token_endpoint_auth_method %q", method)
		}
	}
	if alg != "" && !contains(v.cfg.SupportedSigningAlgs, alg) {
		return errf("token_endpoint_auth_signing_alg %q is not supported", alg)
	}

	meta.TokenEndpointAuthMethod = method
	meta.TokenEndpointAuthSigningAlg = alg
	return nil
}

func (v *Validator) validateBackchannelLogout(req *Request, meta *Metadata) error {
	if req.BackchannelLogoutSessionRequired && req.BackchannelLogoutURI == "" {
		return errf("backchannel_logout_session_required requires backchannel_logout_uri")
	}
	if req.BackchannelLogoutURI != "" {
		if !v.cfg.BackchannelLogoutEnabled {
			return errf("backchannel_logout_uri is not supported by this server")
		}
		if err := validateRedirectStyleURI(req.BackchannelLogoutURI, meta.ApplicationType, "backchannel_logout_uri"); err != nil {
			return err
		}
	}
	if req.BackchannelLogoutSessionRequired && !v.cfg.BackchannelLogoutSessionSupported {
		return errf("backchannel_logout_session_required is not supported by this server")
	}
	meta.BackchannelLogoutURI = req.BackchannelLogoutURI
	meta.BackchannelLogoutSessionRequired = req.BackchannelLogoutSessionRequired
	return nil
}

func (v *Validator) validatePostLogoutRedirectURIs(req *Request, meta *Metadata) error {
	for _, uri := range req.PostLogoutRedirectURIs {
		if err := validateRedirectStyleURI(uri, meta.ApplicationType, "post_logout_redirect_uris"); err != nil {
			return err
		}
	}
	meta.PostLogoutRedirectURIs = append([]string(nil), req.PostLogoutRedirectURIs...)
	return nil
}

// rejectInternalHost refuses IP-literal hosts that are not publicly
// routable. The server fetches these URIs itself, so loopback, private, and
// link-local targets are not acceptable.
func rejectInternalHost(hostname, field string) error {
	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}
	if helpers.IsPrivateOrInternal(ip) {
		return errf("%s host %q is not publicly routable", field, hostname)
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
