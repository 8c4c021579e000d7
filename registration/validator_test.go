package registration

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
)

func newValidator() *Validator {
	return NewValidator(Config{
		SupportedSigningAlgs:              []string{"RS256", "RS384", "ES256", "PS256", "HS256"},
		SupportedKeyWrapAlgs:              []string{"RSA-OAEP", "RSA-OAEP-256", "ECDH-ES"},
		SupportedContentEncAlgs:           []string{"A128CBC-HS256", "A256GCM"},
		SupportedAuthMethods:              []string{"client_secret_basic", "client_secret_post", "client_secret_jwt", "private_key_jwt", "none"},
		BackchannelLogoutEnabled:          true,
		BackchannelLogoutSessionSupported: true,
	})
}

func minimalRequest() *Request {
	return &Request{
		RedirectURIs: []string{"https://client.example.com/cb"},
	}
}

func TestValidator_MinimalRequestNormalization(t *testing.T) {
	meta, err := newValidator().Validate(minimalRequest())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if meta.ApplicationType != ApplicationTypeWeb {
		t.Errorf("ApplicationType = %q, want web", meta.ApplicationType)
	}
	if meta.SubjectType != SubjectTypePublic {
		t.Errorf("SubjectType = %q, want public", meta.SubjectType)
	}
	if meta.IDTokenSignedResponseAlg != "RS256" {
		t.Errorf("IDTokenSignedResponseAlg = %q, want RS256", meta.IDTokenSignedResponseAlg)
	}
	if meta.TokenEndpointAuthMethod != "client_secret_basic" {
		t.Errorf("TokenEndpointAuthMethod = %q, want client_secret_basic", meta.TokenEndpointAuthMethod)
	}
	if len(meta.ResponseTypes) != 1 || meta.ResponseTypes[0] != "code" {
		t.Errorf("ResponseTypes = %v, want [code]", meta.ResponseTypes)
	}
	if len(meta.GrantTypes) != 1 || meta.GrantTypes[0] != "authorization_code" {
		t.Errorf("GrantTypes = %v, want [authorization_code]", meta.GrantTypes)
	}
}

func TestValidator_RedirectURIRules(t *testing.T) {
	tests := []struct {
		name    string
		appType string
		uris    []string
		wantErr string
	}{
		{"missing", "web", nil, "redirect_uris is required"},
		{"web https ok", "web", []string{"https://app.example.com/cb"}, ""},
		{"web http rejected", "web", []string{"http://app.example.com/cb"}, "must use the https scheme"},
		{"web localhost rejected", "web", []string{"https://localhost/cb"}, "must not use localhost"},
		{"web fragment rejected", "web", []string{"https://app.example.com/cb#frag"}, "must not contain a fragment"},
		{"native loopback http ok", "native", []string{"http://127.0.0.1:49152/cb"}, ""},
		{"native localhost ok", "native", []string{"http://localhost/cb"}, ""},
		{"native custom scheme ok", "native", []string{"com.example.app:/oauth"}, ""},
		{"native remote http rejected", "native", []string{"http://app.example.com/cb"}, "may only use http(s) with localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{ApplicationType: tt.appType, RedirectURIs: tt.uris}
			_, err := newValidator().Validate(req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var metaErr *MetadataError
			if !errors.As(err, &metaErr) {
				t.Fatalf("Validate() error = %v, want *MetadataError", err)
			}
			if !strings.Contains(metaErr.Description, tt.wantErr) {
				t.Errorf("description = %q, want it to contain %q", metaErr.Description, tt.wantErr)
			}
		})
	}
}

func TestValidator_ResponseAndGrantTypeCompatibility(t *testing.T) {
	tests := []struct {
		name          string
		responseTypes []string
		grantTypes    []string
		wantErr       string
	}{
		{"code with authorization_code", []string{"code"}, []string{"authorization_code"}, ""},
		{"code without authorization_code", []string{"code"}, []string{"implicit"}, `response_types entry "code" requires the "authorization_code" grant type`},
		{"id_token with implicit", []string{"id_token"}, []string{"implicit"}, ""},
		{"hybrid needs both", []string{"code id_token"}, []string{"authorization_code"}, `requires the "implicit" grant type`},
		{"hybrid with both", []string{"code id_token"}, []string{"authorization_code", "implicit"}, ""},
		{"reordered compound accepted", []string{"token id_token"}, []string{"implicit"}, ""},
		{"unknown response type", []string{"device"}, []string{"authorization_code"}, `response_types entry "device" is not supported`},
		{"unknown grant type", []string{"code"}, []string{"password"}, `grant_types entry "password" is not supported`},
		{"implicit without matching response type", []string{"code"}, []string{"authorization_code", "implicit"}, `grant_types entry "implicit" requires a compatible response type`},
		{"refresh without authorization_code", []string{"id_token"}, []string{"implicit", "refresh_token"}, `"refresh_token" requires the "authorization_code" grant type`},
		{"refresh with authorization_code", []string{"code"}, []string{"authorization_code", "refresh_token"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := minimalRequest()
			req.ResponseTypes = tt.responseTypes
			req.GrantTypes = tt.grantTypes
			_, err := newValidator().Validate(req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_KeySetRules(t *testing.T) {
	t.Run("both jwks and jwks_uri", func(t *testing.T) {
		req := minimalRequest()
		req.JWKS = &jose.JSONWebKeySet{}
		req.JWKSURI = "https://client.example.com/jwks.json"
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "must not both be present") {
			t.Fatalf("Validate() error = %v, want both-present rejection", err)
		}
	})

	t.Run("jwks_uri requires https", func(t *testing.T) {
		req := minimalRequest()
		req.JWKSURI = "http://client.example.com/jwks.json"
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "jwks_uri must be an https URI") {
			t.Fatalf("Validate() error = %v, want https rejection", err)
		}
	})

	t.Run("jwks_uri internal host rejected", func(t *testing.T) {
		req := minimalRequest()
		req.JWKSURI = "https://10.0.0.5/jwks.json"
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "not publicly routable") {
			t.Fatalf("Validate() error = %v, want routability rejection", err)
		}
	})
}

func TestValidator_SubjectTypeRules(t *testing.T) {
	t.Run("pairwise requires sector identifier", func(t *testing.T) {
		req := minimalRequest()
		req.SubjectType = SubjectTypePairwise
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "requires sector_identifier_uri") {
			t.Fatalf("Validate() error = %v, want sector identifier requirement", err)
		}
	})

	t.Run("pairwise with sector identifier", func(t *testing.T) {
		req := minimalRequest()
		req.SubjectType = SubjectTypePairwise
		req.SectorIdentifierURI = "https://client.example.com/sector.json"
		meta, err := newValidator().Validate(req)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if meta.SubjectType != SubjectTypePairwise {
			t.Errorf("SubjectType = %q, want pairwise", meta.SubjectType)
		}
	})
}

func TestValidator_AuthMethodSigningAlgRules(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		alg     string
		jwks    bool
		wantErr string
	}{
		{"client_secret_jwt requires alg", "client_secret_jwt", "", false, "requires token_endpoint_auth_signing_alg"},
		{"client_secret_jwt requires HMAC", "client_secret_jwt", "RS256", false, "requires an HMAC signing algorithm"},
		{"client_secret_jwt HS256 ok", "client_secret_jwt", "HS256", false, ""},
		{"private_key_jwt requires alg", "private_key_jwt", "", true, "requires token_endpoint_auth_signing_alg"},
		{"private_key_jwt rejects HMAC", "private_key_jwt", "HS256", true, "requires a non-HMAC signing algorithm"},
		{"private_key_jwt requires keys", "private_key_jwt", "RS256", false, "requires jwks or jwks_uri"},
		{"private_key_jwt RS256 ok", "private_key_jwt", "RS256", true, ""},
		{"basic rejects alg", "client_secret_basic", "HS256", false, "must not be set"},
		{"unsupported alg", "client_secret_jwt", "HS384", false, `"HS384" is not supported`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := minimalRequest()
			req.TokenEndpointAuthMethod = tt.method
			req.TokenEndpointAuthSigningAlg = tt.alg
			if tt.jwks {
				req.JWKS = &jose.JSONWebKeySet{}
			}
			_, err := newValidator().Validate(req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_ResponseAlgorithmRules(t *testing.T) {
	t.Run("enc without alg rejected", func(t *testing.T) {
		req := minimalRequest()
		req.IDTokenEncryptedResponseEnc = "A128CBC-HS256"
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "requires id_token_encrypted_response_alg") {
			t.Fatalf("Validate() error = %v, want enc-without-alg rejection", err)
		}
	})

	t.Run("authorization encryption requires signing alg", func(t *testing.T) {
		req := minimalRequest()
		req.AuthorizationEncryptedResponseAlg = "RSA-OAEP"
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "requires authorization_signed_response_alg") {
			t.Fatalf("Validate() error = %v, want signing-alg requirement", err)
		}
	})

	t.Run("unsupported key wrap", func(t *testing.T) {
		req := minimalRequest()
		req.IDTokenEncryptedResponseAlg = "A128KW"
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), `"A128KW" is not supported`) {
			t.Fatalf("Validate() error = %v, want unsupported key wrap", err)
		}
	})

	t.Run("full authorization encryption accepted", func(t *testing.T) {
		req := minimalRequest()
		req.AuthorizationSignedResponseAlg = "ES256"
		req.AuthorizationEncryptedResponseAlg = "ECDH-ES"
		req.AuthorizationEncryptedResponseEnc = "A256GCM"
		meta, err := newValidator().Validate(req)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if meta.AuthorizationEncryptedResponseAlg != "ECDH-ES" {
			t.Errorf("AuthorizationEncryptedResponseAlg = %q", meta.AuthorizationEncryptedResponseAlg)
		}
	})
}

func TestValidator_BackchannelLogoutRules(t *testing.T) {
	t.Run("session required without uri", func(t *testing.T) {
		req := minimalRequest()
		req.BackchannelLogoutSessionRequired = true
		_, err := newValidator().Validate(req)
		if err == nil || !strings.Contains(err.Error(), "requires backchannel_logout_uri") {
			t.Fatalf("Validate() error = %v, want uri requirement", err)
		}
	})

	t.Run("disabled on server", func(t *testing.T) {
		v := NewValidator(Config{
			SupportedSigningAlgs: []string{"RS256"},
			SupportedAuthMethods: []string{"client_secret_basic"},
		})
		req := minimalRequest()
		req.BackchannelLogoutURI = "https://client.example.com/backchannel"
		_, err := v.Validate(req)
		if err == nil || !strings.Contains(err.Error(), "not supported by this server") {
			t.Fatalf("Validate() error = %v, want server-support rejection", err)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		req := minimalRequest()
		req.BackchannelLogoutURI = "https://client.example.com/backchannel"
		req.BackchannelLogoutSessionRequired = true
		meta, err := newValidator().Validate(req)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if !meta.BackchannelLogoutSessionRequired {
			t.Error("BackchannelLogoutSessionRequired = false, want true")
		}
	})
}

func TestValidator_ScopeSplitting(t *testing.T) {
	req := minimalRequest()
	req.Scope = "openid  profile email"
	meta, err := newValidator().Validate(req)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := []string{"openid", "profile", "email"}
	if len(meta.Scopes) != len(want) {
		t.Fatalf("Scopes = %v, want %v", meta.Scopes, want)
	}
	for i := range want {
		if meta.Scopes[i] != want[i] {
			t.Errorf("Scopes[%d] = %q, want %q", i, meta.Scopes[i], want[i])
		}
	}
}
