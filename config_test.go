package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/veridian-id/oidc/internal/testutil"
)

func TestConfig_Validate(t *testing.T) {
	sigKeys := testutil.NewRSASigningKey(t, "sig-1", "RS256")

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing issuer",
			config:  Config{Keys: sigKeys},
			wantErr: "issuer is required",
		},
		{
			name:    "no keys at all",
			config:  Config{Issuer: "https://as.example.com"},
			wantErr: "signing key",
		},
		{
			name: "key without use=sig",
			config: Config{
				Issuer: "https://as.example.com",
				Keys: jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
					Key:       sigKeys.Keys[0].Key,
					KeyID:     "enc-1",
					Algorithm: "RSA-OAEP",
					Use:       "enc",
				}}},
			},
			wantErr: "signing key",
		},
		{
			name: "key without algorithm",
			config: Config{
				Issuer: "https://as.example.com",
				Keys: jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
					Key:   sigKeys.Keys[0].Key,
					KeyID: "sig-1",
					Use:   "sig",
				}}},
			},
			wantErr: "signing key",
		},
		{
			name:   "valid",
			config: Config{Issuer: "https://as.example.com", Keys: sigKeys},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplySecureDefaults(t *testing.T) {
	config := applySecureDefaults(&Config{Issuer: "https://as.example.com"})

	endpoints := map[string]string{
		"authorization": config.Endpoints.Authorization,
		"end_session":   config.Endpoints.EndSession,
		"interaction":   config.Endpoints.Interaction,
		"error":         config.Endpoints.Error,
		"logged_out":    config.Endpoints.LoggedOut,
	}
	for name, got := range endpoints {
		if !strings.HasPrefix(got, "https://as.example.com/oauth/") {
			t.Errorf("%s endpoint = %q, want derived from the issuer", name, got)
		}
	}

	if config.TTL.Challenge != 5*time.Minute {
		t.Errorf("TTL.Challenge = %v", config.TTL.Challenge)
	}
	if config.TTL.Login != 24*time.Hour {
		t.Errorf("TTL.Login = %v", config.TTL.Login)
	}
	if config.TTL.AccessToken != time.Hour {
		t.Errorf("TTL.AccessToken = %v", config.TTL.AccessToken)
	}
	if config.TTL.RefreshToken != 30*24*time.Hour {
		t.Errorf("TTL.RefreshToken = %v", config.TTL.RefreshToken)
	}
	if config.TTL.AuthorizationResponse != 86400*time.Second {
		t.Errorf("TTL.AuthorizationResponse = %v", config.TTL.AuthorizationResponse)
	}

	if len(config.Negotiation.SigningAlgs) == 0 || config.Negotiation.SigningAlgs[0] != "RS256" {
		t.Errorf("Negotiation.SigningAlgs = %v", config.Negotiation.SigningAlgs)
	}
	if len(config.Negotiation.KeyWrapAlgs) == 0 {
		t.Error("Negotiation.KeyWrapAlgs is empty")
	}
	if len(config.Negotiation.ContentEncAlgs) == 0 {
		t.Error("Negotiation.ContentEncAlgs is empty")
	}
	if len(config.Negotiation.AuthMethods) != 3 {
		t.Errorf("Negotiation.AuthMethods = %v", config.Negotiation.AuthMethods)
	}

	if !config.Logout.BackchannelEnabled || !config.Logout.BackchannelSessionSupported {
		t.Error("back-channel logout should default to enabled")
	}
	if config.Logout.BackchannelTimeout != 5*time.Second {
		t.Errorf("Logout.BackchannelTimeout = %v", config.Logout.BackchannelTimeout)
	}

	if config.RateLimit.TrustedProxyCount != 1 {
		t.Errorf("RateLimit.TrustedProxyCount = %d", config.RateLimit.TrustedProxyCount)
	}
	if config.HTTPClient == nil {
		t.Error("HTTPClient is nil")
	}
}

func TestApplySecureDefaults_KeepsExplicitValues(t *testing.T) {
	config := applySecureDefaults(&Config{
		Issuer: "https://as.example.com",
		Endpoints: EndpointConfig{
			Interaction: "https://login.example.com/ui",
		},
		TTL:    TTLConfig{Challenge: time.Minute},
		Logout: LogoutConfig{BackchannelTimeout: 2 * time.Second},
	})

	if config.Endpoints.Interaction != "https://login.example.com/ui" {
		t.Errorf("Endpoints.Interaction = %q", config.Endpoints.Interaction)
	}
	if config.TTL.Challenge != time.Minute {
		t.Errorf("TTL.Challenge = %v", config.TTL.Challenge)
	}
	if config.Logout.BackchannelTimeout != 2*time.Second {
		t.Errorf("Logout.BackchannelTimeout = %v", config.Logout.BackchannelTimeout)
	}
	if config.Logout.BackchannelEnabled {
		t.Error("BackchannelEnabled = true, want an explicitly disabled logout config kept")
	}
}
