package interaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veridian-id/oidc/instrumentation"
	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/session"
	"github.com/veridian-id/oidc/storage"
)

// LoginType implements the login interaction: deciding whether an active
// login lets the screen be skipped, and recording a fresh authentication on
// accept.
type LoginType struct {
	grants    storage.GrantStore
	sessions  storage.SessionStore
	logins    storage.LoginStore
	auth      *session.AuthHandler
	endpoints Endpoints
	logger    *slog.Logger
	auditor   *security.Auditor
	inst      *instrumentation.Instrumentation
}

// NewLoginType creates the login interaction handler
func NewLoginType(grants storage.GrantStore, sessions storage.SessionStore, logins storage.LoginStore, auth *session.AuthHandler, endpoints Endpoints, logger *slog.Logger) *LoginType {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginType{
		grants:    grants,
		sessions:  sessions,
		logins:    logins,
		auth:      auth,
		endpoints: endpoints,
		logger:    logger,
	}
}

// SetAuditor attaches a security auditor
func (t *LoginType) SetAuditor(a *security.Auditor) { t.auditor = a }

// SetInstrumentation attaches OpenTelemetry instrumentation
func (t *LoginType) SetInstrumentation(inst *instrumentation.Instrumentation) { t.inst = inst }

// Kind implements Type
func (t *LoginType) Kind() string { return KindLogin }

// loadGrant resolves a challenge to its grant, enforcing the lazy-expiry
// guard: an expired grant is deleted and the request fails before any
// decision logic runs.
func (t *LoginType) loadGrant(ctx context.Context, challenge string) (*storage.Grant, error) {
	grant, err := t.grants.GetGrantByLoginChallenge(ctx, challenge)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("load grant: %w", err)
	}
	if security.TicketExpired(grant.ExpiresAt) {
		if err := t.grants.DeleteGrant(ctx, grant.ID); err != nil {
			t.logger.Warn("failed to delete expired grant", "grant_id", grant.ID, "error", err)
		}
		if t.auditor != nil {
			t.auditor.LogTicketExpired(KindLogin, grant.ClientID)
		}
		if t.inst != nil && t.inst.Metrics() != nil {
			t.inst.Metrics().RecordTicketExpired(ctx, KindLogin)
		}
		return nil, ErrTicketExpired
	}
	return grant, nil
}

// HandleContext implements Type. The screen may be skipped when the session
// already has an unexpired active login and the request does not force
// re-authentication via prompt=login.
func (t *LoginType) HandleContext(ctx context.Context, req *ContextRequest) (*ContextResponse, error) {
	grant, err := t.loadGrant(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}

	skip := false
	if firstParam(grant.RequestParams, "prompt") != "login" {
		active, err := t.auth.ActiveLogin(ctx, grant.SessionID)
		if err != nil {
			return nil, err
		}
		skip = active != nil
	}

	resp := &ContextResponse{
		Skip:       skip,
		RequestURL: requestURL(t.endpoints.Authorization, grant.RequestParams),
		Client:     grant.ClientID,
		Context: ScreenContext{
			LoginHint:       firstParam(grant.RequestParams, "login_hint"),
			UILocales:       splitSpace(firstParam(grant.RequestParams, "ui_locales")),
			RequestedScopes: splitSpace(firstParam(grant.RequestParams, "scope")),
		},
	}
	if t.inst != nil && t.inst.Metrics() != nil {
		t.inst.Metrics().RecordInteractionContext(ctx, KindLogin, skip)
	}
	return resp, nil
}

// HandleDecision implements Type. Accept records the authentication into the
// grant's session and sends the user agent back to the authorization request;
// deny discards the grant and redirects to the error endpoint.
func (t *LoginType) HandleDecision(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	grant, err := t.loadGrant(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}

	if t.inst != nil && t.inst.Metrics() != nil {
		t.inst.Metrics().RecordInteractionDecision(ctx, KindLogin, req.Decision)
	}
	if t.auditor != nil {
		t.auditor.LogInteractionDecision(KindLogin, req.Decision, req.UserID, grant.ClientID, "")
	}

	if req.Decision == DecisionDeny {
		if err := t.grants.DeleteGrant(ctx, grant.ID); err != nil {
			return nil, fmt.Errorf("delete grant: %w", err)
		}
		return &DecisionResponse{
			RedirectTo: errorRedirect(t.endpoints.Error, req.Error, req.ErrorDescription),
		}, nil
	}

	login, err := t.auth.Login(ctx, grant.SessionID, req.UserID, req.AMR, req.ACR)
	if err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	if !containsString(login.ClientIDs, grant.ClientID) {
		login.ClientIDs = append(login.ClientIDs, grant.ClientID)
		if err := t.logins.SaveLogin(ctx, login); err != nil {
			return nil, fmt.Errorf("save login: %w", err)
		}
	}

	grant.Interactions = append(grant.Interactions, KindLogin)
	if err := t.grants.SaveGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}

	return &DecisionResponse{
		RedirectTo: requestURL(t.endpoints.Authorization, grant.RequestParams),
	}, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
