package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/oidc/instrumentation"
	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/session"
	"github.com/veridian-id/oidc/storage"
)

// ConsentType implements the consent interaction. The screen may be skipped
// when a stored consent for the same user and client already covers every
// requested scope.
type ConsentType struct {
	grants    storage.GrantStore
	consents  storage.ConsentStore
	logins    storage.LoginStore
	auth      *session.AuthHandler
	endpoints Endpoints
	logger    *slog.Logger
	auditor   *security.Auditor
	inst      *instrumentation.Instrumentation
}

// NewConsentType creates the consent interaction handler
func NewConsentType(grants storage.GrantStore, consents storage.ConsentStore, logins storage.LoginStore, auth *session.AuthHandler, endpoints Endpoints, logger *slog.Logger) *ConsentType {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsentType{
		grants:    grants,
		consents:  consents,
		logins:    logins,
		auth:      auth,
		endpoints: endpoints,
		logger:    logger,
	}
}

// SetAuditor attaches a security auditor
func (t *ConsentType) SetAuditor(a *security.Auditor) { t.auditor = a }

// SetInstrumentation attaches OpenTelemetry instrumentation
func (t *ConsentType) SetInstrumentation(inst *instrumentation.Instrumentation) { t.inst = inst }

// Kind implements Type
func (t *ConsentType) Kind() string { return KindConsent }

func (t *ConsentType) loadGrant(ctx context.Context, challenge string) (*storage.Grant, error) {
	grant, err := t.grants.GetGrantByConsentChallenge(ctx, challenge)
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
			t.auditor.LogTicketExpired(KindConsent, grant.ClientID)
		}
		if t.inst != nil && t.inst.Metrics() != nil {
			t.inst.Metrics().RecordTicketExpired(ctx, KindConsent)
		}
		return nil, ErrTicketExpired
	}
	return grant, nil
}

// HandleContext implements Type
func (t *ConsentType) HandleContext(ctx context.Context, req *ContextRequest) (*ContextResponse, error) {
	grant, err := t.loadGrant(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}

	requested := splitSpace(firstParam(grant.RequestParams, "scope"))

	skip := false
	if firstParam(grant.RequestParams, "prompt") != "consent" {
		active, err := t.auth.ActiveLogin(ctx, grant.SessionID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			stored, err := t.consents.FindConsent(ctx, active.UserID, grant.ClientID)
			if err != nil && err != storage.ErrNotFound {
				return nil, fmt.Errorf("find consent: %w", err)
			}
			skip = stored != nil && coversScopes(stored.GrantedScopes, requested)
		}
	}

	resp := &ContextResponse{
		Skip:       skip,
		RequestURL: requestURL(t.endpoints.Authorization, grant.RequestParams),
		Client:     grant.ClientID,
		Context: ScreenContext{
			UILocales:       splitSpace(firstParam(grant.RequestParams, "ui_locales")),
			RequestedScopes: requested,
		},
	}
	if t.inst != nil && t.inst.Metrics() != nil {
		t.inst.Metrics().RecordInteractionContext(ctx, KindConsent, skip)
	}
	return resp, nil
}

// HandleDecision implements Type. Accept stores a consent record, attaches it
// to the grant, and returns the user agent to the authorization request.
func (t *ConsentType) HandleDecision(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	grant, err := t.loadGrant(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}

	if t.inst != nil && t.inst.Metrics() != nil {
		t.inst.Metrics().RecordInteractionDecision(ctx, KindConsent, req.Decision)
	}

	if req.Decision == DecisionDeny {
		if t.auditor != nil {
			t.auditor.LogInteractionDecision(KindConsent, req.Decision, "", grant.ClientID, "")
		}
		if err := t.grants.DeleteGrant(ctx, grant.ID); err != nil {
			return nil, fmt.Errorf("delete grant: %w", err)
		}
		return &DecisionResponse{
			RedirectTo: errorRedirect(t.endpoints.Error, req.Error, req.ErrorDescription),
		}, nil
	}

	active, err := t.auth.ActiveLogin(ctx, grant.SessionID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, requestErrf("consent accept requires an active login")
	}

	granted := req.GrantedScopes
	if len(granted) == 0 {
		granted = splitSpace(firstParam(grant.RequestParams, "scope"))
	}

	consent := &storage.Consent{
		ID:            uuid.New().String(),
		ClientID:      grant.ClientID,
		UserID:        active.UserID,
		GrantedScopes: granted,
		CreatedAt:     time.Now(),
	}
	if err := t.consents.SaveConsent(ctx, consent); err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}

	if !containsString(active.ClientIDs, grant.ClientID) {
		active.ClientIDs = append(active.ClientIDs, grant.ClientID)
		if err := t.logins.SaveLogin(ctx, active); err != nil {
			return nil, fmt.Errorf("save login: %w", err)
		}
	}

	grant.ConsentID = consent.ID
	grant.Interactions = append(grant.Interactions, KindConsent)
	if err := t.grants.SaveGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}

	if t.auditor != nil {
		t.auditor.LogInteractionDecision(KindConsent, req.Decision, active.UserID, grant.ClientID, "")
	}

	return &DecisionResponse{
		RedirectTo: requestURL(t.endpoints.Authorization, grant.RequestParams),
	}, nil
}

// coversScopes reports whether granted is a superset of requested.
func coversScopes(granted, requested []string) bool {
	for _, want := range requested {
		if !containsString(granted, want) {
			return false
		}
	}
	return true
}
