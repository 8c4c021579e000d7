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

// LogoutType implements the logout interaction. Accept terminates the
// session's active login through the selected logout strategy; a second
// accept after the login is already gone is a no-op that neither invokes a
// strategy nor persists the ticket.
type LogoutType struct {
	tickets    storage.LogoutTicketStore
	sessions   storage.SessionStore
	logins     storage.LoginStore
	strategies map[string]session.LogoutStrategy
	endpoints  Endpoints
	logger     *slog.Logger
	auditor    *security.Auditor
	inst       *instrumentation.Instrumentation
}

// NewLogoutType creates the logout interaction handler
func NewLogoutType(tickets storage.LogoutTicketStore, sessions storage.SessionStore, logins storage.LoginStore, strategies map[string]session.LogoutStrategy, endpoints Endpoints, logger *slog.Logger) *LogoutType {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogoutType{
		tickets:    tickets,
		sessions:   sessions,
		logins:     logins,
		strategies: strategies,
		endpoints:  endpoints,
		logger:     logger,
	}
}

// SetAuditor attaches a security auditor
func (t *LogoutType) SetAuditor(a *security.Auditor) { t.auditor = a }

// SetInstrumentation attaches OpenTelemetry instrumentation
func (t *LogoutType) SetInstrumentation(inst *instrumentation.Instrumentation) { t.inst = inst }

// Kind implements Type
func (t *LogoutType) Kind() string { return KindLogout }

// loadTicket resolves a challenge to its logout ticket, enforcing the
// lazy-expiry guard before any decision logic runs.
func (t *LogoutType) loadTicket(ctx context.Context, challenge string) (*storage.LogoutTicket, error) {
	ticket, err := t.tickets.GetLogoutTicketByChallenge(ctx, challenge)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("load logout ticket: %w", err)
	}
	if security.TicketExpired(ticket.ExpiresAt) {
		if err := t.tickets.DeleteLogoutTicket(ctx, ticket.ID); err != nil {
			t.logger.Warn("failed to delete expired logout ticket", "ticket_id", ticket.ID, "error", err)
		}
		if t.auditor != nil {
			t.auditor.LogTicketExpired(KindLogout, ticket.ClientID)
		}
		if t.inst != nil && t.inst.Metrics() != nil {
			t.inst.Metrics().RecordTicketExpired(ctx, KindLogout)
		}
		return nil, ErrTicketExpired
	}
	return ticket, nil
}

// HandleContext implements Type. The screen may be skipped when the session
// has no active login left to confirm.
func (t *LogoutType) HandleContext(ctx context.Context, req *ContextRequest) (*ContextResponse, error) {
	ticket, err := t.loadTicket(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}

	sess, err := t.sessions.GetSession(ctx, ticket.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	skip := sess.ActiveLoginID == ""

	resp := &ContextResponse{
		Skip:       skip,
		RequestURL: requestURL(t.endpoints.EndSession, ticket.RequestParams),
		Client:     ticket.ClientID,
		Context: ScreenContext{
			LogoutHint: firstParam(ticket.RequestParams, "logout_hint"),
			UILocales:  splitSpace(firstParam(ticket.RequestParams, "ui_locales")),
		},
	}
	if t.inst != nil && t.inst.Metrics() != nil {
		t.inst.Metrics().RecordInteractionContext(ctx, KindLogout, skip)
	}
	return resp, nil
}

// HandleDecision implements Type.
func (t *LogoutType) HandleDecision(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	ticket, err := t.loadTicket(ctx, req.Challenge)
	if err != nil {
		return nil, err
	}

	if t.inst != nil && t.inst.Metrics() != nil {
		t.inst.Metrics().RecordInteractionDecision(ctx, KindLogout, req.Decision)
	}

	if req.Decision == DecisionDeny {
		if t.auditor != nil {
			t.auditor.LogInteractionDecision(KindLogout, req.Decision, "", ticket.ClientID, "")
		}
		if err := t.tickets.DeleteLogoutTicket(ctx, ticket.ID); err != nil {
			return nil, fmt.Errorf("delete logout ticket: %w", err)
		}
		return &DecisionResponse{
			RedirectTo: errorRedirect(t.endpoints.Error, req.Error, req.ErrorDescription),
		}, nil
	}

	if req.SessionID != ticket.SessionID {
		return nil, requestErrf("session_id does not match the logout ticket")
	}

	sess, err := t.sessions.GetSession(ctx, ticket.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	redirect := &DecisionResponse{
		RedirectTo: requestURL(t.endpoints.EndSession, ticket.RequestParams),
	}

	// Already terminated: skip the strategy and skip persistence.
	if sess.ActiveLoginID == "" {
		return redirect, nil
	}

	logoutType := req.LogoutType
	if logoutType == "" {
		logoutType = session.LogoutTypeLocal
	}
	strategy, ok := t.strategies[logoutType]
	if !ok {
		return nil, requestErrf("unknown logout_type %q", logoutType)
	}

	login, err := t.logins.GetLogin(ctx, sess.ActiveLoginID)
	if err != nil {
		return nil, fmt.Errorf("load active login: %w", err)
	}

	if err := strategy.Logout(ctx, login, sess); err != nil {
		return nil, fmt.Errorf("logout strategy %s: %w", logoutType, err)
	}

	ticket.Granted = true
	if err := t.tickets.SaveLogoutTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("save logout ticket: %w", err)
	}

	if t.auditor != nil {
		t.auditor.LogInteractionDecision(KindLogout, req.Decision, login.UserID, ticket.ClientID, "")
	}

	return redirect, nil
}
