package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veridian-id/oidc/instrumentation"
	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/storage"
)

// Logout type names selectable via the logout_type interaction parameter
const (
	LogoutTypeLocal = "local"
	LogoutTypeSSO   = "sso"
)

// LogoutStrategy terminates logins in response to an accepted logout
// interaction. Implementations notify affected clients over the back-channel;
// notification failures never fail the logout itself.
type LogoutStrategy interface {
	// Name returns the logout_type value this strategy handles
	Name() string

	// Logout terminates the login(s) implied by the strategy for the
	// session's active login
	Logout(ctx context.Context, login *storage.Login, sess *storage.Session) error
}

// Strategies builds the closed dispatch table of logout types.
func Strategies(auth *AuthHandler, logins storage.LoginStore, clients storage.ClientStore, notifier *BackchannelNotifier, auditor *security.Auditor, inst *instrumentation.Instrumentation, logger *slog.Logger) map[string]LogoutStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return map[string]LogoutStrategy{
		LogoutTypeLocal: &LocalLogout{auth: auth, clients: clients, notifier: notifier, auditor: auditor, inst: inst, logger: logger},
		LogoutTypeSSO:   &SSOLogout{auth: auth, logins: logins, clients: clients, notifier: notifier, auditor: auditor, inst: inst, logger: logger},
	}
}

func recordTermination(ctx context.Context, auditor *security.Auditor, inst *instrumentation.Instrumentation, login *storage.Login, logoutType string) {
	if auditor != nil {
		auditor.LogLoginTerminated(login.UserID, login.SessionID, logoutType)
	}
	if inst != nil && inst.Metrics() != nil {
		inst.Metrics().RecordLoginTerminated(ctx, logoutType)
	}
}

// LocalLogout terminates only the session's active login and notifies the
// clients recorded against that login.
type LocalLogout struct {
	auth     *AuthHandler
	clients  storage.ClientStore
	notifier *BackchannelNotifier
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation
	logger   *slog.Logger
}

// Name implements LogoutStrategy
func (s *LocalLogout) Name() string { return LogoutTypeLocal }

// Logout implements LogoutStrategy
func (s *LocalLogout) Logout(ctx context.Context, login *storage.Login, sess *storage.Session) error {
	if err := s.auth.Logout(ctx, login.ID); err != nil {
		return fmt.Errorf("terminate login: %w", err)
	}
	recordTermination(ctx, s.auditor, s.inst, login, LogoutTypeLocal)
	s.notifyClients(ctx, login, sess)
	return nil
}

func (s *LocalLogout) notifyClients(ctx context.Context, login *storage.Login, sess *storage.Session) {
	for _, clientID := range login.ClientIDs {
		client, err := s.clients.GetClient(ctx, clientID)
		if err != nil {
			s.logger.Warn("skipping logout notification for unknown client",
				"client_id", clientID, "error", err)
			continue
		}
		s.notifier.Notify(ctx, client, login, sess)
	}
}

// SSOLogout terminates every login of the user across all sessions and fans
// out notifications to every client referenced by any of those logins. Logins
// are processed sequentially in storage order; all of a login's clients are
// notified before the next login is handled.
type SSOLogout struct {
	auth     *AuthHandler
	logins   storage.LoginStore
	clients  storage.ClientStore
	notifier *BackchannelNotifier
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation
	logger   *slog.Logger
}

// Name implements LogoutStrategy
func (s *SSOLogout) Name() string { return LogoutTypeSSO }

// Logout implements LogoutStrategy
func (s *SSOLogout) Logout(ctx context.Context, login *storage.Login, _ *storage.Session) error {
	all, err := s.logins.ListLoginsByUser(ctx, login.UserID)
	if err != nil {
		return fmt.Errorf("list user logins: %w", err)
	}
	for _, l := range all {
		owning, err := s.auth.sessions.GetSession(ctx, l.SessionID)
		if err != nil {
			s.logger.Warn("skipping login with unresolvable session",
				"login_id", l.ID, "session_id", l.SessionID, "error", err)
			continue
		}
		if err := s.auth.Logout(ctx, l.ID); err != nil {
			return fmt.Errorf("terminate login %s: %w", l.ID, err)
		}
		recordTermination(ctx, s.auditor, s.inst, l, LogoutTypeSSO)
		for _, clientID := range l.ClientIDs {
			client, err := s.clients.GetClient(ctx, clientID)
			if err != nil {
				s.logger.Warn("skipping logout notification for unknown client",
					"client_id", clientID, "error", err)
				continue
			}
			s.notifier.Notify(ctx, client, l, owning)
		}
	}
	return nil
}
