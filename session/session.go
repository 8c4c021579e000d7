// Package session manages the relationship between browser sessions and the
// logins they carry, and implements the logout strategies that terminate them.
// A session holds at most one login per user; re-authentication of the same
// user replaces the prior login in place.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/storage"
)

// AuthHandler records logins into sessions and removes them again.
type AuthHandler struct {
	sessions storage.SessionStore
	logins   storage.LoginStore
	logger   *slog.Logger
	loginTTL time.Duration
}

// NewAuthHandler creates a session authentication handler
func NewAuthHandler(sessions storage.SessionStore, logins storage.LoginStore, loginTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if loginTTL <= 0 {
		loginTTL = 24 * time.Hour
	}
	return &AuthHandler{
		sessions: sessions,
		logins:   logins,
		logger:   logger,
		loginTTL: loginTTL,
	}
}

// Login records a fresh authentication for userID inside the session. If the
// session already carries a login for the same user it is replaced, so a
// session never holds two logins for one user. The new login always becomes
// the session's active login.
func (h *AuthHandler) Login(ctx context.Context, sessionID, userID string, amr []string, acr string) (*storage.Login, error) {
	session, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := time.Now()
	login := &storage.Login{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: session.ID,
		AMR:       amr,
		ACR:       acr,
		CreatedAt: now,
		ExpiresAt: now.Add(h.loginTTL),
	}
	if err := h.logins.SaveLogin(ctx, login); err != nil {
		return nil, fmt.Errorf("save login: %w", err)
	}

	replaced := ""
	kept := session.LoginIDs[:0]
	for _, id := range session.LoginIDs {
		existing, err := h.logins.GetLogin(ctx, id)
		if err != nil || existing.UserID != userID {
			kept = append(kept, id)
			continue
		}
		replaced = id
	}
	session.LoginIDs = append(kept, login.ID)
	session.ActiveLoginID = login.ID

	if err := h.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if replaced != "" {
		if err := h.logins.DeleteLogin(ctx, replaced); err != nil {
			h.logger.Warn("failed to delete replaced login",
				"login_id", replaced, "error", err)
		}
	}

	h.logger.Info("login recorded",
		"session_id", session.ID,
		"login_id", login.ID,
		"replaced", replaced != "")
	return login, nil
}

// Logout removes the login from its session and deletes it. If it was the
// session's active login the session is left without an active login.
func (h *AuthHandler) Logout(ctx context.Context, loginID string) error {
	login, err := h.logins.GetLogin(ctx, loginID)
	if err != nil {
		return fmt.Errorf("load login: %w", err)
	}

	session, err := h.sessions.GetSession(ctx, login.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	kept := session.LoginIDs[:0]
	for _, id := range session.LoginIDs {
		if id != loginID {
			kept = append(kept, id)
		}
	}
	session.LoginIDs = kept
	if session.ActiveLoginID == loginID {
		session.ActiveLoginID = ""
	}
	if err := h.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := h.logins.DeleteLogin(ctx, loginID); err != nil {
		return fmt.Errorf("delete login: %w", err)
	}

	h.logger.Info("login terminated", "session_id", session.ID, "login_id", loginID)
	return nil
}

// InactivateActiveLogin clears the session's active login without deleting
// the login itself.
func (h *AuthHandler) InactivateActiveLogin(ctx context.Context, sessionID string) error {
	session, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.ActiveLoginID == "" {
		return nil
	}
	session.ActiveLoginID = ""
	return h.sessions.SaveSession(ctx, session)
}

// ActiveLogin resolves the session's active login, treating an expired login
// as absent.
func (h *AuthHandler) ActiveLogin(ctx context.Context, sessionID string) (*storage.Login, error) {
	session, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.ActiveLoginID == "" {
		return nil, nil
	}
	login, err := h.logins.GetLogin(ctx, session.ActiveLoginID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load login: %w", err)
	}
	if security.IsExpired(login.ExpiresAt) {
		return nil, nil
	}
	return login, nil
}
