// Package security provides security features for the authorization server:
// rate limiting, audit logging, challenge generation, and expiry checks.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogInteractionDecision logs an accepted or denied interaction
func (a *Auditor) LogInteractionDecision(kind, decision, userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventInteractionDecision,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"kind":     kind,
			"decision": decision,
		},
	})
}

// LogTicketExpired logs a grant or logout ticket rejected because it expired
func (a *Auditor) LogTicketExpired(kind, clientID string) {
	a.LogEvent(Event{
		Type:     EventTicketExpired,
		ClientID: clientID,
		Details: map[string]any{
			"kind": kind,
		},
	})
}

// LogLoginTerminated logs a login terminated by a logout strategy
func (a *Auditor) LogLoginTerminated(userID, sessionID, logoutType string) {
	a.LogEvent(Event{
		Type:   EventLoginTerminated,
		UserID: userID,
		Details: map[string]any{
			"session_id":  sessionID,
			"logout_type": logoutType,
		},
	})
}

// LogBackchannelNotificationFailed logs a failed back-channel logout delivery
func (a *Auditor) LogBackchannelNotificationFailed(clientID, reason string) {
	a.LogEvent(Event{
		Type:     EventBackchannelNotificationFailed,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAuthFailure logs a client authentication or authorization failure
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, applicationType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"application_type": applicationType,
		},
	})
}

// LogClientRegistrationRejected logs a registration rejected by metadata validation
func (a *Auditor) LogClientRegistrationRejected(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventClientRegistrationRejected,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
