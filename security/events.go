package security

// Event type constants for security audit logging.
// These constants keep event names consistent across the codebase.
const (
	// Interaction events

	// EventInteractionDecision is logged for every accepted or denied
	// login, consent, or logout decision.
	EventInteractionDecision = "interaction_decision"

	// EventTicketExpired is logged when a grant or logout ticket is
	// rejected (and deleted) because its expiry has passed.
	EventTicketExpired = "ticket_expired"

	// Logout events

	// EventLoginTerminated is logged when a logout strategy terminates a login
	EventLoginTerminated = "login_terminated"

	// EventBackchannelNotificationFailed is logged when a back-channel
	// logout notification to a client fails or times out. Failures are
	// swallowed by the fan-out, so the audit log is the only trace.
	EventBackchannelNotificationFailed = "backchannel_notification_failed"

	// Token lifecycle events

	// EventTokenRevoked is logged when a token is revoked by a client
	EventTokenRevoked = "token_revoked"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration metadata
	// fails validation
	EventClientRegistrationRejected = "client_registration_rejected"

	// Security violation events

	// EventAuthFailure is logged when client authentication or Bearer
	// authorization fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
