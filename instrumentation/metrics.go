package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Interaction state machine
	InteractionContextServed  metric.Int64Counter
	InteractionDecisionServed metric.Int64Counter
	TicketExpired             metric.Int64Counter

	// Logout fan-out
	LogoutNotificationAttempts metric.Int64Counter
	LogoutNotificationFailures metric.Int64Counter
	LoginsTerminated           metric.Int64Counter

	// Registration
	ClientRegistered     metric.Int64Counter
	RegistrationRejected metric.Int64Counter

	// Token endpoints
	TokenIntrospected   metric.Int64Counter
	TokenRevoked        metric.Int64Counter
	ResponseTokenSigned metric.Int64Counter

	// Storage
	StorageOperationTotal metric.Int64Counter

	// Audit
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	interactionMeter := inst.Meter("interaction")
	sessionMeter := inst.Meter("session")
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oidc.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.InteractionContextServed, err = interactionMeter.Int64Counter(
		"oidc.interaction.context.served",
		metric.WithDescription("Number of interaction context requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction.context.served counter: %w", err)
	}

	m.InteractionDecisionServed, err = interactionMeter.Int64Counter(
		"oidc.interaction.decision.served",
		metric.WithDescription("Number of interaction decision requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction.decision.served counter: %w", err)
	}

	m.TicketExpired, err = interactionMeter.Int64Counter(
		"oidc.interaction.ticket.expired",
		metric.WithDescription("Number of grants and logout tickets found expired on access"),
		metric.WithUnit("{ticket}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction.ticket.expired counter: %w", err)
	}

	m.LogoutNotificationAttempts, err = sessionMeter.Int64Counter(
		"oidc.logout.notification.attempts",
		metric.WithDescription("Number of back-channel logout notifications attempted"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logout.notification.attempts counter: %w", err)
	}

	m.LogoutNotificationFailures, err = sessionMeter.Int64Counter(
		"oidc.logout.notification.failures",
		metric.WithDescription("Number of back-channel logout notifications that failed or timed out"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logout.notification.failures counter: %w", err)
	}

	m.LoginsTerminated, err = sessionMeter.Int64Counter(
		"oidc.logout.logins.terminated",
		metric.WithDescription("Number of logins terminated by logout strategies"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logout.logins.terminated counter: %w", err)
	}

	m.ClientRegistered, err = serverMeter.Int64Counter(
		"oidc.client.registered",
		metric.WithDescription("Number of clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.RegistrationRejected, err = serverMeter.Int64Counter(
		"oidc.client.registration.rejected",
		metric.WithDescription("Number of client registrations rejected by metadata validation"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registration.rejected counter: %w", err)
	}

	m.TokenIntrospected, err = serverMeter.Int64Counter(
		"oidc.token.introspected",
		metric.WithDescription("Number of introspection requests resolved"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.introspected counter: %w", err)
	}

	m.TokenRevoked, err = serverMeter.Int64Counter(
		"oidc.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.ResponseTokenSigned, err = serverMeter.Int64Counter(
		"oidc.token.response.signed",
		metric.WithDescription("Number of response tokens signed (and optionally encrypted)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.response.signed counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oidc.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oidc.audit.events.total",
		metric.WithDescription("Total number of security audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordInteractionContext records a served interaction context request
func (m *Metrics) RecordInteractionContext(ctx context.Context, kind string, skip bool) {
	m.InteractionContextServed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("skip", skip),
	))
}

// RecordInteractionDecision records a served interaction decision request
func (m *Metrics) RecordInteractionDecision(ctx context.Context, kind, decision string) {
	m.InteractionDecisionServed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("decision", decision),
	))
}

// RecordTicketExpired records a ticket found expired on access
func (m *Metrics) RecordTicketExpired(ctx context.Context, kind string) {
	m.TicketExpired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordLogoutNotificationAttempt records a back-channel notification attempt
func (m *Metrics) RecordLogoutNotificationAttempt(ctx context.Context, clientID string) {
	m.LogoutNotificationAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordLogoutNotificationFailure records a failed back-channel notification
func (m *Metrics) RecordLogoutNotificationFailure(ctx context.Context, clientID string) {
	m.LogoutNotificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordLoginTerminated records a login terminated by a logout strategy
func (m *Metrics) RecordLoginTerminated(ctx context.Context, logoutType string) {
	m.LoginsTerminated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("logout_type", logoutType),
	))
}

// RecordClientRegistration records a successful client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, applicationType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("application_type", applicationType),
	))
}

// RecordRegistrationRejected records a registration rejected by validation
func (m *Metrics) RecordRegistrationRejected(ctx context.Context) {
	m.RegistrationRejected.Add(ctx, 1)
}

// RecordTokenIntrospection records a resolved introspection request
func (m *Metrics) RecordTokenIntrospection(ctx context.Context, hint string, active bool) {
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hint", hint),
		attribute.Bool("active", active),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordResponseTokenSigned records a signed response token
func (m *Metrics) RecordResponseTokenSigned(ctx context.Context, category string, encrypted bool) {
	m.ResponseTokenSigned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("encrypted", encrypted),
	))
}

// RecordAuditEvent records an emitted audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
