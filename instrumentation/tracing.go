package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put actual sensitive values (token handles,
// challenge strings, client secrets) in traces or metrics. Only record
// metadata such as interaction kinds, decisions, and validation results.
const (
	// Protocol attributes
	AttrClientID         = "oidc.client_id"          // Client identifier (non-secret)
	AttrUserID           = "oidc.user_id"            // User identifier (non-secret)
	AttrSessionID        = "oidc.session_id"         // Session identifier
	AttrScope            = "oidc.scope"              // Requested scopes
	AttrInteractionKind  = "oidc.interaction.kind"   // login, consent, or logout
	AttrDecision         = "oidc.decision"           // accept or deny
	AttrLogoutType       = "oidc.logout_type"        // local or sso
	AttrTokenTypeHint    = "oidc.token_type_hint"    //nolint:gosec // Introspection/revocation hint, not a credential
	AttrTokenCategory    = "oidc.token.category"     //nolint:gosec // Response token category (authorization, id_token, ...)
	AttrSigningAlg       = "oidc.token.signing_alg"  // Negotiated signing algorithm
	AttrEncrypted        = "oidc.token.encrypted"    // Whether the response token was nested in a JWE
	AttrError            = "oidc.error"              // Error code
	AttrErrorDescription = "oidc.error_description"  // Error description

	// Storage attributes
	AttrStorageEntity    = "storage.entity"
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"

	// Security attributes
	AttrClientIP       = "security.client_ip"
	AttrAuditEventType = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddInteractionAttributes adds interaction attributes to a span (nil-safe)
func AddInteractionAttributes(span trace.Span, kind, clientID string) {
	if span == nil {
		return
	}
	if kind != "" {
		span.SetAttributes(attribute.String(AttrInteractionKind, kind))
	}
	if clientID != "" {
		span.SetAttributes(attribute.String(AttrClientID, clientID))
	}
}

// AddHTTPAttributes adds HTTP attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
	)
	if statusCode > 0 {
		span.SetAttributes(attribute.Int(AttrHTTPStatusCode, statusCode))
	}
}
