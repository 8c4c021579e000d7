// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the authorization server engine.
//
// This package enables observability across all library layers through:
// - Metrics: counters and histograms for protocol operations
// - Traces: distributed tracing for request flows across components
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-authorization-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP layer:
//   - oidc.http.requests.total{method, endpoint, status}
//   - oidc.http.request.duration{endpoint}
//
// Interaction state machine:
//   - oidc.interaction.context.served{kind}
//   - oidc.interaction.decision.served{kind, decision}
//   - oidc.interaction.ticket.expired{kind}
//
// Logout fan-out:
//   - oidc.logout.notification.attempts{client_id}
//   - oidc.logout.notification.failures{client_id}
//   - oidc.logout.logins.terminated{logout_type}
//
// Registration and tokens:
//   - oidc.client.registered / oidc.client.registration.rejected
//   - oidc.token.introspected{hint, active}
//   - oidc.token.revoked{token_type}
//   - oidc.token.response.signed{category, encrypted}
//
// Storage:
//   - oidc.storage.operations.total{entity, operation}
//
// When instrumentation is disabled, no-op providers are used and there is no
// overhead. All operations are safe for concurrent use.
package instrumentation
