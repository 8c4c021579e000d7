package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/veridian-id/oidc/registration"
	"github.com/veridian-id/oidc/security"
)

const (
	// SessionCookieName is the browser session cookie set by the
	// authorization and end-session endpoints.
	SessionCookieName = "oidc_session"

	tokenTypeBearer = "Bearer"
)

// Handler exposes the server operations over HTTP.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.inst != nil {
		h.tracer = server.inst.Tracer("http")
	}

	return h
}

// RegisterRoutes registers all endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeMetadata)
	mux.HandleFunc("/oauth/authorize", h.ServeAuthorization)
	mux.HandleFunc("/oauth/end_session", h.ServeEndSession)
	mux.HandleFunc("/oauth/interaction", h.ServeInteraction)
	mux.HandleFunc("/oauth/introspect", h.ServeIntrospection)
	mux.HandleFunc("/oauth/revoke", h.ServeRevocation)
	mux.HandleFunc("/oauth/register", h.ServeClientRegistration)
	mux.HandleFunc("/oauth/register/", h.ServeClientConfiguration)
}

// ServeMetadata handles the RFC 8414 discovery document.
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, r, "/.well-known/oauth-authorization-server", start)
		return
	}

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	h.writeJSON(w, http.StatusOK, h.server.Metadata())
	h.recordHTTPMetrics("/.well-known/oauth-authorization-server", r.Method, http.StatusOK, start)
}

// ServeAuthorization handles the authorization endpoint. Both the initial
// request and the resubmission after interaction land here.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, r, "/oauth/authorize", start)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, r, ErrInvalidRequest("malformed request parameters"), "/oauth/authorize", start)
		return
	}

	ctx, span := h.startSpan(r, "authorize")
	defer span.End()

	result, err := h.server.Authorize(ctx, h.sessionID(r), r.Form)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		h.writeOAuthError(w, r, err, "/oauth/authorize", start)
		return
	}

	h.setSessionCookie(w, r, result.SessionID)
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	http.Redirect(w, r, result.RedirectTo, http.StatusFound)
	h.recordHTTPMetrics("/oauth/authorize", r.Method, http.StatusFound, start)
}

// ServeEndSession handles the RP-initiated logout endpoint.
func (h *Handler) ServeEndSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, r, "/oauth/end_session", start)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, r, ErrInvalidRequest("malformed request parameters"), "/oauth/end_session", start)
		return
	}

	ctx, span := h.startSpan(r, "end_session")
	defer span.End()

	result, err := h.server.EndSession(ctx, h.sessionID(r), r.Form)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		h.writeOAuthError(w, r, err, "/oauth/end_session", start)
		return
	}

	if result.Completed {
		h.clearSessionCookie(w)
	}
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	http.Redirect(w, r, result.RedirectTo, http.StatusFound)
	h.recordHTTPMetrics("/oauth/end_session", r.Method, http.StatusFound, start)
}

// ServeInteraction serves screen context on GET and applies decisions on
// POST. The interaction front-end is the only intended caller.
func (h *Handler) ServeInteraction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, span := h.startSpan(r, "interaction")
	defer span.End()

	security.SetSecurityHeaders(w, h.server.config.Issuer)

	switch r.Method {
	case http.MethodGet:
		resp, err := h.server.InteractionContext(ctx, r)
		if err != nil {
			h.writeOAuthError(w, r, err, "/oauth/interaction", start)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
		h.recordHTTPMetrics("/oauth/interaction", r.Method, http.StatusOK, start)
	case http.MethodPost:
		resp, err := h.server.InteractionDecision(ctx, r)
		if err != nil {
			h.writeOAuthError(w, r, err, "/oauth/interaction", start)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
		h.recordHTTPMetrics("/oauth/interaction", r.Method, http.StatusOK, start)
	default:
		h.writeMethodNotAllowed(w, r, "/oauth/interaction", start)
	}
}

// ServeIntrospection handles RFC 7662 token introspection.
func (h *Handler) ServeIntrospection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, r, "/oauth/introspect", start)
		return
	}

	ctx, span := h.startSpan(r, "introspect")
	defer span.End()

	security.SetSecurityHeaders(w, h.server.config.Issuer)

	resp, err := h.server.Introspect(ctx, r)
	if err != nil {
		h.writeOAuthError(w, r, err, "/oauth/introspect", start)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
	h.recordHTTPMetrics("/oauth/introspect", r.Method, http.StatusOK, start)
}

// ServeRevocation handles RFC 7009 token revocation.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, r, "/oauth/revoke", start)
		return
	}

	ctx, span := h.startSpan(r, "revoke")
	defer span.End()

	security.SetSecurityHeaders(w, h.server.config.Issuer)

	if err := h.server.Revoke(ctx, r); err != nil {
		h.writeOAuthError(w, r, err, "/oauth/revoke", start)
		return
	}
	w.WriteHeader(http.StatusOK)
	h.recordHTTPMetrics("/oauth/revoke", r.Method, http.StatusOK, start)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, r, "/oauth/register", start)
		return
	}

	ctx, span := h.startSpan(r, "register")
	defer span.End()

	security.SetSecurityHeaders(w, h.server.config.Issuer)

	var req registration.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOAuthError(w, r, ErrInvalidRequest("malformed registration request body"), "/oauth/register", start)
		return
	}

	clientIP := security.ClientIP(r, h.server.config.RateLimit.TrustProxy, h.server.config.RateLimit.TrustedProxyCount)
	resp, err := h.server.RegisterClient(ctx, &req, clientIP)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		h.writeOAuthError(w, r, err, "/oauth/register", start)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
	h.recordHTTPMetrics("/oauth/register", r.Method, http.StatusCreated, start)
}

// ServeClientConfiguration handles the RFC 7592 client configuration
// endpoint at /oauth/register/{client_id}.
func (h *Handler) ServeClientConfiguration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	clientID := strings.TrimPrefix(r.URL.Path, "/oauth/register/")
	if clientID == "" || strings.Contains(clientID, "/") {
		h.writeOAuthError(w, r, ErrInvalidRequest("missing client id in path"), "/oauth/register/{id}", start)
		return
	}

	ctx, span := h.startSpan(r, "client_configuration")
	defer span.End()

	security.SetSecurityHeaders(w, h.server.config.Issuer)

	switch r.Method {
	case http.MethodGet:
		resp, err := h.server.GetClientRegistration(ctx, r, clientID)
		if err != nil {
			h.writeOAuthError(w, r, err, "/oauth/register/{id}", start)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
		h.recordHTTPMetrics("/oauth/register/{id}", r.Method, http.StatusOK, start)
	case http.MethodPut:
		var req registration.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeOAuthError(w, r, ErrInvalidRequest("malformed registration request body"), "/oauth/register/{id}", start)
			return
		}
		resp, err := h.server.UpdateClientRegistration(ctx, r, clientID, &req)
		if err != nil {
			h.writeOAuthError(w, r, err, "/oauth/register/{id}", start)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
		h.recordHTTPMetrics("/oauth/register/{id}", r.Method, http.StatusOK, start)
	case http.MethodDelete:
		if err := h.server.DeleteClientRegistration(ctx, r, clientID); err != nil {
			h.writeOAuthError(w, r, err, "/oauth/register/{id}", start)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		h.recordHTTPMetrics("/oauth/register/{id}", r.Method, http.StatusNoContent, start)
	default:
		h.writeMethodNotAllowed(w, r, "/oauth/register/{id}", start)
	}
}

// ==================== response helpers ====================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeOAuthError renders any error as an OAuth error response. Errors that
// are not *OAuthError become opaque server_error responses.
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error, endpoint string, start time.Time) {
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		h.logger.Error("internal error", "endpoint", endpoint, "error", err)
		oauthErr = ErrServerError("internal server error")
	}

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}
	if oauthErr.Status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             oauthErr.Code,
		"error_description": oauthErr.Description,
	})

	h.recordHTTPMetrics(endpoint, r.Method, oauthErr.Status, start)
}

func (h *Handler) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, endpoint string, start time.Time) {
	w.Header().Set("Allow", allowedMethods(endpoint))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	h.recordHTTPMetrics(endpoint, r.Method, http.StatusMethodNotAllowed, start)
}

func allowedMethods(endpoint string) string {
	switch endpoint {
	case "/oauth/authorize", "/oauth/end_session":
		return "GET, POST"
	case "/oauth/interaction":
		return "GET, POST"
	case "/oauth/register/{id}":
		return "GET, PUT, DELETE"
	case "/.well-known/oauth-authorization-server":
		return "GET"
	}
	return "POST"
}

// ==================== session cookie ====================

func (h *Handler) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" || sessionID == h.sessionID(r) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.server.config.Issuer, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// ==================== instrumentation ====================

func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return r.Context(), trace.SpanFromContext(r.Context())
	}
	return h.tracer.Start(r.Context(), fmt.Sprintf("oauth.%s", name))
}

// recordHTTPMetrics records the request count and duration
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, start time.Time) {
	if h.server.inst == nil {
		return
	}
	duration := time.Since(start).Seconds() * 1000 // convert to milliseconds
	h.server.inst.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
