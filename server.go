// Package oidc implements the engine of an OAuth 2.0 / OpenID Connect
// authorization server: the login, consent, and logout interaction state
// machine, session and back-channel logout handling, token and algorithm
// negotiation, dynamic client registration validation, and introspection and
// revocation resolution. Transport wiring beyond the bundled net/http handler
// and actual credential verification are left to the embedding application.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/veridian-id/oidc/clientauth"
	"github.com/veridian-id/oidc/instrumentation"
	"github.com/veridian-id/oidc/interaction"
	"github.com/veridian-id/oidc/internal/util"
	"github.com/veridian-id/oidc/registration"
	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/session"
	"github.com/veridian-id/oidc/storage"
	"github.com/veridian-id/oidc/token"
)

// registrationScope marks registration access tokens.
const registrationScope = "registration"

// Server wires the core components over a storage backend.
type Server struct {
	store  storage.Store
	config *Config
	logger *slog.Logger

	negotiator *token.Negotiator
	resolver   *token.Resolver
	validator  *registration.Validator
	dispatcher *interaction.Dispatcher
	auth       *session.AuthHandler
	notifier   *session.BackchannelNotifier

	authenticator *clientauth.Authenticator
	authorizer    *clientauth.Authorizer

	auditor    *security.Auditor
	regLimiter *security.RateLimiter
	inst       *instrumentation.Instrumentation

	// retained so SetAuditor/SetInstrumentation can rewire them
	loginType   *interaction.LoginType
	consentType *interaction.ConsentType
	logoutType  *interaction.LogoutType
}

// NewServer creates an authorization server over the given storage backend.
func NewServer(store storage.Store, config *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	config = applySecureDefaults(config)

	s := &Server{
		store:  store,
		config: config,
		logger: logger,
	}

	s.negotiator = token.NewNegotiator(config.Issuer, config.Keys, config.HTTPClient, logger)

	var refreshStore storage.RefreshTokenStore
	if !config.DisableRefreshTokens {
		refreshStore = store
	}
	s.resolver = token.NewResolver(store, refreshStore)

	s.validator = registration.NewValidator(registration.Config{
		SupportedSigningAlgs:              config.Negotiation.SigningAlgs,
		SupportedKeyWrapAlgs:              config.Negotiation.KeyWrapAlgs,
		SupportedContentEncAlgs:           config.Negotiation.ContentEncAlgs,
		SupportedAuthMethods:              config.Negotiation.AuthMethods,
		BackchannelLogoutEnabled:          config.Logout.BackchannelEnabled,
		BackchannelLogoutSessionSupported: config.Logout.BackchannelSessionSupported,
	})

	if config.EnableAuditLogging {
		s.auditor = security.NewAuditor(logger, true)
	}
	if config.RateLimit.RegistrationRate > 0 {
		s.regLimiter = security.NewRateLimiter(config.RateLimit.RegistrationRate, config.RateLimit.RegistrationBurst, logger)
	}

	s.auth = session.NewAuthHandler(store, store, config.TTL.Login, logger)

	s.notifier = session.NewBackchannelNotifier(s.negotiator, config.HTTPClient, config.Logout.BackchannelTimeout, logger)
	s.notifier.SetAuditor(s.auditor)

	strategies := session.Strategies(s.auth, store, store, s.notifier, s.auditor, nil, logger)

	endpoints := interaction.Endpoints{
		Authorization: config.Endpoints.Authorization,
		EndSession:    config.Endpoints.EndSession,
		Error:         config.Endpoints.Error,
	}
	s.loginType = interaction.NewLoginType(store, store, store, s.auth, endpoints, logger)
	s.consentType = interaction.NewConsentType(store, store, store, s.auth, endpoints, logger)
	s.logoutType = interaction.NewLogoutType(store, store, store, strategies, endpoints, logger)
	s.loginType.SetAuditor(s.auditor)
	s.consentType.SetAuditor(s.auditor)
	s.logoutType.SetAuditor(s.auditor)
	s.dispatcher = interaction.NewDispatcher(s.loginType, s.consentType, s.logoutType)

	s.authenticator = clientauth.NewAuthenticator(
		&clientauth.SecretBasic{Clients: store},
		&clientauth.SecretPost{Clients: store},
		&clientauth.None{Clients: store},
	)
	s.authorizer = clientauth.NewAuthorizer(
		&clientauth.BearerHeader{Tokens: store},
		&clientauth.BearerBody{Tokens: store},
		&clientauth.BearerQuery{Tokens: store},
	)

	return s, nil
}

// SetInstrumentation enables OpenTelemetry metrics and tracing across the
// server and its storage backend.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	if setter, ok := s.store.(instrumentationSetter); ok {
		setter.SetInstrumentation(inst)
	}
	s.notifier.SetInstrumentation(inst)
	s.loginType.SetInstrumentation(inst)
	s.consentType.SetInstrumentation(inst)
	s.logoutType.SetInstrumentation(inst)

	// Rebuild the strategy table so terminations are counted too.
	strategies := session.Strategies(s.auth, s.store, s.store, s.notifier, s.auditor, inst, s.logger)
	endpoints := interaction.Endpoints{
		Authorization: s.config.Endpoints.Authorization,
		EndSession:    s.config.Endpoints.EndSession,
		Error:         s.config.Endpoints.Error,
	}
	s.logoutType = interaction.NewLogoutType(s.store, s.store, s.store, strategies, endpoints, s.logger)
	s.logoutType.SetAuditor(s.auditor)
	s.logoutType.SetInstrumentation(inst)
	s.dispatcher = interaction.NewDispatcher(s.loginType, s.consentType, s.logoutType)
}

// SetAuditor replaces the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
	s.notifier.SetAuditor(aud)
	s.loginType.SetAuditor(aud)
	s.consentType.SetAuditor(aud)
	s.logoutType.SetAuditor(aud)
}

// EffectiveConfig returns the configuration after defaults were applied
func (s *Server) EffectiveConfig() *Config {
	return s.config
}

// ==================== Authorization ====================

// Authorize runs one pass of the authorization endpoint. The first pass
// creates a grant and sends the user agent to the interaction front-end; once
// login and consent have both been recorded, the pass completes the flow by
// issuing a token handle wrapped in a signed (and optionally encrypted)
// authorization response.
func (s *Server) Authorize(ctx context.Context, sessionID string, params url.Values) (*AuthorizationResult, error) {
	clientID := params.Get("client_id")
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidClient("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	redirectURI := params.Get("redirect_uri")
	if redirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}
	if !uriRegistered(client.RedirectURIs, redirectURI) {
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	sess, err := s.ensureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	grantID := params.Get("grant_id")
	if grantID == "" {
		return s.startAuthorization(ctx, client, sess, params)
	}

	grant, err := s.store.GetGrant(ctx, grantID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccessDenied("unknown or consumed authorization grant")
	}
	if err != nil {
		return nil, fmt.Errorf("load grant: %w", err)
	}
	if security.TicketExpired(grant.ExpiresAt) {
		if err := s.store.DeleteGrant(ctx, grant.ID); err != nil {
			s.logger.Warn("failed to delete expired grant", "grant_id", grant.ID, "error", err)
		}
		if s.auditor != nil {
			s.auditor.LogTicketExpired(interaction.KindLogin, grant.ClientID)
		}
		if s.inst != nil && s.inst.Metrics() != nil {
			s.inst.Metrics().RecordTicketExpired(ctx, interaction.KindLogin)
		}
		return nil, ErrAccessDenied("authorization grant expired")
	}
	if grant.SessionID != sess.ID || grant.ClientID != client.ID {
		return nil, ErrAccessDenied("authorization grant does not belong to this session")
	}

	if !containsString(grant.Interactions, interaction.KindLogin) {
		return &AuthorizationResult{
			RedirectTo: s.interactionURL(interaction.KindLogin, interaction.ParamLoginChallenge, grant.LoginChallenge),
			SessionID:  sess.ID,
		}, nil
	}
	if !containsString(grant.Interactions, interaction.KindConsent) {
		return &AuthorizationResult{
			RedirectTo: s.interactionURL(interaction.KindConsent, interaction.ParamConsentChallenge, grant.ConsentChallenge),
			SessionID:  sess.ID,
		}, nil
	}

	return s.completeAuthorization(ctx, client, sess, grant, redirectURI, params.Get("state"))
}

// startAuthorization creates the grant and hands off to the login screen.
func (s *Server) startAuthorization(ctx context.Context, client *storage.Client, sess *storage.Session, params url.Values) (*AuthorizationResult, error) {
	now := time.Now()
	grant := &storage.Grant{
		ID:               uuid.New().String(),
		LoginChallenge:   security.GenerateChallenge(),
		ConsentChallenge: security.GenerateChallenge(),
		ClientID:         client.ID,
		SessionID:        sess.ID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.config.TTL.Challenge),
	}

	stored := cloneValues(params)
	stored.Set("grant_id", grant.ID)
	grant.RequestParams = map[string][]string(stored)

	if err := s.store.SaveGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}

	s.logger.Info("authorization flow started",
		"client_id", client.ID,
		"session_id", sess.ID,
		"login_challenge", util.SafeTruncate(grant.LoginChallenge, 8))

	return &AuthorizationResult{
		RedirectTo: s.interactionURL(interaction.KindLogin, interaction.ParamLoginChallenge, grant.LoginChallenge),
		SessionID:  sess.ID,
	}, nil
}

// completeAuthorization consumes the grant and issues the response token.
func (s *Server) completeAuthorization(ctx context.Context, client *storage.Client, sess *storage.Session, grant *storage.Grant, redirectURI, state string) (*AuthorizationResult, error) {
	active, err := s.auth.ActiveLogin(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrAccessDenied("no active login for this session")
	}

	var scopes []string
	if grant.ConsentID != "" {
		consent, err := s.store.GetConsent(ctx, grant.ConsentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load consent: %w", err)
		}
		if consent != nil {
			scopes = consent.GrantedScopes
		}
	}

	now := time.Now()
	access := &storage.AccessToken{
		Handle:    security.GenerateTokenHandle(),
		ClientID:  client.ID,
		UserID:    active.UserID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.TTL.AccessToken),
	}
	if err := s.store.SaveAccessToken(ctx, access); err != nil {
		return nil, fmt.Errorf("save access token: %w", err)
	}

	if !s.config.DisableRefreshTokens {
		refresh := &storage.RefreshToken{
			Handle:    security.GenerateTokenHandle(),
			ClientID:  client.ID,
			UserID:    active.UserID,
			Scopes:    scopes,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.config.TTL.RefreshToken),
		}
		if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
			return nil, fmt.Errorf("save refresh token: %w", err)
		}
	}

	claims := map[string]any{
		"code": access.Handle,
	}
	if state != "" {
		claims["state"] = state
	}
	responseToken, err := s.negotiator.ResponseToken(ctx, client, token.CategoryAuthorization, s.config.TTL.AuthorizationResponse, claims)
	if err != nil {
		return nil, fmt.Errorf("build authorization response token: %w", err)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		encrypted := client.AuthorizationEncryptedResponseAlg != ""
		s.inst.Metrics().RecordResponseTokenSigned(ctx, string(token.CategoryAuthorization), encrypted)
	}

	if err := s.store.DeleteGrant(ctx, grant.ID); err != nil {
		s.logger.Warn("failed to delete consumed grant", "grant_id", grant.ID, "error", err)
	}

	redirect := redirectURI
	if strings.Contains(redirect, "?") {
		redirect += "&response=" + url.QueryEscape(responseToken)
	} else {
		redirect += "?response=" + url.QueryEscape(responseToken)
	}

	s.logger.Info("authorization flow completed",
		"client_id", client.ID,
		"session_id", sess.ID,
		"token_handle", util.SafeTruncate(access.Handle, 8))

	return &AuthorizationResult{
		RedirectTo: redirect,
		Completed:  true,
		SessionID:  sess.ID,
	}, nil
}

// ==================== End-session ====================

// EndSession runs one pass of the end-session endpoint. The first pass
// creates a logout ticket and hands off to the logout screen; once the
// interaction granted the ticket, the pass consumes it and redirects to the
// client's post-logout URI.
func (s *Server) EndSession(ctx context.Context, sessionID string, params url.Values) (*EndSessionResult, error) {
	clientID := params.Get("client_id")
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidClient("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	postLogout := params.Get("post_logout_redirect_uri")
	if postLogout != "" && !uriRegistered(client.PostLogoutRedirectURIs, postLogout) {
		return nil, ErrInvalidRequest("post_logout_redirect_uri is not registered for this client")
	}
	target := s.postLogoutTarget(postLogout, params.Get("state"))

	ticketID := params.Get("ticket_id")
	if ticketID == "" {
		if sessionID == "" {
			// No session to end; logout is trivially complete.
			return &EndSessionResult{RedirectTo: target, Completed: true}, nil
		}
		sess, err := s.store.GetSession(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return &EndSessionResult{RedirectTo: target, Completed: true}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		return s.startEndSession(ctx, client, sess, params)
	}

	ticket, err := s.store.GetLogoutTicket(ctx, ticketID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccessDenied("unknown or consumed logout ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("load logout ticket: %w", err)
	}
	if security.TicketExpired(ticket.ExpiresAt) {
		if err := s.store.DeleteLogoutTicket(ctx, ticket.ID); err != nil {
			s.logger.Warn("failed to delete expired logout ticket", "ticket_id", ticket.ID, "error", err)
		}
		if s.auditor != nil {
			s.auditor.LogTicketExpired(interaction.KindLogout, ticket.ClientID)
		}
		if s.inst != nil && s.inst.Metrics() != nil {
			s.inst.Metrics().RecordTicketExpired(ctx, interaction.KindLogout)
		}
		return nil, ErrAccessDenied("logout ticket expired")
	}

	if !ticket.Granted {
		// Decision still pending; send the user agent back to the screen.
		return &EndSessionResult{
			RedirectTo: s.interactionURL(interaction.KindLogout, interaction.ParamLogoutChallenge, ticket.Challenge),
		}, nil
	}

	if err := s.store.DeleteLogoutTicket(ctx, ticket.ID); err != nil {
		s.logger.Warn("failed to delete consumed logout ticket", "ticket_id", ticket.ID, "error", err)
	}

	return &EndSessionResult{RedirectTo: target, Completed: true}, nil
}

// startEndSession creates the logout ticket and hands off to the screen.
func (s *Server) startEndSession(ctx context.Context, client *storage.Client, sess *storage.Session, params url.Values) (*EndSessionResult, error) {
	now := time.Now()
	ticket := &storage.LogoutTicket{
		ID:        uuid.New().String(),
		Challenge: security.GenerateChallenge(),
		ClientID:  client.ID,
		SessionID: sess.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL.Challenge),
	}

	stored := cloneValues(params)
	stored.Set("ticket_id", ticket.ID)
	ticket.RequestParams = map[string][]string(stored)

	if err := s.store.SaveLogoutTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("save logout ticket: %w", err)
	}

	s.logger.Info("end-session flow started",
		"client_id", client.ID,
		"session_id", sess.ID,
		"logout_challenge", util.SafeTruncate(ticket.Challenge, 8))

	return &EndSessionResult{
		RedirectTo: s.interactionURL(interaction.KindLogout, interaction.ParamLogoutChallenge, ticket.Challenge),
	}, nil
}

func (s *Server) postLogoutTarget(postLogout, state string) string {
	if postLogout == "" {
		return s.config.Endpoints.LoggedOut
	}
	if state == "" {
		return postLogout
	}
	sep := "?"
	if strings.Contains(postLogout, "?") {
		sep = "&"
	}
	return postLogout + sep + "state=" + url.QueryEscape(state)
}

// ==================== Interaction ====================

// InteractionContext serves the screen context for an interaction request.
func (s *Server) InteractionContext(ctx context.Context, r *http.Request) (*interaction.ContextResponse, error) {
	req, err := interaction.ParseContextRequest(r)
	if err != nil {
		return nil, mapInteractionError(err)
	}
	resp, err := s.dispatcher.HandleContext(ctx, req)
	if err != nil {
		return nil, mapInteractionError(err)
	}
	return resp, nil
}

// InteractionDecision applies an interaction decision and returns the
// redirect the user agent must follow.
func (s *Server) InteractionDecision(ctx context.Context, r *http.Request) (*interaction.DecisionResponse, error) {
	req, err := interaction.ParseDecisionRequest(r)
	if err != nil {
		return nil, mapInteractionError(err)
	}
	resp, err := s.dispatcher.HandleDecision(ctx, req)
	if err != nil {
		return nil, mapInteractionError(err)
	}
	return resp, nil
}

// mapInteractionError translates interaction sentinel errors into protocol
// errors.
func mapInteractionError(err error) error {
	var reqErr *interaction.RequestError
	switch {
	case errors.Is(err, interaction.ErrTicketExpired):
		return ErrAccessDenied("interaction ticket expired")
	case errors.Is(err, interaction.ErrChallengeNotFound):
		return ErrInvalidRequest("unknown or consumed challenge")
	case errors.Is(err, interaction.ErrUnknownKind):
		return ErrInvalidRequest("unknown interaction_type")
	case errors.As(err, &reqErr):
		return ErrInvalidRequest(reqErr.Reason)
	}
	return err
}

// ==================== Introspection / Revocation ====================

// Introspect authenticates the calling client and resolves the submitted
// token handle. Unknown handles yield an inactive response, not an error.
func (s *Server) Introspect(ctx context.Context, r *http.Request) (*IntrospectionResponse, error) {
	if _, err := s.authenticateClient(ctx, r); err != nil {
		return nil, err
	}

	handle := r.PostFormValue("token")
	if handle == "" {
		return nil, ErrInvalidRequest("token is required")
	}
	hint := r.PostFormValue("token_type_hint")

	resolved, err := s.resolver.Resolve(ctx, handle, hint)
	if errors.Is(err, token.ErrUnsupportedHint) {
		return nil, ErrUnsupportedTokenType(err.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	resp := s.introspectionResponse(resolved)
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordTokenIntrospection(ctx, hint, resp.Active)
	}
	return resp, nil
}

func (s *Server) introspectionResponse(resolved *token.Resolved) *IntrospectionResponse {
	switch {
	case resolved.AccessToken != nil:
		at := resolved.AccessToken
		if at.Revoked || security.IsExpired(at.ExpiresAt) {
			return &IntrospectionResponse{Active: false}
		}
		return &IntrospectionResponse{
			Active:    true,
			Scope:     strings.Join(at.Scopes, " "),
			ClientID:  at.ClientID,
			Subject:   at.UserID,
			TokenType: token.HintAccessToken,
			ExpiresAt: at.ExpiresAt.Unix(),
			IssuedAt:  at.IssuedAt.Unix(),
			Issuer:    s.config.Issuer,
		}
	case resolved.RefreshToken != nil:
		rt := resolved.RefreshToken
		if rt.Revoked || rt.IsExpired() || time.Now().Before(rt.ValidAfter) {
			return &IntrospectionResponse{Active: false}
		}
		return &IntrospectionResponse{
			Active:    true,
			Scope:     strings.Join(rt.Scopes, " "),
			ClientID:  rt.ClientID,
			Subject:   rt.UserID,
			TokenType: token.HintRefreshToken,
			ExpiresAt: rt.ExpiresAt.Unix(),
			IssuedAt:  rt.IssuedAt.Unix(),
			Issuer:    s.config.Issuer,
		}
	}
	return &IntrospectionResponse{Active: false}
}

// Revoke authenticates the calling client and revokes the submitted token if
// the client owns it. Unknown tokens succeed silently per RFC 7009.
func (s *Server) Revoke(ctx context.Context, r *http.Request) error {
	client, err := s.authenticateClient(ctx, r)
	if err != nil {
		return err
	}

	handle := r.PostFormValue("token")
	if handle == "" {
		return ErrInvalidRequest("token is required")
	}
	hint := r.PostFormValue("token_type_hint")

	resolved, err := s.resolver.Resolve(ctx, handle, hint)
	if errors.Is(err, token.ErrUnsupportedHint) {
		return ErrUnsupportedTokenType(err.Error())
	}
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	switch {
	case resolved.AccessToken != nil && resolved.AccessToken.ClientID == client.ID:
		at := resolved.AccessToken
		at.Revoked = true
		if err := s.store.SaveAccessToken(ctx, at); err != nil {
			return fmt.Errorf("save access token: %w", err)
		}
		s.recordRevocation(ctx, client.ID, at.UserID, token.HintAccessToken)
	case resolved.RefreshToken != nil && resolved.RefreshToken.ClientID == client.ID:
		rt := resolved.RefreshToken
		rt.Revoked = true
		if err := s.store.SaveRefreshToken(ctx, rt); err != nil {
			return fmt.Errorf("save refresh token: %w", err)
		}
		s.recordRevocation(ctx, client.ID, rt.UserID, token.HintRefreshToken)
	}

	return nil
}

func (s *Server) recordRevocation(ctx context.Context, clientID, userID, tokenType string) {
	if s.auditor != nil {
		s.auditor.LogTokenRevoked(userID, clientID, "", tokenType)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordTokenRevocation(ctx, clientID)
	}
}

// authenticateClient runs the pluggable authentication chain and maps its
// sentinel errors to protocol errors.
func (s *Server) authenticateClient(ctx context.Context, r *http.Request) (*storage.Client, error) {
	client, err := s.authenticator.Authenticate(ctx, r)
	if err == nil {
		return client, nil
	}
	switch {
	case errors.Is(err, clientauth.ErrNoAuthenticationMethod),
		errors.Is(err, clientauth.ErrMultipleAuthenticationMethods):
		return nil, ErrInvalidRequest(err.Error())
	case errors.Is(err, clientauth.ErrInvalidCredentials):
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", "", err.Error())
		}
		return nil, ErrInvalidClient("client authentication failed")
	}
	return nil, err
}

// authorizeRegistrationAccess runs the bearer authorization chain and checks
// that the token is a registration access token for the given client.
func (s *Server) authorizeRegistrationAccess(ctx context.Context, r *http.Request, clientID string) error {
	tok, err := s.authorizer.Authorize(ctx, r)
	if err != nil {
		switch {
		case errors.Is(err, clientauth.ErrNoAuthorizationMethod),
			errors.Is(err, clientauth.ErrMultipleAuthorizationMethods):
			return ErrInvalidRequest(err.Error())
		case errors.Is(err, clientauth.ErrInvalidToken):
			return ErrInvalidToken("invalid registration access token")
		}
		return err
	}
	if !containsString(tok.Scopes, registrationScope) {
		return ErrInsufficientScope("registration scope required")
	}
	if tok.ClientID != clientID {
		return ErrInvalidToken("registration access token does not match client")
	}
	return nil
}

// ==================== Registration ====================

// RegisterClient validates the metadata and creates the client.
func (s *Server) RegisterClient(ctx context.Context, req *registration.Request, clientIP string) (*RegistrationResponse, error) {
	if s.regLimiter != nil && clientIP != "" && !s.regLimiter.Allow(clientIP) {
		if s.auditor != nil {
			s.auditor.LogRateLimitExceeded(clientIP, "register")
		}
		return nil, NewOAuthError(ErrorCodeRateLimitExceeded, "too many registration requests", http.StatusTooManyRequests)
	}

	meta, err := s.validator.Validate(req)
	if err != nil {
		var metaErr *registration.MetadataError
		if errors.As(err, &metaErr) {
			if s.auditor != nil {
				s.auditor.LogClientRegistrationRejected(clientIP, metaErr.Description)
			}
			if s.inst != nil && s.inst.Metrics() != nil {
				s.inst.Metrics().RecordRegistrationRejected(ctx)
			}
			return nil, ErrInvalidClientMetadata(metaErr.Description)
		}
		return nil, err
	}

	client := &storage.Client{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	applyMetadata(client, meta)

	var plainSecret string
	if methodRequiresSecret(meta.TokenEndpointAuthMethod) {
		plainSecret = security.GenerateClientSecret()
		hash, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash client secret: %w", err)
		}
		client.SecretHash = string(hash)
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}

	regToken := &storage.AccessToken{
		Handle:   security.GenerateTokenHandle(),
		ClientID: client.ID,
		Scopes:   []string{registrationScope},
		IssuedAt: client.CreatedAt,
	}
	if err := s.store.SaveAccessToken(ctx, regToken); err != nil {
		return nil, fmt.Errorf("save registration access token: %w", err)
	}

	if s.auditor != nil {
		s.auditor.LogClientRegistered(client.ID, client.ApplicationType, clientIP)
	}
	if s.inst != nil && s.inst.Metrics() != nil {
		s.inst.Metrics().RecordClientRegistration(ctx, client.ApplicationType)
	}
	s.logger.Info("client registered",
		"client_id", client.ID,
		"application_type", client.ApplicationType)

	resp := s.registrationResponse(client)
	resp.ClientSecret = plainSecret
	resp.RegistrationAccessToken = regToken.Handle
	resp.RegistrationClientURI = s.config.Issuer + "/oauth/register/" + client.ID
	return resp, nil
}

// GetClientRegistration returns the registered metadata for a client.
func (s *Server) GetClientRegistration(ctx context.Context, r *http.Request, clientID string) (*RegistrationResponse, error) {
	if err := s.authorizeRegistrationAccess(ctx, r, clientID); err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidClient("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	return s.registrationResponse(client), nil
}

// UpdateClientRegistration revalidates and replaces the client's metadata.
// The client id and secret are preserved.
func (s *Server) UpdateClientRegistration(ctx context.Context, r *http.Request, clientID string, req *registration.Request) (*RegistrationResponse, error) {
	if err := s.authorizeRegistrationAccess(ctx, r, clientID); err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidClient("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	meta, err := s.validator.Validate(req)
	if err != nil {
		var metaErr *registration.MetadataError
		if errors.As(err, &metaErr) {
			return nil, ErrInvalidClientMetadata(metaErr.Description)
		}
		return nil, err
	}

	applyMetadata(client, meta)
	if err := s.store.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}
	return s.registrationResponse(client), nil
}

// DeleteClientRegistration removes the client registration.
func (s *Server) DeleteClientRegistration(ctx context.Context, r *http.Request, clientID string) error {
	if err := s.authorizeRegistrationAccess(ctx, r, clientID); err != nil {
		return err
	}
	if err := s.store.DeleteClient(ctx, clientID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

func (s *Server) registrationResponse(client *storage.Client) *RegistrationResponse {
	return &RegistrationResponse{
		ClientID:                         client.ID,
		ClientIDIssuedAt:                 client.CreatedAt.Unix(),
		ClientSecretExpiresAt:            secretExpiry(client),
		RedirectURIs:                     client.RedirectURIs,
		ResponseTypes:                    client.ResponseTypes,
		GrantTypes:                       client.GrantTypes,
		ApplicationType:                  client.ApplicationType,
		ClientName:                       client.Name,
		Scope:                            strings.Join(client.Scopes, " "),
		TokenEndpointAuthMethod:          client.TokenEndpointAuthMethod,
		SubjectType:                      client.SubjectType,
		IDTokenSignedResponseAlg:         client.IDTokenSignedResponseAlg,
		BackchannelLogoutURI:             client.BackchannelLogoutURI,
		BackchannelLogoutSessionRequired: client.BackchannelLogoutSessionRequired,
		PostLogoutRedirectURIs:           client.PostLogoutRedirectURIs,
	}
}

func secretExpiry(client *storage.Client) int64 {
	if client.SecretExpiresAt.IsZero() {
		return 0
	}
	return client.SecretExpiresAt.Unix()
}

// Metadata returns the RFC 8414 authorization server metadata document.
func (s *Server) Metadata() *ServerMetadata {
	return &ServerMetadata{
		Issuer:                            s.config.Issuer,
		AuthorizationEndpoint:             s.config.Endpoints.Authorization,
		RegistrationEndpoint:              s.config.Issuer + "/oauth/register",
		IntrospectionEndpoint:             s.config.Issuer + "/oauth/introspect",
		RevocationEndpoint:                s.config.Issuer + "/oauth/revoke",
		EndSessionEndpoint:                s.config.Endpoints.EndSession,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "implicit", "refresh_token"},
		SubjectTypesSupported:             []string{"public", "pairwise"},
		TokenEndpointAuthMethodsSupported: s.config.Negotiation.AuthMethods,
		IDTokenSigningAlgValuesSupported:  s.config.Negotiation.SigningAlgs,
		AuthorizationSigningAlgValuesSupported:    s.config.Negotiation.SigningAlgs,
		AuthorizationEncryptionAlgValuesSupported: s.config.Negotiation.KeyWrapAlgs,
		AuthorizationEncryptionEncValuesSupported: s.config.Negotiation.ContentEncAlgs,
		BackchannelLogoutSupported:                s.config.Logout.BackchannelEnabled,
		BackchannelLogoutSessionSupported:         s.config.Logout.BackchannelSessionSupported,
	}
}

// ==================== helpers ====================

// applyMetadata copies validated registration metadata onto a client record.
func applyMetadata(client *storage.Client, meta *registration.Metadata) {
	client.Name = meta.ClientName
	client.ApplicationType = meta.ApplicationType
	client.RedirectURIs = meta.RedirectURIs
	client.ResponseTypes = meta.ResponseTypes
	client.GrantTypes = meta.GrantTypes
	client.Scopes = meta.Scopes
	client.TokenEndpointAuthMethod = meta.TokenEndpointAuthMethod
	client.TokenEndpointAuthSigningAlg = meta.TokenEndpointAuthSigningAlg
	client.JWKS = meta.JWKS
	client.JWKSURI = meta.JWKSURI
	client.SubjectType = meta.SubjectType
	client.SectorIdentifierURI = meta.SectorIdentifierURI
	client.RequireAuthTime = meta.RequireAuthTime
	client.IDTokenSignedResponseAlg = meta.IDTokenSignedResponseAlg
	client.IDTokenEncryptedResponseAlg = meta.IDTokenEncryptedResponseAlg
	client.IDTokenEncryptedResponseEnc = meta.IDTokenEncryptedResponseEnc
	client.UserinfoSignedResponseAlg = meta.UserinfoSignedResponseAlg
	client.UserinfoEncryptedResponseAlg = meta.UserinfoEncryptedResponseAlg
	client.UserinfoEncryptedResponseEnc = meta.UserinfoEncryptedResponseEnc
	client.AuthorizationSignedResponseAlg = meta.AuthorizationSignedResponseAlg
	client.AuthorizationEncryptedResponseAlg = meta.AuthorizationEncryptedResponseAlg
	client.AuthorizationEncryptedResponseEnc = meta.AuthorizationEncryptedResponseEnc
	client.BackchannelLogoutURI = meta.BackchannelLogoutURI
	client.BackchannelLogoutSessionRequired = meta.BackchannelLogoutSessionRequired
	client.PostLogoutRedirectURIs = meta.PostLogoutRedirectURIs
}

func methodRequiresSecret(method string) bool {
	switch method {
	case "client_secret_basic", "client_secret_post", "client_secret_jwt":
		return true
	}
	return false
}

// ensureSession loads the session or creates a fresh one.
func (s *Server) ensureSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	if sessionID != "" {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load session: %w", err)
		}
	}
	sess := &storage.Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

func (s *Server) interactionURL(kind, challengeParam, challenge string) string {
	values := url.Values{
		"interaction_type": {kind},
		challengeParam:     {challenge},
	}
	return s.config.Endpoints.Interaction + "?" + values.Encode()
}

func uriRegistered(registered []string, uri string) bool {
	normalized := util.NormalizeURL(uri)
	for _, candidate := range registered {
		if util.NormalizeURL(candidate) == normalized {
			return true
		}
	}
	return false
}

func cloneValues(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
