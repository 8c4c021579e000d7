// Package interaction implements the server side of the login, consent, and
// logout interaction screens. Each interaction kind answers two questions:
// whether the front-end may skip showing its screen (HandleContext) and what
// to do with the user's accept/deny decision (HandleDecision). Kinds form a
// closed set dispatched through an explicit table.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Interaction kinds
const (
	KindLogin   = "login"
	KindConsent = "consent"
	KindLogout  = "logout"
)

// Decisions
const (
	DecisionAccept = "accept"
	DecisionDeny   = "deny"
)

// Challenge parameter names, one per kind
const (
	ParamLoginChallenge   = "login_challenge"
	ParamConsentChallenge = "consent_challenge"
	ParamLogoutChallenge  = "logout_challenge"
)

// Sentinel errors surfaced to the transport layer for protocol error mapping
var (
	// ErrTicketExpired reports a grant or logout ticket whose expiry has
	// passed; the ticket has already been deleted when this is returned
	ErrTicketExpired = errors.New("interaction: ticket expired")

	// ErrChallengeNotFound reports an unknown or already-consumed challenge
	ErrChallengeNotFound = errors.New("interaction: challenge not found")

	// ErrUnknownKind reports an interaction_type outside login/consent/logout
	ErrUnknownKind = errors.New("interaction: unknown interaction type")
)

// RequestError reports a malformed interaction request. The transport layer
// maps it to an invalid_request protocol error.
type RequestError struct {
	Reason string
}

// Error implements the error interface
func (e *RequestError) Error() string {
	return "interaction: " + e.Reason
}

func requestErrf(format string, args ...any) error {
	return &RequestError{Reason: fmt.Sprintf(format, args...)}
}

// ContextRequest identifies the interaction whose screen context is requested.
type ContextRequest struct {
	Kind      string
	Challenge string
}

// DecisionRequest carries an accept or deny decision for an interaction.
// UserID/AMR/ACR apply to login-accept, GrantedScopes to consent-accept,
// SessionID/LogoutType to logout-accept, Error/ErrorDescription to deny.
type DecisionRequest struct {
	Kind      string
	Challenge string
	Decision  string

	UserID string
	AMR    []string
	ACR    string

	GrantedScopes []string

	SessionID  string
	LogoutType string

	Error            string
	ErrorDescription string
}

// ScreenContext carries the hints the front-end needs to render a screen.
type ScreenContext struct {
	LoginHint       string   `json:"login_hint,omitempty"`
	LogoutHint      string   `json:"logout_hint,omitempty"`
	UILocales       []string `json:"ui_locales,omitempty"`
	RequestedScopes []string `json:"requested_scopes,omitempty"`
}

// ContextResponse tells the front-end whether to show the screen and with
// what data. RequestURL is the canonical URL to resubmit the original
// protocol request.
type ContextResponse struct {
	Skip       bool          `json:"skip"`
	RequestURL string        `json:"request_url"`
	Client     string        `json:"client"`
	Context    ScreenContext `json:"context"`
}

// DecisionResponse carries the single URL the user agent must be sent to.
type DecisionResponse struct {
	RedirectTo string `json:"redirect_to"`
}

// Type is one interaction kind's state machine.
type Type interface {
	// Kind returns the interaction kind this type handles
	Kind() string

	// HandleContext resolves the ticket and decides whether the screen
	// may be skipped
	HandleContext(ctx context.Context, req *ContextRequest) (*ContextResponse, error)

	// HandleDecision applies an accept or deny and computes the redirect
	HandleDecision(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error)
}

// Endpoints holds the server URLs interaction redirects are built against.
type Endpoints struct {
	// Authorization is the authorization endpoint URL
	Authorization string

	// EndSession is the end-session endpoint URL
	EndSession string

	// Error is the generic error page URL deny decisions redirect to
	Error string
}

// Dispatcher routes interaction requests to the kind's state machine.
type Dispatcher struct {
	types map[string]Type
}

// NewDispatcher builds the closed dispatch table over the given kinds.
func NewDispatcher(kinds ...Type) *Dispatcher {
	table := make(map[string]Type, len(kinds))
	for _, t := range kinds {
		table[t.Kind()] = t
	}
	return &Dispatcher{types: table}
}

// HandleContext dispatches a context request to its kind
func (d *Dispatcher) HandleContext(ctx context.Context, req *ContextRequest) (*ContextResponse, error) {
	t, ok := d.types[req.Kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	return t.HandleContext(ctx, req)
}

// HandleDecision dispatches a decision request to its kind
func (d *Dispatcher) HandleDecision(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	t, ok := d.types[req.Kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	return t.HandleDecision(ctx, req)
}

// challengeParam returns the challenge parameter name for a kind.
func challengeParam(kind string) (string, bool) {
	switch kind {
	case KindLogin:
		return ParamLoginChallenge, true
	case KindConsent:
		return ParamConsentChallenge, true
	case KindLogout:
		return ParamLogoutChallenge, true
	}
	return "", false
}

// ParseContextRequest validates the raw parameters of a context request.
func ParseContextRequest(r *http.Request) (*ContextRequest, error) {
	kind := r.FormValue("interaction_type")
	if kind == "" {
		return nil, requestErrf("interaction_type is required")
	}
	param, ok := challengeParam(kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	challenge := r.FormValue(param)
	if challenge == "" {
		return nil, requestErrf("%s is required", param)
	}
	return &ContextRequest{Kind: kind, Challenge: challenge}, nil
}

// ParseDecisionRequest validates the raw parameters of a decision request.
func ParseDecisionRequest(r *http.Request) (*DecisionRequest, error) {
	kind := r.FormValue("interaction_type")
	if kind == "" {
		return nil, requestErrf("interaction_type is required")
	}
	param, ok := challengeParam(kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	challenge := r.FormValue(param)
	if challenge == "" {
		return nil, requestErrf("%s is required", param)
	}

	decision := r.FormValue("decision")
	switch decision {
	case DecisionAccept, DecisionDeny:
	case "":
		return nil, requestErrf("decision is required")
	default:
		return nil, requestErrf("decision must be %q or %q", DecisionAccept, DecisionDeny)
	}

	req := &DecisionRequest{
		Kind:             kind,
		Challenge:        challenge,
		Decision:         decision,
		Error:            r.FormValue("error"),
		ErrorDescription: r.FormValue("error_description"),
	}

	if decision == DecisionAccept {
		switch kind {
		case KindLogin:
			req.UserID = r.FormValue("user_id")
			if req.UserID == "" {
				return nil, requestErrf("user_id is required for login accept")
			}
			req.AMR = splitSpace(r.FormValue("amr"))
			req.ACR = r.FormValue("acr")
		case KindConsent:
			req.GrantedScopes = splitSpace(r.FormValue("granted_scopes"))
		case KindLogout:
			req.SessionID = r.FormValue("session_id")
			if req.SessionID == "" {
				return nil, requestErrf("session_id is required for logout accept")
			}
			req.LogoutType = r.FormValue("logout_type")
		}
	}

	return req, nil
}

func splitSpace(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

// requestURL rebuilds the canonical protocol request URL from the stored
// request parameters.
func requestURL(endpoint string, params map[string][]string) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + url.Values(params).Encode()
}

// errorRedirect builds the deny redirect carrying the supplied error values.
func errorRedirect(endpoint, code, description string) string {
	if code == "" {
		code = "access_denied"
	}
	values := url.Values{"error": {code}}
	if description != "" {
		values.Set("error_description", description)
	}
	return endpoint + "?" + values.Encode()
}

// firstParam returns the first value of a stored request parameter.
func firstParam(params map[string][]string, key string) string {
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
