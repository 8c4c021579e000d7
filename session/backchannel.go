package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/oidc/instrumentation"
	"github.com/veridian-id/oidc/security"
	"github.com/veridian-id/oidc/storage"
	"github.com/veridian-id/oidc/token"
)

// backchannelLogoutEvent is the OIDC Back-Channel Logout event claim key.
const backchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// BackchannelNotifier delivers OIDC Back-Channel Logout tokens to relying
// parties. Every notification is fire-and-forget: delivery runs under a
// bounded timeout, failures are logged and audited but never propagated, and
// there are no retries.
type BackchannelNotifier struct {
	negotiator *token.Negotiator
	httpClient *http.Client
	timeout    time.Duration
	tokenTTL   time.Duration
	logger     *slog.Logger
	auditor    *security.Auditor
	inst       *instrumentation.Instrumentation
}

// NewBackchannelNotifier creates a back-channel logout notifier
func NewBackchannelNotifier(negotiator *token.Negotiator, httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *BackchannelNotifier {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackchannelNotifier{
		negotiator: negotiator,
		httpClient: httpClient,
		timeout:    timeout,
		tokenTTL:   2 * time.Minute,
		logger:     logger,
	}
}

// SetAuditor attaches a security auditor
func (n *BackchannelNotifier) SetAuditor(a *security.Auditor) {
	n.auditor = a
}

// SetInstrumentation attaches OpenTelemetry instrumentation
func (n *BackchannelNotifier) SetInstrumentation(inst *instrumentation.Instrumentation) {
	n.inst = inst
}

// Notify sends a logout token for the terminated login to the client's
// backchannel_logout_uri. Clients without a registered URI are skipped.
// Notify never returns an error: a failed or timed-out delivery is recorded
// and swallowed so one unreachable client does not block the others.
func (n *BackchannelNotifier) Notify(ctx context.Context, client *storage.Client, login *storage.Login, sess *storage.Session) {
	if client.BackchannelLogoutURI == "" {
		return
	}

	if n.inst != nil && n.inst.Metrics() != nil {
		n.inst.Metrics().RecordLogoutNotificationAttempt(ctx, client.ID)
	}

	claims := map[string]any{
		"sub": login.UserID,
		"jti": uuid.New().String(),
		"events": map[string]any{
			backchannelLogoutEvent: map[string]any{},
		},
	}
	if client.BackchannelLogoutSessionRequired && sess != nil {
		claims["sid"] = sess.ID
	}

	logoutToken, err := n.negotiator.ResponseToken(ctx, client, token.CategoryLogout, n.tokenTTL, claims)
	if err != nil {
		n.recordFailure(ctx, client, "build logout token", err)
		return
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	form := url.Values{"logout_token": {logoutToken}}
	req, err := http.NewRequestWithContext(deliveryCtx, http.MethodPost, client.BackchannelLogoutURI, strings.NewReader(form.Encode()))
	if err != nil {
		n.recordFailure(ctx, client, "build request", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.recordFailure(ctx, client, "deliver", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.recordFailure(ctx, client, "deliver", &deliveryStatusError{status: resp.StatusCode})
		return
	}

	n.logger.Debug("backchannel logout delivered",
		"client_id", client.ID, "login_id", login.ID)
}

func (n *BackchannelNotifier) recordFailure(ctx context.Context, client *storage.Client, stage string, err error) {
	n.logger.Warn("backchannel logout notification failed",
		"client_id", client.ID, "stage", stage, "error", err)
	if n.auditor != nil {
		n.auditor.LogBackchannelNotificationFailed(client.ID, err.Error())
	}
	if n.inst != nil && n.inst.Metrics() != nil {
		n.inst.Metrics().RecordLogoutNotificationFailure(ctx, client.ID)
	}
}

type deliveryStatusError struct {
	status int
}

func (e *deliveryStatusError) Error() string {
	return "unexpected status " + http.StatusText(e.status)
}
