package audit

import (
	"context"
	"errors"

	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/log"
)

// Actions recorded in the audit trail.
const (
	ActionLogin        = "login"
	ActionSignUp       = "sign_up"
	ActionLogout       = "logout"
	ActionLogoutUser   = "logout_user"
	ActionRevokeClient = "revoke_client_token"
)

// Event is one security-relevant action.
type Event struct {
	TenantID string
	Action   string
	UserID   string
	ClientID string
	Revoked  int64
	Success  bool
	Err      error
}

// Trail writes audit events as structured log entries tagged audit=true so
// they can be routed apart from operational logs.
type Trail struct {
	logger log.Logger
}

func New(logger log.Logger) *Trail {
	return &Trail{logger: logger.With(log.Fields{"audit": true})}
}

// Log records e. Failures are logged at warn level without the error value
// so credentials echoed in error text never reach the trail.
func (t *Trail) Log(ctx context.Context, e Event) {
	fields := log.Fields{
		"tenant_id": e.TenantID,
		"action":    e.Action,
		"success":   e.Success,
	}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.ClientID != "" {
		fields["client_id"] = e.ClientID
	}
	if e.Revoked > 0 {
		fields["revoked"] = e.Revoked
	}

	if !e.Success {
		if code, ok := errorCode(e.Err); ok {
			fields["error"] = code
		}
		t.logger.Warn(ctx, "Audit event", fields)
		return
	}
	t.logger.Info(ctx, "Audit event", fields)
}

func errorCode(err error) (string, bool) {
	var oauthErr *serrors.OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr.Code, true
	}
	return "", false
}
