package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/cache"
	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/audit"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

// LogoutRequest names the session by refresh token or by SSO cookie value.
// Universal ends every session of the token's user.
type LogoutRequest struct {
	RefreshToken string
	SsoToken     string
	Universal    bool
}

// RevocationFlow invalidates sessions and records their fingerprints so the
// access tokens bound to them are rejected until they expire.
type RevocationFlow struct {
	*core
}

// Logout ends one session, or all of the user's sessions when req.Universal
// is set. Logging out an unknown or already inactive session succeeds.
func (f *RevocationFlow) Logout(ctx context.Context, tenant *domain.Tenant, req LogoutRequest) (int64, error) {
	ctx, span := tracing.Tracer.Start(ctx, "RevocationFlow.Logout")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.Bool("universal", req.Universal))

	rt, err := f.lookupSession(ctx, tenant, req)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if req.Universal {
		if rt == nil || !rt.Usable(f.now()) {
			return 0, serrors.NewUnauthorized("Invalid refresh token")
		}
		return f.LogoutUser(ctx, tenant, rt.UserID, "")
	}

	if rt == nil || !rt.IsActive {
		return 0, nil
	}

	if err := f.record(ctx, tenant, []string{rt.Token}); err != nil {
		return 0, err
	}

	storeCtx, cancel := f.bounded(ctx)
	changed, err := f.tokens.InvalidateRefreshToken(storeCtx, tenant.ID, rt.Token)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to invalidate refresh token", err, log.Fields{
			"tenant_id": tenant.ID,
			"rft_id":    cache.Fingerprint(rt.Token),
		})
		return 0, serrors.NewServerError("Unable to revoke session, retry")
	}

	metrics.LogoutsTotal.WithLabelValues("single").Inc()
	var revoked int64
	if changed {
		revoked = 1
	}
	f.audit.Log(ctx, audit.Event{
		TenantID: tenant.ID,
		Action:   audit.ActionLogout,
		UserID:   rt.UserID,
		ClientID: rt.ClientID,
		Revoked:  revoked,
		Success:  true,
	})
	return revoked, nil
}

func (f *RevocationFlow) lookupSession(ctx context.Context, tenant *domain.Tenant, req LogoutRequest) (*domain.RefreshToken, error) {
	storeCtx, cancel := f.bounded(ctx)
	defer cancel()

	var (
		rt  *domain.RefreshToken
		err error
	)
	switch {
	case req.RefreshToken != "":
		rt, err = f.tokens.GetRefreshToken(storeCtx, tenant.ID, req.RefreshToken)
	case req.SsoToken != "":
		rt, err = f.tokens.GetRefreshTokenBySsoToken(storeCtx, tenant.ID, req.SsoToken)
	default:
		return nil, serrors.NewInvalidRequest("refresh_token or sso token is required")
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		f.logger.Error(ctx, "Session lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to load session")
	}
	return rt, nil
}

// LogoutUser ends every active session of userID. A non-empty clientID limits
// the logout to that client's sessions. It returns the number of sessions
// invalidated.
func (f *RevocationFlow) LogoutUser(ctx context.Context, tenant *domain.Tenant, userID, clientID string) (int64, error) {
	ctx, span := tracing.Tracer.Start(ctx, "RevocationFlow.LogoutUser")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.String("client.id", clientID))

	if userID == "" {
		return 0, serrors.NewInvalidRequest("user_id is required")
	}

	storeCtx, cancel := f.bounded(ctx)
	active, err := f.tokens.ListActiveRefreshTokens(storeCtx, tenant.ID, userID, clientID)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to list sessions", err, log.Fields{"tenant_id": tenant.ID, "user_id": userID})
		return 0, serrors.NewServerError("Unable to load sessions")
	}
	if len(active) == 0 {
		return 0, nil
	}

	tokens := make([]string, 0, len(active))
	for _, rt := range active {
		tokens = append(tokens, rt.Token)
	}

	// Fingerprints go in first so a failed invalidation can be retried
	// without leaving a usable access token unrecorded.
	if err := f.record(ctx, tenant, tokens); err != nil {
		return 0, err
	}

	storeCtx, cancel = f.bounded(ctx)
	changed, err := f.tokens.InvalidateRefreshTokens(storeCtx, tenant.ID, tokens)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to invalidate sessions", err, log.Fields{"tenant_id": tenant.ID, "user_id": userID})
		return 0, serrors.NewServerError("Unable to revoke sessions, retry")
	}

	kind := "universal"
	if clientID != "" {
		kind = "client"
	}
	metrics.LogoutsTotal.WithLabelValues(kind).Inc()

	f.audit.Log(ctx, audit.Event{
		TenantID: tenant.ID,
		Action:   audit.ActionLogoutUser,
		UserID:   userID,
		ClientID: clientID,
		Revoked:  changed,
		Success:  true,
	})
	return changed, nil
}

// RevokeClientToken revokes a refresh token on behalf of the client that holds
// it. Tokens that are unknown, inactive or owned by another client are ignored.
func (f *RevocationFlow) RevokeClientToken(ctx context.Context, tenant *domain.Tenant, creds ClientCredentials, token string) error {
	ctx, span := tracing.Tracer.Start(ctx, "RevocationFlow.RevokeClientToken")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	client, err := f.auth.Authenticate(ctx, tenant, creds)
	if err != nil {
		return err
	}
	if token == "" {
		return serrors.NewInvalidRequest("token is required")
	}

	storeCtx, cancel := f.bounded(ctx)
	changed, err := f.tokens.InvalidateClientRefreshToken(storeCtx, tenant.ID, client.ID, token)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to revoke token", err, log.Fields{"tenant_id": tenant.ID, "client_id": client.ID})
		return serrors.NewServerError("Unable to revoke token")
	}
	if !changed {
		return nil
	}

	metrics.LogoutsTotal.WithLabelValues("client_revoke").Inc()
	if err := f.record(ctx, tenant, []string{token}); err != nil {
		return err
	}
	f.audit.Log(ctx, audit.Event{TenantID: tenant.ID, Action: audit.ActionRevokeClient, ClientID: client.ID, Revoked: 1, Success: true})
	return nil
}

// record adds the fingerprints of tokens to the revocation set, pruning
// entries older than one access token lifetime.
func (f *RevocationFlow) record(ctx context.Context, tenant *domain.Tenant, tokens []string) error {
	fingerprints := cache.Fingerprints(tokens)

	storeCtx, cancel := f.bounded(ctx)
	err := f.revocations.Record(storeCtx, tenant.ID, fingerprints, f.now(), tenant.AccessTokenExpiry)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to record revoked fingerprints", err, log.Fields{
			"tenant_id": tenant.ID,
			"count":     len(fingerprints),
		})
		return serrors.NewServerError("Unable to revoke session, retry")
	}

	metrics.RevokedTokensTotal.Add(float64(len(fingerprints)))
	return nil
}
