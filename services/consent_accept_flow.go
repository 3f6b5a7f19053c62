package services

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

type ConsentAcceptRequest struct {
	RefreshToken     string
	ConsentChallenge string
	ConsentedScopes  []string
}

// ConsentAcceptFlow records the user's consent and issues the code.
type ConsentAcceptFlow struct {
	*core
}

func (f *ConsentAcceptFlow) Accept(ctx context.Context, tenant *domain.Tenant, req ConsentAcceptRequest) (*CodeResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ConsentAcceptFlow.Accept")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	rt, err := f.resolveUser(ctx, tenant, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	session, err := f.loadSession(ctx, tenant, domain.PurposeConsent, req.ConsentChallenge, "Invalid consent challenge")
	if err != nil {
		return nil, err
	}
	if session.UserID != rt.UserID {
		return nil, serrors.NewUnauthorized("Refresh token does not match session user")
	}

	storeCtx, cancel := f.bounded(ctx)
	previous, err := f.consents.GetConsentedScopes(storeCtx, tenant.ID, session.Client.ID, session.UserID)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Consent lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": session.Client.ID})
		return nil, serrors.NewServerError("Unable to load user consents")
	}

	granted := IntersectScopes(req.ConsentedScopes, session.AllowedScopes)
	all := IntersectScopes(UnionScopes(previous, granted), session.AllowedScopes)
	if !slices.Contains(all, ScopeOpenID) {
		return nil, serrors.NewInvalidRequest("consented scopes must contain 'openid'")
	}

	if delta := SubtractScopes(granted, previous); len(delta) > 0 {
		storeCtx, cancel := f.bounded(ctx)
		err := f.consents.SaveConsents(storeCtx, tenant.ID, session.Client.ID, session.UserID, delta)
		cancel()
		if err != nil {
			f.logger.Error(ctx, "Failed to save consents", err, log.Fields{"tenant_id": tenant.ID, "client_id": session.Client.ID})
			return nil, serrors.NewServerError("Unable to save user consents")
		}
	}

	code, err := f.issueCode(ctx, tenant, session.WithConsent(all))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	f.deleteChallenge(ctx, tenant, domain.PurposeConsent, req.ConsentChallenge)
	return code, nil
}

// ConsentClient is the part of a client shown on the consent screen.
type ConsentClient struct {
	ID   string `json:"client_id"`
	Name string `json:"client_name,omitempty"`
}

// ConsentInfo is what a consent UI needs to render a consent challenge.
type ConsentInfo struct {
	Client          ConsentClient `json:"client"`
	RequestedScopes []string      `json:"requested_scopes"`
	ConsentedScopes []string      `json:"consented_scopes"`
	Subject         string        `json:"subject"`
}

// Describe reports the client, the requested scopes, the scopes the user
// already granted and the subject of a pending consent challenge. The
// challenge is left in place.
func (f *ConsentAcceptFlow) Describe(ctx context.Context, tenant *domain.Tenant, challenge string) (*ConsentInfo, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ConsentAcceptFlow.Describe")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	session, err := f.loadSession(ctx, tenant, domain.PurposeConsent, challenge, "Invalid consent challenge")
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := f.bounded(ctx)
	consented, err := f.consents.GetConsentedScopes(storeCtx, tenant.ID, session.Client.ID, session.UserID)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Consent lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": session.Client.ID})
		return nil, serrors.NewServerError("Unable to load user consents")
	}
	if consented == nil {
		consented = []string{}
	}

	return &ConsentInfo{
		Client:          ConsentClient{ID: session.Client.ID, Name: session.Client.Name},
		RequestedScopes: slices.Clone(session.AllowedScopes),
		ConsentedScopes: consented,
		Subject:         session.UserID,
	}, nil
}

type ConsentRejectRequest struct {
	RefreshToken     string
	ConsentChallenge string
}

// Reject ends a consent challenge the user refused. The returned
// access_denied error carries the client's redirect URI and state.
func (f *ConsentAcceptFlow) Reject(ctx context.Context, tenant *domain.Tenant, req ConsentRejectRequest) (*serrors.OAuth2Error, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ConsentAcceptFlow.Reject")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	rt, err := f.resolveUser(ctx, tenant, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	session, err := f.loadSession(ctx, tenant, domain.PurposeConsent, req.ConsentChallenge, "Invalid consent challenge")
	if err != nil {
		return nil, err
	}
	if session.UserID != rt.UserID {
		return nil, serrors.NewUnauthorized("Refresh token does not match session user")
	}

	f.deleteChallenge(ctx, tenant, domain.PurposeConsent, req.ConsentChallenge)
	metrics.AuthorizeRequestsTotal.WithLabelValues("denied").Inc()

	return serrors.NewAccessDenied("The user denied the request").WithRedirect(session.RedirectURI, session.State), nil
}
