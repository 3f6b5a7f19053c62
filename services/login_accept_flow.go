package services

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

// CodeResult sends the user agent back to the client with a code.
type CodeResult struct {
	RedirectURI string
	State       string
	Code        string
}

// ConsentRequired sends the user agent to the tenant's consent page.
type ConsentRequired struct {
	ConsentPageURI   string
	ConsentChallenge string
	State            string
}

// LoginAcceptResult holds exactly one of Code or Consent.
type LoginAcceptResult struct {
	Code    *CodeResult
	Consent *ConsentRequired
}

type LoginAcceptRequest struct {
	RefreshToken   string
	LoginChallenge string
}

// LoginAcceptFlow binds an authenticated user to a login challenge.
type LoginAcceptFlow struct {
	*core
}

func (f *LoginAcceptFlow) Accept(ctx context.Context, tenant *domain.Tenant, req LoginAcceptRequest) (*LoginAcceptResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "LoginAcceptFlow.Accept")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	rt, err := f.resolveUser(ctx, tenant, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	session, err := f.loadSession(ctx, tenant, domain.PurposeLogin, req.LoginChallenge, "Invalid login challenge")
	if err != nil {
		return nil, err
	}
	bound := session.WithUser(rt.UserID)

	var result *LoginAcceptResult
	if bound.Client.SkipConsent {
		result, err = f.skipConsent(ctx, tenant, bound)
	} else {
		result, err = f.checkConsent(ctx, tenant, bound)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	f.deleteChallenge(ctx, tenant, domain.PurposeLogin, req.LoginChallenge)
	return result, nil
}

func (f *LoginAcceptFlow) checkConsent(ctx context.Context, tenant *domain.Tenant, session domain.AuthorizeSession) (*LoginAcceptResult, error) {
	storeCtx, cancel := f.bounded(ctx)
	previous, err := f.consents.GetConsentedScopes(storeCtx, tenant.ID, session.Client.ID, session.UserID)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Consent lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": session.Client.ID})
		return nil, serrors.NewServerError("Unable to load user consents")
	}

	if ContainsAllScopes(previous, session.AllowedScopes) {
		return f.skipConsent(ctx, tenant, session)
	}

	pending := session.WithConsent(IntersectScopes(session.AllowedScopes, previous))
	challenge := uuid.NewString()

	storeCtx, cancel = f.bounded(ctx)
	err = f.challenges.SaveSession(storeCtx, domain.PurposeConsent, tenant.ID, challenge, pending, tenant.AuthorizeTTL)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to save consent session", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to start consent")
	}

	metrics.AuthorizeRequestsTotal.WithLabelValues("consent").Inc()
	return &LoginAcceptResult{Consent: &ConsentRequired{
		ConsentPageURI:   tenant.ConsentPageURI,
		ConsentChallenge: challenge,
		State:            session.State,
	}}, nil
}

func (f *LoginAcceptFlow) skipConsent(ctx context.Context, tenant *domain.Tenant, session domain.AuthorizeSession) (*LoginAcceptResult, error) {
	code, err := f.issueCode(ctx, tenant, session.WithConsent(session.AllowedScopes))
	if err != nil {
		return nil, err
	}
	return &LoginAcceptResult{Code: code}, nil
}

// issueCode mints and stores an authorization code for a fully bound session.
func (c *core) issueCode(ctx context.Context, tenant *domain.Tenant, session domain.AuthorizeSession) (*CodeResult, error) {
	code, err := RandomAlphanumeric(CodeLength)
	if err != nil {
		c.logger.Error(ctx, "Failed to generate authorization code", err)
		return nil, serrors.NewServerError("Unable to issue authorization code")
	}

	storeCtx, cancel := c.bounded(ctx)
	err = c.challenges.SaveCode(storeCtx, tenant.ID, code, session.Code(), tenant.AuthorizeTTL)
	cancel()
	if err != nil {
		c.logger.Error(ctx, "Failed to save authorization code", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to issue authorization code")
	}

	metrics.CodesIssuedTotal.Inc()
	metrics.AuthorizeRequestsTotal.WithLabelValues("code").Inc()

	return &CodeResult{RedirectURI: session.RedirectURI, State: session.State, Code: code}, nil
}
