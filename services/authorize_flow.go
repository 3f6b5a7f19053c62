package services

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

var (
	base64URLPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	safeParamPattern = regexp.MustCompile(`^[A-Za-z0-9@._-]+$`)
)

var supportedPrompts = []string{"login", "consent", "none", "select_account"}

// AuthorizeRequest holds the parameters of an /authorize call.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	LoginHint           string
}

// Validate checks the request shape. Its errors are never redirected because
// the redirect URI has not been checked against the client yet.
func (r *AuthorizeRequest) Validate() error {
	if r.ResponseType == "" {
		return serrors.NewInvalidRequest("response_type is required")
	}
	if r.ClientID == "" {
		return serrors.NewInvalidRequest("client_id is required")
	}
	if len(ParseScope(r.Scope)) == 0 {
		return serrors.NewInvalidRequest("scope is required")
	}
	if r.RedirectURI == "" {
		return serrors.NewInvalidRequest("redirect_uri is required")
	}
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return serrors.NewInvalidRequest("redirect_uri is malformed")
	}
	if !u.IsAbs() || u.Fragment != "" {
		return serrors.NewInvalidRequest("redirect_uri must be absolute without fragment")
	}

	if (r.CodeChallenge == "") != (r.CodeChallengeMethod == "") {
		return serrors.NewInvalidRequest("code_challenge and code_challenge_method must be provided together")
	}
	if r.CodeChallenge != "" {
		method, ok := NormalizePKCEMethod(r.CodeChallengeMethod)
		if !ok {
			return serrors.NewInvalidRequest("Unsupported code_challenge_method: '" + r.CodeChallengeMethod + "'")
		}
		r.CodeChallengeMethod = method
		if !base64URLPattern.MatchString(r.CodeChallenge) {
			return serrors.NewInvalidRequest("code_challenge must contain only base64url characters (A-Z, a-z, 0-9, -, _)")
		}
		if len(r.CodeChallenge) < 43 || len(r.CodeChallenge) > 128 {
			return serrors.NewInvalidRequest("code_challenge must be between 43 and 128 characters")
		}
	}

	if r.Prompt != "" && !slices.Contains(supportedPrompts, r.Prompt) {
		return serrors.NewInvalidRequest("Unsupported prompt: '" + r.Prompt + "'")
	}

	for name, v := range map[string]string{"state": r.State, "nonce": r.Nonce, "login_hint": r.LoginHint} {
		if v != "" && !safeParamPattern.MatchString(v) {
			return serrors.NewInvalidRequest(name + " contains invalid characters. Only alphanumeric, @, ., _, and - are allowed")
		}
	}
	return nil
}

// AuthorizeResult sends the user agent to the tenant's login page.
type AuthorizeResult struct {
	LoginChallenge string
	LoginPageURI   string
	State          string
	Prompt         string
	LoginHint      string
}

// AuthorizeFlow validates /authorize requests and opens a login challenge.
type AuthorizeFlow struct {
	*core
}

func (f *AuthorizeFlow) Authorize(ctx context.Context, tenant *domain.Tenant, req AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AuthorizeFlow.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.String("client.id", req.ClientID))

	res, err := f.authorize(ctx, tenant, req)
	if err != nil {
		metrics.AuthorizeRequestsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, err
	}
	metrics.AuthorizeRequestsTotal.WithLabelValues("login").Inc()
	return res, nil
}

func (f *AuthorizeFlow) authorize(ctx context.Context, tenant *domain.Tenant, req AuthorizeRequest) (*AuthorizeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	storeCtx, cancel := f.bounded(ctx)
	client, err := f.clients.GetClient(storeCtx, tenant.ID, req.ClientID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidClient("Client not found", "")
		}
		f.logger.Error(ctx, "Client lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": req.ClientID})
		return nil, serrors.NewServerError("Unable to load client")
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, serrors.NewInvalidRedirectURI("redirect_uri is not registered for the client")
	}

	// From here on errors go back to the client's redirect URI.
	if !client.HasResponseType(req.ResponseType) {
		return nil, serrors.NewUnsupportedResponseType("Unsupported response_type: '"+req.ResponseType+"'").
			WithRedirect(req.RedirectURI, req.State)
	}

	requested := ParseScope(req.Scope)
	if !slices.Contains(requested, ScopeOpenID) {
		return nil, serrors.NewInvalidScope("scope must contain 'openid'").WithRedirect(req.RedirectURI, req.State)
	}

	storeCtx, cancel = f.bounded(ctx)
	clientScopes, err := f.clients.GetClientScopes(storeCtx, tenant.ID, client.ID)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Client scope lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": client.ID})
		return nil, serrors.NewServerError("Unable to load client scopes")
	}

	session := domain.AuthorizeSession{
		ResponseType:        req.ResponseType,
		Client:              *client,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Prompt:              req.Prompt,
		LoginHint:           req.LoginHint,
		AllowedScopes:       IntersectScopes(requested, clientScopes),
	}

	challenge := uuid.NewString()

	storeCtx, cancel = f.bounded(ctx)
	err = f.challenges.SaveSession(storeCtx, domain.PurposeLogin, tenant.ID, challenge, session, tenant.AuthorizeTTL)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Failed to save authorize session", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to start authorization")
	}

	f.logger.Debug(ctx, "Login challenge created", log.Fields{"tenant_id": tenant.ID, "client_id": client.ID})

	return &AuthorizeResult{
		LoginChallenge: challenge,
		LoginPageURI:   tenant.LoginPageURI,
		State:          req.State,
		Prompt:         req.Prompt,
		LoginHint:      req.LoginHint,
	}, nil
}
