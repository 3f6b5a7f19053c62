package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"go.pilab.hu/idp/cache"
	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

// GrantType is the closed set of grants served by the token endpoint.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
)

// ParseGrantType returns unsupported_grant_type for anything outside the set.
func ParseGrantType(s string) (GrantType, error) {
	switch g := GrantType(s); g {
	case GrantAuthorizationCode, GrantClientCredentials, GrantRefreshToken:
		return g, nil
	default:
		return "", serrors.NewUnsupportedGrantType()
	}
}

// BearerTokenType is the token_type of every token response.
const BearerTokenType = "Bearer"

// TokenRequest carries the parameters of a token endpoint call. Fields not
// used by the grant are ignored.
type TokenRequest struct {
	GrantType    string
	Client       ClientCredentials
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	Device       domain.DeviceInfo
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenExchangeFlow implements the token endpoint.
type TokenExchangeFlow struct {
	*core
}

func (f *TokenExchangeFlow) Exchange(ctx context.Context, tenant *domain.Tenant, req TokenRequest) (*TokenResponse, error) {
	ctx, span := tracing.Tracer.Start(ctx, "TokenExchangeFlow.Exchange")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.String("grant_type", req.GrantType))

	label := req.GrantType
	if _, err := ParseGrantType(label); err != nil {
		label = "unsupported"
	}

	resp, err := f.exchange(ctx, tenant, req)
	if err != nil {
		code := serrors.ServerError
		var oauthErr *serrors.OAuth2Error
		if errors.As(err, &oauthErr) {
			code = oauthErr.Code
		}
		metrics.TokenErrorsTotal.WithLabelValues(label, code).Inc()
		span.RecordError(err)
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues(label).Inc()
	return resp, nil
}

func (f *TokenExchangeFlow) exchange(ctx context.Context, tenant *domain.Tenant, req TokenRequest) (*TokenResponse, error) {
	grant, err := ParseGrantType(req.GrantType)
	if err != nil {
		return nil, err
	}

	client, err := f.auth.AuthenticateForGrant(ctx, tenant, req.Client, grant)
	if err != nil {
		return nil, err
	}

	switch grant {
	case GrantAuthorizationCode:
		return f.authorizationCode(ctx, tenant, client, req)
	case GrantClientCredentials:
		return f.clientCredentials(ctx, tenant, client, req)
	case GrantRefreshToken:
		return f.refreshToken(ctx, tenant, client, req)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

func (f *TokenExchangeFlow) authorizationCode(ctx context.Context, tenant *domain.Tenant, client *domain.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, serrors.NewInvalidRequest("code is required")
	}

	// Consuming up front makes the code single use even when a later check
	// fails.
	storeCtx, cancel := f.bounded(ctx)
	code, err := f.challenges.ConsumeCode(storeCtx, tenant.ID, req.Code)
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			f.logger.Warn(ctx, "Code lookup failed", log.Fields{"tenant_id": tenant.ID, "error": err.Error()})
		}
		return nil, serrors.NewInvalidGrant("code is invalid")
	}

	if code.Client.ID != client.ID {
		return nil, serrors.NewInvalidGrant("code is invalid")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, serrors.NewInvalidGrant("redirect_uri is invalid")
	}
	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, serrors.NewInvalidGrant("code_verifier is required")
		}
		if !VerifyPKCE(code.CodeChallengeMethod, code.CodeChallenge, req.CodeVerifier) {
			return nil, serrors.NewInvalidGrant("code_verifier is invalid")
		}
	}

	user, err := f.fetchUser(ctx, tenant, code.UserID)
	if err != nil {
		return nil, err
	}

	now := f.now()
	refresh, err := RandomAlphanumeric(RefreshTokenLength)
	if err != nil {
		f.logger.Error(ctx, "Failed to generate refresh token", err)
		return nil, serrors.NewServerError("Unable to issue tokens")
	}

	claims, err := f.idTokenClaims(ctx, tenant, code.ConsentedScopes)
	if err != nil {
		return nil, err
	}

	access, id, err := f.signPair(ctx, tenant,
		AccessTokenParams{
			Subject:      user.ID,
			ClientID:     client.ID,
			Scopes:       code.ConsentedScopes,
			RefreshToken: refresh,
			User:         user,
			IssuedAt:     now,
		},
		IDTokenParams{
			User:     user,
			ClientID: client.ID,
			Nonce:    code.Nonce,
			Claims:   claims,
			IssuedAt: now,
		})
	if err != nil {
		return nil, err
	}

	record := &domain.RefreshToken{
		TenantID:  tenant.ID,
		ClientID:  client.ID,
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: now.Add(tenant.RefreshTokenExpiry),
		Scopes:    code.ConsentedScopes,
		IsActive:  true,
		Device:    req.Device,
		CreatedAt: now,
	}
	if err := f.saveRefreshToken(ctx, record); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		IDToken:      id,
		RefreshToken: refresh,
		TokenType:    BearerTokenType,
		ExpiresIn:    int64(tenant.AccessTokenExpiry / time.Second),
		Scope:        JoinScope(code.ConsentedScopes),
	}, nil
}

func (f *TokenExchangeFlow) clientCredentials(ctx context.Context, tenant *domain.Tenant, client *domain.Client, req TokenRequest) (*TokenResponse, error) {
	storeCtx, cancel := f.bounded(ctx)
	allowed, err := f.clients.GetClientScopes(storeCtx, tenant.ID, client.ID)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Client scope lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": client.ID})
		return nil, serrors.NewServerError("Unable to load client scopes")
	}

	scopes, err := f.scopes.Narrow(allowed, req.Scope)
	if err != nil {
		return nil, err
	}

	access, err := f.codec.SignAccessToken(tenant, AccessTokenParams{
		Subject:  client.ID,
		ClientID: client.ID,
		Scopes:   scopes,
		IssuedAt: f.now(),
	})
	if err != nil {
		f.logger.Error(ctx, "Failed to sign access token", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to issue tokens")
	}

	return &TokenResponse{
		AccessToken: access,
		TokenType:   BearerTokenType,
		ExpiresIn:   int64(tenant.AccessTokenExpiry / time.Second),
		Scope:       JoinScope(scopes),
	}, nil
}

func (f *TokenExchangeFlow) refreshToken(ctx context.Context, tenant *domain.Tenant, client *domain.Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, serrors.NewInvalidRequest("refresh_token is required")
	}

	storeCtx, cancel := f.bounded(ctx)
	rt, err := f.tokens.GetClientRefreshToken(storeCtx, tenant.ID, client.ID, req.RefreshToken)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("refresh_token is invalid")
		}
		f.logger.Error(ctx, "Refresh token lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to validate refresh token")
	}

	now := f.now()
	switch {
	case !rt.IsActive:
		return nil, serrors.NewInvalidGrant("refresh_token is inactive")
	case rt.Expired(now):
		return nil, serrors.NewInvalidGrant("refresh_token is expired")
	}

	scopes, err := f.scopes.Narrow(rt.Scopes, req.Scope)
	if err != nil {
		return nil, err
	}

	user := &domain.User{ID: rt.UserID}
	if len(tenant.AccessTokenClaims) > 0 {
		if user, err = f.fetchUser(ctx, tenant, rt.UserID); err != nil {
			return nil, err
		}
	}

	access, err := f.codec.SignAccessToken(tenant, AccessTokenParams{
		Subject:      rt.UserID,
		ClientID:     client.ID,
		Scopes:       scopes,
		RefreshToken: rt.Token,
		AuthMethods:  rt.AuthMethods,
		User:         user,
		IssuedAt:     now,
	})
	if err != nil {
		f.logger.Error(ctx, "Failed to sign access token", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to issue tokens")
	}

	f.logger.Debug(ctx, "Access token refreshed", log.Fields{
		"tenant_id": tenant.ID,
		"client_id": client.ID,
		"rft_id":    cache.Fingerprint(rt.Token),
	})

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: rt.Token,
		TokenType:    BearerTokenType,
		ExpiresIn:    int64(tenant.AccessTokenExpiry / time.Second),
		Scope:        JoinScope(scopes),
	}, nil
}

// fetchUser loads the user's profile by id. A missing user is invalid_grant.
func (c *core) fetchUser(ctx context.Context, tenant *domain.Tenant, userID string) (*domain.User, error) {
	storeCtx, cancel := c.bounded(ctx)
	defer cancel()

	user, err := c.users.GetUser(storeCtx, tenant, map[string]string{domain.UserIDClaim: userID})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("user not found")
		}
		c.logger.Error(ctx, "User lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to load user")
	}
	return user, nil
}

func (c *core) idTokenClaims(ctx context.Context, tenant *domain.Tenant, scopes []string) ([]string, error) {
	storeCtx, cancel := c.bounded(ctx)
	defer cancel()

	claims, err := c.scopes.Claims(storeCtx, tenant, scopes)
	if err != nil {
		c.logger.Error(ctx, "Scope lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to load scopes")
	}
	return claims, nil
}

// signPair signs the access and ID tokens concurrently.
func (c *core) signPair(ctx context.Context, tenant *domain.Tenant, ap AccessTokenParams, ip IDTokenParams) (string, string, error) {
	var access, id string
	var g errgroup.Group
	g.Go(func() (err error) {
		access, err = c.codec.SignAccessToken(tenant, ap)
		return err
	})
	g.Go(func() (err error) {
		id, err = c.codec.SignIDToken(tenant, ip)
		return err
	})
	if err := g.Wait(); err != nil {
		c.logger.Error(ctx, "Failed to sign tokens", err, log.Fields{"tenant_id": tenant.ID})
		return "", "", serrors.NewServerError("Unable to issue tokens")
	}
	return access, id, nil
}

func (c *core) saveRefreshToken(ctx context.Context, record *domain.RefreshToken) error {
	storeCtx, cancel := c.bounded(ctx)
	defer cancel()

	if err := c.tokens.SaveRefreshToken(storeCtx, record); err != nil {
		c.logger.Error(ctx, "Failed to save refresh token", err, log.Fields{
			"tenant_id": record.TenantID,
			"rft_id":    cache.Fingerprint(record.Token),
		})
		return serrors.NewServerError("Unable to issue tokens")
	}
	return nil
}
