package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/cache"
	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/audit"
	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

// AuthMethodPassword is the amr value of a password login.
const AuthMethodPassword = "pwd"

// LoginRequest is a first-party credential login.
type LoginRequest struct {
	ClientID    string
	Credentials map[string]string
	Scope       string
	Device      domain.DeviceInfo
}

// SessionResult is the token set of a fresh login. SsoToken is meant for the
// session cookie.
type SessionResult struct {
	TokenResponse
	SsoToken       string    `json:"sso_token"`
	SsoTokenExpiry time.Time `json:"sso_token_expires_at"`
	UserID         string    `json:"user_id"`
}

// SessionIssuer logs a user in directly and opens a refresh token session
// with its SSO companion.
type SessionIssuer struct {
	*core
}

func (s *SessionIssuer) IssueSession(ctx context.Context, tenant *domain.Tenant, req LoginRequest) (*SessionResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "SessionIssuer.IssueSession")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.String("client.id", req.ClientID))

	result, err := s.issue(ctx, tenant, req)
	if err != nil {
		metrics.LoginFailureTotal.Inc()
		span.RecordError(err)
		s.audit.Log(ctx, audit.Event{TenantID: tenant.ID, Action: audit.ActionLogin, ClientID: req.ClientID, Err: err})
		return nil, err
	}
	metrics.LoginSuccessTotal.Inc()
	s.audit.Log(ctx, audit.Event{TenantID: tenant.ID, Action: audit.ActionLogin, ClientID: req.ClientID, UserID: result.UserID, Success: true})
	return result, nil
}

// SignUpRequest registers a user with a password and logs them in.
type SignUpRequest struct {
	ClientID string
	Username string
	Password string
	// Profile holds extra attributes stored with the user.
	Profile map[string]any
	Scope   string
	Device  domain.DeviceInfo
}

// SignUp creates the user through the user service and opens a session for
// them, as IssueSession does after a password login.
func (s *SessionIssuer) SignUp(ctx context.Context, tenant *domain.Tenant, req SignUpRequest) (*SessionResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "SessionIssuer.SignUp")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID), attribute.String("client.id", req.ClientID))

	result, err := s.signUp(ctx, tenant, req)
	if err != nil {
		span.RecordError(err)
		s.audit.Log(ctx, audit.Event{TenantID: tenant.ID, Action: audit.ActionSignUp, ClientID: req.ClientID, Err: err})
		return nil, err
	}
	s.audit.Log(ctx, audit.Event{TenantID: tenant.ID, Action: audit.ActionSignUp, ClientID: req.ClientID, UserID: result.UserID, Success: true})
	return result, nil
}

func (s *SessionIssuer) signUp(ctx context.Context, tenant *domain.Tenant, req SignUpRequest) (*SessionResult, error) {
	if req.Username == "" || req.Password == "" {
		return nil, serrors.NewInvalidRequest("username and password are required")
	}
	client, scopes, err := s.clientScopes(ctx, tenant, req.ClientID, req.Scope)
	if err != nil {
		return nil, err
	}

	profile := make(map[string]any, len(req.Profile)+2)
	for k, v := range req.Profile {
		profile[k] = v
	}
	profile["username"] = req.Username
	profile["password"] = req.Password

	storeCtx, cancel := s.bounded(ctx)
	user, err := s.users.CreateUser(storeCtx, tenant, profile)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, serrors.NewInvalidRequest("User already exists")
		}
		s.logger.Error(ctx, "User creation failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to create user")
	}

	return s.open(ctx, tenant, client, scopes, user, req.Device)
}

func (s *SessionIssuer) issue(ctx context.Context, tenant *domain.Tenant, req LoginRequest) (*SessionResult, error) {
	if len(req.Credentials) == 0 {
		return nil, serrors.NewInvalidRequest("credentials are required")
	}
	client, scopes, err := s.clientScopes(ctx, tenant, req.ClientID, req.Scope)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.bounded(ctx)
	user, err := s.users.Authenticate(storeCtx, tenant, req.Credentials)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.logger.Info(ctx, "Login rejected", log.Fields{"tenant_id": tenant.ID, "client_id": client.ID})
			return nil, serrors.NewUnauthorized("Invalid credentials")
		}
		s.logger.Error(ctx, "User authentication failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to authenticate user")
	}

	return s.open(ctx, tenant, client, scopes, user, req.Device)
}

// clientScopes loads the client and narrows scope to what it may request.
func (s *SessionIssuer) clientScopes(ctx context.Context, tenant *domain.Tenant, clientID, scope string) (*domain.Client, []string, error) {
	if clientID == "" {
		return nil, nil, serrors.NewInvalidRequest("client_id is required")
	}

	storeCtx, cancel := s.bounded(ctx)
	client, err := s.clients.GetClient(storeCtx, tenant.ID, clientID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, serrors.NewInvalidClient("Client not found", "")
		}
		s.logger.Error(ctx, "Client lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": clientID})
		return nil, nil, serrors.NewServerError("Unable to load client")
	}

	storeCtx, cancel = s.bounded(ctx)
	allowed, err := s.clients.GetClientScopes(storeCtx, tenant.ID, client.ID)
	cancel()
	if err != nil {
		s.logger.Error(ctx, "Client scope lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": client.ID})
		return nil, nil, serrors.NewServerError("Unable to load client scopes")
	}
	scopes, err := s.scopes.Narrow(allowed, scope)
	if err != nil {
		return nil, nil, err
	}
	return client, scopes, nil
}

// open signs the token pair for user and stores the refresh token with its
// SSO companion.
func (s *SessionIssuer) open(ctx context.Context, tenant *domain.Tenant, client *domain.Client, scopes []string, user *domain.User, device domain.DeviceInfo) (*SessionResult, error) {
	refresh, err := RandomAlphanumeric(RefreshTokenLength)
	if err != nil {
		s.logger.Error(ctx, "Failed to generate refresh token", err)
		return nil, serrors.NewServerError("Unable to issue tokens")
	}
	sso, err := RandomAlphanumeric(SsoTokenLength)
	if err != nil {
		s.logger.Error(ctx, "Failed to generate SSO token", err)
		return nil, serrors.NewServerError("Unable to issue tokens")
	}

	claims, err := s.idTokenClaims(ctx, tenant, scopes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	methods := []string{AuthMethodPassword}
	access, id, err := s.signPair(ctx, tenant,
		AccessTokenParams{
			Subject:      user.ID,
			ClientID:     client.ID,
			Scopes:       scopes,
			RefreshToken: refresh,
			AuthMethods:  methods,
			User:         user,
			IssuedAt:     now,
		},
		IDTokenParams{
			User:     user,
			ClientID: client.ID,
			Claims:   claims,
			IssuedAt: now,
		})
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(tenant.RefreshTokenExpiry)
	record := &domain.RefreshToken{
		TenantID:    tenant.ID,
		ClientID:    client.ID,
		UserID:      user.ID,
		Token:       refresh,
		ExpiresAt:   expiresAt,
		Scopes:      scopes,
		AuthMethods: methods,
		IsActive:    true,
		Device:      device,
		Sso:         &domain.SsoToken{Token: sso, ExpiresAt: expiresAt, IsActive: true},
		CreatedAt:   now,
	}
	if err := s.saveRefreshToken(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "Session opened", log.Fields{
		"tenant_id": tenant.ID,
		"client_id": client.ID,
		"user_id":   user.ID,
		"rft_id":    cache.Fingerprint(refresh),
	})

	return &SessionResult{
		TokenResponse: TokenResponse{
			AccessToken:  access,
			IDToken:      id,
			RefreshToken: refresh,
			TokenType:    BearerTokenType,
			ExpiresIn:    int64(tenant.AccessTokenExpiry / time.Second),
			Scope:        JoinScope(scopes),
		},
		SsoToken:       sso,
		SsoTokenExpiry: expiresAt,
		UserID:         user.ID,
	}, nil
}
