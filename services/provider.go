package services

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/audit"
	"go.pilab.hu/idp/log"
)

// DefaultStoreTimeout bounds every store and user-service call when
// ProviderOptions.StoreTimeout is unset.
const DefaultStoreTimeout = 3 * time.Second

// ProviderOptions holds the collaborators shared by every flow.
type ProviderOptions struct {
	Challenges  domain.ChallengeStore
	Tokens      domain.TokenStore
	Consents    domain.ConsentStore
	Revocations domain.RevocationStore
	Clients     domain.ClientRegistry
	Scopes      domain.ScopeRegistry
	Users       domain.UserService
	Logger      log.Logger

	StoreTimeout time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

func (o ProviderOptions) validate() error {
	switch {
	case o.Challenges == nil:
		return errors.New("challenge store is required")
	case o.Tokens == nil:
		return errors.New("token store is required")
	case o.Consents == nil:
		return errors.New("consent store is required")
	case o.Revocations == nil:
		return errors.New("revocation store is required")
	case o.Clients == nil:
		return errors.New("client registry is required")
	case o.Scopes == nil:
		return errors.New("scope registry is required")
	case o.Users == nil:
		return errors.New("user service is required")
	}
	return nil
}

// core carries the dependencies and helpers the flows share.
type core struct {
	challenges  domain.ChallengeStore
	tokens      domain.TokenStore
	consents    domain.ConsentStore
	revocations domain.RevocationStore
	clients     domain.ClientRegistry
	users       domain.UserService

	codec  *TokenCodec
	scopes *ScopeResolver
	auth   *ClientAuthenticator
	tasks  *BestEffort
	audit  *audit.Trail
	logger log.Logger

	timeout time.Duration
	now     func() time.Time
}

// bounded derives the context for a single store call.
func (c *core) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// resolveUser maps a refresh token to the user holding it. Only active,
// unexpired tokens identify a user.
func (c *core) resolveUser(ctx context.Context, tenant *domain.Tenant, refreshToken string) (*domain.RefreshToken, error) {
	if refreshToken == "" {
		return nil, serrors.NewUnauthorized("Invalid refresh token")
	}

	storeCtx, cancel := c.bounded(ctx)
	defer cancel()

	rt, err := c.tokens.GetRefreshToken(storeCtx, tenant.ID, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewUnauthorized("Invalid refresh token")
		}
		c.logger.Error(ctx, "Refresh token lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to validate refresh token")
	}
	if !rt.Usable(c.now()) {
		return nil, serrors.NewUnauthorized("Invalid refresh token")
	}
	return rt, nil
}

// loadSession fetches a challenge session. Every failure, including store
// errors and timeouts, yields the same invalid_request outcome.
func (c *core) loadSession(ctx context.Context, tenant *domain.Tenant, purpose domain.ChallengePurpose, id, description string) (*domain.AuthorizeSession, error) {
	if id == "" {
		return nil, serrors.NewInvalidRequest(description)
	}

	storeCtx, cancel := c.bounded(ctx)
	defer cancel()

	session, err := c.challenges.GetSession(storeCtx, purpose, tenant.ID, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn(ctx, "Challenge lookup failed", log.Fields{
				"tenant_id": tenant.ID,
				"purpose":   string(purpose),
				"error":     err.Error(),
			})
		}
		return nil, serrors.NewInvalidRequest(description)
	}
	return session, nil
}

// deleteChallenge removes a consumed challenge without holding up the caller.
func (c *core) deleteChallenge(ctx context.Context, tenant *domain.Tenant, purpose domain.ChallengePurpose, id string) {
	c.tasks.Go(ctx, "delete_"+string(purpose)+"_challenge", log.Fields{"tenant_id": tenant.ID}, func(ctx context.Context) error {
		return c.challenges.DeleteSession(ctx, purpose, tenant.ID, id)
	})
}

// Provider wires the flows over one set of collaborators.
type Provider struct {
	core *core

	authorize   *AuthorizeFlow
	loginAccept *LoginAcceptFlow
	consent     *ConsentAcceptFlow
	exchange    *TokenExchangeFlow
	sessions    *SessionIssuer
	revocation  *RevocationFlow
	validator   *AccessTokenValidator
	userInfo    *UserInfoFlow
}

func NewProvider(opts ProviderOptions) (*Provider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &core{
		challenges:  opts.Challenges,
		tokens:      opts.Tokens,
		consents:    opts.Consents,
		revocations: opts.Revocations,
		clients:     opts.Clients,
		users:       opts.Users,
		codec:       NewTokenCodec(),
		scopes:      NewScopeResolver(opts.Scopes),
		auth:        NewClientAuthenticator(opts.Clients, opts.StoreTimeout, opts.Logger),
		tasks:       NewBestEffort(opts.Logger, opts.StoreTimeout),
		audit:       audit.New(opts.Logger),
		logger:      opts.Logger,
		timeout:     opts.StoreTimeout,
		now:         opts.Now,
	}

	validator := &AccessTokenValidator{core: c}
	return &Provider{
		core:        c,
		authorize:   &AuthorizeFlow{core: c},
		loginAccept: &LoginAcceptFlow{core: c},
		consent:     &ConsentAcceptFlow{core: c},
		exchange:    &TokenExchangeFlow{core: c},
		sessions:    &SessionIssuer{core: c},
		revocation:  &RevocationFlow{core: c},
		validator:   validator,
		userInfo:    &UserInfoFlow{core: c, validator: validator},
	}, nil
}

func (p *Provider) Authorize() *AuthorizeFlow { return p.authorize }
func (p *Provider) LoginAccept() *LoginAcceptFlow { return p.loginAccept }
func (p *Provider) ConsentAccept() *ConsentAcceptFlow { return p.consent }
func (p *Provider) TokenExchange() *TokenExchangeFlow { return p.exchange }
func (p *Provider) Sessions() *SessionIssuer { return p.sessions }
func (p *Provider) Revocation() *RevocationFlow { return p.revocation }
func (p *Provider) Validator() *AccessTokenValidator { return p.validator }
func (p *Provider) UserInfo() *UserInfoFlow { return p.userInfo }
func (p *Provider) Codec() *TokenCodec { return p.core.codec }

// Wait blocks until pending best-effort tasks finish. Call it on shutdown.
func (p *Provider) Wait() {
	p.core.tasks.Wait()
}
