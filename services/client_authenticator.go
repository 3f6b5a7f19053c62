package services

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/internal/crypto"
	"go.pilab.hu/idp/log"
)

// ClientCredentials are the client id and secret presented on a request,
// either from an HTTP Basic header or from the form body.
type ClientCredentials struct {
	ID         string
	Secret     string
	FromHeader bool
}

// ClientAuthenticator verifies client credentials against the registry.
type ClientAuthenticator struct {
	clients domain.ClientRegistry
	timeout time.Duration
	logger  log.Logger
}

func NewClientAuthenticator(clients domain.ClientRegistry, timeout time.Duration, logger log.Logger) *ClientAuthenticator {
	return &ClientAuthenticator{clients: clients, timeout: timeout, logger: logger}
}

// Authenticate returns the client identified by creds. Every failure is
// invalid_client challenging for Basic credentials in the tenant's realm.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, tenant *domain.Tenant, creds ClientCredentials) (*domain.Client, error) {
	invalid := serrors.NewInvalidClient("Client authentication failed", tenant.Issuer)

	if creds.ID == "" || creds.Secret == "" {
		return nil, invalid
	}

	storeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	client, err := a.clients.GetClient(storeCtx, tenant.ID, creds.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Error(ctx, "Client lookup failed", err, log.Fields{"tenant_id": tenant.ID, "client_id": creds.ID})
			return nil, serrors.NewServerError("Unable to authenticate client")
		}
		return nil, invalid
	}

	if !crypto.SecretMatches(client.Secret, creds.Secret) {
		return nil, invalid
	}
	return client, nil
}

// AuthenticateForGrant authenticates the client and requires grantType to be
// registered for it.
func (a *ClientAuthenticator) AuthenticateForGrant(ctx context.Context, tenant *domain.Tenant, creds ClientCredentials, grantType GrantType) (*domain.Client, error) {
	client, err := a.Authenticate(ctx, tenant, creds)
	if err != nil {
		return nil, err
	}
	if !client.HasGrantType(string(grantType)) {
		return nil, serrors.NewUnauthorizedClient("The client is not authorized to use this grant type")
	}
	return client, nil
}
