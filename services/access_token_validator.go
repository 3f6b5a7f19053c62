package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

// AccessTokenValidator accepts access tokens signed for the tenant whose
// session has not been revoked.
type AccessTokenValidator struct {
	*core
}

func (v *AccessTokenValidator) Validate(ctx context.Context, tenant *domain.Tenant, raw string) (*AccessToken, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AccessTokenValidator.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	if raw == "" {
		return nil, serrors.NewUnauthorized("Access token is required")
	}

	token, err := v.codec.VerifyAccessToken(tenant, raw)
	if err != nil {
		v.logger.Debug(ctx, "Access token rejected", log.Fields{"tenant_id": tenant.ID, "error": err.Error()})
		return nil, serrors.NewUnauthorized("Invalid access token")
	}
	if token.TenantID != tenant.ID {
		return nil, serrors.NewUnauthorized("Invalid access token")
	}

	if token.RftID != "" {
		storeCtx, cancel := v.bounded(ctx)
		revoked, err := v.revocations.IsRevoked(storeCtx, tenant.ID, token.RftID)
		cancel()
		if err != nil {
			v.logger.Error(ctx, "Revocation lookup failed", err, log.Fields{"tenant_id": tenant.ID})
			return nil, serrors.NewServerError("Unable to validate access token")
		}
		if revoked {
			return nil, serrors.NewUnauthorized("Access token has been revoked")
		}
	}
	return token, nil
}
