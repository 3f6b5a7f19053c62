package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"go.pilab.hu/idp/domain"
	serrors "go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/tracing"
)

// ClaimSubject is the userinfo member naming the user.
const ClaimSubject = "sub"

// UserInfoFlow returns the profile claims an access token's scopes release.
type UserInfoFlow struct {
	*core
	validator *AccessTokenValidator
}

func (f *UserInfoFlow) UserInfo(ctx context.Context, tenant *domain.Tenant, raw string) (map[string]any, error) {
	ctx, span := tracing.Tracer.Start(ctx, "UserInfoFlow.UserInfo")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenant.ID))

	token, err := f.validator.Validate(ctx, tenant, raw)
	if err != nil {
		return nil, err
	}
	if token.Subject == "" {
		return nil, serrors.NewUnauthorized("Invalid access token")
	}

	scopes := ParseScope(token.Scope)
	if len(scopes) == 0 {
		return nil, serrors.NewInvalidRequest("No scopes provided in token")
	}

	storeCtx, cancel := f.bounded(ctx)
	claims, err := f.scopes.Released(storeCtx, tenant.ID, scopes)
	cancel()
	if err != nil {
		f.logger.Error(ctx, "Scope lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to load scopes")
	}

	storeCtx, cancel = f.bounded(ctx)
	user, err := f.users.GetUser(storeCtx, tenant, map[string]string{domain.UserIDClaim: token.Subject})
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewUnauthorized("User not found")
		}
		span.RecordError(err)
		f.logger.Error(ctx, "User lookup failed", err, log.Fields{"tenant_id": tenant.ID})
		return nil, serrors.NewServerError("Unable to load user")
	}

	info := make(map[string]any, len(claims)+1)
	for _, name := range claims {
		if v, ok := user.Claim(name); ok {
			info[name] = v
		}
	}
	info[ClaimSubject] = token.Subject
	return info, nil
}
