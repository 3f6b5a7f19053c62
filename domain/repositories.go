package domain

import (
	"context"
	"time"
)

// ChallengeStore holds the short-lived state of the authorize flow. Entries are
// namespaced by purpose and tenant and expire after their TTL.
type ChallengeStore interface {
	SaveSession(ctx context.Context, purpose ChallengePurpose, tenantID, id string, session AuthorizeSession, ttl time.Duration) error
	// GetSession returns ErrNotFound for unknown or expired ids.
	GetSession(ctx context.Context, purpose ChallengePurpose, tenantID, id string) (*AuthorizeSession, error)
	DeleteSession(ctx context.Context, purpose ChallengePurpose, tenantID, id string) error

	SaveCode(ctx context.Context, tenantID, code string, authCode AuthorizationCode, ttl time.Duration) error
	// ConsumeCode atomically fetches and removes a code. Only one caller can
	// ever receive a given code; the rest get ErrNotFound.
	ConsumeCode(ctx context.Context, tenantID, code string) (*AuthorizationCode, error)
}

// TokenStore persists refresh tokens together with their SSO companions.
type TokenStore interface {
	// SaveRefreshToken writes the token and its optional SSO companion in one write.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken looks a token up by value regardless of its state.
	GetRefreshToken(ctx context.Context, tenantID, token string) (*RefreshToken, error)
	GetClientRefreshToken(ctx context.Context, tenantID, clientID, token string) (*RefreshToken, error)
	GetRefreshTokenBySsoToken(ctx context.Context, tenantID, ssoToken string) (*RefreshToken, error)

	// ListActiveRefreshTokens returns the user's active tokens. An empty
	// clientID matches every client.
	ListActiveRefreshTokens(ctx context.Context, tenantID, userID, clientID string) ([]*RefreshToken, error)

	// InvalidateRefreshToken deactivates a token and its SSO companion. It
	// reports whether an active token was changed.
	InvalidateRefreshToken(ctx context.Context, tenantID, token string) (bool, error)
	InvalidateClientRefreshToken(ctx context.Context, tenantID, clientID, token string) (bool, error)
	// InvalidateRefreshTokens deactivates the listed tokens and their SSO
	// companions and returns the number of records changed.
	InvalidateRefreshTokens(ctx context.Context, tenantID string, tokens []string) (int64, error)
}

// ConsentStore records the scopes a user granted to a client. Records are append-only.
type ConsentStore interface {
	GetConsentedScopes(ctx context.Context, tenantID, clientID, userID string) ([]string, error)
	SaveConsents(ctx context.Context, tenantID, clientID, userID string, scopes []string) error
}

// RevocationStore is the time-ordered set of revoked refresh-token fingerprints.
type RevocationStore interface {
	// Record adds fingerprints revoked at `at` and prunes entries older than retention.
	Record(ctx context.Context, tenantID string, fingerprints []string, at time.Time, retention time.Duration) error
	IsRevoked(ctx context.Context, tenantID, fingerprint string) (bool, error)
}

// ClientRegistry resolves client metadata.
type ClientRegistry interface {
	GetClient(ctx context.Context, tenantID, clientID string) (*Client, error)
	GetClientScopes(ctx context.Context, tenantID, clientID string) ([]string, error)
}

// ScopeRegistry resolves the claims released by scopes.
type ScopeRegistry interface {
	GetScopes(ctx context.Context, tenantID string, names []string) ([]Scope, error)
}

// TenantRegistry returns tenant configuration snapshots.
type TenantRegistry interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
}
