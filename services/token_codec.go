package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go.pilab.hu/idp/cache"
	"go.pilab.hu/idp/domain"
)

// AccessTokenType is the JOSE typ header of access tokens.
const AccessTokenType = "at+jwt"

var ErrInvalidKeyID = errors.New("invalid key id")

// AccessTokenParams describes an access token to mint.
type AccessTokenParams struct {
	Subject  string
	ClientID string
	Scopes   []string
	// RefreshToken binds the access token to a session through its fingerprint.
	// Empty for client_credentials.
	RefreshToken string
	AuthMethods  []string
	// User supplies the tenant's additional access token claims. May be nil.
	User     *domain.User
	IssuedAt time.Time
}

// IDTokenParams describes an ID token to mint.
type IDTokenParams struct {
	User     *domain.User
	ClientID string
	Nonce    string
	// Claims lists the profile attributes to copy into the token.
	Claims   []string
	IssuedAt time.Time
}

// AccessToken is a verified access token.
type AccessToken struct {
	ID          string
	Subject     string
	ClientID    string
	TenantID    string
	Scope       string
	RftID       string
	AuthMethods []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Claims      jwt.MapClaims
}

// TokenCodec signs and verifies JWTs with the tenant's RSA key.
type TokenCodec struct{}

func NewTokenCodec() *TokenCodec {
	return &TokenCodec{}
}

func (c *TokenCodec) SignAccessToken(tenant *domain.Tenant, p AccessTokenParams) (string, error) {
	jti, err := RandomAlphanumeric(TokenIDLength)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	for _, name := range tenant.AccessTokenClaims {
		if v, ok := p.User.Claim(name); ok {
			claims[name] = v
		}
	}

	claims["iss"] = tenant.Issuer
	claims["sub"] = p.Subject
	claims["aud"] = p.ClientID
	claims["iat"] = p.IssuedAt.Unix()
	claims["exp"] = p.IssuedAt.Add(tenant.AccessTokenExpiry).Unix()
	claims["tid"] = tenant.ID
	claims["client_id"] = p.ClientID
	claims["jti"] = jti
	claims["scope"] = JoinScope(p.Scopes)
	if p.RefreshToken != "" {
		claims["rft_id"] = cache.Fingerprint(p.RefreshToken)
	}
	if len(p.AuthMethods) > 0 {
		claims["amr"] = p.AuthMethods
	}

	return c.sign(tenant, claims, AccessTokenType)
}

func (c *TokenCodec) SignIDToken(tenant *domain.Tenant, p IDTokenParams) (string, error) {
	claims := jwt.MapClaims{}
	for _, name := range p.Claims {
		if v, ok := p.User.Claim(name); ok {
			claims[name] = v
		}
	}

	claims["iss"] = tenant.Issuer
	claims["sub"] = p.User.ID
	claims["aud"] = p.ClientID
	claims["iat"] = p.IssuedAt.Unix()
	claims["exp"] = p.IssuedAt.Add(tenant.IDTokenExpiry).Unix()
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}

	return c.sign(tenant, claims, "JWT")
}

func (c *TokenCodec) sign(tenant *domain.Tenant, claims jwt.MapClaims, typ string) (string, error) {
	if tenant.SigningKey == nil {
		return "", fmt.Errorf("tenant %s has no signing key", tenant.ID)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = typ
	token.Header["kid"] = tenant.KeyID

	signed, err := token.SignedString(tenant.SigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, key id, issuer and expiry.
func (c *TokenCodec) VerifyAccessToken(tenant *domain.Tenant, raw string) (*AccessToken, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if kid, _ := t.Header["kid"].(string); kid != tenant.KeyID {
			return nil, ErrInvalidKeyID
		}
		if typ, _ := t.Header["typ"].(string); typ != AccessTokenType {
			return nil, fmt.Errorf("unexpected token type %q", typ)
		}
		if tenant.SigningKey == nil {
			return nil, fmt.Errorf("tenant %s has no signing key", tenant.ID)
		}
		return &tenant.SigningKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(tenant.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	at := &AccessToken{Claims: claims}
	at.Subject, _ = claims.GetSubject()
	at.ID, _ = claims["jti"].(string)
	at.ClientID, _ = claims["client_id"].(string)
	at.TenantID, _ = claims["tid"].(string)
	at.Scope, _ = claims["scope"].(string)
	at.RftID, _ = claims["rft_id"].(string)
	if amr, ok := claims["amr"].([]interface{}); ok {
		for _, m := range amr {
			if s, ok := m.(string); ok {
				at.AuthMethods = append(at.AuthMethods, s)
			}
		}
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		at.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		at.ExpiresAt = exp.Time
	}
	return at, nil
}
