package domain

import (
	"crypto/rsa"
	"time"
)

// Tenant is an immutable per-request snapshot of a tenant's configuration.
type Tenant struct {
	ID                 string
	Issuer             string
	AuthorizeTTL       time.Duration
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	IDTokenExpiry      time.Duration
	SigningKey         *rsa.PrivateKey
	KeyID              string
	LoginPageURI       string
	ConsentPageURI     string
	IDTokenClaims      []string
	AccessTokenClaims  []string
	UserServiceURL     string
}
