package domain

import "time"

// DeviceInfo describes where a refresh token was issued.
type DeviceInfo struct {
	Name     string `bson:"device_name,omitempty" json:"deviceName,omitempty"`
	IP       string `bson:"ip,omitempty"          json:"ip,omitempty"`
	Location string `bson:"location,omitempty"    json:"location,omitempty"`
	Source   string `bson:"source,omitempty"      json:"source,omitempty"`
}

// SsoToken is the single-sign-on companion of a refresh token. It lives inside
// the refresh token record so both are written and invalidated together.
type SsoToken struct {
	Token     string    `bson:"token"      json:"token"`
	ExpiresAt time.Time `bson:"expires_at" json:"expiresAt"`
	IsActive  bool      `bson:"is_active"  json:"isActive"`
}

// RefreshToken is the durable session record. It is never deleted; IsActive is
// flipped on logout so audit history survives.
type RefreshToken struct {
	TenantID    string     `bson:"tenant_id"          json:"tenantId"`
	ClientID    string     `bson:"client_id"          json:"clientId"`
	UserID      string     `bson:"user_id"            json:"userId"`
	Token       string     `bson:"refresh_token"      json:"refreshToken"`
	ExpiresAt   time.Time  `bson:"expires_at"         json:"expiresAt"`
	Scopes      []string   `bson:"scope"              json:"scope"`
	AuthMethods []string   `bson:"auth_methods"       json:"authMethods"`
	IsActive    bool       `bson:"is_active"          json:"isActive"`
	Device      DeviceInfo `bson:"device"             json:"device"`
	Sso         *SsoToken  `bson:"sso,omitempty"      json:"sso,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"         json:"createdAt"`
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token is active and unexpired.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.IsActive && !t.Expired(now)
}

// UserConsent records that a user granted one scope to one client.
type UserConsent struct {
	TenantID  string    `bson:"tenant_id"  json:"tenantId"`
	ClientID  string    `bson:"client_id"  json:"clientId"`
	UserID    string    `bson:"user_id"    json:"userId"`
	Scope     string    `bson:"scope"      json:"scope"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}
