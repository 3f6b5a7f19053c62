package domain

// UserIDClaim is the profile attribute carrying the user identifier.
const UserIDClaim = "userId"

// User is a profile returned by the external user service.
type User struct {
	ID     string
	Claims map[string]any
}

// NewUser builds a User from a raw profile object.
func NewUser(profile map[string]any) *User {
	u := &User{Claims: profile}
	if id, ok := profile[UserIDClaim].(string); ok {
		u.ID = id
	}
	return u
}

// Claim returns a profile attribute.
func (u *User) Claim(name string) (any, bool) {
	if u == nil || u.Claims == nil {
		return nil, false
	}
	v, ok := u.Claims[name]
	return v, ok
}
