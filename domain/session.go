package domain

import "slices"

// ChallengePurpose namespaces ephemeral entries in the challenge store.
type ChallengePurpose string

const (
	PurposeLogin   ChallengePurpose = "login"
	PurposeConsent ChallengePurpose = "consent"
	PurposeCode    ChallengePurpose = "code"
)

// AuthorizeSession is the state carried from /authorize through login and consent.
//
// Values are treated as immutable: transitions return a modified copy which is
// then stored under a new challenge id.
type AuthorizeSession struct {
	ResponseType        string   `json:"responseType"`
	Client              Client   `json:"client"`
	RedirectURI         string   `json:"redirectUri"`
	State               string   `json:"state,omitempty"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
	Prompt              string   `json:"prompt,omitempty"`
	LoginHint           string   `json:"loginHint,omitempty"`
	AllowedScopes       []string `json:"allowedScopes"`
	UserID              string   `json:"userId,omitempty"`
	ConsentedScopes     []string `json:"consentedScopes,omitempty"`
}

// WithUser returns a copy of the session bound to userID.
func (s AuthorizeSession) WithUser(userID string) AuthorizeSession {
	cp := s.clone()
	cp.UserID = userID
	return cp
}

// WithConsent returns a copy of the session carrying the consented scopes.
func (s AuthorizeSession) WithConsent(scopes []string) AuthorizeSession {
	cp := s.clone()
	cp.ConsentedScopes = slices.Clone(scopes)
	return cp
}

// Code builds the authorization code snapshot for this session.
func (s AuthorizeSession) Code() AuthorizationCode {
	return AuthorizationCode{
		Client:              s.Client,
		UserID:              s.UserID,
		ConsentedScopes:     slices.Clone(s.ConsentedScopes),
		RedirectURI:         s.RedirectURI,
		Nonce:               s.Nonce,
		CodeChallenge:       s.CodeChallenge,
		CodeChallengeMethod: s.CodeChallengeMethod,
	}
}

func (s AuthorizeSession) clone() AuthorizeSession {
	cp := s
	cp.Client = s.Client.clone()
	cp.AllowedScopes = slices.Clone(s.AllowedScopes)
	cp.ConsentedScopes = slices.Clone(s.ConsentedScopes)
	return cp
}
