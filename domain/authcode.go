package domain

// AuthorizationCode is the single-use snapshot redeemed at the token endpoint.
type AuthorizationCode struct {
	Client              Client   `json:"client"`
	UserID              string   `json:"userId"`
	ConsentedScopes     []string `json:"consentedScopes"`
	RedirectURI         string   `json:"redirectUri"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
}
