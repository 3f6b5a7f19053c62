package mongodb

const (
	RefreshTokensCollection = "oauth_refresh_tokens"
	ConsentsCollection      = "oauth_user_consents"
	ClientsCollection       = "oauth_clients"
	ScopesCollection        = "oauth_scopes"
)
