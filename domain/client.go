package domain

import "slices"

// Client is the registry view of an OAuth client.
type Client struct {
	ID            string   `bson:"client_id"      json:"id"`
	TenantID      string   `bson:"tenant_id"      json:"tenantId"`
	Name          string   `bson:"name"           json:"name,omitempty"`
	Secret        string   `bson:"secret"         json:"-"`
	RedirectURIs  []string `bson:"redirect_uris"  json:"redirectUris"`
	ResponseTypes []string `bson:"response_types" json:"responseTypes"`
	GrantTypes    []string `bson:"grant_types"    json:"grantTypes"`
	Scopes        []string `bson:"scopes"         json:"scopes"`
	SkipConsent   bool     `bson:"skip_consent"   json:"skipConsent"`
}

// HasRedirectURI reports whether uri is registered verbatim.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// HasResponseType reports whether the client may use responseType.
func (c *Client) HasResponseType(responseType string) bool {
	return slices.Contains(c.ResponseTypes, responseType)
}

// HasGrantType reports whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

func (c Client) clone() Client {
	c.RedirectURIs = slices.Clone(c.RedirectURIs)
	c.ResponseTypes = slices.Clone(c.ResponseTypes)
	c.GrantTypes = slices.Clone(c.GrantTypes)
	c.Scopes = slices.Clone(c.Scopes)
	return c
}

// Scope names the user claims released when a scope is granted.
type Scope struct {
	Name     string   `bson:"name"      json:"name"`
	TenantID string   `bson:"tenant_id" json:"tenantId"`
	Claims   []string `bson:"claims"    json:"claims"`
}
