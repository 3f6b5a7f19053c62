package errors

import (
	"fmt"
	"net/http"
)

// OAuth2Error represents a standardized OAuth 2.0 error.
//
// RedirectURI is set once the client's redirect_uri has been validated; the
// transport then delivers the error as a redirect instead of a JSON body.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`

	RedirectURI  string `json:"-"`
	Authenticate string `json:"-"` // WWW-Authenticate header value
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Status returns the HTTP status code used when the error is rendered as JSON.
func (e *OAuth2Error) Status() int {
	switch e.Code {
	case InvalidClient, Unauthorized:
		return http.StatusUnauthorized
	case AccessDenied:
		return http.StatusForbidden
	case ServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// IsRedirect reports whether the error should be sent back to the client's redirect URI.
func (e *OAuth2Error) IsRedirect() bool {
	return e.RedirectURI != ""
}

// WithRedirect returns a copy of the error that is delivered to redirectURI carrying state.
func (e *OAuth2Error) WithRedirect(redirectURI, state string) *OAuth2Error {
	cp := *e
	cp.RedirectURI = redirectURI
	cp.State = state
	return &cp
}

// Standard OAuth2 error codes
const (
	InvalidRequest          = "invalid_request"
	UnauthorizedClient      = "unauthorized_client"
	AccessDenied            = "access_denied"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	InvalidScope            = "invalid_scope"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	InvalidRedirectURI      = "invalid_redirect_uri"
	Unauthorized            = "unauthorized"
	ServerError             = "server_error"
)

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: description,
	}
}

// NewInvalidClient builds an invalid_client error challenging the caller for
// Basic credentials in the given realm. An empty realm omits the header.
func NewInvalidClient(description, realm string) *OAuth2Error {
	e := &OAuth2Error{
		Code:        InvalidClient,
		Description: description,
	}
	if realm != "" {
		e.Authenticate = fmt.Sprintf("Basic realm=%q", realm)
	}
	return e
}

// NewAccessDenied reports that the resource owner refused the request.
func NewAccessDenied(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        AccessDenied,
		Description: description,
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: description,
	}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: description,
	}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidScope,
		Description: description,
	}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnauthorizedClient,
		Description: description,
	}
}

func NewUnsupportedGrantType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: "The authorization grant type is not supported",
	}
}

func NewUnsupportedResponseType(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedResponseType,
		Description: description,
	}
}

func NewInvalidRedirectURI(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRedirectURI,
		Description: description,
	}
}

// NewUnauthorized is returned when the caller's session credential (a refresh
// token) does not identify an active user.
func NewUnauthorized(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        Unauthorized,
		Description: description,
	}
}
