//nolint:varnamelen
package echo

import (
	"crypto/subtle"
	stderrors "errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/errors"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/services"
)

// TenantHeader carries the tenant id on every request.
const TenantHeader = "tenant-id"

// SsoCookie is the cookie holding the SSO token of a first-party login.
const SsoCookie = "sso_token"

// OAuth2API exposes the provider's flows over HTTP.
type OAuth2API struct {
	provider   *services.Provider
	tenants    domain.TenantRegistry
	logger     log.Logger
	adminToken string
}

// NewOAuth2API initializes the OAuth2 API. An empty adminToken leaves the
// admin routes unregistered.
func NewOAuth2API(provider *services.Provider, tenants domain.TenantRegistry, logger log.Logger, adminToken string) *OAuth2API {
	return &OAuth2API{
		provider:   provider,
		tenants:    tenants,
		logger:     logger,
		adminToken: adminToken,
	}
}

// RegisterRoutes registers the OAuth2 and session routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/login/accept", oa.LoginAcceptHandler)
	e.GET("/oauth2/consent", oa.ConsentInfoHandler)
	e.POST("/oauth2/consent/accept", oa.ConsentAcceptHandler)
	e.POST("/oauth2/consent/reject", oa.ConsentRejectHandler)
	e.POST("/oauth2/token", oa.TokenHandler)
	e.POST("/oauth2/revoke", oa.RevokeHandler)
	e.POST("/oauth2/introspect", oa.IntrospectHandler)
	e.GET("/oauth2/userinfo", oa.UserInfoHandler)
	e.POST("/oauth2/userinfo", oa.UserInfoHandler)

	e.POST("/v1/login", oa.LoginHandler)
	e.POST("/v1/signup", oa.SignUpHandler)
	e.POST("/v1/logout", oa.LogoutHandler)

	if oa.adminToken != "" {
		admin := e.Group("/v1/admin", middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(oa.adminToken)) == 1, nil
		}))
		admin.POST("/logout", oa.AdminLogoutHandler)
	}
}

// tenant resolves the snapshot named by the tenant-id header.
func (oa *OAuth2API) tenant(c echo.Context) (*domain.Tenant, error) {
	id := c.Request().Header.Get(TenantHeader)
	if id == "" {
		return nil, errors.NewInvalidRequest("tenant-id header is required")
	}

	tenant, err := oa.tenants.Get(c.Request().Context(), id)
	if err != nil {
		if stderrors.Is(err, domain.ErrTenantNotFound) {
			return nil, errors.NewInvalidRequest("Unknown tenant")
		}
		return nil, err
	}
	return tenant, nil
}

// renderError writes err either as a redirect back to the client or as a JSON
// body. Errors that are not OAuth2 errors become a generic server_error.
func (oa *OAuth2API) renderError(c echo.Context, err error) error {
	var oauthErr *errors.OAuth2Error
	if !stderrors.As(err, &oauthErr) {
		oa.logger.Error(c.Request().Context(), "Request failed", err, log.Fields{"path": c.Path()})
		oauthErr = errors.NewServerError("Internal server error")
	}

	if oauthErr.IsRedirect() {
		if target, perr := errorRedirect(oauthErr); perr == nil {
			return c.Redirect(http.StatusFound, target)
		}
	}

	if oauthErr.Authenticate != "" {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, oauthErr.Authenticate)
	}
	return c.JSON(oauthErr.Status(), oauthErr)
}

// errorRedirect renders a redirect-bound error as the client redirect URI
// carrying error, error_description and state.
func errorRedirect(oauthErr *errors.OAuth2Error) (string, error) {
	return withQuery(oauthErr.RedirectURI, map[string]string{
		"error":             oauthErr.Code,
		"error_description": oauthErr.Description,
		"state":             oauthErr.State,
	})
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// withQuery appends params to base, keeping any query it already has.
func withQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AuthorizeHandler validates an authorization request and sends the user
// agent to the tenant's login page with a login challenge.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	res, err := oa.provider.Authorize().Authorize(c.Request().Context(), tenant, services.AuthorizeRequest{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		ResponseType:        c.QueryParam("response_type"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		Nonce:               c.QueryParam("nonce"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
		Prompt:              c.QueryParam("prompt"),
		LoginHint:           c.QueryParam("login_hint"),
	})
	if err != nil {
		return oa.renderError(c, err)
	}

	target, err := withQuery(res.LoginPageURI, map[string]string{
		"login_challenge": res.LoginChallenge,
		"prompt":          res.Prompt,
		"login_hint":      res.LoginHint,
	})
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.Redirect(http.StatusFound, target)
}

// RedirectResponse tells the login or consent UI where to send the user agent.
type RedirectResponse struct {
	RedirectTo string `json:"redirect_to"`
}

func codeRedirect(code *services.CodeResult) (string, error) {
	return withQuery(code.RedirectURI, map[string]string{"code": code.Code, "state": code.State})
}

// LoginAcceptHandler binds the logged in user to a login challenge.
func (oa *OAuth2API) LoginAcceptHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	res, err := oa.provider.LoginAccept().Accept(c.Request().Context(), tenant, services.LoginAcceptRequest{
		RefreshToken:   c.FormValue("refresh_token"),
		LoginChallenge: c.FormValue("login_challenge"),
	})
	if err != nil {
		return oa.renderError(c, err)
	}

	var target string
	if res.Code != nil {
		target, err = codeRedirect(res.Code)
	} else {
		target, err = withQuery(res.Consent.ConsentPageURI, map[string]string{
			"consent_challenge": res.Consent.ConsentChallenge,
			"state":             res.Consent.State,
		})
	}
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, RedirectResponse{RedirectTo: target})
}

// ConsentAcceptHandler records the user's consent and returns the client
// redirect carrying the code. consented_scopes may be repeated or space
// separated.
func (oa *OAuth2API) ConsentAcceptHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	params, err := c.FormParams()
	if err != nil {
		return oa.renderError(c, errors.NewInvalidRequest("Malformed form body"))
	}

	code, err := oa.provider.ConsentAccept().Accept(c.Request().Context(), tenant, services.ConsentAcceptRequest{
		RefreshToken:     params.Get("refresh_token"),
		ConsentChallenge: params.Get("consent_challenge"),
		ConsentedScopes:  services.ParseScope(strings.Join(params["consented_scopes"], " ")),
	})
	if err != nil {
		return oa.renderError(c, err)
	}

	target, err := codeRedirect(code)
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, RedirectResponse{RedirectTo: target})
}

// ConsentInfoHandler describes a pending consent challenge to the consent UI.
func (oa *OAuth2API) ConsentInfoHandler(c echo.Context) error {
	noStore(c)

	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	challenge := c.QueryParam("consent_challenge")
	if challenge == "" {
		return oa.renderError(c, errors.NewInvalidRequest("consent_challenge is required"))
	}

	info, err := oa.provider.ConsentAccept().Describe(c.Request().Context(), tenant, challenge)
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// ConsentRejectHandler ends a consent challenge the user refused and returns
// the client redirect carrying access_denied.
func (oa *OAuth2API) ConsentRejectHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	denied, err := oa.provider.ConsentAccept().Reject(c.Request().Context(), tenant, services.ConsentRejectRequest{
		RefreshToken:     c.FormValue("refresh_token"),
		ConsentChallenge: c.FormValue("consent_challenge"),
	})
	if err != nil {
		return oa.renderError(c, err)
	}

	target, err := errorRedirect(denied)
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, RedirectResponse{RedirectTo: target})
}

// clientCredentials reads HTTP Basic credentials, falling back to the
// client_id and client_secret form fields.
func clientCredentials(c echo.Context) services.ClientCredentials {
	if id, secret, ok := c.Request().BasicAuth(); ok {
		return services.ClientCredentials{ID: id, Secret: secret, FromHeader: true}
	}
	return services.ClientCredentials{ID: c.FormValue("client_id"), Secret: c.FormValue("client_secret")}
}

func deviceInfo(c echo.Context, source string) domain.DeviceInfo {
	name := c.FormValue("device_name")
	if name == "" {
		name = c.Request().UserAgent()
	}
	return domain.DeviceInfo{
		Name:     name,
		IP:       c.RealIP(),
		Location: c.FormValue("location"),
		Source:   source,
	}
}

func noStore(c echo.Context) {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
}

// TokenHandler serves the token endpoint for every supported grant.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	noStore(c)

	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	resp, err := oa.provider.TokenExchange().Exchange(c.Request().Context(), tenant, services.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Client:       clientCredentials(c),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
		Device:       deviceInfo(c, "oauth2/token"),
	})
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RevokeHandler revokes a refresh token held by the calling client. Unknown
// tokens are reported as success.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	err = oa.provider.Revocation().RevokeClientToken(c.Request().Context(), tenant, clientCredentials(c), c.FormValue("token"))
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// IntrospectHandler reports whether an access token is active. Rejected
// tokens yield active=false rather than an error.
func (oa *OAuth2API) IntrospectHandler(c echo.Context) error {
	noStore(c)

	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	token := c.FormValue("token")
	if token == "" {
		token = bearerToken(c)
	}

	at, err := oa.provider.Validator().Validate(c.Request().Context(), tenant, token)
	if err != nil {
		var oauthErr *errors.OAuth2Error
		if stderrors.As(err, &oauthErr) && oauthErr.Code == errors.Unauthorized {
			return c.JSON(http.StatusOK, echo.Map{"active": false})
		}
		return oa.renderError(c, err)
	}

	body := echo.Map{}
	for k, v := range at.Claims {
		body[k] = v
	}
	body["active"] = true
	body["token_type"] = services.BearerTokenType
	return c.JSON(http.StatusOK, body)
}

// UserInfoHandler returns the claims of the bearer's profile released by the
// access token's scopes.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	noStore(c)

	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	info, err := oa.provider.UserInfo().UserInfo(c.Request().Context(), tenant, bearerToken(c))
	if err != nil {
		var oauthErr *errors.OAuth2Error
		if stderrors.As(err, &oauthErr) && oauthErr.Code == errors.Unauthorized {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
		}
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// LoginRequest is the body of a first-party login.
type LoginRequest struct {
	ClientID   string `json:"client_id"   form:"client_id"`
	Username   string `json:"username"    form:"username"`
	Password   string `json:"password"    form:"password"`
	Scope      string `json:"scope"       form:"scope"`
	DeviceName string `json:"device_name" form:"device_name"`
	Location   string `json:"location"    form:"location"`
}

// LoginHandler authenticates a user with username and password and opens a
// session. The SSO token is also set as a cookie.
func (oa *OAuth2API) LoginHandler(c echo.Context) error {
	noStore(c)

	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return oa.renderError(c, errors.NewInvalidRequest("Malformed login request"))
	}

	device := deviceInfo(c, "v1/login")
	if req.DeviceName != "" {
		device.Name = req.DeviceName
	}
	if req.Location != "" {
		device.Location = req.Location
	}

	creds := map[string]string{}
	if req.Username != "" || req.Password != "" {
		creds["username"] = req.Username
		creds["password"] = req.Password
	}

	res, err := oa.provider.Sessions().IssueSession(c.Request().Context(), tenant, services.LoginRequest{
		ClientID:    req.ClientID,
		Credentials: creds,
		Scope:       req.Scope,
		Device:      device,
	})
	if err != nil {
		return oa.renderError(c, err)
	}

	setSsoCookie(c, res)
	return c.JSON(http.StatusOK, res)
}

func setSsoCookie(c echo.Context, res *services.SessionResult) {
	c.SetCookie(&http.Cookie{
		Name:     SsoCookie,
		Value:    res.SsoToken,
		Path:     "/",
		Expires:  res.SsoTokenExpiry,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// SignUpRequest is the body of a first-party registration. AdditionalInfo is
// only read from JSON bodies.
type SignUpRequest struct {
	ClientID       string         `json:"client_id"       form:"client_id"`
	Username       string         `json:"username"        form:"username"`
	Password       string         `json:"password"        form:"password"`
	Scope          string         `json:"scope"           form:"scope"`
	DeviceName     string         `json:"device_name"     form:"device_name"`
	Location       string         `json:"location"        form:"location"`
	AdditionalInfo map[string]any `json:"additional_info"`
}

// SignUpHandler registers a user and opens their first session. The SSO
// token is also set as a cookie.
func (oa *OAuth2API) SignUpHandler(c echo.Context) error {
	noStore(c)

	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	var req SignUpRequest
	if err := c.Bind(&req); err != nil {
		return oa.renderError(c, errors.NewInvalidRequest("Malformed sign-up request"))
	}

	device := deviceInfo(c, "v1/signup")
	if req.DeviceName != "" {
		device.Name = req.DeviceName
	}
	if req.Location != "" {
		device.Location = req.Location
	}

	res, err := oa.provider.Sessions().SignUp(c.Request().Context(), tenant, services.SignUpRequest{
		ClientID: req.ClientID,
		Username: req.Username,
		Password: req.Password,
		Profile:  req.AdditionalInfo,
		Scope:    req.Scope,
		Device:   device,
	})
	if err != nil {
		return oa.renderError(c, err)
	}

	setSsoCookie(c, res)
	return c.JSON(http.StatusOK, res)
}

// LogoutHandler ends the caller's session, named by refresh_token or by the
// SSO cookie. is_universal_logout ends all of the user's sessions.
func (oa *OAuth2API) LogoutHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	req := services.LogoutRequest{RefreshToken: c.FormValue("refresh_token")}
	if req.RefreshToken == "" {
		if cookie, err := c.Cookie(SsoCookie); err == nil {
			req.SsoToken = cookie.Value
		}
	}
	if v := c.FormValue("is_universal_logout"); v != "" {
		universal, err := strconv.ParseBool(v)
		if err != nil {
			return oa.renderError(c, errors.NewInvalidRequest("is_universal_logout must be a boolean"))
		}
		req.Universal = universal
	}

	revoked, err := oa.provider.Revocation().Logout(c.Request().Context(), tenant, req)
	if err != nil {
		return oa.renderError(c, err)
	}

	c.SetCookie(&http.Cookie{Name: SsoCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: true})
	return c.JSON(http.StatusOK, echo.Map{"revoked": revoked})
}

// AdminLogoutHandler ends every session of user_id, optionally limited to
// client_id.
func (oa *OAuth2API) AdminLogoutHandler(c echo.Context) error {
	tenant, err := oa.tenant(c)
	if err != nil {
		return oa.renderError(c, err)
	}

	revoked, err := oa.provider.Revocation().LogoutUser(c.Request().Context(), tenant, c.FormValue("user_id"), c.FormValue("client_id"))
	if err != nil {
		return oa.renderError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": revoked})
}
