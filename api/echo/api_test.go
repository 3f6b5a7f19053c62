package echo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idpecho "go.pilab.hu/idp/api/echo"
	"go.pilab.hu/idp/cache"
	"go.pilab.hu/idp/config"
	"go.pilab.hu/idp/domain"
	"go.pilab.hu/idp/log"
	"go.pilab.hu/idp/memory"
	"go.pilab.hu/idp/services"
	"go.pilab.hu/idp/tenant"
)

const (
	testRedirect = "https://app/cb"
	adminToken   = "admin-secret"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })

	users := memory.NewUserDirectory()
	users.Add("acme", map[string]any{"userId": "u1", "username": "alice", "password": "pw", "email": "alice@acme.test"})

	provider, err := services.NewProvider(services.ProviderOptions{
		Challenges:  cache.NewChallengeStore(backend),
		Tokens:      memory.NewTokenStore(),
		Consents:    memory.NewConsentStore(),
		Revocations: cache.NewMemoryRevocationStore(),
		Clients: memory.NewClientRegistry(domain.Client{
			ID:            "c1",
			TenantID:      "acme",
			Secret:        "s1",
			RedirectURIs:  []string{testRedirect},
			ResponseTypes: []string{"code"},
			GrantTypes:    []string{"authorization_code", "refresh_token"},
			Scopes:        []string{"openid", "profile", "email"},
			SkipConsent:   true,
		}, domain.Client{
			ID:            "c2",
			TenantID:      "acme",
			Name:          "Consenting App",
			Secret:        "s2",
			RedirectURIs:  []string{testRedirect},
			ResponseTypes: []string{"code"},
			GrantTypes:    []string{"authorization_code", "refresh_token"},
			Scopes:        []string{"openid", "profile", "email"},
		}),
		Scopes: memory.NewScopeRegistry(domain.Scope{TenantID: "acme", Name: "email", Claims: []string{"email"}}),
		Users:  users,
	})
	require.NoError(t, err)
	t.Cleanup(provider.Wait)

	tenants := tenant.NewRegistry([]config.TenantConfig{{
		ID:                 "acme",
		Issuer:             "https://id.acme.test",
		AuthorizeTTL:       time.Minute,
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		IDTokenExpiry:      time.Hour,
		KeyID:              "acme",
		LoginPageURI:       "https://login.acme.test/login?ui=1",
		ConsentPageURI:     "https://login.acme.test/consent",
	}}, time.Minute, log.NewNopLogger())

	api := idpecho.NewOAuth2API(provider, tenants, log.NewNopLogger(), adminToken)
	return idpecho.NewServer(api, log.NewNopLogger(), prometheus.NewRegistry())
}

func do(e *echo.Echo, method, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	req.Header.Set(idpecho.TenantHeader, "acme")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func authorizeURL(scope string) string {
	return authorizeURLFor("c1", scope)
}

func authorizeURLFor(clientID, scope string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", testRedirect)
	q.Set("response_type", "code")
	q.Set("scope", scope)
	q.Set("state", "s1")
	return "/oauth2/authorize?" + q.Encode()
}

func TestAuthorizeHandler(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodGet, authorizeURL("openid profile"), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "login.acme.test", loc.Host)
	assert.Equal(t, "1", loc.Query().Get("ui"))
	assert.NotEmpty(t, loc.Query().Get("login_challenge"))

	// Once the redirect URI is trusted, errors go back to the client.
	rec = do(e, http.MethodGet, authorizeURL("profile"), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err = url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "app", loc.Host)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
	assert.NotEmpty(t, loc.Query().Get("error_description"))

	rec = do(e, http.MethodGet, strings.Replace(authorizeURL("openid"), "client_id=c1", "client_id=ghost", 1), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decode(t, rec)["error"])

	rec = do(e, http.MethodGet, strings.Replace(authorizeURL("openid"), "app%2Fcb", "evil%2Fcb", 1), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_redirect_uri", decode(t, rec)["error"])
}

func TestTenantHeader(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, authorizeURL("openid"), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["error"])

	rec = do(e, http.MethodGet, authorizeURL("openid"), nil, http.Header{})
	assert.Equal(t, http.StatusFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, authorizeURL("openid"), nil)
	req.Header.Set(idpecho.TenantHeader, "globex")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestServer(t)

	// First-party login.
	rec := do(e, http.MethodPost, "/v1/login", url.Values{
		"client_id": {"c1"}, "username": {"alice"}, "password": {"pw"}, "scope": {"openid email"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode(t, rec)
	refreshToken, _ := login["refresh_token"].(string)
	require.NotEmpty(t, refreshToken)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))

	var sso *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == idpecho.SsoCookie {
			sso = c
		}
	}
	require.NotNil(t, sso)
	assert.True(t, sso.HttpOnly)
	assert.Equal(t, login["sso_token"], sso.Value)

	// Authorization code flow on top of the session.
	rec = do(e, http.MethodGet, authorizeURL("openid email"), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)

	rec = do(e, http.MethodPost, "/oauth2/login/accept", url.Values{
		"refresh_token":   {refreshToken},
		"login_challenge": {loc.Query().Get("login_challenge")},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	redirect, err := url.Parse(decode(t, rec)["redirect_to"].(string))
	require.NoError(t, err)
	assert.Equal(t, "s1", redirect.Query().Get("state"))
	code := redirect.Query().Get("code")
	require.Len(t, code, services.CodeLength)

	basic := http.Header{}
	basic.Set(echo.HeaderAuthorization, "Basic "+basicAuth("c1", "s1"))
	rec = do(e, http.MethodPost, "/oauth2/token", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirect},
	}, basic)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tokens := decode(t, rec)
	assert.Equal(t, "Bearer", tokens["token_type"])
	assert.EqualValues(t, 900, tokens["expires_in"])
	assert.NotEmpty(t, tokens["id_token"])
	accessToken := tokens["access_token"].(string)

	rec = do(e, http.MethodPost, "/oauth2/introspect", url.Values{"token": {accessToken}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	intro := decode(t, rec)
	assert.Equal(t, true, intro["active"])
	assert.Equal(t, "u1", intro["sub"])

	// Universal logout through the SSO cookie kills both sessions.
	req := httptest.NewRequest(http.MethodPost, "/v1/logout", strings.NewReader("is_universal_logout=true"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set(idpecho.TenantHeader, "acme")
	req.AddCookie(sso)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode(t, rec)["revoked"])

	rec = do(e, http.MethodPost, "/oauth2/introspect", url.Values{"token": {accessToken}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = do(e, http.MethodPost, "/oauth2/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens["refresh_token"].(string)},
		"client_id":     {"c1"},
		"client_secret": {"s1"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Equal(t, "refresh_token is inactive", body["error_description"])
}

func TestTokenHandler_ClientAuthFailure(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/oauth2/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"x"},
		"client_id":     {"c1"},
		"client_secret": {"wrong"},
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="https://id.acme.test"`, rec.Header().Get(echo.HeaderWWWAuthenticate))
	assert.Equal(t, "invalid_client", decode(t, rec)["error"])
}

func TestRevokeHandler(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/oauth2/revoke", url.Values{
		"token": {"unknown"}, "client_id": {"c1"}, "client_secret": {"s1"},
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, "/oauth2/revoke", url.Values{
		"client_id": {"c1"}, "client_secret": {"s1"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminLogoutHandler(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/login", url.Values{
		"client_id": {"c1"}, "username": {"alice"}, "password": {"pw"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, "/v1/admin/logout", url.Values{"user_id": {"u1"}},
		http.Header{echo.HeaderAuthorization: {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPost, "/v1/admin/logout", url.Values{"user_id": {"u1"}},
		http.Header{echo.HeaderAuthorization: {"Bearer " + adminToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["revoked"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, authorizeURL("openid"), nil, http.Header{echo.HeaderXForwardedProto: {"https"}})

	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Equal(t, "DENY", rec.Header().Get(echo.HeaderXFrameOptions))
	assert.Equal(t, "no-referrer", rec.Header().Get(echo.HeaderReferrerPolicy))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentSecurityPolicy), "frame-ancestors 'none'")
	assert.Contains(t, rec.Header().Get(echo.HeaderStrictTransportSecurity), "max-age=31536000")
}

// login opens a first-party session for alice and returns its refresh token.
func login(t *testing.T, e *echo.Echo, scope string) string {
	t.Helper()
	rec := do(e, http.MethodPost, "/v1/login", url.Values{
		"client_id": {"c1"}, "username": {"alice"}, "password": {"pw"}, "scope": {scope},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rt, _ := decode(t, rec)["refresh_token"].(string)
	require.NotEmpty(t, rt)
	return rt
}

// consentChallenge walks authorize and login accept for c2 up to its consent
// challenge.
func consentChallenge(t *testing.T, e *echo.Echo, refreshToken string) string {
	t.Helper()
	rec := do(e, http.MethodGet, authorizeURLFor("c2", "openid email"), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)

	rec = do(e, http.MethodPost, "/oauth2/login/accept", url.Values{
		"refresh_token":   {refreshToken},
		"login_challenge": {loc.Query().Get("login_challenge")},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	redirect, err := url.Parse(decode(t, rec)["redirect_to"].(string))
	require.NoError(t, err)
	assert.Equal(t, "login.acme.test", redirect.Host)
	challenge := redirect.Query().Get("consent_challenge")
	require.NotEmpty(t, challenge)
	return challenge
}

func TestUserInfoHandler(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/login", url.Values{
		"client_id": {"c1"}, "username": {"alice"}, "password": {"pw"}, "scope": {"openid email"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accessToken := decode(t, rec)["access_token"].(string)

	bearer := http.Header{echo.HeaderAuthorization: {"Bearer " + accessToken}}
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec = do(e, method, "/oauth2/userinfo", nil, bearer)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]any{"sub": "u1", "email": "alice@acme.test"}, decode(t, rec))
		assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	}

	rec = do(e, http.MethodGet, "/oauth2/userinfo", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get(echo.HeaderWWWAuthenticate))

	rec = do(e, http.MethodGet, "/oauth2/userinfo", nil, http.Header{echo.HeaderAuthorization: {"Bearer nope"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec)["error"])
}

func TestConsentInfoAndReject(t *testing.T) {
	e := newTestServer(t)
	rt := login(t, e, "openid")
	challenge := consentChallenge(t, e, rt)

	rec := do(e, http.MethodGet, "/oauth2/consent?consent_challenge="+url.QueryEscape(challenge), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode(t, rec)
	assert.Equal(t, map[string]any{"client_id": "c2", "client_name": "Consenting App"}, info["client"])
	assert.Equal(t, []any{"openid", "email"}, info["requested_scopes"])
	assert.Equal(t, []any{}, info["consented_scopes"])
	assert.Equal(t, "u1", info["subject"])

	rec = do(e, http.MethodGet, "/oauth2/consent", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(e, http.MethodGet, "/oauth2/consent?consent_challenge=unknown", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid consent challenge", decode(t, rec)["error_description"])

	rec = do(e, http.MethodPost, "/oauth2/consent/reject", url.Values{
		"refresh_token":     {rt},
		"consent_challenge": {challenge},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	redirect, err := url.Parse(decode(t, rec)["redirect_to"].(string))
	require.NoError(t, err)
	assert.Equal(t, "app", redirect.Host)
	assert.Equal(t, "access_denied", redirect.Query().Get("error"))
	assert.Equal(t, "s1", redirect.Query().Get("state"))
}

func TestSignUpHandler(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/signup", strings.NewReader(
		`{"client_id":"c1","username":"bob","password":"hunter2","scope":"openid email","additional_info":{"email":"bob@acme.test"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(idpecho.TenantHeader, "acme")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEmpty(t, body["user_id"])
	assert.Equal(t, "openid email", body["scope"])

	var sso bool
	for _, c := range rec.Result().Cookies() {
		sso = sso || c.Name == idpecho.SsoCookie
	}
	assert.True(t, sso)

	// The new user can log in and is known to userinfo.
	rec = do(e, http.MethodPost, "/v1/login", url.Values{
		"client_id": {"c1"}, "username": {"bob"}, "password": {"hunter2"}, "scope": {"openid email"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(e, http.MethodGet, "/oauth2/userinfo", nil,
		http.Header{echo.HeaderAuthorization: {"Bearer " + decode(t, rec)["access_token"].(string)}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bob@acme.test", decode(t, rec)["email"])

	rec = do(e, http.MethodPost, "/v1/signup", url.Values{
		"client_id": {"c1"}, "username": {"bob"}, "password": {"again"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User already exists", decode(t, rec)["error_description"])
}

func basicAuth(id, secret string) string {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(id, secret)
	return strings.TrimPrefix(req.Header.Get(echo.HeaderAuthorization), "Basic ")
}
