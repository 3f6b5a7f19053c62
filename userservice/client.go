// Package userservice talks to the external user directory over HTTP.
//
// Each tenant points at its own service through Tenant.UserServiceURL:
//
//	GET  {url}/user?{filters}       -> profile, or 2xx without userId when absent
//	POST {url}/user                 -> created profile
//	POST {url}/user/authenticate    -> authenticated profile
package userservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go.pilab.hu/idp/domain"
)

const (
	getUserPath      = "/user"
	createUserPath   = "/user"
	authenticatePath = "/user/authenticate"

	maxResponseSize = 1 << 20
)

// StatusError carries a non-2xx response from the user service.
type StatusError struct {
	StatusCode int
	Body       map[string]any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("user service responded with status %d", e.StatusCode)
}

// Client implements domain.UserService.
type Client struct {
	httpClient *http.Client
}

var _ domain.UserService = (*Client)(nil)

// NewClient creates a client whose requests are traced and bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) GetUser(ctx context.Context, tenant *domain.Tenant, filters map[string]string) (*domain.User, error) {
	query := url.Values{}
	for k, v := range filters {
		query.Set(k, v)
	}

	endpoint, err := endpoint(tenant, getUserPath)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}

	profile, err := c.do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	user := domain.NewUser(profile)
	if user.ID == "" {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (c *Client) CreateUser(ctx context.Context, tenant *domain.Tenant, profile map[string]any) (*domain.User, error) {
	created, err := c.postJSON(ctx, tenant, createUserPath, profile)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %w", domain.ErrUserExists, err)
		}
		return nil, err
	}
	user := domain.NewUser(created)
	if user.ID == "" {
		return nil, errors.New("user service returned a profile without userId")
	}
	return user, nil
}

func (c *Client) Authenticate(ctx context.Context, tenant *domain.Tenant, credentials map[string]string) (*domain.User, error) {
	profile, err := c.postJSON(ctx, tenant, authenticatePath, credentials)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, err)
		}
		return nil, err
	}
	user := domain.NewUser(profile)
	if user.ID == "" {
		return nil, errors.New("user service returned a profile without userId")
	}
	return user, nil
}

func (c *Client) postJSON(ctx context.Context, tenant *domain.Tenant, path string, payload any) (map[string]any, error) {
	endpoint, err := endpoint(tenant, path)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build user request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user service response: %w", err)
	}

	var body map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil && resp.StatusCode/100 == 2 {
			return nil, fmt.Errorf("failed to decode user service response: %w", err)
		}
	}

	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

func endpoint(tenant *domain.Tenant, path string) (string, error) {
	if tenant == nil || tenant.UserServiceURL == "" {
		return "", errors.New("tenant has no user service configured")
	}
	return strings.TrimRight(tenant.UserServiceURL, "/") + path, nil
}
