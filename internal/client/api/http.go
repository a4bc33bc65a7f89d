package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/neodalsi/dalsi/internal/client/models"
	"github.com/neodalsi/dalsi/internal/common"
)

const defaultTimeout = 12 * time.Second

// RESTClient talks JSON over HTTPS to the portal API.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RESTClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured API root, e.g. "https://api.neodalsi.com".
func (c *RESTClient) BaseURL() string { return c.baseURL }

type authResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
	Error   string       `json:"error,omitempty"`
}

type verifyResponse struct {
	Valid bool         `json:"valid"`
	User  *models.User `json:"user"`
	Error string       `json:"error,omitempty"`
}

func (c *RESTClient) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password, "name": name}
	return c.authCall(ctx, "/api/auth/register", body)
}

func (c *RESTClient) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authCall(ctx, "/api/auth/login", body)
}

func (c *RESTClient) authCall(ctx context.Context, path string, body any) (*AuthResult, error) {
	resp, err := c.postJSON(ctx, path, body, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar authResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&ar)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// A 4xx without a token is a credentials rejection, not an outage.
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidCredentials, ar.Error)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", common.ErrUnavailable, resp.StatusCode)
	}
	if decodeErr != nil || !ar.Success || ar.Token == "" || ar.User == nil {
		return nil, common.ErrServerError
	}

	return &AuthResult{Token: ar.Token, User: ar.User}, nil
}

// Verify checks token against the remote verify endpoint. A nil error means
// the token is valid and the returned user is current. ErrUnauthorized means
// the token is definitively dead; any other error leaves its fate unknown.
func (c *RESTClient) Verify(ctx context.Context, token string) (*models.User, error) {
	resp, err := c.postJSON(ctx, "/api/auth/verify", nil, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, common.ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", common.ErrUnavailable, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, common.ErrServerError
	}
	if !vr.Valid {
		// The server answered and said no: treat like a 401.
		return nil, common.ErrUnauthorized
	}
	return vr.User, nil
}

func (c *RESTClient) Refresh(ctx context.Context, token string) (string, error) {
	resp, err := c.postJSON(ctx, "/api/auth/refresh", nil, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", common.ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d", common.ErrUnavailable, resp.StatusCode)
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil || !ar.Success || ar.Token == "" {
		return "", common.ErrServerError
	}
	return ar.Token, nil
}

// GenerateWith sends a generation request. When doer is non-nil the request
// goes through it (the token service attaches the bearer credential and
// handles the one refresh-and-retry cycle); otherwise the request is sent
// plain and the server attributes it to req.SessionID.
func (c *RESTClient) GenerateWith(ctx context.Context, doer Doer, greq *GenerateRequest) (*GenerateResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/generate", greq, "")
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	if doer != nil {
		resp, err = doer.Do(req)
	} else {
		resp, err = c.http.Do(req)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The doer reports a dead credential as an auth-class error; that
		// verdict must survive to the caller, not be relabelled an outage.
		if errors.Is(err, common.ErrSessionExpired) || errors.Is(err, common.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, common.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, common.ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", common.ErrUnavailable, resp.StatusCode)
	}

	var gr GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, common.ErrServerError
	}
	return &gr, nil
}

func (c *RESTClient) Plan(ctx context.Context, tier string) (*Plan, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/plans/"+tier, nil, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, common.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", common.ErrUnavailable, resp.StatusCode)
	}

	var p Plan
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, common.ErrServerError
	}
	return &p, nil
}

func (c *RESTClient) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/health", nil, "")
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return common.ErrUnavailable
	}
	return nil
}

func (c *RESTClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *RESTClient) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// postJSON wraps newRequest+Do with network-error mapping.
func (c *RESTClient) postJSON(ctx context.Context, path string, body any, token string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return resp, nil
}
