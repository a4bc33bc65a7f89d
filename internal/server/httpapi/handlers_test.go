package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/logging"
	"github.com/neodalsi/dalsi/internal/server/generate"
	"github.com/neodalsi/dalsi/internal/server/plans"
	"github.com/neodalsi/dalsi/internal/server/users"
)

type fakeUserService struct {
	RegisterRet *users.User
	RegisterErr error
	LoginRet    *users.User
	LoginErr    error
	VerifyRet   *users.User
	VerifyErr   error
	RefreshRet  string
	RefreshErr  error

	VerifyTokens []string
}

func (f *fakeUserService) Register(ctx context.Context, email, password, name string) (*users.User, string, error) {
	if f.RegisterErr != nil {
		return nil, "", f.RegisterErr
	}
	return f.RegisterRet, "token-registered", nil
}

func (f *fakeUserService) Login(ctx context.Context, email, password string) (*users.User, string, error) {
	if f.LoginErr != nil {
		return nil, "", f.LoginErr
	}
	return f.LoginRet, "token-logged-in", nil
}

func (f *fakeUserService) Verify(ctx context.Context, token string) (*users.User, error) {
	f.VerifyTokens = append(f.VerifyTokens, token)
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	return f.VerifyRet, nil
}

func (f *fakeUserService) Refresh(ctx context.Context, token string) (string, error) {
	if f.RefreshErr != nil {
		return "", f.RefreshErr
	}
	return f.RefreshRet, nil
}

type fakePlanSource struct {
	Plans map[string]*plans.Plan
}

func (f *fakePlanSource) GetByTier(ctx context.Context, tier string) (*plans.Plan, error) {
	if p, ok := f.Plans[tier]; ok {
		return p, nil
	}
	return nil, common.ErrNotFound
}

type fakeResponder struct {
	LastReq *generate.Request
	Err     error
}

func (f *fakeResponder) Generate(ctx context.Context, req *generate.Request) (*generate.Response, error) {
	f.LastReq = req
	if f.Err != nil {
		return nil, f.Err
	}
	return &generate.Response{Text: "echo: " + req.Message, Sources: []string{"kb/1"}}, nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testUser() *users.User {
	return &users.User{ID: "u-1", Email: "ada@example.com", Name: "Ada", Tier: "pro"}
}

func newTestRouter(t *testing.T, us UserService, ps PlanSource, resp generate.Responder, rl *RateLimiter) http.Handler {
	t.Helper()
	if ps == nil {
		ps = &fakePlanSource{}
	}
	if resp == nil {
		resp = &fakeResponder{}
	}
	return NewRouter(&RouterDeps{
		Users:       us,
		Plans:       ps,
		Responder:   resp,
		Logger:      testLogger(),
		RateLimiter: rl,
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterIssuesTokenAndSnapshot(t *testing.T) {
	us := &fakeUserService{RegisterRet: testUser()}
	router := newTestRouter(t, us, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "ada@example.com", "password": "s3cret", "name": "Ada"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "token-registered", got["token"])

	user, ok := got["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, "pro", user["subscription_tier"])
}

func TestRegisterDuplicateEmailIsConflict(t *testing.T) {
	us := &fakeUserService{RegisterErr: common.ErrAlreadyExists}
	router := newTestRouter(t, us, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "ada@example.com", "password": "s3cret"}, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestRegisterRequiresEmailAndPassword(t *testing.T) {
	router := newTestRouter(t, &fakeUserService{}, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "ada@example.com"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRejectedCredentialsAre401(t *testing.T) {
	us := &fakeUserService{LoginErr: common.ErrUnauthorized}
	router := newTestRouter(t, us, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ada@example.com", "password": "wrong"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyValidToken(t *testing.T) {
	us := &fakeUserService{VerifyRet: testUser()}
	router := newTestRouter(t, us, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/verify", nil,
		map[string]string{"Authorization": "Bearer tok-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"tok-1"}, us.VerifyTokens)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["valid"])
}

func TestVerifyWithoutBearerIs401(t *testing.T) {
	router := newTestRouter(t, &fakeUserService{VerifyRet: testUser()}, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/verify", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshIssuesFreshToken(t *testing.T) {
	us := &fakeUserService{RefreshRet: "tok-fresh"}
	router := newTestRouter(t, us, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/refresh", nil,
		map[string]string{"Authorization": "Bearer tok-old"})

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "tok-fresh", got["token"])
}

func TestGenerateGuestUsesSessionID(t *testing.T) {
	resp := &fakeResponder{}
	router := newTestRouter(t, &fakeUserService{}, nil, resp, nil)

	rec := doJSON(t, router, http.MethodPost, "/generate",
		map[string]any{"message": "hello", "session_id": "guest_1_abc"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.LastReq)
	assert.Equal(t, "guest_1_abc", resp.LastReq.SessionID)
	assert.Contains(t, rec.Body.String(), "echo: hello")
}

func TestGenerateGuestWithoutSessionIDIsRejected(t *testing.T) {
	router := newTestRouter(t, &fakeUserService{}, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/generate",
		map[string]any{"message": "hello"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateAuthenticatedAttributesToAccount(t *testing.T) {
	us := &fakeUserService{VerifyRet: testUser()}
	resp := &fakeResponder{}
	router := newTestRouter(t, us, nil, resp, nil)

	rec := doJSON(t, router, http.MethodPost, "/generate",
		map[string]any{"message": "hello"},
		map[string]string{"Authorization": "Bearer tok-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.LastReq)
	assert.Equal(t, "u-1", resp.LastReq.SessionID)
}

func TestGenerateDeadCredentialIs401(t *testing.T) {
	us := &fakeUserService{VerifyErr: common.ErrUnauthorized}
	router := newTestRouter(t, us, nil, nil, nil)

	rec := doJSON(t, router, http.MethodPost, "/generate",
		map[string]any{"message": "hello", "session_id": "guest_1_abc"},
		map[string]string{"Authorization": "Bearer tok-dead"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlanLookup(t *testing.T) {
	ps := &fakePlanSource{Plans: map[string]*plans.Plan{
		"pro": {Tier: "pro", Name: "Pro", QueriesPerHour: 100, QueriesPerDay: 1000},
	}}
	router := newTestRouter(t, &fakeUserService{}, ps, nil, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/plans/pro", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var got planResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Pro", got.Name)
	assert.Equal(t, 100, got.Limits.QueriesPerHour)
	assert.Equal(t, 1000, got.Limits.QueriesPerDay)
}

func TestPlanUnknownTierIs404(t *testing.T) {
	router := newTestRouter(t, &fakeUserService{}, nil, nil, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/plans/platinum", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthProbe(t *testing.T) {
	router := newTestRouter(t, &fakeUserService{}, nil, nil, nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
