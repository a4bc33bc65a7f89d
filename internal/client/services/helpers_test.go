package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/neodalsi/dalsi/internal/client/api"
	"github.com/neodalsi/dalsi/internal/client/models"
	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/logging"
)

// ---- helpers ----

func setupStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return storage.NewSQLiteStore(db)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---- fake API client ----

// fakeAPI implements api.Client for unit tests of the services. The mutex
// makes the call counters safe to poll while the auto-refresh loop runs.
type fakeAPI struct {
	mu sync.Mutex

	LoginRet *api.AuthResult
	LoginErr error

	RegisterRet *api.AuthResult
	RegisterErr error

	VerifyRet *models.User
	VerifyErr error

	RefreshRet string
	RefreshErr error

	GenerateRet *api.GenerateResponse
	GenerateErr error

	PlanRet map[string]*api.Plan
	PlanErr error

	PingErr error

	// call counters and last-seen arguments
	LoginCalls    int
	VerifyCalls   int
	RefreshCalls  int
	GenerateCalls int

	LastLoginEmail   string
	LastVerifyToken  string
	LastRefreshToken string
	LastDoer         api.Doer
	LastGenerate     *api.GenerateRequest
}

func (f *fakeAPI) Login(ctx context.Context, email, password string) (*api.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginCalls++
	f.LastLoginEmail = email
	return f.LoginRet, f.LoginErr
}

func (f *fakeAPI) Register(ctx context.Context, email, password, name string) (*api.AuthResult, error) {
	return f.RegisterRet, f.RegisterErr
}

func (f *fakeAPI) Verify(ctx context.Context, token string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VerifyCalls++
	f.LastVerifyToken = token
	return f.VerifyRet, f.VerifyErr
}

func (f *fakeAPI) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.VerifyCalls
}

func (f *fakeAPI) Refresh(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	f.LastRefreshToken = token
	return f.RefreshRet, f.RefreshErr
}

func (f *fakeAPI) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RefreshCalls
}

func (f *fakeAPI) GenerateWith(ctx context.Context, doer api.Doer, req *api.GenerateRequest) (*api.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GenerateCalls++
	f.LastDoer = doer
	f.LastGenerate = req
	return f.GenerateRet, f.GenerateErr
}

func (f *fakeAPI) Plan(ctx context.Context, tier string) (*api.Plan, error) {
	if p, ok := f.PlanRet[tier]; ok {
		return p, nil
	}
	if f.PlanErr != nil {
		return nil, f.PlanErr
	}
	return nil, common.ErrNotFound
}

func (f *fakeAPI) Ping(ctx context.Context) error { return f.PingErr }

func (f *fakeAPI) Close() error { return nil }

// ---- fake HTTP transport ----

// fakeTransport answers a scripted sequence of status codes and records the
// Authorization header of each request it sees.
type fakeTransport struct {
	Statuses []int
	Calls    int
	Auths    []string
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	f.Auths = append(f.Auths, req.Header.Get("Authorization"))
	status := http.StatusOK
	if f.Calls < len(f.Statuses) {
		status = f.Statuses[f.Calls]
	}
	f.Calls++
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     make(http.Header),
	}, nil
}

func testUser(tier models.Tier) *models.User {
	return &models.User{ID: "u1", Email: "user@example.com", Name: "User", Tier: tier}
}
