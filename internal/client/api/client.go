// Package api implements the portal's REST client: the auth endpoints, the
// generation endpoint, the plans (limits) source, and the health probe.
//
// Error contract: transport-level failures (dial, timeout, 5xx) map to
// common.ErrUnavailable, a definitive HTTP 401 maps to
// common.ErrUnauthorized, and a 2xx with an unusable body maps to
// common.ErrServerError. Callers distinguish the classes with errors.Is;
// collapsing network failures into auth failures is the one bug this
// layering exists to prevent.
package api

import (
	"context"
	"net/http"

	"github.com/neodalsi/dalsi/internal/client/models"
)

// Doer executes an HTTP request. The token service implements it to attach
// the bearer credential and run the single refresh-and-retry cycle; passing
// a nil Doer to GenerateWith sends the request unauthenticated (guest
// attribution via session_id).
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthResult is a successful login or registration: the issued credential
// plus the user snapshot to cache alongside it.
type AuthResult struct {
	Token string
	User  *models.User
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Message    string `json:"message"`
	Mode       string `json:"mode"`
	UseHistory bool   `json:"use_history"`
	SessionID  string `json:"session_id,omitempty"`
}

// GenerateResponse is the reply of POST /generate.
type GenerateResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources,omitempty"`
}

// PlanLimits is the quota block of a subscription plan.
type PlanLimits struct {
	QueriesPerHour int `json:"queries_per_hour"`
	QueriesPerDay  int `json:"queries_per_day"`
}

// Plan is one row of the remote plan table.
type Plan struct {
	Name   string     `json:"name"`
	Tier   string     `json:"tier"`
	Limits PlanLimits `json:"limits"`
}

type Client interface {
	Register(ctx context.Context, email, password, name string) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Verify(ctx context.Context, token string) (*models.User, error)
	Refresh(ctx context.Context, token string) (string, error)
	GenerateWith(ctx context.Context, doer Doer, req *GenerateRequest) (*GenerateResponse, error)
	Plan(ctx context.Context, tier string) (*Plan, error)
	Ping(ctx context.Context) error
	Close() error
}
