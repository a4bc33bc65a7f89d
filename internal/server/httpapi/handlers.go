// Package httpapi exposes the portal's REST surface: the auth endpoints,
// the generation endpoint, the plan table, and the health probe. Response
// shapes are a wire contract with the client and must not change.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/logging"
	"github.com/neodalsi/dalsi/internal/server/generate"
	"github.com/neodalsi/dalsi/internal/server/plans"
	"github.com/neodalsi/dalsi/internal/server/users"
)

// UserService is the slice of the users service the handlers need.
type UserService interface {
	Register(ctx context.Context, email, password, name string) (*users.User, string, error)
	Login(ctx context.Context, email, password string) (*users.User, string, error)
	Verify(ctx context.Context, token string) (*users.User, error)
	Refresh(ctx context.Context, token string) (string, error)
}

// PlanSource resolves a subscription tier to its quota limits.
type PlanSource interface {
	GetByTier(ctx context.Context, tier string) (*plans.Plan, error)
}

type Handler struct {
	users     UserService
	plans     PlanSource
	responder generate.Responder
	log       logging.Logger
}

func NewHandler(us UserService, ps PlanSource, resp generate.Responder, log logging.Logger) *Handler {
	return &Handler{users: us, plans: ps, responder: resp, log: log}
}

// wireUser mirrors the snapshot the client caches locally.
type wireUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Tier      string    `json:"subscription_tier,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func toWireUser(u *users.User) *wireUser {
	if u == nil {
		return nil
	}
	return &wireUser{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Tier:      u.Tier,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type authResponse struct {
	Success bool      `json:"success"`
	Token   string    `json:"token,omitempty"`
	User    *wireUser `json:"user,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type verifyResponse struct {
	Valid bool      `json:"valid"`
	User  *wireUser `json:"user,omitempty"`
	Error string    `json:"error,omitempty"`
}

type generateRequest struct {
	Message    string `json:"message"`
	Mode       string `json:"mode"`
	UseHistory bool   `json:"use_history"`
	SessionID  string `json:"session_id"`
}

type generateResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

type planResponse struct {
	Name   string `json:"name"`
	Tier   string `json:"tier"`
	Limits struct {
		QueriesPerHour int `json:"queries_per_hour"`
		QueriesPerDay  int `json:"queries_per_day"`
	} `json:"limits"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Error: "malformed request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, authResponse{Error: "email and password are required"})
		return
	}

	user, token, err := h.users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, authResponse{Error: "an account with this email already exists"})
			return
		}
		h.log.Error(r.Context(), "registration failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, authResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Success: true, Token: token, User: toWireUser(user)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Error: "malformed request body"})
		return
	}

	user, token, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, authResponse{Error: "invalid email or password"})
			return
		}
		h.log.Error(r.Context(), "login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, authResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Success: true, Token: token, User: toWireUser(user)})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Error: "missing bearer token"})
		return
	}

	user, err := h.users.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, verifyResponse{Error: "token is not valid"})
			return
		}
		h.log.Error(r.Context(), "verify failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, verifyResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: toWireUser(user)})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, authResponse{Error: "missing bearer token"})
		return
	}

	fresh, err := h.users.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, authResponse{Error: "token is not valid"})
			return
		}
		h.log.Error(r.Context(), "refresh failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, authResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Success: true, Token: fresh})
}

// Generate serves POST /generate. A bearer credential attributes the
// request to the account; without one the request is attributed to the
// session_id in the body. A dead credential is a 401 so the client can
// run its refresh-and-retry cycle.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	sessionID := req.SessionID
	if token, ok := bearerToken(r); ok {
		user, err := h.users.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, common.ErrUnauthorized) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token is not valid"})
				return
			}
			h.log.Error(r.Context(), "verify during generate failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		sessionID = user.ID
	} else if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required for guest requests"})
		return
	}

	resp, err := h.responder.Generate(r.Context(), &generate.Request{
		Message:    req.Message,
		Mode:       req.Mode,
		UseHistory: req.UseHistory,
		SessionID:  sessionID,
	})
	if err != nil {
		h.log.Error(r.Context(), "generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{Response: resp.Text, Sources: resp.Sources})
}

func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	tier := chi.URLParam(r, "tier")

	plan, err := h.plans.GetByTier(r.Context(), tier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tier"})
			return
		}
		h.log.Error(r.Context(), "plan lookup failed", "tier", tier, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	var pr planResponse
	pr.Name = plan.Name
	pr.Tier = plan.Tier
	pr.Limits.QueriesPerHour = plan.QueriesPerHour
	pr.Limits.QueriesPerDay = plan.QueriesPerDay
	writeJSON(w, http.StatusOK, pr)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
