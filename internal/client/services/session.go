package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/neodalsi/dalsi/internal/client/api"
	"github.com/neodalsi/dalsi/internal/client/models"
	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/logging"
)

// State is the session lifecycle state.
type State string

const (
	StateLoading       State = "loading"
	StateGuest         State = "guest"
	StateAuthenticated State = "authenticated"
)

// Session orchestrates the client subsystems: on startup it reconciles the
// stored credential with a server-verified identity, exposes login/logout
// and the current user, and owns the auto-refresh timer lifecycle. Exactly
// one refresh loop exists per authenticated session.
//
// The error message is not a state of its own: a startup failure leaves the
// session in Guest with Err set, and every successful login or verification
// clears it.
type Session struct {
	tokens *TokenService
	guests *GuestService
	quota  *QuotaTracker
	api    api.Client
	store  storage.Store
	log    logging.Logger

	refreshEvery time.Duration
	skipVerify   bool

	mu      sync.RWMutex
	state   State
	user    *models.User
	errMsg  string
	refresh *RefreshHandle
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithRefreshInterval overrides the auto-refresh period.
func WithRefreshInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.refreshEvery = d }
}

// WithSkipVerify skips the startup verification entirely. Used by flows
// that complete the authentication handshake themselves and would race
// with a concurrent verify.
func WithSkipVerify() SessionOption {
	return func(s *Session) { s.skipVerify = true }
}

func NewSession(client api.Client, store storage.Store, log logging.Logger, opts ...SessionOption) *Session {
	log = log.With("component", "session")
	s := &Session{
		tokens:       NewTokenService(client, store, log),
		guests:       NewGuestService(store, log),
		quota:        NewQuotaTracker(store, client, log),
		api:          client,
		store:        store,
		log:          log,
		refreshEvery: DefaultRefreshInterval,
		state:        StateLoading,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens exposes the token service, mainly for the CLI whoami/logout paths.
func (s *Session) Tokens() *TokenService { return s.tokens }

// Quota exposes the quota tracker for usage display and support resets.
func (s *Session) Quota() *QuotaTracker { return s.quota }

// Start runs the startup reconciliation: credential verification and guest
// identity allocation proceed in parallel, then the session settles into
// Guest or Authenticated. Start never fails; every failure mode is a state,
// not an error.
func (s *Session) Start(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.guests.GetOrCreateID(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.quota.RefreshLimits(ctx)
	}()

	s.restoreIdentity(ctx)
	wg.Wait()
}

// restoreIdentity decides the post-startup state from the store and, when
// JWT material exists, one verification round-trip.
func (s *Session) restoreIdentity(ctx context.Context) {
	if s.skipVerify {
		s.setGuest("")
		return
	}

	tok, err := s.tokens.Token(ctx)
	if err != nil {
		s.log.Error(ctx, "reading stored credential", "error", err)
		s.setGuest("Could not read the saved session. Please sign in again.")
		return
	}

	if tok == "" {
		// No JWT material at all: the legacy session path is consulted.
		if user := s.legacyUser(ctx); user != nil {
			s.log.Info(ctx, "restored legacy session", "email", user.Email)
			s.setAuthenticated(user)
			return
		}
		s.setGuest("")
		return
	}

	user, err := s.tokens.Verify(ctx)
	switch {
	case err == nil:
		if user == nil {
			user, _ = s.tokens.CachedUser(ctx)
		}
		if user == nil {
			// Verified but no identity to show; nothing to restore.
			s.setGuest("")
			return
		}
		s.log.Info(ctx, "session verified", "email", user.Email, "tier", user.Tier)
		s.setAuthenticated(user)

	case errors.Is(err, common.ErrUnauthorized):
		// Definitively dead, already cleared. Silent demotion to guest.
		s.setGuest("")

	default:
		// Network or server trouble: fall back to the cached snapshot when
		// one exists. An outage must not log the user out.
		cached, cerr := s.tokens.CachedUser(ctx)
		if cerr == nil && cached != nil {
			s.log.Warn(ctx, "verify unavailable, using cached identity", "error", err)
			s.setAuthenticated(cached)
			return
		}
		s.log.Warn(ctx, "verify unavailable and no cached identity", "error", err)
		s.setGuest("Could not reach the server to restore your session. You are browsing as a guest.")
	}
}

// legacyUser restores the pre-JWT session format: a session token plus user
// id, with the cached snapshot for display. All three must be present.
func (s *Session) legacyUser(ctx context.Context) *models.User {
	tok, err := s.store.Get(ctx, storage.KeyLegacySessionToken)
	if err != nil || len(tok) == 0 {
		return nil
	}
	uid, err := s.store.Get(ctx, storage.KeyLegacyUserID)
	if err != nil || len(uid) == 0 {
		return nil
	}
	user, err := s.tokens.CachedUser(ctx)
	if err != nil || user == nil || user.ID != string(uid) {
		return nil
	}
	return user
}

// Login authenticates, migrates the guest identity into the account by
// clearing it, and enters Authenticated.
func (s *Session) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.tokens.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.guests.Clear(ctx); err != nil {
		s.log.Warn(ctx, "clearing guest identity after login", "error", err)
	}
	s.setAuthenticated(user)
	return user, nil
}

// Register creates an account and enters Authenticated the same way Login
// does.
func (s *Session) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	user, err := s.tokens.Register(ctx, email, password, name)
	if err != nil {
		return nil, err
	}
	if err := s.guests.Clear(ctx); err != nil {
		s.log.Warn(ctx, "clearing guest identity after registration", "error", err)
	}
	s.setAuthenticated(user)
	return user, nil
}

// Logout cancels the refresh loop, clears the stored credentials, and
// demotes to Guest. Idempotent; the cancel is synchronous, so a refresh
// tick can never fire after Logout returns.
func (s *Session) Logout(ctx context.Context) error {
	s.cancelRefresh()

	if err := s.tokens.Clear(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateGuest
	s.user = nil
	s.errMsg = ""
	s.mu.Unlock()

	s.log.Info(ctx, "logged out")
	return nil
}

// Teardown releases everything the session owns without touching the store:
// the refresh loop is cancelled and the in-memory state returns to Loading,
// as if the process had restarted. Idempotent.
func (s *Session) Teardown() {
	s.cancelRefresh()

	s.mu.Lock()
	s.state = StateLoading
	s.user = nil
	s.errMsg = ""
	s.mu.Unlock()
}

// SendMessage runs the full chat flow: quota check, generation call
// (authenticated via the token service or attributed to the guest id), and
// recording on success. A denied check comes back as the CheckResult with a
// nil response and nil error; quota exhaustion is a result, not a failure.
func (s *Session) SendMessage(ctx context.Context, message, mode string, useHistory bool) (*api.GenerateResponse, *models.CheckResult, error) {
	tier := s.Tier()

	check, err := s.quota.Check(ctx, tier)
	if err != nil {
		return nil, nil, err
	}
	if !check.Allowed {
		return nil, check, nil
	}

	greq := &api.GenerateRequest{Message: message, Mode: mode, UseHistory: useHistory}
	var doer api.Doer
	if s.IsAuthenticated() {
		doer = s.tokens
	} else {
		greq.SessionID = s.guests.GetOrCreateID(ctx)
	}

	resp, err := s.api.GenerateWith(ctx, doer, greq)
	if err != nil {
		if errors.Is(err, common.ErrSessionExpired) {
			s.expire(ctx)
		}
		return nil, nil, err
	}

	if err := s.quota.Record(ctx, tier); err != nil {
		s.log.Warn(ctx, "recording request against quota", "error", err)
	}
	return resp, check, nil
}

// expire handles a mid-flight session death: credentials are already gone,
// so only the in-memory state and the refresh loop need tearing down.
func (s *Session) expire(ctx context.Context) {
	s.cancelRefresh()

	s.mu.Lock()
	s.state = StateGuest
	s.user = nil
	s.errMsg = "Your session has expired. Please sign in again."
	s.mu.Unlock()

	s.log.Info(ctx, "session expired mid-request")
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentUser returns the authenticated user, or nil in any other state.
func (s *Session) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Err returns the pending session error message, "" when none.
func (s *Session) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// Tier returns the quota tier of the current identity; guests get the
// guest pseudo-tier, and an authenticated user without a recorded tier is
// treated as free.
func (s *Session) Tier() models.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateAuthenticated || s.user == nil {
		return models.TierGuest
	}
	if s.user.Tier.IsValid() {
		return s.user.Tier
	}
	return models.TierFree
}

// RefreshActive reports whether an auto-refresh loop is currently armed.
func (s *Session) RefreshActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh != nil && s.refresh.Active()
}

// setAuthenticated enters Authenticated, clears any pending error, and arms
// the refresh loop on the first entry only.
func (s *Session) setAuthenticated(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAuthenticated
	s.user = user
	s.errMsg = ""

	if s.refresh == nil || !s.refresh.Active() {
		s.refresh = s.tokens.ScheduleAutoRefresh(s.refreshEvery)
	}
}

func (s *Session) setGuest(errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateGuest
	s.user = nil
	s.errMsg = errMsg
}

func (s *Session) cancelRefresh() {
	s.mu.Lock()
	h := s.refresh
	s.refresh = nil
	s.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
}
