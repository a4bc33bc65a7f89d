// Package services contains the application services of the portal client:
// the token service (credential lifecycle), the guest identity service, the
// quota tracker, and the session orchestrator that ties them together.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neodalsi/dalsi/internal/client/api"
	"github.com/neodalsi/dalsi/internal/client/models"
	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/logging"
)

// DefaultRefreshInterval sits inside the ~24h credential expiry window.
const DefaultRefreshInterval = 23 * time.Hour

// TokenService owns the bearer credential and the cached user snapshot.
//
// Contract:
//   - Login/Register: authenticate remotely and persist credential + snapshot
//     in one transaction.
//   - Verify: check the stored credential remotely. A definitive 401 clears
//     it; a network failure never does.
//   - Refresh: exchange the credential for a fresh one. A 401 means the
//     refresh path itself is dead: clear and report ErrSessionExpired.
//   - Clear: remove credential, snapshot, and legacy session keys. Idempotent.
//   - ScheduleAutoRefresh: arm a periodic verify+refresh loop, returning a
//     cancellable handle.
//   - Do: implement api.Doer, attaching the bearer header and running exactly
//     one refresh-and-retry cycle on a 401 response.
type TokenService struct {
	api       api.Client
	store     storage.Store
	log       logging.Logger
	transport api.Doer
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithTransport overrides the HTTP transport used by Do. Tests swap in a
// recording transport here.
func WithTransport(d api.Doer) TokenOption {
	return func(s *TokenService) { s.transport = d }
}

func NewTokenService(client api.Client, store storage.Store, log logging.Logger, opts ...TokenOption) *TokenService {
	s := &TokenService{
		api:       client,
		store:     store,
		log:       log.With("component", "token_service"),
		transport: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates against the remote endpoint and persists the issued
// credential together with the user snapshot. Both keys are written in a
// single transaction so a crash in between cannot leave them disagreeing.
func (s *TokenService) Login(ctx context.Context, email, password string) (*models.User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.persistAuth(ctx, res); err != nil {
		return nil, fmt.Errorf("persisting credentials: %w", err)
	}
	s.log.Info(ctx, "logged in", "email", res.User.Email, "tier", res.User.Tier)
	return res.User, nil
}

// Register creates an account and persists the returned credential the same
// way Login does.
func (s *TokenService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	res, err := s.api.Register(ctx, email, password, name)
	if err != nil {
		return nil, err
	}
	if err := s.persistAuth(ctx, res); err != nil {
		return nil, fmt.Errorf("persisting credentials: %w", err)
	}
	return res.User, nil
}

func (s *TokenService) persistAuth(ctx context.Context, res *api.AuthResult) error {
	snapshot, err := json.Marshal(res.User)
	if err != nil {
		return err
	}
	return s.store.SetMany(ctx, map[string][]byte{
		storage.KeyJWTToken: []byte(res.Token),
		storage.KeyUserInfo: snapshot,
	})
}

// Token returns the stored credential, or "" when none exists. A credential
// found without a matching user snapshot is untrustworthy: it is discarded
// and "" is returned.
func (s *TokenService) Token(ctx context.Context) (string, error) {
	tok, err := s.store.Get(ctx, storage.KeyJWTToken)
	if err != nil {
		return "", err
	}
	if len(tok) == 0 {
		return "", nil
	}
	snapshot, err := s.store.Get(ctx, storage.KeyUserInfo)
	if err != nil {
		return "", err
	}
	if len(snapshot) == 0 {
		s.log.Warn(ctx, "credential without user snapshot, discarding")
		if err := s.store.Delete(ctx, storage.KeyJWTToken); err != nil {
			return "", err
		}
		return "", nil
	}
	return string(tok), nil
}

// CachedUser returns the stored user snapshot, or nil when none exists or it
// does not parse.
func (s *TokenService) CachedUser(ctx context.Context) (*models.User, error) {
	snapshot, err := s.store.Get(ctx, storage.KeyUserInfo)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, nil
	}
	var u models.User
	if err := json.Unmarshal(snapshot, &u); err != nil {
		s.log.Warn(ctx, "malformed user snapshot in store", "error", err)
		return nil, nil
	}
	return &u, nil
}

// Verify checks the stored credential against the remote verify endpoint and
// returns the current user on success, refreshing the cached snapshot.
//
// ErrUnauthorized means the credential is definitively dead; it is cleared
// as a side effect. Network and server failures are reported as-is and leave
// the credential untouched: a transient outage must never destroy a session.
func (s *TokenService) Verify(ctx context.Context) (*models.User, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, common.ErrUnauthorized
	}

	user, err := s.api.Verify(ctx, tok)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			s.log.Info(ctx, "credential rejected by server, clearing")
			if cerr := s.Clear(ctx); cerr != nil {
				s.log.Error(ctx, "clearing rejected credential", "error", cerr)
			}
		}
		return nil, err
	}

	if user != nil {
		if snapshot, merr := json.Marshal(user); merr == nil {
			if serr := s.store.Set(ctx, storage.KeyUserInfo, snapshot); serr != nil {
				s.log.Warn(ctx, "updating user snapshot", "error", serr)
			}
		}
	}
	return user, nil
}

// Refresh exchanges the stored credential for a fresh one. On a definitive
// rejection the credential is cleared and ErrSessionExpired is returned; on
// any other failure the old credential stays in place so the caller may
// retry later.
func (s *TokenService) Refresh(ctx context.Context) error {
	tok, err := s.Token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return common.ErrSessionExpired
	}

	fresh, err := s.api.Refresh(ctx, tok)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			if cerr := s.Clear(ctx); cerr != nil {
				s.log.Error(ctx, "clearing expired credential", "error", cerr)
			}
			return common.ErrSessionExpired
		}
		return err
	}

	if err := s.store.Set(ctx, storage.KeyJWTToken, []byte(fresh)); err != nil {
		return fmt.Errorf("persisting refreshed credential: %w", err)
	}
	s.log.Debug(ctx, "credential refreshed")
	return nil
}

// Clear removes the credential, the user snapshot, and the legacy session
// keys in one transaction. Safe to call any number of times.
func (s *TokenService) Clear(ctx context.Context) error {
	return s.store.DeleteMany(ctx,
		storage.KeyJWTToken,
		storage.KeyUserInfo,
		storage.KeyLegacySessionToken,
		storage.KeyLegacyUserID,
	)
}

// RefreshHandle is a cancellable auto-refresh loop. Cancel is synchronous
// and idempotent: once it returns, the loop goroutine has exited and will
// never touch the store again.
type RefreshHandle struct {
	cancel   chan struct{}
	finished chan struct{}
	once     sync.Once
	active   atomic.Bool
}

// Active reports whether the loop is still armed.
func (h *RefreshHandle) Active() bool { return h.active.Load() }

// Cancel stops the loop and waits for it to exit.
func (h *RefreshHandle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
	<-h.finished
}

// ScheduleAutoRefresh arms a periodic loop that verifies and then refreshes
// the credential every interval (DefaultRefreshInterval when interval <= 0).
// The loop disarms itself when the session expires. Callers are responsible
// for not arming a second loop for the same session.
func (s *TokenService) ScheduleAutoRefresh(interval time.Duration) *RefreshHandle {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	h := &RefreshHandle{
		cancel:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	h.active.Store(true)

	go func() {
		defer close(h.finished)
		defer h.active.Store(false)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.cancel:
				return
			case <-ticker.C:
				if expired := s.refreshTick(); expired {
					return
				}
			}
		}
	}()

	return h
}

// refreshTick runs one verify+refresh cycle. It reports true when the
// session is definitively over and the loop should disarm.
func (s *TokenService) refreshTick() bool {
	ctx := context.Background()

	if _, err := s.Verify(ctx); err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			s.log.Info(ctx, "auto-refresh: credential no longer valid, disarming")
			return true
		}
		// Transient failure: keep the credential and try again next tick.
		s.log.Warn(ctx, "auto-refresh: verify failed", "error", err)
		return false
	}

	if err := s.Refresh(ctx); err != nil {
		if errors.Is(err, common.ErrSessionExpired) {
			s.log.Info(ctx, "auto-refresh: session expired, disarming")
			return true
		}
		s.log.Warn(ctx, "auto-refresh: refresh failed", "error", err)
	}
	return false
}

// Do implements api.Doer: it attaches the bearer credential, sends the
// request, and on a 401 runs exactly one refresh-and-retry cycle. When the
// refresh or the retry fails with another 401, the credentials are cleared
// and ErrSessionExpired is returned.
func (s *TokenService) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, common.ErrSessionExpired
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := s.transport.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := s.Refresh(ctx); err != nil {
		if !errors.Is(err, common.ErrSessionExpired) {
			if cerr := s.Clear(ctx); cerr != nil {
				s.log.Error(ctx, "clearing credentials after failed refresh", "error", cerr)
			}
		}
		return nil, common.ErrSessionExpired
	}

	fresh, err := s.Token(ctx)
	if err != nil || fresh == "" {
		return nil, common.ErrSessionExpired
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, berr
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+fresh)

	resp, err = s.transport.Do(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if cerr := s.Clear(ctx); cerr != nil {
			s.log.Error(ctx, "clearing credentials after retry rejection", "error", cerr)
		}
		return nil, common.ErrSessionExpired
	}
	return resp, nil
}
