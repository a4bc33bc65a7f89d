package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neodalsi/dalsi/internal/client/api"
	"github.com/neodalsi/dalsi/internal/client/models"
	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/common"
)

func newSession(t *testing.T, f *fakeAPI, store storage.Store, opts ...SessionOption) *Session {
	t.Helper()
	s := NewSession(f, store, testLogger(), opts...)
	t.Cleanup(s.Teardown)
	return s
}

func TestSessionStartEmptyStoreBecomesGuest(t *testing.T) {
	store := setupStore(t)
	f := &fakeAPI{}
	s := newSession(t, f, store)

	s.Start(context.Background())

	assert.Equal(t, StateGuest, s.State())
	assert.Empty(t, s.Err())
	assert.Nil(t, s.CurrentUser())
	assert.Equal(t, 0, f.VerifyCalls)

	// The guest identity was allocated during startup.
	id, err := store.Get(context.Background(), storage.KeyGuestSessionID)
	require.NoError(t, err)
	assert.Regexp(t, guestIDPattern, string(id))
}

func TestSessionStartVerifySuccessRestoresUser(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierPro))

	f := &fakeAPI{VerifyRet: testUser(models.TierPro)}
	s := newSession(t, f, store)

	s.Start(context.Background())

	assert.Equal(t, StateAuthenticated, s.State())
	require.NotNil(t, s.CurrentUser())
	assert.Equal(t, "user@example.com", s.CurrentUser().Email)
	assert.Empty(t, s.Err())
	assert.True(t, s.RefreshActive())
	assert.Equal(t, 1, f.VerifyCalls)
}

func TestSessionStartRejectedCredentialDemotesSilently(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierFree))

	f := &fakeAPI{VerifyErr: common.ErrUnauthorized}
	s := newSession(t, f, store)

	s.Start(context.Background())

	assert.Equal(t, StateGuest, s.State())
	assert.Empty(t, s.Err(), "an expired session is not an error, just a guest")
	assert.False(t, s.RefreshActive())

	tok, err := store.Get(context.Background(), storage.KeyJWTToken)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestSessionStartNetworkFailureFallsBackToCachedUser(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierPro))

	f := &fakeAPI{VerifyErr: common.ErrUnavailable}
	s := newSession(t, f, store)

	s.Start(context.Background())

	assert.Equal(t, StateAuthenticated, s.State())
	require.NotNil(t, s.CurrentUser())
	assert.Equal(t, models.TierPro, s.CurrentUser().Tier)
	assert.Empty(t, s.Err(), "a network blip with a cached identity is never surfaced")

	// The credential survived the outage.
	tok, err := store.Get(context.Background(), storage.KeyJWTToken)
	require.NoError(t, err)
	assert.Equal(t, "tok1", string(tok))
}

func TestSessionStartNetworkFailureWithoutCachedUserSetsError(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	// A credential whose snapshot no longer parses: the fallback has
	// nothing to restore from.
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		storage.KeyJWTToken: []byte("tok1"),
		storage.KeyUserInfo: []byte("{corrupt"),
	}))

	f := &fakeAPI{VerifyErr: common.ErrUnavailable}
	s := newSession(t, f, store)

	s.Start(ctx)

	assert.Equal(t, StateGuest, s.State())
	assert.NotEmpty(t, s.Err())
	assert.False(t, s.RefreshActive())
}

func TestSessionStartLegacyFallbackNeedsNoNetwork(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	user := testUser(models.TierFree)
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		storage.KeyLegacySessionToken: []byte("legacy-tok"),
		storage.KeyLegacyUserID:       []byte(user.ID),
		storage.KeyUserInfo:           mustJSON(t, user),
	}))

	f := &fakeAPI{VerifyErr: common.ErrUnavailable}
	s := newSession(t, f, store)

	s.Start(ctx)

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 0, f.VerifyCalls, "legacy restore must not hit the network")
}

func TestSessionJWTTakesPrecedenceOverLegacy(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	seedAuth(t, store, "tok1", testUser(models.TierFree))
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		storage.KeyLegacySessionToken: []byte("legacy-tok"),
		storage.KeyLegacyUserID:       []byte("u1"),
	}))

	f := &fakeAPI{VerifyRet: testUser(models.TierFree)}
	s := newSession(t, f, store)

	s.Start(ctx)

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 1, f.VerifyCalls, "JWT material means the JWT path runs")
	assert.Equal(t, "tok1", f.LastVerifyToken)
}

func TestSessionSkipVerify(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierFree))

	f := &fakeAPI{}
	s := newSession(t, f, store, WithSkipVerify())

	s.Start(context.Background())

	assert.Equal(t, StateGuest, s.State())
	assert.Equal(t, 0, f.VerifyCalls)
}

func TestSessionLoginMigratesGuest(t *testing.T) {
	store := setupStore(t)
	f := &fakeAPI{LoginRet: &api.AuthResult{Token: "tok1", User: testUser(models.TierPro)}}
	s := newSession(t, f, store)
	ctx := context.Background()

	s.Start(ctx)
	require.Equal(t, StateGuest, s.State())

	guestID, err := store.Get(ctx, storage.KeyGuestSessionID)
	require.NoError(t, err)
	require.NotEmpty(t, guestID)

	user, err := s.Login(ctx, "user@example.com", "pass")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, user.Tier)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Empty(t, s.Err())
	assert.True(t, s.RefreshActive())

	gone, err := store.Get(ctx, storage.KeyGuestSessionID)
	require.NoError(t, err)
	assert.Nil(t, gone, "guest identity is cleared on login")
}

func TestSessionLoginFailureKeepsGuestState(t *testing.T) {
	store := setupStore(t)
	f := &fakeAPI{LoginErr: common.ErrInvalidCredentials}
	s := newSession(t, f, store)
	ctx := context.Background()

	s.Start(ctx)
	_, err := s.Login(ctx, "user@example.com", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Equal(t, StateGuest, s.State())
	assert.False(t, s.RefreshActive())
}

func TestSessionReloadRoundTrip(t *testing.T) {
	store := setupStore(t)
	user := testUser(models.TierPro)
	f := &fakeAPI{
		LoginRet:  &api.AuthResult{Token: "tok1", User: user},
		VerifyRet: user,
	}

	first := newSession(t, f, store)
	ctx := context.Background()
	first.Start(ctx)
	_, err := first.Login(ctx, "user@example.com", "pass")
	require.NoError(t, err)
	first.Teardown()

	// A fresh session over the same store comes back authenticated.
	second := newSession(t, f, store)
	second.Start(ctx)

	assert.Equal(t, StateAuthenticated, second.State())
	require.NotNil(t, second.CurrentUser())
	assert.Equal(t, user.Email, second.CurrentUser().Email)
}

func TestSessionLogoutClearsStoreAndCancelsRefresh(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierFree))

	f := &fakeAPI{VerifyRet: testUser(models.TierFree), RefreshRet: "tok2"}
	s := newSession(t, f, store, WithRefreshInterval(10*time.Millisecond))
	ctx := context.Background()

	s.Start(ctx)
	require.True(t, s.RefreshActive())

	require.NoError(t, s.Logout(ctx))
	require.NoError(t, s.Logout(ctx)) // idempotent

	assert.Equal(t, StateGuest, s.State())
	assert.False(t, s.RefreshActive())

	for _, key := range []string{storage.KeyJWTToken, storage.KeyUserInfo} {
		v, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, v, key)
	}

	// No refresh tick may land after Logout returned.
	seen := f.verifyCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, f.verifyCount())
}

func TestSessionSendMessageAsGuest(t *testing.T) {
	store := setupStore(t)
	f := &fakeAPI{GenerateRet: &api.GenerateResponse{Response: "hello"}}
	s := newSession(t, f, store)
	ctx := context.Background()

	s.Start(ctx)

	resp, check, err := s.SendMessage(ctx, "hi", "chat", false)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "hello", resp.Response)
	assert.True(t, check.Allowed)

	assert.Nil(t, f.LastDoer, "guest requests carry no bearer")
	assert.Regexp(t, guestIDPattern, f.LastGenerate.SessionID)

	// The default guest budget is one message per day.
	resp, check, err = s.SendMessage(ctx, "again", "chat", false)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, check)
	assert.False(t, check.Allowed)
	assert.Equal(t, models.ReasonDailyLimit, check.Reason)
	assert.Equal(t, 1, f.GenerateCalls, "a denied check never reaches the API")
}

func TestSessionSendMessageAuthenticatedUsesTokenService(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierPro))

	f := &fakeAPI{
		VerifyRet:   testUser(models.TierPro),
		GenerateRet: &api.GenerateResponse{Response: "hello"},
	}
	s := newSession(t, f, store)
	ctx := context.Background()

	s.Start(ctx)
	require.Equal(t, StateAuthenticated, s.State())

	resp, _, err := s.SendMessage(ctx, "hi", "chat", true)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Response)
	assert.NotNil(t, f.LastDoer, "authenticated requests go through the token service")
	assert.Empty(t, f.LastGenerate.SessionID)

	stats, err := s.Quota().Stats(ctx, models.TierPro)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Usage.Hourly.Used)
}

func TestSessionSendMessageFailureIsNotRecorded(t *testing.T) {
	store := setupStore(t)
	f := &fakeAPI{GenerateErr: common.ErrUnavailable}
	s := newSession(t, f, store)
	ctx := context.Background()

	s.Start(ctx)

	_, _, err := s.SendMessage(ctx, "hi", "chat", false)
	assert.ErrorIs(t, err, common.ErrUnavailable)

	stats, serr := s.Quota().Stats(ctx, models.TierGuest)
	require.NoError(t, serr)
	assert.Equal(t, 0, stats.Usage.Daily.Used, "failed requests must not consume quota")
}

// This one runs against the real REST client rather than the fake: the
// expiry verdict produced by the token service's refresh-and-retry cycle has
// to survive the whole API-client boundary, not just a fake that hands the
// sentinel back directly.
func TestSessionSendMessageExpiryThroughRESTClient(t *testing.T) {
	store := setupStore(t)
	user := testUser(models.TierPro)
	seedAuth(t, store, "tok1", user)

	// Verify succeeds once so the session comes up authenticated; after
	// that every endpoint answers 401, as a server does once the token
	// and its refresh path are both dead.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/verify" {
			w.Header().Set("Content-Type", "application/json")
			w.Write(mustJSON(t, map[string]any{"valid": true, "user": user}))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := api.NewRESTClient(srv.URL, 2*time.Second)
	s := NewSession(client, store, testLogger())
	t.Cleanup(s.Teardown)

	s.Start(context.Background())
	require.Equal(t, StateAuthenticated, s.State())

	_, _, err := s.SendMessage(context.Background(), "hello", "chat", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSessionExpired)
	assert.NotErrorIs(t, err, common.ErrUnavailable)

	assert.Equal(t, StateGuest, s.State())
	assert.Nil(t, s.CurrentUser())
	assert.Contains(t, s.Err(), "expired")
	assert.False(t, s.RefreshActive())

	tok, err := store.Get(context.Background(), storage.KeyJWTToken)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestSessionTeardownIsIdempotentAndKeepsStore(t *testing.T) {
	store := setupStore(t)
	seedAuth(t, store, "tok1", testUser(models.TierFree))

	f := &fakeAPI{VerifyRet: testUser(models.TierFree)}
	s := newSession(t, f, store)
	ctx := context.Background()

	s.Start(ctx)
	require.Equal(t, StateAuthenticated, s.State())

	s.Teardown()
	s.Teardown()

	assert.Equal(t, StateLoading, s.State())
	assert.False(t, s.RefreshActive())

	tok, err := store.Get(ctx, storage.KeyJWTToken)
	require.NoError(t, err)
	assert.Equal(t, "tok1", string(tok), "teardown releases resources, not credentials")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
