package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()

	router := newTestRouter(t, &fakeUserService{}, nil, nil, rl)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodGet, "/api/plans/platinum", nil,
			map[string]string{"X-Session-Id": "guest_1_abc"})
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/plans/platinum", nil,
		map[string]string{"X-Session-Id": "guest_1_abc"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimiterKeysClientsSeparately(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	router := newTestRouter(t, &fakeUserService{}, nil, nil, rl)

	recA := doJSON(t, router, http.MethodGet, "/api/plans/x", nil,
		map[string]string{"X-Session-Id": "guest_1_aaa"})
	recB := doJSON(t, router, http.MethodGet, "/api/plans/x", nil,
		map[string]string{"X-Session-Id": "guest_1_bbb"})

	assert.NotEqual(t, http.StatusTooManyRequests, recA.Code)
	assert.NotEqual(t, http.StatusTooManyRequests, recB.Code)
	assert.Equal(t, 2, rl.LimiterCount())
}

func TestHealthProbeBypassesRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	router := newTestRouter(t, &fakeUserService{}, nil, nil, rl)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, router, http.MethodGet, "/v1/health", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
