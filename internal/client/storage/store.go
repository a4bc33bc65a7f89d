// Package storage implements the persistent client store: a small key/value
// table that survives restarts, holding the credential, the cached user
// snapshot, the guest identity, and the quota tracker. Key names are shared
// with earlier portal builds and are bit-exact by contract.
package storage

import "context"

// Store keys. Do not rename: the sqlite file is carried across upgrades.
const (
	KeyJWTToken         = "jwt_token"
	KeyUserInfo         = "user_info"
	KeyGuestSessionID   = "guest_session_id"
	KeyGuestMessages    = "guest_messages"
	KeyGuestUsage       = "dalsi_guest_messages"
	KeyGuestLastUsed    = "dalsi_guest_last_used"
	KeyRateLimitTracker = "rate_limit_tracker"

	// Legacy session-based auth, consulted only when no JWT material exists.
	KeyLegacySessionToken = "session_token"
	KeyLegacyUserID       = "user_id"
)

// Store is the persistent client store. Get returns (nil, nil) for an
// absent key. All writes are whole-value replacements; SetMany and
// DeleteMany are atomic so related keys (credential + snapshot) can never
// be observed disagreeing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	SetMany(ctx context.Context, values map[string][]byte) error
	DeleteMany(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}
