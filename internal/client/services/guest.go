package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/logging"
)

// guestIDRandLen is the length of the random base36 suffix of a guest id.
const guestIDRandLen = 13

// GuestService allocates and retrieves the stable pseudo-identity used to
// attribute usage of unauthenticated visitors. The identity carries no
// privilege: it is only a local attribution key and the session_id sent with
// guest generation requests.
type GuestService struct {
	store storage.Store
	log   logging.Logger
	now   func() time.Time

	mu       sync.Mutex
	fallback string
}

func NewGuestService(store storage.Store, log logging.Logger) *GuestService {
	return &GuestService{
		store: store,
		log:   log.With("component", "guest_service"),
		now:   time.Now,
	}
}

// GetOrCreateID returns the stored guest identity, generating and persisting
// one on first call. When the store is unusable the service degrades to a
// per-process identity rather than failing: an anonymous visitor must always
// be attributable.
func (s *GuestService) GetOrCreateID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.Get(ctx, storage.KeyGuestSessionID)
	if err != nil {
		s.log.Warn(ctx, "guest id read failed, using in-memory identity", "error", err)
		return s.fallbackID()
	}
	if len(stored) > 0 {
		return string(stored)
	}

	id := s.newID()
	if err := s.store.Set(ctx, storage.KeyGuestSessionID, []byte(id)); err != nil {
		s.log.Warn(ctx, "guest id write failed, using in-memory identity", "error", err)
		s.fallback = id
		return id
	}
	s.log.Debug(ctx, "guest identity created", "guest_id", id)
	return id
}

func (s *GuestService) fallbackID() string {
	if s.fallback == "" {
		s.fallback = s.newID()
	}
	return s.fallback
}

func (s *GuestService) newID() string {
	return fmt.Sprintf("guest_%d_%s", s.now().UnixMilli(), common.RandBase36(guestIDRandLen))
}

// Clear removes the guest identity and every guest-scoped key: the message
// cache and the guest usage counters. Called on login (the usage merges into
// the account) and on explicit reset.
func (s *GuestService) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.fallback = ""
	s.mu.Unlock()

	return s.store.DeleteMany(ctx,
		storage.KeyGuestSessionID,
		storage.KeyGuestMessages,
		storage.KeyGuestUsage,
		storage.KeyGuestLastUsed,
	)
}
