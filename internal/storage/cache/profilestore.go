// Package cache adds a read-aside caching layer over the Firestore store.
// Every dispatch costs two profile reads (sender, recipient); hot
// conversations make those reads extremely repetitive.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedStore is a decorator that adds read-aside caching of user profiles
// to any dispatch.Store. Chat rooms are deliberately not cached: membership
// is mutated by another service with no invalidation path into this one, and
// a stale participant list would notify the wrong user.
type CachedStore struct {
	realStore dispatch.Store
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedStore(realStore dispatch.Store, cache CacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH ---

func (s *CachedStore) GetChatRoom(ctx context.Context, chatID string) (*chat.Room, error) {
	return s.realStore.GetChatRoom(ctx, chatID)
}

func (s *CachedStore) GetUserProfile(ctx context.Context, userID string) (*chat.UserProfile, error) {
	key := s.profileKey(userID)

	var cached chat.UserProfile
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just keep serving from Firestore.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (invalidate-on-write) ---

func (s *CachedStore) RegisterFCMToken(ctx context.Context, userID string, token string) error {
	if err := s.realStore.RegisterFCMToken(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedStore) RegisterWebSubscription(ctx context.Context, userID string, sub chat.WebPushSubscription) error {
	if err := s.realStore.RegisterWebSubscription(ctx, userID, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// RemoveFCMTokens covers both the device API's unregister path and the
// reconciler's pruning. Even though the Firestore write succeeded, we MUST
// clear the cache or the next message would still try the dead tokens.
func (s *CachedStore) RemoveFCMTokens(ctx context.Context, userID string, tokens []string) error {
	if err := s.realStore.RemoveFCMTokens(ctx, userID, tokens); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedStore) RemoveWebSubscriptions(ctx context.Context, userID string, subs []chat.WebPushSubscription) error {
	if err := s.realStore.RemoveWebSubscriptions(ctx, userID, subs); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// --- Helpers ---

func (s *CachedStore) invalidate(ctx context.Context, userID string) error {
	return s.cache.Del(ctx, s.profileKey(userID))
}

func (s *CachedStore) profileKey(userID string) string {
	return fmt.Sprintf("chatpush:profile:%s", userID)
}
