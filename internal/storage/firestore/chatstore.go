// Package firestore implements dispatch.Store on Google Cloud Firestore,
// using the chat app's document layout: chats/{chatId} and users/{userId}.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

// ChatStore implements dispatch.Store.
type ChatStore struct {
	client *firestore.Client
}

func NewChatStore(client *firestore.Client) *ChatStore {
	return &ChatStore{client: client}
}

// --- Reads ---

func (s *ChatStore) GetChatRoom(ctx context.Context, chatID string) (*chat.Room, error) {
	snap, err := s.client.Collection("chats").Doc(chatID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("chat room %s: %w", chatID, dispatch.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat room %s: %w", chatID, err)
	}

	room := &chat.Room{ID: snap.Ref.ID}
	if err := snap.DataTo(room); err != nil {
		return nil, fmt.Errorf("failed to decode chat room %s: %w", chatID, err)
	}
	return room, nil
}

func (s *ChatStore) GetUserProfile(ctx context.Context, userID string) (*chat.UserProfile, error) {
	snap, err := s.userRef(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("user %s: %w", userID, dispatch.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	profile := &chat.UserProfile{ID: snap.Ref.ID}
	if err := snap.DataTo(profile); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", userID, err)
	}
	return profile, nil
}

// --- Registration (device API) ---

// RegisterFCMToken appends the token to the user's fcmTokens array.
// ArrayUnion dedupes, so re-registering the same token is a no-op.
func (s *ChatStore) RegisterFCMToken(ctx context.Context, userID string, token string) error {
	_, err := s.userRef(userID).Set(ctx, map[string]any{
		"fcmTokens": firestore.ArrayUnion(token),
	}, firestore.MergeAll)
	return err
}

func (s *ChatStore) RegisterWebSubscription(ctx context.Context, userID string, sub chat.WebPushSubscription) error {
	_, err := s.userRef(userID).Set(ctx, map[string]any{
		"webSubscriptions": firestore.ArrayUnion(sub),
	}, firestore.MergeAll)
	return err
}

// --- Reconciliation ---

// RemoveFCMTokens removes exactly the given tokens from the user's stored
// array. ArrayRemove is a set-difference update: a concurrent registration
// of a new token is never clobbered, and removing an absent token is a no-op,
// which keeps redelivered events idempotent.
func (s *ChatStore) RemoveFCMTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.userRef(userID).Update(ctx, []firestore.Update{
		{Path: "fcmTokens", Value: firestore.ArrayRemove(asAny(tokens)...)},
	})
	return err
}

func (s *ChatStore) RemoveWebSubscriptions(ctx context.Context, userID string, subs []chat.WebPushSubscription) error {
	if len(subs) == 0 {
		return nil
	}
	_, err := s.userRef(userID).Update(ctx, []firestore.Update{
		{Path: "webSubscriptions", Value: firestore.ArrayRemove(asAny(subs)...)},
	})
	return err
}

// --- Helpers ---

func (s *ChatStore) userRef(userID string) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(userID)
}

func asAny[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
