// Package dispatch contains the public contracts of the chat push service:
// the store the pipeline reads and reconciles against, and the platform
// dispatchers it sends through.
package dispatch

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
)

// ErrNotFound signals an absent document (room or profile). The pipeline
// treats it as a logged drop, never a retry.
var ErrNotFound = errors.New("document not found")

// AddressResult is the per-address outcome of a batched send.
type AddressResult struct {
	// Address is the push address the result refers to (an FCM registration
	// token, or a Web Push endpoint URL).
	Address string
	OK      bool
	// Reason is the provider's failure code, empty on success.
	Reason string
	// Permanent marks addresses the provider reports as no longer valid
	// (unregistered, malformed, credential mismatch). Only permanent
	// failures are eligible for reconciliation; anything else may succeed
	// on a later message.
	Permanent bool
}

// Receipt aggregates a batched send. Partial failure is a normal outcome,
// not an error: a Receipt is returned whenever the provider's response
// resolved, regardless of how many addresses failed.
type Receipt struct {
	SuccessCount int
	FailureCount int
	Results      []AddressResult
}

// PermanentFailures returns the addresses that should be pruned from the
// recipient's stored set.
func (r *Receipt) PermanentFailures() []string {
	var addrs []string
	for _, res := range r.Results {
		if res.Permanent {
			addrs = append(addrs, res.Address)
		}
	}
	return addrs
}

// Dispatcher sends one payload to a batch of platform tokens in a single
// provider call. An error means the batch as a whole did not resolve
// (transport or auth failure) and the invocation should be retried; in that
// case no Receipt is returned and no reconciliation may happen.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, payload chat.PushPayload) (*Receipt, error)
}

// WebDispatcher is the Web Push counterpart. Result addresses are
// subscription endpoints.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []chat.WebPushSubscription, payload chat.PushPayload) (*Receipt, error)
}

// Store is the document-store surface the service consumes: read access to
// rooms and profiles, registration writes from the device API, and the
// set-difference removals the reconciler issues.
//
// Remove operations must be expressed as "remove these specific values"
// (array-remove), never read-modify-write: the recipient's own devices may
// be registering new addresses concurrently.
type Store interface {
	GetChatRoom(ctx context.Context, chatID string) (*chat.Room, error)
	GetUserProfile(ctx context.Context, userID string) (*chat.UserProfile, error)

	RegisterFCMToken(ctx context.Context, userID string, token string) error
	RegisterWebSubscription(ctx context.Context, userID string, sub chat.WebPushSubscription) error

	RemoveFCMTokens(ctx context.Context, userID string, tokens []string) error
	RemoveWebSubscriptions(ctx context.Context, userID string, subs []chat.WebPushSubscription) error
}
