package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

// NewProcessor creates the dispatch core: one invocation per created message,
// strictly linear, stateless between invocations.
//
// Error policy: missing data (room/profile not found, no recipient, no
// registered devices) is a logged drop: the event is Acked and the chat
// message itself is unaffected. Infrastructure failures (store unreachable,
// provider transport down) are returned so the platform redelivers; duplicate
// sends on redelivery are tolerable and the subscription's dead-letter policy
// bounds the retries.
func NewProcessor(
	fcmDispatcher dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	store dispatch.Store,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[chat.MessageCreatedEvent] {

	return func(ctx context.Context, original messagepipeline.Message, event *chat.MessageCreatedEvent) error {
		procLogger := logger.With(
			"chat_id", event.ChatID,
			"message_id", event.MessageID,
			"pubsub_msg_id", original.ID,
		)

		// 1. Resolve the recipient from the room's participant list.
		room, err := store.GetChatRoom(ctx, event.ChatID)
		if err != nil {
			if errors.Is(err, dispatch.ErrNotFound) {
				procLogger.Warn("Chat room not found; dropping notification.")
				return nil
			}
			procLogger.Error("Failed to fetch chat room", "err", err)
			return err
		}

		recipientID, ok := chat.ResolveRecipient(room.Participants, event.SenderID)
		if !ok {
			procLogger.Warn("Could not identify recipient; dropping notification.",
				"participants", len(room.Participants))
			return nil
		}
		procLogger = procLogger.With("recipient_id", recipientID)

		// 2. Load both profiles. The lookups are independent, so issue them
		// concurrently.
		var sender, recipient *chat.UserProfile
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			sender, err = store.GetUserProfile(gctx, event.SenderID)
			return err
		})
		g.Go(func() error {
			var err error
			recipient, err = store.GetUserProfile(gctx, recipientID)
			return err
		})
		if err := g.Wait(); err != nil {
			if errors.Is(err, dispatch.ErrNotFound) {
				procLogger.Warn("Profile not found; dropping notification.", "err", err)
				return nil
			}
			procLogger.Error("Failed to fetch profiles", "err", err)
			return err
		}

		if len(recipient.FCMTokens) == 0 && len(recipient.WebSubscriptions) == 0 {
			procLogger.Info("Recipient has no registered devices; dropping notification.")
			return nil
		}

		// 3. Build the payload once; both channels share it.
		payload := BuildPayload(sender, *event, time.Now())

		// 4. Path A: FCM (mobile).
		if len(recipient.FCMTokens) > 0 {
			receipt, err := fcmDispatcher.Dispatch(ctx, recipient.FCMTokens, payload)
			if err != nil {
				// The batch never resolved; without a known failure set,
				// reconciling would risk deleting live tokens. Retry instead.
				procLogger.Error("FCM dispatch failed", "err", err)
				return err
			}
			reconcileFCM(ctx, store, recipientID, receipt, procLogger)
		}

		// 5. Path B: Web Push.
		if len(recipient.WebSubscriptions) > 0 {
			receipt, err := webDispatcher.Dispatch(ctx, recipient.WebSubscriptions, payload)
			if err != nil {
				procLogger.Error("Web dispatch failed", "err", err)
				return err
			}
			reconcileWeb(ctx, store, recipientID, recipient.WebSubscriptions, receipt, procLogger)
		}

		return nil
	}
}

// reconcileFCM prunes the tokens the provider reported as permanently
// invalid. The send is already final: a failed cleanup write is logged and
// swallowed, never rolled back or retried, and redelivery is safe because
// removing an already-removed token is a no-op.
func reconcileFCM(ctx context.Context, store dispatch.Store, recipientID string, receipt *dispatch.Receipt, logger *slog.Logger) {
	invalid := receipt.PermanentFailures()
	if len(invalid) > 0 {
		logger.Info("Cleaning up invalid FCM tokens", "count", len(invalid))
		if err := store.RemoveFCMTokens(ctx, recipientID, invalid); err != nil {
			logger.Warn("Failed to remove invalid FCM tokens", "err", err)
		}
	}
	logger.Info("FCM dispatched",
		"success", receipt.SuccessCount,
		"failed", receipt.FailureCount,
		"pruned", len(invalid),
	)
}

func reconcileWeb(ctx context.Context, store dispatch.Store, recipientID string, subs []chat.WebPushSubscription, receipt *dispatch.Receipt, logger *slog.Logger) {
	deadEndpoints := receipt.PermanentFailures()

	// Map endpoints back to the stored subscription values: ArrayRemove
	// matches whole values, not fields.
	var invalid []chat.WebPushSubscription
	for _, sub := range subs {
		for _, endpoint := range deadEndpoints {
			if sub.Endpoint == endpoint {
				invalid = append(invalid, sub)
				break
			}
		}
	}

	if len(invalid) > 0 {
		logger.Info("Cleaning up invalid web subscriptions", "count", len(invalid))
		if err := store.RemoveWebSubscriptions(ctx, recipientID, invalid); err != nil {
			logger.Warn("Failed to remove invalid web subscriptions", "err", err)
		}
	}
	logger.Info("Web dispatched",
		"success", receipt.SuccessCount,
		"failed", receipt.FailureCount,
		"pruned", len(invalid),
	)
}
