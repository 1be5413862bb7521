// Package fcm sends push payloads through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends one multicast message covering every token and classifies
// the per-token responses. Partial failure never errors; only a whole-batch
// transport/auth failure does, so the caller can retry the invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, payload chat.PushPayload) (*dispatch.Receipt, error) {
	if len(tokens) == 0 {
		return &dispatch.Receipt{}, nil
	}

	br, err := d.client.SendEachForMulticast(ctx, toMulticastMessage(tokens, payload))
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			// The batch itself is malformed. Retrying would fail identically,
			// so report every token as transiently failed and let the
			// invocation complete.
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			receipt := &dispatch.Receipt{FailureCount: len(tokens)}
			for _, t := range tokens {
				receipt.Results = append(receipt.Results, dispatch.AddressResult{Address: t, Reason: "invalid-argument"})
			}
			return receipt, nil
		}
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	receipt := &dispatch.Receipt{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Results:      make([]dispatch.AddressResult, 0, len(br.Responses)),
	}
	for idx, resp := range br.Responses {
		if idx >= len(tokens) {
			// Tolerate a short or empty response from the provider.
			break
		}
		result := dispatch.AddressResult{Address: tokens[idx], OK: resp.Success}
		if !resp.Success && resp.Error != nil {
			result.Reason = resp.Error.Error()
			result.Permanent = isTokenDead(resp.Error)
		}
		receipt.Results = append(receipt.Results, result)
	}

	return receipt, nil
}

// isTokenDead reports whether the per-token error means the registration
// token itself is no longer valid and should be pruned. Everything else
// (quota, unavailable, internal) is transient: keep the token, a future
// message will retry delivery naturally.
func isTokenDead(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) ||
		messaging.IsInvalidArgument(err) ||
		messaging.IsSenderIDMismatch(err)
}

func toMulticastMessage(tokens []string, payload chat.PushPayload) *messaging.MulticastMessage {
	ttl := payload.Hints.TTL
	androidPriority := "normal"
	apnsPriority := "5"
	if payload.Hints.HighPriority {
		androidPriority = "high"
		apnsPriority = "10"
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   payload.Data,
		Notification: &messaging.Notification{
			Title: payload.Notification.Title,
			Body:  payload.Notification.Body,
		},
		Android: &messaging.AndroidConfig{
			TTL:      &ttl,
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				Sound: payload.Notification.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: payload.Notification.Sound},
			},
		},
	}
}
