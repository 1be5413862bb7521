// Package web sends push payloads to browser subscriptions via the Web Push
// protocol (VAPID).
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-chat-push-service/chatpushservice/config"
	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch delivers the payload to each subscription. The Web Push protocol
// has no multicast endpoint, so the batch is a sequential loop; per-endpoint
// outcomes are aggregated into one receipt so the caller sees the same
// contract as FCM.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []chat.WebPushSubscription, payload chat.PushPayload) (*dispatch.Receipt, error) {
	if len(subs) == 0 {
		return &dispatch.Receipt{}, nil
	}

	body, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": payload.Notification.Title,
			"body":  payload.Notification.Body,
		},
		"data": payload.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal web push payload: %w", err)
	}

	options := &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             int(payload.Hints.TTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
		HTTPClient:      d.httpClient,
	}
	if payload.Hints.HighPriority {
		options.Urgency = webpush.UrgencyHigh
	}

	receipt := &dispatch.Receipt{Results: make([]dispatch.AddressResult, 0, len(subs))}

	for _, sub := range subs {
		result := d.sendOne(ctx, body, sub, options)
		if result.OK {
			receipt.SuccessCount++
		} else {
			receipt.FailureCount++
		}
		receipt.Results = append(receipt.Results, result)
	}

	return receipt, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, body []byte, sub chat.WebPushSubscription, options *webpush.Options) dispatch.AddressResult {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, s, options)
	if err != nil {
		// Transport error (DNS, timeout) or unusable keys. Keep the
		// subscription, it may recover.
		d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return dispatch.AddressResult{Address: sub.Endpoint, Reason: "transport: " + err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusCreated:
		return dispatch.AddressResult{Address: sub.Endpoint, OK: true}
	case http.StatusGone, http.StatusNotFound:
		// The push service has dropped the subscription. Eligible for cleanup.
		return dispatch.AddressResult{
			Address:   sub.Endpoint,
			Reason:    fmt.Sprintf("subscription gone (%d)", resp.StatusCode),
			Permanent: true,
		}
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return dispatch.AddressResult{
			Address: sub.Endpoint,
			Reason:  fmt.Sprintf("rejected (%d)", resp.StatusCode),
		}
	}
}
