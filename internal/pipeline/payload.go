package pipeline

import (
	"time"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
)

// Defaults substituted when the source documents omit a field.
const (
	DefaultSenderName  = "Unknown User"
	DefaultMessageBody = "New message"

	notificationSound = "default"
	// payloadTTL bounds delivery attempts: a chat notification older than a
	// day is stale, the recipient will see the message on next sync anyway.
	payloadTTL = 24 * time.Hour
)

// BuildPayload assembles the provider-agnostic push payload for one message
// event. Pure field selection and defaulting; no side effects.
//
// The data block carries everything the receiving client needs to deep-link
// into the chat and render the sender without a further profile fetch.
func BuildPayload(sender *chat.UserProfile, event chat.MessageCreatedEvent, now time.Time) chat.PushPayload {
	title := sender.DisplayName
	if title == "" {
		title = DefaultSenderName
	}

	body := event.Text
	if body == "" {
		body = DefaultMessageBody
	}

	return chat.PushPayload{
		Notification: chat.Notification{
			Title: title,
			Body:  body,
			Sound: notificationSound,
		},
		Data: map[string]string{
			"chatId":         event.ChatID,
			"messageId":      event.MessageID,
			"senderId":       event.SenderID,
			"senderName":     title,
			"senderPhotoUrl": sender.PhotoURL,
			"timestamp":      now.UTC().Format(time.RFC3339),
		},
		Hints: chat.DeliveryHints{
			TTL: payloadTTL,
			// Chat messages are time-sensitive.
			HighPriority: true,
		},
	}
}
