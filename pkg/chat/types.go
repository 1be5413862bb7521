// Package chat contains the domain models shared between the dispatch
// pipeline, the storage layer, and the device registration API.
package chat

import "time"

// Room is the read-only view of a chat room document. Membership is managed
// by the chat service; we only ever read the participant list.
type Room struct {
	ID           string   `firestore:"-" json:"id"`
	Participants []string `firestore:"participants" json:"participants"`
}

// UserProfile is the view of a user document that the dispatcher cares about:
// display fields for the payload and the registered delivery addresses.
type UserProfile struct {
	ID               string                `firestore:"-" json:"id"`
	DisplayName      string                `firestore:"displayName" json:"displayName,omitempty"`
	PhotoURL         string                `firestore:"photoUrl" json:"photoUrl,omitempty"`
	FCMTokens        []string              `firestore:"fcmTokens" json:"fcmTokens,omitempty"`
	WebSubscriptions []WebPushSubscription `firestore:"webSubscriptions" json:"webSubscriptions,omitempty"`
}

// WebPushSubscription mirrors the browser PushSubscription JSON a web client
// hands us at registration time. Keys stay base64url encoded end to end.
type WebPushSubscription struct {
	Endpoint string      `firestore:"endpoint" json:"endpoint"`
	Keys     WebPushKeys `firestore:"keys" json:"keys"`
}

type WebPushKeys struct {
	P256dh string `firestore:"p256dh" json:"p256dh"`
	Auth   string `firestore:"auth" json:"auth"`
}

// MessageCreatedEvent is the decoded form of a "message document created"
// trigger event: the path parameters plus the fields the pipeline reads.
// The pipeline never fetches the message document itself.
type MessageCreatedEvent struct {
	ChatID    string
	MessageID string
	SenderID  string
	Text      string
}

// Notification is the user-visible part of a push payload.
type Notification struct {
	Title string
	Body  string
	Sound string
}

// DeliveryHints carries the provider-agnostic delivery preferences. The
// platform dispatchers translate these into FCM/APNs/Web Push specifics.
type DeliveryHints struct {
	// TTL bounds how long the provider should keep trying to deliver.
	TTL time.Duration
	// HighPriority requests immediate delivery (apns-priority 10,
	// Android "high").
	HighPriority bool
}

// PushPayload is the ephemeral, provider-agnostic notification assembled for
// a single message event. It is never persisted.
type PushPayload struct {
	Notification Notification
	// Data lets the receiving client deep-link into the chat and render the
	// sender without a further profile fetch.
	Data  map[string]string
	Hints DeliveryHints
}
