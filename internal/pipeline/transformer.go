// Package pipeline contains the core message processing components for the
// service: decoding Firestore "message created" events and dispatching the
// resulting push notifications.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
)

// firestoreEvent is the envelope Firestore publishes for a document-created
// event: the new document's resource name plus its fields in typed-value
// JSON encoding.
type firestoreEvent struct {
	Value struct {
		Name   string        `json:"name"`
		Fields messageFields `json:"fields"`
	} `json:"value"`
}

type stringValue struct {
	Value string `json:"stringValue"`
}

type messageFields struct {
	SenderID stringValue `json:"senderId"`
	Text     stringValue `json:"text"`
}

// MessageCreatedTransformer decodes a raw Firestore event into a
// chat.MessageCreatedEvent.
//
// Skip semantics: an envelope that cannot be decoded, or that is missing its
// chat/message path or senderId, can never succeed on redelivery. We return
// an error with skip=true so the StreamingService handles the Nack/DLQ logic
// instead of retrying forever.
func MessageCreatedTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*chat.MessageCreatedEvent, bool, error) {
	var event firestoreEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal firestore event from message %s: %w", msg.ID, err)
	}

	chatID, messageID, err := parseMessagePath(event.Value.Name)
	if err != nil {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, err)
	}

	if event.Value.Fields.SenderID.Value == "" {
		return nil, true, fmt.Errorf("message %s: event for %s/%s has no senderId", msg.ID, chatID, messageID)
	}

	return &chat.MessageCreatedEvent{
		ChatID:    chatID,
		MessageID: messageID,
		SenderID:  event.Value.Fields.SenderID.Value,
		Text:      event.Value.Fields.Text.Value,
	}, false, nil
}

// parseMessagePath extracts the chat and message ids from a document
// resource name of the form
// projects/{p}/databases/{d}/documents/chats/{chatId}/messages/{messageId}.
func parseMessagePath(name string) (chatID, messageID string, err error) {
	_, path, found := strings.Cut(name, "/documents/")
	if !found {
		return "", "", fmt.Errorf("unexpected document name %q", name)
	}

	segments := strings.Split(path, "/")
	if len(segments) != 4 || segments[0] != "chats" || segments[2] != "messages" ||
		segments[1] == "" || segments[3] == "" {
		return "", "", fmt.Errorf("document path %q is not a chat message", path)
	}

	return segments[1], segments[3], nil
}
