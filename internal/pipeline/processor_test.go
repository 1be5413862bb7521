package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-chat-push-service/pkg/chat"
	"github.com/tinywideclouds/go-chat-push-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockFCMDispatcher struct {
	mock.Mock
}

func (m *mockFCMDispatcher) Dispatch(ctx context.Context, tokens []string, payload chat.PushPayload) (*dispatch.Receipt, error) {
	args := m.Called(ctx, tokens, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.Receipt), args.Error(1)
}

type mockWebDispatcher struct {
	mock.Mock
}

func (m *mockWebDispatcher) Dispatch(ctx context.Context, subs []chat.WebPushSubscription, payload chat.PushPayload) (*dispatch.Receipt, error) {
	args := m.Called(ctx, subs, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.Receipt), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetChatRoom(ctx context.Context, chatID string) (*chat.Room, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chat.Room), args.Error(1)
}

func (m *mockStore) GetUserProfile(ctx context.Context, userID string) (*chat.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chat.UserProfile), args.Error(1)
}

func (m *mockStore) RemoveFCMTokens(ctx context.Context, userID string, tokens []string) error {
	return m.Called(ctx, userID, tokens).Error(0)
}

func (m *mockStore) RemoveWebSubscriptions(ctx context.Context, userID string, subs []chat.WebPushSubscription) error {
	return m.Called(ctx, userID, subs).Error(0)
}

// Satisfy the full Store interface (registration is not the pipeline's job)
func (m *mockStore) RegisterFCMToken(_ context.Context, _ string, _ string) error { return nil }
func (m *mockStore) RegisterWebSubscription(_ context.Context, _ string, _ chat.WebPushSubscription) error {
	return nil
}

// --- Fixtures ---

func newEvent() *chat.MessageCreatedEvent {
	return &chat.MessageCreatedEvent{
		ChatID:    "r1",
		MessageID: "m1",
		SenderID:  "u1",
		Text:      "hi",
	}
}

func run(t *testing.T, fcmMock *mockFCMDispatcher, webMock *mockWebDispatcher, storeMock *mockStore, event *chat.MessageCreatedEvent) error {
	t.Helper()
	processor := pipeline.NewProcessor(fcmMock, webMock, storeMock, newTestLogger())
	return processor(context.Background(), messagepipeline.Message{}, event)
}

// --- Tests ---

func TestProcessor_Dispatch(t *testing.T) {
	t.Run("End to end with partial failure cleanup", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u1").
			Return(&chat.UserProfile{ID: "u1", DisplayName: "Alice"}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u2").
			Return(&chat.UserProfile{ID: "u2", FCMTokens: []string{"tokA", "tokB"}}, nil)

		// One batched send covering both tokens; tokB comes back unregistered.
		fcmMock.On("Dispatch", mock.Anything, []string{"tokA", "tokB"}, mock.MatchedBy(func(p chat.PushPayload) bool {
			return p.Notification.Title == "Alice" &&
				p.Notification.Body == "hi" &&
				p.Data["chatId"] == "r1" &&
				p.Data["messageId"] == "m1" &&
				p.Data["senderId"] == "u1"
		})).Return(&dispatch.Receipt{
			SuccessCount: 1,
			FailureCount: 1,
			Results: []dispatch.AddressResult{
				{Address: "tokA", OK: true},
				{Address: "tokB", Reason: "registration-token-not-registered", Permanent: true},
			},
		}, nil)

		// Exactly the permanently failed token is pruned.
		storeMock.On("RemoveFCMTokens", mock.Anything, "u2", []string{"tokB"}).Return(nil)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err)
		fcmMock.AssertExpectations(t)
		storeMock.AssertExpectations(t)
		webMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Transient failures leave the address set untouched", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, mock.Anything).
			Return(&chat.UserProfile{ID: "u2", FCMTokens: []string{"tokA"}}, nil)

		fcmMock.On("Dispatch", mock.Anything, []string{"tokA"}, mock.Anything).
			Return(&dispatch.Receipt{
				FailureCount: 1,
				Results: []dispatch.AddressResult{
					{Address: "tokA", Reason: "unavailable"},
				},
			}, nil)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err)
		storeMock.AssertNotCalled(t, "RemoveFCMTokens", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Web subscriptions pruned by endpoint", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		liveSub := chat.WebPushSubscription{Endpoint: "https://push.example.com/live"}
		deadSub := chat.WebPushSubscription{Endpoint: "https://push.example.com/dead"}

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u1").
			Return(&chat.UserProfile{ID: "u1", DisplayName: "Alice"}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u2").
			Return(&chat.UserProfile{ID: "u2", WebSubscriptions: []chat.WebPushSubscription{liveSub, deadSub}}, nil)

		webMock.On("Dispatch", mock.Anything, []chat.WebPushSubscription{liveSub, deadSub}, mock.Anything).
			Return(&dispatch.Receipt{
				SuccessCount: 1,
				FailureCount: 1,
				Results: []dispatch.AddressResult{
					{Address: liveSub.Endpoint, OK: true},
					{Address: deadSub.Endpoint, Reason: "subscription gone (410)", Permanent: true},
				},
			}, nil)

		storeMock.On("RemoveWebSubscriptions", mock.Anything, "u2", []chat.WebPushSubscription{deadSub}).Return(nil)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err)
		webMock.AssertExpectations(t)
		storeMock.AssertExpectations(t)
		fcmMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcessor_MissingDataDrops(t *testing.T) {
	t.Run("Chat room not found", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").Return(nil, dispatch.ErrNotFound)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err, "missing data must not trigger a retry")
		fcmMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
		storeMock.AssertNotCalled(t, "GetUserProfile", mock.Anything, mock.Anything)
		storeMock.AssertNotCalled(t, "RemoveFCMTokens", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("No recipient resolvable", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1"}}, nil)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err)
		storeMock.AssertNotCalled(t, "GetUserProfile", mock.Anything, mock.Anything)
		fcmMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Sender profile not found", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u1").Return(nil, dispatch.ErrNotFound)
		// The concurrent recipient lookup may or may not complete first.
		storeMock.On("GetUserProfile", mock.Anything, "u2").
			Return(&chat.UserProfile{ID: "u2", FCMTokens: []string{"tokA"}}, nil).Maybe()

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err)
		fcmMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Recipient has no registered devices", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u1").
			Return(&chat.UserProfile{ID: "u1", DisplayName: "Alice"}, nil)
		storeMock.On("GetUserProfile", mock.Anything, "u2").
			Return(&chat.UserProfile{ID: "u2"}, nil)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.NoError(t, err)
		fcmMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
		webMock.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcessor_Failures(t *testing.T) {
	t.Run("Store outage surfaces for retry", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").Return(nil, errors.New("firestore unavailable"))

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.Error(t, err)
	})

	t.Run("Unresolved dispatch never reconciles", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, mock.Anything).
			Return(&chat.UserProfile{ID: "u2", FCMTokens: []string{"tokA"}}, nil)

		fcmMock.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, context.DeadlineExceeded)

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		require.Error(t, err)
		storeMock.AssertNotCalled(t, "RemoveFCMTokens", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Reconciliation write failure is swallowed", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, mock.Anything).
			Return(&chat.UserProfile{ID: "u2", FCMTokens: []string{"tokA"}}, nil)

		fcmMock.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).
			Return(&dispatch.Receipt{
				FailureCount: 1,
				Results:      []dispatch.AddressResult{{Address: "tokA", Reason: "unregistered", Permanent: true}},
			}, nil)

		storeMock.On("RemoveFCMTokens", mock.Anything, "u2", []string{"tokA"}).
			Return(errors.New("write failed"))

		err := run(t, fcmMock, webMock, storeMock, newEvent())

		// The send is final; a failed cleanup must not fail the invocation.
		require.NoError(t, err)
		storeMock.AssertExpectations(t)
	})

	t.Run("Redelivered event repeats the send but reconciles idempotently", func(t *testing.T) {
		fcmMock := new(mockFCMDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockStore)

		storeMock.On("GetChatRoom", mock.Anything, "r1").
			Return(&chat.Room{ID: "r1", Participants: []string{"u1", "u2"}}, nil)
		storeMock.On("GetUserProfile", mock.Anything, mock.Anything).
			Return(&chat.UserProfile{ID: "u2", FCMTokens: []string{"tokA"}}, nil)

		fcmMock.On("Dispatch", mock.Anything, []string{"tokA"}, mock.Anything).
			Return(&dispatch.Receipt{
				FailureCount: 1,
				Results:      []dispatch.AddressResult{{Address: "tokA", Reason: "unregistered", Permanent: true}},
			}, nil).Twice()
		storeMock.On("RemoveFCMTokens", mock.Anything, "u2", []string{"tokA"}).Return(nil).Twice()

		require.NoError(t, run(t, fcmMock, webMock, storeMock, newEvent()))
		require.NoError(t, run(t, fcmMock, webMock, storeMock, newEvent()))

		// Both invocations issue the same ArrayRemove; removing an absent
		// value is a no-op in the store, so no extra mutation results.
		storeMock.AssertExpectations(t)
		fcmMock.AssertExpectations(t)
	})
}
