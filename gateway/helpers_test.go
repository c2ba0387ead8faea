package gateway

import (
	"chat-hub/auth"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/mocks"
	"chat-hub/observability"
	"chat-hub/repositories"
	"chat-hub/runtime"
	"chat-hub/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testUsers = map[string]domain.User{
	"alice": {ID: "alice", Username: "Alice"},
	"bob":   {ID: "bob", Username: "Bob"},
	"carol": {ID: "carol", Username: "Carol"},
}

type fixture struct {
	gateway       *Gateway
	registry      *runtime.Registry
	channels      *runtime.Channels
	metrics       *observability.Metrics
	conversations services.IConversationService
	messages      services.IMessageService
	sessions      int
}

// newFixture wires a gateway on a fresh Badger store. The token verifier accepts any token
// naming a known user and rejects everything else.
func newFixture(t *testing.T, wrap ...func(services.IMessageService) services.IMessageService) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	directory := mocks.NewMockIUserDirectory(ctrl)
	directory.EXPECT().GetUsers(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ids []string) (map[string]domain.User, error) {
			found := map[string]domain.User{}
			for _, id := range ids {
				if u, ok := testUsers[id]; ok {
					found[id] = u
				}
			}
			return found, nil
		}).AnyTimes()
	directory.EXPECT().GetUser(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string) (domain.User, error) {
			u, ok := testUsers[id]
			if !ok {
				return domain.User{}, errors.ErrUserNotFound
			}
			return u, nil
		}).AnyTimes()

	verifier := mocks.NewMockITokenVerifier(ctrl)
	verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, token string) (auth.Identity, error) {
			if _, ok := testUsers[token]; !ok {
				return auth.Identity{}, errors.ErrInvalidToken
			}
			return auth.Identity{UserID: token}, nil
		}).AnyTimes()

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	exec := repositories.NewExecutor(log, time.Second, repositories.DefaultMaxRetries, time.Millisecond)
	conversationRepository := repositories.NewConversationRepository(db, log, exec)
	messageRepository := repositories.NewMessageRepository(db, log, exec)
	conversations := services.NewConversationService(log, conversationRepository, messageRepository, directory)
	var messages services.IMessageService = services.NewMessageService(log, conversations, messageRepository, directory, nil, 0)
	for _, w := range wrap {
		messages = w(messages)
	}

	registry := runtime.NewRegistry()
	channels := runtime.NewChannels(log)
	metrics := observability.NewMetrics()
	return &fixture{
		gateway:       NewGateway(log, verifier, registry, channels, conversations, messages, metrics),
		registry:      registry,
		channels:      channels,
		metrics:       metrics,
		conversations: conversations,
		messages:      messages,
	}
}

func (f *fixture) session() *Session {
	f.sessions++
	return NewSession(fmt.Sprintf("s%d", f.sessions), runtime.NewOutbox(64), f.metrics)
}

// login opens a session for userID and discards the frames produced by authentication.
func (f *fixture) login(t *testing.T, userID string) *Session {
	t.Helper()
	s := f.session()
	f.send(t, s, event.Authenticate, map[string]any{"token": userID})
	require.Equal(t, StateAuthenticated, s.State())
	s.Outbox().Drain()
	return s
}

func (f *fixture) send(t *testing.T, s *Session, evt event.Type, data any) {
	t.Helper()
	raw, err := event.New(evt, data).Encode()
	require.NoError(t, err)
	f.gateway.Handle(context.Background(), s, raw)
}

func (f *fixture) join(t *testing.T, s *Session, conversationID string) {
	t.Helper()
	f.send(t, s, event.JoinConversation, map[string]any{"conversationId": conversationID})
	frames := received(t, s)
	require.Len(t, frames, 1)
	require.Equal(t, event.JoinedConversation, frames[0].Event)
}

func (f *fixture) conversation(t *testing.T, typ domain.ConversationType, creator string, others ...string) domain.Conversation {
	t.Helper()
	c, _, err := f.conversations.Create(context.Background(), creator, others, typ, "")
	require.NoError(t, err)
	return c
}

// received drains the session outbox and decodes every frame except presence announcements,
// which every login produces on the other sessions.
func received(t *testing.T, s *Session) []event.Envelope {
	t.Helper()
	var envelopes []event.Envelope
	for _, env := range receivedAll(t, s) {
		if env.Event == event.UserOnline || env.Event == event.UserOffline {
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes
}

func receivedAll(t *testing.T, s *Session) []event.Envelope {
	t.Helper()
	var envelopes []event.Envelope
	for _, f := range s.Outbox().Drain() {
		env, err := event.Decode(f.Payload)
		require.NoError(t, err)
		envelopes = append(envelopes, env)
	}
	return envelopes
}

func events(envelopes []event.Envelope) []event.Type {
	types := make([]event.Type, 0, len(envelopes))
	for _, env := range envelopes {
		types = append(types, env.Event)
	}
	return types
}

func decodeData[T any](t *testing.T, env event.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
