package services

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/mocks"
	"chat-hub/repositories"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testUsers = map[string]domain.User{
	"alice": {ID: "alice", Username: "Alice", Avatar: "alice.png"},
	"bob":   {ID: "bob", Username: "Bob"},
	"carol": {ID: "carol", Username: "Carol"},
	"dave":  {ID: "dave", Username: "Dave"},
}

type fixture struct {
	conversations *ConversationService
	messages      *MessageService
}

// newFixture wires both services on a fresh Badger store and a directory knowing testUsers.
func newFixture(t *testing.T, censor ICensor) fixture {
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

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	exec := repositories.NewExecutor(log, time.Second, repositories.DefaultMaxRetries, time.Millisecond)
	conversationRepository := repositories.NewConversationRepository(db, log, exec)
	messageRepository := repositories.NewMessageRepository(db, log, exec)

	conversations := NewConversationService(log, conversationRepository, messageRepository, directory)
	messages := NewMessageService(log, conversations, messageRepository, directory, censor, 0)
	return fixture{conversations: conversations, messages: messages}
}

func (f fixture) private(t *testing.T, a, b string) domain.Conversation {
	t.Helper()
	c, _, err := f.conversations.Create(context.Background(), a, []string{b}, domain.ConversationPrivate, "")
	require.NoError(t, err)
	return c
}

func (f fixture) group(t *testing.T, creator string, others ...string) domain.Conversation {
	t.Helper()
	c, _, err := f.conversations.Create(context.Background(), creator, others, domain.ConversationGroup, "team")
	require.NoError(t, err)
	return c
}

func (f fixture) text(t *testing.T, conversationID, sender, content string) MessageView {
	t.Helper()
	m, _, err := f.messages.Send(context.Background(), conversationID, sender, SendInput{Type: domain.MessageText, Content: content})
	require.NoError(t, err)
	return m
}
