package repositories

import (
	"chat-hub/domain"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type testStore struct {
	db            *badger.DB
	conversations ConversationRepository
	messages      MessageRepository
	users         UserRepository
}

func newTestStore(t *testing.T) testStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	exec := NewExecutor(log, time.Second, DefaultMaxRetries, time.Millisecond)
	return testStore{
		db:            db,
		conversations: NewConversationRepository(db, log, exec),
		messages:      NewMessageRepository(db, log, exec),
		users:         NewUserRepository(db, log, exec),
	}
}

func newConversation(t domain.ConversationType, participants ...string) domain.Conversation {
	now := time.Now().UTC()
	c := domain.Conversation{
		ID:           uuid.NewString(),
		Type:         t,
		Participants: participants,
		CreatorID:    participants[0],
		Active:       true,
		CreatedAt:    now,
		LastActivity: now,
	}
	if t == domain.ConversationGroup {
		c.Admins = []string{participants[0]}
	}
	return c
}

func newTextMessage(conversationID, sender, text string, at time.Time) domain.Message {
	return domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender,
		Body:           domain.TextBody{Text: text},
		CreatedAt:      at,
	}
}
