package repositories

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_StoreTouchesConversation(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	c, _, err := store.conversations.Create(ctx, newConversation(domain.ConversationPrivate, "alice", "bob"))
	req.NoError(err)

	// When alice sends a message
	at := time.Now().UTC().Add(time.Minute)
	m := newTextMessage(c.ID, "alice", "hello", at)
	req.NoError(store.messages.Store(ctx, m))

	// Then the conversation points at it
	stored, err := store.conversations.Get(ctx, c.ID)
	req.NoError(err)
	req.Equal(m.ID, stored.LastMessageID)
	req.True(stored.LastActivity.Equal(at))

	// And it can be loaded by id
	loaded, err := store.messages.Get(ctx, m.ID)
	req.NoError(err)
	req.Equal("hello", loaded.Content())
	req.Equal(domain.MessageText, loaded.Type())
}

func TestMessageRepository_StoreIntoMissingConversation(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)

	err := store.messages.Store(context.Background(), newTextMessage("ghost", "alice", "hi", time.Now()))
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func TestMessageRepository_HistoryPagesNewestFirst(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	c, _, err := store.conversations.Create(ctx, newConversation(domain.ConversationPrivate, "alice", "bob"))
	req.NoError(err)

	// Given five messages one minute apart
	at := time.Now().UTC()
	var ids []string
	for i := 0; i < 5; i++ {
		m := newTextMessage(c.ID, "alice", fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Minute))
		req.NoError(store.messages.Store(ctx, m))
		ids = append(ids, m.ID)
	}

	// When paging two by two
	page1, cursor, err := store.messages.History(ctx, c.ID, "", 2)
	req.NoError(err)
	page2, cursor2, err := store.messages.History(ctx, c.ID, cursor, 2)
	req.NoError(err)
	page3, cursor3, err := store.messages.History(ctx, c.ID, cursor2, 2)
	req.NoError(err)

	// Then every message is seen once, newest first
	toIDs := func(ms []domain.Message) []string {
		return lo.Map(ms, func(m domain.Message, _ int) string { return m.ID })
	}
	req.Equal([]string{ids[4], ids[3]}, toIDs(page1))
	req.Equal([]string{ids[2], ids[1]}, toIDs(page2))
	req.Equal([]string{ids[0]}, toIDs(page3))
	req.NotEmpty(cursor)
	req.NotEmpty(cursor2)
	req.Empty(cursor3)
}

func TestMessageRepository_DeletedMessageDecodesAsTombstone(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	c, _, err := store.conversations.Create(ctx, newConversation(domain.ConversationPrivate, "alice", "bob"))
	req.NoError(err)
	m := newTextMessage(c.ID, "alice", "secret", time.Now().UTC())
	req.NoError(store.messages.Store(ctx, m))

	_, err = store.messages.Update(ctx, m.ID, func(msg *domain.Message) error {
		msg.Deleted = &domain.Deletion{At: time.Now().UTC(), By: "alice"}
		return nil
	})
	req.NoError(err)

	loaded, err := store.messages.Get(ctx, m.ID)
	req.NoError(err)
	req.True(loaded.IsDeleted())
	req.Equal(domain.DeletedPlaceholder, loaded.Content())
	req.Equal(domain.MessageText, loaded.Type())
	req.Equal("alice", loaded.Deleted.By)
}

func TestMessageRepository_UpdateManyReportsChanges(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	c, _, err := store.conversations.Create(ctx, newConversation(domain.ConversationPrivate, "alice", "bob"))
	req.NoError(err)
	m1 := newTextMessage(c.ID, "alice", "one", time.Now().UTC())
	m2 := newTextMessage(c.ID, "alice", "two", time.Now().UTC().Add(time.Second))
	req.NoError(store.messages.Store(ctx, m1))
	req.NoError(store.messages.Store(ctx, m2))

	mark := func(m *domain.Message) bool {
		if m.ReadByUser("bob") {
			return false
		}
		m.ReadBy = append(m.ReadBy, domain.ReadMark{UserID: "bob", At: time.Now().UTC()})
		return true
	}

	changed, err := store.messages.UpdateMany(ctx, []string{m1.ID, m2.ID, "unknown"}, mark)
	req.NoError(err)
	req.Len(changed, 2)

	changed, err = store.messages.UpdateMany(ctx, []string{m1.ID, m2.ID}, mark)
	req.NoError(err)
	req.Empty(changed)

	loaded, err := store.messages.Get(ctx, m1.ID)
	req.NoError(err)
	req.Len(loaded.ReadBy, 1)
}

func TestMessageRepository_FilterNewestFirst(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	c, _, err := store.conversations.Create(ctx, newConversation(domain.ConversationPrivate, "alice", "bob"))
	req.NoError(err)
	at := time.Now().UTC()
	for i := 0; i < 4; i++ {
		req.NoError(store.messages.Store(ctx, newTextMessage(c.ID, "bob", fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Second))))
	}

	found, err := store.messages.Filter(ctx, c.ID, func(m domain.Message) bool {
		return m.Content() != "m2"
	})
	req.NoError(err)
	req.Equal([]string{"m3", "m1", "m0"}, lo.Map(found, func(m domain.Message, _ int) string { return m.Content() }))
}

func TestMessageRepository_MediaRoundTrip(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	c, _, err := store.conversations.Create(ctx, newConversation(domain.ConversationPrivate, "alice", "bob"))
	req.NoError(err)
	m := domain.Message{
		ID:             "img-1",
		ConversationID: c.ID,
		SenderID:       "bob",
		Body:           domain.ImageBody{Image: domain.Attachment{URL: "https://cdn/cat.png", MimeType: "image/png", Size: 12}},
		Reactions:      []domain.Reaction{{UserID: "alice", Emoji: "😂", At: time.Now().UTC()}},
		CreatedAt:      time.Now().UTC(),
	}
	req.NoError(store.messages.Store(ctx, m))

	loaded, err := store.messages.Get(ctx, "img-1")
	req.NoError(err)
	req.Equal(domain.MessageImage, loaded.Type())
	req.Equal("https://cdn/cat.png", loaded.Body.Attachment().URL)
	reaction, ok := loaded.ReactionOf("alice")
	req.True(ok)
	req.Equal("😂", reaction.Emoji)
}
