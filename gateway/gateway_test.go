package gateway

import (
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/services"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateway_RejectsEventsBeforeAuthentication(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session()

	// When sending a message on a fresh connection
	f.send(t, s, event.SendMessage, map[string]any{"conversationId": "c1", "type": "text", "content": "hi"})

	// Then the connection receives an unauthenticated error and stays open
	frames := received(t, s)
	req.Len(frames, 1)
	req.Equal(event.Error, frames[0].Event)
	payload := decodeData[errorPayload](t, frames[0])
	req.Equal(errors.CodeUnauthenticated, payload.Code)
	req.Equal(string(event.SendMessage), payload.Event)
	req.Equal(StateUnauthenticated, s.State())
}

func TestGateway_AuthenticationErrorAllowsRetry(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session()

	// Given a rejected token
	f.send(t, s, event.Authenticate, map[string]any{"token": "forged"})
	frames := received(t, s)
	req.Equal([]event.Type{event.AuthenticationError}, events(frames))
	req.Equal(StateUnauthenticated, s.State())
	req.False(f.registry.IsOnline("alice"))

	// When retrying with a valid token on the same connection
	f.send(t, s, event.Authenticate, map[string]any{"token": "alice"})

	// Then the session is authenticated and registered
	frames = received(t, s)
	req.Equal([]event.Type{event.Authenticated}, events(frames))
	req.Equal("alice", decodeData[userRef](t, frames[0]).UserID)
	req.Equal(StateAuthenticated, s.State())
	req.True(f.registry.IsOnline("alice"))
}

func TestGateway_ReauthenticatingAsAnotherUserFails(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.login(t, "alice")

	// Same identity is idempotent
	f.send(t, s, event.Authenticate, map[string]any{"token": "alice"})
	req.Equal([]event.Type{event.Authenticated}, events(received(t, s)))
	req.Len(f.registry.Lookup("alice"), 1)

	// Another identity is refused
	f.send(t, s, event.Authenticate, map[string]any{"token": "bob"})
	frames := received(t, s)
	req.Equal([]event.Type{event.Error}, events(frames))
	req.Equal(errors.CodeValidation, decodeData[errorPayload](t, frames[0]).Code)
	req.Equal("alice", s.UserID())
}

func TestGateway_InvalidPayload(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.login(t, "alice")

	f.gateway.Handle(context.Background(), s, []byte("{not json"))
	f.send(t, s, event.JoinConversation, map[string]any{})
	f.send(t, s, event.Type("teleport"), map[string]any{})

	frames := received(t, s)
	req.Len(frames, 3)
	for _, frame := range frames {
		req.Equal(event.Error, frame.Event)
		req.Equal(errors.CodeValidation, decodeData[errorPayload](t, frame).Code)
	}
}

func TestGateway_SendMessage_NotifiesParticipantsOutsideTheConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given Alice viewing a private conversation and Bob online elsewhere
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	f.join(t, alice, c.ID)

	// When Alice sends a message
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "Hello Bob"})

	// Then Alice sees new_message and Bob only gets a notification
	aliceFrames := received(t, alice)
	req.Equal([]event.Type{event.NewMessage}, events(aliceFrames))
	msg := decodeData[MessageDTO](t, aliceFrames[0])
	req.Equal("Hello Bob", msg.Content)
	req.Equal("alice", msg.Sender.ID)
	req.Equal("Alice", msg.Sender.Username)

	bobFrames := received(t, bob)
	req.Equal([]event.Type{event.MessageNotification}, events(bobFrames))
	notification := decodeData[notificationPayload](t, bobFrames[0])
	req.Equal(c.ID, notification.ConversationID)
	req.Equal(msg.ID, notification.Message.ID)

	// When Bob joins and Alice sends again
	f.join(t, bob, c.ID)
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "Still there?"})

	// Then Bob receives the message on the conversation channel and no notification
	req.Equal([]event.Type{event.NewMessage}, events(received(t, bob)))
}

func TestGateway_SendMessage_SenderNotJoinedStillGetsEcho(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")

	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "hi"})

	req.Equal([]event.Type{event.NewMessage}, events(received(t, alice)))
}

func TestGateway_SendMessage_NonParticipantIsForbidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	f.join(t, alice, c.ID)
	carol := f.login(t, "carol")

	f.send(t, carol, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "let me in"})

	frames := received(t, carol)
	req.Equal([]event.Type{event.Error}, events(frames))
	req.Equal(errors.CodeForbidden, decodeData[errorPayload](t, frames[0]).Code)
	req.Empty(received(t, alice))
}

func TestGateway_Typing_ExcludesSenderAndNonMembersAreSilent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	aliceTab := f.login(t, "alice")
	bob := f.login(t, "bob")
	f.join(t, alice, c.ID)
	f.join(t, aliceTab, c.ID)
	f.join(t, bob, c.ID)

	// When Alice types
	f.send(t, alice, event.Typing, map[string]any{"conversationId": c.ID, "isTyping": true})

	// Then only Bob is told, not any of Alice's sessions
	bobFrames := received(t, bob)
	req.Equal([]event.Type{event.UserTyping}, events(bobFrames))
	typing := decodeData[typingEventPayload](t, bobFrames[0])
	req.Equal("alice", typing.UserID)
	req.True(typing.IsTyping)
	req.Empty(received(t, alice))
	req.Empty(received(t, aliceTab))

	// A non member typing gets no error back
	carol := f.login(t, "carol")
	f.send(t, carol, event.Typing, map[string]any{"conversationId": c.ID, "isTyping": true})
	req.Empty(received(t, carol))
	req.Empty(received(t, bob))
}

func TestGateway_Presence_OnlineOnFirstSessionOfflineOnLast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	bob := f.login(t, "bob")

	// First session of Alice announces her
	alice1 := f.login(t, "alice")
	frames := receivedAll(t, bob)
	req.Equal([]event.Type{event.UserOnline}, events(frames))
	req.Equal("alice", decodeData[userRef](t, frames[0]).UserID)

	// Second session is silent
	alice2 := f.login(t, "alice")
	req.Empty(receivedAll(t, bob))
	req.Empty(receivedAll(t, alice1))

	// Closing one of two sessions keeps her online
	f.gateway.Disconnect(alice1)
	req.Empty(receivedAll(t, bob))
	req.True(f.registry.IsOnline("alice"))

	// Closing the last session announces her offline
	f.send(t, alice2, event.Disconnect, nil)
	frames = receivedAll(t, bob)
	req.Equal([]event.Type{event.UserOffline}, events(frames))
	req.Equal("alice", decodeData[userRef](t, frames[0]).UserID)
	req.False(f.registry.IsOnline("alice"))
	req.Equal(StateClosed, alice2.State())

	// Disconnect is idempotent
	f.gateway.Disconnect(alice2)
	req.Empty(receivedAll(t, bob))
}

func TestGateway_DisconnectRemovesChannelSubscriptions(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	f.join(t, alice, c.ID)

	f.gateway.Disconnect(alice)

	req.False(f.channels.IsSubscribed("conversation:"+c.ID, alice.SessionID()))
	req.False(f.channels.IsSubscribed("presence", alice.SessionID()))
	req.Zero(f.channels.Count())
}

func TestGateway_DisconnectDuringAuthenticationLeavesNothingBehind(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	raw, err := event.New(event.Authenticate, map[string]any{"token": "alice"}).Encode()
	req.NoError(err)

	// Given sessions torn down while they authenticate, as a shutdown would
	sessions := make([]*Session, 50)
	for i := range sessions {
		sessions[i] = f.session()
	}
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.gateway.Handle(context.Background(), s, raw)
		}()
		go func() {
			defer wg.Done()
			f.gateway.Disconnect(s)
		}()
	}
	wg.Wait()

	// Then no closed session stays registered or subscribed
	for _, s := range sessions {
		req.Equal(StateClosed, s.State())
	}
	req.Empty(f.registry.Lookup("alice"))
	req.False(f.registry.IsOnline("alice"))
	req.Zero(f.channels.Count())
}

func TestGateway_GroupRemoval_BroadcastsThenRevokesAccess(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationGroup, "alice", "bob", "carol")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	carol := f.login(t, "carol")
	for _, s := range []*Session{alice, bob, carol} {
		f.join(t, s, c.ID)
	}

	// When Alice removes Carol
	f.send(t, alice, event.RemoveParticipant, map[string]any{"conversationId": c.ID, "userId": "carol"})

	// Then every member including Carol sees the removal and its system message
	for _, s := range []*Session{alice, bob, carol} {
		frames := received(t, s)
		req.Equal([]event.Type{event.ParticipantRemoved}, events(frames), s.UserID())
		payload := decodeData[membershipPayload](t, frames[0])
		req.Equal("carol", payload.UserID)
		req.Equal("alice", payload.By)
		req.NotNil(payload.Message)
		req.Equal("Alice removed Carol", payload.Message.Content)
		req.NotContains(payload.Conversation.Participants, "carol")
	}

	// And Carol no longer receives conversation traffic
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "bye"})
	req.Empty(received(t, carol))

	// And cannot join again
	f.send(t, carol, event.JoinConversation, map[string]any{"conversationId": c.ID})
	frames := received(t, carol)
	req.Equal([]event.Type{event.Error}, events(frames))
	req.Equal(errors.CodeForbidden, decodeData[errorPayload](t, frames[0]).Code)
}

func TestGateway_RemoveParticipant_RequiresAdmin(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationGroup, "alice", "bob", "carol")
	bob := f.login(t, "bob")

	f.send(t, bob, event.RemoveParticipant, map[string]any{"conversationId": c.ID, "userId": "carol"})

	frames := received(t, bob)
	req.Equal([]event.Type{event.Error}, events(frames))
	req.Equal(errors.CodeForbidden, decodeData[errorPayload](t, frames[0]).Code)
}

func TestGateway_CreateConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	received(t, alice)

	// A new conversation is announced to every participant
	f.send(t, alice, event.CreateConversation, map[string]any{"participantIds": []string{"bob"}, "type": "private"})
	aliceFrames := received(t, alice)
	req.Equal([]event.Type{event.ConversationCreated}, events(aliceFrames))
	req.Equal([]event.Type{event.ConversationCreated}, events(received(t, bob)))
	created := decodeData[conversationCreatedPayload](t, aliceFrames[0])

	// Asking again returns the same conversation to the requester only
	f.send(t, alice, event.CreateConversation, map[string]any{"participantIds": []string{"bob"}, "type": "private"})
	aliceFrames = received(t, alice)
	req.Equal([]event.Type{event.ConversationCreated}, events(aliceFrames))
	req.Equal(created.Conversation.ID, decodeData[conversationCreatedPayload](t, aliceFrames[0]).Conversation.ID)
	req.Empty(received(t, bob))
}

func TestGateway_MarkAsRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	f.join(t, alice, c.ID)
	f.join(t, bob, c.ID)
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "read me"})
	msg := decodeData[MessageDTO](t, received(t, alice)[0])
	received(t, bob)

	// When Bob reads the message
	f.send(t, bob, event.MarkAsRead, map[string]any{"conversationId": c.ID, "messageIds": []string{msg.ID}})

	// Then the conversation learns it
	frames := received(t, alice)
	req.Equal([]event.Type{event.MessagesRead}, events(frames))
	read := decodeData[messagesReadPayload](t, frames[0])
	req.Equal("bob", read.UserID)
	req.Equal([]string{msg.ID}, read.MessageIDs)
	received(t, bob)

	// Marking again changes nothing and only answers Bob
	f.send(t, bob, event.MarkAsRead, map[string]any{"conversationId": c.ID, "messageIds": []string{msg.ID}})
	req.Empty(received(t, alice))
	frames = received(t, bob)
	req.Equal([]event.Type{event.MessagesRead}, events(frames))
	req.Empty(decodeData[messagesReadPayload](t, frames[0]).MessageIDs)
}

func TestGateway_Reactions(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	f.join(t, alice, c.ID)
	f.join(t, bob, c.ID)
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "react"})
	msg := decodeData[MessageDTO](t, received(t, alice)[0])
	received(t, bob)

	f.send(t, bob, event.AddReaction, map[string]any{"messageId": msg.ID, "emoji": "👍"})
	frames := received(t, alice)
	req.Equal([]event.Type{event.ReactionAdded}, events(frames))
	req.Equal("👍", decodeData[reactionPayload](t, frames[0]).Emoji)
	received(t, bob)

	f.send(t, bob, event.AddReaction, map[string]any{"messageId": msg.ID, "emoji": "🦄"})
	frames = received(t, bob)
	req.Equal([]event.Type{event.Error}, events(frames))
	req.Equal(errors.CodeValidation, decodeData[errorPayload](t, frames[0]).Code)

	f.send(t, bob, event.RemoveReaction, map[string]any{"messageId": msg.ID})
	req.Equal([]event.Type{event.ReactionRemoved}, events(received(t, alice)))
}

// deletingMessages soft deletes the message right after a reaction is stored, as a concurrent
// delete by the sender would.
type deletingMessages struct {
	services.IMessageService
}

func (d deletingMessages) AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Message, error) {
	m, err := d.IMessageService.AddReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return m, err
	}
	if _, err = d.IMessageService.SoftDelete(ctx, messageID, m.SenderID); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func TestGateway_Reaction_OnMessageDeletedMeanwhileIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, func(m services.IMessageService) services.IMessageService { return deletingMessages{m} })
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	f.join(t, alice, c.ID)
	f.join(t, bob, c.ID)
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "gone soon"})
	msg := decodeData[MessageDTO](t, received(t, alice)[0])
	received(t, bob)

	f.send(t, bob, event.AddReaction, map[string]any{"messageId": msg.ID, "emoji": "❤️"})

	frames := received(t, bob)
	req.Equal([]event.Type{event.Error}, events(frames))
	req.Equal(errors.CodeNotFound, decodeData[errorPayload](t, frames[0]).Code)
	req.Empty(received(t, alice))
}

func TestGateway_EditAndDelete(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	f.join(t, alice, c.ID)
	f.join(t, bob, c.ID)
	f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": "typo"})
	msg := decodeData[MessageDTO](t, received(t, alice)[0])
	received(t, bob)

	// Bob cannot edit Alice's message
	f.send(t, bob, event.EditMessage, map[string]any{"messageId": msg.ID, "content": "hacked"})
	req.Equal(errors.CodeForbidden, decodeData[errorPayload](t, received(t, bob)[0]).Code)

	f.send(t, alice, event.EditMessage, map[string]any{"messageId": msg.ID, "content": "fixed"})
	frames := received(t, bob)
	req.Equal([]event.Type{event.MessageEdited}, events(frames))
	req.Equal("fixed", decodeData[MessageDTO](t, frames[0]).Content)
	received(t, alice)

	f.send(t, alice, event.DeleteMessage, map[string]any{"messageId": msg.ID})
	frames = received(t, bob)
	req.Equal([]event.Type{event.MessageDeleted}, events(frames))
	deleted := decodeData[messageDeletedPayload](t, frames[0])
	req.Equal(msg.ID, deleted.MessageID)
	req.Equal("alice", deleted.DeletedBy)
}

func TestGateway_Queries(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	c := f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	for _, content := range []string{"first lunch", "second", "third lunch"} {
		f.send(t, alice, event.SendMessage, map[string]any{"conversationId": c.ID, "type": "text", "content": content})
	}
	received(t, alice)
	received(t, bob)

	f.send(t, bob, event.GetMessages, map[string]any{"conversationId": c.ID, "limit": 2})
	frames := received(t, bob)
	req.Equal([]event.Type{event.Messages}, events(frames))
	page := decodeData[messagesPayload](t, frames[0])
	req.Len(page.Items, 2)
	req.NotEmpty(page.Cursor)

	f.send(t, bob, event.ListConversations, nil)
	frames = received(t, bob)
	req.Equal([]event.Type{event.Conversations}, events(frames))
	list := decodeData[conversationsPayload](t, frames[0])
	req.Len(list.Items, 1)
	req.Equal(1, list.Page)

	f.send(t, bob, event.SearchMessages, map[string]any{"term": "lunch"})
	frames = received(t, bob)
	req.Equal([]event.Type{event.SearchResults}, events(frames))
	req.Len(decodeData[searchResultsPayload](t, frames[0]).Items, 2)

	f.send(t, bob, event.UnreadCount, nil)
	frames = received(t, bob)
	req.Equal([]event.Type{event.UnreadCountResult}, events(frames))
	req.Equal(3, decodeData[unreadCountPayload](t, frames[0]).Count)

	// Other users see nothing of these queries
	req.Empty(received(t, alice))
}

func TestGateway_RejectRateLimited(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.login(t, "alice")
	raw, err := event.New(event.Typing, map[string]any{"conversationId": "c1"}).Encode()
	req.NoError(err)

	f.gateway.RejectRateLimited(s, raw)

	frames := received(t, s)
	req.Equal([]event.Type{event.Error}, events(frames))
	payload := decodeData[errorPayload](t, frames[0])
	req.Equal(errors.CodeRateLimited, payload.Code)
	req.True(payload.Retryable)
}

func TestGateway_ListConversations_HugePageIsEmpty(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.conversation(t, domain.ConversationPrivate, "alice", "bob")
	alice := f.login(t, "alice")

	// When a page far past any offset is requested
	f.send(t, alice, event.ListConversations, map[string]any{"page": 4611686018427387905, "limit": 2})

	// Then an empty page comes back
	frames := received(t, alice)
	req.Equal([]event.Type{event.Conversations}, events(frames))
	req.Empty(decodeData[conversationsPayload](t, frames[0]).Items)

	// And the session keeps working
	f.send(t, alice, event.ListConversations, nil)
	frames = received(t, alice)
	req.Equal([]event.Type{event.Conversations}, events(frames))
	req.Len(decodeData[conversationsPayload](t, frames[0]).Items, 1)
}

// panickingMessages blows up on unread counts, as a handler bug would.
type panickingMessages struct {
	services.IMessageService
}

func (panickingMessages) UnreadCount(context.Context, string) (int, error) {
	panic("unread index corrupted")
}

func TestGateway_PanickingHandlerOnlyFailsItsEvent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, func(m services.IMessageService) services.IMessageService { return panickingMessages{m} })
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	receivedAll(t, alice)

	// When alice's query panics
	req.NotPanics(func() { f.send(t, alice, event.UnreadCount, nil) })

	// Then only alice gets an internal error
	frames := received(t, alice)
	req.Equal([]event.Type{event.Error}, events(frames))
	payload := decodeData[errorPayload](t, frames[0])
	req.Equal(errors.CodeInternal, payload.Code)
	req.Equal("internal error", payload.Message)
	req.False(payload.Retryable)
	req.Empty(receivedAll(t, bob))

	// And both sessions stay usable
	req.Equal(StateAuthenticated, alice.State())
	f.send(t, alice, event.ListConversations, nil)
	req.Equal([]event.Type{event.Conversations}, events(received(t, alice)))
}
