// Package gateway turns client frames into service calls and fans the results out to sessions.
package gateway

import (
	"chat-hub/auth"
	"chat-hub/contract"
	"chat-hub/domain"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/observability"
	"chat-hub/runtime"
	"chat-hub/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

type handler func(ctx context.Context, s *Session, data json.RawMessage) error

// Gateway validates inbound events against the session state, delegates to the services and
// broadcasts results. Every operation follows authorize -> persist -> broadcast; a failure at
// any step is reported to the originating session only.
type Gateway struct {
	log           *slog.Logger
	verifier      auth.ITokenVerifier
	registry      *runtime.Registry
	channels      *runtime.Channels
	conversations services.IConversationService
	messages      services.IMessageService
	metrics       *observability.Metrics
	validate      *validator.Validate
	handlers      map[event.Type]handler
}

func NewGateway(
	log *slog.Logger,
	verifier auth.ITokenVerifier,
	registry *runtime.Registry,
	channels *runtime.Channels,
	conversations services.IConversationService,
	messages services.IMessageService,
	metrics *observability.Metrics,
) *Gateway {
	g := &Gateway{
		log:           log,
		verifier:      verifier,
		registry:      registry,
		channels:      channels,
		conversations: conversations,
		messages:      messages,
		metrics:       metrics,
		validate:      validator.New(),
	}
	g.handlers = map[event.Type]handler{
		event.JoinConversation:   g.joinConversation,
		event.LeaveConversation:  g.leaveConversation,
		event.SendMessage:        g.sendMessage,
		event.Typing:             g.typing,
		event.MarkAsRead:         g.markAsRead,
		event.AddReaction:        g.addReaction,
		event.RemoveReaction:     g.removeReaction,
		event.CreateConversation: g.createConversation,
		event.EditMessage:        g.editMessage,
		event.DeleteMessage:      g.deleteMessage,
		event.GetMessages:        g.getMessages,
		event.ListConversations:  g.listConversations,
		event.AddParticipants:    g.addParticipants,
		event.RemoveParticipant:  g.removeParticipant,
		event.LeaveGroup:         g.leaveGroup,
		event.SearchMessages:     g.searchMessages,
		event.UnreadCount:        g.unreadCount,
	}
	return g
}

// Handle decodes one raw frame and dispatches it.
func (g *Gateway) Handle(ctx context.Context, s *Session, raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		g.fail(s, "", fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
		return
	}
	g.Dispatch(ctx, s, env)
}

func (g *Gateway) Dispatch(ctx context.Context, s *Session, env event.Envelope) {
	started := time.Now()
	err := g.dispatchSafely(ctx, s, env)
	if g.metrics != nil {
		g.metrics.ObserveEvent(string(env.Event), errors.Code(err), started)
	}
	if err == nil {
		return
	}
	// Typing failures are never reported back.
	if env.Event == event.Typing && !errors.Is(err, errors.ErrHandlerPanic) {
		g.log.Debug("Typing event ignored", "session_id", s.SessionID(), "error", err)
		return
	}
	g.fail(s, env.Event, err)
}

// dispatchSafely confines a panicking handler to the event that triggered it.
func (g *Gateway) dispatchSafely(ctx context.Context, s *Session, env event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrHandlerPanic, r)
		}
	}()
	return g.dispatch(ctx, s, env)
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, env event.Envelope) error {
	switch env.Event {
	case event.Authenticate:
		return g.authenticate(ctx, s, env.Data)
	case event.Disconnect:
		g.Disconnect(s)
		return nil
	}
	h, ok := g.handlers[env.Event]
	if !ok {
		if s.State() != StateAuthenticated {
			return errors.ErrNotAuthenticated
		}
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Event)
	}
	switch s.State() {
	case StateClosed:
		return errors.ErrConnectionClosed
	case StateUnauthenticated:
		return errors.ErrNotAuthenticated
	}
	return h(ctx, s, env.Data)
}

func (g *Gateway) authenticate(ctx context.Context, s *Session, data json.RawMessage) error {
	var p authenticatePayload
	if err := g.decode(data, &p); err != nil {
		g.reply(s, event.New(event.AuthenticationError, authenticationErrorPayload{Message: "token is required"}))
		return nil
	}
	identity, err := g.verifier.Verify(ctx, p.Token)
	if err != nil {
		g.log.Info("Authentication failed", "session_id", s.SessionID(), "error", err)
		g.reply(s, event.New(event.AuthenticationError, authenticationErrorPayload{Message: "invalid or expired token"}))
		return nil
	}
	changed, first, err := g.register(s, identity.UserID)
	if err != nil {
		return err
	}
	if !changed {
		g.reply(s, event.New(event.Authenticated, userRef{UserID: identity.UserID}))
		return nil
	}
	g.refreshGauges()
	g.log.Info("Session authenticated", "session_id", s.SessionID(), "user_id", identity.UserID, "first", first)

	g.reply(s, event.New(event.Authenticated, userRef{UserID: identity.UserID}))
	if first {
		g.publish(runtime.PresenceChannel, event.New(event.UserOnline, userRef{UserID: identity.UserID}), notUser(identity.UserID))
	}
	return nil
}

// register authenticates s as userID and adds it to the registry and its personal and presence channels.
func (g *Gateway) register(s *Session, userID string) (changed, first bool, err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if changed, err = s.authenticate(userID); err != nil || !changed {
		return changed, false, err
	}
	first = g.registry.Register(userID, s.SessionID())
	g.channels.Subscribe(runtime.PersonalChannel(userID), s)
	g.channels.Subscribe(runtime.PresenceChannel, s)
	return true, first, nil
}

// unregister closes s and removes it from every channel and the registry.
func (g *Gateway) unregister(s *Session) (previous State, userID string, last bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	previous = s.markClosed()
	if previous == StateClosed {
		return previous, "", false
	}
	s.Close()
	g.channels.UnsubscribeAll(s.SessionID())
	if previous != StateAuthenticated {
		return previous, "", false
	}
	userID, last = g.registry.Unregister(s.SessionID())
	return previous, userID, last
}

// Disconnect closes the session, removes it from every channel and the registry, and announces
// the user offline when it was their last session. Calling it again is a no-op.
func (g *Gateway) Disconnect(s *Session) {
	previous, userID, last := g.unregister(s)
	if previous != StateAuthenticated {
		return
	}
	g.refreshGauges()
	g.log.Info("Session closed", "session_id", s.SessionID(), "user_id", userID, "last", last)
	if last {
		g.publish(runtime.PresenceChannel, event.New(event.UserOffline, userRef{UserID: userID}), nil)
	}
}

func (g *Gateway) joinConversation(ctx context.Context, s *Session, data json.RawMessage) error {
	var p conversationRef
	if err := g.decode(data, &p); err != nil {
		return err
	}
	if _, err := g.conversations.Get(ctx, p.ConversationID, s.UserID()); err != nil {
		return err
	}
	if err := g.subscribe(s, runtime.ConversationChannel(p.ConversationID)); err != nil {
		return err
	}
	g.reply(s, event.New(event.JoinedConversation, p))
	return nil
}

// subscribe adds s to channel unless it was closed meanwhile.
func (g *Gateway) subscribe(s *Session, channel string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.State() == StateClosed {
		return errors.ErrConnectionClosed
	}
	g.channels.Subscribe(channel, s)
	return nil
}

func (g *Gateway) leaveConversation(_ context.Context, s *Session, data json.RawMessage) error {
	var p conversationRef
	if err := g.decode(data, &p); err != nil {
		return err
	}
	g.channels.Unsubscribe(runtime.ConversationChannel(p.ConversationID), s.SessionID())
	g.reply(s, event.New(event.LeftConversation, p))
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var p sendMessagePayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	in := services.SendInput{
		Type:     domain.MessageType(p.Type),
		Content:  p.Content,
		ReplyTo:  p.ReplyTo,
		Mentions: p.Mentions,
	}
	if p.Attachment != nil {
		in.Attachment = &domain.Attachment{URL: p.Attachment.URL, Name: p.Attachment.Name, MimeType: p.Attachment.MimeType, Size: p.Attachment.Size}
	}
	view, c, err := g.messages.Send(ctx, p.ConversationID, s.UserID(), in)
	if err != nil {
		return err
	}

	dto := toMessageDTO(view)
	channel := runtime.ConversationChannel(c.ID)
	g.broadcast(s, c.ID, event.New(event.NewMessage, dto))

	// Participants not looking at the conversation get a notification on each of their other sessions.
	notification := event.New(event.MessageNotification, notificationPayload{ConversationID: c.ID, Message: dto})
	for _, userID := range c.Others(s.UserID()) {
		g.publish(runtime.PersonalChannel(userID), notification, func(sub contract.ISubscriber) bool {
			return !g.channels.IsSubscribed(channel, sub.SessionID())
		})
	}
	return nil
}

func (g *Gateway) typing(ctx context.Context, s *Session, data json.RawMessage) error {
	var p typingPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	if _, err := g.conversations.Get(ctx, p.ConversationID, s.UserID()); err != nil {
		return err
	}
	userID := s.UserID()
	g.publish(runtime.ConversationChannel(p.ConversationID),
		event.New(event.UserTyping, typingEventPayload{ConversationID: p.ConversationID, UserID: userID, IsTyping: p.IsTyping}),
		notUser(userID))
	return nil
}

func (g *Gateway) markAsRead(ctx context.Context, s *Session, data json.RawMessage) error {
	var p markAsReadPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	marked, err := g.messages.MarkRead(ctx, p.ConversationID, s.UserID(), p.MessageIDs)
	if err != nil {
		return err
	}
	out := event.New(event.MessagesRead, messagesReadPayload{
		ConversationID: p.ConversationID,
		UserID:         s.UserID(),
		MessageIDs:     marked,
		ReadAt:         time.Now().UTC(),
	})
	if len(marked) == 0 {
		g.reply(s, out)
		return nil
	}
	g.broadcast(s, p.ConversationID, out)
	return nil
}

func (g *Gateway) addReaction(ctx context.Context, s *Session, data json.RawMessage) error {
	var p addReactionPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	m, err := g.messages.AddReaction(ctx, p.MessageID, s.UserID(), p.Emoji)
	if err != nil {
		return err
	}
	if err = g.revalidate(ctx, p.MessageID, s.UserID()); err != nil {
		return err
	}
	g.broadcast(s, m.ConversationID, event.New(event.ReactionAdded, reactionPayload{
		MessageID: m.ID, ConversationID: m.ConversationID, UserID: s.UserID(), Emoji: p.Emoji,
	}))
	return nil
}

func (g *Gateway) removeReaction(ctx context.Context, s *Session, data json.RawMessage) error {
	var p messageRef
	if err := g.decode(data, &p); err != nil {
		return err
	}
	m, _, err := g.messages.RemoveReaction(ctx, p.MessageID, s.UserID())
	if err != nil {
		return err
	}
	if err = g.revalidate(ctx, p.MessageID, s.UserID()); err != nil {
		return err
	}
	g.broadcast(s, m.ConversationID, event.New(event.ReactionRemoved, reactionPayload{
		MessageID: m.ID, ConversationID: m.ConversationID, UserID: s.UserID(),
	}))
	return nil
}

// revalidate re-reads a message right before broadcasting a change on it, so a deletion that
// raced with the change suppresses the broadcast.
func (g *Gateway) revalidate(ctx context.Context, messageID, userID string) error {
	m, err := g.messages.Get(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if m.IsDeleted() {
		return errors.ErrMessageNotFound
	}
	return nil
}

func (g *Gateway) createConversation(ctx context.Context, s *Session, data json.RawMessage) error {
	var p createConversationPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	c, created, err := g.conversations.Create(ctx, s.UserID(), p.ParticipantIDs, domain.ConversationType(p.Type), p.Title)
	if err != nil {
		return err
	}
	out := event.New(event.ConversationCreated, conversationCreatedPayload{Conversation: toConversationDTO(c)})
	if !created {
		g.reply(s, out)
		return nil
	}
	for _, userID := range c.Participants {
		g.publish(runtime.PersonalChannel(userID), out, nil)
	}
	return nil
}

func (g *Gateway) editMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var p editMessagePayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	view, err := g.messages.Edit(ctx, p.MessageID, s.UserID(), p.Content)
	if err != nil {
		return err
	}
	g.broadcast(s, view.ConversationID, event.New(event.MessageEdited, toMessageDTO(view)))
	return nil
}

func (g *Gateway) deleteMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var p messageRef
	if err := g.decode(data, &p); err != nil {
		return err
	}
	view, err := g.messages.SoftDelete(ctx, p.MessageID, s.UserID())
	if err != nil {
		return err
	}
	g.broadcast(s, view.ConversationID, event.New(event.MessageDeleted, messageDeletedPayload{
		MessageID:      view.ID,
		ConversationID: view.ConversationID,
		DeletedBy:      view.Deleted.By,
		DeletedAt:      view.Deleted.At,
	}))
	return nil
}

func (g *Gateway) getMessages(ctx context.Context, s *Session, data json.RawMessage) error {
	var p getMessagesPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	views, cursor, err := g.messages.History(ctx, p.ConversationID, s.UserID(), p.Cursor, p.Limit)
	if err != nil {
		return err
	}
	g.reply(s, event.New(event.Messages, messagesPayload{ConversationID: p.ConversationID, Items: toMessageDTOs(views), Cursor: cursor}))
	return nil
}

func (g *Gateway) listConversations(ctx context.Context, s *Session, data json.RawMessage) error {
	var p pagePayload
	if err := g.decodeOptional(data, &p); err != nil {
		return err
	}
	list, err := g.conversations.ListForUser(ctx, s.UserID(), p.Page, p.Limit)
	if err != nil {
		return err
	}
	g.reply(s, event.New(event.Conversations, conversationsPayload{Items: toConversationDTOs(list), Page: max(p.Page, 1)}))
	return nil
}

func (g *Gateway) addParticipants(ctx context.Context, s *Session, data json.RawMessage) error {
	var p addParticipantsPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	change, err := g.conversations.AddParticipants(ctx, p.ConversationID, s.UserID(), p.UserIDs)
	if err != nil {
		return err
	}
	out := event.New(event.ParticipantsAdded, membershipPayload{
		ConversationID: p.ConversationID,
		UserIDs:        change.Users,
		By:             s.UserID(),
		Conversation:   toConversationDTO(change.Conversation),
		Message:        systemMessageDTO(change),
	})
	g.broadcast(s, p.ConversationID, out)
	for _, userID := range change.Users {
		g.publish(runtime.PersonalChannel(userID), out, nil)
	}
	return nil
}

func (g *Gateway) removeParticipant(ctx context.Context, s *Session, data json.RawMessage) error {
	var p removeParticipantPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	change, err := g.conversations.RemoveParticipant(ctx, p.ConversationID, s.UserID(), p.UserID)
	if err != nil {
		return err
	}
	out := event.New(event.ParticipantRemoved, membershipPayload{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		By:             s.UserID(),
		Conversation:   toConversationDTO(change.Conversation),
		Message:        systemMessageDTO(change),
	})
	g.broadcast(s, p.ConversationID, out)
	g.notifyOutsideChannel(p.ConversationID, p.UserID, out)
	g.evictFromConversation(p.ConversationID, p.UserID)
	return nil
}

func (g *Gateway) leaveGroup(ctx context.Context, s *Session, data json.RawMessage) error {
	var p conversationRef
	if err := g.decode(data, &p); err != nil {
		return err
	}
	change, err := g.conversations.Leave(ctx, p.ConversationID, s.UserID())
	if err != nil {
		return err
	}
	out := event.New(event.ParticipantLeft, membershipPayload{
		ConversationID: p.ConversationID,
		UserID:         s.UserID(),
		Conversation:   toConversationDTO(change.Conversation),
		Message:        systemMessageDTO(change),
	})
	g.broadcast(s, p.ConversationID, out)
	g.evictFromConversation(p.ConversationID, s.UserID())
	return nil
}

func (g *Gateway) searchMessages(ctx context.Context, s *Session, data json.RawMessage) error {
	var p searchPayload
	if err := g.decode(data, &p); err != nil {
		return err
	}
	views, err := g.messages.SearchMessages(ctx, s.UserID(), p.Term, p.Page, p.Limit)
	if err != nil {
		return err
	}
	g.reply(s, event.New(event.SearchResults, searchResultsPayload{Term: p.Term, Items: toMessageDTOs(views)}))
	return nil
}

func (g *Gateway) unreadCount(ctx context.Context, s *Session, _ json.RawMessage) error {
	count, err := g.messages.UnreadCount(ctx, s.UserID())
	if err != nil {
		return err
	}
	g.reply(s, event.New(event.UnreadCountResult, unreadCountPayload{Count: count}))
	return nil
}

// broadcast publishes out to the conversation channel and, when the originating session is not
// subscribed to it, to that session as well.
func (g *Gateway) broadcast(s *Session, conversationID string, out event.Outbound) {
	channel := runtime.ConversationChannel(conversationID)
	g.publish(channel, out, nil)
	if !g.channels.IsSubscribed(channel, s.SessionID()) {
		g.reply(s, out)
	}
}

// notifyOutsideChannel sends out to userID's sessions that are not subscribed to the conversation.
func (g *Gateway) notifyOutsideChannel(conversationID, userID string, out event.Outbound) {
	channel := runtime.ConversationChannel(conversationID)
	g.publish(runtime.PersonalChannel(userID), out, func(sub contract.ISubscriber) bool {
		return !g.channels.IsSubscribed(channel, sub.SessionID())
	})
}

// evictFromConversation unsubscribes every session of userID from the conversation channel.
func (g *Gateway) evictFromConversation(conversationID, userID string) {
	channel := runtime.ConversationChannel(conversationID)
	for _, sessionID := range g.registry.Lookup(userID) {
		g.channels.Unsubscribe(channel, sessionID)
	}
}

func (g *Gateway) publish(channel string, out event.Outbound, filter func(contract.ISubscriber) bool) {
	_, failed := g.channels.Publish(channel, out, filter)
	for _, sub := range failed {
		g.log.Warn("Closing session that cannot keep up", "session_id", sub.SessionID(), "user_id", sub.UserID(), "event", out.Event)
		sub.Close()
	}
}

func (g *Gateway) reply(s *Session, out event.Outbound) {
	frame, err := out.Frame()
	if err != nil {
		g.log.Error("Failed to encode event", "event", out.Event, "error", err)
		return
	}
	if err = s.Deliver(frame); err != nil && !errors.Is(err, errors.ErrConnectionClosed) {
		g.log.Warn("Closing session that cannot keep up", "session_id", s.SessionID(), "event", out.Event)
		s.Close()
	}
}

func (g *Gateway) fail(s *Session, evt event.Type, err error) {
	code := errors.Code(err)
	message := err.Error()
	if code == errors.CodeInternal {
		g.log.Error("Event failed", "session_id", s.SessionID(), "user_id", s.UserID(), "event", evt, "error", err)
		message = "internal error"
	} else {
		g.log.Debug("Event rejected", "session_id", s.SessionID(), "event", evt, "code", code, "error", err)
	}
	g.reply(s, event.New(event.Error, errorPayload{
		Event:     string(evt),
		Code:      code,
		Message:   message,
		Retryable: errors.IsRetryable(err),
	}))
}

// RejectRateLimited answers an event dropped by the transport's limiter.
func (g *Gateway) RejectRateLimited(s *Session, raw []byte) {
	env, _ := event.Decode(raw)
	if g.metrics != nil {
		g.metrics.ObserveEvent(string(env.Event), errors.CodeRateLimited, time.Now())
	}
	g.fail(s, env.Event, errors.ErrRateLimited)
}

func (g *Gateway) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if err := g.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}

func (g *Gateway) decodeOptional(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		if err := g.validate.Struct(v); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
		}
		return nil
	}
	return g.decode(data, v)
}

func (g *Gateway) refreshGauges() {
	if g.metrics == nil {
		return
	}
	stats := g.registry.Stats()
	g.metrics.Sessions.Set(float64(stats.Sessions))
	g.metrics.OnlineUsers.Set(float64(stats.Users))
	g.metrics.Channels.Set(float64(g.channels.Count()))
}

func notUser(userID string) func(contract.ISubscriber) bool {
	return func(sub contract.ISubscriber) bool { return sub.UserID() != userID }
}

func systemMessageDTO(change services.MembershipChange) *MessageDTO {
	if change.SystemMessage == nil {
		return nil
	}
	return lo.ToPtr(toMessageDTO(*change.SystemMessage))
}
