package services

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/repositories"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IConversationService interface {
	Create(ctx context.Context, creatorID string, participantIDs []string, t domain.ConversationType, title string) (domain.Conversation, bool, error)
	Get(ctx context.Context, id, requesterID string) (domain.Conversation, error)
	AddParticipants(ctx context.Context, id, actorID string, userIDs []string) (MembershipChange, error)
	RemoveParticipant(ctx context.Context, id, actorID, userID string) (MembershipChange, error)
	Leave(ctx context.Context, id, userID string) (MembershipChange, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]domain.Conversation, error)
}

type ConversationService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	directory     repositories.IUserDirectory
}

func NewConversationService(
	log *slog.Logger,
	conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository,
	directory repositories.IUserDirectory,
) *ConversationService {
	return &ConversationService{log: log, conversations: conversations, messages: messages, directory: directory}
}

// Create opens a conversation between the creator and participantIDs.
// The boolean is false when an existing private conversation for the same pair was returned.
func (s *ConversationService) Create(ctx context.Context, creatorID string, participantIDs []string, t domain.ConversationType, title string) (domain.Conversation, bool, error) {
	if !t.Valid() {
		return domain.Conversation{}, false, errors.ErrConversationType
	}
	participants := lo.Uniq(append([]string{creatorID}, lo.Compact(participantIDs)...))
	if !domain.ValidParticipantCount(t, len(participants)) {
		return domain.Conversation{}, false, errors.ErrParticipantCount
	}
	users, err := s.directory.GetUsers(ctx, participants)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if missing := lo.Filter(participants, func(id string, _ int) bool { _, ok := users[id]; return !ok }); len(missing) > 0 {
		return domain.Conversation{}, false, fmt.Errorf("%w: %s", errors.ErrUserNotFound, strings.Join(missing, ", "))
	}

	now := time.Now().UTC()
	c := domain.Conversation{
		ID:           uuid.NewString(),
		Type:         t,
		Participants: participants,
		CreatorID:    creatorID,
		Active:       true,
		CreatedAt:    now,
		LastActivity: now,
	}
	if t == domain.ConversationGroup {
		c.Title = strings.TrimSpace(title)
		c.Admins = []string{creatorID}
	}

	stored, created, err := s.conversations.Create(ctx, c)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if created {
		s.log.Info("Conversation created", "conversation_id", stored.ID, "type", stored.Type, "user_id", creatorID)
	}
	return stored, created, nil
}

func (s *ConversationService) Get(ctx context.Context, id, requesterID string) (domain.Conversation, error) {
	c, err := s.conversations.Get(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !c.Active {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if !c.HasParticipant(requesterID) {
		return domain.Conversation{}, errors.ErrNotParticipant
	}
	return c, nil
}

// AddParticipants adds userIDs to a group. Users already present are ignored; adding nobody new is a no-op.
func (s *ConversationService) AddParticipants(ctx context.Context, id, actorID string, userIDs []string) (MembershipChange, error) {
	candidates := lo.Uniq(lo.Compact(userIDs))
	if len(candidates) == 0 {
		return MembershipChange{}, errors.ErrInvalidPayload
	}
	users, err := s.directory.GetUsers(ctx, candidates)
	if err != nil {
		return MembershipChange{}, err
	}
	if missing := lo.Filter(candidates, func(id string, _ int) bool { _, ok := users[id]; return !ok }); len(missing) > 0 {
		return MembershipChange{}, fmt.Errorf("%w: %s", errors.ErrUserNotFound, strings.Join(missing, ", "))
	}

	var added []string
	c, err := s.conversations.Update(ctx, id, func(c *domain.Conversation) error {
		if err := checkAdmin(c, actorID); err != nil {
			return err
		}
		added = lo.Filter(candidates, func(u string, _ int) bool { return !c.HasParticipant(u) })
		c.Participants = append(c.Participants, added...)
		return nil
	})
	if err != nil {
		return MembershipChange{}, err
	}
	change := MembershipChange{Conversation: c, Users: added}
	if len(added) == 0 {
		return change, nil
	}

	names := lo.Map(added, func(u string, _ int) string { return users[u].Username })
	text := fmt.Sprintf("%s added %s", s.displayName(ctx, actorID), strings.Join(names, ", "))
	return s.appendSystemMessage(ctx, change, actorID, text)
}

func (s *ConversationService) RemoveParticipant(ctx context.Context, id, actorID, userID string) (MembershipChange, error) {
	c, err := s.conversations.Update(ctx, id, func(c *domain.Conversation) error {
		if err := checkAdmin(c, actorID); err != nil {
			return err
		}
		if userID == actorID {
			return errors.ErrSelfRemoval
		}
		if !c.HasParticipant(userID) {
			return errors.ErrParticipantMissing
		}
		c.Participants = lo.Without(c.Participants, userID)
		c.Admins = lo.Without(c.Admins, userID)
		return nil
	})
	if err != nil {
		return MembershipChange{}, err
	}
	change := MembershipChange{Conversation: c, Users: []string{userID}}
	text := fmt.Sprintf("%s removed %s", s.displayName(ctx, actorID), s.displayName(ctx, userID))
	return s.appendSystemMessage(ctx, change, actorID, text)
}

// Leave removes userID from a group. When the last admin leaves the longest-standing remaining
// participant is promoted; when the last participant leaves the conversation becomes inactive.
func (s *ConversationService) Leave(ctx context.Context, id, userID string) (MembershipChange, error) {
	c, err := s.conversations.Update(ctx, id, func(c *domain.Conversation) error {
		if !c.Active {
			return errors.ErrConversationNotFound
		}
		if !c.IsGroup() {
			return errors.ErrPrivateLeave
		}
		if !c.HasParticipant(userID) {
			return errors.ErrNotParticipant
		}
		c.Participants = lo.Without(c.Participants, userID)
		c.Admins = lo.Without(c.Admins, userID)
		switch {
		case len(c.Participants) == 0:
			c.Active = false
		case len(c.Admins) == 0:
			c.Admins = []string{c.Participants[0]}
		}
		return nil
	})
	if err != nil {
		return MembershipChange{}, err
	}
	change := MembershipChange{Conversation: c, Users: []string{userID}}
	text := fmt.Sprintf("%s left the group", s.displayName(ctx, userID))
	return s.appendSystemMessage(ctx, change, userID, text)
}

// ListForUser returns the 1-based page of userID's active conversations, most recent activity first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, page, limit int) ([]domain.Conversation, error) {
	list, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastActivity.Equal(list[j].LastActivity) {
			return list[i].LastActivity.After(list[j].LastActivity)
		}
		return list[i].ID < list[j].ID
	})
	return paginate(list, page, limit), nil
}

func checkAdmin(c *domain.Conversation, actorID string) error {
	if !c.Active {
		return errors.ErrConversationNotFound
	}
	if !c.IsGroup() {
		return errors.ErrNotGroup
	}
	if !c.IsAdmin(actorID) {
		return errors.ErrNotAdmin
	}
	return nil
}

func (s *ConversationService) appendSystemMessage(ctx context.Context, change MembershipChange, actorID, text string) (MembershipChange, error) {
	body, err := domain.NewBody(domain.MessageSystem, text, nil, 0)
	if err != nil {
		return MembershipChange{}, err
	}
	m := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: change.Conversation.ID,
		SenderID:       actorID,
		Body:           body,
		System:         true,
		CreatedAt:      time.Now().UTC(),
	}
	if err = s.messages.Store(ctx, m); err != nil {
		// Membership already changed; the caller still learns about it.
		s.log.Error("Failed to append system message", "conversation_id", m.ConversationID, "error", err)
		return change, err
	}
	change.Conversation.LastMessageID = m.ID
	change.Conversation.LastActivity = m.CreatedAt
	view, err := hydrateOne(ctx, s.directory, m)
	if err != nil {
		view = MessageView{Message: m, Sender: domain.User{ID: actorID}}
	}
	change.SystemMessage = &view
	return change, nil
}

func (s *ConversationService) displayName(ctx context.Context, userID string) string {
	u, err := s.directory.GetUser(ctx, userID)
	if err != nil || u.Username == "" {
		return userID
	}
	return u.Username
}
