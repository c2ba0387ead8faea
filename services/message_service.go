package services

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"chat-hub/repositories"
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ICensor masks forbidden words in user text and reports which ones it found.
type ICensor interface {
	Censor(text string) (string, []string)
}

type SendInput struct {
	Type       domain.MessageType
	Content    string
	Attachment *domain.Attachment
	ReplyTo    string
	Mentions   []string
}

type IMessageService interface {
	Send(ctx context.Context, conversationID, senderID string, in SendInput) (MessageView, domain.Conversation, error)
	Edit(ctx context.Context, messageID, userID, content string) (MessageView, error)
	SoftDelete(ctx context.Context, messageID, userID string) (MessageView, error)
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) ([]string, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Message, error)
	RemoveReaction(ctx context.Context, messageID, userID string) (domain.Message, bool, error)
	Get(ctx context.Context, messageID, userID string) (domain.Message, error)
	History(ctx context.Context, conversationID, userID, cursor string, limit int) ([]MessageView, string, error)
	SearchMessages(ctx context.Context, userID, term string, page, limit int) ([]MessageView, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type MessageService struct {
	log              *slog.Logger
	conversations    IConversationService
	messages         repositories.IMessageRepository
	directory        repositories.IUserDirectory
	censor           ICensor
	maxContentLength int
}

// NewMessageService builds the service. censor may be nil to disable moderation.
func NewMessageService(
	log *slog.Logger,
	conversations IConversationService,
	messages repositories.IMessageRepository,
	directory repositories.IUserDirectory,
	censor ICensor,
	maxContentLength int,
) *MessageService {
	if maxContentLength <= 0 {
		maxContentLength = domain.DefaultMaxContentLength
	}
	return &MessageService{
		log:              log,
		conversations:    conversations,
		messages:         messages,
		directory:        directory,
		censor:           censor,
		maxContentLength: maxContentLength,
	}
}

func (s *MessageService) Send(ctx context.Context, conversationID, senderID string, in SendInput) (MessageView, domain.Conversation, error) {
	c, err := s.conversations.Get(ctx, conversationID, senderID)
	if err != nil {
		return MessageView{}, domain.Conversation{}, err
	}
	if in.Type == domain.MessageSystem {
		return MessageView{}, domain.Conversation{}, errors.ErrSystemFromClient
	}
	body, err := domain.NewBody(in.Type, in.Content, in.Attachment, s.maxContentLength)
	if err != nil {
		return MessageView{}, domain.Conversation{}, err
	}
	var language string
	if text, ok := body.(domain.TextBody); ok {
		language = detectLanguage(text.Text)
		body = domain.TextBody{Text: s.moderate(conversationID, senderID, text.Text)}
	}
	if in.ReplyTo != "" {
		parent, err := s.messages.Get(ctx, in.ReplyTo)
		if err != nil {
			return MessageView{}, domain.Conversation{}, err
		}
		if parent.ConversationID != conversationID {
			return MessageView{}, domain.Conversation{}, errors.ErrMessageNotFound
		}
	}

	m := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		ReplyTo:        in.ReplyTo,
		Mentions:       lo.Filter(lo.Uniq(in.Mentions), func(u string, _ int) bool { return c.HasParticipant(u) }),
		Language:       language,
		CreatedAt:      time.Now().UTC(),
	}
	if err = s.messages.Store(ctx, m); err != nil {
		return MessageView{}, domain.Conversation{}, err
	}
	c.LastMessageID = m.ID
	c.LastActivity = m.CreatedAt

	view, err := hydrateOne(ctx, s.directory, m)
	if err != nil {
		return MessageView{}, domain.Conversation{}, err
	}
	return view, c, nil
}

func (s *MessageService) Edit(ctx context.Context, messageID, userID, content string) (MessageView, error) {
	if _, err := s.authorizeMessage(ctx, messageID, userID); err != nil {
		return MessageView{}, err
	}
	m, err := s.messages.Update(ctx, messageID, func(m *domain.Message) error {
		if err := checkOwnLiveMessage(m, userID); err != nil {
			return err
		}
		if m.Type() != domain.MessageText {
			return errors.ErrNotEditable
		}
		body, err := domain.NewBody(domain.MessageText, content, nil, s.maxContentLength)
		if err != nil {
			return err
		}
		m.Language = detectLanguage(body.Content())
		m.Body = domain.TextBody{Text: s.moderate(m.ConversationID, userID, body.Content())}
		m.EditedAt = lo.ToPtr(time.Now().UTC())
		return nil
	})
	if err != nil {
		return MessageView{}, err
	}
	return hydrateOne(ctx, s.directory, m)
}

// SoftDelete keeps the message and its relations but replaces its body with the placeholder.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, userID string) (MessageView, error) {
	if _, err := s.authorizeMessage(ctx, messageID, userID); err != nil {
		return MessageView{}, err
	}
	m, err := s.messages.Update(ctx, messageID, func(m *domain.Message) error {
		if err := checkOwnLiveMessage(m, userID); err != nil {
			return err
		}
		m.Deleted = &domain.Deletion{At: time.Now().UTC(), By: userID}
		m.Body = domain.TombstoneBody{Original: m.Type()}
		m.Language = ""
		return nil
	})
	if err != nil {
		return MessageView{}, err
	}
	return hydrateOne(ctx, s.directory, m)
}

// MarkRead records one read mark per message of the conversation not sent by userID and not yet read by them.
// It returns the ids that were newly marked.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) ([]string, error) {
	if _, err := s.conversations.Get(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	ids := lo.Uniq(lo.Compact(messageIDs))
	if len(ids) == 0 {
		return []string{}, nil
	}
	now := time.Now().UTC()
	changed, err := s.messages.UpdateMany(ctx, ids, func(m *domain.Message) bool {
		if m.ConversationID != conversationID || m.SenderID == userID || m.ReadByUser(userID) {
			return false
		}
		m.ReadBy = append(m.ReadBy, domain.ReadMark{UserID: userID, At: now})
		return true
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(changed, func(m domain.Message, _ int) string { return m.ID }), nil
}

// AddReaction sets userID's reaction on the message, replacing any previous one.
func (s *MessageService) AddReaction(ctx context.Context, messageID, userID, emoji string) (domain.Message, error) {
	if _, err := s.authorizeLiveMessage(ctx, messageID, userID); err != nil {
		return domain.Message{}, err
	}
	if !domain.IsAllowedReaction(emoji) {
		return domain.Message{}, errors.ErrEmojiNotAllowed
	}
	return s.messages.Update(ctx, messageID, func(m *domain.Message) error {
		if m.IsDeleted() {
			return errors.ErrMessageNotFound
		}
		m.Reactions = append(
			lo.Filter(m.Reactions, func(r domain.Reaction, _ int) bool { return r.UserID != userID }),
			domain.Reaction{UserID: userID, Emoji: emoji, At: time.Now().UTC()},
		)
		return nil
	})
}

// RemoveReaction drops userID's reaction. The boolean is false when there was none.
func (s *MessageService) RemoveReaction(ctx context.Context, messageID, userID string) (domain.Message, bool, error) {
	if _, err := s.authorizeLiveMessage(ctx, messageID, userID); err != nil {
		return domain.Message{}, false, err
	}
	removed := false
	m, err := s.messages.Update(ctx, messageID, func(m *domain.Message) error {
		if m.IsDeleted() {
			return errors.ErrMessageNotFound
		}
		kept := lo.Filter(m.Reactions, func(r domain.Reaction, _ int) bool { return r.UserID != userID })
		removed = len(kept) != len(m.Reactions)
		m.Reactions = kept
		return nil
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return m, removed, nil
}

// Get loads a message the user is allowed to see, deleted or not.
func (s *MessageService) Get(ctx context.Context, messageID, userID string) (domain.Message, error) {
	return s.authorizeMessage(ctx, messageID, userID)
}

func (s *MessageService) History(ctx context.Context, conversationID, userID, cursor string, limit int) ([]MessageView, string, error) {
	if _, err := s.conversations.Get(ctx, conversationID, userID); err != nil {
		return nil, "", err
	}
	messages, next, err := s.messages.History(ctx, conversationID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	views, err := hydrate(ctx, s.directory, messages)
	if err != nil {
		return nil, "", err
	}
	return views, next, nil
}

// SearchMessages matches term case-insensitively against live text messages of userID's active conversations.
func (s *MessageService) SearchMessages(ctx context.Context, userID, term string, page, limit int) ([]MessageView, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil, errors.ErrEmptySearchTerm
	}
	conversations, err := s.conversations.ListForUser(ctx, userID, 1, MaxPageLimit)
	if err != nil {
		return nil, err
	}
	all, err := s.allConversations(ctx, userID, conversations)
	if err != nil {
		return nil, err
	}

	var matches []domain.Message
	for _, c := range all {
		found, err := s.messages.Filter(ctx, c.ID, func(m domain.Message) bool {
			return !m.IsDeleted() && m.Type() == domain.MessageText && strings.Contains(strings.ToLower(m.Content()), needle)
		})
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	return hydrate(ctx, s.directory, paginate(matches, page, limit))
}

// UnreadCount sums, over userID's active conversations, live messages from others without a read mark by userID.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int, error) {
	first, err := s.conversations.ListForUser(ctx, userID, 1, MaxPageLimit)
	if err != nil {
		return 0, err
	}
	all, err := s.allConversations(ctx, userID, first)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range all {
		unread, err := s.messages.Filter(ctx, c.ID, func(m domain.Message) bool {
			return m.Unread(userID)
		})
		if err != nil {
			return 0, err
		}
		count += len(unread)
	}
	return count, nil
}

// allConversations keeps paging ListForUser until it runs dry.
func (s *MessageService) allConversations(ctx context.Context, userID string, first []domain.Conversation) ([]domain.Conversation, error) {
	all := first
	for page := 2; len(first) == MaxPageLimit; page++ {
		next, err := s.conversations.ListForUser(ctx, userID, page, MaxPageLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, next...)
		first = next
	}
	return all, nil
}

func (s *MessageService) authorizeMessage(ctx context.Context, messageID, userID string) (domain.Message, error) {
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if _, err = s.conversations.Get(ctx, m.ConversationID, userID); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (s *MessageService) authorizeLiveMessage(ctx context.Context, messageID, userID string) (domain.Message, error) {
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if m.IsDeleted() {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if _, err = s.conversations.Get(ctx, m.ConversationID, userID); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (s *MessageService) moderate(conversationID, userID, text string) string {
	if s.censor == nil {
		return text
	}
	censored, words := s.censor.Censor(text)
	if len(words) > 0 {
		s.log.Info("Message censored", "conversation_id", conversationID, "user_id", userID, "words", len(words))
	}
	return censored
}

// detectLanguage runs before censoring so masked words do not skew detection.
func detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

func checkOwnLiveMessage(m *domain.Message, userID string) error {
	if m.IsDeleted() {
		return errors.ErrMessageNotFound
	}
	if m.SenderID != userID {
		return errors.ErrNotSender
	}
	return nil
}
