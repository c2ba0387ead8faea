package gateway

import (
	"chat-hub/domain"
	"chat-hub/services"
	"time"

	"github.com/samber/lo"
)

type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type AttachmentDTO struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type ReactionDTO struct {
	UserID string    `json:"userId"`
	Emoji  string    `json:"emoji"`
	At     time.Time `json:"at"`
}

type ReadMarkDTO struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

type MessageDTO struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Sender         UserDTO        `json:"sender"`
	Type           string         `json:"type"`
	Content        string         `json:"content,omitempty"`
	Attachment     *AttachmentDTO `json:"attachment,omitempty"`
	ReplyTo        string         `json:"replyTo,omitempty"`
	Mentions       []string       `json:"mentions,omitempty"`
	Language       string         `json:"lang,omitempty"`
	Reactions      []ReactionDTO  `json:"reactions"`
	ReadBy         []ReadMarkDTO  `json:"readBy"`
	System         bool           `json:"system,omitempty"`
	EditedAt       *time.Time     `json:"editedAt,omitempty"`
	Deleted        bool           `json:"deleted,omitempty"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type ConversationDTO struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title,omitempty"`
	Participants  []string  `json:"participants"`
	Admins        []string  `json:"admins"`
	CreatorID     string    `json:"creatorId"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	LastActivity  time.Time `json:"lastActivity"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toMessageDTO(v services.MessageView) MessageDTO {
	m := v.Message
	dto := MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         UserDTO{ID: v.Sender.ID, Username: v.Sender.Username, Avatar: v.Sender.Avatar},
		Type:           string(m.Type()),
		Content:        m.Content(),
		ReplyTo:        m.ReplyTo,
		Mentions:       m.Mentions,
		Language:       m.Language,
		System:         m.System,
		EditedAt:       m.EditedAt,
		CreatedAt:      m.CreatedAt,
		Reactions: lo.Map(m.Reactions, func(r domain.Reaction, _ int) ReactionDTO {
			return ReactionDTO{UserID: r.UserID, Emoji: r.Emoji, At: r.At}
		}),
		ReadBy: lo.Map(m.ReadBy, func(r domain.ReadMark, _ int) ReadMarkDTO {
			return ReadMarkDTO{UserID: r.UserID, At: r.At}
		}),
	}
	if a := m.Body.Attachment(); a != nil {
		dto.Attachment = &AttachmentDTO{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size}
	}
	if m.Deleted != nil {
		dto.Deleted = true
		dto.DeletedAt = lo.ToPtr(m.Deleted.At)
	}
	return dto
}

func toMessageDTOs(views []services.MessageView) []MessageDTO {
	return lo.Map(views, func(v services.MessageView, _ int) MessageDTO { return toMessageDTO(v) })
}

func toConversationDTO(c domain.Conversation) ConversationDTO {
	return ConversationDTO{
		ID:            c.ID,
		Type:          string(c.Type),
		Title:         c.Title,
		Participants:  c.Participants,
		Admins:        lo.Ternary(c.Admins == nil, []string{}, c.Admins),
		CreatorID:     c.CreatorID,
		LastMessageID: c.LastMessageID,
		LastActivity:  c.LastActivity,
		CreatedAt:     c.CreatedAt,
	}
}

func toConversationDTOs(list []domain.Conversation) []ConversationDTO {
	return lo.Map(list, func(c domain.Conversation, _ int) ConversationDTO { return toConversationDTO(c) })
}

// Outbound payloads.

type userRef struct {
	UserID string `json:"userId"`
}

type errorPayload struct {
	Event     string `json:"event,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type authenticationErrorPayload struct {
	Message string `json:"message"`
}

type notificationPayload struct {
	ConversationID string     `json:"conversationId"`
	Message        MessageDTO `json:"message"`
}

type typingEventPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type messagesReadPayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

type reactionPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji,omitempty"`
}

type conversationCreatedPayload struct {
	Conversation ConversationDTO `json:"conversation"`
}

type messageDeletedPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	DeletedBy      string    `json:"deletedBy"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type messagesPayload struct {
	ConversationID string       `json:"conversationId"`
	Items          []MessageDTO `json:"items"`
	Cursor         string       `json:"cursor,omitempty"`
}

type conversationsPayload struct {
	Items []ConversationDTO `json:"items"`
	Page  int               `json:"page"`
}

type membershipPayload struct {
	ConversationID string          `json:"conversationId"`
	UserIDs        []string        `json:"userIds,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	By             string          `json:"by,omitempty"`
	Conversation   ConversationDTO `json:"conversation"`
	Message        *MessageDTO     `json:"message,omitempty"`
}

type searchResultsPayload struct {
	Term  string       `json:"term"`
	Items []MessageDTO `json:"items"`
}

type unreadCountPayload struct {
	Count int `json:"count"`
}
