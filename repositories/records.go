package repositories

import (
	"chat-hub/domain"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// Key layout.
//
//	conv:{id}                      conversation record
//	uconv:{user}:{conv}            participant index
//	pair:{a}:{b}                   private pair index, a < b
//	msg:{conv}:{nanos}:{id}        message record, sorted by creation time
//	msgid:{id}                     message id -> msg key
//	user:{id}                      directory record
const (
	conversationPrefix = "conv:"
	userConvPrefix     = "uconv:"
	pairPrefix         = "pair:"
	messagePrefix      = "msg:"
	messageIDPrefix    = "msgid:"
	userPrefix         = "user:"
)

func conversationKey(id string) []byte { return []byte(conversationPrefix + id) }

func userConvKey(userID, conversationID string) []byte {
	return []byte(userConvPrefix + userID + ":" + conversationID)
}

func pairKey(a, b string) []byte {
	a, b = domain.PairKey(a, b)
	return []byte(pairPrefix + a + ":" + b)
}

func messagePrefixFor(conversationID string) string {
	return messagePrefix + conversationID + ":"
}

// messageKey uses a 19 digit zero padded timestamp so lexicographic order is chronological.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", messagePrefixFor(m.ConversationID), m.CreatedAt.UnixNano(), m.ID))
}

func messageIDKey(id string) []byte { return []byte(messageIDPrefix + id) }

func userKey(id string) []byte { return []byte(userPrefix + id) }

type DiskConversation struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Title         string   `json:"title,omitempty"`
	Participants  []string `json:"participants"`
	Admins        []string `json:"admins,omitempty"`
	CreatorID     string   `json:"creator_id"`
	LastMessageID string   `json:"last_message_id,omitempty"`
	LastActivity  int64    `json:"last_activity"`
	Active        bool     `json:"active"`
	CreatedAt     int64    `json:"created_at"`
}

type DiskAttachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type DiskReadMark struct {
	UserID string `json:"user_id"`
	At     int64  `json:"at"`
}

type DiskReaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
	At     int64  `json:"at"`
}

type DiskMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Type           string          `json:"type"`
	Content        string          `json:"content,omitempty"`
	Attachment     *DiskAttachment `json:"attachment,omitempty"`
	ReadBy         []DiskReadMark  `json:"read_by,omitempty"`
	EditedAt       int64           `json:"edited_at,omitempty"`
	DeletedAt      int64           `json:"deleted_at,omitempty"`
	DeletedBy      string          `json:"deleted_by,omitempty"`
	ReplyTo        string          `json:"reply_to,omitempty"`
	Reactions      []DiskReaction  `json:"reactions,omitempty"`
	Mentions       []string        `json:"mentions,omitempty"`
	Language       string          `json:"lang,omitempty"`
	System         bool            `json:"system,omitempty"`
	CreatedAt      int64           `json:"created_at"`
}

type DiskUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

func fromConversation(c domain.Conversation) DiskConversation {
	return DiskConversation{
		ID:            c.ID,
		Type:          string(c.Type),
		Title:         c.Title,
		Participants:  c.Participants,
		Admins:        c.Admins,
		CreatorID:     c.CreatorID,
		LastMessageID: c.LastMessageID,
		LastActivity:  c.LastActivity.UnixNano(),
		Active:        c.Active,
		CreatedAt:     c.CreatedAt.UnixNano(),
	}
}

func toConversation(d DiskConversation) domain.Conversation {
	return domain.Conversation{
		ID:            d.ID,
		Type:          domain.ConversationType(d.Type),
		Title:         d.Title,
		Participants:  d.Participants,
		Admins:        d.Admins,
		CreatorID:     d.CreatorID,
		LastMessageID: d.LastMessageID,
		LastActivity:  fromNanos(d.LastActivity),
		Active:        d.Active,
		CreatedAt:     fromNanos(d.CreatedAt),
	}
}

func fromMessage(m domain.Message) DiskMessage {
	d := DiskMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           string(m.Type()),
		ReplyTo:        m.ReplyTo,
		Mentions:       m.Mentions,
		Language:       m.Language,
		System:         m.System,
		CreatedAt:      m.CreatedAt.UnixNano(),
		ReadBy: lo.Map(m.ReadBy, func(r domain.ReadMark, _ int) DiskReadMark {
			return DiskReadMark{UserID: r.UserID, At: r.At.UnixNano()}
		}),
		Reactions: lo.Map(m.Reactions, func(r domain.Reaction, _ int) DiskReaction {
			return DiskReaction{UserID: r.UserID, Emoji: r.Emoji, At: r.At.UnixNano()}
		}),
	}
	if m.EditedAt != nil {
		d.EditedAt = m.EditedAt.UnixNano()
	}
	if m.Deleted != nil {
		d.DeletedAt = m.Deleted.At.UnixNano()
		d.DeletedBy = m.Deleted.By
		return d
	}
	d.Content = m.Content()
	if a := m.Body.Attachment(); a != nil {
		d.Attachment = &DiskAttachment{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size}
	}
	return d
}

func toMessage(d DiskMessage) (domain.Message, error) {
	m := domain.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ReplyTo:        d.ReplyTo,
		Mentions:       d.Mentions,
		Language:       d.Language,
		System:         d.System,
		CreatedAt:      fromNanos(d.CreatedAt),
		ReadBy: lo.Map(d.ReadBy, func(r DiskReadMark, _ int) domain.ReadMark {
			return domain.ReadMark{UserID: r.UserID, At: fromNanos(r.At)}
		}),
		Reactions: lo.Map(d.Reactions, func(r DiskReaction, _ int) domain.Reaction {
			return domain.Reaction{UserID: r.UserID, Emoji: r.Emoji, At: fromNanos(r.At)}
		}),
	}
	if d.EditedAt != 0 {
		m.EditedAt = lo.ToPtr(fromNanos(d.EditedAt))
	}
	if d.DeletedAt != 0 {
		m.Deleted = &domain.Deletion{At: fromNanos(d.DeletedAt), By: d.DeletedBy}
		m.Body = domain.TombstoneBody{Original: domain.MessageType(d.Type)}
		return m, nil
	}
	var attachment *domain.Attachment
	if d.Attachment != nil {
		attachment = &domain.Attachment{URL: d.Attachment.URL, Name: d.Attachment.Name, MimeType: d.Attachment.MimeType, Size: d.Attachment.Size}
	}
	// Stored content already passed validation; the length bound is not re-applied on read.
	body, err := domain.NewBody(domain.MessageType(d.Type), d.Content, attachment, len([]rune(d.Content))+1)
	if err != nil {
		return domain.Message{}, fmt.Errorf("corrupted message %s: %w", d.ID, err)
	}
	m.Body = body
	return m, nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(b []byte) error {
		return json.Unmarshal(b, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}
