// Package domain contains core concepts of the chat system.
// This file defines Message records and the body variants each message type carries.
// Messages are plain values: every mutation lives in the services package.
package domain

import (
	"chat-hub/errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

const (
	DefaultMaxContentLength = 2000
	DeletedPlaceholder      = "This message was deleted"
)

func (t MessageType) IsMedia() bool {
	switch t {
	case MessageFile, MessageImage, MessageVideo, MessageAudio:
		return true
	}
	return false
}

// Attachment points to a file held by the external media store.
type Attachment struct {
	URL      string
	Name     string
	MimeType string
	Size     int64
}

// Body is the type-specific part of a message. Exactly one variant exists per MessageType.
type Body interface {
	Type() MessageType
	Content() string
	Attachment() *Attachment
}

type TextBody struct{ Text string }

type SystemBody struct{ Text string }

type FileBody struct{ File Attachment }

type ImageBody struct{ Image Attachment }

type VideoBody struct{ Video Attachment }

type AudioBody struct{ Audio Attachment }

// TombstoneBody replaces the body of a soft-deleted message.
type TombstoneBody struct{ Original MessageType }

func (b TextBody) Type() MessageType { return MessageText }
func (b TextBody) Content() string { return b.Text }
func (b TextBody) Attachment() *Attachment { return nil }

func (b SystemBody) Type() MessageType { return MessageSystem }
func (b SystemBody) Content() string { return b.Text }
func (b SystemBody) Attachment() *Attachment { return nil }

func (b FileBody) Type() MessageType { return MessageFile }
func (b FileBody) Content() string { return "" }
func (b FileBody) Attachment() *Attachment { return &b.File }

func (b ImageBody) Type() MessageType { return MessageImage }
func (b ImageBody) Content() string { return "" }
func (b ImageBody) Attachment() *Attachment { return &b.Image }

func (b VideoBody) Type() MessageType { return MessageVideo }
func (b VideoBody) Content() string { return "" }
func (b VideoBody) Attachment() *Attachment { return &b.Video }

func (b AudioBody) Type() MessageType { return MessageAudio }
func (b AudioBody) Content() string { return "" }
func (b AudioBody) Attachment() *Attachment { return &b.Audio }

func (b TombstoneBody) Type() MessageType { return b.Original }
func (b TombstoneBody) Content() string { return DeletedPlaceholder }
func (b TombstoneBody) Attachment() *Attachment { return nil }

// NewBody builds the body variant for t, rejecting fields the variant does not allow to be missing.
// maxContent bounds text and system content in runes.
func NewBody(t MessageType, content string, attachment *Attachment, maxContent int) (Body, error) {
	switch t {
	case MessageText:
		text, err := checkContent(content, maxContent)
		if err != nil {
			return nil, err
		}
		return TextBody{Text: text}, nil
	case MessageSystem:
		text, err := checkContent(content, maxContent)
		if err != nil {
			return nil, err
		}
		return SystemBody{Text: text}, nil
	case MessageFile, MessageImage, MessageVideo, MessageAudio:
		if attachment == nil || strings.TrimSpace(attachment.URL) == "" {
			return nil, errors.ErrMissingAttachment
		}
		a := *attachment
		mime, err := checkMimeType(t, a.MimeType)
		if err != nil {
			return nil, err
		}
		a.MimeType = mime
		switch t {
		case MessageFile:
			return FileBody{File: a}, nil
		case MessageImage:
			return ImageBody{Image: a}, nil
		case MessageVideo:
			return VideoBody{Video: a}, nil
		default:
			return AudioBody{Audio: a}, nil
		}
	default:
		return nil, errors.ErrMessageType
	}
}

// checkMimeType canonicalizes a declared MIME type and, for image, video and audio messages,
// requires it to belong to the matching family. File messages accept any type.
func checkMimeType(t MessageType, declared string) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" {
		return "", nil
	}
	if known := mimetype.Lookup(declared); known != nil {
		declared = known.String()
	}
	if t == MessageFile {
		return declared, nil
	}
	if !strings.HasPrefix(declared, string(t)+"/") {
		return "", errors.ErrAttachmentMimeType
	}
	return declared, nil
}

func checkContent(content string, maxContent int) (string, error) {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentLength
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errors.ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxContent {
		return "", errors.ErrContentTooLong
	}
	return trimmed, nil
}

type ReadMark struct {
	UserID string
	At     time.Time
}

type Reaction struct {
	UserID string
	Emoji  string
	At     time.Time
}

type Deletion struct {
	At time.Time
	By string
}

// Message is one entry of a conversation timeline.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           Body
	ReadBy         []ReadMark
	EditedAt       *time.Time
	Deleted        *Deletion
	ReplyTo        string
	Reactions      []Reaction
	Mentions       []string
	// Language is the ISO 639-1 code detected on text content, empty when unsure.
	Language       string
	System         bool
	CreatedAt      time.Time
}

func (m Message) Type() MessageType { return m.Body.Type() }

func (m Message) Content() string { return m.Body.Content() }

func (m Message) IsDeleted() bool { return m.Deleted != nil }

func (m Message) IsEdited() bool { return m.EditedAt != nil }

func (m Message) ReadByUser(userID string) bool {
	return lo.ContainsBy(m.ReadBy, func(r ReadMark) bool { return r.UserID == userID })
}

func (m Message) ReactionOf(userID string) (Reaction, bool) {
	return lo.Find(m.Reactions, func(r Reaction) bool { return r.UserID == userID })
}

// Unread reports whether m counts as unread for userID.
func (m Message) Unread(userID string) bool {
	return !m.IsDeleted() && m.SenderID != userID && !m.ReadByUser(userID)
}
