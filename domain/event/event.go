// Package event names every frame exchanged with clients and defines the
// envelope they travel in.
package event

import (
	"encoding/json"
)

type Type string

// Client to server.
const (
	Authenticate      Type = "authenticate"
	JoinConversation  Type = "join_conversation"
	LeaveConversation Type = "leave_conversation"
	SendMessage       Type = "send_message"
	Typing            Type = "typing"
	MarkAsRead        Type = "mark_as_read"
	AddReaction       Type = "add_reaction"
	RemoveReaction    Type = "remove_reaction"
	Disconnect        Type = "disconnect"

	CreateConversation Type = "create_conversation"
	EditMessage        Type = "edit_message"
	DeleteMessage      Type = "delete_message"
	GetMessages        Type = "get_messages"
	ListConversations  Type = "list_conversations"
	AddParticipants    Type = "add_participants"
	RemoveParticipant  Type = "remove_participant"
	LeaveGroup         Type = "leave_group"
	SearchMessages     Type = "search_messages"
	UnreadCount        Type = "unread_count"
)

// Server to client.
const (
	Authenticated       Type = "authenticated"
	AuthenticationError Type = "authentication_error"
	JoinedConversation  Type = "joined_conversation"
	LeftConversation    Type = "left_conversation"
	NewMessage          Type = "new_message"
	MessageNotification Type = "message_notification"
	UserTyping          Type = "user_typing"
	MessagesRead        Type = "messages_read"
	ReactionAdded       Type = "reaction_added"
	ReactionRemoved     Type = "reaction_removed"
	UserOnline          Type = "user_online"
	UserOffline         Type = "user_offline"
	Error               Type = "error"

	ConversationCreated Type = "conversation_created"
	MessageEdited       Type = "message_edited"
	MessageDeleted      Type = "message_deleted"
	Messages            Type = "messages"
	Conversations       Type = "conversations"
	ParticipantsAdded   Type = "participants_added"
	ParticipantRemoved  Type = "participant_removed"
	ParticipantLeft     Type = "participant_left"
	SearchResults       Type = "search_results"
	UnreadCountResult   Type = "unread_count"
)

// Ephemeral events may be dropped under backpressure.
func (t Type) Ephemeral() bool {
	switch t {
	case UserTyping, UserOnline, UserOffline:
		return true
	}
	return false
}

// Envelope is the wire frame {"event": name, "data": {...}}.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an event ready to be encoded for one or many sessions.
type Outbound struct {
	Event Type
	Data  any
}

func New(t Type, data any) Outbound {
	return Outbound{Event: t, Data: data}
}

func (o Outbound) Ephemeral() bool { return o.Event.Ephemeral() }

// Encode renders the envelope once so fan-out does not marshal per subscriber.
func (o Outbound) Encode() ([]byte, error) {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: o.Event, Data: data})
}

// Frame is an encoded event queued for one session.
type Frame struct {
	Event     Type
	Payload   []byte
	Ephemeral bool
}

func (o Outbound) Frame() (Frame, error) {
	payload, err := o.Encode()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: o.Event, Payload: payload, Ephemeral: o.Ephemeral()}, nil
}

// Decode parses an inbound frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
