// Package domain contains core concepts of the chat system.
// This file defines Conversation records and their membership invariants.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"time"

	"github.com/samber/lo"
)

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// MinGroupParticipants is the participant count below which a group cannot be created.
const MinGroupParticipants = 3

func (t ConversationType) Valid() bool {
	return t == ConversationPrivate || t == ConversationGroup
}

// Conversation is a timeline shared by two (private) or more (group) users.
type Conversation struct {
	ID            string
	Type          ConversationType
	Title         string
	Participants  []string
	Admins        []string
	CreatorID     string
	LastMessageID string
	LastActivity  time.Time
	Active        bool
	CreatedAt     time.Time
}

func (c Conversation) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

func (c Conversation) IsAdmin(userID string) bool {
	return lo.Contains(c.Admins, userID)
}

func (c Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

// Others returns every participant except userID.
func (c Conversation) Others(userID string) []string {
	return lo.Without(c.Participants, userID)
}

// ValidParticipantCount reports whether n participants are allowed for type t.
func ValidParticipantCount(t ConversationType, n int) bool {
	switch t {
	case ConversationPrivate:
		return n == 2
	case ConversationGroup:
		return n >= MinGroupParticipants
	default:
		return false
	}
}

// PairKey returns the order-independent identity of a private conversation.
func PairKey(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
