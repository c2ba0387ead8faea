package services

import (
	"chat-hub/domain"
	"chat-hub/repositories"
	"context"

	"github.com/samber/lo"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// MessageView is a message hydrated with its sender's directory record.
type MessageView struct {
	domain.Message
	Sender domain.User
}

// MembershipChange describes a membership mutation and the system message recording it.
// SystemMessage is nil when the mutation was a no-op.
type MembershipChange struct {
	Conversation  domain.Conversation
	Users         []string
	SystemMessage *MessageView
}

func hydrate(ctx context.Context, directory repositories.IUserDirectory, messages []domain.Message) ([]MessageView, error) {
	if len(messages) == 0 {
		return []MessageView{}, nil
	}
	senders := lo.Uniq(lo.Map(messages, func(m domain.Message, _ int) string { return m.SenderID }))
	users, err := directory.GetUsers(ctx, senders)
	if err != nil {
		return nil, err
	}
	return lo.Map(messages, func(m domain.Message, _ int) MessageView {
		sender, ok := users[m.SenderID]
		if !ok {
			sender = domain.User{ID: m.SenderID}
		}
		return MessageView{Message: m, Sender: sender}
	}), nil
}

func hydrateOne(ctx context.Context, directory repositories.IUserDirectory, m domain.Message) (MessageView, error) {
	views, err := hydrate(ctx, directory, []domain.Message{m})
	if err != nil {
		return MessageView{}, err
	}
	return views[0], nil
}

// paginate returns the 1-based page of items.
func paginate[T any](items []T, page, limit int) []T {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	// Compare page counts first; (page-1)*limit overflows for huge pages.
	if page-1 >= (len(items)+limit-1)/limit {
		return []T{}
	}
	start := (page - 1) * limit
	return items[start:min(start+limit, len(items))]
}
