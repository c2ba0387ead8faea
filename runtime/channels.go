package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"log/slog"
	"sync"
)

const PresenceChannel = "presence"

func ConversationChannel(conversationID string) string { return "conversation:" + conversationID }

func PersonalChannel(userID string) string { return "user:" + userID }

// Channels holds explicit fan-out groups: one per conversation, one per user and the presence channel.
type Channels struct {
	mu        sync.RWMutex
	log       *slog.Logger
	members   map[string]map[string]contract.ISubscriber // channel -> session -> subscriber
	bySession map[string]Set                             // session -> channels
}

func NewChannels(log *slog.Logger) *Channels {
	return &Channels{
		log:       log,
		members:   make(map[string]map[string]contract.ISubscriber),
		bySession: make(map[string]Set),
	}
}

func (c *Channels) Subscribe(channel string, sub contract.ISubscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs, ok := c.members[channel]
	if !ok {
		subs = make(map[string]contract.ISubscriber)
		c.members[channel] = subs
	}
	subs[sub.SessionID()] = sub

	joined, ok := c.bySession[sub.SessionID()]
	if !ok {
		joined = make(Set)
		c.bySession[sub.SessionID()] = joined
	}
	joined[channel] = struct{}{}
}

// Unsubscribe is idempotent and reports whether sessionID was subscribed.
func (c *Channels) Unsubscribe(channel, sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribeLocked(channel, sessionID)
}

// UnsubscribeAll removes sessionID from every channel it joined.
func (c *Channels) UnsubscribeAll(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for channel := range c.bySession[sessionID] {
		c.unsubscribeLocked(channel, sessionID)
	}
	delete(c.bySession, sessionID)
}

func (c *Channels) unsubscribeLocked(channel, sessionID string) bool {
	subs, ok := c.members[channel]
	if !ok {
		return false
	}
	if _, ok = subs[sessionID]; !ok {
		return false
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(c.members, channel)
	}
	if joined, ok := c.bySession[sessionID]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(c.bySession, sessionID)
		}
	}
	return true
}

func (c *Channels) IsSubscribed(channel, sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[channel][sessionID]
	return ok
}

// Subscribers returns a snapshot of the channel's subscribers.
func (c *Channels) Subscribers(channel string) []contract.ISubscriber {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := c.members[channel]
	out := make([]contract.ISubscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

func (c *Channels) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Publish delivers out to every subscriber of channel accepted by filter (nil accepts all).
// Delivery happens outside the lock on a snapshot. Subscribers that failed to accept the
// frame are returned so the caller can close them.
func (c *Channels) Publish(channel string, out event.Outbound, filter func(contract.ISubscriber) bool) (delivered int, failed []contract.ISubscriber) {
	subs := c.Subscribers(channel)
	if len(subs) == 0 {
		return 0, nil
	}
	frame, err := out.Frame()
	if err != nil {
		c.log.Error("Failed to encode event", "event", out.Event, "error", err)
		return 0, nil
	}
	return DeliverAll(subs, frame, filter)
}

// DeliverAll hands frame to each accepted subscriber.
func DeliverAll(subs []contract.ISubscriber, frame event.Frame, filter func(contract.ISubscriber) bool) (delivered int, failed []contract.ISubscriber) {
	for _, s := range subs {
		if filter != nil && !filter(s) {
			continue
		}
		if err := s.Deliver(frame); err != nil {
			failed = append(failed, s)
			continue
		}
		delivered++
	}
	return delivered, failed
}
