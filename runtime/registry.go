package runtime

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

type Set map[string]struct{}

// Registry maps each authenticated user to the set of their live sessions.
// A user is online while at least one session is registered.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Set    // user -> sessions
	owners   map[string]string // session -> user
}

type RegistryStats struct {
	Users    int
	Sessions int
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Set),
		owners:   make(map[string]string),
	}
}

// Register binds sessionID to userID and reports whether it is the user's first live session.
func (r *Registry) Register(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[sessionID]; ok && owner == userID {
		return false
	}
	set, ok := r.sessions[userID]
	if !ok {
		set = make(Set)
		r.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
	r.owners[sessionID] = userID
	return len(set) == 1
}

// Unregister forgets sessionID. last is true when its user has no live session left.
// Unknown sessions return an empty userID.
func (r *Registry) Unregister(sessionID string) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[sessionID]
	if !ok {
		return "", false
	}
	delete(r.owners, sessionID)
	set := r.sessions[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		// No empty sets are kept around
		delete(r.sessions, userID)
		return userID, true
	}
	return userID, false
}

// Lookup returns a copy of userID's live sessions.
func (r *Registry) Lookup(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.Keys(r.sessions[userID])
	sort.Strings(out)
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.Keys(r.sessions)
	sort.Strings(out)
	return out
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{Users: len(r.sessions), Sessions: len(r.owners)}
}
