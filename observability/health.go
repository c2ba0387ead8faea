package observability

import (
	"sync"
	"time"
)

// Snapshot is the latest view of the node, refreshed by the presence reporter.
type Snapshot struct {
	Status      string    `json:"status"`
	OnlineUsers int       `json:"online_users"`
	Sessions    int       `json:"sessions"`
	Channels    int       `json:"channels"`
	RSSBytes    uint64    `json:"rss_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	ProcStatus  string    `json:"proc_status,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at"`
}

type Health struct {
	mu     sync.RWMutex
	latest Snapshot
}

func NewHealth() *Health {
	now := time.Now().UTC()
	return &Health{latest: Snapshot{Status: "ok", StartedAt: now, UpdatedAt: now}}
}

func (h *Health) Update(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.StartedAt = h.latest.StartedAt
	if s.Status == "" {
		s.Status = "ok"
	}
	h.latest = s
}

func (h *Health) Latest() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}
