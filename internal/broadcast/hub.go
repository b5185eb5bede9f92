package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/observability"
)

// Hub tracks which local connections belong to which groups and fans
// payloads out to them. Safe for concurrent use: a publish racing an
// unsubscribe either delivers or doesn't, but never panics or writes
// to a removed connection.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[Conn]struct{}
	logger *slog.Logger

	// membership hooks, used by the Redis backbone to track which
	// topics this process needs. Invoked while the lock is held so a
	// group's first/last transitions arrive in order; implementations
	// must be cheap and must not call back into the hub.
	onFirstMember func(group string)
	onLastMember  func(group string)
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{groups: make(map[string]map[Conn]struct{}), logger: logger}
}

func (h *Hub) Subscribe(group string, c Conn) {
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[Conn]struct{})
		h.groups[group] = members
	}
	_, already := members[c]
	members[c] = struct{}{}
	if !ok && h.onFirstMember != nil {
		h.onFirstMember(group)
	}
	h.mu.Unlock()

	if !already {
		observability.GroupSubscriptions.Inc()
	}
}

func (h *Hub) Unsubscribe(group string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
		if h.onLastMember != nil {
			h.onLastMember(group)
		}
	}
}

// UnsubscribeAll detaches a connection from every group it joined.
// Called when the underlying socket closes.
func (h *Hub) UnsubscribeAll(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for group, members := range h.groups {
		if _, ok := members[c]; !ok {
			continue
		}
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
			if h.onLastMember != nil {
				h.onLastMember(group)
			}
		}
	}
}

// Publish marshals the event and delivers it to local members only.
// The Redis-backed broadcaster overrides this path for cross-process
// fan-out.
func (h *Hub) Publish(_ context.Context, group string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "group", group, "error", err)
		return
	}
	h.Deliver(group, payload)
}

// Deliver fans a raw payload out to every current member of the group.
// Publishing to an empty group is a no-op.
func (h *Hub) Deliver(group string, payload []byte) {
	h.mu.RLock()
	members := make([]Conn, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if !c.Send(payload) {
			observability.EventsDropped.Inc()
			h.logger.Debug("event dropped, slow subscriber", "group", group)
		}
	}
	observability.EventsDelivered.Add(float64(len(members)))
}

// MemberCount reports current local membership of a group.
func (h *Hub) MemberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
