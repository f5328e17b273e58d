package tenantauth

import (
	"context"
	"sync"
)

// ListenerHub keeps auth state listeners per client. Session store
// implementations use it to fan out change notifications.
type ListenerHub struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string]map[uint64]AuthStateListener
}

func NewListenerHub() *ListenerHub {
	return &ListenerHub{
		listeners: make(map[string]map[uint64]AuthStateListener),
	}
}

// Subscribe registers listener for clientID. The returned handle is
// idempotent.
func (h *ListenerHub) Subscribe(clientID string, listener AuthStateListener) UnsubscribeFunc {
	if listener == nil {
		return func() {}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.listeners[clientID] == nil {
		h.listeners[clientID] = make(map[uint64]AuthStateListener)
	}
	h.listeners[clientID][id] = listener
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners[clientID], id)
			if len(h.listeners[clientID]) == 0 {
				delete(h.listeners, clientID)
			}
		})
	}
}

// Emit calls listeners outside the lock so they may unsubscribe
func (h *ListenerHub) Emit(ctx context.Context, clientID string, event AuthEvent, session *Session) {
	h.mu.RLock()
	targets := make([]AuthStateListener, 0, len(h.listeners[clientID]))
	for _, l := range h.listeners[clientID] {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	for _, l := range targets {
		l(ctx, event, session)
	}
}

// Count is the number of listeners registered for clientID
func (h *ListenerHub) Count(clientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[clientID])
}
