package tenantauth

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenStorage keeps tokens in process. Tokens are dropped on
// restart, use the redis storage in the cache package to share them.
type MemoryTokenStorage struct {
	mu     sync.RWMutex
	tokens map[string]storedToken
	now    func() time.Time
}

type storedToken struct {
	value     string
	expiresAt time.Time
}

var _ TokenStorage = (*MemoryTokenStorage)(nil)

func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{
		tokens: make(map[string]storedToken),
		now:    time.Now,
	}
}

// Load returns an empty string when the client has no live token
func (m *MemoryTokenStorage) Load(_ context.Context, clientID string) (string, error) {
	m.mu.RLock()
	tok, ok := m.tokens[clientID]
	m.mu.RUnlock()

	if !ok {
		return "", nil
	}

	if !tok.expiresAt.IsZero() && !m.now().Before(tok.expiresAt) {
		m.mu.Lock()
		delete(m.tokens, clientID)
		m.mu.Unlock()
		return "", nil
	}

	return tok.value, nil
}

// Save stores token for ttl, zero ttl never expires
func (m *MemoryTokenStorage) Save(_ context.Context, clientID, token string, ttl time.Duration) error {
	tok := storedToken{value: token}
	if ttl > 0 {
		tok.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.tokens[clientID] = tok
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStorage) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	delete(m.tokens, clientID)
	m.mu.Unlock()
	return nil
}
