package tenantauth

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
)

// EventPublisher forwards auth events to other server instances
type EventPublisher interface {
	Publish(ctx context.Context, clientID string, event AuthEvent, session *Session) error
}

// LocalSessionStore is a self hosted session store. Credentials are checked
// by an IdentityProvider, sessions are JWT access tokens kept in a
// TokenStorage keyed by client id.
type LocalSessionStore struct {
	identities IdentityProvider
	tokens     *TokenService
	storage    TokenStorage
	hub        *ListenerHub
	publisher  EventPublisher
	logger     Logger
}

// LocalStoreOption configures a LocalSessionStore
type LocalStoreOption func(*LocalSessionStore)

// WithStoreLogger sets the logger
func WithStoreLogger(logger Logger) LocalStoreOption {
	return func(s *LocalSessionStore) {
		s.logger = normalizeLogger(logger)
	}
}

// WithEventPublisher relays every locally emitted event
func WithEventPublisher(publisher EventPublisher) LocalStoreOption {
	return func(s *LocalSessionStore) {
		s.publisher = publisher
	}
}

// NewLocalSessionStore wires the store. A nil storage uses
// MemoryTokenStorage.
func NewLocalSessionStore(identities IdentityProvider, tokens *TokenService, storage TokenStorage, opts ...LocalStoreOption) *LocalSessionStore {
	if storage == nil {
		storage = NewMemoryTokenStorage()
	}
	s := &LocalSessionStore{
		identities: identities,
		tokens:     tokens,
		storage:    storage,
		hub:        NewListenerHub(),
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Client returns the SessionStore view for one browser client
func (s *LocalSessionStore) Client(clientID string) SessionStore {
	return &clientSessionStore{store: s, clientID: clientID}
}

// SessionFor returns the live session of a client or nil
func (s *LocalSessionStore) SessionFor(ctx context.Context, clientID string) (*Session, error) {
	raw, err := s.storage.Load(ctx, clientID)
	if err != nil {
		return nil, SessionStoreError(err, "load_token")
	}
	if raw == "" {
		return nil, nil
	}

	// a token that no longer validates is dropped, the client signs in again
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		s.logger.Debug("dropping stored token", "client_id", clientID, "error", ErrorMessage(err))
		if derr := s.storage.Delete(ctx, clientID); derr != nil {
			s.logger.Warn("failed to delete stored token", "client_id", clientID, "error", derr)
		}
		return nil, nil
	}

	return SessionFromClaims(raw, claims), nil
}

// SignIn verifies the credentials and starts a session for the client
func (s *LocalSessionStore) SignIn(ctx context.Context, clientID, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMismatchedHashAndPassword
	}

	principal, err := s.identities.VerifyIdentity(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token, claims, err := s.tokens.Generate(principal)
	if err != nil {
		return nil, SessionStoreError(err, "generate_token")
	}

	if err := s.storage.Save(ctx, clientID, token, s.tokens.TTL()); err != nil {
		return nil, SessionStoreError(err, "save_token")
	}

	session := SessionFromClaims(token, claims)
	s.emit(ctx, clientID, AuthEventSignedIn, session)

	return session, nil
}

// SignOut ends the client session
func (s *LocalSessionStore) SignOut(ctx context.Context, clientID string) error {
	if err := s.storage.Delete(ctx, clientID); err != nil {
		return SessionStoreError(err, "delete_token")
	}
	s.emit(ctx, clientID, AuthEventSignedOut, nil)
	return nil
}

// RefreshSession re-issues the client token with a fresh expiry
func (s *LocalSessionStore) RefreshSession(ctx context.Context, clientID string) (*Session, error) {
	current, err := s.SessionFor(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrIdentityNotFound.Clone().WithMetadata(map[string]any{"client_id": clientID})
	}

	claims, err := s.tokens.Validate(current.AccessToken)
	if err != nil {
		return nil, err
	}

	token, next, err := s.tokens.Refresh(claims)
	if err != nil {
		return nil, SessionStoreError(err, "refresh_token")
	}

	if err := s.storage.Save(ctx, clientID, token, s.tokens.TTL()); err != nil {
		return nil, SessionStoreError(err, "save_token")
	}

	session := SessionFromClaims(token, next)
	s.emit(ctx, clientID, AuthEventTokenRefreshed, session)

	return session, nil
}

// Subscribe registers a listener for one client
func (s *LocalSessionStore) Subscribe(clientID string, listener AuthStateListener) UnsubscribeFunc {
	return s.hub.Subscribe(clientID, listener)
}

// Deliver emits an event received from another instance to the local
// listeners only
func (s *LocalSessionStore) Deliver(ctx context.Context, clientID string, event AuthEvent, session *Session) {
	s.hub.Emit(ctx, clientID, event, session)
}

// ListenerCount is the number of listeners registered for a client
func (s *LocalSessionStore) ListenerCount(clientID string) int {
	return s.hub.Count(clientID)
}

func (s *LocalSessionStore) emit(ctx context.Context, clientID string, event AuthEvent, session *Session) {
	s.hub.Emit(ctx, clientID, event, session)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, clientID, event, session); err != nil {
		s.logger.Warn("failed to publish auth event", "client_id", clientID, "event", event, "error", err)
	}
}

type clientSessionStore struct {
	store    *LocalSessionStore
	clientID string
}

var _ SessionStore = (*clientSessionStore)(nil)

func (c *clientSessionStore) GetSession(ctx context.Context) (*Session, error) {
	return c.store.SessionFor(ctx, c.clientID)
}

func (c *clientSessionStore) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := c.store.SignIn(ctx, c.clientID, email, password)
	if err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			return nil, err
		}
		return nil, SessionStoreError(err, "sign_in")
	}
	return session, nil
}

func (c *clientSessionStore) SignOut(ctx context.Context) error {
	return c.store.SignOut(ctx, c.clientID)
}

func (c *clientSessionStore) OnAuthStateChange(listener AuthStateListener) UnsubscribeFunc {
	return c.store.Subscribe(c.clientID, listener)
}
