package tenantauth

import (
	"context"
	"sync"
	"time"
)

// SessionContext owns who is signed in for one client and what they can
// do. It is the only writer of its state; consumers read copies via State.
//
// Every call chain (bootstrap, login, logout, change notification) takes a
// generation number when it starts. A chain only writes while its
// generation is still the latest one, so a slow resolution can never
// overwrite a newer one. After Close nothing is written at all.
type SessionContext struct {
	store    SessionStore
	resolver EntitlementResolver
	logger   Logger
	activity ActivitySink
	clientID string
	now      func() time.Time

	mu          sync.RWMutex
	state       SessionState
	pending     int
	generation  uint64
	closed      bool
	booted      bool
	listening   bool
	unsubscribe UnsubscribeFunc
	changed     chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// SessionOption configures a SessionContext
type SessionOption func(*SessionContext)

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionOption {
	return func(c *SessionContext) {
		c.logger = normalizeLogger(logger)
	}
}

// WithActivitySink sets the operator channel for session activity
func WithActivitySink(sink ActivitySink) SessionOption {
	return func(c *SessionContext) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithClientID tags activity with the client the context serves
func WithClientID(clientID string) SessionOption {
	return func(c *SessionContext) {
		c.clientID = clientID
	}
}

// WithSessionClock sets the time source used for activity timestamps
func WithSessionClock(now func() time.Time) SessionOption {
	return func(c *SessionContext) {
		if now != nil {
			c.now = now
		}
	}
}

// NewSessionContext returns a context in its initial state: unauthenticated
// and loading until Bootstrap completes.
func NewSessionContext(store SessionStore, resolver EntitlementResolver, opts ...SessionOption) *SessionContext {
	c := &SessionContext{
		store:    store,
		resolver: resolver,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		state:    SessionState{Status: StatusUnauthenticated},
		pending:  1,
		changed:  make(chan struct{}),
		ready:    make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Start subscribes to store notifications and bootstraps the session.
// The subscription is registered first so no notification is missed while
// bootstrap is in flight.
func (c *SessionContext) Start(ctx context.Context) {
	c.Listen()
	c.Bootstrap(ctx)
}

// Listen registers the store listener. It is idempotent. Once listening,
// Login waits for the first bootstrap before signing in.
func (c *SessionContext) Listen() {
	c.mu.Lock()
	if c.closed || c.listening {
		c.mu.Unlock()
		return
	}
	c.listening = true
	c.mu.Unlock()

	unsubscribe := c.store.OnAuthStateChange(c.handleAuthStateChange)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Close deregisters the store listener. In flight resolutions finish but
// their results are dropped.
func (c *SessionContext) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.notifyLocked()
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.markReady()
}

// Bootstrap loads an existing session from the store. Store errors are
// logged and the context ends unauthenticated. It never fails.
func (c *SessionContext) Bootstrap(ctx context.Context) {
	defer c.markReady()

	c.mu.Lock()
	// the first run consumes the loading hold taken at construction
	if c.booted {
		c.pending++
	}
	c.booted = true
	c.mu.Unlock()
	defer c.release()

	gen, ok := c.begin()
	if !ok {
		return
	}

	session, err := c.store.GetSession(ctx)
	if err != nil {
		c.logger.Error("session bootstrap failed", "client_id", c.clientID, "error", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventSessionStoreFailure,
			Metadata:  map[string]any{"operation": "get_session", "error": err.Error()},
		})
		c.commit(gen, func(s *SessionState) { s.clearIdentity() })
		return
	}

	if !session.HasUser() {
		c.commit(gen, func(s *SessionState) { s.clearIdentity() })
		return
	}

	c.authenticate(ctx, gen, session)
}

// Login signs in through the store. It never returns an error: a rejected
// sign in leaves the store message in the returned state. The returned state
// is settled unless ctx ends first.
func (c *SessionContext) Login(ctx context.Context, email, password string) SessionState {
	c.awaitBootstrap(ctx)

	c.mu.Lock()
	if c.closed {
		state := c.stateLocked()
		c.mu.Unlock()
		return state
	}
	c.pending++
	c.generation++
	gen := c.generation
	from := c.state.Status
	c.state.Error = ""
	c.state.Status = StatusAuthenticating
	c.notifyLocked()
	c.mu.Unlock()

	session, err := c.signIn(ctx, gen, from, email, password)
	c.release()
	if err != nil {
		return c.State()
	}

	state := c.WaitSettled(ctx)
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: session.User.ID, Type: "user"},
		UserID:    session.User.ID,
		TenantID:  state.TenantID(),
		FromState: from,
		ToState:   state.Status,
	})

	return state
}

func (c *SessionContext) signIn(ctx context.Context, gen uint64, from SessionStatus, email, password string) (*Session, error) {
	session, err := c.store.SignInWithPassword(ctx, email, password)
	if err == nil && !session.HasUser() {
		err = SessionStoreError(ErrIdentityNotFound, "sign_in")
	}

	if err != nil {
		message := ErrorMessage(err)
		c.logger.Info("login rejected", "client_id", c.clientID, "email", email, "error", message)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			FromState: from,
			Metadata:  map[string]any{"email": email, "error": message},
		})

		c.mu.Lock()
		if !c.closed {
			c.state.Error = message
			if gen == c.generation {
				c.state.Status = statusFor(c.state)
			}
			c.notifyLocked()
		}
		c.mu.Unlock()
		return nil, err
	}

	if c.superseded(gen) {
		c.logger.Debug("login resolution superseded by change notification", "client_id", c.clientID)
		return session, nil
	}

	c.authenticate(ctx, gen, session)
	return session, nil
}

// awaitBootstrap holds a login until the first bootstrap of a listening
// context finished, so the two never race for the same generation.
func (c *SessionContext) awaitBootstrap(ctx context.Context) {
	c.mu.RLock()
	listening := c.listening
	c.mu.RUnlock()
	if !listening {
		return
	}

	select {
	case <-c.ready:
	case <-ctx.Done():
	}
}

// Logout signs out through the store. On failure the local state is kept
// as is, the failure is logged and recorded on the activity sink.
func (c *SessionContext) Logout(ctx context.Context) {
	before := c.State()

	if err := c.store.SignOut(ctx); err != nil {
		c.logger.Error("logout failed, keeping local session", "client_id", c.clientID, "error", err)
		c.record(ctx, c.identityEvent(before, ActivityEvent{
			EventType: ActivityEventLogoutFailure,
			FromState: before.Status,
			ToState:   before.Status,
			Metadata:  map[string]any{"error": err.Error()},
		}))
		return
	}

	gen, ok := c.begin()
	if !ok {
		return
	}
	c.commit(gen, func(s *SessionState) {
		s.clearIdentity()
		s.Error = ""
	})

	c.record(ctx, c.identityEvent(before, ActivityEvent{
		EventType: ActivityEventLogoutSuccess,
		FromState: before.Status,
		ToState:   StatusUnauthenticated,
	}))
}

// HasFeatureAccess reports whether the current snapshot grants the feature.
// Unknown keys and a missing snapshot deny.
func (c *SessionContext) HasFeatureAccess(key string) bool {
	feature, err := ParseFeatureKey(key)
	if err != nil {
		return false
	}
	return c.HasFeature(feature)
}

// HasFeature is the typed form of HasFeatureAccess
func (c *SessionContext) HasFeature(key FeatureKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return HasFeature(c.state.Snapshot, key)
}

// State returns a copy of the current state
func (c *SessionContext) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

// TenantID returns the cached tenant reference, if any
func (c *SessionContext) TenantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TenantID()
}

// Ready is closed once the first bootstrap finished
func (c *SessionContext) Ready() <-chan struct{} {
	return c.ready
}

// WaitSettled blocks until the state is settled or ctx is done and returns
// the last observed state.
func (c *SessionContext) WaitSettled(ctx context.Context) SessionState {
	for {
		c.mu.RLock()
		state := c.stateLocked()
		changed := c.changed
		closed := c.closed
		c.mu.RUnlock()

		if state.Settled() || closed {
			return state
		}

		select {
		case <-ctx.Done():
			return state
		case <-changed:
		}
	}
}

func (c *SessionContext) handleAuthStateChange(ctx context.Context, event AuthEvent, session *Session) {
	gen, ok := c.begin()
	if !ok {
		return
	}

	c.logger.Debug("auth state change", "client_id", c.clientID, "event", event, "has_user", session.HasUser())

	if !session.HasUser() {
		c.commit(gen, func(s *SessionState) { s.clearIdentity() })
		return
	}

	c.authenticate(ctx, gen, session)
}

// authenticate derives the identity and resolves its entitlement. Tenant
// then profile resolution run strictly in sequence.
func (c *SessionContext) authenticate(ctx context.Context, gen uint64, session *Session) {
	identity := IdentityFromSession(session)

	if !c.commit(gen, func(s *SessionState) {
		s.Identity = identity
		s.Tenant = nil
		s.Snapshot = nil
		s.Error = ""
		s.Status = StatusAuthenticating
	}) {
		return
	}

	res, err := c.resolver.Resolve(ctx, identity.ID)
	if err != nil {
		c.logger.Error("entitlement resolution failed", "client_id", c.clientID, "identity_id", identity.ID, "error", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventEntitlementFailure,
			UserID:    identity.ID,
			TenantID:  res.Tenant.ID,
			Metadata:  map[string]any{"error": err.Error()},
		})
		res.Snapshot = nil
	}

	applied := c.commit(gen, func(s *SessionState) {
		if res.Provisioned() {
			tenant := res.Tenant
			s.Tenant = &tenant
		}
		s.Snapshot = res.Snapshot
		s.Status = statusFor(*s)
	})
	if !applied || err != nil {
		return
	}

	if !res.Provisioned() {
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventIdentityUnprovisioned,
			UserID:    identity.ID,
			ToState:   StatusAuthenticatedNoEntitlement,
		})
		return
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventEntitlementResolved,
		UserID:    identity.ID,
		TenantID:  res.Tenant.ID,
		ToState:   statusFor(SessionState{Identity: identity, Snapshot: res.Snapshot}),
		Metadata:  map[string]any{"features": res.Snapshot.FeatureList()},
	})
}

func (c *SessionContext) begin() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.generation++
	return c.generation, true
}

func (c *SessionContext) superseded(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed || gen != c.generation
}

// commit applies fn if gen is still the latest generation
func (c *SessionContext) commit(gen uint64, fn func(*SessionState)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		return false
	}
	fn(&c.state)
	c.notifyLocked()
	return true
}

func (c *SessionContext) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 {
		c.pending--
	}
	c.notifyLocked()
}

func (c *SessionContext) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *SessionContext) stateLocked() SessionState {
	state := c.state.clone()
	state.Loading = c.pending > 0
	return state
}

func (c *SessionContext) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *SessionContext) identityEvent(state SessionState, event ActivityEvent) ActivityEvent {
	if state.Identity != nil {
		event.Actor = ActorRef{ID: state.Identity.ID, Type: "user"}
		event.UserID = state.Identity.ID
	}
	event.TenantID = state.TenantID()
	return event
}

func (c *SessionContext) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now().UTC()
	}
	if c.clientID != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]any{}
		}
		event.Metadata["client_id"] = c.clientID
	}
	if err := c.activity.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
