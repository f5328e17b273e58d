package tenantauth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// DefaultClientCookieName identifies a browser client across requests
const DefaultClientCookieName = "tenantauth_client"

// SessionFactory builds the SessionContext serving a client
type SessionFactory func(clientID string) *SessionContext

// SessionRegistry holds one SessionContext per browser client. Contexts are
// created on first use and closed after being idle for the configured TTL.
type SessionRegistry struct {
	mu      sync.Mutex
	factory SessionFactory
	entries map[string]*registryEntry
	idleTTL time.Duration
	now     func() time.Time
	logger  Logger
}

type registryEntry struct {
	session  *SessionContext
	lastSeen time.Time
}

// RegistryOption configures a SessionRegistry
type RegistryOption func(*SessionRegistry)

// WithIdleTTL sets how long an unused context is kept
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *SessionRegistry) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *SessionRegistry) {
		r.logger = normalizeLogger(logger)
	}
}

// WithRegistryClock sets the time source used for idle tracking
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewSessionRegistry(factory SessionFactory, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		factory: factory,
		entries: make(map[string]*registryEntry),
		idleTTL: 30 * time.Minute,
		now:     time.Now,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Get returns the context for clientID, creating and starting it when
// needed. The store listener is registered before Get returns, bootstrap
// runs in the background and callers wait with WaitSettled.
func (r *SessionRegistry) Get(ctx context.Context, clientID string) *SessionContext {
	r.mu.Lock()
	entry, ok := r.entries[clientID]
	if ok {
		entry.lastSeen = r.now()
		r.mu.Unlock()
		return entry.session
	}

	session := r.factory(clientID)
	r.entries[clientID] = &registryEntry{session: session, lastSeen: r.now()}
	r.mu.Unlock()

	r.logger.Debug("session context created", "client_id", clientID)
	session.Listen()
	go session.Start(context.WithoutCancel(ctx))

	return session
}

// Lookup returns an existing context without creating one
func (r *SessionRegistry) Lookup(clientID string) (*SessionContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[clientID]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry.session, true
}

// Evict closes and forgets the context of a client
func (r *SessionRegistry) Evict(clientID string) {
	r.mu.Lock()
	entry, ok := r.entries[clientID]
	delete(r.entries, clientID)
	r.mu.Unlock()

	if ok {
		entry.session.Close()
	}
}

// Sweep closes every context idle for longer than the TTL and returns how
// many were evicted
func (r *SessionRegistry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var stale []*SessionContext
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			stale = append(stale, entry.session)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}

	if len(stale) > 0 {
		r.logger.Debug("evicted idle session contexts", "count", len(stale))
	}
	return len(stale)
}

// Run sweeps on every interval until ctx is done, then closes all contexts
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len is the number of live contexts
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every context
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.session.Close()
	}
}

// ClientID returns the client id cookie, issuing a new one when absent
func ClientID(c router.Context, cookieName string) string {
	if cookieName == "" {
		cookieName = DefaultClientCookieName
	}

	if id, ok := c.Locals(localsClientIDKey).(string); ok && id != "" {
		return id
	}

	id := strings.TrimSpace(c.Cookies(cookieName))
	if id == "" {
		id = uuid.NewString()
		c.Cookie(&router.Cookie{
			Name:     cookieName,
			Value:    id,
			Path:     "/",
			HTTPOnly: true,
			SameSite: "Lax",
		})
	}

	// later reads within the same request see the issued id
	c.Locals(localsClientIDKey, id)
	return id
}

const localsClientIDKey = "tenantauth.client_id"

// LoadingView is rendered while the session is not settled
type LoadingView struct {
	Decision Decision `json:"decision"`
	Path     string   `json:"path"`
}

// UpgradeView replaces the content of a route whose feature is not held
type UpgradeView struct {
	Decision    Decision      `json:"decision"`
	Path        string        `json:"path"`
	Feature     FeatureKey    `json:"feature"`
	ProfileType string        `json:"profile_type,omitempty"`
	Status      SessionStatus `json:"status"`
	Identity    *Identity     `json:"identity,omitempty"`
	Features    []string      `json:"features"`
}

// GuardHandler renders a guard outcome
type GuardHandler func(c router.Context, eval Evaluation, state SessionState) error

// GuardConfig configures GuardMiddleware
type GuardConfig struct {
	ClientCookieName string
	SettleTimeout    time.Duration
	LoadingHandler   GuardHandler
	UpgradeHandler   GuardHandler
	Logger           Logger
}

// GuardMiddleware resolves the client session, waits a bounded time for it
// to settle, and applies the route guard to the request path.
func GuardMiddleware(registry *SessionRegistry, routeGuard *RouteGuard, cfg GuardConfig) router.MiddlewareFunc {
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 3 * time.Second
	}
	if cfg.LoadingHandler == nil {
		cfg.LoadingHandler = defaultLoadingHandler
	}
	if cfg.UpgradeHandler == nil {
		cfg.UpgradeHandler = defaultUpgradeHandler
	}
	cfg.Logger = normalizeLogger(cfg.Logger)
	loginSegment := topSegment(routeGuard.LoginRoute())

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if topSegment(c.Path()) == loginSegment {
				return c.Next()
			}

			clientID := ClientID(c, cfg.ClientCookieName)
			session := registry.Get(c.Context(), clientID)

			waitCtx, cancel := context.WithTimeout(c.Context(), cfg.SettleTimeout)
			state := session.WaitSettled(waitCtx)
			cancel()

			c.Locals(LocalsStateKey, state)
			c.SetContext(WithSessionState(c.Context(), state))

			eval := routeGuard.Evaluate(c.Path(), state)

			switch eval.Decision {
			case DecisionLoading:
				cfg.Logger.Debug("session not settled", "client_id", clientID, "path", eval.Path)
				return cfg.LoadingHandler(c, eval, state)
			case DecisionRedirect:
				return c.Redirect(eval.Redirect, router.StatusSeeOther)
			case DecisionUpgrade:
				return cfg.UpgradeHandler(c, eval, state)
			default:
				return c.Next()
			}
		}
	}
}

func defaultLoadingHandler(c router.Context, eval Evaluation, _ SessionState) error {
	c.SetHeader(HeaderRetryAfter, "1")
	return c.JSON(http.StatusAccepted, LoadingView{
		Decision: eval.Decision,
		Path:     eval.Path,
	})
}

func defaultUpgradeHandler(c router.Context, eval Evaluation, state SessionState) error {
	return c.JSON(router.StatusOK, NewUpgradeView(eval, state))
}

// NewUpgradeView builds the upgrade prompt view model
func NewUpgradeView(eval Evaluation, state SessionState) UpgradeView {
	view := UpgradeView{
		Decision: eval.Decision,
		Path:     eval.Path,
		Feature:  eval.Feature,
		Status:   state.Status,
		Identity: state.Identity,
		Features: []string{},
	}
	if state.Snapshot != nil {
		view.ProfileType = state.Snapshot.ProfileType
		view.Features = state.Snapshot.FeatureList()
	}
	return view
}

// EntitlementMiddleware resolves the entitlement of a bearer token identity.
// It runs after jwtware stored the claims. Resolution failures degrade to no
// entitlement, same as the browser session.
func EntitlementMiddleware(resolver EntitlementResolver, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			claims, ok := GetClaims(c.Context())
			if !ok || claims.UserID() == "" {
				return WriteError(c, ErrUnableToDecodeSession)
			}

			ctx := c.Context()
			res, err := resolver.Resolve(ctx, claims.UserID())
			if err != nil {
				logger.Error("entitlement resolution failed", "user_id", claims.UserID(), "error", err)
				res = Resolution{}
			}

			if res.Provisioned() {
				ctx = WithSnapshot(ctx, res.Snapshot)
				c.Locals(LocalsTenantKey, res.Tenant.ID)
			}
			c.SetContext(ctx)

			return c.Next()
		}
	}
}

// LocalsTenantKey is the Locals key holding the resolved tenant id
const LocalsTenantKey = "tenantauth.tenant_id"

// HeaderRetryAfter tells throttled or loading clients when to come back
const HeaderRetryAfter = "Retry-After"

// FeatureRequired rejects requests whose snapshot lacks key with a 403.
// A nil gate checks the snapshot in the request context.
func FeatureRequired(featureGate gate.FeatureGate, key FeatureKey) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if err := RequireFeature(c.Context(), featureGate, key); err != nil {
				return WriteError(c, err)
			}
			return c.Next()
		}
	}
}

// WriteError renders err as a go-errors JSON response
func WriteError(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "internal error").
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = router.StatusInternalServerError
	}

	return c.JSON(status, richErr.ToErrorResponse(false, nil))
}
