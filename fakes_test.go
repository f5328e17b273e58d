package tenantauth_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	tenantauth "github.com/goliatone/go-tenantauth"
)

const fakeClientID = "client-1"

// fakeStore is an in memory SessionStore whose failures are scripted
type fakeStore struct {
	mu         sync.Mutex
	session    *tenantauth.Session
	password   string
	getErr     error
	signOutErr error
	hub        *tenantauth.ListenerHub
}

func newFakeStore() *fakeStore {
	return &fakeStore{password: "s3cret", hub: tenantauth.NewListenerHub()}
}

func (f *fakeStore) withSession(session *tenantauth.Session) *fakeStore {
	f.session = session
	return f
}

func (f *fakeStore) GetSession(context.Context) (*tenantauth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeStore) SignInWithPassword(ctx context.Context, email, password string) (*tenantauth.Session, error) {
	f.mu.Lock()
	if password != f.password {
		f.mu.Unlock()
		return nil, tenantauth.AuthenticationError("Invalid login credentials", nil)
	}
	f.session = userSession("user-"+email, email)
	session := f.session
	f.mu.Unlock()

	f.hub.Emit(ctx, fakeClientID, tenantauth.AuthEventSignedIn, session)
	return session, nil
}

func (f *fakeStore) SignOut(ctx context.Context) error {
	f.mu.Lock()
	if f.signOutErr != nil {
		err := f.signOutErr
		f.mu.Unlock()
		return err
	}
	f.session = nil
	f.mu.Unlock()

	f.hub.Emit(ctx, fakeClientID, tenantauth.AuthEventSignedOut, nil)
	return nil
}

func (f *fakeStore) OnAuthStateChange(listener tenantauth.AuthStateListener) tenantauth.UnsubscribeFunc {
	return f.hub.Subscribe(fakeClientID, listener)
}

// emit simulates a notification pushed by the store, e.g. from another tab
func (f *fakeStore) emit(event tenantauth.AuthEvent, session *tenantauth.Session) {
	f.hub.Emit(context.Background(), fakeClientID, event, session)
}

func userSession(id, email string) *tenantauth.Session {
	return &tenantauth.Session{
		AccessToken: "token-" + id,
		User: tenantauth.SessionUser{
			ID:       id,
			Email:    email,
			Metadata: map[string]any{"full_name": "Ana Silva"},
		},
	}
}

// stubResolver answers from a table. Identities listed in gates block until
// their channel is closed.
type stubResolver struct {
	mu      sync.Mutex
	results map[string]tenantauth.Resolution
	errs    map[string]error
	gates   map[string]chan struct{}
	entered chan string
	calls   []string
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		results: map[string]tenantauth.Resolution{},
		errs:    map[string]error{},
		gates:   map[string]chan struct{}{},
		entered: make(chan string, 16),
	}
}

func (r *stubResolver) provision(identityID, tenantID string, features ...string) *stubResolver {
	r.results[identityID] = tenantauth.Resolution{
		Tenant: tenantauth.TenantRef{ID: tenantID, Name: "Acme"},
		Snapshot: tenantauth.BuildSnapshot(&tenantauth.ProfileRecord{
			UserID:             identityID,
			TenantID:           tenantID,
			ProfileType:        "growth",
			Features:           features,
			SubscriptionStatus: "active",
		}),
	}
	return r
}

func (r *stubResolver) block(identityID string) chan struct{} {
	gate := make(chan struct{})
	r.gates[identityID] = gate
	return gate
}

func (r *stubResolver) Resolve(ctx context.Context, identityID string) (tenantauth.Resolution, error) {
	r.mu.Lock()
	r.calls = append(r.calls, identityID)
	gate := r.gates[identityID]
	res, err := r.results[identityID], r.errs[identityID]
	r.mu.Unlock()

	select {
	case r.entered <- identityID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return tenantauth.Resolution{}, ctx.Err()
		}
	}
	return res, err
}

// recordingSink keeps every activity event
type recordingSink struct {
	mu     sync.Mutex
	events []tenantauth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event tenantauth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []tenantauth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenantauth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) last(eventType tenantauth.ActivityEventType) (tenantauth.ActivityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			return s.events[i], true
		}
	}
	return tenantauth.ActivityEvent{}, false
}

var errBackendDown = errors.New("connection refused", errors.CategoryExternal)
