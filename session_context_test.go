package tenantauth_test

import (
	"context"
	"testing"
	"time"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(store *fakeStore, resolver tenantauth.EntitlementResolver, sink *recordingSink) *tenantauth.SessionContext {
	return tenantauth.NewSessionContext(store, resolver,
		tenantauth.WithClientID(fakeClientID),
		tenantauth.WithSessionLogger(tenantauth.NoopLogger()),
		tenantauth.WithActivitySink(sink),
	)
}

func waitEntered(t *testing.T, r *stubResolver, identityID string) {
	t.Helper()
	select {
	case got := <-r.entered:
		require.Equal(t, identityID, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("resolution for %s never started", identityID)
	}
}

func TestSessionContext_InitialState(t *testing.T) {
	sc := newSession(newFakeStore(), newStubResolver(), &recordingSink{})

	state := sc.State()
	assert.Equal(t, tenantauth.StatusUnauthenticated, state.Status)
	assert.True(t, state.Loading)
	assert.False(t, state.Settled())
	assert.Nil(t, state.Identity)

	select {
	case <-sc.Ready():
		t.Fatal("ready before bootstrap")
	default:
	}
}

func TestSessionContext_Bootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		sc := newSession(newFakeStore(), newStubResolver(), &recordingSink{})
		sc.Start(ctx)
		defer sc.Close()

		state := sc.State()
		assert.Equal(t, tenantauth.StatusUnauthenticated, state.Status)
		assert.False(t, state.Loading)
		assert.Nil(t, state.Identity)
		assert.Nil(t, state.Snapshot)
		<-sc.Ready()
	})

	t.Run("provisioned identity", func(t *testing.T) {
		store := newFakeStore().withSession(userSession("user-1", "ana@acme.test"))
		resolver := newStubResolver().provision("user-1", "tenant-1", "crm", "dashboard", "teleport")
		sink := &recordingSink{}

		sc := newSession(store, resolver, sink)
		sc.Start(ctx)
		defer sc.Close()

		state := sc.State()
		assert.Equal(t, tenantauth.StatusAuthenticated, state.Status)
		assert.False(t, state.Loading)
		require.NotNil(t, state.Identity)
		assert.Equal(t, "Ana Silva", state.Identity.Name)
		assert.Equal(t, "tenant-1", sc.TenantID())

		assert.True(t, sc.HasFeatureAccess("crm"))
		assert.True(t, sc.HasFeature(tenantauth.FeatureDashboard))
		assert.False(t, sc.HasFeatureAccess("finance"))
		assert.False(t, sc.HasFeatureAccess("teleport"))
		assert.False(t, sc.HasFeatureAccess(""))

		event, ok := sink.last(tenantauth.ActivityEventEntitlementResolved)
		require.True(t, ok)
		assert.Equal(t, "tenant-1", event.TenantID)
		assert.Equal(t, fakeClientID, event.Metadata["client_id"])
	})

	t.Run("unprovisioned identity", func(t *testing.T) {
		store := newFakeStore().withSession(userSession("user-2", "solo@acme.test"))
		sink := &recordingSink{}

		sc := newSession(store, newStubResolver(), sink)
		sc.Start(ctx)
		defer sc.Close()

		state := sc.State()
		assert.Equal(t, tenantauth.StatusAuthenticatedNoEntitlement, state.Status)
		require.NotNil(t, state.Identity)
		assert.Nil(t, state.Tenant)
		assert.Nil(t, state.Snapshot)
		assert.Empty(t, sc.TenantID())
		assert.False(t, sc.HasFeatureAccess("dashboard"))
		assert.Contains(t, sink.types(), tenantauth.ActivityEventIdentityUnprovisioned)
	})

	t.Run("store failure ends unauthenticated", func(t *testing.T) {
		store := newFakeStore()
		store.getErr = errBackendDown
		sink := &recordingSink{}

		sc := newSession(store, newStubResolver(), sink)
		sc.Start(ctx)
		defer sc.Close()

		state := sc.State()
		assert.Equal(t, tenantauth.StatusUnauthenticated, state.Status)
		assert.False(t, state.Loading)
		assert.Contains(t, sink.types(), tenantauth.ActivityEventSessionStoreFailure)
	})

	t.Run("resolution failure keeps identity without entitlement", func(t *testing.T) {
		store := newFakeStore().withSession(userSession("user-3", "ana@acme.test"))
		resolver := newStubResolver()
		resolver.errs["user-3"] = errBackendDown
		sink := &recordingSink{}

		sc := newSession(store, resolver, sink)
		sc.Start(ctx)
		defer sc.Close()

		state := sc.State()
		assert.Equal(t, tenantauth.StatusAuthenticatedNoEntitlement, state.Status)
		require.NotNil(t, state.Identity)
		assert.Nil(t, state.Snapshot)
		assert.Empty(t, state.Error, "resolution failures are not surfaced on the state")
		assert.Contains(t, sink.types(), tenantauth.ActivityEventEntitlementFailure)
	})
}

func TestSessionContext_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success resolves entitlement", func(t *testing.T) {
		store := newFakeStore()
		resolver := newStubResolver().provision("user-ana@acme.test", "tenant-1", "crm")
		sink := &recordingSink{}

		sc := newSession(store, resolver, sink)
		sc.Start(ctx)
		defer sc.Close()

		state := sc.Login(ctx, "ana@acme.test", "s3cret")
		assert.Empty(t, state.Error)
		assert.True(t, state.Authenticated())
		assert.False(t, state.Loading)
		assert.Equal(t, tenantauth.StatusAuthenticated, state.Status)

		settled := sc.WaitSettled(ctx)
		assert.Equal(t, tenantauth.StatusAuthenticated, settled.Status)
		assert.True(t, settled.HasFeature(tenantauth.FeatureCRM))
		assert.Contains(t, sink.types(), tenantauth.ActivityEventLoginSuccess)
	})

	t.Run("rejected login carries message", func(t *testing.T) {
		sink := &recordingSink{}
		sc := newSession(newFakeStore(), newStubResolver(), sink)
		sc.Start(ctx)
		defer sc.Close()

		state := sc.Login(ctx, "ana@acme.test", "wrong")
		assert.Equal(t, "Invalid login credentials", state.Error)
		assert.False(t, state.Authenticated())
		assert.False(t, state.Loading)
		assert.Equal(t, tenantauth.StatusUnauthenticated, state.Status)

		settled := sc.WaitSettled(ctx)
		assert.Equal(t, tenantauth.StatusUnauthenticated, settled.Status)
		assert.Equal(t, "Invalid login credentials", settled.Error)

		event, ok := sink.last(tenantauth.ActivityEventLoginFailure)
		require.True(t, ok)
		assert.Equal(t, "ana@acme.test", event.Metadata["email"])
	})

	t.Run("successful login clears previous error", func(t *testing.T) {
		sc := newSession(newFakeStore(), newStubResolver(), &recordingSink{})
		sc.Start(ctx)
		defer sc.Close()

		sc.Login(ctx, "ana@acme.test", "wrong")
		state := sc.Login(ctx, "ana@acme.test", "s3cret")
		assert.Empty(t, state.Error)
	})
}

// gatedStore holds GetSession until gate is closed
type gatedStore struct {
	*fakeStore
	gate chan struct{}
}

func (g *gatedStore) GetSession(ctx context.Context) (*tenantauth.Session, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeStore.GetSession(ctx)
}

func TestSessionContext_LoginWaitsForBootstrap(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{fakeStore: newFakeStore(), gate: make(chan struct{})}
	resolver := newStubResolver().provision("user-ana@acme.test", "tenant-1", "crm")

	registry := tenantauth.NewSessionRegistry(func(clientID string) *tenantauth.SessionContext {
		return tenantauth.NewSessionContext(store, resolver, tenantauth.WithClientID(clientID))
	})
	defer registry.Close()

	session := registry.Get(ctx, fakeClientID)
	require.Equal(t, 1, store.hub.Count(fakeClientID), "listener is registered before Get returns")

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(store.gate)
	}()

	state := session.Login(ctx, "ana@acme.test", "s3cret")

	assert.Equal(t, tenantauth.StatusAuthenticated, state.Status)
	assert.False(t, state.Loading)
	require.NotNil(t, state.Identity)
	assert.Equal(t, "ana@acme.test", state.Identity.Email)
	assert.Equal(t, "tenant-1", state.TenantID())
}

func TestSessionContext_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("success clears the session", func(t *testing.T) {
		store := newFakeStore().withSession(userSession("user-1", "ana@acme.test"))
		resolver := newStubResolver().provision("user-1", "tenant-1", "crm")
		sink := &recordingSink{}

		sc := newSession(store, resolver, sink)
		sc.Start(ctx)
		defer sc.Close()

		sc.Logout(ctx)

		state := sc.State()
		assert.Equal(t, tenantauth.StatusUnauthenticated, state.Status)
		assert.Nil(t, state.Identity)
		assert.Nil(t, state.Snapshot)
		assert.Empty(t, sc.TenantID())

		event, ok := sink.last(tenantauth.ActivityEventLogoutSuccess)
		require.True(t, ok)
		assert.Equal(t, "user-1", event.UserID)
		assert.Equal(t, "tenant-1", event.TenantID)
	})

	t.Run("failure keeps local state and reports to the sink", func(t *testing.T) {
		store := newFakeStore().withSession(userSession("user-1", "ana@acme.test"))
		store.signOutErr = errBackendDown
		resolver := newStubResolver().provision("user-1", "tenant-1", "crm")
		sink := &recordingSink{}

		sc := newSession(store, resolver, sink)
		sc.Start(ctx)
		defer sc.Close()

		sc.Logout(ctx)

		state := sc.State()
		assert.Equal(t, tenantauth.StatusAuthenticated, state.Status)
		assert.Empty(t, state.Error)
		assert.True(t, sc.HasFeatureAccess("crm"))
		assert.Contains(t, sink.types(), tenantauth.ActivityEventLogoutFailure)
	})
}

func TestSessionContext_StaleResolutionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	resolver := newStubResolver().provision("user-a", "tenant-a", "crm")
	gate := resolver.block("user-a")

	sc := newSession(store, resolver, &recordingSink{})
	sc.Start(ctx)
	defer sc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.emit(tenantauth.AuthEventSignedIn, userSession("user-a", "a@acme.test"))
	}()
	waitEntered(t, resolver, "user-a")

	assert.Equal(t, tenantauth.StatusAuthenticating, sc.State().Status)

	store.emit(tenantauth.AuthEventSignedOut, nil)
	assert.Equal(t, tenantauth.StatusUnauthenticated, sc.State().Status)

	close(gate)
	<-done

	state := sc.State()
	assert.Equal(t, tenantauth.StatusUnauthenticated, state.Status)
	assert.Nil(t, state.Identity)
	assert.Nil(t, state.Tenant)
	assert.False(t, sc.HasFeatureAccess("crm"))
}

func TestSessionContext_LatestIdentityWins(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	resolver := newStubResolver().
		provision("user-a", "tenant-a", "crm").
		provision("user-b", "tenant-b", "finance")
	gate := resolver.block("user-a")

	sc := newSession(store, resolver, &recordingSink{})
	sc.Start(ctx)
	defer sc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.emit(tenantauth.AuthEventSignedIn, userSession("user-a", "a@acme.test"))
	}()
	waitEntered(t, resolver, "user-a")

	store.emit(tenantauth.AuthEventSignedIn, userSession("user-b", "b@acme.test"))
	close(gate)
	<-done

	state := sc.State()
	require.NotNil(t, state.Identity)
	assert.Equal(t, "user-b", state.Identity.ID)
	assert.Equal(t, "tenant-b", state.TenantID())
	assert.True(t, state.HasFeature(tenantauth.FeatureFinance))
	assert.False(t, state.HasFeature(tenantauth.FeatureCRM))
}

func TestSessionContext_WaitSettledHonorsContext(t *testing.T) {
	store := newFakeStore()
	resolver := newStubResolver().provision("user-a", "tenant-a", "crm")
	gate := resolver.block("user-a")
	defer close(gate)

	sc := newSession(store, resolver, &recordingSink{})
	sc.Start(context.Background())
	defer sc.Close()

	go store.emit(tenantauth.AuthEventSignedIn, userSession("user-a", "a@acme.test"))
	waitEntered(t, resolver, "user-a")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	state := sc.WaitSettled(ctx)
	assert.False(t, state.Settled())
	assert.Equal(t, tenantauth.StatusAuthenticating, state.Status)
}

func TestSessionContext_CloseStopsUpdates(t *testing.T) {
	store := newFakeStore()
	sc := newSession(store, newStubResolver(), &recordingSink{})
	sc.Start(context.Background())

	require.Equal(t, 1, store.hub.Count(fakeClientID))
	sc.Close()
	sc.Close()
	assert.Equal(t, 0, store.hub.Count(fakeClientID))

	store.emit(tenantauth.AuthEventSignedIn, userSession("user-a", "a@acme.test"))
	assert.Nil(t, sc.State().Identity)

	state := sc.Login(context.Background(), "ana@acme.test", "s3cret")
	assert.Nil(t, state.Identity)
}

func TestSessionContext_StateIsACopy(t *testing.T) {
	store := newFakeStore().withSession(userSession("user-1", "ana@acme.test"))
	resolver := newStubResolver().provision("user-1", "tenant-1", "crm")

	sc := newSession(store, resolver, &recordingSink{})
	sc.Start(context.Background())
	defer sc.Close()

	state := sc.State()
	state.Identity.Name = "mutated"
	delete(state.Snapshot.Features, tenantauth.FeatureCRM)

	assert.Equal(t, "Ana Silva", sc.State().Identity.Name)
	assert.True(t, sc.HasFeatureAccess("crm"))
}
