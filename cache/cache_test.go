package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestTokenStorage(t *testing.T) {
	mr, client := setupRedis(t)
	storage := NewTokenStorage(client, "test:")
	ctx := context.Background()

	t.Run("missing token loads empty", func(t *testing.T) {
		token, err := storage.Load(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "client-1", "tok-1", time.Minute))
		token, err := storage.Load(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)
		assert.True(t, mr.Exists("test:token:client-1"))
	})

	t.Run("ttl expires token", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "client-2", "tok-2", time.Minute))
		mr.FastForward(2 * time.Minute)
		token, err := storage.Load(ctx, "client-2")
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "client-3", "tok-3", 0))
		require.NoError(t, storage.Delete(ctx, "client-3"))
		token, err := storage.Load(ctx, "client-3")
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("redis failure is a session store error", func(t *testing.T) {
		mr.SetError("LOADING")
		defer mr.SetError("")
		_, err := storage.Load(ctx, "client-1")
		require.Error(t, err)
		assert.True(t, tenantauth.IsSessionStoreError(err))
	})
}

type delivered struct {
	clientID string
	event    tenantauth.AuthEvent
	session  *tenantauth.Session
}

type recordingDeliverer struct {
	mu   sync.Mutex
	got  []delivered
	seen chan struct{}
}

func (d *recordingDeliverer) Deliver(_ context.Context, clientID string, event tenantauth.AuthEvent, session *tenantauth.Session) {
	d.mu.Lock()
	d.got = append(d.got, delivered{clientID: clientID, event: event, session: session})
	d.mu.Unlock()
	d.seen <- struct{}{}
}

func TestEventRelay_DeliversRemoteEventsOnly(t *testing.T) {
	_, client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := NewEventRelay(client, WithInstanceID("a"))
	remote := NewEventRelay(client, WithInstanceID("b"))

	deliverer := &recordingDeliverer{seen: make(chan struct{}, 4)}
	local.Attach(deliverer)

	ready := make(chan struct{})
	go func() { _ = local.Run(ctx, ready) }()
	<-ready

	// own messages are ignored
	require.NoError(t, local.Publish(ctx, "client-1", tenantauth.AuthEventSignedIn, nil))

	session := &tenantauth.Session{
		AccessToken: "secret",
		User:        tenantauth.SessionUser{ID: "user-1", Email: "ana@acme.test"},
	}
	require.NoError(t, remote.Publish(ctx, "client-1", tenantauth.AuthEventSignedIn, session))
	require.NoError(t, remote.Publish(ctx, "client-1", tenantauth.AuthEventSignedOut, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-deliverer.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for relayed event")
		}
	}

	deliverer.mu.Lock()
	defer deliverer.mu.Unlock()

	require.Len(t, deliverer.got, 2)
	assert.Equal(t, tenantauth.AuthEventSignedIn, deliverer.got[0].event)
	require.NotNil(t, deliverer.got[0].session)
	assert.Equal(t, "user-1", deliverer.got[0].session.User.ID)
	assert.Empty(t, deliverer.got[0].session.AccessToken)
	assert.Equal(t, tenantauth.AuthEventSignedOut, deliverer.got[1].event)
	assert.Nil(t, deliverer.got[1].session)
}

func TestEventRelay_SignOutReachesOtherInstance(t *testing.T) {
	_, client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage := NewTokenStorage(client, "")
	tokens := tenantauth.NewTokenService([]byte("relay-test-signing-key-0123456789"), 1, "tenantauth", []string{"dashboard"}, tenantauth.NoopLogger())

	relayA := NewEventRelay(client, WithInstanceID("a"))
	relayB := NewEventRelay(client, WithInstanceID("b"))

	storeA := tenantauth.NewLocalSessionStore(nil, tokens, storage, tenantauth.WithEventPublisher(relayA))
	storeB := tenantauth.NewLocalSessionStore(nil, tokens, storage, tenantauth.WithEventPublisher(relayB))
	relayB.Attach(storeB)

	ready := make(chan struct{})
	go func() { _ = relayB.Run(ctx, ready) }()
	<-ready

	events := make(chan tenantauth.AuthEvent, 1)
	storeB.Subscribe("client-1", func(_ context.Context, event tenantauth.AuthEvent, _ *tenantauth.Session) {
		events <- event
	})

	require.NoError(t, storeA.SignOut(ctx, "client-1"))

	select {
	case event := <-events:
		assert.Equal(t, tenantauth.AuthEventSignedOut, event)
	case <-time.After(2 * time.Second):
		t.Fatal("sign out was not relayed")
	}
}
