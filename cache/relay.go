package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/goliatone/go-errors"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deliverer receives events published by other instances.
// tenantauth.LocalSessionStore implements it.
type Deliverer interface {
	Deliver(ctx context.Context, clientID string, event tenantauth.AuthEvent, session *tenantauth.Session)
}

type envelope struct {
	Origin   string               `json:"origin"`
	ClientID string               `json:"client_id"`
	Event    tenantauth.AuthEvent `json:"event"`
	Session  *tenantauth.Session  `json:"session,omitempty"`
}

// EventRelay fans auth events out over Redis pub/sub. Events carry the
// relay instance id so an instance ignores its own messages.
type EventRelay struct {
	client   redis.UniversalClient
	channel  string
	instance string
	logger   tenantauth.Logger

	mu        sync.Mutex
	deliverer Deliverer
}

var _ tenantauth.EventPublisher = (*EventRelay)(nil)

// RelayOption configures an EventRelay
type RelayOption func(*EventRelay)

// WithRelayLogger sets the logger
func WithRelayLogger(logger tenantauth.Logger) RelayOption {
	return func(r *EventRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithChannel overrides the pub/sub channel
func WithChannel(channel string) RelayOption {
	return func(r *EventRelay) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithInstanceID sets the id used to drop self published events
func WithInstanceID(id string) RelayOption {
	return func(r *EventRelay) {
		if id != "" {
			r.instance = id
		}
	}
}

func NewEventRelay(client redis.UniversalClient, opts ...RelayOption) *EventRelay {
	r := &EventRelay{
		client:   client,
		channel:  DefaultKeyPrefix + ":auth-events",
		instance: uuid.NewString(),
		logger:   tenantauth.NoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// InstanceID identifies this relay on the channel
func (r *EventRelay) InstanceID() string {
	return r.instance
}

// Attach sets where remote events are delivered. It must be called
// before Run.
func (r *EventRelay) Attach(deliverer Deliverer) {
	r.mu.Lock()
	r.deliverer = deliverer
	r.mu.Unlock()
}

// Publish sends the event to every other instance. Access tokens are
// never put on the wire.
func (r *EventRelay) Publish(ctx context.Context, clientID string, event tenantauth.AuthEvent, session *tenantauth.Session) error {
	msg := envelope{
		Origin:   r.instance,
		ClientID: clientID,
		Event:    event,
	}
	if session != nil {
		copied := *session
		copied.AccessToken = ""
		msg.Session = &copied
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode auth event")
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return tenantauth.SessionStoreError(err, "redis_publish")
	}
	return nil
}

// Run subscribes to the channel and delivers remote events until ctx is
// done. The subscription is confirmed before Run starts reading, ready is
// closed at that point when not nil.
func (r *EventRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return tenantauth.SessionStoreError(err, "redis_subscribe")
	}
	if ready != nil {
		close(ready)
	}

	r.logger.Info("auth event relay subscribed", "channel", r.channel, "instance", r.instance)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *EventRelay) handle(ctx context.Context, payload string) {
	var msg envelope
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("dropping malformed auth event", "error", err)
		return
	}

	if msg.Origin == r.instance || msg.ClientID == "" {
		return
	}

	r.mu.Lock()
	deliverer := r.deliverer
	r.mu.Unlock()

	if deliverer == nil {
		return
	}

	r.logger.Debug("relaying auth event", "client_id", msg.ClientID, "event", msg.Event, "origin", msg.Origin)
	deliverer.Deliver(ctx, msg.ClientID, msg.Event, msg.Session)
}
