package activitymap

import (
	"strings"
	"time"

	tenantauth "github.com/goliatone/go-tenantauth"
)

const (
	// MetadataKeyActorType stores the actor type derived from tenantauth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyTenantID stores the tenant the event was scoped to.
	MetadataKeyTenantID = "tenant_id"
	// MetadataKeyFromState stores the session state before the transition.
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the session state after the transition.
	MetadataKeyToState = "to_state"
)

const (
	defaultChannel    = "tenantauth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Fields flattens the record into key/value pairs for structured loggers
func (n Normalized) Fields() []any {
	out := []any{
		"actor_id", n.ActorID,
		"verb", n.Verb,
		"object_type", n.ObjectType,
		"object_id", n.ObjectID,
		"channel", n.Channel,
		"occurred_at", n.OccurredAt.Format(time.RFC3339),
	}
	for key, value := range n.Metadata {
		out = append(out, key, value)
	}
	return out
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(tenantauth.ActivityEvent) string
	now              func() time.Time
}

// Normalize converts a tenantauth.ActivityEvent into a generic normalized shape.
func Normalize(event tenantauth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(tenantauth.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the time source used for events without a timestamp
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func resolveObjectID(event tenantauth.ActivityEvent, resolver func(tenantauth.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event tenantauth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key string, value string, overwrite bool) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeyTenantID, strings.TrimSpace(event.TenantID), false)
	set(MetadataKeyFromState, string(event.FromState), true)
	set(MetadataKeyToState, string(event.ToState), true)

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
