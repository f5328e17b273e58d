package tenantauth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventLogoutSuccess         ActivityEventType = "auth.logout.success"
	ActivityEventLogoutFailure         ActivityEventType = "auth.logout.failure"
	ActivityEventSessionStoreFailure   ActivityEventType = "auth.session.store_failure"
	ActivityEventEntitlementResolved   ActivityEventType = "entitlement.resolved"
	ActivityEventEntitlementFailure    ActivityEventType = "entitlement.resolve.failure"
	ActivityEventIdentityUnprovisioned ActivityEventType = "entitlement.unprovisioned"
)

// ActorRef identifies who triggered an activity
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	TenantID   string
	FromState  SessionStatus
	ToState    SessionStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Logout failures are only ever surfaced through this channel.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// ActivitySinks fans an event out to every sink, returning the first error
type ActivitySinks []ActivitySink

func (s ActivitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
