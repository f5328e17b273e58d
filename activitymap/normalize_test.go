package activitymap_test

import (
	"testing"
	"time"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/goliatone/go-tenantauth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := tenantauth.ActivityEvent{
		EventType: tenantauth.ActivityEventLoginSuccess,
		Actor:     tenantauth.ActorRef{ID: "user-100", Type: "user"},
		UserID:    "user-100",
		TenantID:  "company-7",
		FromState: tenantauth.StatusUnauthenticated,
		ToState:   tenantauth.StatusAuthenticated,
		Metadata: map[string]any{
			"client_id": "c-1",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(tenantauth.ActivityEventLoginSuccess) {
		t.Fatalf("expected verb %q, got %q", tenantauth.ActivityEventLoginSuccess, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "user-100" {
		t.Fatalf("expected object_id user-100, got %q", out.ObjectID)
	}
	if out.Channel != "tenantauth" {
		t.Fatalf("expected channel tenantauth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["client_id"] != "c-1" {
		t.Fatalf("expected metadata client_id c-1, got %#v", out.Metadata["client_id"])
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "user" {
		t.Fatalf("expected metadata actor_type user, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if out.Metadata[activitymap.MetadataKeyTenantID] != "company-7" {
		t.Fatalf("expected metadata tenant_id company-7, got %#v", out.Metadata[activitymap.MetadataKeyTenantID])
	}
	if out.Metadata[activitymap.MetadataKeyFromState] != string(tenantauth.StatusUnauthenticated) {
		t.Fatalf("expected metadata from_state, got %#v", out.Metadata[activitymap.MetadataKeyFromState])
	}
	if out.Metadata[activitymap.MetadataKeyToState] != string(tenantauth.StatusAuthenticated) {
		t.Fatalf("expected metadata to_state, got %#v", out.Metadata[activitymap.MetadataKeyToState])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	event := tenantauth.ActivityEvent{
		EventType: tenantauth.ActivityEventLogoutFailure,
		Actor:     tenantauth.ActorRef{Type: "user"},
		UserID:    "user-200",
		Metadata: map[string]any{
			"client_id":                      "client-9",
			activitymap.MetadataKeyActorType: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("client"),
		activitymap.WithClock(func() time.Time { return fixed }),
		activitymap.WithObjectIDResolver(func(e tenantauth.ActivityEvent) string {
			if v, ok := e.Metadata["client_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "client" {
		t.Fatalf("expected object_type client, got %q", out.ObjectType)
	}
	if out.ObjectID != "client-9" {
		t.Fatalf("expected object_id client-9, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "existing" {
		t.Fatalf("expected existing actor_type preserved, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if !out.OccurredAt.Equal(fixed) {
		t.Fatalf("expected occurred_at from clock, got %v", out.OccurredAt)
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  tenantauth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  tenantauth.ActivityEvent{Actor: tenantauth.ActorRef{ID: "actor-1"}, UserID: "user-1"},
			expect: "actor-1",
		},
		{
			name:   "uses user id when actor id missing",
			event:  tenantauth.ActivityEvent{Actor: tenantauth.ActorRef{ID: ""}, UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "uses default fallback when actor and user missing",
			event:  tenantauth.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when actor and user missing",
			event:  tenantauth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestNormalizedFields(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(tenantauth.ActivityEvent{
		EventType: tenantauth.ActivityEventEntitlementFailure,
		UserID:    "user-3",
		TenantID:  "company-1",
	})

	fields := out.Fields()
	if len(fields)%2 != 0 {
		t.Fatalf("expected even number of fields, got %d", len(fields))
	}

	found := map[string]any{}
	for i := 0; i < len(fields); i += 2 {
		found[fields[i].(string)] = fields[i+1]
	}
	if found["verb"] != string(tenantauth.ActivityEventEntitlementFailure) {
		t.Fatalf("expected verb field, got %#v", found["verb"])
	}
	if found[activitymap.MetadataKeyTenantID] != "company-1" {
		t.Fatalf("expected tenant_id field, got %#v", found[activitymap.MetadataKeyTenantID])
	}
}
