package tenantauth_test

import (
	"testing"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledState(features ...string) tenantauth.SessionState {
	state := tenantauth.SessionState{
		Status:   tenantauth.StatusAuthenticatedNoEntitlement,
		Identity: &tenantauth.Identity{ID: "user-1", Name: "Ana"},
	}
	if features != nil {
		state.Status = tenantauth.StatusAuthenticated
		state.Tenant = &tenantauth.TenantRef{ID: "tenant-1"}
		state.Snapshot = tenantauth.BuildSnapshot(&tenantauth.ProfileRecord{
			ProfileType: "growth",
			Features:    features,
		})
	}
	return state
}

func TestRouteGuard_Evaluate(t *testing.T) {
	guard := tenantauth.MustRouteGuard()

	tests := []struct {
		name     string
		path     string
		state    tenantauth.SessionState
		decision tenantauth.Decision
		redirect string
		feature  tenantauth.FeatureKey
	}{
		{
			name:     "loading while bootstrap runs",
			path:     "/crm",
			state:    tenantauth.SessionState{Status: tenantauth.StatusUnauthenticated, Loading: true},
			decision: tenantauth.DecisionLoading,
		},
		{
			name:     "loading while resolution runs",
			path:     "/crm",
			state:    tenantauth.SessionState{Status: tenantauth.StatusAuthenticating, Identity: &tenantauth.Identity{ID: "u"}},
			decision: tenantauth.DecisionLoading,
		},
		{
			name:     "anonymous is sent to login",
			path:     "/finance/reports?year=2025",
			state:    tenantauth.SessionState{Status: tenantauth.StatusUnauthenticated},
			decision: tenantauth.DecisionRedirect,
			redirect: "/login",
		},
		{
			name:     "unguarded path only needs identity",
			path:     "/profile",
			state:    settledState(),
			decision: tenantauth.DecisionAllow,
		},
		{
			name:     "held feature renders",
			path:     "/crm/contacts/42",
			state:    settledState("crm"),
			decision: tenantauth.DecisionAllow,
			feature:  tenantauth.FeatureCRM,
		},
		{
			name:     "missing feature renders upgrade",
			path:     "/finance",
			state:    settledState("crm"),
			decision: tenantauth.DecisionUpgrade,
			feature:  tenantauth.FeatureFinance,
		},
		{
			name:     "unprovisioned identity gets upgrade on guarded paths",
			path:     "/dashboard",
			state:    settledState(),
			decision: tenantauth.DecisionUpgrade,
			feature:  tenantauth.FeatureDashboard,
		},
		{
			name:     "segment match is exact",
			path:     "/crmx",
			state:    settledState(),
			decision: tenantauth.DecisionAllow,
		},
		{
			name:     "hyphenated segment",
			path:     "/social-media/posts",
			state:    settledState("social-media"),
			decision: tenantauth.DecisionAllow,
			feature:  tenantauth.FeatureSocialMedia,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := guard.Evaluate(tt.path, tt.state)
			assert.Equal(t, tt.decision, eval.Decision)
			assert.Equal(t, tt.redirect, eval.Redirect)
			assert.Equal(t, tt.feature, eval.Feature)
			assert.Equal(t, tt.path, eval.Path)
		})
	}
}

func TestRouteGuard_DefaultTableCoversCatalog(t *testing.T) {
	guard := tenantauth.MustRouteGuard()
	requirements := guard.Requirements()

	require.NoError(t, requirements.Validate())
	assert.Len(t, requirements, len(tenantauth.AllFeatures()))

	for _, key := range tenantauth.AllFeatures() {
		got, ok := guard.RequirementFor("/" + key.String())
		require.True(t, ok, key)
		assert.Equal(t, key, got)
	}
}

func TestRouteGuard_InvalidTable(t *testing.T) {
	_, err := tenantauth.NewRouteGuard(tenantauth.WithRequirements(tenantauth.RouteRequirements{
		"crm":     tenantauth.FeatureCRM,
		"billing": tenantauth.FeatureKey("billing"),
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid route requirements")

	assert.Panics(t, func() {
		tenantauth.MustRouteGuard(tenantauth.WithRequirements(tenantauth.RouteRequirements{
			"a/b": tenantauth.FeatureCRM,
		}))
	})
}

func TestRouteGuard_CustomTableAndLoginRoute(t *testing.T) {
	requirements := tenantauth.RouteRequirements{"reports": tenantauth.FeatureAnalytics}
	guard := tenantauth.MustRouteGuard(
		tenantauth.WithRequirements(requirements),
		tenantauth.WithLoginRoute("/auth/sign-in"),
	)

	requirements["crm"] = tenantauth.FeatureCRM
	_, ok := guard.RequirementFor("/crm")
	assert.False(t, ok, "guard keeps its own copy of the table")

	eval := guard.Evaluate("/reports", tenantauth.SessionState{Status: tenantauth.StatusUnauthenticated})
	assert.Equal(t, "/auth/sign-in", eval.Redirect)
	assert.Equal(t, "/auth/sign-in", guard.LoginRoute())
}

func TestRouteGuard_DecisionHook(t *testing.T) {
	var seen []tenantauth.Evaluation
	guard := tenantauth.MustRouteGuard(tenantauth.WithDecisionHook(func(e tenantauth.Evaluation) {
		seen = append(seen, e)
	}))

	guard.Evaluate("/crm", settledState("crm"))
	guard.Evaluate("/hr", settledState("crm"))

	require.Len(t, seen, 2)
	assert.Equal(t, tenantauth.DecisionAllow, seen[0].Decision)
	assert.Equal(t, tenantauth.DecisionUpgrade, seen[1].Decision)
	assert.Equal(t, tenantauth.FeatureHR, seen[1].Feature)
}

func TestRouteGuard_SegmentsMatchIgnoringCase(t *testing.T) {
	guard := tenantauth.MustRouteGuard()
	state := settledState("dashboard", "data")

	for _, path := range []string{"/crm", "/CRM", "/Crm/deals", "//cRm?tab=1", "/%43RM"} {
		eval := guard.Evaluate(path, state)
		assert.Equal(t, tenantauth.DecisionUpgrade, eval.Decision, path)
		assert.Equal(t, tenantauth.FeatureCRM, eval.Feature, path)
	}

	assert.Equal(t, tenantauth.DecisionAllow, guard.Evaluate("/DATA/sets", state).Decision)

	custom := tenantauth.MustRouteGuard(tenantauth.WithRequirements(tenantauth.RouteRequirements{
		"Reports": tenantauth.FeatureAnalytics,
	}))
	key, ok := custom.RequirementFor("/reports")
	require.True(t, ok)
	assert.Equal(t, tenantauth.FeatureAnalytics, key)
}

func TestRouteGuard_CaseDuplicatesAreInvalid(t *testing.T) {
	err := tenantauth.RouteRequirements{
		"crm": tenantauth.FeatureCRM,
		"CRM": tenantauth.FeatureFinance,
	}.Validate()
	require.Error(t, err)
}
