package tenantauth

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/goliatone/go-errors"
)

// DefaultRouteRequirements maps a top level path segment to the feature
// needed to view it. Paths outside the table only need a signed in identity.
var DefaultRouteRequirements = RouteRequirements{
	"pr":           FeaturePR,
	"investors":    FeatureInvestors,
	"data":         FeatureData,
	"crm":          FeatureCRM,
	"social-media": FeatureSocialMedia,
	"finance":      FeatureFinance,
	"analytics":    FeatureAnalytics,
	"hr":           FeatureHR,
	"tools":        FeatureTools,
	"calendar":     FeatureCalendar,
	"management":   FeatureManagement,
	"community":    FeatureCommunity,
	"settings":     FeatureSettings,
	"inbox":        FeatureInbox,
	"gpt":          FeatureGPT,
	"chats":        FeatureChats,
	"advisor":      FeatureAdvisor,
	"dashboard":    FeatureDashboard,
}

// RouteRequirements is keyed by top level path segment
type RouteRequirements map[string]FeatureKey

// Validate checks every entry references a catalog feature. Segments match
// case insensitively, so two entries differing only in case are rejected.
func (r RouteRequirements) Validate() error {
	var invalid []string
	seen := make(map[string]string, len(r))
	for segment, key := range r {
		if strings.TrimSpace(segment) == "" || strings.Contains(segment, "/") || !key.IsValid() {
			invalid = append(invalid, fmt.Sprintf("%s=%s", segment, key))
			continue
		}
		folded := strings.ToLower(segment)
		if other, dup := seen[folded]; dup {
			invalid = append(invalid, fmt.Sprintf("%s=%s (duplicates %s)", segment, key, other))
			continue
		}
		seen[folded] = segment
	}
	if len(invalid) == 0 {
		return nil
	}
	sort.Strings(invalid)
	return ErrInvalidRouteRequirement.Clone().WithMetadata(map[string]any{
		"entries": invalid,
	})
}

// Segments returns the table keys sorted
func (r RouteRequirements) Segments() []string {
	out := make([]string, 0, len(r))
	for segment := range r {
		out = append(out, segment)
	}
	sort.Strings(out)
	return out
}

// Decision is what the guard tells the caller to render
type Decision string

const (
	DecisionLoading  Decision = "loading"
	DecisionRedirect Decision = "redirect"
	DecisionAllow    Decision = "allow"
	DecisionUpgrade  Decision = "upgrade"
)

// Evaluation is the result of a guard check. Redirect is only set for
// DecisionRedirect, Feature only when a requirement applied.
type Evaluation struct {
	Decision Decision   `json:"decision"`
	Path     string     `json:"path"`
	Redirect string     `json:"redirect,omitempty"`
	Feature  FeatureKey `json:"feature,omitempty"`
}

// DecisionHook observes every evaluation, metrics use it
type DecisionHook func(Evaluation)

// RouteGuard decides per navigation whether to render, redirect or
// substitute the upgrade view
type RouteGuard struct {
	requirements RouteRequirements
	loginRoute   string
	hooks        []DecisionHook
}

// RouteGuardOption configures a RouteGuard
type RouteGuardOption func(*RouteGuard)

// WithRequirements replaces the default route table
func WithRequirements(requirements RouteRequirements) RouteGuardOption {
	return func(g *RouteGuard) {
		g.requirements = requirements
	}
}

// WithLoginRoute sets the redirect target for anonymous visitors
func WithLoginRoute(route string) RouteGuardOption {
	return func(g *RouteGuard) {
		if route != "" {
			g.loginRoute = route
		}
	}
}

// WithDecisionHook registers an observer for evaluations
func WithDecisionHook(hook DecisionHook) RouteGuardOption {
	return func(g *RouteGuard) {
		if hook != nil {
			g.hooks = append(g.hooks, hook)
		}
	}
}

// NewRouteGuard validates the route table against the feature catalog so
// a typo fails at startup instead of silently denying a page.
func NewRouteGuard(opts ...RouteGuardOption) (*RouteGuard, error) {
	g := &RouteGuard{
		requirements: DefaultRouteRequirements,
		loginRoute:   "/login",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if err := g.requirements.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid route requirements").
			WithTextCode(TextCodeInvalidRouteRequirment)
	}

	table := make(RouteRequirements, len(g.requirements))
	for segment, key := range g.requirements {
		table[strings.ToLower(segment)] = key
	}
	g.requirements = table

	return g, nil
}

// MustRouteGuard panics if the table is invalid
func MustRouteGuard(opts ...RouteGuardOption) *RouteGuard {
	g, err := NewRouteGuard(opts...)
	if err != nil {
		panic(err)
	}
	return g
}

// LoginRoute is the redirect target for anonymous visitors
func (g *RouteGuard) LoginRoute() string {
	return g.loginRoute
}

// Requirements returns a copy of the route table
func (g *RouteGuard) Requirements() RouteRequirements {
	out := make(RouteRequirements, len(g.requirements))
	for segment, key := range g.requirements {
		out[segment] = key
	}
	return out
}

// RequirementFor returns the feature the path needs, matched on its top
// level segment. Matching ignores case, the HTTP router does too.
func (g *RouteGuard) RequirementFor(path string) (FeatureKey, bool) {
	key, ok := g.requirements[topSegment(path)]
	return key, ok
}

// Evaluate never fails. Pending state renders loading, no identity
// redirects to the login route without remembering the requested path, and
// a missing feature renders the upgrade view in place of the content.
func (g *RouteGuard) Evaluate(path string, state SessionState) Evaluation {
	eval := g.evaluate(path, state)
	for _, hook := range g.hooks {
		hook(eval)
	}
	return eval
}

func (g *RouteGuard) evaluate(path string, state SessionState) Evaluation {
	eval := Evaluation{Path: path}

	if !state.Settled() {
		eval.Decision = DecisionLoading
		return eval
	}

	if !state.Authenticated() {
		eval.Decision = DecisionRedirect
		eval.Redirect = g.loginRoute
		return eval
	}

	key, ok := g.RequirementFor(path)
	if !ok {
		eval.Decision = DecisionAllow
		return eval
	}
	eval.Feature = key

	if !HasFeature(state.Snapshot, key) {
		eval.Decision = DecisionUpgrade
		return eval
	}

	eval.Decision = DecisionAllow
	return eval
}

func topSegment(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	return strings.ToLower(path)
}
