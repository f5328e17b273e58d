package tenantauth

import (
	"context"

	"github.com/goliatone/go-router"
)

var stateCtxKey = &contextKey{"session_state"}
var claimsCtxKey = &contextKey{"claims"}

// LocalsStateKey is the Locals key holding the SessionState
const LocalsStateKey = "tenantauth.state"

type contextKey struct {
	name string
}

// WithSessionState sets the SessionState in the given context
func WithSessionState(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// SessionStateFromContext finds the SessionState in the context
func SessionStateFromContext(ctx context.Context) (SessionState, bool) {
	state, ok := ctx.Value(stateCtxKey).(SessionState)
	return state, ok
}

var snapshotCtxKey = &contextKey{"snapshot"}

// WithSnapshot sets a resolved EntitlementSnapshot in the context
func WithSnapshot(ctx context.Context, snap *EntitlementSnapshot) context.Context {
	return context.WithValue(ctx, snapshotCtxKey, snap)
}

// SnapshotFromContext returns the entitlement snapshot carried by the
// context, either through a SessionState or set by EntitlementMiddleware.
func SnapshotFromContext(ctx context.Context) (*EntitlementSnapshot, bool) {
	if state, ok := SessionStateFromContext(ctx); ok && state.Snapshot != nil {
		return state.Snapshot, true
	}
	if snap, ok := ctx.Value(snapshotCtxKey).(*EntitlementSnapshot); ok && snap != nil {
		return snap, true
	}
	return nil, false
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	claims, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return claims, ok && claims != nil
}

// StateFromLocals extracts the SessionState stored by GuardMiddleware
func StateFromLocals(c router.Context) (SessionState, bool) {
	state, ok := c.Locals(LocalsStateKey).(SessionState)
	return state, ok
}

// Can is a convenience check against whatever snapshot the context carries
func Can(ctx context.Context, key FeatureKey) bool {
	snap, _ := SnapshotFromContext(ctx)
	return HasFeature(snap, key)
}
