package tenantauth

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

// SnapshotGate answers feature gate checks from the entitlement snapshot
// carried by the request context. Keys outside the catalog are disabled.
type SnapshotGate struct{}

var _ gate.FeatureGate = SnapshotGate{}

// Enabled implements gate.FeatureGate
func (SnapshotGate) Enabled(ctx context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	feature, err := ParseFeatureKey(key)
	if err != nil {
		return false, nil
	}
	return Can(ctx, feature), nil
}

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return err
	}

	return errors.Wrap(err, errors.CategoryAuthz, "Feature gate check failed").
		WithCode(errors.CodeForbidden)
}

// RequireFeature returns ErrFeatureNotEntitled unless the gate enables key.
// A nil gate falls back to SnapshotGate.
func RequireFeature(ctx context.Context, featureGate gate.FeatureGate, key FeatureKey) error {
	if featureGate == nil {
		featureGate = SnapshotGate{}
	}

	disabled := ErrFeatureNotEntitled.Clone().WithMetadata(map[string]any{
		"feature": key.String(),
	})

	return guard.Require(ctx, featureGate, key.String(),
		guard.WithDisabledError(disabled),
		guard.WithErrorMapper(normalizeFeatureGateError),
	)
}
