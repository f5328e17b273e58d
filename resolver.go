package tenantauth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-tenantauth"

// TenantRef binds an identity to the tenant scope of all tenant data access
type TenantRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TenantQuerier reads the membership table. found is false, with a nil
// error, when the identity has no membership.
type TenantQuerier interface {
	FirstTenant(ctx context.Context, userID string) (ref TenantRef, found bool, err error)
}

// ProfileQuerier reads the profile table joined with the profile type
type ProfileQuerier interface {
	FindProfile(ctx context.Context, userID, tenantID string) (record *ProfileRecord, found bool, err error)
}

// Resolution is the outcome of resolving an identity. Both fields may be
// empty for an unprovisioned identity.
type Resolution struct {
	Tenant   TenantRef
	Snapshot *EntitlementSnapshot
}

// Provisioned reports whether a tenant was found
func (r Resolution) Provisioned() bool {
	return r.Tenant.ID != ""
}

// CompanyResolver resolves tenant membership and profile entitlement
type CompanyResolver struct {
	tenants  TenantQuerier
	profiles ProfileQuerier
	logger   Logger
	tracer   trace.Tracer
}

var _ EntitlementResolver = (*CompanyResolver)(nil)

// NewCompanyResolver returns a resolver over the given queriers
func NewCompanyResolver(tenants TenantQuerier, profiles ProfileQuerier) *CompanyResolver {
	return &CompanyResolver{
		tenants:  tenants,
		profiles: profiles,
		logger:   defLogger{},
		tracer:   otel.Tracer(tracerName),
	}
}

func (r *CompanyResolver) WithLogger(logger Logger) *CompanyResolver {
	r.logger = normalizeLogger(logger)
	return r
}

func (r *CompanyResolver) WithTracer(tracer trace.Tracer) *CompanyResolver {
	if tracer != nil {
		r.tracer = tracer
	}
	return r
}

// ResolveTenant returns the first membership of the identity. When several
// memberships exist which one is first depends on the querier ordering.
func (r *CompanyResolver) ResolveTenant(ctx context.Context, identityID string) (TenantRef, bool, error) {
	ctx, span := r.tracer.Start(ctx, "tenantauth.resolve_tenant",
		trace.WithAttributes(attribute.String("identity.id", identityID)),
	)
	defer span.End()

	ref, found, err := r.tenants.FirstTenant(ctx, identityID)
	if err != nil {
		err = dataAccessError(err, "resolve_tenant", map[string]any{"identity_id": identityID})
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant query failed")
		return TenantRef{}, false, err
	}

	span.SetAttributes(attribute.Bool("tenant.found", found))
	if !found {
		return TenantRef{}, false, nil
	}
	span.SetAttributes(attribute.String("tenant.id", ref.ID))

	return ref, true, nil
}

// ResolveProfile returns the profile record for the identity in the tenant
func (r *CompanyResolver) ResolveProfile(ctx context.Context, identityID, tenantID string) (*ProfileRecord, bool, error) {
	ctx, span := r.tracer.Start(ctx, "tenantauth.resolve_profile",
		trace.WithAttributes(
			attribute.String("identity.id", identityID),
			attribute.String("tenant.id", tenantID),
		),
	)
	defer span.End()

	record, found, err := r.profiles.FindProfile(ctx, identityID, tenantID)
	if err != nil {
		err = dataAccessError(err, "resolve_profile", map[string]any{
			"identity_id": identityID,
			"tenant_id":   tenantID,
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile query failed")
		return nil, false, err
	}

	span.SetAttributes(attribute.Bool("profile.found", found))
	if !found || record == nil {
		return nil, false, nil
	}

	return record, true, nil
}

// Resolve runs tenant then profile resolution. An unprovisioned identity
// or a missing profile yields an empty resolution and a nil error.
func (r *CompanyResolver) Resolve(ctx context.Context, identityID string) (Resolution, error) {
	tenant, found, err := r.ResolveTenant(ctx, identityID)
	if err != nil {
		return Resolution{}, err
	}

	if !found {
		r.logger.Debug("identity has no tenant membership", "identity_id", identityID)
		return Resolution{}, nil
	}

	res := Resolution{Tenant: tenant}

	record, found, err := r.ResolveProfile(ctx, identityID, tenant.ID)
	if err != nil {
		return res, err
	}

	if !found {
		r.logger.Debug("identity has no profile in tenant", "identity_id", identityID, "tenant_id", tenant.ID)
		return res, nil
	}

	res.Snapshot = BuildSnapshot(record)
	if len(res.Snapshot.Unrecognized) > 0 {
		r.logger.Warn("profile lists features outside the catalog",
			"identity_id", identityID,
			"tenant_id", tenant.ID,
			"features", res.Snapshot.Unrecognized,
		)
	}

	return res, nil
}

// ResolverFunc adapts a function to EntitlementResolver
type ResolverFunc func(ctx context.Context, identityID string) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, identityID string) (Resolution, error) {
	return f(ctx, identityID)
}
