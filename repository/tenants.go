package repository

import (
	"context"
	"database/sql"
	"errors"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TenantQueries reads the membership table. When an identity belongs to
// several companies the oldest membership wins, ties broken by company id.
type TenantQueries struct {
	db bun.IDB
}

var _ tenantauth.TenantQuerier = (*TenantQueries)(nil)

// NewTenantQueries creates a new querier
func NewTenantQueries(db bun.IDB) *TenantQueries {
	return &TenantQueries{db: db}
}

// FirstTenant implements tenantauth.TenantQuerier
func (q *TenantQueries) FirstTenant(ctx context.Context, userID string) (tenantauth.TenantRef, bool, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return tenantauth.TenantRef{}, false, nil
	}

	membership := new(tenantauth.CompanyUser)
	err = q.db.NewSelect().
		Model(membership).
		Relation("Company").
		Where("cu.user_id = ?", uid.String()).
		OrderExpr("cu.created_at ASC, cu.company_id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenantauth.TenantRef{}, false, nil
		}
		return tenantauth.TenantRef{}, false, err
	}

	ref := tenantauth.TenantRef{ID: membership.CompanyID.String()}
	if membership.Company != nil {
		ref.Name = membership.Company.Name
	}
	return ref, true, nil
}

// ProfileQueries reads profiles joined with their profile type
type ProfileQueries struct {
	db bun.IDB
}

var _ tenantauth.ProfileQuerier = (*ProfileQueries)(nil)

// NewProfileQueries creates a new querier
func NewProfileQueries(db bun.IDB) *ProfileQueries {
	return &ProfileQueries{db: db}
}

// FindProfile implements tenantauth.ProfileQuerier. The most recent profile
// for the pair is used.
func (q *ProfileQueries) FindProfile(ctx context.Context, userID, tenantID string) (*tenantauth.ProfileRecord, bool, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, false, nil
	}
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, false, nil
	}

	profile := new(tenantauth.Profile)
	err = q.db.NewSelect().
		Model(profile).
		Relation("ProfileType").
		Where("prf.user_id = ?", uid.String()).
		Where("prf.company_id = ?", tid.String()).
		OrderExpr("prf.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return profile.Record(), true, nil
}

// NewResolver wires a CompanyResolver over the bun queriers
func NewResolver(db bun.IDB) *tenantauth.CompanyResolver {
	return tenantauth.NewCompanyResolver(NewTenantQueries(db), NewProfileQueries(db))
}
