package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = tenantauth.Migrate(context.Background(), db)
	require.NoError(t, err)

	return db
}

func TestTenantQueries_NoMembership(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, db, SeedAccount{
		Email:    "lonely@example.com",
		Password: "password-123",
	})
	require.NoError(t, err)

	ref, found, err := NewTenantQueries(db).FirstTenant(ctx, seeded.UserID.String())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, ref.ID)
}

func TestTenantQueries_InvalidIdentity(t *testing.T) {
	db := setupDB(t)

	_, found, err := NewTenantQueries(db).FirstTenant(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTenantQueries_OldestMembershipWins(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, db, SeedAccount{
		Email:    "multi@example.com",
		Password: "password-123",
		Company:  "Newer Co",
	})
	require.NoError(t, err)

	older := &tenantauth.Company{ID: uuid.New(), Name: "Older Co"}
	_, err = db.NewInsert().Model(older).Exec(ctx)
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour).UTC()
	_, err = db.NewInsert().Model(&tenantauth.CompanyUser{
		CompanyID: older.ID,
		UserID:    seeded.UserID,
		CreatedAt: &past,
	}).Exec(ctx)
	require.NoError(t, err)

	ref, found, err := NewTenantQueries(db).FirstTenant(ctx, seeded.UserID.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, older.ID.String(), ref.ID)
	assert.Equal(t, "Older Co", ref.Name)
}

func TestProfileQueries_FindProfile(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, db, SeedAccount{
		Email:              "owner@example.com",
		Password:           "password-123",
		Company:            "Acme",
		ProfileType:        "growth",
		Features:           []string{"dashboard", "data"},
		SubscriptionStatus: "active",
	})
	require.NoError(t, err)

	record, found, err := NewProfileQueries(db).FindProfile(ctx, seeded.UserID.String(), seeded.CompanyID.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "growth", record.ProfileType)
	assert.ElementsMatch(t, []string{"dashboard", "data"}, record.Features)
	assert.Equal(t, "active", record.SubscriptionStatus)
	assert.Nil(t, record.SubscriptionExpiresAt)
	assert.Equal(t, seeded.CompanyID.String(), record.TenantID)
}

func TestProfileQueries_MissingProfile(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, db, SeedAccount{
		Email:    "member@example.com",
		Password: "password-123",
		Company:  "Acme",
	})
	require.NoError(t, err)

	record, found, err := NewProfileQueries(db).FindProfile(ctx, seeded.UserID.String(), seeded.CompanyID.String())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, record)
}

func TestProfileQueries_QueryFailure(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "DROP TABLE profiles")
	require.NoError(t, err)

	_, found, err := NewProfileQueries(db).FindProfile(ctx, uuid.NewString(), uuid.NewString())
	require.Error(t, err)
	assert.False(t, found)
}

func TestResolver_EndToEnd(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, db, SeedAccount{
		Email:              "owner@example.com",
		Password:           "password-123",
		Company:            "Acme",
		ProfileType:        "starter",
		Features:           []string{"dashboard", "data", "teleport"},
		SubscriptionStatus: "trialing",
	})
	require.NoError(t, err)

	resolver := NewResolver(db).WithLogger(tenantauth.NoopLogger())

	res, err := resolver.Resolve(ctx, seeded.UserID.String())
	require.NoError(t, err)
	require.True(t, res.Provisioned())
	require.NotNil(t, res.Snapshot)

	assert.True(t, res.Snapshot.Has(tenantauth.FeatureDashboard))
	assert.True(t, res.Snapshot.Has(tenantauth.FeatureData))
	assert.False(t, res.Snapshot.Has(tenantauth.FeatureCRM))
	assert.Equal(t, []string{"teleport"}, res.Snapshot.Unrecognized)
}

func TestResolver_QueryFailureIsDataAccessError(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "DROP TABLE company_users")
	require.NoError(t, err)

	_, err = NewResolver(db).WithLogger(tenantauth.NoopLogger()).Resolve(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, tenantauth.IsDataAccessError(err))
}
