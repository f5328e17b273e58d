package repository

import (
	"context"
	"strings"
	"time"

	gorepo "github.com/goliatone/go-repository-bun"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SeedAccount describes a user provisioned into a company with a profile
type SeedAccount struct {
	Email              string
	Password           string
	DisplayName        string
	Company            string
	ProfileType        string
	Features           []string
	SubscriptionStatus string
	ExpiresAt          *time.Time
}

// SeedResult holds the ids of the provisioned rows
type SeedResult struct {
	UserID        uuid.UUID
	CompanyID     uuid.UUID
	ProfileTypeID uuid.UUID
	ProfileID     uuid.UUID
}

// Seed provisions an account in a single transaction. An empty Company
// creates the user only, leaving it unprovisioned.
func Seed(ctx context.Context, db *bun.DB, account SeedAccount) (SeedResult, error) {
	var result SeedResult

	repos := tenantauth.NewRepositoryManager(db)
	if err := repos.Validate(); err != nil {
		return result, err
	}

	err := repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := tenantauth.HashPassword(account.Password)
		if err != nil {
			return err
		}

		user, err := repos.Users().GetOrCreateTx(ctx, tx, &tenantauth.User{
			Email:        account.Email,
			DisplayName:  account.DisplayName,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}
		result.UserID = user.ID

		if strings.TrimSpace(account.Company) == "" {
			return nil
		}

		company, err := repos.Companies().CreateTx(ctx, tx, &tenantauth.Company{
			ID:   uuid.New(),
			Name: account.Company,
		})
		if err != nil {
			return err
		}
		result.CompanyID = company.ID

		membership := &tenantauth.CompanyUser{CompanyID: company.ID, UserID: user.ID}
		if _, err := tx.NewInsert().Model(membership).Exec(ctx); err != nil {
			return err
		}

		if strings.TrimSpace(account.ProfileType) == "" {
			return nil
		}

		profileType, err := profileTypeByName(ctx, repos, tx, account.ProfileType, account.Features)
		if err != nil {
			return err
		}
		result.ProfileTypeID = profileType.ID

		profile, err := repos.Profiles().CreateTx(ctx, tx, &tenantauth.Profile{
			ID:                    uuid.New(),
			UserID:                user.ID,
			CompanyID:             company.ID,
			ProfileTypeID:         profileType.ID,
			SubscriptionStatus:    account.SubscriptionStatus,
			SubscriptionExpiresAt: account.ExpiresAt,
		})
		if err != nil {
			return err
		}
		result.ProfileID = profile.ID

		return nil
	})

	return result, err
}

func profileTypeByName(ctx context.Context, repos tenantauth.RepositoryManager, tx bun.IDB, name string, features []string) (*tenantauth.ProfileType, error) {
	record, err := repos.ProfileTypes().GetByIdentifierTx(ctx, tx, name)
	if err == nil {
		return record, nil
	}
	if !gorepo.IsRecordNotFound(err) {
		return nil, err
	}

	if features == nil {
		features = []string{}
	}
	return repos.ProfileTypes().CreateTx(ctx, tx, &tenantauth.ProfileType{
		ID:       uuid.New(),
		Name:     name,
		Features: features,
	})
}
