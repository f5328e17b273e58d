package tenantauth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Companies() repository.Repository[*Company]
	ProfileTypes() repository.Repository[*ProfileType]
	Profiles() repository.Repository[*Profile]
}

func NewCompaniesRepository(db *bun.DB) repository.Repository[*Company] {
	handlers := repository.ModelHandlers[*Company]{
		NewRecord: func() *Company {
			return &Company{}
		},
		GetID: func(record *Company) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Company, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "name"
		},
	}
	return repository.NewRepository(db, handlers)
}

func NewProfileTypesRepository(db *bun.DB) repository.Repository[*ProfileType] {
	handlers := repository.ModelHandlers[*ProfileType]{
		NewRecord: func() *ProfileType {
			return &ProfileType{}
		},
		GetID: func(record *ProfileType) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *ProfileType, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "name"
		},
	}
	return repository.NewRepository(db, handlers)
}

func NewProfilesRepository(db *bun.DB) repository.Repository[*Profile] {
	handlers := repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile {
			return &Profile{}
		},
		GetID: func(record *Profile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Profile, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db           *bun.DB
	users        Users
	companies    repository.Repository[*Company]
	profileTypes repository.Repository[*ProfileType]
	profiles     repository.Repository[*Profile]
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		users:        NewUsersRepository(db),
		companies:    NewCompaniesRepository(db),
		profileTypes: NewProfileTypesRepository(db),
		profiles:     NewProfilesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.companies == nil {
		return errors.New("repository companies should be initialized")
	}

	if m.profileTypes == nil {
		return errors.New("repository profileTypes should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Companies() repository.Repository[*Company] {
	return m.companies
}

func (m mngr) ProfileTypes() repository.Repository[*ProfileType] {
	return m.profileTypes
}

func (m mngr) Profiles() repository.Repository[*Profile] {
	return m.profiles
}
