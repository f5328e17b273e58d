package tenantauth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the account repository
type Users interface {
	repository.Repository[*User]

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	GetOrCreate(ctx context.Context, record *User) (*User, error)
	GetOrCreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// NewUsersRepository returns the bun backed account repository
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)
	return a.Repository.CreateTx(ctx, tx, user)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

// GetByIdentifierTx looks the user up by id or by email, emails compare
// case insensitive
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	for _, opt := range resolveUserIdentifier(identifier) {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	// NOTE: the ORM update skips zero values, so the reset goes through raw SQL
	_, err := tx.NewRaw(`
		UPDATE "users"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			"id" = ?
			AND "deleted_at" IS NULL;
	`, a.now(), user.ID).Exec(ctx)

	return err
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	now := a.now()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("login_attempts = ?", user.LoginAttempts+1).
		Set("login_attempt_at = ?", now).
		Where("id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return err
	}

	user.LoginAttempts++
	user.LoginAttemptAt = &now
	return nil
}

func (a *users) GetOrCreate(ctx context.Context, record *User) (*User, error) {
	return a.GetOrCreateTx(ctx, a.db, record)
}

func (a *users) GetOrCreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	identifier := record.Email
	if record.ID != uuid.Nil {
		identifier = record.ID.String()
	}

	user, err := a.GetByIdentifierTx(ctx, tx, identifier)
	if err == nil {
		return user, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	return a.RegisterTx(ctx, tx, record)
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = strings.ToLower(strings.TrimSpace(record.Email))

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.PasswordHash == "" {
		record.PasswordHash = RandomPasswordHash()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{column: "id", value: trimmed})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{column: "email", value: strings.ToLower(trimmed)})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
