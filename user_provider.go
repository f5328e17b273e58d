package tenantauth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// UserTracker is a store we can use to retrieve users
type UserTracker interface {
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// MaxLoginAttempts is the maximun number of attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = 24 * time.Hour

// UserProvider verifies credentials against the users table
type UserProvider struct {
	store  UserTracker
	logger Logger
	now    func() time.Time
}

var _ IdentityProvider = (*UserProvider)(nil)

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker) *UserProvider {
	return &UserProvider{
		store:  store,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = normalizeLogger(l)
	return u
}

// VerifyIdentity will find the user, compare to the password, and return
// the principal. Unknown accounts and bad passwords return the same error.
func (u *UserProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Principal, error) {
	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user == nil {
		return nil, ErrMismatchedHashAndPassword
	}

	if user.LoginAttemptAt != nil && !IsWithinThresholdPeriod(*user.LoginAttemptAt, CoolDownPeriod, u.now()) {
		user.LoginAttempts = 0
	}

	//if we have too many attempts in the given window, cool off!
	if user.LoginAttempts >= MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := u.store.TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}
		return nil, ErrMismatchedHashAndPassword
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	return PrincipalFromUser(user), nil
}

// FindIdentityByIdentifier returns the principal for an id or email
func (u *UserProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}

	if user == nil {
		return nil, ErrIdentityNotFound
	}

	return PrincipalFromUser(user), nil
}

// IsWithinThresholdPeriod checks if t happened less than period before now
func IsWithinThresholdPeriod(t time.Time, period time.Duration, now time.Time) bool {
	return t.After(now.Add(-period))
}
