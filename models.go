package tenantauth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account model backing LocalSessionStore
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName    string         `bun:"display_name" json:"display_name,omitempty"`
	AvatarURL      string         `bun:"avatar_url" json:"avatar_url,omitempty"`
	PasswordHash   string         `bun:"password_hash" json:"-"`
	LoginAttempts  int            `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time     `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// Company is a tenant
type Company struct {
	bun.BaseModel `bun:"table:companies,alias:cmp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// CompanyUser is a membership row binding a user to a company
type CompanyUser struct {
	bun.BaseModel `bun:"table:company_users,alias:cu"`
	CompanyID     uuid.UUID  `bun:"company_id,pk,type:uuid" json:"company_id"`
	UserID        uuid.UUID  `bun:"user_id,pk,type:uuid" json:"user_id"`
	Company       *Company   `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// ProfileType is a subscription tier and the features it grants
type ProfileType struct {
	bun.BaseModel `bun:"table:profile_types,alias:pt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull,unique" json:"name"`
	Features      []string   `bun:"features" json:"features"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Profile binds a user in a company to a profile type and subscription
type Profile struct {
	bun.BaseModel         `bun:"table:profiles,alias:prf"`
	ID                    uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID                uuid.UUID    `bun:"user_id,notnull,type:uuid" json:"user_id"`
	CompanyID             uuid.UUID    `bun:"company_id,notnull,type:uuid" json:"company_id"`
	ProfileTypeID         uuid.UUID    `bun:"profile_type_id,notnull,type:uuid" json:"profile_type_id"`
	ProfileType           *ProfileType `bun:"rel:belongs-to,join:profile_type_id=id" json:"profile_type,omitempty"`
	SubscriptionStatus    string       `bun:"subscription_status" json:"subscription_status"`
	SubscriptionExpiresAt *time.Time   `bun:"subscription_expires_at,nullzero" json:"subscription_expires_at,omitempty"`
	CreatedAt             *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt             *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Record flattens the profile and its type into a ProfileRecord
func (p *Profile) Record() *ProfileRecord {
	if p == nil {
		return nil
	}
	record := &ProfileRecord{
		UserID:             p.UserID.String(),
		TenantID:           p.CompanyID.String(),
		SubscriptionStatus: p.SubscriptionStatus,
	}
	if p.SubscriptionExpiresAt != nil {
		exp := *p.SubscriptionExpiresAt
		record.SubscriptionExpiresAt = &exp
	}
	if p.ProfileType != nil {
		record.ProfileType = p.ProfileType.Name
		if p.ProfileType.Features != nil {
			record.Features = append([]string{}, p.ProfileType.Features...)
		}
	}
	return record
}

// userPrincipal exposes a User as a Principal
type userPrincipal struct {
	id          string
	email       string
	displayName string
	avatarURL   string
}

func (p userPrincipal) ID() string          { return p.id }
func (p userPrincipal) Email() string       { return p.email }
func (p userPrincipal) DisplayName() string { return p.displayName }
func (p userPrincipal) AvatarURL() string   { return p.avatarURL }

var _ Principal = userPrincipal{}

// PrincipalFromUser adapts a User
func PrincipalFromUser(user *User) Principal {
	if user == nil {
		return nil
	}
	return userPrincipal{
		id:          user.ID.String(),
		email:       strings.ToLower(user.Email),
		displayName: user.DisplayName,
		avatarURL:   user.AvatarURL,
	}
}
