package tenantauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims is the read side of an access token
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	ClaimsMetadata() map[string]any
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string         `json:"uid,omitempty"`
	UserEmail string         `json:"email,omitempty"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

func (c *JWTClaims) Email() string {
	return c.UserEmail
}

// ClaimsMetadata exposes the user metadata, display name and avatar
func (c *JWTClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// SessionFromClaims rebuilds a store session from validated claims
func SessionFromClaims(token string, claims AuthClaims) *Session {
	if claims == nil || claims.UserID() == "" {
		return nil
	}

	session := &Session{
		AccessToken: token,
		User: SessionUser{
			ID:       claims.UserID(),
			Email:    claims.Email(),
			Metadata: claims.ClaimsMetadata(),
		},
	}

	if iat := claims.IssuedAt(); !iat.IsZero() {
		session.IssuedAt = &iat
	}
	if exp := claims.Expires(); !exp.IsZero() {
		session.ExpiresAt = &exp
	}

	return session
}
