package tenantauth

import (
	"fmt"
	"strings"
	"time"
)

// SessionUser is the user record attached to a store session
type SessionUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is what the session store hands back after sign in
type Session struct {
	AccessToken string      `json:"access_token,omitempty"`
	IssuedAt    *time.Time  `json:"issued_at,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	User        SessionUser `json:"user"`
}

// HasUser reports whether the session carries a user
func (s *Session) HasUser() bool {
	return s != nil && s.User.ID != ""
}

func (s Session) String() string {
	exp := "<nil>"
	if s.ExpiresAt != nil {
		exp = s.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf("user=%s email=%s exp=%s", s.User.ID, s.User.Email, exp)
}

// Identity is the signed in actor as seen by the dashboard
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

var displayNameKeys = []string{"display_name", "full_name", "name"}

// IdentityFromSession derives the Identity of a session user. The name
// falls back to the email local part and the email to an empty string.
func IdentityFromSession(session *Session) *Identity {
	if !session.HasUser() {
		return nil
	}

	user := session.User
	identity := &Identity{
		ID:        user.ID,
		Email:     user.Email,
		Name:      metadataString(user.Metadata, displayNameKeys...),
		AvatarURL: metadataString(user.Metadata, "avatar_url"),
	}

	if identity.Name == "" {
		identity.Name = emailLocalPart(user.Email)
	}

	return identity
}

func metadataString(meta map[string]any, keys ...string) string {
	if meta == nil {
		return ""
	}
	for _, key := range keys {
		if v, ok := meta[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func emailLocalPart(email string) string {
	if email == "" {
		return ""
	}
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
