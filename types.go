package tenantauth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logger used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AuthEvent names a session store change notification
type AuthEvent string

const (
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthStateListener receives session store notifications. A nil session
// means nobody is signed in.
type AuthStateListener func(ctx context.Context, event AuthEvent, session *Session)

// UnsubscribeFunc deregisters a listener. Calling it more than once is safe.
type UnsubscribeFunc func()

// SessionStore is the authentication service the session context consumes.
// GetSession returns nil, nil when there is no session.
type SessionStore interface {
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(listener AuthStateListener) UnsubscribeFunc
}

// EntitlementResolver maps an identity to its tenant and entitlement snapshot
type EntitlementResolver interface {
	Resolve(ctx context.Context, identityID string) (Resolution, error)
}

// Principal is what an IdentityProvider returns for a verified account
type Principal interface {
	ID() string
	Email() string
	DisplayName() string
	AvatarURL() string
}

// IdentityProvider ensure we have a store to retrieve principals
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, identifier, password string) (Principal, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (Principal, error)
}

// TokenStorage persists access tokens per client
type TokenStorage interface {
	Load(ctx context.Context, clientID string) (string, error)
	Save(ctx context.Context, clientID, token string, ttl time.Duration) error
	Delete(ctx context.Context, clientID string) error
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetLoginRoute() string
	GetHomeRoute() string
	GetClientCookieName() string
	GetSessionIdleTTL() time.Duration
	GetGuardSettleTimeout() time.Duration
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] TENANTAUTH " + formatLine(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] TENANTAUTH " + formatLine(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] TENANTAUTH " + formatLine(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] TENANTAUTH " + formatLine(msg, args...))
}

func formatLine(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		b.WriteString(" ")
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, "%v", args[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards everything, mostly useful in tests
func NoopLogger() Logger {
	return noopLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
