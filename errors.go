package tenantauth

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeDataAccess             = "DATA_ACCESS_FAILED"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeTooManyLoginAttempts   = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeIdentityNotFound       = "IDENTITY_NOT_FOUND"
	TextCodeSessionStore           = "SESSION_STORE_FAILED"
	TextCodeFeatureNotEntitled     = "FEATURE_NOT_ENTITLED"
	TextCodeUnknownFeature         = "UNKNOWN_FEATURE"
	TextCodeInvalidRouteRequirment = "INVALID_ROUTE_REQUIREMENT"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeEmptyPassword          = "EMPTY_PASSWORD"
	TextCodeAuthentication         = "AUTHENTICATION_FAILED"
	TextCodeRateLimited            = "RATE_LIMITED"
)

// ErrDataAccess is returned when a tenant or profile query fails. A missing
// row is never reported with this error.
var ErrDataAccess = errors.New("tenant data query failed", errors.CategoryInternal).
	WithTextCode(TextCodeDataAccess).
	WithCode(errors.CodeInternal)

// ErrMismatchedHashAndPassword is returned for bad credentials
var ErrMismatchedHashAndPassword = errors.New("Invalid login credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned while an account is cooling down
var ErrTooManyLoginAttempts = errors.New("Too many login attempts, try again later", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyLoginAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrAuthentication is a sign in rejected by the session store. The message
// is replaced with the store's own rejection text.
var ErrAuthentication = errors.New("authentication failed", errors.CategoryAuth).
	WithTextCode(TextCodeAuthentication).
	WithCode(errors.CodeUnauthorized)

// ErrRateLimited is returned when a client submits logins too fast
var ErrRateLimited = errors.New("Too many requests, slow down", errors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(errors.CodeNotFound)

// ErrSessionStore wraps failures talking to the session store
var ErrSessionStore = errors.New("session store request failed", errors.CategoryOperation).
	WithTextCode(TextCodeSessionStore).
	WithCode(errors.CodeInternal)

// ErrFeatureNotEntitled is returned when the current plan lacks a feature
var ErrFeatureNotEntitled = errors.New("feature not included in current plan", errors.CategoryAuthz).
	WithTextCode(TextCodeFeatureNotEntitled).
	WithCode(errors.CodeForbidden)

// ErrUnknownFeature is returned when parsing a key outside the feature catalog
var ErrUnknownFeature = errors.New("unknown feature key", errors.CategoryValidation).
	WithTextCode(TextCodeUnknownFeature).
	WithCode(errors.CodeBadRequest)

// ErrInvalidRouteRequirement flags a route table entry that can never be satisfied
var ErrInvalidRouteRequirement = errors.New("route requirement references an unknown feature", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidRouteRequirment).
	WithCode(errors.CodeBadRequest)

// ErrTokenExpired is returned for expired access tokens
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens we cannot parse
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

func dataAccessError(err error, operation string, metadata map[string]any) error {
	if err == nil {
		return nil
	}
	meta := map[string]any{"operation": operation}
	for k, v := range metadata {
		meta[k] = v
	}
	return errors.Wrap(err, errors.CategoryInternal, ErrDataAccess.Message).
		WithTextCode(TextCodeDataAccess).
		WithCode(errors.CodeInternal).
		WithMetadata(meta)
}

// SessionStoreError wraps a session store transport failure. Rich errors
// pass through unchanged.
func SessionStoreError(err error, operation string) error {
	if err == nil {
		return nil
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return err
	}
	return errors.Wrap(err, errors.CategoryOperation, ErrSessionStore.Message).
		WithTextCode(TextCodeSessionStore).
		WithCode(errors.CodeInternal).
		WithMetadata(map[string]any{"operation": operation})
}

// AuthenticationError builds an ErrAuthentication carrying the store message
func AuthenticationError(message string, source error) error {
	err := ErrAuthentication.Clone()
	if message = strings.TrimSpace(message); message != "" {
		err.Message = message
	}
	err.Source = source
	return err
}

// IsDataAccessError reports whether err came from a failed tenant query
func IsDataAccessError(err error) bool {
	return hasTextCode(err, TextCodeDataAccess)
}

// IsSessionStoreError reports whether err came from the session store transport
func IsSessionStoreError(err error) bool {
	return hasTextCode(err, TextCodeSessionStore)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// ErrorMessage returns the message suitable for showing to a user
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
