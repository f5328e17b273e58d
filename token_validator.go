package tenantauth

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates tokens and extracts claims without tying callers
// to a specific signing implementation.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, ErrUnableToDecodeSession
	}
	return f(tokenString)
}

// KeyfuncValidator validates tokens signed by keys resolved through a
// jwt.Keyfunc, typically a remote JWK set.
type KeyfuncValidator struct {
	keyFunc jwt.Keyfunc
	options []jwt.ParserOption
	logger  Logger
}

// NewKeyfuncValidator returns a validator over keyFunc. issuer and audience
// are only checked when not empty.
func NewKeyfuncValidator(keyFunc jwt.Keyfunc, issuer, audience string, logger Logger) *KeyfuncValidator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "ES256", "EdDSA", "HS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &KeyfuncValidator{
		keyFunc: keyFunc,
		options: opts,
		logger:  normalizeLogger(logger),
	}
}

// Validate satisfies the TokenValidator interface.
func (v *KeyfuncValidator) Validate(tokenString string) (AuthClaims, error) {
	if v == nil || v.keyFunc == nil {
		return nil, ErrUnableToDecodeSession
	}
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, v.keyFunc, v.options...)
	return validatedClaims(token, err, v.logger)
}

// MultiTokenValidator tries validators in order until one succeeds.
// It treats ErrTokenMalformed as "try next" and returns the last malformed
// error if all validators fail.
type MultiTokenValidator struct {
	validators []TokenValidator
}

// NewMultiTokenValidator filters nil validators and returns a composite validator.
func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	filtered := make([]TokenValidator, 0, len(validators))
	for _, v := range validators {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiTokenValidator{validators: filtered}
}

// Validate satisfies the TokenValidator interface.
func (m *MultiTokenValidator) Validate(tokenString string) (AuthClaims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		if IsMalformedError(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenMalformed
}
