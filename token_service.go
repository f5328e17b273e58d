package tenantauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and validates HS256 access tokens
type TokenService struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
	now             func() time.Time
}

// NewTokenService creates a new TokenService instance. tokenExpiration is
// in hours.
func NewTokenService(signingKey []byte, tokenExpiration int, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenService {
	if tokenExpiration <= 0 {
		tokenExpiration = 24
	}
	return &TokenService{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		logger:          normalizeLogger(logger),
		now:             time.Now,
	}
}

// NewTokenServiceFromConfig wires a TokenService from Config
func NewTokenServiceFromConfig(cfg Config, logger Logger) *TokenService {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
	)
}

// TTL is the lifetime of issued tokens
func (ts *TokenService) TTL() time.Duration {
	return time.Duration(ts.tokenExpiration) * time.Hour
}

// Generate creates a token for the principal and returns its claims
func (ts *TokenService) Generate(principal Principal) (string, *JWTClaims, error) {
	if principal == nil {
		return "", nil, errors.New("principal is required", errors.CategoryBadInput)
	}

	now := ts.now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   principal.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.TTL())),
		},
		UID:       principal.ID(),
		UserEmail: principal.Email(),
		Metadata:  principalMetadata(principal),
	}

	ensureTokenID(&claims.RegisteredClaims)

	token, err := ts.SignClaims(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Refresh re-issues a token for the same user with a fresh expiry
func (ts *TokenService) Refresh(claims AuthClaims) (string, *JWTClaims, error) {
	if claims == nil {
		return "", nil, errors.New("claims must not be nil", errors.CategoryInternal)
	}

	now := ts.now()
	next := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   claims.Subject(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.TTL())),
		},
		UID:       claims.UserID(),
		UserEmail: claims.Email(),
		Metadata:  claims.ClaimsMetadata(),
	}

	ensureTokenID(&next.RegisteredClaims)

	token, err := ts.SignClaims(next)
	if err != nil {
		return "", nil, err
	}
	return token, next, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenService) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 3)
	parserOptions = append(parserOptions, jwt.WithTimeFunc(ts.now))
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	return validatedClaims(token, err, ts.logger)
}

func validatedClaims(token *jwt.Token, err error, logger Logger) (AuthClaims, error) {
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(errors.CodeUnauthorized)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	logger.Error("token validate could not decode or validate claims")
	return nil, ErrUnableToDecodeSession
}

func principalMetadata(principal Principal) map[string]any {
	meta := map[string]any{}
	if name := principal.DisplayName(); name != "" {
		meta["display_name"] = name
	}
	if avatar := principal.AvatarURL(); avatar != "" {
		meta["avatar_url"] = avatar
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil || claims.ID != "" {
		return
	}
	claims.ID = uuid.NewString()
}
