package jwtware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	tenantauth "github.com/goliatone/go-tenantauth"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization

	// ErrJWTMissingOrMalformed is returned when no token could be extracted
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT", errors.CategoryBadInput).
		WithTextCode(tenantauth.TextCodeTokenMalformed).
		WithCode(errors.CodeBadRequest)
)

// ValidationListener is invoked after a token has been validated and
// before the request proceeds
type ValidationListener func(c router.Context, claims tenantauth.AuthClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string

	// TokenValidator validates the raw token. When nil one is built from
	// KeyFunc, JWKSetURLs, SigningKeys or SigningKey in that order.
	TokenValidator tenantauth.TokenValidator
	KeyFunc        jwt.Keyfunc
	JWKSetURLs     []string
	SigningKeys    map[string]SigningKey
	SigningKey     SigningKey
	Issuer         string
	Audience       string

	// ContextEnricher propagates the claims into the request user context.
	// Defaults to tenantauth.WithClaimsContext.
	ContextEnricher func(c context.Context, claims tenantauth.AuthClaims) context.Context

	ValidationListeners []ValidationListener

	Logger tenantauth.Logger
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

// New returns a bearer token middleware
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if cfg.Filter != nil && cfg.Filter(c) {
				return c.Next()
			}

			raw, err := ExtractRawToken(c, extractors)
			if err != nil {
				return cfg.ErrorHandler(c, err)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(c, err)
			}

			if err := cfg.runValidationListeners(c, claims); err != nil {
				return cfg.ErrorHandler(c, err)
			}

			c.Locals(cfg.ContextKey, claims)
			c.SetContext(cfg.ContextEnricher(c.Context(), claims))

			return cfg.SuccessHandler(c)
		}
	}
}

// ExtractRawToken returns the first token any extractor finds
func ExtractRawToken(c router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Logger == nil {
		cfg.Logger = tenantauth.NoopLogger()
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c router.Context) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = tenantauth.WithClaimsContext
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.TokenValidator == nil {
		keyFunc, err := cfg.keyFunc()
		if err != nil {
			panic("TENANTAUTH: JWT middleware configuration: " + err.Error())
		}
		cfg.TokenValidator = tenantauth.NewKeyfuncValidator(keyFunc, cfg.Issuer, cfg.Audience, cfg.Logger)
	}

	return cfg
}

func (cfg *Config) keyFunc() (jwt.Keyfunc, error) {
	if cfg.KeyFunc != nil {
		return cfg.KeyFunc, nil
	}

	if len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 {
		if cfg.SigningKey.Key == nil {
			return nil, fmt.Errorf("one of TokenValidator, KeyFunc, JWKSetURLs, SigningKeys or SigningKey is required")
		}
		return signingKeyFunc(cfg.SigningKey), nil
	}

	var givenKeys map[string]keyfunc.GivenKey
	if len(cfg.SigningKeys) > 0 {
		givenKeys = make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
		for kid, key := range cfg.SigningKeys {
			givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
				Algorithm: key.JWTAlg,
			})
		}
	}

	if len(cfg.JWKSetURLs) == 0 {
		return keyfunc.NewGiven(givenKeys).Keyfunc, nil
	}

	return multiKeyfunc(givenKeys, cfg.JWKSetURLs, cfg.Logger)
}

func defaultErrorHandler(c router.Context, err error) error {
	switch {
	case tenantauth.IsTokenExpiredError(err):
		return tenantauth.WriteError(c, tenantauth.ErrTokenExpired)
	case hasCode(err, errors.CodeBadRequest):
		return tenantauth.WriteError(c, err)
	case tenantauth.IsMalformedError(err):
		return tenantauth.WriteError(c, tenantauth.ErrTokenMalformed)
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return tenantauth.WriteError(c, err)
	}
	return tenantauth.WriteError(c, tenantauth.ErrUnableToDecodeSession)
}

func hasCode(err error, code int) bool {
	var richErr *errors.Error
	return errors.As(err, &richErr) && richErr.Code == code
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwkSetURLs []string, logger tenantauth.Logger) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys, logger)
	m := make(map[string]keyfunc.Options, len(jwkSetURLs))
	for _, url := range jwkSetURLs {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK set URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey, logger tenantauth.Logger) keyfunc.Options {
	if logger == nil {
		logger = tenantauth.NoopLogger()
	}
	return keyfunc.Options{
		GivenKeys: givenKeys,
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to do a background refresh of JWK set", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(c router.Context, claims tenantauth.AuthClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(c, claims); err != nil {
			return err
		}
	}
	return nil
}

// GetExtractors parses a lookup like header:Authorization,cookie:jwt,query:token
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "param":
			extractors = append(extractors, jwtFromParam(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg != "" {
			alg, ok := token.Header["alg"].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected JWT signing method: expected %q got: missing json type", key.JWTAlg)
			}
			if alg != key.JWTAlg {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", key.JWTAlg, alg)
			}
		}
		return key.Key, nil
	}
}
