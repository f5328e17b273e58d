// Package config loads the service configuration from a YAML file with
// environment overrides. Auth implements tenantauth.Config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TENANTAUTH_"

type Config struct {
	App         App         `yaml:"app"`
	Server      Server      `yaml:"server"`
	Auth        Auth        `yaml:"auth"`
	Persistence Persistence `yaml:"persistence"`
	Redis       Redis       `yaml:"redis"`
	Kratos      Kratos      `yaml:"kratos"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

type App struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type Server struct {
	Address string `yaml:"address"`
}

type Auth struct {
	SigningKey                   string   `yaml:"signing_key"`
	TokenExpiration              int      `yaml:"token_expiration"`
	Issuer                       string   `yaml:"issuer"`
	Audience                     []string `yaml:"audience"`
	LoginRoute                   string   `yaml:"login_route"`
	HomeRoute                    string   `yaml:"home_route"`
	ClientCookieName             string   `yaml:"client_cookie_name"`
	JWKSURL                      string   `yaml:"jwks_url"`
	SessionIdleTTLExpression     string   `yaml:"session_idle_ttl"`
	GuardSettleTimeoutExpression string   `yaml:"guard_settle_timeout"`
}

type Persistence struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type Redis struct {
	URL string `yaml:"url"`
}

type Kratos struct {
	PublicURL string `yaml:"public_url"`
}

type Telemetry struct {
	OTLPEndpoint     string `yaml:"otlp_endpoint"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

var _ tenantauth.Config = Auth{}

func (a Auth) GetSigningKey() string       { return a.SigningKey }
func (a Auth) GetTokenExpiration() int     { return a.TokenExpiration }
func (a Auth) GetIssuer() string           { return a.Issuer }
func (a Auth) GetAudience() []string       { return a.Audience }
func (a Auth) GetLoginRoute() string       { return a.LoginRoute }
func (a Auth) GetHomeRoute() string        { return a.HomeRoute }
func (a Auth) GetClientCookieName() string { return a.ClientCookieName }

func (a Auth) GetSessionIdleTTL() time.Duration {
	return parseDuration(a.SessionIdleTTLExpression, 30*time.Minute)
}

func (a Auth) GetGuardSettleTimeout() time.Duration {
	return parseDuration(a.GuardSettleTimeoutExpression, 3*time.Second)
}

// Defaults returns a configuration usable for local development
func Defaults() *Config {
	return &Config{
		App: App{
			Name:        "tenantauth",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: Server{
			Address: ":8978",
		},
		Auth: Auth{
			TokenExpiration:              24,
			Issuer:                       "tenantauth",
			Audience:                     []string{"dashboard"},
			LoginRoute:                   "/login",
			HomeRoute:                    "/dashboard",
			ClientCookieName:             tenantauth.DefaultClientCookieName,
			SessionIdleTTLExpression:     "30m",
			GuardSettleTimeoutExpression: "3s",
		},
		Persistence: Persistence{
			Driver: "sqlite",
			DSN:    "file:tenantauth.db?cache=shared",
		},
		Telemetry: Telemetry{
			MetricsNamespace: "dashboard",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// not empty, then .env files, then TENANTAUTH_ environment variables.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.CategoryInternal, "failed to load env file").
				WithMetadata(map[string]any{"path": file})
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	str("APP_ENVIRONMENT", &c.App.Environment)
	str("LOG_LEVEL", &c.App.LogLevel)
	str("SERVER_ADDRESS", &c.Server.Address)
	str("SIGNING_KEY", &c.Auth.SigningKey)
	str("ISSUER", &c.Auth.Issuer)
	str("LOGIN_ROUTE", &c.Auth.LoginRoute)
	str("HOME_ROUTE", &c.Auth.HomeRoute)
	str("CLIENT_COOKIE_NAME", &c.Auth.ClientCookieName)
	str("JWKS_URL", &c.Auth.JWKSURL)
	str("SESSION_IDLE_TTL", &c.Auth.SessionIdleTTLExpression)
	str("GUARD_SETTLE_TIMEOUT", &c.Auth.GuardSettleTimeoutExpression)
	str("DB_DRIVER", &c.Persistence.Driver)
	str("DB_DSN", &c.Persistence.DSN)
	str("REDIS_URL", &c.Redis.URL)
	str("KRATOS_PUBLIC_URL", &c.Kratos.PublicURL)
	str("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if v, ok := lookup(EnvPrefix + "TOKEN_EXPIRATION"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Auth.TokenExpiration = n
		}
	}
	if v, ok := lookup(EnvPrefix + "AUDIENCE"); ok {
		c.Auth.Audience = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "DB_DEBUG"); ok {
		c.Persistence.Debug, _ = strconv.ParseBool(v)
	}
}

// Validate will run validation rules
func (c *Config) Validate() error {
	return validation.Errors{
		"app": validation.ValidateStruct(&c.App,
			validation.Field(&c.App.LogLevel, validation.In("debug", "info", "warn", "error")),
		),
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Address, validation.Required),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.SigningKey, validation.Required, validation.Length(32, 0)),
			validation.Field(&c.Auth.TokenExpiration, validation.Required, validation.Min(1)),
			validation.Field(&c.Auth.LoginRoute, validation.Required),
			validation.Field(&c.Auth.HomeRoute, validation.Required),
			validation.Field(&c.Auth.JWKSURL, is.URL),
			validation.Field(&c.Auth.SessionIdleTTLExpression, validation.By(durationRule)),
			validation.Field(&c.Auth.GuardSettleTimeoutExpression, validation.By(durationRule)),
		),
		"persistence": validation.ValidateStruct(&c.Persistence,
			validation.Field(&c.Persistence.Driver, validation.Required, validation.In("sqlite", "postgres")),
			validation.Field(&c.Persistence.DSN, validation.Required),
		),
		"kratos": validation.ValidateStruct(&c.Kratos,
			validation.Field(&c.Kratos.PublicURL, is.URL),
		),
	}.Filter()
}

func durationRule(value any) error {
	expr, _ := value.(string)
	if expr == "" {
		return nil
	}
	if _, err := time.ParseDuration(expr); err != nil {
		return errors.New("must be a duration like 30s or 5m", errors.CategoryValidation)
	}
	return nil
}

func parseDuration(expr string, fallback time.Duration) time.Duration {
	if expr == "" {
		return fallback
	}
	dur, err := time.ParseDuration(expr)
	if err != nil || dur <= 0 {
		return fallback
	}
	return dur
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
