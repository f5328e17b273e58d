package app

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/goliatone/go-tenantauth/middleware/jwtware"
)

// PageView is the placeholder content of a guarded dashboard page
type PageView struct {
	Path        string   `json:"path"`
	TenantID    string   `json:"tenant_id,omitempty"`
	ProfileType string   `json:"profile_type,omitempty"`
	Features    []string `json:"features"`
}

// APIIdentityView is returned by GET /api/me
type APIIdentityView struct {
	UserID   string   `json:"user_id"`
	Email    string   `json:"email,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
	Features []string `json:"features"`
}

// WithHTTPServer mounts the auth endpoints, the bearer token API, metrics and
// the guarded dashboard pages
func WithHTTPServer(_ context.Context, app *App) error {
	if app.registry == nil || app.guard == nil {
		return errors.New("sessions must be configured before the http server", errors.CategoryInternal)
	}
	authCfg := app.config.Auth

	var httpApp *fiber.App
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		httpApp = router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               app.config.App.Name,
			DisableStartupMessage: true,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				var fiberErr *fiber.Error
				if errors.As(err, &fiberErr) {
					return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
				}
				app.logger.Error("unhandled request error", "path", c.Path(), "error", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
			},
		}))
		httpApp.Use(recover.New())
		httpApp.Use(requestid.New())
		if app.metrics != nil {
			httpApp.Get("/metrics", app.metrics.Handler()).Name("metrics")
		}
		return httpApp
	})
	if httpApp == nil {
		return errors.New("router adapter did not build the fiber app", errors.CategoryInternal)
	}

	r := srv.Router()

	r.Get("/healthz", func(c router.Context) error {
		if err := app.bunDB.PingContext(c.Context()); err != nil {
			return c.JSON(fiber.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(router.StatusOK, map[string]string{"status": "ok"})
	}).SetName("healthz")

	app.auth = tenantauth.RegisterAuthRoutes(r,
		tenantauth.WithRegistry(app.registry),
		tenantauth.WithControllerLogger(app.logger),
		tenantauth.WithClientCookieName(authCfg.GetClientCookieName()),
		tenantauth.WithRoutes(tenantauth.AuthControllerRoutes{
			Login: authCfg.GetLoginRoute(),
			Home:  authCfg.GetHomeRoute(),
		}),
		tenantauth.WithDebug(app.config.App.Environment == "development"),
	)

	validator, err := app.apiTokenValidator()
	if err != nil {
		return err
	}

	bearer := jwtware.New(jwtware.Config{
		TokenValidator: validator,
		Logger:         app.logger,
	})
	entitled := tenantauth.EntitlementMiddleware(app.resolver, app.logger)

	api := r.Group("/api")
	api.Get("/me", apiIdentity, bearer, entitled).SetName("api.me")
	for _, segment := range app.guard.Requirements().Segments() {
		key, _ := app.guard.RequirementFor("/" + segment)
		api.Get("/"+segment, apiSection, bearer, entitled, tenantauth.FeatureRequired(nil, key)).
			SetName("api." + segment)
	}

	r.Get("/*", renderPage, tenantauth.GuardMiddleware(app.registry, app.guard, tenantauth.GuardConfig{
		ClientCookieName: authCfg.GetClientCookieName(),
		SettleTimeout:    authCfg.GetGuardSettleTimeout(),
		Logger:           app.logger,
	})).SetName("pages")

	app.srv = srv
	app.httpApp = httpApp
	return nil
}

// apiTokenValidator accepts tokens minted by this service and, when a JWKS
// URL is configured, tokens from the external issuer
func (a *App) apiTokenValidator() (tenantauth.TokenValidator, error) {
	jwksURL := a.config.Auth.JWKSURL
	if jwksURL == "" {
		return a.tokens, nil
	}

	audience := ""
	if aud := a.config.Auth.GetAudience(); len(aud) > 0 {
		audience = aud[0]
	}

	remote := jwtware.GetDefaultConfig(jwtware.Config{
		JWKSetURLs: []string{jwksURL},
		Audience:   audience,
		Logger:     a.logger,
	}).TokenValidator

	return tenantauth.NewMultiTokenValidator(a.tokens, remote), nil
}

func renderPage(c router.Context) error {
	state, _ := tenantauth.StateFromLocals(c)
	view := PageView{
		Path:     c.Path(),
		TenantID: state.TenantID(),
		Features: state.Snapshot.FeatureList(),
	}
	if state.Snapshot != nil {
		view.ProfileType = state.Snapshot.ProfileType
	}
	return c.JSON(router.StatusOK, view)
}

func apiIdentity(c router.Context) error {
	claims, _ := tenantauth.GetClaims(c.Context())
	snapshot, _ := tenantauth.SnapshotFromContext(c.Context())

	tenantID, _ := c.Locals(tenantauth.LocalsTenantKey).(string)
	return c.JSON(router.StatusOK, APIIdentityView{
		UserID:   claims.UserID(),
		Email:    claims.Email(),
		TenantID: tenantID,
		Features: snapshot.FeatureList(),
	})
}

func apiSection(c router.Context) error {
	tenantID, _ := c.Locals(tenantauth.LocalsTenantKey).(string)
	return c.JSON(router.StatusOK, map[string]string{
		"section":   strings.TrimPrefix(c.Path(), "/api/"),
		"tenant_id": tenantID,
	})
}
