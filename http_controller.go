package tenantauth

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// RegisterAuthRoutes mounts the login, logout and session endpoints
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")
	app.Post(controller.Routes.Logout, controller.LogOut).SetName("sign-out.post")

	app.Get(controller.Routes.Session, controller.SessionShow).SetName("session.get")

	return controller
}

type AuthControllerRoutes struct {
	Login   string
	Logout  string
	Session string
	Home    string
}

type AuthController struct {
	Debug            bool
	Logger           Logger
	Registry         *SessionRegistry
	Routes           *AuthControllerRoutes
	ClientCookieName string
	Limiter          *LoginLimiter
	LimitKey         func(c router.Context) string
	ErrorHandler     func(c router.Context, err error) error
}

type AuthControllerOption func(*AuthController) *AuthController

// WithRegistry sets the session registry the controller drives
func WithRegistry(registry *SessionRegistry) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Registry = registry
		return a
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Logger = normalizeLogger(logger)
		return a
	}
}

// WithRoutes overrides the default route paths
func WithRoutes(routes AuthControllerRoutes) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if routes.Login != "" {
			a.Routes.Login = routes.Login
		}
		if routes.Logout != "" {
			a.Routes.Logout = routes.Logout
		}
		if routes.Session != "" {
			a.Routes.Session = routes.Session
		}
		if routes.Home != "" {
			a.Routes.Home = routes.Home
		}
		return a
	}
}

// WithClientCookieName sets the cookie identifying a browser client
func WithClientCookieName(name string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if name != "" {
			a.ClientCookieName = name
		}
		return a
	}
}

// WithLoginLimiter sets the login rate limiter
func WithLoginLimiter(limiter *LoginLimiter) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Limiter = limiter
		return a
	}
}

// WithLimitKey sets how login attempts are grouped for rate limiting.
// Defaults to the remote IP.
func WithLimitKey(fn func(c router.Context) string) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if fn != nil {
			a.LimitKey = fn
		}
		return a
	}
}

// WithDebug dumps login payloads, never use in production
func WithDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:           defLogger{},
		ClientCookieName: DefaultClientCookieName,
		ErrorHandler:     WriteError,
		LimitKey:         remoteIP,
		Routes: &AuthControllerRoutes{
			Login:   "/login",
			Logout:  "/logout",
			Session: "/session",
			Home:    "/dashboard",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Registry == nil {
		panic("Missing SessionRegistry in auth controller...")
	}

	if c.Limiter == nil {
		c.Limiter = NewLoginLimiter(rate.Every(time.Second), 5)
	}

	return c
}

// LoginView is the sign in form view model
type LoginView struct {
	Email      string            `json:"email,omitempty"`
	Error      string            `json:"error,omitempty"`
	Validation map[string]string `json:"validation,omitempty"`
	Loading    bool              `json:"loading"`
}

func (a *AuthController) LoginShow(c router.Context) error {
	return c.JSON(router.StatusOK, LoginView{})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// LoginPost signs the client in. A rejected login keeps the form active and
// carries the store message inline. Attempts are throttled before a client
// id is issued, so throttled requests never allocate a session context.
func (a *AuthController) LoginPost(c router.Context) error {
	if !a.Limiter.Allow(a.LimitKey(c)) {
		c.SetHeader(HeaderRetryAfter, strconv.Itoa(a.Limiter.RetryAfter()))
		return a.ErrorHandler(c, ErrRateLimited)
	}

	payload := new(LoginRequest)
	if err := c.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, LoginView{
			Error: "Failed to parse form",
		})
	}

	if err := payload.Validate(); err != nil {
		return c.JSON(router.StatusBadRequest, LoginView{
			Email:      payload.Email,
			Validation: FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		a.Logger.Debug("auth login", "payload", print.MaybePrettyJSON(map[string]string{
			"email": payload.Email,
		}))
	}

	clientID := ClientID(c, a.ClientCookieName)
	session := a.Registry.Get(c.Context(), clientID)
	state := session.Login(c.Context(), payload.Email, payload.Password)

	if state.Error != "" || !state.Authenticated() {
		return c.JSON(router.StatusUnauthorized, LoginView{
			Email:   payload.Email,
			Error:   state.Error,
			Loading: state.Loading,
		})
	}

	if acceptsJSON(c) {
		return c.JSON(router.StatusOK, NewSessionView(state))
	}

	return c.Redirect(a.Routes.Home, router.StatusSeeOther)
}

func (a *AuthController) LogOut(c router.Context) error {
	clientID := ClientID(c, a.ClientCookieName)
	if session, ok := a.Registry.Lookup(clientID); ok {
		session.Logout(c.Context())
	}

	if acceptsJSON(c) {
		if session, ok := a.Registry.Lookup(clientID); ok {
			return c.JSON(router.StatusOK, NewSessionView(session.State()))
		}
		return c.JSON(router.StatusOK, NewSessionView(SessionState{Status: StatusUnauthenticated}))
	}

	return c.Redirect(a.Routes.Login, router.StatusSeeOther)
}

// SessionView is the read only session view model
type SessionView struct {
	Status      SessionStatus `json:"status"`
	Loading     bool          `json:"loading"`
	Identity    *Identity     `json:"identity,omitempty"`
	TenantID    string        `json:"tenant_id,omitempty"`
	ProfileType string        `json:"profile_type,omitempty"`
	Features    []string      `json:"features"`
	Error       string        `json:"error,omitempty"`
}

// NewSessionView flattens a SessionState for rendering
func NewSessionView(state SessionState) SessionView {
	view := SessionView{
		Status:   state.Status,
		Loading:  state.Loading,
		Identity: state.Identity,
		TenantID: state.TenantID(),
		Features: state.Snapshot.FeatureList(),
		Error:    state.Error,
	}
	if state.Snapshot != nil {
		view.ProfileType = state.Snapshot.ProfileType
	}
	return view
}

func (a *AuthController) SessionShow(c router.Context) error {
	clientID := ClientID(c, a.ClientCookieName)
	session := a.Registry.Get(c.Context(), clientID)
	return c.JSON(router.StatusOK, NewSessionView(session.State()))
}

// acceptsJSON is true for API clients; browsers list text/html first
func acceptsJSON(c router.Context) bool {
	accept := c.Header("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func remoteIP(c router.Context) string {
	return c.IP()
}

// FormatValidationErrorToMap flattens ozzo errors into field messages
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}
	out["form"] = err.Error()
	return out
}

// LoginLimiter rate limits login submissions per key, the remote IP by default
type LoginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLoginLimiter(r rate.Limit, burst int) *LoginLimiter {
	return &LoginLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow consumes one token for key
func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cl, ok := l.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// RetryAfter is the Retry-After header value in seconds
func (l *LoginLimiter) RetryAfter() int {
	if l.rate <= 0 {
		return 1
	}
	return max(int(1.0/float64(l.rate)), 1)
}

// Prune drops limiters not used within idle
func (l *LoginLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	pruned := 0
	for id, cl := range l.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			pruned++
		}
	}
	return pruned
}
