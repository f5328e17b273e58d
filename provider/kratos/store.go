package kratos

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	tenantauth "github.com/goliatone/go-tenantauth"
	kratos "github.com/ory/kratos-client-go"
)

// DefaultSessionTTL is used when Kratos does not report an expiry
const DefaultSessionTTL = 24 * time.Hour

// Store is a tenantauth session store over Ory Kratos native flows. Kratos
// session tokens are kept in a TokenStorage keyed by client id.
type Store struct {
	client  *kratos.APIClient
	storage tenantauth.TokenStorage
	hub     *tenantauth.ListenerHub
	logger  tenantauth.Logger
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger tenantauth.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client used to reach Kratos
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client.GetConfig().HTTPClient = client
		}
	}
}

// WithClock sets the time source used to compute token TTLs
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store talking to the Kratos public API at publicURL
func NewStore(publicURL string, storage tenantauth.TokenStorage, opts ...Option) *Store {
	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{
			URL: strings.TrimRight(publicURL, "/"),
		},
	}
	configuration.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
	}
	if configuration.DefaultHeader == nil {
		configuration.DefaultHeader = make(map[string]string)
	}
	configuration.DefaultHeader["Accept"] = "application/json"

	if storage == nil {
		storage = tenantauth.NewMemoryTokenStorage()
	}

	s := &Store{
		client:  kratos.NewAPIClient(configuration),
		storage: storage,
		hub:     tenantauth.NewListenerHub(),
		logger:  tenantauth.NoopLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Client returns the SessionStore view for one browser client
func (s *Store) Client(clientID string) tenantauth.SessionStore {
	return &clientStore{store: s, clientID: clientID}
}

// SessionFor asks Kratos whoami for the stored session token. An
// unknown or expired token is dropped and reported as no session.
func (s *Store) SessionFor(ctx context.Context, clientID string) (*tenantauth.Session, error) {
	token, err := s.storage.Load(ctx, clientID)
	if err != nil {
		return nil, tenantauth.SessionStoreError(err, "load_token")
	}
	if token == "" {
		return nil, nil
	}

	session, httpResp, err := s.client.FrontendAPI.
		ToSession(ctx).
		XSessionToken(token).
		Execute()
	if err != nil {
		if statusCode(httpResp) == http.StatusUnauthorized || statusCode(httpResp) == http.StatusForbidden {
			s.logger.Debug("kratos session no longer valid", "client_id", clientID)
			if derr := s.storage.Delete(ctx, clientID); derr != nil {
				s.logger.Warn("failed to delete kratos token", "client_id", clientID, "error", derr)
			}
			return nil, nil
		}
		return nil, transportError(err, httpResp, "whoami")
	}

	if session == nil || !session.GetActive() {
		return nil, nil
	}

	return toSession(session, token), nil
}

// SignIn runs a native password login flow
func (s *Store) SignIn(ctx context.Context, clientID, email, password string) (*tenantauth.Session, error) {
	flow, httpResp, err := s.client.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, transportError(err, httpResp, "create_login_flow")
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Password:   password,
		Method:     "password",
	}

	result, httpResp, err := s.client.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		switch statusCode(httpResp) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
			message := rejectionMessage(err)
			s.logger.Info("kratos rejected login", "client_id", clientID, "message", message)
			return nil, tenantauth.AuthenticationError(message, err)
		}
		return nil, transportError(err, httpResp, "submit_login_flow")
	}

	token := result.GetSessionToken()
	if token == "" {
		return nil, tenantauth.SessionStoreError(errors.New("kratos returned no session token", errors.CategoryExternal), "submit_login_flow")
	}

	kratosSession := result.GetSession()
	if err := s.storage.Save(ctx, clientID, token, s.ttl(&kratosSession)); err != nil {
		return nil, tenantauth.SessionStoreError(err, "save_token")
	}

	session := toSession(&kratosSession, token)
	s.hub.Emit(ctx, clientID, tenantauth.AuthEventSignedIn, session)

	return session, nil
}

// SignOut revokes the Kratos session and forgets the token. A session
// Kratos no longer knows counts as signed out.
func (s *Store) SignOut(ctx context.Context, clientID string) error {
	token, err := s.storage.Load(ctx, clientID)
	if err != nil {
		return tenantauth.SessionStoreError(err, "load_token")
	}

	if token != "" {
		httpResp, err := s.client.FrontendAPI.
			PerformNativeLogout(ctx).
			PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(token)).
			Execute()
		if err != nil {
			switch statusCode(httpResp) {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			default:
				return transportError(err, httpResp, "logout")
			}
		}
	}

	if err := s.storage.Delete(ctx, clientID); err != nil {
		return tenantauth.SessionStoreError(err, "delete_token")
	}

	s.hub.Emit(ctx, clientID, tenantauth.AuthEventSignedOut, nil)
	return nil
}

// Subscribe registers a listener for one client
func (s *Store) Subscribe(clientID string, listener tenantauth.AuthStateListener) tenantauth.UnsubscribeFunc {
	return s.hub.Subscribe(clientID, listener)
}

func (s *Store) ttl(session *kratos.Session) time.Duration {
	if session == nil || session.ExpiresAt == nil {
		return DefaultSessionTTL
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return DefaultSessionTTL
	}
	return ttl
}

type clientStore struct {
	store    *Store
	clientID string
}

var _ tenantauth.SessionStore = (*clientStore)(nil)

func (c *clientStore) GetSession(ctx context.Context) (*tenantauth.Session, error) {
	return c.store.SessionFor(ctx, c.clientID)
}

func (c *clientStore) SignInWithPassword(ctx context.Context, email, password string) (*tenantauth.Session, error) {
	return c.store.SignIn(ctx, c.clientID, email, password)
}

func (c *clientStore) SignOut(ctx context.Context) error {
	return c.store.SignOut(ctx, c.clientID)
}

func (c *clientStore) OnAuthStateChange(listener tenantauth.AuthStateListener) tenantauth.UnsubscribeFunc {
	return c.store.Subscribe(c.clientID, listener)
}

func toSession(session *kratos.Session, token string) *tenantauth.Session {
	out := &tenantauth.Session{AccessToken: token}

	if session.AuthenticatedAt != nil {
		at := *session.AuthenticatedAt
		out.IssuedAt = &at
	}
	if session.ExpiresAt != nil {
		exp := *session.ExpiresAt
		out.ExpiresAt = &exp
	}

	identity := session.Identity
	if identity == nil {
		return out
	}

	out.User = tenantauth.SessionUser{
		ID:       identity.Id,
		Metadata: map[string]any{},
	}

	if public, ok := identity.MetadataPublic.(map[string]any); ok {
		for k, v := range public {
			out.User.Metadata[k] = v
		}
	}

	traits, _ := identity.Traits.(map[string]any)
	if email, ok := traits["email"].(string); ok {
		out.User.Email = email
	}

	switch name := traits["name"].(type) {
	case string:
		out.User.Metadata["name"] = name
	case map[string]any:
		first, _ := name["first"].(string)
		last, _ := name["last"].(string)
		if full := strings.TrimSpace(first + " " + last); full != "" {
			out.User.Metadata["full_name"] = full
		}
	}

	if picture, ok := traits["picture"].(string); ok && picture != "" {
		if _, exists := out.User.Metadata["avatar_url"]; !exists {
			out.User.Metadata["avatar_url"] = picture
		}
	}

	return out
}

// rejectionMessage extracts the first UI message from a flow error body
func rejectionMessage(err error) string {
	apiErr, ok := err.(*kratos.GenericOpenAPIError)
	if !ok {
		return ""
	}

	var body struct {
		UI struct {
			Messages []struct {
				Text string `json:"text"`
			} `json:"messages"`
			Nodes []struct {
				Messages []struct {
					Text string `json:"text"`
				} `json:"messages"`
			} `json:"nodes"`
		} `json:"ui"`
		Error struct {
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"error"`
	}

	if jsonErr := json.Unmarshal(apiErr.Body(), &body); jsonErr != nil {
		return ""
	}

	for _, msg := range body.UI.Messages {
		if msg.Text != "" {
			return msg.Text
		}
	}
	for _, node := range body.UI.Nodes {
		for _, msg := range node.Messages {
			if msg.Text != "" {
				return msg.Text
			}
		}
	}
	if body.Error.Reason != "" {
		return body.Error.Reason
	}
	return body.Error.Message
}

func transportError(err error, httpResp *http.Response, operation string) error {
	wrapped := errors.Wrap(err, errors.CategoryExternal, tenantauth.ErrSessionStore.Message).
		WithTextCode(tenantauth.TextCodeSessionStore).
		WithCode(errors.CodeInternal).
		WithMetadata(map[string]any{
			"operation":   operation,
			"http_status": statusCode(httpResp),
		})
	return wrapped
}

func statusCode(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
