package cache

import (
	"context"
	"strings"
	"time"

	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by this package
const DefaultKeyPrefix = "tenantauth"

// TokenStorage keeps client access tokens in Redis so every server
// instance sees the same sign in state
type TokenStorage struct {
	client redis.UniversalClient
	prefix string
}

var _ tenantauth.TokenStorage = (*TokenStorage)(nil)

// NewTokenStorage wraps an existing client. An empty prefix uses
// DefaultKeyPrefix.
func NewTokenStorage(client redis.UniversalClient, prefix string) *TokenStorage {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &TokenStorage{client: client, prefix: prefix}
}

// NewClient builds a client from a redis:// URL
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (s *TokenStorage) key(clientID string) string {
	return s.prefix + ":token:" + clientID
}

// Load returns an empty string when the client has no token
func (s *TokenStorage) Load(ctx context.Context, clientID string) (string, error) {
	token, err := s.client.Get(ctx, s.key(clientID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", tenantauth.SessionStoreError(err, "redis_get")
	}
	return token, nil
}

// Save stores token for ttl, zero ttl never expires
func (s *TokenStorage) Save(ctx context.Context, clientID, token string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(clientID), token, ttl).Err(); err != nil {
		return tenantauth.SessionStoreError(err, "redis_set")
	}
	return nil
}

func (s *TokenStorage) Delete(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, s.key(clientID)).Err(); err != nil {
		return tenantauth.SessionStoreError(err, "redis_del")
	}
	return nil
}
