package redis

// Package redis provides Redis-based adapters for the stayportal service.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/ports"
)

const (
	defaultPrefix         = "auth:session:"
	defaultRefreshHorizon = 30 * 24 * time.Hour
)

// TokenStore persists a browser's backend session in Redis.
// An expired access token is still stored: the refresh token outlives it, so the key TTL
// runs for the refresh horizon past the access-token expiry.
type TokenStore struct {
	client  redis.UniversalClient
	prefix  string
	horizon time.Duration
}

// TokenStoreOption customizes a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) TokenStoreOption {
	return func(s *TokenStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRefreshHorizon sets how long a session is kept after its access token expires.
func WithRefreshHorizon(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) {
		if d > 0 {
			s.horizon = d
		}
	}
}

// NewTokenStore creates a new Redis-based token store.
func NewTokenStore(client redis.UniversalClient, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		client:  client,
		prefix:  defaultPrefix,
		horizon: defaultRefreshHorizon,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenStore) key(browserID string) string { return s.prefix + browserID }

// ttl is the remaining access-token lifetime plus the refresh horizon.
func (s *TokenStore) ttl(sess domainauth.Session) time.Duration {
	if sess.ExpiresAt.IsZero() {
		return s.horizon
	}
	remaining := time.Until(sess.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining + s.horizon
}

func (s *TokenStore) Save(ctx context.Context, browserID string, sess domainauth.Session) error {
	if browserID == "" {
		return errors.New("browser ID cannot be empty")
	}
	if sess.RefreshToken == "" && sess.Expired(time.Now()) {
		return errors.New("session is expired and cannot be refreshed")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.key(browserID), data, s.ttl(sess)).Err()
}

func (s *TokenStore) Get(ctx context.Context, browserID string) (domainauth.Session, error) {
	if browserID == "" {
		return domainauth.Session{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.key(browserID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal([]byte(data), &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}
	return sess, nil
}

func (s *TokenStore) Delete(ctx context.Context, browserID string) error {
	if browserID == "" {
		return nil // Nothing to delete
	}
	return s.client.Del(ctx, s.key(browserID)).Err()
}

// Browsers lists the browser ids that have a persisted session. Cluster clients are
// scanned shard by shard.
func (s *TokenStore) Browsers(ctx context.Context) ([]string, error) {
	var (
		mu  sync.Mutex
		ids []string
	)
	scan := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			mu.Lock()
			ids = append(ids, strings.TrimPrefix(iter.Val(), s.prefix))
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	} else {
		err = scan(ctx, s.client)
	}
	if err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return ids, nil
}

// DeleteAll removes every persisted session and reports how many were deleted.
func (s *TokenStore) DeleteAll(ctx context.Context) (int, error) {
	ids, err := s.Browsers(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		n, err := s.client.Del(ctx, s.key(id)).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "session not found" }

func (notFoundError) Is(target error) bool { return target == ports.ErrNoSession }

// ErrNotFound is returned when no session is stored for a browser. It matches
// ports.ErrNoSession under errors.Is.
var ErrNotFound error = notFoundError{}
