package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore remembers the auth cookie per (server, user) so restarts do not
// force a fresh login.
type TokenStore interface {
	Load(ctx context.Context, serverURL, username string) (string, error)
	Save(ctx context.Context, serverURL, username, token string) error
	Clear(ctx context.Context, serverURL, username string) error
}

func tokenKey(serverURL, username string) string {
	base := normalizeServer(serverURL)
	user := strings.TrimSpace(username)
	if base == "" || user == "" {
		return ""
	}
	return base + "|" + user
}

type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]string)}
}

func (s *MemoryTokenStore) Load(_ context.Context, serverURL, username string) (string, error) {
	key := tokenKey(serverURL, username)
	if key == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[key], nil
}

func (s *MemoryTokenStore) Save(_ context.Context, serverURL, username, token string) error {
	key := tokenKey(serverURL, username)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = token
	return nil
}

func (s *MemoryTokenStore) Clear(_ context.Context, serverURL, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenKey(serverURL, username))
	return nil
}

const redisTokenPrefix = "meowfilm:token:"

// RedisTokenStore keeps tokens in Redis with a fixed TTL.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisTokenStore{client: client, ttl: ttl}
}

func (s *RedisTokenStore) Load(ctx context.Context, serverURL, username string) (string, error) {
	key := tokenKey(serverURL, username)
	if key == "" {
		return "", nil
	}
	token, err := s.client.Get(ctx, redisTokenPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *RedisTokenStore) Save(ctx context.Context, serverURL, username, token string) error {
	key := tokenKey(serverURL, username)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return nil
	}
	return s.client.Set(ctx, redisTokenPrefix+key, token, s.ttl).Err()
}

func (s *RedisTokenStore) Clear(ctx context.Context, serverURL, username string) error {
	key := tokenKey(serverURL, username)
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, redisTokenPrefix+key).Err()
}
