package spider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
)

const redisDetailPrefix = "meowfilm:detail:"

// RedisDetailCache stores decoded detail payloads in Redis as JSON.
type RedisDetailCache struct {
	client *redis.Client
}

func NewRedisDetailCache(client *redis.Client) *RedisDetailCache {
	return &RedisDetailCache{client: client}
}

// DetailCacheKey scopes a cached detail to the gateway, spider and video.
func DetailCacheKey(endpoint Endpoint, spiderAPI, videoID string) string {
	return strings.Join([]string{
		NormalizeAPIBase(endpoint.APIBase),
		strings.TrimSpace(spiderAPI),
		strings.TrimSpace(videoID),
	}, "|")
}

func (r *RedisDetailCache) Get(ctx context.Context, key string) (domain.VideoDetail, bool, error) {
	data, err := r.client.Get(ctx, redisDetailPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.VideoDetail{}, false, nil
		}
		return domain.VideoDetail{}, false, err
	}
	var detail domain.VideoDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return domain.VideoDetail{}, false, err
	}
	return detail, true, nil
}

func (r *RedisDetailCache) Set(ctx context.Context, key string, detail domain.VideoDetail, ttl time.Duration) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisDetailPrefix+key, data, ttl).Err()
}

func (r *RedisDetailCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisDetailPrefix+key).Err()
}

func (r *RedisDetailCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
