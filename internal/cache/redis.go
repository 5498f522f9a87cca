package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

// RedisCache go-redis 实现
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis 按 redis://host:port/db 连接
func NewRedis(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Client 底层客户端
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// AddOnline 实现 Cache
func (c *RedisCache) AddOnline(ctx context.Context, uid uint64) error {
	return c.client.WithContext(ctx).SAdd(OnlineUsersKey, uid).Err()
}

// AppendMessage 实现 Cache
func (c *RedisCache) AppendMessage(ctx context.Context, key string, mid int64, content string, at time.Time) error {
	client := c.client.WithContext(ctx)
	z := redis.Z{Score: float64(at.Unix()), Member: Member(mid, content)}
	if err := client.ZAdd(key, z).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	ttl, err := client.TTL(key).Result()
	if err != nil {
		return fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl <= 0 {
		if err := client.Expire(key, c.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return nil
}

// Ping 实现 Cache
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.WithContext(ctx).Ping().Err()
}

// Close 实现 Cache
func (c *RedisCache) Close() error {
	return c.client.Close()
}
