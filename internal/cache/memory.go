package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache 进程内实现，未配置 redis 时使用
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	online  map[uint64]struct{}
	entries map[string]*zset
}

type zset struct {
	scores   map[string]float64
	expireAt time.Time
}

// NewMemory 创建进程内缓存
func NewMemory(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		online:  make(map[uint64]struct{}),
		entries: make(map[string]*zset),
	}
}

// AddOnline 实现 Cache
func (c *MemoryCache) AddOnline(_ context.Context, uid uint64) error {
	c.mu.Lock()
	c.online[uid] = struct{}{}
	c.mu.Unlock()
	return nil
}

// AppendMessage 实现 Cache
func (c *MemoryCache) AppendMessage(_ context.Context, key string, mid int64, content string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	z, ok := c.entries[key]
	if !ok || (!z.expireAt.IsZero() && now.After(z.expireAt)) {
		z = &zset{scores: make(map[string]float64)}
		c.entries[key] = z
	}
	z.scores[Member(mid, content)] = float64(at.Unix())
	if z.expireAt.IsZero() {
		z.expireAt = now.Add(c.ttl)
	}
	return nil
}

// IsOnline 是否在在线集合中
func (c *MemoryCache) IsOnline(uid uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.online[uid]
	return ok
}

// Members 按分值升序返回 key 下的成员
func (c *MemoryCache) Members(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	z, ok := c.entries[key]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(z.scores))
	for m := range z.scores {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z.scores[members[i]], z.scores[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

// ExpireAt key 的过期时间
func (c *MemoryCache) ExpireAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return z.expireAt, true
}

// Ping 实现 Cache
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Close 实现 Cache
func (c *MemoryCache) Close() error { return nil }
