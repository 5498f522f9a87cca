// Package presence 维护在线用户到连接句柄的映射
package presence

import (
	"sync"
	"time"
)

const (
	// ShardCount 分片数（减少锁竞争）
	ShardCount = 256
)

// Conn 连接句柄（写半部），供推送使用
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(data []byte) error
}

// Binder 可记录所登记 uid 的连接，连接关闭时据此释放
type Binder interface {
	Bind(uid uint64)
}

// Entry 在线记录
type Entry struct {
	UID         uint64
	Conn        Conn
	ConnectedAt time.Time
}

// Registry 在线注册表（用户维度）
//
// 注册为后写覆盖：同一用户重连时旧句柄被静默替换，不会被关闭。
// 锁只在 map 读写期间持有，不跨越任何 I/O。
type Registry struct {
	shards [ShardCount]*shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
}

// NewRegistry 创建在线注册表
func NewRegistry() *Registry {
	r := &Registry{}
	for i := 0; i < ShardCount; i++ {
		r.shards[i] = &shard{entries: make(map[uint64]*Entry)}
	}
	return r
}

func (r *Registry) getShard(uid uint64) *shard {
	return r.shards[fnvHash(uid)%ShardCount]
}

// fnvHash 对 uid 小端字节做 FNV-1a
func fnvHash(uid uint64) uint32 {
	h := uint32(2166136261)
	for i := 0; i < 8; i++ {
		h ^= uint32(byte(uid >> (8 * i)))
		h *= 16777619
	}
	return h
}

// Register 注册用户连接，返回被替换的旧句柄
func (r *Registry) Register(uid uint64, conn Conn) (replaced Conn) {
	s := r.getShard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[uid]; ok && old.Conn != conn {
		replaced = old.Conn
	}
	s.entries[uid] = &Entry{UID: uid, Conn: conn, ConnectedAt: time.Now()}
	return replaced
}

// Lookup 查找用户连接
func (r *Registry) Lookup(uid uint64) (Conn, bool) {
	s := r.getShard(uid)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[uid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// Unregister 仅当 uid 仍指向 conn 时删除（推送写失败后剔除失效句柄）
func (r *Registry) Unregister(uid uint64, conn Conn) bool {
	s := r.getShard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[uid]; ok && e.Conn == conn {
		delete(s.entries, uid)
		return true
	}
	return false
}

// Release 删除 uids 中仍指向 conn 的记录，返回删除数
func (r *Registry) Release(conn Conn, uids []uint64) int {
	n := 0
	for _, uid := range uids {
		if r.Unregister(uid, conn) {
			n++
		}
	}
	return n
}

// Count 在线记录总数
func (r *Registry) Count() int {
	total := 0
	for i := 0; i < ShardCount; i++ {
		r.shards[i].mu.RLock()
		total += len(r.shards[i].entries)
		r.shards[i].mu.RUnlock()
	}
	return total
}

// UIDs 全部在线用户（用于全服推送）
func (r *Registry) UIDs() []uint64 {
	result := make([]uint64, 0)
	for i := 0; i < ShardCount; i++ {
		r.shards[i].mu.RLock()
		for uid := range r.shards[i].entries {
			result = append(result, uid)
		}
		r.shards[i].mu.RUnlock()
	}
	return result
}
