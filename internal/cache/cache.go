// Package cache 在线集合与近期消息缓存
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	// OnlineUsersKey 在线用户集合
	OnlineUsersKey = "online_users"

	kingdomMessagePrefix = "chat_kingdom_message_"
	groupMessagePrefix   = "chat_group_message_"
	userMessagePrefix    = "chat_user_message_"

	// DefaultMessageTTL 消息有序集合过期时间
	DefaultMessageTTL = 48 * time.Hour

	memberSeparator = ":$:"
)

// Cache 缓存协作者
type Cache interface {
	// AddOnline 将 uid 加入在线集合
	AddOnline(ctx context.Context, uid uint64) error
	// AppendMessage 写入频道有序集合，key 无过期时间时设置 TTL
	AppendMessage(ctx context.Context, key string, mid int64, content string, at time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// KingdomKey 王国频道 key
func KingdomKey(kingdomID int64) string {
	return kingdomMessagePrefix + strconv.FormatInt(kingdomID, 10)
}

// GroupKey 群频道 key
func GroupKey(gid int64) string {
	return groupMessagePrefix + strconv.FormatInt(gid, 10)
}

// P2PKey 私聊频道 key（发送方:接收方）
func P2PKey(from, dst int64) string {
	return fmt.Sprintf("%s%d:%d", userMessagePrefix, from, dst)
}

// Member 有序集合成员：mid:$:content
func Member(mid int64, content string) string {
	return strconv.FormatInt(mid, 10) + memberSeparator + content
}
