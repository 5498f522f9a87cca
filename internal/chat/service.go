// Package chat 实现聊天路由码的业务处理
package chat

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/cache"
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/store"
)

// 参数校验失败返回给客户端的消息（GeneralError，连接保持）
const (
	MsgInvalidUserParam     = "invaild user param."
	MsgInvalidUIDParam      = "invaild uid param."
	MsgInvalidTIDParam      = "invaild tid param."
	MsgInvalidDstIDParam    = "invaild dst_id param."
	MsgInvalidMsgTypeParam  = "invaild msg type param."
	MsgInvalidContentLength = "invaild content length param."
	MsgInvalidGIDParam      = "invaild gid param."
	MsgInvalidSendIDParam   = "invaild send id param."
	MsgInvalidDstOrTSParam  = "invaild dst id or kingdom_timestamp param."
	MsgInvalidUTF8          = "invalid utf8 encode."
	MsgBlacklisted          = "you are blacklisted."
	MsgServerError          = "server error."
	MsgFailedSetUID         = "failed set uid data."
	MsgKingdomNotFound      = "kingdom not found."
)

const (
	msgSuccess    = "success"
	msgSuccessDot = "success."

	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
	defaultHistoryOrder = store.OrderDesc

	// maxContentLen 正文上限：携带正文的任一响应记录须能编码进单个 block
	maxContentLen = codec.MaxBlockLen / 2
)

// 处理函数错误：本帧失败，连接关闭
var (
	ErrInvalidTID  = errors.New("invalid tid.")
	ErrNotFinished = errors.New("not finished.")
	ErrNotUnknown  = errors.New("not uknown.")
)

// Store 数据访问协作者
type Store interface {
	KingdomIDByServerNumber(ctx context.Context, serverNumber int64) (int64, error)
	KingdomIDByUser(ctx context.Context, uuid int64) (int64, error)
	ChatUser(ctx context.Context, uuid int64) (*store.User, error)
	IsBlacklisted(ctx context.Context, owner, target int64) (bool, error)

	InsertMessage(ctx context.Context, m *store.Message) error
	InsertGroupMessage(ctx context.Context, m *store.Message) error
	InsertP2PMessage(ctx context.Context, m *store.Message) error

	CountSince(ctx context.Context, toID int64, kind int16, since int64) (int64, error)
	LatestSince(ctx context.Context, toID int64, kind int16, since int64) (*store.Message, error)
	LatestP2PSince(ctx context.Context, sender, receiver int64, since int64) (*store.Message, error)
	ChannelMessages(ctx context.Context, toID int64, kind int16, q store.MessageQuery) ([]store.Message, error)
	P2PMessages(ctx context.Context, a, b int64, q store.MessageQuery) ([]store.Message, error)

	Group(ctx context.Context, gid int64) (*store.Group, error)
	GroupMembership(ctx context.Context, gid, uuid int64) (*store.GroupMembership, error)
	UnreadGroups(ctx context.Context, uuid int64) ([]store.GroupMembership, error)
	ResetGroupUnread(ctx context.Context, gid, uuid, readAt int64) error

	UnreadCounters(ctx context.Context, owner int64) ([]store.UnreadCounter, error)
	UnreadCount(ctx context.Context, owner, peer int64) (int32, error)
	ResetUnread(ctx context.Context, owner, peer, readAt int64) error
}

// Service 聊天业务
type Service struct {
	store    Store
	cache    cache.Cache
	events   event.Publisher
	presence *presence.Registry
	log      *zap.Logger
	origin   string

	now   func() time.Time
	newID func() int64
}

// Config 聊天业务依赖
type Config struct {
	Store    Store
	Cache    cache.Cache
	Events   event.Publisher
	Presence *presence.Registry
	Logger   *zap.Logger
	// Origin 本实例 id，写入事件
	Origin string
}

// NewService 创建聊天业务
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		cache:    cfg.Cache,
		events:   cfg.Events,
		presence: cfg.Presence,
		log:      log,
		origin:   cfg.Origin,
		now:      time.Now,
		newID:    newMessageID,
	}
}

// Register 注册全部路由码
func (s *Service) Register(r *router.Registry) {
	r.Register(protocol.CodeConnectionState, s.announce)
	r.Register(protocol.CodeSendMessage, s.sendMessage)
	r.Register(protocol.CodePushMessage, s.pushAck)
	r.Register(protocol.CodeUnreadMessageCount, s.unreadSummary)
	r.Register(protocol.CodeKingdomMessageContent, s.kingdomHistory)
	r.Register(protocol.CodeGroupMessageContent, s.groupHistory)
	r.Register(protocol.CodeP2PMessageContent, s.p2pHistory)
	r.Register(protocol.CodeChannelChatUnreadCount, s.channelUnread)
}

// newMessageID 取随机 UUID 高 63 位作为正的消息 id
func newMessageID() int64 {
	u := uuid.New()
	id := int64(binary.BigEndian.Uint64(u[:8]) >> 1)
	if id == 0 {
		id = 1
	}
	return id
}

func (s *Service) reqLog(c *router.Context) *zap.Logger {
	return s.log.With(zap.Stringer("code", c.Code), zap.Uint64("session_id", c.Request.SessionID))
}

// storeError 协作者失败：超时关闭连接，其他错误回 "server error."
func storeError(c *router.Context, err error) (*protocol.Response, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, protocol.ErrTimeout
	}
	return c.GeneralError(MsgServerError)
}

// kingdomError 王国查询失败
func kingdomError(c *router.Context, err error) (*protocol.Response, error) {
	if errors.Is(err, store.ErrNotFound) {
		return c.GeneralError(MsgKingdomNotFound)
	}
	return storeError(c, err)
}

// userCache 单次请求内的用户查询去重
type userCache struct {
	store Store
	users map[int64]*ChatUser
}

func newUserCache(st Store) *userCache {
	return &userCache{store: st, users: make(map[int64]*ChatUser)}
}

func (u *userCache) get(ctx context.Context, uuid int64) (*ChatUser, error) {
	if cu, ok := u.users[uuid]; ok {
		return cu, nil
	}
	su, err := u.store.ChatUser(ctx, uuid)
	if err != nil {
		return nil, err
	}
	cu := chatUserFrom(su)
	u.users[uuid] = &cu
	return &cu, nil
}
