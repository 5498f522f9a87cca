package push

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
)

// Directory 解析频道成员
type Directory interface {
	GroupMemberIDs(ctx context.Context, gid int64) ([]int64, error)
	KingdomMemberIDs(ctx context.Context, kingdomID int64) ([]int64, error)
}

// Pusher 把聊天事件转换为推送
type Pusher struct {
	dir      Directory
	registry *presence.Registry
	dist     *Distributor
	log      *zap.Logger
}

// NewPusher 创建 Pusher
func NewPusher(dir Directory, registry *presence.Registry, dist *Distributor, log *zap.Logger) *Pusher {
	return &Pusher{dir: dir, registry: registry, dist: dist, log: log}
}

// HandleEvent 作为 event.Handler 挂到总线上
func (p *Pusher) HandleEvent(ctx context.Context, e *event.ChatEvent) {
	recipients, err := p.Recipients(ctx, e)
	if err != nil {
		p.log.Error("resolve push recipients failed",
			zap.Int16("kind", e.Kind),
			zap.Int64("dst", e.Dst),
			zap.Error(err),
		)
		return
	}
	if len(recipients) == 0 {
		return
	}

	payload, err := EncodeNotice(&Notice{
		TID:              e.Kind,
		From:             e.From,
		Dst:              e.Dst,
		MID:              e.MID,
		Content:          e.Content,
		CreatedTimestamp: e.CreatedTimestamp,
		MsgType:          e.MsgType,
	})
	if err != nil {
		p.log.Error("encode push notice failed", zap.Int64("mid", e.MID), zap.Error(err))
		return
	}
	p.dist.Enqueue(recipients, payload)
}

// Recipients 解析接收者：私聊为对方，群为除发送者外的成员，王国为王国内用户
func (p *Pusher) Recipients(ctx context.Context, e *event.ChatEvent) ([]uint64, error) {
	var ids []int64
	switch e.Kind {
	case protocol.KindP2P:
		ids = []int64{e.Dst}
	case protocol.KindGroup:
		members, err := p.dir.GroupMemberIDs(ctx, e.Dst)
		if err != nil {
			return nil, fmt.Errorf("group %d members: %w", e.Dst, err)
		}
		ids = members
	case protocol.KindKingdom:
		members, err := p.dir.KingdomMemberIDs(ctx, e.Dst)
		if err != nil {
			return nil, fmt.Errorf("kingdom %d members: %w", e.Dst, err)
		}
		ids = members
	default:
		return nil, fmt.Errorf("unsupported kind %d", e.Kind)
	}

	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == e.From || id <= 0 {
			continue
		}
		if _, online := p.registry.Lookup(uint64(id)); online {
			out = append(out, uint64(id))
		}
	}
	return out, nil
}

// Unicast 向单个用户推送系统通知
func (p *Pusher) Unicast(uid uint64, content string) (int, error) {
	return p.Multicast([]uint64{uid}, content)
}

// Multicast 向多个用户推送系统通知，返回入队的在线用户数
func (p *Pusher) Multicast(uids []uint64, content string) (int, error) {
	online := make([]uint64, 0, len(uids))
	for _, uid := range uids {
		if _, ok := p.registry.Lookup(uid); ok {
			online = append(online, uid)
		}
	}
	return p.system(online, content)
}

// Broadcast 向全部在线用户推送系统通知
func (p *Pusher) Broadcast(content string) (int, error) {
	return p.system(p.registry.UIDs(), content)
}

func (p *Pusher) system(uids []uint64, content string) (int, error) {
	if len(uids) == 0 {
		return 0, nil
	}
	payload, err := EncodeNotice(&Notice{
		MsgType:          protocol.MsgTypeSystem,
		Content:          content,
		CreatedTimestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, err
	}
	dropped := p.dist.Enqueue(uids, payload)
	return len(uids) - dropped, nil
}
