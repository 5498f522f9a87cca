package chat

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/store"
)

// unreadSummary 2004：kingdom_read_ts:i64, uid:i64
//
// 王国、群、私聊三部分各自降级：某部分查询失败只记录日志并返回空值。
func (s *Service) unreadSummary(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)
	kingdomReadTS := r.Int64()
	uid := r.Int64()
	if r.Err() != nil {
		log.Warn("invalid uid param", zap.Error(r.Err()))
		return c.GeneralError(MsgInvalidUserParam)
	}
	log = log.With(zap.Int64("uid", uid))
	log.Info("submit content", zap.Int64("kingdom_read_timestamp", kingdomReadTS))

	kingdomID, err := s.store.KingdomIDByUser(ctx, uid)
	if err != nil {
		log.Error("get kingdom id failed", zap.Error(err))
		return kingdomError(c, err)
	}

	users := newUserCache(s.store)
	summary := &UnreadSummary{
		Kingdom: s.kingdomUnread(ctx, log, users, kingdomID, kingdomReadTS),
		Groups:  s.groupUnreads(ctx, log, users, uid),
		P2Ps:    s.p2pUnreads(ctx, log, users, uid),
	}
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return nil, protocol.ErrTimeout
	}
	fitSummary(log, summary)
	return c.OK(msgSuccessDot, summary)
}

// fitSummary 使汇总整体不超过单个 block：王国最新消息过大时省略，群与私聊序列依次截断尾部
func fitSummary(log *zap.Logger, sum *UnreadSummary) {
	// 两个序列各自的 2 字节长度
	budget := codec.MaxBlockLen - 4
	if n := codec.Size(&sum.Kingdom); n < 0 || n > budget {
		log.Warn("kingdom latest message dropped from summary", zap.Int("bytes", n))
		sum.Kingdom.Latest = nil
	}
	budget -= codec.Size(&sum.Kingdom)

	groups, used := sum.Groups.Fit(budget)
	budget -= used
	p2ps, _ := sum.P2Ps.Fit(budget)
	if len(groups) < len(sum.Groups) || len(p2ps) < len(sum.P2Ps) {
		log.Warn("unread summary truncated",
			zap.Int("groups_dropped", len(sum.Groups)-len(groups)),
			zap.Int("p2ps_dropped", len(sum.P2Ps)-len(p2ps)))
	}
	sum.Groups, sum.P2Ps = groups, p2ps
}

func (s *Service) kingdomUnread(ctx context.Context, log *zap.Logger, users *userCache, kingdomID, since int64) KingdomUnread {
	count, err := s.store.CountSince(ctx, kingdomID, protocol.KindKingdom, since)
	if err != nil {
		log.Error("get kingdom unread count failed", zap.Error(err))
		return KingdomUnread{}
	}
	if count == 0 {
		return KingdomUnread{}
	}
	m, err := s.store.LatestSince(ctx, kingdomID, protocol.KindKingdom, since)
	if err != nil {
		log.Error("get kingdom latest message failed", zap.Error(err))
		return KingdomUnread{}
	}
	sender, err := users.get(ctx, m.SendID)
	if err != nil {
		log.Error("get kingdom latest sender failed", zap.Int64("mid", m.MID), zap.Error(err))
		return KingdomUnread{}
	}
	return KingdomUnread{
		UnreadCount: int32(count),
		Latest: &KingdomMessage{
			MID:              m.MID,
			SendUser:         *sender,
			ToID:             m.ToID,
			Content:          m.Content,
			CreatedTimestamp: m.CreatedTimestamp,
			Kind:             m.Kind,
			MsgType:          m.MsgType,
		},
	}
}

func (s *Service) groupUnreads(ctx context.Context, log *zap.Logger, users *userCache, uid int64) GroupUnreadList {
	memberships, err := s.store.UnreadGroups(ctx, uid)
	if err != nil {
		log.Error("get unread groups failed", zap.Error(err))
		return GroupUnreadList{}
	}

	out := make(GroupUnreadList, 0, len(memberships))
	for _, gm := range memberships {
		entry, err := s.groupUnread(ctx, users, gm)
		if err != nil {
			log.Error("get group unread and latest message failed", zap.Int64("gid", gm.GID), zap.Error(err))
			continue
		}
		out = append(out, *entry)
	}
	return out
}

func (s *Service) groupUnread(ctx context.Context, users *userCache, gm store.GroupMembership) (*GroupUnread, error) {
	count, err := s.store.CountSince(ctx, gm.GID, protocol.KindGroup, gm.LatestTimestamp)
	if err != nil {
		return nil, err
	}
	m, err := s.store.LatestSince(ctx, gm.GID, protocol.KindGroup, gm.LatestTimestamp)
	if err != nil {
		return nil, err
	}
	group, err := s.store.Group(ctx, gm.GID)
	if err != nil {
		return nil, err
	}
	sender, err := users.get(ctx, m.SendID)
	if err != nil {
		return nil, err
	}
	return &GroupUnread{
		UnreadCount: int32(count),
		Latest: GroupMessage{
			MID:              m.MID,
			SendUser:         *sender,
			GID:              gm.GID,
			GroupName:        group.Name,
			GroupThumbnail:   group.Thumbnail,
			Content:          m.Content,
			CreatedTimestamp: m.CreatedTimestamp,
			Kind:             m.Kind,
			MsgType:          m.MsgType,
		},
	}, nil
}

// p2pUnreads 任一条目失败时整个私聊部分降级为空
func (s *Service) p2pUnreads(ctx context.Context, log *zap.Logger, users *userCache, uid int64) P2PUnreadList {
	counters, err := s.store.UnreadCounters(ctx, uid)
	if err != nil {
		log.Error("get user unread message count failed", zap.Error(err))
		return P2PUnreadList{}
	}

	out := make(P2PUnreadList, 0, len(counters))
	for _, uc := range counters {
		m, err := s.store.LatestP2PSince(ctx, uc.Peer, uc.Owner, uc.LatestTimestamp)
		if err != nil {
			log.Error("get p2p latest message failed", zap.Int64("peer", uc.Peer), zap.Error(err))
			return P2PUnreadList{}
		}
		sender, err := users.get(ctx, uc.Peer)
		if err != nil {
			log.Error("get p2p sender failed", zap.Int64("peer", uc.Peer), zap.Error(err))
			return P2PUnreadList{}
		}
		receiver, err := users.get(ctx, uc.Owner)
		if err != nil {
			log.Error("get p2p receiver failed", zap.Error(err))
			return P2PUnreadList{}
		}
		out = append(out, P2PUnread{
			Sender:          *sender,
			Receiver:        *receiver,
			LatestTimestamp: uc.LatestTimestamp,
			UnreadCount:     clampInt16(int64(uc.UnreadCount)),
			LatestMsg:       summaryFrom(m),
		})
	}
	return out
}

// channelUnread 2008：tid:i16, dst_id_or_kingdom_ts:i64, uid:i64
func (s *Service) channelUnread(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)
	tid := r.Int16()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidTIDParam)
	}
	dstOrTS := r.Int64()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidDstOrTSParam)
	}
	uid := r.Int64()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidUIDParam)
	}
	log = log.With(zap.Int64("uid", uid))
	log.Info("submit content", zap.Int16("tid", tid), zap.Int64("dst_id_or_kingdom_timestamp", dstOrTS))

	var count int64
	switch tid {
	case protocol.KindKingdom:
		kingdomID, err := s.store.KingdomIDByUser(ctx, uid)
		if err != nil {
			log.Error("get kingdom id failed", zap.Error(err))
			return kingdomError(c, err)
		}
		if n, err := s.store.CountSince(ctx, kingdomID, protocol.KindKingdom, dstOrTS); err == nil {
			count = n
		} else {
			log.Warn("get kingdom unread count failed", zap.Error(err))
		}
	case protocol.KindGroup:
		gm, err := s.store.GroupMembership(ctx, dstOrTS, uid)
		if err != nil {
			log.Warn("get group membership failed", zap.Error(err))
			break
		}
		if n, err := s.store.CountSince(ctx, dstOrTS, protocol.KindGroup, gm.LatestTimestamp); err == nil {
			count = n
		} else {
			log.Warn("get group unread count failed", zap.Error(err))
		}
	case protocol.KindP2P:
		if n, err := s.store.UnreadCount(ctx, uid, dstOrTS); err == nil {
			count = int64(n)
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Warn("get user unread count failed", zap.Error(err))
		}
	default:
		log.Warn("invalid tid param")
	}

	return c.OK(msgSuccess, &ChannelUnread{UnreadCount: clampInt16(count), Kind: tid})
}

func clampInt16(n int64) int16 {
	if n > math.MaxInt16 {
		return math.MaxInt16
	}
	if n < 0 {
		return 0
	}
	return int16(n)
}
