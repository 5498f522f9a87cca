package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/store"
)

// readHistoryQuery 读取 ts:i64, limit:i16, order:i16，缺省分别为 0、10、1
func readHistoryQuery(r *codec.Reader) store.MessageQuery {
	q := store.MessageQuery{Limit: defaultHistoryLimit, Order: defaultHistoryOrder}
	ts := r.Int64()
	if r.Err() != nil {
		return q
	}
	q.Since = ts
	limit := r.Int16()
	if r.Err() != nil {
		return q
	}
	q.Limit = clampLimit(limit)
	order := r.Int16()
	if r.Err() != nil {
		return q
	}
	q.Order = order
	return q
}

func clampLimit(limit int16) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return int(limit)
	}
}

// fitPage 按单个 block 上限截断分页，丢弃尾部元素
func fitPage[T any, PT interface {
	*T
	codec.Record
}](log *zap.Logger, page codec.List[T, PT]) codec.List[T, PT] {
	kept, used := page.Fit(codec.MaxBlockLen)
	if dropped := len(page) - len(kept); dropped > 0 {
		log.Warn("history page truncated", zap.Int("kept", len(kept)), zap.Int("dropped", dropped), zap.Int("bytes", used))
	}
	return kept
}

// readAt 未读清零的时间戳：取帧头时间戳，缺省为服务器时间
func (s *Service) readAt(c *router.Context) int64 {
	if ts := int64(c.Request.Timestamp); ts > 0 {
		return ts
	}
	return s.now().UnixMilli()
}

func queryFields(q store.MessageQuery) []zap.Field {
	return []zap.Field{zap.Int64("timestamp", q.Since), zap.Int("limit", q.Limit), zap.Int16("order", q.Order)}
}

// kingdomHistory 2005：ts, limit, order, uid
func (s *Service) kingdomHistory(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)
	q := readHistoryQuery(r)
	uid := r.Int64()
	if r.Err() != nil {
		log.Warn("invalid uid param", zap.Error(r.Err()))
		return c.GeneralError(MsgInvalidUserParam)
	}
	log = log.With(zap.Int64("uid", uid))
	log.Info("submit content", queryFields(q)...)

	kingdomID, err := s.store.KingdomIDByUser(ctx, uid)
	if err != nil {
		log.Error("get kingdom id failed", zap.Error(err))
		return kingdomError(c, err)
	}
	rows, err := s.store.ChannelMessages(ctx, kingdomID, protocol.KindKingdom, q)
	if err != nil {
		log.Error("get kingdom message content failed", zap.Error(err))
		return storeError(c, err)
	}

	users := newUserCache(s.store)
	out := make(KingdomMessages, 0, len(rows))
	for i := range rows {
		m := &rows[i]
		sender, err := users.get(ctx, m.SendID)
		if err != nil {
			log.Warn("skip message with unknown sender", zap.Int64("mid", m.MID), zap.Error(err))
			continue
		}
		out = append(out, KingdomMessage{
			MID:              m.MID,
			SendUser:         *sender,
			ToID:             m.ToID,
			Content:          m.Content,
			CreatedTimestamp: m.CreatedTimestamp,
			Kind:             m.Kind,
			MsgType:          m.MsgType,
		})
	}
	out = fitPage(log, out)
	return c.OK(msgSuccessDot, &out)
}

// groupHistory 2006：ts, limit, order, gid, uid；读取后清零调用者的群未读
func (s *Service) groupHistory(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)
	q := readHistoryQuery(r)
	gid := r.Int64()
	if r.Err() != nil || gid <= 0 {
		return c.GeneralError(MsgInvalidGIDParam)
	}
	uid := r.Int64()
	if r.Err() != nil || uid <= 0 {
		return c.GeneralError(MsgInvalidUIDParam)
	}
	log = log.With(zap.Int64("uid", uid), zap.Int64("gid", gid))
	log.Info("submit content", queryFields(q)...)

	group, err := s.store.Group(ctx, gid)
	if err != nil {
		log.Error("get group failed", zap.Error(err))
		if errors.Is(err, store.ErrNotFound) {
			return c.GeneralError(MsgInvalidGIDParam)
		}
		return storeError(c, err)
	}
	rows, err := s.store.ChannelMessages(ctx, gid, protocol.KindGroup, q)
	if err != nil {
		log.Error("get group message content failed", zap.Error(err))
		return storeError(c, err)
	}

	users := newUserCache(s.store)
	out := make(GroupMessages, 0, len(rows))
	for i := range rows {
		m := &rows[i]
		sender, err := users.get(ctx, m.SendID)
		if err != nil {
			log.Warn("skip message with unknown sender", zap.Int64("mid", m.MID), zap.Error(err))
			continue
		}
		out = append(out, GroupMessage{
			MID:              m.MID,
			SendUser:         *sender,
			GID:              gid,
			GroupName:        group.Name,
			GroupThumbnail:   group.Thumbnail,
			Content:          m.Content,
			CreatedTimestamp: m.CreatedTimestamp,
			Kind:             m.Kind,
			MsgType:          m.MsgType,
		})
	}

	if err := s.store.ResetGroupUnread(ctx, gid, uid, s.readAt(c)); err != nil {
		log.Error("failed reset group unread count", zap.Error(err))
	}
	out = fitPage(log, out)
	return c.OK(msgSuccess, &out)
}

// p2pHistory 2007：ts, limit, order, send_uid, my_uid；读取后清零 my_uid 收到 send_uid 的未读
func (s *Service) p2pHistory(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)
	q := readHistoryQuery(r)
	sendUID := r.Int64()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidSendIDParam)
	}
	myUID := r.Int64()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidUIDParam)
	}
	log = log.With(zap.Int64("uid", myUID), zap.Int64("send_uid", sendUID))
	log.Info("submit content", queryFields(q)...)

	rows, err := s.store.P2PMessages(ctx, sendUID, myUID, q)
	if err != nil {
		log.Error("get p2p message content failed", zap.Error(err))
		return storeError(c, err)
	}

	users := newUserCache(s.store)
	out := make(P2PMessages, 0, len(rows))
	for i := range rows {
		m := &rows[i]
		sender, err := users.get(ctx, m.SendID)
		if err != nil {
			log.Warn("skip message with unknown sender", zap.Int64("mid", m.MID), zap.Error(err))
			continue
		}
		dst, err := users.get(ctx, m.ToID)
		if err != nil {
			log.Warn("skip message with unknown receiver", zap.Int64("mid", m.MID), zap.Error(err))
			continue
		}
		out = append(out, P2PMessage{
			MID:              m.MID,
			SendUser:         *sender,
			DstUser:          *dst,
			Content:          m.Content,
			CreatedTimestamp: m.CreatedTimestamp,
			Kind:             m.Kind,
			MsgType:          m.MsgType,
		})
	}

	if err := s.store.ResetUnread(ctx, myUID, sendUID, s.now().UnixMilli()); err != nil {
		log.Error("failed reset p2p unread count", zap.Error(err))
	}
	out = fitPage(log, out)
	return c.OK(msgSuccess, &out)
}
