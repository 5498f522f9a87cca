package chat

import (
	"context"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/qiminjie89/chatsys/internal/cache"
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/store"
	"github.com/qiminjie89/chatsys/pkg/metrics"
)

// announce 2001：uid:u64，加入在线集合并登记连接
func (s *Service) announce(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)

	uid := r.Uint64()
	if r.Err() != nil {
		log.Warn("invalid uid param", zap.Error(r.Err()))
		return c.GeneralError(MsgInvalidUserParam)
	}
	log = log.With(zap.Uint64("uid", uid))
	log.Info("submit content")

	if err := s.cache.AddOnline(ctx, uid); err != nil {
		metrics.CacheErrors.WithLabelValues("add_online").Inc()
		log.Error("failed add uid to cache", zap.Error(err))
		return c.GeneralError(MsgFailedSetUID)
	}

	resp, err := c.OK(msgSuccess, nil)
	if err != nil {
		return nil, err
	}
	if c.Conn != nil {
		if replaced := s.presence.Register(uid, c.Conn); replaced != nil {
			log.Debug("presence replaced", zap.String("old_conn", replaced.ID()), zap.String("conn_id", c.Conn.ID()))
		}
		if b, ok := c.Conn.(presence.Binder); ok {
			b.Bind(uid)
		}
		metrics.OnlineUsers.Set(float64(s.presence.Count()))
	}
	return resp, nil
}

// pushAck 2003：客户端不应发送
func (s *Service) pushAck(context.Context, *router.Context) (*protocol.Response, error) {
	return nil, ErrNotUnknown
}

// sendMessage 2002：uid:u64, tid:u8, dst:u64, msg_type:u16, content_len:u16, content
func (s *Service) sendMessage(ctx context.Context, c *router.Context) (*protocol.Response, error) {
	log := s.reqLog(c)
	r := codec.NewReader(c.Request.Body)

	uid := r.Uint64()
	if r.Err() != nil {
		log.Warn("invalid uid param", zap.Error(r.Err()))
		return c.GeneralError(MsgInvalidUIDParam)
	}
	tid := r.Uint8()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidTIDParam)
	}
	dst := r.Uint64()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidDstIDParam)
	}
	msgType := r.Uint16()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidMsgTypeParam)
	}
	// content_len 仅占位，正文取剩余全部字节
	r.Uint16()
	if r.Err() != nil {
		return c.GeneralError(MsgInvalidContentLength)
	}
	content := r.Rest()
	if len(content) > maxContentLen {
		log.Warn("content too long", zap.Uint64("uid", uid), zap.Int("length", len(content)))
		return c.GeneralError(MsgInvalidContentLength)
	}

	from := int64(uid)
	log = log.With(zap.Int64("uid", from), zap.Uint8("tid", tid), zap.Uint64("dst_id", dst))
	log.Info("submit content", zap.ByteString("message", content))

	msg := &store.Message{
		SendID:  from,
		ToID:    int64(dst),
		Kind:    int16(tid),
		MsgType: int16(msgType),
	}

	switch tid {
	case protocol.KindKingdom:
		if !utf8.Valid(content) {
			return c.GeneralError(MsgInvalidUTF8)
		}
		kingdomID, err := s.store.KingdomIDByServerNumber(ctx, int64(dst))
		if err != nil {
			log.Error("get kingdom id failed", zap.Error(err))
			return kingdomError(c, err)
		}
		msg.ToID = kingdomID
		s.fill(msg, content)
		if err := s.store.InsertMessage(ctx, msg); err != nil {
			log.Error("failed add kingdom message", zap.Error(err))
			return storeError(c, err)
		}
		s.afterSend(ctx, log, msg, cache.KingdomKey(msg.ToID))

	case protocol.KindGroup:
		if !utf8.Valid(content) {
			return c.GeneralError(MsgInvalidUTF8)
		}
		s.fill(msg, content)
		if err := s.store.InsertGroupMessage(ctx, msg); err != nil {
			log.Error("failed add group message", zap.Error(err))
			return storeError(c, err)
		}
		s.afterSend(ctx, log, msg, cache.GroupKey(msg.ToID))

	case protocol.KindP2P:
		blocked, err := s.store.IsBlacklisted(ctx, msg.ToID, from)
		if err != nil {
			log.Warn("blacklist check failed", zap.Error(err))
		} else if blocked {
			return c.GeneralError(MsgBlacklisted)
		}
		if !utf8.Valid(content) {
			return c.GeneralError(MsgInvalidUTF8)
		}
		s.fill(msg, content)
		if err := s.store.InsertP2PMessage(ctx, msg); err != nil {
			log.Error("failed add p2p message", zap.Error(err))
			return storeError(c, err)
		}
		s.afterSend(ctx, log, msg, cache.P2PKey(from, msg.ToID))

	case protocol.KindAlliance:
		return nil, ErrNotFinished

	default:
		return nil, ErrInvalidTID
	}

	summary := summaryFrom(msg)
	return c.OK(msgSuccessDot, &summary)
}

func (s *Service) fill(msg *store.Message, content []byte) {
	msg.MID = s.newID()
	msg.Content = string(content)
	msg.CreatedTimestamp = s.now().UnixMilli()
}

// afterSend 提交后写缓存并发布事件，失败只记录
func (s *Service) afterSend(ctx context.Context, log *zap.Logger, msg *store.Message, key string) {
	metrics.MessagesSent.WithLabelValues(strconv.Itoa(int(msg.Kind))).Inc()

	if err := s.cache.AppendMessage(ctx, key, msg.MID, msg.Content, s.now()); err != nil {
		metrics.CacheErrors.WithLabelValues("append_message").Inc()
		log.Warn("cache message failed", zap.String("key", key), zap.Error(err))
	}

	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, &event.ChatEvent{
		Kind:             msg.Kind,
		MID:              msg.MID,
		From:             msg.SendID,
		Dst:              msg.ToID,
		Content:          msg.Content,
		CreatedTimestamp: msg.CreatedTimestamp,
		MsgType:          msg.MsgType,
		Origin:           s.origin,
	})
	if err != nil {
		log.Warn("publish chat event failed", zap.Int64("mid", msg.MID), zap.Error(err))
	}
}
