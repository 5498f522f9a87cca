// Package push 向在线用户推送新消息通知
package push

import (
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
)

// Notice 推送通知（路由码 2003 的 body）
type Notice struct {
	TID              int16
	From             int64
	Dst              int64
	MID              int64
	Content          string
	CreatedTimestamp int64
	MsgType          int16
}

// EncodeFields 实现 codec.Record
func (n *Notice) EncodeFields(w *codec.Writer) {
	w.Int16(n.TID)
	w.Int64(n.From)
	w.Int64(n.Dst)
	w.Int64(n.MID)
	w.String(n.Content)
	w.Int64(n.CreatedTimestamp)
	w.Int16(n.MsgType)
}

// DecodeFields 实现 codec.Record
func (n *Notice) DecodeFields(r *codec.Reader) {
	n.TID = r.Int16()
	n.From = r.Int64()
	n.Dst = r.Int64()
	n.MID = r.Int64()
	n.Content = r.String()
	n.CreatedTimestamp = r.Int64()
	n.MsgType = r.Int16()
}

// EncodeNotice 编码为完整的 2003 响应帧（session_id 为 0）
func EncodeNotice(n *Notice) ([]byte, error) {
	body, err := codec.Marshal(n)
	if err != nil {
		return nil, err
	}
	resp := &protocol.Response{
		Code:    uint16(protocol.CodePushMessage),
		State:   protocol.StateOK,
		Message: "success",
		Body:    body,
	}
	return resp.Encode()
}
