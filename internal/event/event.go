// Package event 已发送消息的事件总线（推送扇出）
package event

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed 总线已关闭
var ErrClosed = errors.New("event: bus closed")

// ChatEvent 一条已持久化的聊天消息
type ChatEvent struct {
	Kind             int16  `msgpack:"kind"` // 1 王国 2 群 3 私聊
	MID              int64  `msgpack:"mid"`
	From             int64  `msgpack:"from"`
	Dst              int64  `msgpack:"dst"` // 王国 id / gid / 接收方 uid
	Content          string `msgpack:"content"`
	CreatedTimestamp int64  `msgpack:"created_timestamp"`
	MsgType          int16  `msgpack:"msg_type"`
	Origin           string `msgpack:"origin,omitempty"` // 发布实例 id
}

// Key 分区键：同一频道的事件落在同一分区
func (e *ChatEvent) Key() []byte {
	return []byte(strconv.Itoa(int(e.Kind)) + ":" + strconv.FormatInt(e.Dst, 10))
}

// Encode msgpack 编码
func Encode(e *ChatEvent) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode msgpack 解码
func Decode(data []byte) (*ChatEvent, error) {
	var e ChatEvent
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode chat event: %w", err)
	}
	return &e, nil
}

// Publisher 发布端，由聊天处理函数在提交后调用
type Publisher interface {
	Publish(ctx context.Context, e *ChatEvent) error
}

// Handler 事件处理函数
type Handler func(ctx context.Context, e *ChatEvent)

// Bus 发布 + 订阅
type Bus interface {
	Publisher
	// Run 把收到的事件交给 h，直到 ctx 取消或总线关闭
	Run(ctx context.Context, h Handler) error
	// Name 总线类型（local/kafka/redis）
	Name() string
	Healthy() bool
	Close() error
}
