// Package router 实现路由码到处理函数的注册与分发
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
)

// ErrRouterNotFound 路由码未注册处理函数
var ErrRouterNotFound = errors.New("router code not found.")

// Context 单次请求的处理上下文
type Context struct {
	Request *protocol.Request
	Code    protocol.RouterCode
	Conn    presence.Conn
}

// Reply 构造响应，body 为 nil 时仅返回状态与消息
func (c *Context) Reply(state protocol.State, msg string, body codec.Record) (*protocol.Response, error) {
	resp := &protocol.Response{
		Code:      uint16(c.Code),
		SessionID: c.Request.SessionID,
		State:     state,
		Message:   msg,
	}
	if body != nil {
		data, err := codec.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s response: %w", c.Code, err)
		}
		resp.Body = data
	}
	return resp, nil
}

// OK 构造成功响应
func (c *Context) OK(msg string, body codec.Record) (*protocol.Response, error) {
	return c.Reply(protocol.StateOK, msg, body)
}

// GeneralError 构造业务失败响应，连接保持
func (c *Context) GeneralError(msg string) (*protocol.Response, error) {
	return c.Reply(protocol.StateGeneralError, msg, nil)
}

// Handler 路由处理函数
//
// 返回 error 表示本帧失败：会话回写 GeneralError 并关闭连接。
type Handler func(ctx context.Context, c *Context) (*protocol.Response, error)

// Options 注册表选项
type Options struct {
	// AliasUnknown 为 true 时未定义路由码按 CodeConnectionState 处理
	AliasUnknown bool
}

// Registry 路由注册表，启动时注册完成后只读
type Registry struct {
	handlers map[protocol.RouterCode]Handler
	opts     Options
}

// New 创建路由注册表
func New(opts Options) *Registry {
	return &Registry{
		handlers: make(map[protocol.RouterCode]Handler),
		opts:     opts,
	}
}

// Register 注册处理函数，重复注册覆盖旧值
func (r *Registry) Register(code protocol.RouterCode, h Handler) {
	r.handlers[code] = h
}

// Resolve 将线上路由码解析为 RouterCode
func (r *Registry) Resolve(raw uint16) protocol.RouterCode {
	code := protocol.RouterCode(raw)
	if !code.Valid() && r.opts.AliasUnknown {
		return protocol.RouterCodes[0]
	}
	return code
}

// Lookup 查找处理函数
func (r *Registry) Lookup(code protocol.RouterCode) (Handler, bool) {
	h, ok := r.handlers[code]
	return h, ok
}

// Call 分发到处理函数
func (r *Registry) Call(ctx context.Context, code protocol.RouterCode, c *Context) (*protocol.Response, error) {
	h, ok := r.handlers[code]
	if !ok {
		return nil, ErrRouterNotFound
	}
	c.Code = code
	return h(ctx, c)
}

// Len 已注册路由码数量
func (r *Registry) Len() int {
	return len(r.handlers)
}
