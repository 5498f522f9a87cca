package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/push"
	"github.com/qiminjie89/chatsys/pkg/transport"
)

var errClientClosed = errors.New("client closed")

// Client 聊天协议测试客户端，支持 TCP 与 ws:// 地址
type Client struct {
	conn   transport.Conn
	signer *protocol.Signer

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan *protocol.Response
	writeMu sync.Mutex

	pushes chan *push.Notice
	done   chan struct{}
	err    error
}

// Dial 连接服务器并启动接收循环
func Dial(addr string, signer *protocol.Signer, timeout time.Duration) (*Client, error) {
	var conn transport.Conn
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = timeout
		ws, _, err := dialer.Dial(addr, nil)
		if err != nil {
			return nil, err
		}
		conn = transport.NewWebSocketConn(ws)
	} else {
		c, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, err
		}
		conn = transport.NewStreamConn(c)
	}

	c := &Client{
		conn:    conn,
		signer:  signer,
		pending: make(map[uint64]chan *protocol.Response),
		pushes:  make(chan *push.Notice, 256),
		done:    make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// Pushes 推送通知
func (c *Client) Pushes() <-chan *push.Notice {
	return c.pushes
}

// Done 连接断开时关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err 断开原因
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call 发送请求并等待同 session id 的响应
func (c *Client) Call(code protocol.RouterCode, body []byte, timeout time.Duration) (*protocol.Response, error) {
	sid := c.seq.Add(1)
	ch := make(chan *protocol.Response, 1)
	c.mu.Lock()
	c.pending[sid] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, sid)
		c.mu.Unlock()
	}()

	if err := c.write(code, sid, body); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, fmt.Errorf("%w: %v", errClientClosed, c.err)
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s: no response within %s", code, timeout)
	}
}

func (c *Client) write(code protocol.RouterCode, sid uint64, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return protocol.WriteRequest(c.conn, &protocol.Request{
		Code:      uint16(code),
		Version:   1,
		SessionID: sid,
		Timestamp: uint64(time.Now().UnixMilli()),
		Body:      body,
	}, c.signer)
}

func (c *Client) receiveLoop() {
	defer close(c.done)
	for {
		resp, err := protocol.ReadResponse(c.conn)
		if err != nil {
			c.err = err
			return
		}

		if resp.SessionID == 0 && resp.Code == uint16(protocol.CodePushMessage) {
			var n push.Notice
			if err := codec.Unmarshal(resp.Body, &n); err != nil {
				continue
			}
			select {
			case c.pushes <- &n:
			default:
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.SessionID]
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// Announce 上报 uid（2001）
func (c *Client) Announce(uid uint64, timeout time.Duration) error {
	w := codec.NewWriter(8)
	w.Uint64(uid)
	resp, err := c.Call(protocol.CodeConnectionState, w.Bytes(), timeout)
	if err != nil {
		return err
	}
	return stateErr(resp)
}

// SendMessage 发送消息（2002）
func (c *Client) SendMessage(from uint64, tid uint8, dst uint64, msgType uint16, content string, timeout time.Duration) (*protocol.Response, error) {
	w := codec.NewWriter(23 + len(content))
	w.Uint64(from)
	w.Uint8(tid)
	w.Uint64(dst)
	w.Uint16(msgType)
	w.Uint16(uint16(len(content)))
	w.Raw([]byte(content))
	return c.Call(protocol.CodeSendMessage, w.Bytes(), timeout)
}

func stateErr(resp *protocol.Response) error {
	if resp.State != protocol.StateOK {
		return fmt.Errorf("%s: %s", resp.State, resp.Message)
	}
	return nil
}

func historyBody(ts int64, limit, order int16, ids ...int64) []byte {
	w := codec.NewWriter(12 + 8*len(ids))
	w.Int64(ts)
	w.Int16(limit)
	w.Int16(order)
	for _, id := range ids {
		w.Int64(id)
	}
	return w.Bytes()
}

func unreadBody(kingdomReadTS, uid int64) []byte {
	w := codec.NewWriter(16)
	w.Int64(kingdomReadTS)
	w.Int64(uid)
	return w.Bytes()
}

func channelBody(tid int16, dstOrTS, uid int64) []byte {
	w := codec.NewWriter(18)
	w.Int16(tid)
	w.Int64(dstOrTS)
	w.Int64(uid)
	return w.Bytes()
}
