// Package transport 提供传输层抽象，TCP 与 WebSocket 都以字节流形式交给会话
package transport

import (
	"errors"
	"io"
	"net"
	"time"
)

// ErrListenerClosed 监听器已关闭
var ErrListenerClosed = errors.New("transport: listener closed")

// Conn 连接接口
type Conn interface {
	io.ReadWriteCloser
	// RemoteAddr 返回远程地址
	RemoteAddr() string
	// SetReadDeadline 设置读超时，零值表示不超时
	SetReadDeadline(t time.Time) error
	// SetWriteDeadline 设置写超时，零值表示不超时
	SetWriteDeadline(t time.Time) error
}

// Listener 监听器接口
type Listener interface {
	// Accept 接受新连接，关闭后返回 ErrListenerClosed
	Accept() (Conn, error)
	// Addr 实际监听地址
	Addr() string
	// Name 传输名称（指标标签）
	Name() string
	Close() error
}

// TCPListener TCP 监听器
type TCPListener struct {
	ln net.Listener
}

// ListenTCP 监听 TCP 地址
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

// Accept 实现 Listener
func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return NewStreamConn(c), nil
}

// Addr 实现 Listener
func (l *TCPListener) Addr() string { return l.ln.Addr().String() }

// Name 实现 Listener
func (l *TCPListener) Name() string { return "tcp" }

// Close 实现 Listener
func (l *TCPListener) Close() error { return l.ln.Close() }

// StreamConn 基于 net.Conn 的连接
type StreamConn struct {
	c net.Conn
}

// NewStreamConn 包装 net.Conn（测试中可配合 net.Pipe 使用）
func NewStreamConn(c net.Conn) *StreamConn {
	return &StreamConn{c: c}
}

func (s *StreamConn) Read(p []byte) (int, error)         { return s.c.Read(p) }
func (s *StreamConn) Write(p []byte) (int, error)        { return s.c.Write(p) }
func (s *StreamConn) Close() error                       { return s.c.Close() }
func (s *StreamConn) SetReadDeadline(t time.Time) error  { return s.c.SetReadDeadline(t) }
func (s *StreamConn) SetWriteDeadline(t time.Time) error { return s.c.SetWriteDeadline(t) }

// RemoteAddr 返回远程地址
func (s *StreamConn) RemoteAddr() string {
	if addr := s.c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// IsTimeout 判断是否为 I/O 超时
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
