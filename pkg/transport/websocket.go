package transport

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	Path             string
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	// AcceptBacklog 已握手但未被 Accept 的连接上限
	AcceptBacklog int
}

// WebSocketListener WebSocket 监听器，每个二进制消息承载帧字节流的一段
type WebSocketListener struct {
	upgrader websocket.Upgrader
	path     string
	server   *http.Server
	addr     string

	connCh    chan *WebSocketConn
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewWebSocketListener 创建 WebSocket 监听器（仅作为 http.Handler 使用）
func NewWebSocketListener(cfg WebSocketConfig) *WebSocketListener {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 4096
	}
	if cfg.AcceptBacklog <= 0 {
		cfg.AcceptBacklog = 1000
	}
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true // 客户端为游戏进程，无浏览器 Origin
			},
		},
		path:   cfg.Path,
		connCh: make(chan *WebSocketConn, cfg.AcceptBacklog),
		doneCh: make(chan struct{}),
	}
}

// ListenWebSocket 监听地址并在 cfg.Path 上接受 WebSocket 连接
func ListenWebSocket(addr string, cfg WebSocketConfig) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := NewWebSocketListener(cfg)
	l.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(l.path, l)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go l.server.Serve(ln)
	return l, nil
}

// ServeHTTP 升级连接并交给 Accept
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &WebSocketConn{ws: ws, remoteAddr: r.RemoteAddr}

	select {
	case l.connCh <- conn:
	case <-l.doneCh:
		ws.Close()
	}
}

// Accept 实现 Listener
func (l *WebSocketListener) Accept() (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.doneCh:
		return nil, ErrListenerClosed
	}
}

// Addr 实现 Listener
func (l *WebSocketListener) Addr() string { return l.addr }

// Name 实现 Listener
func (l *WebSocketListener) Name() string { return "websocket" }

// Close 实现 Listener
func (l *WebSocketListener) Close() error {
	l.closeOnce.Do(func() { close(l.doneCh) })
	if l.server != nil {
		return l.server.Close()
	}
	return nil
}

// WebSocketConn WebSocket 连接，Read 跨消息边界连续读取
type WebSocketConn struct {
	ws         *websocket.Conn
	remoteAddr string
	reader     io.Reader
}

// NewWebSocketConn 包装客户端侧 websocket.Conn
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws, remoteAddr: ws.RemoteAddr().String()}
}

// Read 读取数据，当前消息读完后继续读下一条
func (c *WebSocketConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write 每次写入作为一条二进制消息发送
func (c *WebSocketConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 关闭连接
func (c *WebSocketConn) Close() error {
	return c.ws.Close()
}

// RemoteAddr 返回远程地址
func (c *WebSocketConn) RemoteAddr() string {
	return c.remoteAddr
}

// SetReadDeadline 设置读超时
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline 设置写超时
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
