package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/qiminjie89/chatsys/internal/cache"
	"github.com/qiminjie89/chatsys/internal/chat"
	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
	"github.com/qiminjie89/chatsys/internal/push"
	"github.com/qiminjie89/chatsys/internal/router"
	"github.com/qiminjie89/chatsys/internal/store"
	"github.com/qiminjie89/chatsys/pkg/auth"
	"github.com/qiminjie89/chatsys/pkg/config"
)

const (
	testSecret      = "sign-secret"
	testAdminSecret = "admin-secret"
)

type fixture struct {
	t        *testing.T
	srv      *Server
	signer   *protocol.Signer
	presence *presence.Registry
	admin    *auth.JWTValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	db, err := store.Open(store.Options{WriteDSN: filepath.Join(t.TempDir(), "chat.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateServer(ctx, store.Server{SID: 500, ServerNumber: 7, Name: "s7"}); err != nil {
		t.Fatal(err)
	}
	for _, uid := range []int64{42, 99} {
		if err := db.CreateUser(ctx, store.User{UUID: uid, UID: int32(uid), Name: "u", ServerID: 7}); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.HealthAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Auth.Secret = testSecret

	signer, err := protocol.NewSigner(testSecret, protocol.SignCity64)
	if err != nil {
		t.Fatal(err)
	}

	reg := presence.NewRegistry()
	bus := event.NewLocalBus(64)
	mem := cache.NewMemory(cache.DefaultMessageTTL)
	dist := push.NewDistributor(reg, 2, 64, log)
	pusher := push.NewPusher(db, reg, dist, log)

	routes := router.New(router.Options{})
	chat.NewService(chat.Config{
		Store:    db,
		Cache:    mem,
		Events:   bus,
		Presence: reg,
		Logger:   log,
		Origin:   cfg.Server.ID,
	}).Register(routes)

	admin := auth.NewJWTValidator(testAdminSecret)
	srv := New(cfg, signer, Deps{
		Routes:   routes,
		Presence: reg,
		Pusher:   pusher,
		Database: db,
		Cache:    mem,
		Bus:      bus,
		Admin:    admin,
		Logger:   log,
	})

	runCtx, cancel := context.WithCancel(ctx)
	dist.Start(runCtx)
	if err := srv.Start(runCtx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		srv.Stop()
		cancel()
		dist.Wait()
		bus.Close()
	})
	return &fixture{t: t, srv: srv, signer: signer, presence: reg, admin: admin}
}

type client struct {
	t      *testing.T
	conn   net.Conn
	signer *protocol.Signer
	seq    uint64
}

func (f *fixture) dial() *client {
	f.t.Helper()
	conn, err := net.Dial("tcp", f.srv.Addr())
	if err != nil {
		f.t.Fatal(err)
	}
	f.t.Cleanup(func() { conn.Close() })
	return &client{t: f.t, conn: conn, signer: f.signer}
}

func (c *client) call(code protocol.RouterCode, body []byte) *protocol.Response {
	c.t.Helper()
	c.seq++
	err := protocol.WriteRequest(c.conn, &protocol.Request{
		Code:      uint16(code),
		Version:   1,
		SessionID: c.seq,
		Timestamp: uint64(time.Now().UnixMilli()),
		Body:      body,
	}, c.signer)
	if err != nil {
		c.t.Fatal(err)
	}
	resp := c.read()
	if resp.SessionID != c.seq {
		c.t.Fatalf("session id %d, want %d", resp.SessionID, c.seq)
	}
	return resp
}

func (c *client) read() *protocol.Response {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := protocol.ReadResponse(c.conn)
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}
	return resp
}

func (c *client) announce(uid uint64) {
	c.t.Helper()
	w := codec.NewWriter(8)
	w.Uint64(uid)
	if resp := c.call(protocol.CodeConnectionState, w.Bytes()); resp.State != protocol.StateOK {
		c.t.Fatalf("announce %d: %+v", uid, resp)
	}
}

func (c *client) readNotice() push.Notice {
	c.t.Helper()
	resp := c.read()
	if resp.Code != uint16(protocol.CodePushMessage) || resp.SessionID != 0 {
		c.t.Fatalf("expected push frame, got %+v", resp)
	}
	var n push.Notice
	if err := codec.Unmarshal(resp.Body, &n); err != nil {
		c.t.Fatal(err)
	}
	return n
}

func (f *fixture) waitOnline(uid uint64) {
	f.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.presence.Lookup(uid); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.t.Fatalf("uid %d never registered", uid)
}

func TestEndToEndSendPushAndHistory(t *testing.T) {
	f := newFixture(t)
	alice := f.dial()
	bob := f.dial()
	alice.announce(42)
	bob.announce(99)
	f.waitOnline(42)
	f.waitOnline(99)

	w := codec.NewWriter(32)
	w.Uint64(42)
	w.Uint8(protocol.KindP2P)
	w.Uint64(99)
	w.Uint16(1)
	w.Uint16(2)
	w.Raw([]byte("hi"))
	resp := alice.call(protocol.CodeSendMessage, w.Bytes())
	if resp.State != protocol.StateOK || resp.Message != "success." {
		t.Fatalf("send %+v", resp)
	}
	var sent chat.SentSummary
	if err := codec.Unmarshal(resp.Body, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.Kind != protocol.KindP2P || sent.Content != "hi" {
		t.Fatalf("summary %+v", sent)
	}

	n := bob.readNotice()
	if n.MID != sent.MID || n.From != 42 || n.Dst != 99 || n.Content != "hi" || n.TID != protocol.KindP2P {
		t.Fatalf("notice %+v", n)
	}

	w = codec.NewWriter(28)
	w.Int64(0)
	w.Int16(10)
	w.Int16(1)
	w.Int64(99)
	w.Int64(42)
	resp = alice.call(protocol.CodeP2PMessageContent, w.Bytes())
	var msgs chat.P2PMessages
	if err := codec.Unmarshal(resp.Body, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MID != sent.MID {
		t.Fatalf("history %+v", msgs)
	}
}

func TestBadSignatureClosesConnection(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	frame := protocol.EncodeRequest(&protocol.Request{Code: 2001, SessionID: 3, Timestamp: 1, Body: []byte{42, 0, 0, 0, 0, 0, 0, 0}}, f.signer)
	frame[12] ^= 0x01
	c.conn.Write(frame)

	resp := c.read()
	if resp.State != protocol.StateGeneralError || resp.Message != protocol.MsgInvalidSignature {
		t.Fatalf("response %+v", resp)
	}
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := c.conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection still open")
	}
	if _, ok := f.presence.Lookup(42); ok {
		t.Fatal("rejected frame registered presence")
	}
}

func TestAdminPushAPI(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	c.announce(42)
	f.waitOnline(42)

	h := f.srv.AdminHandler()
	token, err := f.admin.GenerateToken("ops", []string{auth.ScopePush}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	noScope, err := f.admin.GenerateToken("ops", nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	post := func(path, token string, body any) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("/api/v1/push/broadcast", "", BroadcastRequest{Content: "x"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := post("/api/v1/push/broadcast", noScope, BroadcastRequest{Content: "x"}); rec.Code != http.StatusForbidden {
		t.Fatalf("no scope: %d", rec.Code)
	}
	if rec := post("/api/v1/push/unicast", token, UnicastRequest{UID: 7, Content: "x"}); rec.Code != http.StatusNotFound {
		t.Fatalf("offline unicast: %d", rec.Code)
	}

	rec := post("/api/v1/push/unicast", token, UnicastRequest{UID: 42, Content: "server restart"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unicast: %d %s", rec.Code, rec.Body.String())
	}
	var out PushResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil || out.Delivered != 1 {
		t.Fatalf("push response %+v %v", out, err)
	}

	n := c.readNotice()
	if n.MsgType != protocol.MsgTypeSystem || n.Content != "server restart" {
		t.Fatalf("notice %+v", n)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get("http://" + f.srv.AdminAddr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || h.Status != "healthy" || !h.DatabaseOK || h.EventBus != "local" {
		t.Fatalf("health %d %+v", resp.StatusCode, h)
	}

	metricsResp, err := http.Get("http://" + f.srv.AdminAddr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", metricsResp.StatusCode)
	}

	conn, err := grpc.NewClient(f.srv.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("grpc health %v", out.Status)
	}
}

func TestDisconnectReleasesPresence(t *testing.T) {
	f := newFixture(t)
	c := f.dial()
	c.announce(42)
	f.waitOnline(42)

	c.conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.presence.Lookup(42); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("presence kept after disconnect")
}
