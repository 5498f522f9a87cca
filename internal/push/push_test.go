package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/event"
	"github.com/qiminjie89/chatsys/internal/presence"
	"github.com/qiminjie89/chatsys/internal/protocol"
)

type recordConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	got    chan struct{}
}

func newRecordConn(id string) *recordConn {
	return &recordConn{id: id, got: make(chan struct{}, 16)}
}

func (c *recordConn) ID() string         { return c.id }
func (c *recordConn) RemoteAddr() string { return "test" }
func (c *recordConn) Send(data []byte) error {
	defer func() { c.got <- struct{}{} }()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	c.frames = append(c.frames, data)
	c.mu.Unlock()
	return nil
}

func (c *recordConn) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("conn %s: no frame", c.id)
	}
}

type fakeDirectory struct {
	groups   map[int64][]int64
	kingdoms map[int64][]int64
}

func (d *fakeDirectory) GroupMemberIDs(_ context.Context, gid int64) ([]int64, error) {
	return d.groups[gid], nil
}

func (d *fakeDirectory) KingdomMemberIDs(_ context.Context, kid int64) ([]int64, error) {
	return d.kingdoms[kid], nil
}

func TestNoticeFrame(t *testing.T) {
	in := &Notice{TID: 3, From: 1, Dst: 2, MID: 77, Content: "hey", CreatedTimestamp: 123, MsgType: 1}
	data, err := EncodeNotice(in)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != uint16(protocol.CodePushMessage) || resp.State != protocol.StateOK || resp.SessionID != 0 {
		t.Fatalf("header: %+v", resp)
	}
	var out Notice
	if err := codec.Unmarshal(resp.Body, &out); err != nil {
		t.Fatal(err)
	}
	if out != *in {
		t.Fatalf("got %+v, want %+v", out, *in)
	}
}

func TestRecipients(t *testing.T) {
	reg := presence.NewRegistry()
	for _, uid := range []uint64{1, 2, 3} {
		reg.Register(uid, newRecordConn("c"))
	}
	dir := &fakeDirectory{
		groups:   map[int64][]int64{9: {1, 2, 4}},
		kingdoms: map[int64][]int64{500: {1, 2, 3, 5}},
	}
	p := NewPusher(dir, reg, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name string
		e    *event.ChatEvent
		want []uint64
	}{
		{"p2p", &event.ChatEvent{Kind: protocol.KindP2P, From: 1, Dst: 3}, []uint64{3}},
		{"p2p offline", &event.ChatEvent{Kind: protocol.KindP2P, From: 1, Dst: 4}, nil},
		{"group excludes sender and offline", &event.ChatEvent{Kind: protocol.KindGroup, From: 1, Dst: 9}, []uint64{2}},
		{"kingdom", &event.ChatEvent{Kind: protocol.KindKingdom, From: 2, Dst: 500}, []uint64{1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Recipients(ctx, tt.e)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}

	if _, err := p.Recipients(ctx, &event.ChatEvent{Kind: protocol.KindAlliance}); err == nil {
		t.Fatal("expected error for alliance kind")
	}
}

func TestDistributorDeliversAndEvicts(t *testing.T) {
	reg := presence.NewRegistry()
	good := newRecordConn("good")
	bad := newRecordConn("bad")
	bad.fail = true
	reg.Register(1, good)
	reg.Register(2, bad)

	d := NewDistributor(reg, 4, 8, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	defer func() {
		cancel()
		d.Wait()
	}()

	if dropped := d.Enqueue([]uint64{1, 2, 3}, []byte("frame")); dropped != 0 {
		t.Fatalf("dropped %d", dropped)
	}
	good.wait(t)
	bad.wait(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := reg.Lookup(2); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale handle not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := reg.Lookup(1); !ok {
		t.Fatal("healthy handle evicted")
	}
	good.mu.Lock()
	defer good.mu.Unlock()
	if len(good.frames) != 1 || string(good.frames[0]) != "frame" {
		t.Fatalf("frames: %q", good.frames)
	}
}

func TestDistributorEvictKeepsReplacement(t *testing.T) {
	reg := presence.NewRegistry()
	bad := newRecordConn("bad")
	bad.fail = true
	fresh := newRecordConn("fresh")
	reg.Register(1, bad)

	d := NewDistributor(reg, 1, 1, zaptest.NewLogger(t))
	// 未启动 worker：手动投递，模拟发送期间用户已重连
	d.Enqueue([]uint64{1}, []byte("x"))
	reg.Register(1, fresh)
	job := <-d.shards[0]
	d.deliver(job)

	if conn, ok := reg.Lookup(1); !ok || conn != fresh {
		t.Fatalf("replacement handle lost: %v %v", conn, ok)
	}
}

func TestDistributorQueueFull(t *testing.T) {
	reg := presence.NewRegistry()
	d := NewDistributor(reg, 1, 1, zaptest.NewLogger(t))
	if dropped := d.Enqueue([]uint64{1}, []byte("a")); dropped != 0 {
		t.Fatalf("first enqueue dropped %d", dropped)
	}
	if dropped := d.Enqueue([]uint64{1, 2}, []byte("b")); dropped != 2 {
		t.Fatalf("second enqueue dropped %d, want 2", dropped)
	}
}

func TestPusherHandleEventAndBroadcast(t *testing.T) {
	reg := presence.NewRegistry()
	alice := newRecordConn("alice")
	bob := newRecordConn("bob")
	reg.Register(1, alice)
	reg.Register(2, bob)

	d := NewDistributor(reg, 2, 8, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	defer func() {
		cancel()
		d.Wait()
	}()
	p := NewPusher(&fakeDirectory{}, reg, d, zaptest.NewLogger(t))

	p.HandleEvent(ctx, &event.ChatEvent{Kind: protocol.KindP2P, MID: 5, From: 1, Dst: 2, Content: "hi", MsgType: 1})
	bob.wait(t)

	n, err := p.Broadcast("maintenance")
	if err != nil || n != 2 {
		t.Fatalf("broadcast: %d %v", n, err)
	}
	alice.wait(t)
	bob.wait(t)

	bob.mu.Lock()
	defer bob.mu.Unlock()
	if len(bob.frames) != 2 {
		t.Fatalf("bob frames: %d", len(bob.frames))
	}
	resp, err := protocol.DecodeResponse(bob.frames[1])
	if err != nil {
		t.Fatal(err)
	}
	var notice Notice
	if err := codec.Unmarshal(resp.Body, &notice); err != nil {
		t.Fatal(err)
	}
	if notice.MsgType != protocol.MsgTypeSystem || notice.Content != "maintenance" {
		t.Fatalf("notice: %+v", notice)
	}

	if n, _ := p.Multicast([]uint64{1, 99}, "x"); n != 1 {
		t.Fatalf("multicast reached %d, want 1", n)
	}
	alice.wait(t)
}
