package presence

import (
	"sync"
	"testing"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) RemoteAddr() string     { return "pipe" }
func (c *fakeConn) Send(data []byte) error { return nil }

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}

	if replaced := r.Register(42, a); replaced != nil {
		t.Fatalf("first register replaced %v", replaced)
	}
	if replaced := r.Register(42, b); replaced != a {
		t.Fatalf("expected a to be replaced, got %v", replaced)
	}
	if replaced := r.Register(42, b); replaced != nil {
		t.Fatalf("re-register of same handle reported replacement")
	}

	conn, ok := r.Lookup(42)
	if !ok || conn != b {
		t.Fatalf("lookup: %v %v", conn, ok)
	}
	if r.Count() != 1 {
		t.Fatalf("count %d", r.Count())
	}
	if _, ok := r.Lookup(43); ok {
		t.Fatal("unexpected entry for 43")
	}
}

func TestUnregisterComparesHandle(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Register(7, a)
	r.Register(7, b)

	if r.Unregister(7, a) {
		t.Fatal("stale handle removed the live entry")
	}
	if !r.Unregister(7, b) {
		t.Fatal("live handle not removed")
	}
	if _, ok := r.Lookup(7); ok {
		t.Fatal("entry still present")
	}
}

func TestConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			conn := &fakeConn{id: "g"}
			for i := 0; i < 1000; i++ {
				uid := uint64(g*1000 + i)
				r.Register(uid, conn)
				if _, ok := r.Lookup(uid); !ok {
					t.Errorf("lookup %d failed", uid)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if r.Count() != 16000 || len(r.UIDs()) != 16000 {
		t.Fatalf("count %d uids %d", r.Count(), len(r.UIDs()))
	}
}

func TestReleaseOnlyOwnEntries(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Register(1, a)
	r.Register(2, a)
	r.Register(2, b)

	if n := r.Release(a, []uint64{1, 2, 3}); n != 1 {
		t.Fatalf("released %d, want 1", n)
	}
	if _, ok := r.Lookup(1); ok {
		t.Fatal("uid 1 still registered")
	}
	if conn, ok := r.Lookup(2); !ok || conn != b {
		t.Fatal("uid 2 should stay on b")
	}
}
