package router

import (
	"context"
	"errors"
	"testing"

	"github.com/qiminjie89/chatsys/internal/codec"
	"github.com/qiminjie89/chatsys/internal/protocol"
)

type countBody struct {
	N int16
}

func (b *countBody) EncodeFields(w *codec.Writer) { w.Int16(b.N) }
func (b *countBody) DecodeFields(r *codec.Reader) { b.N = r.Int16() }

func newContext(code uint16) *Context {
	return &Context{Request: &protocol.Request{Code: code, SessionID: 5}}
}

func TestResolveUnknownCode(t *testing.T) {
	strict := New(Options{})
	if got := strict.Resolve(9999); got != protocol.RouterCode(9999) {
		t.Fatalf("strict resolve: %v", got)
	}
	if got := strict.Resolve(2004); got != protocol.CodeUnreadMessageCount {
		t.Fatalf("known code resolve: %v", got)
	}

	alias := New(Options{AliasUnknown: true})
	if got := alias.Resolve(9999); got != protocol.CodeConnectionState {
		t.Fatalf("alias resolve: %v", got)
	}
}

func TestCallNotFound(t *testing.T) {
	r := New(Options{})
	_, err := r.Call(context.Background(), r.Resolve(9999), newContext(9999))
	if !errors.Is(err, ErrRouterNotFound) {
		t.Fatalf("expected ErrRouterNotFound, got %v", err)
	}
	if err.Error() != "router code not found." {
		t.Fatalf("client message %q", err.Error())
	}
}

func TestCallDispatch(t *testing.T) {
	r := New(Options{})
	called := map[protocol.RouterCode]int{}
	for _, code := range protocol.RouterCodes {
		code := code
		r.Register(code, func(ctx context.Context, c *Context) (*protocol.Response, error) {
			called[code]++
			return c.OK("success", &countBody{N: int16(code)})
		})
	}
	if r.Len() != len(protocol.RouterCodes) {
		t.Fatalf("registered %d handlers", r.Len())
	}

	c := newContext(2006)
	resp, err := r.Call(context.Background(), r.Resolve(2006), c)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if called[protocol.CodeGroupMessageContent] != 1 || len(called) != 1 {
		t.Fatalf("dispatch mismatch: %v", called)
	}
	if resp.Code != 2006 || resp.SessionID != 5 || resp.State != protocol.StateOK {
		t.Fatalf("unexpected response %+v", resp)
	}
	var body countBody
	if err := codec.Unmarshal(resp.Body, &body); err != nil || body.N != 2006 {
		t.Fatalf("body %+v %v", body, err)
	}
}

func TestAliasedResponseCode(t *testing.T) {
	r := New(Options{AliasUnknown: true})
	r.Register(protocol.CodeConnectionState, func(ctx context.Context, c *Context) (*protocol.Response, error) {
		return c.GeneralError("invaild user param.")
	})
	resp, err := r.Call(context.Background(), r.Resolve(1234), newContext(1234))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Code != uint16(protocol.CodeConnectionState) || resp.State != protocol.StateGeneralError || resp.Body != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}
