package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{WriteDSN: filepath.Join(t.TempDir(), "chat.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	if err := db.CreateServer(ctx, Server{SID: 500, ServerNumber: 7, Name: "s7"}); err != nil {
		t.Fatal(err)
	}
	for _, u := range []User{
		{UUID: 1, UID: 101, Name: "alice", ServerID: 7},
		{UUID: 2, UID: 102, Name: "bob", ServerID: 7},
		{UUID: 3, UID: 103, Name: "carol", ServerID: 7},
	} {
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpenAndPing(t *testing.T) {
	db := openTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if db.Read() == nil {
		t.Fatal("read pool is nil")
	}
}

func TestOpenEmptyDSN(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestKingdomLookup(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	ctx := context.Background()

	kid, err := db.KingdomIDByServerNumber(ctx, 7)
	if err != nil || kid != 500 {
		t.Fatalf("KingdomIDByServerNumber: got %d %v", kid, err)
	}
	if _, err := db.KingdomIDByServerNumber(ctx, 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	kid, err = db.KingdomIDByUser(ctx, 2)
	if err != nil || kid != 500 {
		t.Fatalf("KingdomIDByUser: got %d %v", kid, err)
	}
	ids, err := db.KingdomMemberIDs(ctx, 500)
	if err != nil || len(ids) != 3 {
		t.Fatalf("KingdomMemberIDs: got %v %v", ids, err)
	}

	u, err := db.ChatUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.UID != 101 || u.Name != "alice" || u.ServerID != 7 {
		t.Fatalf("user mismatch: %+v", u)
	}
	if _, err := db.ChatUser(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlacklist(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.AddBlacklist(ctx, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.AddBlacklist(ctx, 2, 1); err != nil {
		t.Fatalf("duplicate blacklist: %v", err)
	}
	if ok, err := db.IsBlacklisted(ctx, 2, 1); err != nil || !ok {
		t.Fatalf("IsBlacklisted(2,1): got %v %v", ok, err)
	}
	if ok, err := db.IsBlacklisted(ctx, 1, 2); err != nil || ok {
		t.Fatalf("IsBlacklisted(1,2): got %v %v", ok, err)
	}
}

func TestGroupMessageBumpsOthers(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	ctx := context.Background()

	if err := db.CreateGroup(ctx, Group{GID: 9, Name: "guild", OwnerUUID: 1}); err != nil {
		t.Fatal(err)
	}
	for _, uid := range []int64{2, 3, 3} {
		if err := db.AddGroupMember(ctx, 9, uid); err != nil {
			t.Fatal(err)
		}
	}
	g, err := db.Group(ctx, 9)
	if err != nil || g.PersonCount != 3 {
		t.Fatalf("group: %+v %v", g, err)
	}

	for i, mid := range []int64{10, 11} {
		m := &Message{MID: mid, SendID: 1, ToID: 9, Content: "hi", CreatedTimestamp: int64(1000 + i), Kind: 2, MsgType: 1}
		if err := db.InsertGroupMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	own, err := db.GroupMembership(ctx, 9, 1)
	if err != nil || own.UnreadCount != 0 {
		t.Fatalf("sender membership: %+v %v", own, err)
	}
	other, err := db.GroupMembership(ctx, 9, 2)
	if err != nil || other.UnreadCount != 2 {
		t.Fatalf("member membership: %+v %v", other, err)
	}

	groups, err := db.UnreadGroups(ctx, 3)
	if err != nil || len(groups) != 1 || groups[0].GID != 9 {
		t.Fatalf("UnreadGroups: %+v %v", groups, err)
	}

	if err := db.ResetGroupUnread(ctx, 9, 2, 1001); err != nil {
		t.Fatal(err)
	}
	other, _ = db.GroupMembership(ctx, 9, 2)
	if other.UnreadCount != 0 || other.LatestTimestamp != 1001 {
		t.Fatalf("after reset: %+v", other)
	}

	ids, err := db.GroupMemberIDs(ctx, 9)
	if err != nil || len(ids) != 3 || ids[0] != 1 {
		t.Fatalf("GroupMemberIDs: %v %v", ids, err)
	}
}

func TestP2PMessageUpsertsCounter(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		m := &Message{MID: 20 + i, SendID: 1, ToID: 2, Content: "yo", CreatedTimestamp: 2000 + i, Kind: 3, MsgType: 1}
		if err := db.InsertP2PMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.UnreadCount(ctx, 2, 1)
	if err != nil || n != 3 {
		t.Fatalf("UnreadCount: got %d %v", n, err)
	}
	if _, err := db.UnreadCount(ctx, 1, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	counters, err := db.UnreadCounters(ctx, 2)
	if err != nil || len(counters) != 1 {
		t.Fatalf("UnreadCounters: %+v %v", counters, err)
	}
	if c := counters[0]; c.Peer != 1 || c.LatestTimestamp != 0 || c.UnreadCount != 3 {
		t.Fatalf("counter mismatch: %+v", c)
	}

	latest, err := db.LatestP2PSince(ctx, 1, 2, 0)
	if err != nil || latest.MID != 22 {
		t.Fatalf("LatestP2PSince: %+v %v", latest, err)
	}

	if err := db.ResetUnread(ctx, 2, 1, 2002); err != nil {
		t.Fatal(err)
	}
	counters, _ = db.UnreadCounters(ctx, 2)
	if len(counters) != 0 {
		t.Fatalf("expected no unread counters, got %+v", counters)
	}
	if _, err := db.LatestP2PSince(ctx, 1, 2, 2002); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChannelMessagesOrdering(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		m := &Message{MID: i, SendID: 1, ToID: 500, Content: "k", CreatedTimestamp: i * 100, Kind: 1, MsgType: 1}
		if err := db.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	// 其他频道的消息不应出现
	if err := db.InsertMessage(ctx, &Message{MID: 99, SendID: 1, ToID: 500, Content: "g", CreatedTimestamp: 150, Kind: 2, MsgType: 1}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    MessageQuery
		want []int64
	}{
		{"desc all", MessageQuery{Limit: 10, Order: OrderDesc}, []int64{5, 4, 3, 2, 1}},
		{"asc all", MessageQuery{Limit: 10, Order: OrderAsc}, []int64{1, 2, 3, 4, 5}},
		{"desc before", MessageQuery{Since: 300, Limit: 10, Order: OrderDesc}, []int64{2, 1}},
		{"asc after", MessageQuery{Since: 300, Limit: 10, Order: OrderAsc}, []int64{4, 5}},
		{"limit", MessageQuery{Limit: 2, Order: OrderDesc}, []int64{5, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := db.ChannelMessages(ctx, 500, 1, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(msgs), len(tt.want))
			}
			for i, m := range msgs {
				if m.MID != tt.want[i] {
					t.Fatalf("msgs[%d].MID = %d, want %d", i, m.MID, tt.want[i])
				}
			}
		})
	}

	n, err := db.CountSince(ctx, 500, 1, 200)
	if err != nil || n != 3 {
		t.Fatalf("CountSince: got %d %v", n, err)
	}
	latest, err := db.LatestSince(ctx, 500, 1, 0)
	if err != nil || latest.MID != 5 {
		t.Fatalf("LatestSince: %+v %v", latest, err)
	}
	if _, err := db.LatestSince(ctx, 500, 1, 500); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChannelMessagesUnknownOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		m := &Message{MID: i, SendID: 1, ToID: 500, Content: "k", CreatedTimestamp: i * 100, Kind: 1, MsgType: 1}
		if err := db.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ChannelMessages(ctx, 500, 1, MessageQuery{Since: 300, Limit: 10, Order: 2})
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]bool)
	for _, m := range msgs {
		seen[m.MID] = true
	}
	if len(msgs) != 5 || len(seen) != 5 {
		t.Fatalf("got %d messages, want all 5 without a time filter", len(msgs))
	}
}

func TestP2PMessagesBothDirections(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	msgs := []*Message{
		{MID: 1, SendID: 1, ToID: 2, Content: "a", CreatedTimestamp: 10, Kind: 3, MsgType: 1},
		{MID: 2, SendID: 2, ToID: 1, Content: "b", CreatedTimestamp: 20, Kind: 3, MsgType: 1},
		{MID: 3, SendID: 1, ToID: 3, Content: "c", CreatedTimestamp: 30, Kind: 3, MsgType: 1},
	}
	for _, m := range msgs {
		if err := db.InsertP2PMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.P2PMessages(ctx, 2, 1, MessageQuery{Limit: 10, Order: OrderAsc})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].MID != 1 || got[1].MID != 2 {
		t.Fatalf("P2PMessages: %+v", got)
	}
}
