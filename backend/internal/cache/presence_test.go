package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (PresenceCache, *redis.Client) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.FlushAll(context.Background()).Err() })
	return NewRedisPresence(rdb), rdb
}

func TestAddAndListMembers(t *testing.T) {
	p, _ := newTestCache(t)
	ctx := context.Background()

	if err := p.AddMember(ctx, "doc1", 1, MemberMeta{Username: "alice", Color: "#e6194b"}, time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := p.AddMember(ctx, "doc1", 2, MemberMeta{Username: "bob", Color: "#3cb44b"}, time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	members, err := p.GetAliveMembers(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetAliveMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	byID := map[uint64]Member{}
	for _, m := range members {
		byID[m.UserID] = m
	}
	if byID[1].Username != "alice" || byID[1].Color != "#e6194b" {
		t.Fatalf("member 1 meta = %+v", byID[1])
	}
}

// 逻辑 TTL 到期的成员被 Lua 清扫掉，不再出现在结果里
func TestExpiredMemberSwept(t *testing.T) {
	p, rdb := newTestCache(t)
	ctx := context.Background()

	if err := p.AddMember(ctx, "doc1", 1, MemberMeta{Username: "alice"}, time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	// 把 score 拨回过去，模拟过期
	if err := rdb.ZAdd(ctx, roomKey("doc1"), redis.Z{
		Score:  float64(time.Now().Add(-time.Hour).Unix()),
		Member: uint64(1),
	}).Err(); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	members, err := p.GetAliveMembers(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetAliveMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expired member still listed: %+v", members)
	}
	// 名字表也要被一并清掉
	n, err := rdb.HLen(ctx, metaKey("doc1")).Result()
	if err != nil {
		t.Fatalf("HLen: %v", err)
	}
	if n != 0 {
		t.Fatalf("meta hash entries = %d, want 0", n)
	}
}

func TestRemoveMember(t *testing.T) {
	p, _ := newTestCache(t)
	ctx := context.Background()

	if err := p.AddMember(ctx, "doc1", 1, MemberMeta{Username: "alice"}, time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := p.RemoveMember(ctx, "doc1", 1); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	members, err := p.GetAliveMembers(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetAliveMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("removed member still listed: %+v", members)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	p, _ := newTestCache(t)
	ctx := context.Background()

	payload := []byte(`{"cursorPosition":42}`)
	if err := p.SetCursor(ctx, "doc1", 1, payload, time.Minute); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	got, err := p.GetCursor(ctx, "doc1", 1)
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("cursor = %s, want %s", got, payload)
	}
}

func TestGetDocuments(t *testing.T) {
	p, _ := newTestCache(t)
	ctx := context.Background()

	if err := p.AddMember(ctx, "docA", 1, MemberMeta{Username: "alice"}, time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := p.AddMember(ctx, "docB", 2, MemberMeta{Username: "bob"}, time.Minute); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	docs, err := p.GetDocuments(ctx)
	if err != nil {
		t.Fatalf("GetDocuments: %v", err)
	}
	seen := map[string]bool{}
	for _, d := range docs {
		seen[d] = true
	}
	if !seen["docA"] || !seen["docB"] {
		t.Fatalf("documents = %v, want docA and docB", docs)
	}
}
