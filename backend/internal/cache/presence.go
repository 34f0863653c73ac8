package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 跨实例的在线状态镜像。内存里的 presence.Tracker 才是本实例的
// 权威视图，这里只做共享：别的实例（和重启后的本实例）从 Redis 看到谁在线。
type PresenceCache interface {
	AddMember(ctx context.Context, docID string, userID uint64, meta MemberMeta, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, userID uint64) error
	GetAliveMembers(ctx context.Context, docID string) ([]Member, error)
	GetDocuments(ctx context.Context) ([]string, error)
	SetCursor(ctx context.Context, docID string, userID uint64, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID string, userID uint64) ([]byte, error)
}

// MemberMeta 随成员一起存进名字表的静态信息
type MemberMeta struct {
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
}

type Member struct {
	UserID uint64
	MemberMeta
}

type redisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, docID string, userID uint64, meta MemberMeta, ttl time.Duration) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	// 刷新TTL也直接调用AddMember即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达"逻辑 TTL"
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, metaKey(docID), userID, b)
	_, err = tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID string, userID uint64) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), userID)
	tx.HDel(ctx, metaKey(docID), strconv.FormatUint(userID, 10))
	tx.Del(ctx, cursorKey(docID, userID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetDocuments(ctx context.Context) ([]string, error) {
	var documents []string
	iter := p.rdb.Scan(ctx, 0, keyRoomScan, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// room 键形如 collab:presence:room:{docID:xxx}
		const prefix = "collab:presence:room:{docID:"
		if len(k) <= len(prefix)+1 || k[:len(prefix)] != prefix {
			continue
		}
		docID := k[len(prefix) : len(k)-1]
		if docID != "" {
			documents = append(documents, docID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return documents, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, docID string, userID uint64, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID string, userID uint64) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(docID, userID)).Bytes()
}

// 清理过期成员的同时读出在线成员。
// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
var sweepScript = redis.NewScript(`
-- KEYS[1] = roomKey(docID)
-- KEYS[2] = metaKey(docID)
-- ARGV[1] = now (unix seconds)

local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) GetAliveMembers(ctx context.Context, docID string) ([]Member, error) {
	now := time.Now().Unix()

	_, err := sweepScript.Run(ctx, p.rdb, []string{roomKey(docID), metaKey(docID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	metas, err := p.rdb.HMGet(ctx, metaKey(docID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	members := make([]Member, 0, len(aliveIDs))
	for i, id := range aliveIDs {
		uid, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, err
		}
		m := Member{UserID: uid}
		if i < len(metas) && metas[i] != nil {
			if s, ok := metas[i].(string); ok {
				_ = json.Unmarshal([]byte(s), &m.MemberMeta)
			}
		}
		members = append(members, m)
	}
	return members, nil
}
