package cache

import (
	"fmt"
	"strconv"
)

// 键语义：
// - roomKey(docID):    房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - metaKey(docID):    房间内 userId → 成员元数据 JSON（Hash，名字 + 颜色）
// - cursorKey(...):    单个成员的光标/选区 JSON（String，带 TTL）

const (
	keyRoomFmt   = "collab:presence:room:{docID:%s}"
	keyMetaFmt   = "collab:presence:meta:{docID:%s}"
	keyCursorFmt = "collab:presence:cursor:%s:%s"
	keyRoomScan  = "collab:presence:room:*"
)

func roomKey(docID string) string { return fmt.Sprintf(keyRoomFmt, docID) }
func metaKey(docID string) string { return fmt.Sprintf(keyMetaFmt, docID) }
func cursorKey(docID string, userID uint64) string {
	return fmt.Sprintf(keyCursorFmt, docID, strconv.FormatUint(userID, 10))
}
