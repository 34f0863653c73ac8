package store

import (
	"context"
	"time"
)

// 持久化布局：每文档一条快照式记录 + 每已应用操作一条 append-only 记录，
// 足以确定性地重放历史。事务语义就是按文档 last-write-wins，
// 真正的串行化由 collab.Manager 的文档级锁提供。

type DocumentRecord struct {
	DocID        string
	Content      string
	Version      uint64
	LastModified time.Time
}

type OperationRecord struct {
	OpID        string
	DocID       string
	Version     uint64 // 应用后的文档版本
	Seq         int    // 同一次提交内的原语序号（delete 拆段时 > 0）
	Kind        string
	Position    int
	Length      int
	Content     string
	AuthorID    uint64
	BaseVersion uint64
	Timestamp   time.Time
}

type ConflictRecord struct {
	ConflictID string
	DocID      string
	Strategy   string
	WinnerOpID string
	Detail     string // 冲突操作集合的 JSON
	ResolvedAt time.Time
}

// Store 文档存取边界。LoadDocument 不存在时返回 (nil, nil)，这是合法结果不是错误。
type Store interface {
	LoadDocument(ctx context.Context, docID string) (*DocumentRecord, error)
	// LoadOperations 返回 fromVersion 之后的操作（按版本升序），limit <= 0 不限制
	LoadOperations(ctx context.Context, docID string, fromVersion uint64, limit int) ([]OperationRecord, error)
	// SaveDocument 落一版文档状态并追加本次提交的操作记录
	SaveDocument(ctx context.Context, doc DocumentRecord, ops []OperationRecord) error
	SaveSnapshot(ctx context.Context, docID string, version uint64, content string, authorID uint64, message string) error
	SaveConflict(ctx context.Context, rec ConflictRecord) error
}
