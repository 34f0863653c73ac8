package collab

import (
	"time"

	"aetherCollab/backend/internal/ot"
)

type DocOpEvent struct {
	EventType   string `json:"eventType"` // 固定 "OP_APPLIED"
	DocID       string `json:"docId"`
	OperationID string `json:"operationId"`
	Version     uint64 `json:"version"` // 应用后的最新版本
	AuthorID    uint64 `json:"authorId"`
	// 提交方连接的标识，fan-out 时跳过它（提交方走 ack 通道）
	Origin    string         `json:"origin,omitempty"`
	Ops       []ot.Operation `json:"ops"`
	AppliedAt time.Time      `json:"appliedAt"`
}

type PresenceEvent struct {
	EventType      string `json:"eventType"` // 固定 "PRESENCE_CHANGED"
	DocID          string `json:"docId"`
	UserID         uint64 `json:"userId"`
	DisplayName    string `json:"displayName,omitempty"`
	Status         string `json:"status"`
	CursorPosition *int   `json:"cursorPosition,omitempty"`
	Color          string `json:"color,omitempty"`
}

// Notifier 把已应用操作 / 在线状态变化推给其他参与者。
// 实现必须是尽力而为：慢消费者或断连的订阅者不能拖住 Apply。
type Notifier interface {
	NotifyOpApplied(evt DocOpEvent)
	NotifyPresence(evt PresenceEvent)
}
