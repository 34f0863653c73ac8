package ws

import (
	"time"

	"aetherCollab/backend/internal/ot"
	"aetherCollab/backend/internal/presence"
)

type ClientMessage struct {
	Type  string `json:"type"`
	DocID string `json:"docId,omitempty"`
	// 客户端实例标识。同一用户可有多个 clientId（多端/多标签页）
	ClientID string `json:"clientId,omitempty"`
	// 针对同一个 clientId 的本地递增序号
	ClientSeq      uint64                   `json:"clientSeq,omitempty"`
	BaseVersion    uint64                   `json:"baseVersion,omitempty"`
	Op             *ot.Operation            `json:"op,omitempty"`
	CursorPosition *int                     `json:"cursorPosition,omitempty"`
	Selection      *presence.SelectionRange `json:"selection,omitempty"`
	Status         string                   `json:"status,omitempty"`
	Message        string                   `json:"message,omitempty"`
}

type ServerMessage struct {
	Type          string                          `json:"type"`
	DocID         string                          `json:"docId,omitempty"`
	UserID        uint64                          `json:"userId,omitempty"`
	Version       uint64                          `json:"version,omitempty"`
	Content       string                          `json:"content,omitempty"`
	Collaborators []presence.CollaboratorPresence `json:"collaborators,omitempty"`
	Code          string                          `json:"code,omitempty"`
}

// OpAckMessage 回给提交方：其余协作者走 op_broadcast
type OpAckMessage struct {
	Type        string `json:"type"` // 固定 "op_applied"
	DocID       string `json:"docId"`
	OperationID string `json:"operationId"`
	BaseVersion uint64 `json:"baseVersion"`
	Version     uint64 `json:"version"` // 服务端应用后的最新版本
	Transformed bool   `json:"transformed"`
	ClientID    string `json:"clientId,omitempty"`
	ClientSeq   uint64 `json:"clientSeq,omitempty"`
}

// OpBroadcastMessage 推给同文档房间内其他连接的已应用操作。
// 前端收到后在本地应用 ops，并把本地版本对齐到 version
type OpBroadcastMessage struct {
	Type        string         `json:"type"` // 固定 "op_broadcast"
	DocID       string         `json:"docId"`
	OperationID string         `json:"operationId"`
	Version     uint64         `json:"version"`
	AuthorID    uint64         `json:"authorId"`
	Ops         []ot.Operation `json:"ops"`
	AppliedAt   time.Time      `json:"appliedAt,omitempty"`
}

type PresenceBroadcastMessage struct {
	Type           string `json:"type"` // 固定 "presence"
	DocID          string `json:"docId"`
	UserID         uint64 `json:"userId"`
	DisplayName    string `json:"displayName,omitempty"`
	Status         string `json:"status"`
	CursorPosition *int   `json:"cursorPosition,omitempty"`
	Color          string `json:"color,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string            { return m.Type }
func (m OpAckMessage) MessageType() string             { return m.Type }
func (m OpBroadcastMessage) MessageType() string       { return m.Type }
func (m PresenceBroadcastMessage) MessageType() string { return m.Type }
