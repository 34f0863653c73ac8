package ws

import (
	"sync"

	"aetherCollab/backend/internal/collab"
)

// Hub 文档房间注册表，同时是 collab.Manager 的 fan-out 通道之一。
// 房间里存连接而不是 userID：一个用户可开多个标签页/设备，广播要逐连接发。
type Hub struct {
	mu sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// snapshotRoom 持锁拷贝房间成员。房间 map 只能在锁内遍历：
// 放锁后再迭代会和 Join/Leave 的写操作撞上，并发读写 map 直接把进程打挂
func (h *Hub) snapshotRoom(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[docID]
	if len(room) == 0 {
		return nil
	}
	conns := make([]*Conn, 0, len(room))
	for c := range room {
		conns = append(conns, c)
	}
	return conns
}

// NotifyOpApplied 把已应用操作推给同房间的其他连接。
// 提交方连接（clientID == evt.Origin）跳过，它已经收到 op_applied ack。
// 入队是非阻塞的，慢消费者丢消息而不是拖住 Apply。
func (h *Hub) NotifyOpApplied(evt collab.DocOpEvent) {
	conns := h.snapshotRoom(evt.DocID)

	msg := OpBroadcastMessage{
		Type:        "op_broadcast",
		DocID:       evt.DocID,
		OperationID: evt.OperationID,
		Version:     evt.Version,
		AuthorID:    evt.AuthorID,
		Ops:         evt.Ops,
		AppliedAt:   evt.AppliedAt,
	}
	for _, c := range conns {
		if evt.Origin != "" && c.clientID == evt.Origin {
			continue
		}
		c.enqueue(msg)
	}
}

func (h *Hub) NotifyPresence(evt collab.PresenceEvent) {
	conns := h.snapshotRoom(evt.DocID)

	msg := PresenceBroadcastMessage{
		Type:           "presence",
		DocID:          evt.DocID,
		UserID:         evt.UserID,
		DisplayName:    evt.DisplayName,
		Status:         evt.Status,
		CursorPosition: evt.CursorPosition,
		Color:          evt.Color,
	}
	for _, c := range conns {
		c.enqueue(msg)
	}
}
