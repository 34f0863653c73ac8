package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aetherCollab/backend/internal/cache"
	"aetherCollab/backend/internal/collab"
	"aetherCollab/backend/internal/ot"
	"aetherCollab/backend/internal/presence"
)

const presenceTTL = 600 * time.Second

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	docID    string
	userID   uint64
	username string
	clientID string
	// send 是该连接的出站队列，writeLoop 独占消费。
	// sendMu + closed 保证关闭和入队互斥：hub 广播可能在 readLoop
	// 退出后还持有本连接，往已关闭的 channel 发送会 panic
	sendMu sync.Mutex
	closed bool
	send   chan OutboundMessage

	mgr      *collab.Manager
	tracker  *presence.Tracker
	presence cache.PresenceCache // 可为 nil（无 Redis 的单机部署）
	sem      *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username, clientID string,
	mgr *collab.Manager, tracker *presence.Tracker, pc cache.PresenceCache, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		clientID: clientID,
		send:     make(chan OutboundMessage, 32),
		mgr:      mgr,
		tracker:  tracker,
		presence: pc,
		sem:      sem,
	}
}

// enqueue 非阻塞入队：队列满了直接丢弃，慢消费者不反压服务端；
// 连接已关闭时同样丢弃，不 panic
func (c *Conn) enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// closeSend 幂等关闭出站队列，让 writeLoop 退出
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		if c.docID != "" {
			c.hub.Leave(c.docID, c)
		}
		c.closeSend()
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
			return
		}
		switch msg.Type {
		case "heartbeat":
			c.handleHeartbeat(ctx, msg)

		case "joinDocument":
			c.handleJoin(ctx, msg)

		case "leaveDocument":
			if c.docID != "" {
				c.hub.Leave(c.docID, c)
				c.docID = ""
			}
			c.enqueue(ServerMessage{Type: "leaveDocument"})

		case "op_submit":
			c.handleOpSubmit(ctx, msg)

		case "cursor":
			c.handleCursor(ctx, msg)

		case "show_alive_members":
			c.enqueue(ServerMessage{
				Type:          "show_alive_members",
				DocID:         c.docID,
				Collaborators: c.tracker.ListActive(c.docID),
			})

		case "saveDocument":
			docID := msg.DocID
			if docID == "" {
				docID = c.docID
			}
			if err := c.mgr.CreateSnapshot(ctx, docID, c.userID, msg.Message); err != nil {
				c.enqueue(ServerMessage{Type: "error", Code: errorCode(err), DocID: docID})
				continue
			}
			c.enqueue(ServerMessage{Type: "saveDocument", DocID: docID})

		case "loadDocumentContent":
			docID := msg.DocID
			if docID == "" {
				docID = c.docID
			}
			view, err := c.mgr.GetDocument(ctx, docID)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", Code: errorCode(err), DocID: docID})
				continue
			}
			c.enqueue(ServerMessage{
				Type:    "loadDocumentContent",
				DocID:   docID,
				Content: view.Content,
				Version: view.Version,
			})

		default:
			// 忽略未知类型，回一条提示
			c.enqueue(ServerMessage{Type: "ignored", Code: "UNKNOWN_MESSAGE_TYPE"})
		}
	}
}

func (c *Conn) handleHeartbeat(ctx context.Context, msg ClientMessage) {
	if c.docID != "" {
		act := presence.Activity{DisplayName: c.username, Status: presence.StatusActive}
		if msg.Status != "" {
			act.Status = presence.Status(msg.Status)
		}
		if msg.CursorPosition != nil {
			act.CursorPosition = msg.CursorPosition
		}
		changed := c.tracker.Update(c.docID, c.userID, act)
		c.mirrorPresence(ctx)
		if changed {
			c.broadcastPresence(string(act.Status), msg.CursorPosition)
		}
	}
	c.enqueue(ServerMessage{Type: "heartbeat_ack"})
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.enqueue(ServerMessage{Type: "error", Code: "MISSING_DOC_ID"})
		return
	}
	if c.docID != "" && c.docID != msg.DocID {
		// 先离开旧房间
		c.hub.Leave(c.docID, c)
	}
	c.docID = msg.DocID
	c.hub.Join(c.docID, c)

	c.tracker.Update(c.docID, c.userID, presence.Activity{
		DisplayName: c.username,
		Status:      presence.StatusActive,
	})
	c.mirrorPresence(ctx)
	c.broadcastPresence(string(presence.StatusActive), nil)

	view, err := c.mgr.GetDocument(ctx, c.docID)
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", Code: errorCode(err), DocID: c.docID})
		return
	}
	c.enqueue(ServerMessage{
		Type:          "joinDocument",
		DocID:         c.docID,
		Content:       view.Content,
		Version:       view.Version,
		Collaborators: c.tracker.ListActive(c.docID),
	})
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	docID := msg.DocID
	if docID == "" {
		docID = c.docID
	}
	if docID == "" || msg.Op == nil {
		c.enqueue(ServerMessage{Type: "error", Code: "INVALID_OPERATION"})
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if c.sem != nil {
		if err := c.sem.Acquire(submitCtx); err != nil {
			c.enqueue(ServerMessage{Type: "error", Code: "SERVER_BUSY", DocID: docID})
			return
		}
		defer c.sem.Release()
	}

	op := *msg.Op
	op.AuthorID = c.userID
	op.BaseVersion = msg.BaseVersion
	if op.ID == "" {
		// 客户端可以不带操作 ID，ack 和持久化都需要一个非空的
		op.ID = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}

	res, err := c.mgr.ApplyFrom(ctx, docID, c.clientID, op)
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", Code: errorCode(err), DocID: docID})
		return
	}
	c.enqueue(OpAckMessage{
		Type:        "op_applied",
		DocID:       docID,
		OperationID: res.OperationID,
		BaseVersion: msg.BaseVersion,
		Version:     res.Version,
		Transformed: res.Transformed,
		ClientID:    msg.ClientID,
		ClientSeq:   msg.ClientSeq,
	})
}

func (c *Conn) handleCursor(ctx context.Context, msg ClientMessage) {
	if c.docID == "" {
		return
	}
	changed := c.tracker.Update(c.docID, c.userID, presence.Activity{
		DisplayName:    c.username,
		CursorPosition: msg.CursorPosition,
		Selection:      msg.Selection,
	})
	c.mirrorPresence(ctx)
	if changed {
		c.broadcastPresence(string(presence.StatusActive), msg.CursorPosition)
	}
}

// mirrorPresence 把本实例的在线状态同步进 Redis（跨实例可见），尽力而为
func (c *Conn) mirrorPresence(ctx context.Context) {
	if c.presence == nil || c.docID == "" {
		return
	}
	meta := cache.MemberMeta{Username: c.username, Color: c.tracker.ColorOf(c.userID)}
	if err := c.presence.AddMember(ctx, c.docID, c.userID, meta, presenceTTL); err != nil {
		log.Printf("presence mirror error (user=%d, doc=%s): %v", c.userID, c.docID, err)
	}
}

func (c *Conn) broadcastPresence(status string, cursor *int) {
	c.hub.NotifyPresence(collab.PresenceEvent{
		EventType:      "PRESENCE_CHANGED",
		DocID:          c.docID,
		UserID:         c.userID,
		DisplayName:    c.username,
		Status:         status,
		CursorPosition: cursor,
		Color:          c.tracker.ColorOf(c.userID),
	})
}

func (c *Conn) writeLoop() {
	// 持续消费出站队列，连接关闭时 send 被 readLoop 关掉
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

// errorCode 统一的错误码映射，和 HTTP 层保持一致
func errorCode(err error) string {
	switch {
	case errors.Is(err, collab.ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, collab.ErrOperationFailed):
		return "OPERATION_FAILED"
	case errors.Is(err, collab.ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	case errors.Is(err, ot.ErrInvalidOperation):
		return "INVALID_OPERATION"
	default:
		return "INTERNAL_ERROR"
	}
}
