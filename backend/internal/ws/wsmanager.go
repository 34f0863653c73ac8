package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aetherCollab/backend/internal/cache"
	"aetherCollab/backend/internal/collab"
	"aetherCollab/backend/internal/presence"
)

// 允许本地开发环境的来源；一些环境可能不发送 Origin，或为 "null"
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub      *Hub
	mgr      *collab.Manager
	tracker  *presence.Tracker
	presence cache.PresenceCache
	sem      *collab.SemaphoreControl
}

func NewManager(hub *Hub, mgr *collab.Manager, tracker *presence.Tracker,
	pc cache.PresenceCache, sem *collab.SemaphoreControl) *Manager {
	return &Manager{hub: hub, mgr: mgr, tracker: tracker, presence: pc, sem: sem}
}

// WebSocketConnect 升级连接并阻塞在读循环直到连接关闭。
// userId/username 由上游鉴权中间件注入。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, userID, username, clientID, m.mgr, m.tracker, m.presence, m.sem)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: "welcome", Code: clientID})

	// 读循环阻塞至连接关闭
	wsConn.readLoop(c.Request.Context())
}
