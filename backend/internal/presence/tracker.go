package presence

import (
	"context"
	"log"
	"sync"
	"time"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// 固定调色板：同一 tracker 实例内按出现顺序轮转分配，重启后不保证不变
var colorPalette = []string{
	"#E74C3C", "#3498DB", "#2ECC71", "#F39C12",
	"#9B59B6", "#1ABC9C", "#E67E22", "#34495E",
}

type SelectionRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type CollaboratorPresence struct {
	UserID         uint64          `json:"userId"`
	DisplayName    string          `json:"displayName"`
	Status         Status          `json:"status"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
	Selection      *SelectionRange `json:"selection,omitempty"`
	Color          string          `json:"color"`
	LastSeen       time.Time       `json:"lastSeen"`
}

// Activity 一次活动上报携带的字段，nil 表示不更新对应项
type Activity struct {
	DisplayName    string
	Status         Status
	CursorPosition *int
	Selection      *SelectionRange
}

// Tracker 在线状态是 UX 辅助信息，不是正确性边界：
// 所有方法尽力而为，从不返回错误。
type Tracker struct {
	mu        sync.RWMutex
	byDoc     map[string]map[uint64]*CollaboratorPresence
	colors    map[uint64]string
	nextColor int

	// last_seen 距今超过 activeWindow 不再算活跃，超过 removeAfter 被清扫移除。
	// 都是可配置的策略常量。
	activeWindow time.Duration
	removeAfter  time.Duration
}

func NewTracker(activeWindow, removeAfter time.Duration) *Tracker {
	if activeWindow <= 0 {
		activeWindow = 5 * time.Minute
	}
	if removeAfter <= 0 {
		removeAfter = 30 * time.Minute
	}
	return &Tracker{
		byDoc:        make(map[string]map[uint64]*CollaboratorPresence),
		colors:       make(map[uint64]string),
		activeWindow: activeWindow,
		removeAfter:  removeAfter,
	}
}

// Update upsert 一条在线记录，返回是否有可观察的变化（用于抑制重复广播）
func (t *Tracker) Update(docID string, userID uint64, act Activity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.byDoc[docID]
	if room == nil {
		room = make(map[uint64]*CollaboratorPresence)
		t.byDoc[docID] = room
	}

	p := room[userID]
	changed := false
	if p == nil {
		p = &CollaboratorPresence{
			UserID: userID,
			Status: StatusActive,
			Color:  t.assignColorLocked(userID),
		}
		room[userID] = p
		changed = true
	}

	if act.DisplayName != "" && act.DisplayName != p.DisplayName {
		p.DisplayName = act.DisplayName
		changed = true
	}
	if act.Status != "" && act.Status != p.Status {
		p.Status = act.Status
		changed = true
	}
	if act.CursorPosition != nil {
		if p.CursorPosition == nil || *p.CursorPosition != *act.CursorPosition {
			changed = true
		}
		p.CursorPosition = act.CursorPosition
	}
	if act.Selection != nil {
		if p.Selection == nil || *p.Selection != *act.Selection {
			changed = true
		}
		p.Selection = act.Selection
	}
	p.LastSeen = time.Now()
	return changed
}

// Touch 操作应用后记录作者的新光标位置
func (t *Tracker) Touch(docID string, userID uint64, cursor int) {
	t.Update(docID, userID, Activity{Status: StatusActive, CursorPosition: &cursor})
}

// ListActive 返回活跃窗口内的在线记录；docID 为空时返回全部文档的
func (t *Tracker) ListActive(docID string) []CollaboratorPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-t.activeWindow)
	var out []CollaboratorPresence
	appendRoom := func(room map[uint64]*CollaboratorPresence) {
		for _, p := range room {
			if p.LastSeen.After(cutoff) {
				out = append(out, *p)
			}
		}
	}
	if docID != "" {
		appendRoom(t.byDoc[docID])
		return out
	}
	for _, room := range t.byDoc {
		appendRoom(room)
	}
	return out
}

// ColorOf 查询某用户被分配的颜色（未见过则为空串）
func (t *Tracker) ColorOf(userID uint64) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.colors[userID]
}

// Sweep 移除 last_seen 超过阈值的记录，返回移除数量
func (t *Tracker) Sweep(inactiveAfter time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-inactiveAfter)
	removed := 0
	for docID, room := range t.byDoc {
		for userID, p := range room {
			if p.LastSeen.Before(cutoff) {
				delete(room, userID)
				removed++
			}
		}
		if len(room) == 0 {
			delete(t.byDoc, docID)
		}
	}
	return removed
}

// Run 周期清扫，独立于请求处理；和 Apply 并发运行不需要共享锁
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(t.removeAfter); n > 0 {
				log.Printf("presence sweep removed %d stale entries", n)
			}
		}
	}
}

func (t *Tracker) assignColorLocked(userID uint64) string {
	if c, ok := t.colors[userID]; ok {
		return c
	}
	c := colorPalette[t.nextColor%len(colorPalette)]
	t.nextColor++
	t.colors[userID] = c
	return c
}
