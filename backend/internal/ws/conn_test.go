package ws

import (
	"context"
	"testing"
	"time"

	"aetherCollab/backend/internal/collab"
	"aetherCollab/backend/internal/ot"
	"aetherCollab/backend/internal/presence"
	"aetherCollab/backend/internal/store"
)

func newSubmitConn(t *testing.T) *Conn {
	t.Helper()
	mgr := collab.NewManager(store.NewMemoryStore(), nil, collab.ManagerOptions{})
	return &Conn{
		hub:      NewHub(),
		docID:    "doc1",
		userID:   1,
		username: "alice",
		clientID: "client-a",
		send:     make(chan OutboundMessage, 4),
		mgr:      mgr,
		tracker:  presence.NewTracker(5*time.Minute, 30*time.Minute),
	}
}

// 不带操作 ID 的提交由服务端补一个：ack 和持久化记录都不允许空 ID
func TestOpSubmitAssignsMissingID(t *testing.T) {
	c := newSubmitConn(t)

	op := ot.Operation{
		Kind:      ot.KindInsert,
		Position:  0,
		Content:   "hello",
		Timestamp: time.Now(),
	}
	c.handleOpSubmit(context.Background(), ClientMessage{
		Type:  "op_submit",
		DocID: "doc1",
		Op:    &op,
	})

	select {
	case msg := <-c.send:
		ack, ok := msg.(OpAckMessage)
		if !ok {
			t.Fatalf("got %T (%+v), want OpAckMessage", msg, msg)
		}
		if ack.OperationID == "" {
			t.Fatal("ack carries empty operation id")
		}
		if ack.Version != 1 {
			t.Fatalf("version = %d, want 1", ack.Version)
		}
	default:
		t.Fatal("no ack enqueued")
	}
}

func TestOpSubmitKeepsClientID(t *testing.T) {
	c := newSubmitConn(t)

	op := ot.NewInsert(0, "hello", 1, 0)
	c.handleOpSubmit(context.Background(), ClientMessage{
		Type:  "op_submit",
		DocID: "doc1",
		Op:    &op,
	})

	select {
	case msg := <-c.send:
		ack, ok := msg.(OpAckMessage)
		if !ok {
			t.Fatalf("got %T, want OpAckMessage", msg)
		}
		if ack.OperationID != op.ID {
			t.Fatalf("ack id = %q, want client-supplied %q", ack.OperationID, op.ID)
		}
	default:
		t.Fatal("no ack enqueued")
	}
}
