package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"aetherCollab/backend/internal/collab"
	"aetherCollab/backend/internal/presence"
	"aetherCollab/backend/internal/store"
)

func newTestRouter(t *testing.T, permission collab.PermissionFunc) (*gin.Engine, *collab.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	mgr := collab.NewManager(st, nil, collab.ManagerOptions{Permission: permission})
	tracker := presence.NewTracker(5*time.Minute, 30*time.Minute)
	mgr.SetPresence(tracker)
	h := NewDocumentHandler(mgr, tracker)

	r := gin.New()
	// 测试里直接注入 userId，鉴权中间件单独测
	r.Use(func(c *gin.Context) {
		c.Set("userId", uint64(1))
		c.Set("username", "alice")
	})
	r.POST("/collab/documents/:docID/operations", h.SubmitOperation)
	r.GET("/collab/documents/:docID", h.GetDocument)
	r.POST("/collab/documents/:docID/presence", h.PresencePing)
	r.POST("/collab/documents/:docID/snapshots", h.CreateSnapshot)
	return r, mgr
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitOperationOK(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"insert","position":0,"content":"hello","baseVersion":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		OperationID     string `json:"operationId"`
		DocumentVersion uint64 `json:"documentVersion"`
		Transformed     bool   `json:"transformed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OperationID == "" || resp.DocumentVersion != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Transformed {
		t.Fatal("first op on empty doc reported as transformed")
	}
}

func TestSubmitOperationUnknownKind(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"merge","position":0}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestSubmitOperationBaseAhead(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"insert","position":0,"content":"x","baseVersion":9}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
}

func TestSubmitOperationPermissionDenied(t *testing.T) {
	r, _ := newTestRouter(t, func(ctx context.Context, authorID uint64, docID string) bool {
		return false
	})
	w := doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"insert","position":0,"content":"x","baseVersion":0}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestGetDocument(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"insert","position":0,"content":"hello","baseVersion":0}`)
	doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"insert","position":5,"content":" world","baseVersion":1}`)

	w := doJSON(t, r, http.MethodGet, "/collab/documents/doc1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Content          string            `json:"content"`
		Version          uint64            `json:"version"`
		RecentOperations []json.RawMessage `json:"recentOperations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "hello world" || resp.Version != 2 {
		t.Fatalf("content = %q version = %d", resp.Content, resp.Version)
	}
	if len(resp.RecentOperations) != 2 {
		t.Fatalf("recentOperations = %d, want 2", len(resp.RecentOperations))
	}
}

func TestPresencePing(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/collab/documents/doc1/presence",
		`{"displayName":"alice","status":"active","cursorPosition":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Changed       bool                            `json:"changed"`
		Color         string                          `json:"color"`
		Collaborators []presence.CollaboratorPresence `json:"collaborators"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Changed || resp.Color == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Collaborators) != 1 || resp.Collaborators[0].DisplayName != "alice" {
		t.Fatalf("collaborators = %+v", resp.Collaborators)
	}
}

func TestCreateSnapshotEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	doJSON(t, r, http.MethodPost, "/collab/documents/doc1/operations",
		`{"kind":"insert","position":0,"content":"v1","baseVersion":0}`)

	w := doJSON(t, r, http.MethodPost, "/collab/documents/doc1/snapshots", `{"message":"checkpoint"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}
