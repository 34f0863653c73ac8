package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aetherCollab/backend/internal/collab"
	"aetherCollab/backend/internal/ot"
	"aetherCollab/backend/internal/presence"
)

type DocumentHandler struct {
	mgr     *collab.Manager
	tracker *presence.Tracker
}

func NewDocumentHandler(mgr *collab.Manager, tracker *presence.Tracker) *DocumentHandler {
	return &DocumentHandler{mgr: mgr, tracker: tracker}
}

type submitOperationReq struct {
	Kind        string `json:"kind" binding:"required"`
	Position    int    `json:"position"`
	Content     string `json:"content"`
	Length      int    `json:"length"`
	BaseVersion uint64 `json:"baseVersion"`
}

// SubmitOperation POST /collab/documents/:docID/operations
func (h *DocumentHandler) SubmitOperation(c *gin.Context) {
	docID := c.Param("docID")
	userID := c.GetUint64("userId")

	var req submitOperationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	var op ot.Operation
	switch ot.Kind(req.Kind) {
	case ot.KindInsert:
		op = ot.NewInsert(req.Position, req.Content, userID, req.BaseVersion)
	case ot.KindDelete:
		op = ot.NewDelete(req.Position, req.Length, userID, req.BaseVersion)
	case ot.KindReplace:
		op = ot.NewReplace(req.Position, req.Length, req.Content, userID, req.BaseVersion)
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "INVALID_OPERATION",
			"message": "unknown operation kind " + req.Kind,
		})
		return
	}

	res, err := h.mgr.Apply(c.Request.Context(), docID, op)
	if err != nil {
		writeCollabError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operationId":     res.OperationID,
		"documentVersion": res.Version,
		"transformed":     res.Transformed,
		"appliedOps":      res.Applied,
	})
}

// GetDocument GET /collab/documents/:docID
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	docID := c.Param("docID")

	view, err := h.mgr.GetDocument(c.Request.Context(), docID)
	if err != nil {
		writeCollabError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"docId":            view.DocID,
		"content":          view.Content,
		"version":          view.Version,
		"lastModified":     view.LastModified,
		"recentOperations": view.RecentOperations,
		"collaborators":    h.tracker.ListActive(docID),
	})
}

type presencePingReq struct {
	DisplayName    string                   `json:"displayName"`
	Status         string                   `json:"status"`
	CursorPosition *int                     `json:"cursorPosition"`
	Selection      *presence.SelectionRange `json:"selection"`
}

// PresencePing POST /collab/documents/:docID/presence
func (h *DocumentHandler) PresencePing(c *gin.Context) {
	docID := c.Param("docID")
	userID := c.GetUint64("userId")

	var req presencePingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = c.GetString("username")
	}

	act := presence.Activity{
		DisplayName:    req.DisplayName,
		CursorPosition: req.CursorPosition,
		Selection:      req.Selection,
	}
	if req.Status != "" {
		act.Status = presence.Status(req.Status)
	} else {
		act.Status = presence.StatusActive
	}
	changed := h.tracker.Update(docID, userID, act)

	c.JSON(http.StatusOK, gin.H{
		"changed":       changed,
		"color":         h.tracker.ColorOf(userID),
		"collaborators": h.tracker.ListActive(docID),
	})
}

type snapshotReq struct {
	Message string `json:"message"`
}

// CreateSnapshot POST /collab/documents/:docID/snapshots
func (h *DocumentHandler) CreateSnapshot(c *gin.Context) {
	docID := c.Param("docID")
	userID := c.GetUint64("userId")

	var req snapshotReq
	// body 可省略
	_ = c.ShouldBindJSON(&req)

	if err := h.mgr.CreateSnapshot(c.Request.Context(), docID, userID, req.Message); err != nil {
		writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "createdAt": time.Now()})
}

// writeCollabError 错误族 → HTTP 状态码的唯一映射点
func writeCollabError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collab.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"code": "PERMISSION_DENIED", "message": err.Error()})
	case errors.Is(err, collab.ErrOperationFailed):
		c.JSON(http.StatusConflict, gin.H{"code": "OPERATION_FAILED", "message": err.Error()})
	case errors.Is(err, ot.ErrInvalidOperation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INVALID_OPERATION", "message": err.Error()})
	case errors.Is(err, collab.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
	}
}
