package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/hub"
	"canvas-collab/internal/service"
)

// SnapshotHandler 封装了快照相关的 HTTP 处理逻辑。
type SnapshotHandler struct {
	snapshotService *service.SnapshotService
	hub             *hub.Hub
}

// NewSnapshotHandler 创建 SnapshotHandler 实例。
func NewSnapshotHandler(snapshotService *service.SnapshotService, h *hub.Hub) *SnapshotHandler {
	if snapshotService == nil {
		panic("SnapshotService cannot be nil for SnapshotHandler")
	}
	return &SnapshotHandler{snapshotService: snapshotService, hub: h}
}

// SaveSnapshotRequest 定义显式保存快照的请求结构体。
type SaveSnapshotRequest struct {
	Data string `json:"data" binding:"required"`
}

// SaveSnapshot 处理主持人显式保存画布的请求。
func (h *SnapshotHandler) SaveSnapshot(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.UserID, "room_id": roomID})

	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.SaveSnapshot: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: data is required")
		return
	}

	snapshot, err := h.snapshotService.SaveExplicit(c.Request.Context(), roomID, p, req.Data)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.SaveSnapshot: Failed to save snapshot")
		HandleServiceError(c, err)
		return
	}

	// 活跃会话把重放缓冲重置到新基线
	if h.hub != nil {
		h.hub.NotifySnapshot(roomID, snapshot)
	}

	logCtx.WithField("version", snapshot.Version).Info("Handler.SaveSnapshot: Snapshot saved")
	SuccessResponse(c, http.StatusCreated, gin.H{
		"message": "Snapshot saved",
		"version": snapshot.Version,
	})
}

// ListSnapshots 返回房间最近的快照列表。
func (h *SnapshotHandler) ListSnapshots(c *gin.Context) {
	if _, ok := principal(c); !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	snapshots, err := h.snapshotService.ListRecent(c.Request.Context(), roomID, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"snapshots": snapshots})
}

// GetSnapshot 按版本号返回历史快照。
func (h *SnapshotHandler) GetSnapshot(c *gin.Context) {
	if _, ok := principal(c); !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	version64, err := strconv.ParseUint(c.Param("version"), 10, 32)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid version format")
		return
	}

	snapshot, err := h.snapshotService.GetByVersion(c.Request.Context(), roomID, uint(version64))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"snapshot": snapshot})
}
