package websocket

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/hub"
	"canvas-collab/internal/middleware"
	"canvas-collab/internal/service"
)

// WebSocketHandler 负责 WebSocket 升级请求：先走准入评估，
// 通过后升级连接并移交给 Hub。
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	evaluator *service.AccessEvaluator
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
func NewWebSocketHandler(h *hub.Hub, evaluator *service.AccessEvaluator) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if evaluator == nil {
		panic("AccessEvaluator cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: restrict origins once the frontend deployment domain is fixed
			return true
		},
	}

	return &WebSocketHandler{
		upgrader:  upgrader,
		hub:       h,
		evaluator: evaluator,
	}
}

// HandleConnection 处理 WebSocket 连接请求。
// URL 格式: /ws/canvas/:roomId
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		logrus.Warn("WS Handler: Principal not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	logCtx := logrus.WithField("user_id", p.UserID)

	roomIDStr := c.Param("roomId")
	roomID64, err := strconv.ParseUint(roomIDStr, 10, 32)
	if err != nil {
		logCtx.WithError(err).Warnf("WS Handler: Invalid room ID format: %s", roomIDStr)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID format"})
		return
	}
	roomID := uint(roomID64)
	logCtx = logCtx.WithField("room_id", roomID)

	// 升级前完成准入评估，被拒的连接不消耗会话资源
	decision, err := h.evaluator.Evaluate(c.Request.Context(), roomID, p)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Access evaluation failed")
		httphandlerError(c, err)
		return
	}
	if !decision.Allowed {
		logCtx.WithField("reason", decision.Reason).Info("WS Handler: Access denied")
		status := http.StatusForbidden
		if decision.Reason == service.ReasonRoomNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": decision.Reason})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写出了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	if err := h.hub.Connect(conn, decision.Room, p, decision.Grant); err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to attach connection to session")
		conn.Close()
	}
}

// httphandlerError 把升级前的业务错误映射为 HTTP 状态码。
func httphandlerError(c *gin.Context, err error) {
	switch err {
	case service.ErrAlreadyConsumed:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case service.ErrRoomNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate room access"})
	}
}
