package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/hub"
	"canvas-collab/internal/middleware"
	"canvas-collab/internal/service"
)

// RoomHandler 封装了房间管理相关的 HTTP 处理逻辑。
type RoomHandler struct {
	roomService *service.RoomService
	evaluator   *service.AccessEvaluator
	hub         *hub.Hub
}

// NewRoomHandler 创建 RoomHandler 实例。
func NewRoomHandler(roomService *service.RoomService, evaluator *service.AccessEvaluator, h *hub.Hub) *RoomHandler {
	if roomService == nil || evaluator == nil {
		panic("RoomService and AccessEvaluator cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService, evaluator: evaluator, hub: h}
}

// principal 从上下文中取出经过认证的身份主体。
// 取不到时写出 401 并返回 false。
func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		logrus.Warn("Handler: Principal not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return domain.Principal{}, false
	}
	return p, true
}

// roomIDParam 解析路径中的房间 ID。
func roomIDParam(c *gin.Context, name string) (uint, bool) {
	idStr := c.Param(name)
	id64, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid room ID format")
		return 0, false
	}
	return uint(id64), true
}

// CreateRoomRequest 定义创建房间请求的结构体。
// Settings 是部分设置，未给的字段落在服务端默认值上。
type CreateRoomRequest struct {
	Title       string                 `json:"title" binding:"required,max=200"`
	Description string                 `json:"description" binding:"max=2000"`
	IsPublic    bool                   `json:"isPublic"`
	Settings    *service.SettingsPatch `json:"settings"`
}

// CreateRoomResponse 定义创建房间成功的响应结构体。
type CreateRoomResponse struct {
	Message  string       `json:"message"`
	Room     *domain.Room `json:"room"`
	RoomCode string       `json:"roomCode"`
}

// CreateRoom 处理创建新房间的请求。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", p.UserID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: title is required")
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), p, service.CreateRoomSpec{
		Title:       req.Title,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		Settings:    req.Settings,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{"room_id": room.ID, "room_code": room.RoomCode}).
		Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{
		Message:  "Room created successfully",
		Room:     room,
		RoomCode: room.RoomCode,
	})
}

// JoinRoomResponse 定义加入房间成功的响应结构体。
type JoinRoomResponse struct {
	Message string       `json:"message"`
	Room    *domain.Room `json:"room"`
	Grant   domain.Grant `json:"grant"`
}

// JoinRoom 处理按短码加入房间的请求。
// 准入决策 (公开 / 已是参与者 / 有效邀请) 由 AccessEvaluator 给出。
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	code := c.Param("roomCode")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.UserID, "room_code": code})

	room, err := h.roomService.GetByCode(c.Request.Context(), code)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Room lookup failed")
		HandleServiceError(c, err)
		return
	}

	decision, err := h.evaluator.Evaluate(c.Request.Context(), room.ID, p)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Access evaluation failed")
		HandleServiceError(c, err)
		return
	}
	if !decision.Allowed {
		logCtx.WithField("reason", decision.Reason).Info("Handler.JoinRoom: Access denied")
		status := http.StatusForbidden
		if decision.Reason == service.ReasonRoomNotFound {
			status = http.StatusNotFound
		}
		ErrorResponse(c, status, decision.Reason)
		return
	}

	logCtx.WithField("room_id", room.ID).Info("Handler.JoinRoom: User joined room")
	SuccessResponse(c, http.StatusOK, JoinRoomResponse{
		Message: "Joined room successfully",
		Room:    decision.Room,
		Grant:   decision.Grant,
	})
}

// UpdateSettings 处理房间设置的合并式更新。
func (h *RoomHandler) UpdateSettings(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.UserID, "room_id": roomID})

	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		logCtx.WithError(err).Warn("Handler.UpdateSettings: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid settings payload")
		return
	}

	room, err := h.roomService.UpdateSettings(c.Request.Context(), roomID, p, patch)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.UpdateSettings: Failed to update settings")
		HandleServiceError(c, err)
		return
	}

	settings, parseErr := room.ParseSettings()
	if parseErr != nil {
		// 更新已落库但存储的设置读不回来，不能把零值设置当成真相返回
		logCtx.WithError(parseErr).Error("Handler.UpdateSettings: Failed to decode stored settings")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	// 把新设置推给活跃会话，在线参与者立即感知
	if h.hub != nil {
		h.hub.NotifySettings(roomID, settings)
	}

	logCtx.Info("Handler.UpdateSettings: Settings updated")
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Settings updated", "settings": settings})
}

// GetRoom 返回房间详情 (含参与者列表)。
func (h *RoomHandler) GetRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}

	details, err := h.roomService.Details(c.Request.Context(), roomID, p)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"room":         details.Room,
		"participants": details.Participants,
	})
}

// ListUserRooms 返回当前用户参与过的房间。
func (h *RoomHandler) ListUserRooms(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListUserRooms(c.Request.Context(), p)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

// ListCompanyRooms 返回公司范围内的房间 (分页，管理员视图)。
func (h *RoomHandler) ListCompanyRooms(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	activeOnly := c.DefaultQuery("active", "true") == "true"

	result, err := h.roomService.ListCompanyRooms(c.Request.Context(), p, page, limit, activeOnly)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{
		"rooms":      result.Rooms,
		"total":      result.Total,
		"page":       result.Page,
		"limit":      result.Limit,
		"totalPages": result.TotalPages,
	})
}

// ArchiveRoom 处理归档房间的请求。
func (h *RoomHandler) ArchiveRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.roomService.Archive(c.Request.Context(), roomID, p); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Room archived"})
}

// LeaveRoom 处理显式离开房间的请求。
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.roomService.Leave(c.Request.Context(), roomID, p); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Left room"})
}

// UpdateGrantRequest 定义调整参与者授权的请求结构体。
type UpdateGrantRequest struct {
	CanDraw     bool `json:"canDraw"`
	CanEdit     bool `json:"canEdit"`
	CanInvite   bool `json:"canInvite"`
	IsModerator bool `json:"isModerator"`
}

// UpdateParticipantGrant 由主持人调整参与者的授权。
func (h *RoomHandler) UpdateParticipantGrant(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	targetID64, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid user ID format")
		return
	}
	targetID := uint(targetID64)

	var req UpdateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid grant payload")
		return
	}
	grant := domain.Grant{
		CanDraw:     req.CanDraw,
		CanEdit:     req.CanEdit,
		CanInvite:   req.CanInvite,
		IsModerator: req.IsModerator,
	}

	if err := h.roomService.UpdateParticipantGrant(c.Request.Context(), roomID, p, targetID, grant); err != nil {
		HandleServiceError(c, err)
		return
	}
	// 在线目标立即拿到新授权
	if h.hub != nil {
		h.hub.NotifyGrant(roomID, targetID, grant)
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Grant updated"})
}
