package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/service"
)

// InvitationHandler 封装了邀请相关的 HTTP 处理逻辑。
type InvitationHandler struct {
	invitationService *service.InvitationService
}

// NewInvitationHandler 创建 InvitationHandler 实例。
func NewInvitationHandler(invitationService *service.InvitationService) *InvitationHandler {
	if invitationService == nil {
		panic("InvitationService cannot be nil for InvitationHandler")
	}
	return &InvitationHandler{invitationService: invitationService}
}

// CreateInvitationRequest 定义签发邀请的请求结构体。
type CreateInvitationRequest struct {
	UserIDs []uint        `json:"userIds"`
	Email   string        `json:"email" binding:"omitempty,email"`
	Grant   *domain.Grant `json:"grant"`
}

// invitationView 是返回给客户端的邀请视图。
type invitationView struct {
	ID        uint   `json:"id"`
	Token     string `json:"token"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expiresAt"`
}

// CreateInvitations 处理为房间签发邀请的请求。
func (h *InvitationHandler) CreateInvitations(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.UserID, "room_id": roomID})

	var req CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateInvitations: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid invitation payload")
		return
	}

	invitations, err := h.invitationService.Create(c.Request.Context(), roomID, p, service.CreateInvitationSpec{
		UserIDs: req.UserIDs,
		Email:   req.Email,
		Grant:   req.Grant,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateInvitations: Failed to create invitations")
		HandleServiceError(c, err)
		return
	}

	views := make([]invitationView, 0, len(invitations))
	for _, inv := range invitations {
		views = append(views, invitationView{
			ID:        inv.ID,
			Token:     inv.Token,
			Status:    inv.Status,
			ExpiresAt: inv.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	logCtx.WithField("count", len(views)).Info("Handler.CreateInvitations: Invitations created")
	SuccessResponse(c, http.StatusCreated, gin.H{"invitations": views})
}

// AcceptInvitation 处理按令牌兑换邀请的请求。
func (h *InvitationHandler) AcceptInvitation(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	token := c.Param("token")
	logCtx := logrus.WithField("user_id", p.UserID)

	result, err := h.invitationService.Redeem(c.Request.Context(), token, p)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.AcceptInvitation: Redemption failed")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", result.Room.ID).Info("Handler.AcceptInvitation: Invitation redeemed")
	SuccessResponse(c, http.StatusOK, gin.H{
		"message": "Invitation accepted",
		"room":    result.Room,
		"grant":   result.Grant,
	})
}

// RevokeInvitation 处理撤销邀请的请求。
func (h *InvitationHandler) RevokeInvitation(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id64, err := strconv.ParseUint(c.Param("invitationId"), 10, 32)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid invitation ID format")
		return
	}

	if err := h.invitationService.Revoke(c.Request.Context(), uint(id64), p); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Invitation revoked"})
}

// ListInvitations 返回房间的全部邀请 (主持人视图)。
func (h *InvitationHandler) ListInvitations(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c, "id")
	if !ok {
		return
	}

	invitations, err := h.invitationService.ListRoomInvitations(c.Request.Context(), roomID, p)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"invitations": invitations})
}
