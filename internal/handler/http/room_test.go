package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/middleware"
	"canvas-collab/internal/repository/mocks"
	"canvas-collab/internal/service"
)

func newRoomHandler() (*RoomHandler, *mocks.RoomRepository) {
	roomRepo := new(mocks.RoomRepository)
	participantRepo := new(mocks.ParticipantRepository)
	invitationRepo := new(mocks.InvitationRepository)
	stateRepo := new(mocks.StateRepository)
	svc := service.NewRoomService(roomRepo, participantRepo, stateRepo)
	evaluator := service.NewAccessEvaluator(roomRepo, participantRepo, invitationRepo)
	return NewRoomHandler(svc, evaluator, nil), roomRepo
}

// settingsRequest 构造一个已认证的 PATCH settings 请求上下文。
func settingsRequest(t *testing.T, roomID string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPatch, "/api/canvas/rooms/"+roomID+"/settings", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: roomID}}
	c.Set(middleware.PrincipalKey, domain.Principal{UserID: 1, Role: "admin", Name: "Ada"})
	return c, w
}

func TestRoomHandler_UpdateSettings_ReturnsMergedSettings(t *testing.T) {
	// Arrange
	h, roomRepo := newRoomHandler()
	room := &domain.Room{ID: 9, CreatedBy: 1, IsActive: true, Title: "Board"}
	require.NoError(t, room.SetSettings(domain.DefaultRoomSettings()))

	roomRepo.On("FindActiveByID", mock.Anything, uint(9)).Return(room, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	c, w := settingsRequest(t, "9", `{"readOnly":true}`)

	// Act
	h.UpdateSettings(c)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"readOnly":true`)
	assert.Contains(t, w.Body.String(), `"maxUsers":50`, "未修改的字段应保持原值")
	roomRepo.AssertExpectations(t)
}

func TestRoomHandler_UpdateSettings_CorruptStoredSettingsIsAnError(t *testing.T) {
	// Arrange: 落库成功但存回去的设置读不回来，
	// 响应不能把零值设置当成真相返回
	h, roomRepo := newRoomHandler()
	room := &domain.Room{ID: 9, CreatedBy: 1, IsActive: true, Title: "Board"}
	require.NoError(t, room.SetSettings(domain.DefaultRoomSettings()))

	roomRepo.On("FindActiveByID", mock.Anything, uint(9)).Return(room, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Room).Settings = "{not-json"
		}).
		Return(nil).Once()

	c, w := settingsRequest(t, "9", `{"readOnly":true}`)

	// Act
	h.UpdateSettings(c)

	// Assert
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), `"maxUsers":0`, "不能把零值设置报告给客户端")
	roomRepo.AssertExpectations(t)
}
