package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"comms-service/internal/access"
	"comms-service/internal/apperr"
	"comms-service/internal/calls"
	"comms-service/internal/mocks"
	"comms-service/internal/models"
	"comms-service/internal/ws"
)

type openChecker struct{}

func (openChecker) Authorize(ctx context.Context, actorID, channelID int) error { return nil }

func newTestChannelHandler(channelRepo *mocks.ChannelRepositoryMock, messageRepo *mocks.MessageRepositoryMock, userRepo *mocks.UserRepositoryMock) *ChannelHandler {
	hub := ws.NewHub()
	coordinator := calls.NewCoordinator(openChecker{}, hub, time.Minute, time.Second)
	return NewChannelHandler(channelRepo, messageRepo, userRepo, access.NewGate(channelRepo), hub, coordinator, nil)
}

func setupChannelRouter(handler *ChannelHandler, orgID *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		if orgID != nil {
			c.Set("orgID", *orgID)
		}
		c.Next()
	})
	r.GET("/channels", handler.ListChannels)
	r.POST("/channels", handler.CreateChannel)
	r.GET("/channels/:channel_id", handler.GetChannel)
	r.PATCH("/channels/:channel_id", handler.UpdateChannel)
	r.POST("/channels/:channel_id/subchannels", handler.CreateSubChannel)
	r.POST("/channels/:channel_id/members", handler.AddMember)
	r.DELETE("/channels/:channel_id/members/:user_id", handler.RemoveMember)
	r.POST("/channels/:channel_id/leave", handler.LeaveChannel)
	return r
}

func intPtr(v int) *int { return &v }

func TestListChannelsSuccess(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	channelRepo.On("ListChannelsForUser", mock.Anything, 1).Return([]models.ChannelSummary{
		{Channel: models.Channel{ID: 3, Type: models.ChannelGroup, Name: "sales"}, Role: models.RoleMember, UnreadCount: 2},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	channelRepo.AssertExpectations(t)
}

func TestGetChannelNonMemberDenied(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	channelRepo.On("GetMembership", mock.Anything, 5, 1).Return(models.Membership{}, apperr.ErrNotAMember).Once()

	req := httptest.NewRequest(http.MethodGet, "/channels/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	channelRepo.AssertNotCalled(t, "GetChannel", mock.Anything, 5)
	channelRepo.AssertExpectations(t)
}

func TestCreateDirectChannelIdempotent(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	channelRepo.On("GetOrCreateDirect", mock.Anything, 1, 2).Return(models.Channel{ID: 10, Type: models.ChannelDirect}, true, nil).Once()

	body := bytes.NewBufferString(`{"type":"direct","member_ids":[1,2]}`)
	req := httptest.NewRequest(http.MethodPost, "/channels", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ChannelID int  `json:"channel_id"`
		Existed   bool `json:"existed"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 10, resp.ChannelID)
	require.True(t, resp.Existed)
	channelRepo.AssertExpectations(t)
}

func TestCreateDirectChannelRequiresExactlyOneOther(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	body := bytes.NewBufferString(`{"type":"direct","member_ids":[1,2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/channels", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	channelRepo.AssertNotCalled(t, "GetOrCreateDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateGroupChannelRequiresOrgContext(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	body := bytes.NewBufferString(`{"type":"group","name":"sales","member_ids":[2]}`)
	req := httptest.NewRequest(http.MethodPost, "/channels", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	channelRepo.AssertNotCalled(t, "CreateChannel", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateDealRoomSeedsGeneralSubChannel(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, intPtr(9))

	room := models.Channel{ID: 20, Type: models.ChannelDealRoom, OrgID: intPtr(9), Name: "acme deal"}
	channelRepo.On("CreateChannel", mock.Anything, mock.MatchedBy(func(ch models.Channel) bool {
		return ch.Type == models.ChannelDealRoom && ch.Name == "acme deal"
	}), []int{2, 3}).Return(room, nil).Once()
	channelRepo.On("MemberIDs", mock.Anything, 20).Return([]int{1, 2, 3}, nil).Once()
	channelRepo.On("CreateChannel", mock.Anything, mock.MatchedBy(func(ch models.Channel) bool {
		return ch.Type == models.ChannelGroup && ch.Name == "general" &&
			ch.ParentChannelID != nil && *ch.ParentChannelID == 20
	}), []int{1, 2, 3}).Return(models.Channel{ID: 21, Type: models.ChannelGroup, ParentChannelID: intPtr(20)}, nil).Once()

	body := bytes.NewBufferString(`{"type":"deal_room","name":"acme deal","member_ids":[2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/channels", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	channelRepo.AssertExpectations(t)
}

func TestCreateSubChannelRejectsNonDealRoomParent(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, intPtr(9))

	channelRepo.On("GetMembership", mock.Anything, 5, 1).Return(models.Membership{ChannelID: 5, UserID: 1, Role: models.RoleOwner}, nil).Once()
	channelRepo.On("GetChannel", mock.Anything, 5).Return(models.Channel{ID: 5, Type: models.ChannelGroup}, nil).Once()

	body := bytes.NewBufferString(`{"name":"diligence"}`)
	req := httptest.NewRequest(http.MethodPost, "/channels/5/subchannels", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	channelRepo.AssertExpectations(t)
}

func TestUpdateChannelRequiresModerator(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	channelRepo.On("GetMembership", mock.Anything, 5, 1).Return(models.Membership{ChannelID: 5, UserID: 1, Role: models.RoleGuest}, nil).Once()

	body := bytes.NewBufferString(`{"name":"renamed"}`)
	req := httptest.NewRequest(http.MethodPatch, "/channels/5", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	channelRepo.AssertNotCalled(t, "UpdateChannel", mock.Anything, mock.Anything, mock.Anything)
	channelRepo.AssertExpectations(t)
}

func TestAddMemberForbiddenForMemberRole(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	channelRepo.On("GetMembership", mock.Anything, 5, 1).Return(models.Membership{ChannelID: 5, UserID: 1, Role: models.RoleMember}, nil).Once()

	body := bytes.NewBufferString(`{"user_id":4}`)
	req := httptest.NewRequest(http.MethodPost, "/channels/5/members", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	channelRepo.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	channelRepo.AssertExpectations(t)
}

func TestAddMemberCascadesAndRecordsSystemMessage(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := newTestChannelHandler(channelRepo, messageRepo, userRepo)
	router := setupChannelRouter(handler, nil)

	channelRepo.On("GetMembership", mock.Anything, 5, 1).Return(models.Membership{ChannelID: 5, UserID: 1, Role: models.RoleAdmin}, nil).Once()
	channelRepo.On("AddMember", mock.Anything, 5, 4, models.RoleMember).Return(nil).Once()
	channelRepo.On("SubChannelIDs", mock.Anything, 5).Return([]int{6}, nil).Once()
	channelRepo.On("AddMember", mock.Anything, 6, 4, models.RoleMember).Return(nil).Once()
	userRepo.On("GetUser", mock.Anything, 1).Return(models.User{ID: 1, DisplayName: "Ana"}, nil).Once()
	userRepo.On("GetUser", mock.Anything, 4).Return(models.User{ID: 4, DisplayName: "Bo"}, nil).Once()
	messageRepo.On("CreateSystemMessage", mock.Anything, 5, "Ana added Bo").Return(models.Message{ID: 99, ChannelID: 5, Type: models.MessageSystem, Content: "Ana added Bo"}, nil).Once()
	channelRepo.On("MemberIDs", mock.Anything, 5).Return([]int{1, 4}, nil).Once()

	body := bytes.NewBufferString(`{"user_id":4}`)
	req := httptest.NewRequest(http.MethodPost, "/channels/5/members", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	channelRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestRemoveMemberAlreadyGoneConflicts(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	handler := newTestChannelHandler(channelRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock))
	router := setupChannelRouter(handler, nil)

	channelRepo.On("GetMembership", mock.Anything, 5, 1).Return(models.Membership{ChannelID: 5, UserID: 1, Role: models.RoleOwner}, nil).Once()
	channelRepo.On("RemoveMember", mock.Anything, 5, 4).Return(apperr.ErrNotAMember).Once()

	req := httptest.NewRequest(http.MethodDelete, "/channels/5/members/4", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	channelRepo.AssertExpectations(t)
}

func TestLeaveChannelCascadesToSubChannels(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := newTestChannelHandler(channelRepo, messageRepo, userRepo)
	router := setupChannelRouter(handler, nil)

	channelRepo.On("RemoveMember", mock.Anything, 5, 1).Return(nil).Once()
	channelRepo.On("SubChannelIDs", mock.Anything, 5).Return([]int{6, 7}, nil).Once()
	channelRepo.On("RemoveMember", mock.Anything, 6, 1).Return(nil).Once()
	channelRepo.On("RemoveMember", mock.Anything, 7, 1).Return(nil).Once()
	userRepo.On("GetUser", mock.Anything, 1).Return(models.User{ID: 1, DisplayName: "Ana"}, nil).Once()
	messageRepo.On("CreateSystemMessage", mock.Anything, 5, "Ana left").Return(models.Message{ID: 100, ChannelID: 5, Type: models.MessageSystem, Content: "Ana left"}, nil).Once()
	channelRepo.On("MemberIDs", mock.Anything, 5).Return([]int{2, 3}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/channels/5/leave", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	channelRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestLeaveChannelSystemMessageFailureSurfaces(t *testing.T) {
	channelRepo := new(mocks.ChannelRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := newTestChannelHandler(channelRepo, messageRepo, userRepo)
	router := setupChannelRouter(handler, nil)

	channelRepo.On("RemoveMember", mock.Anything, 5, 1).Return(nil).Once()
	channelRepo.On("SubChannelIDs", mock.Anything, 5).Return([]int{}, nil).Once()
	userRepo.On("GetUser", mock.Anything, 1).Return(models.User{ID: 1, DisplayName: "Ana"}, nil).Once()
	messageRepo.On("CreateSystemMessage", mock.Anything, 5, "Ana left").
		Return(models.Message{}, apperr.Transient(errors.New("insert failed"))).Once()

	req := httptest.NewRequest(http.MethodPost, "/channels/5/leave", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// One response only: the failure status, not a trailing 204.
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	messageRepo.AssertExpectations(t)
}
