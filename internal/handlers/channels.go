package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"comms-service/internal/access"
	"comms-service/internal/apperr"
	"comms-service/internal/calls"
	"comms-service/internal/models"
	"comms-service/internal/repositories"
	"comms-service/internal/telemetry"
	"comms-service/internal/ws"
)

// ChannelHandler manages channel and membership endpoints.
type ChannelHandler struct {
	channelRepo repositories.ChannelRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	gate        *access.Gate
	hub         *ws.Hub
	calls       *calls.Coordinator
	audit       *telemetry.AuditEmitter
}

// NewChannelHandler builds a ChannelHandler.
func NewChannelHandler(channelRepo repositories.ChannelRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, gate *access.Gate, hub *ws.Hub, coordinator *calls.Coordinator, audit *telemetry.AuditEmitter) *ChannelHandler {
	return &ChannelHandler{
		channelRepo: channelRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		gate:        gate,
		hub:         hub,
		calls:       coordinator,
		audit:       audit,
	}
}

// ListChannels returns the channels visible to the authenticated user,
// each with the caller's role and unread count.
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	userID := c.GetInt("userID")

	channels, err := h.channelRepo.ListChannelsForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// GetChannel returns one channel with its member list.
func (h *ChannelHandler) GetChannel(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if _, err := h.gate.Require(c.Request.Context(), userID, channelID, access.OpRead); err != nil {
		respondError(c, err)
		return
	}

	channel, err := h.channelRepo.GetChannel(c.Request.Context(), channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	members, err := h.channelRepo.ListMembers(c.Request.Context(), channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.messageRepo.UnreadCount(c.Request.Context(), channelID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel, "members": members, "unread_count": unread})
}

// CreateChannel creates a channel of any type. Direct channels are
// idempotent per unordered user pair and carry no org scope; the other
// types require an org context. Deal rooms get a default "general"
// sub-channel.
func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var req struct {
		Type        models.ChannelType `json:"type" binding:"required"`
		Name        string             `json:"name"`
		Description string             `json:"description"`
		MemberIDs   []int              `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel type"})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if req.Type == models.ChannelDirect {
		others := excludeID(req.MemberIDs, userID)
		if len(others) != 1 {
			respondError(c, fmt.Errorf("%w: direct channel requires exactly one other member", apperr.ErrInvalidState))
			return
		}
		channel, existed, err := h.channelRepo.GetOrCreateDirect(ctx, userID, others[0])
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"channel_id": channel.ID, "existed": existed})
		return
	}

	orgID := orgIDFromContext(c)
	if orgID == nil {
		respondError(c, fmt.Errorf("%w: %s channel requires an org context", apperr.ErrInvalidState, req.Type))
		return
	}

	channel, err := h.channelRepo.CreateChannel(ctx, models.Channel{
		Type:        req.Type,
		OrgID:       orgID,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   userID,
	}, req.MemberIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Type == models.ChannelDealRoom {
		if _, err := h.createSubChannel(ctx, channel, "general", userID); err != nil {
			respondError(c, err)
			return
		}
	}

	h.audit.Emit(ctx, "channel.create", fmt.Sprintf("channel created type=%s id=%d", channel.Type, channel.ID), requestIDFromContext(c), auditUserID(userID))
	c.JSON(http.StatusCreated, gin.H{"channel_id": channel.ID, "existed": false})
}

// CreateSubChannel creates a sub-channel under a deal room.
func (h *ChannelHandler) CreateSubChannel(c *gin.Context) {
	parentID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, parentID, access.OpModerate); err != nil {
		respondError(c, err)
		return
	}

	parent, err := h.channelRepo.GetChannel(ctx, parentID)
	if err != nil {
		respondError(c, err)
		return
	}
	sub, err := h.createSubChannel(ctx, parent, req.Name, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel_id": sub.ID})
}

// createSubChannel enforces the deal-room parent invariant and seeds the
// sub-channel with the parent's current member set.
func (h *ChannelHandler) createSubChannel(ctx context.Context, parent models.Channel, name string, creatorID int) (models.Channel, error) {
	if parent.Type != models.ChannelDealRoom {
		return models.Channel{}, fmt.Errorf("%w: parent channel is not a deal room", apperr.ErrInvalidState)
	}
	memberIDs, err := h.channelRepo.MemberIDs(ctx, parent.ID)
	if err != nil {
		return models.Channel{}, err
	}
	parentID := parent.ID
	return h.channelRepo.CreateChannel(ctx, models.Channel{
		Type:            models.ChannelGroup,
		ParentChannelID: &parentID,
		OrgID:           parent.OrgID,
		Name:            name,
		CreatedBy:       creatorID,
	}, memberIDs)
}

// UpdateChannel applies moderator edits to channel fields.
func (h *ChannelHandler) UpdateChannel(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	var fields models.ChannelUpdate
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpModerate); err != nil {
		respondError(c, err)
		return
	}
	channel, err := h.channelRepo.UpdateChannel(ctx, channelID, fields)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel})
}

// PinChannel flips the channel's pinned flag. Any member may pin.
func (h *ChannelHandler) PinChannel(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpRead); err != nil {
		respondError(c, err)
		return
	}
	if err := h.channelRepo.SetChannelPinned(ctx, channelID, req.Pinned); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddMember adds a user to the channel, recording a system message.
// Membership on a deal room cascades to its sub-channels.
func (h *ChannelHandler) AddMember(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	var req struct {
		UserID int         `json:"user_id" binding:"required"`
		Role   models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	actorID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, actorID, channelID, access.OpManageMembers); err != nil {
		respondError(c, err)
		return
	}
	if err := h.channelRepo.AddMember(ctx, channelID, req.UserID, role); err != nil {
		respondError(c, err)
		return
	}
	h.cascadeToSubChannels(ctx, channelID, func(subID int) {
		_ = h.channelRepo.AddMember(ctx, subID, req.UserID, role)
	})

	if !h.recordMembershipChange(c, channelID, fmt.Sprintf("%s added %s", h.displayName(ctx, actorID), h.displayName(ctx, req.UserID))) {
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a user from the channel. A user mid-call in the
// channel is evicted from the call roster as well.
func (h *ChannelHandler) RemoveMember(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "user_id")
	if !ok {
		return
	}

	actorID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, actorID, channelID, access.OpManageMembers); err != nil {
		respondError(c, err)
		return
	}
	if err := h.channelRepo.RemoveMember(ctx, channelID, targetID); err != nil {
		respondError(c, err)
		return
	}
	h.calls.EvictFromChannel(channelID, targetID)
	h.cascadeToSubChannels(ctx, channelID, func(subID int) {
		_ = h.channelRepo.RemoveMember(ctx, subID, targetID)
		h.calls.EvictFromChannel(subID, targetID)
	})

	if !h.recordMembershipChange(c, channelID, fmt.Sprintf("%s removed %s", h.displayName(ctx, actorID), h.displayName(ctx, targetID))) {
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveChannel removes the caller's own membership. Always allowed for an
// existing member.
func (h *ChannelHandler) LeaveChannel(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if err := h.channelRepo.RemoveMember(ctx, channelID, userID); err != nil {
		respondError(c, err)
		return
	}
	h.calls.EvictFromChannel(channelID, userID)
	h.cascadeToSubChannels(ctx, channelID, func(subID int) {
		_ = h.channelRepo.RemoveMember(ctx, subID, userID)
		h.calls.EvictFromChannel(subID, userID)
	})

	if !h.recordMembershipChange(c, channelID, fmt.Sprintf("%s left", h.displayName(ctx, userID))) {
		return
	}
	c.Status(http.StatusNoContent)
}

// recordMembershipChange appends the system message and fans it out. The
// content carries names resolved now, so later renames don't rewrite
// history. Returns false after writing the error response, so callers
// must not write another status.
func (h *ChannelHandler) recordMembershipChange(c *gin.Context, channelID int, content string) bool {
	ctx := c.Request.Context()
	msg, err := h.messageRepo.CreateSystemMessage(ctx, channelID, content)
	if err != nil {
		respondError(c, err)
		return false
	}
	memberIDs, err := h.channelRepo.MemberIDs(ctx, channelID)
	if err == nil {
		go h.hub.PushMany(memberIDs, models.Envelope{
			Type:    models.EventMessageNew,
			Payload: models.MessageEventPayload{ChannelID: channelID, Message: &msg},
		})
	}
	h.audit.Emit(ctx, "membership.change", fmt.Sprintf("channel=%d: %s", channelID, content), requestIDFromContext(c), auditUserID(c.GetInt("userID")))
	return true
}

func (h *ChannelHandler) cascadeToSubChannels(ctx context.Context, channelID int, apply func(subID int)) {
	subIDs, err := h.channelRepo.SubChannelIDs(ctx, channelID)
	if err != nil {
		return
	}
	for _, id := range subIDs {
		apply(id)
	}
}

// displayName resolves a name at write time, falling back to a stable
// placeholder when the directory has no entry.
func (h *ChannelHandler) displayName(ctx context.Context, userID int) string {
	user, err := h.userRepo.GetUser(ctx, userID)
	if err != nil || user.DisplayName == "" {
		return fmt.Sprintf("user %d", userID)
	}
	return user.DisplayName
}

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func excludeID(ids []int, exclude int) []int {
	result := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			result = append(result, id)
		}
	}
	return result
}

func auditUserID(userID int) *string {
	if userID == 0 {
		return nil
	}
	val := strconv.Itoa(userID)
	return &val
}
