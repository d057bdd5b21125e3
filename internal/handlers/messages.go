package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"comms-service/internal/access"
	"comms-service/internal/apperr"
	"comms-service/internal/models"
	"comms-service/internal/repositories"
	"comms-service/internal/ws"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// MessageHandler manages the per-channel message log endpoints.
type MessageHandler struct {
	channelRepo repositories.ChannelRepository
	messageRepo repositories.MessageRepository
	gate        *access.Gate
	hub         *ws.Hub
	editWindow  time.Duration
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(channelRepo repositories.ChannelRepository, messageRepo repositories.MessageRepository, gate *access.Gate, hub *ws.Hub, editWindow time.Duration) *MessageHandler {
	return &MessageHandler{
		channelRepo: channelRepo,
		messageRepo: messageRepo,
		gate:        gate,
		hub:         hub,
		editWindow:  editWindow,
	}
}

// ListMessages returns a descending-id page of messages. Soft-deleted
// rows keep their place with blanked content so replies and reactions
// stay attached.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpRead); err != nil {
		respondError(c, err)
		return
	}

	limit := queryInt(c, "limit", defaultPageSize)
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	cursor := queryInt(c, "cursor", 0)

	msgs, err := h.messageRepo.ListMessages(ctx, channelID, cursor, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	ids := make([]int, 0, len(msgs))
	for i := range msgs {
		msgs[i].Sanitize()
		ids = append(ids, msgs[i].ID)
	}
	reactions, err := h.messageRepo.ListReactions(ctx, ids)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range msgs {
		msgs[i].Reactions = reactions[msgs[i].ID]
	}

	resp := gin.H{"messages": msgs}
	if len(msgs) == limit {
		resp["next_cursor"] = msgs[len(msgs)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

// SendMessage persists a user message and fans it out to the other
// members. The acknowledgment never waits on delivery.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	var req struct {
		Content   string             `json:"content" binding:"required"`
		ReplyToID *int               `json:"reply_to_id"`
		Link      *models.EntityLink `json:"link"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpPost); err != nil {
		respondError(c, err)
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is empty"})
		return
	}

	msg := models.Message{ChannelID: channelID, UserID: &userID, Content: content, ReplyToID: req.ReplyToID}
	if req.Link != nil {
		if !req.Link.Kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown link kind"})
			return
		}
		msg.LinkKind = &req.Link.Kind
		msg.LinkID = &req.Link.ID
	}
	if req.ReplyToID != nil {
		parent, err := h.messageRepo.GetMessage(ctx, *req.ReplyToID)
		if err != nil {
			respondError(c, err)
			return
		}
		if parent.ChannelID != channelID {
			respondError(c, fmt.Errorf("%w: reply crosses channels", apperr.ErrInvalidState))
			return
		}
	}

	created, err := h.messageRepo.CreateMessage(ctx, msg)
	if err != nil {
		respondError(c, err)
		return
	}

	h.fanOut(c, channelID, userID, models.Envelope{
		Type:    models.EventMessageNew,
		Payload: models.MessageEventPayload{ChannelID: channelID, Message: &created},
	})
	c.JSON(http.StatusCreated, gin.H{"message_id": created.ID, "message": created})
}

// EditMessage replaces a message's content. Author only, inside the edit
// window; the window is enforced here, not advisory.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	channelID, messageID, ok := paramMessageIDs(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpEditOwn); err != nil {
		respondError(c, err)
		return
	}
	msg, err := h.getChannelMessage(c, channelID, messageID)
	if err != nil {
		return
	}
	if msg.IsDeleted {
		respondError(c, fmt.Errorf("%w: message is deleted", apperr.ErrInvalidState))
		return
	}
	if msg.UserID == nil || *msg.UserID != userID {
		respondError(c, apperr.ErrForbidden)
		return
	}
	if time.Since(msg.CreatedAt) >= h.editWindow {
		respondError(c, apperr.ErrEditWindowExpired)
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is empty"})
		return
	}

	updated, err := h.messageRepo.EditMessage(ctx, channelID, messageID, userID, content)
	if err != nil {
		respondError(c, err)
		return
	}

	h.fanOutAll(c, channelID, models.Envelope{
		Type:    models.EventMessageUpdated,
		Payload: models.MessageEventPayload{ChannelID: channelID, Message: &updated},
	})
	c.JSON(http.StatusOK, gin.H{"message": updated})
}

// DeleteMessage soft-deletes a message. The author may delete their own;
// moderators may delete anyone's. Content is retained for audit but
// never returned verbatim afterwards.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	channelID, messageID, ok := paramMessageIDs(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	role, err := h.gate.Require(ctx, userID, channelID, access.OpRead)
	if err != nil {
		respondError(c, err)
		return
	}
	msg, err := h.getChannelMessage(c, channelID, messageID)
	if err != nil {
		return
	}
	isAuthor := msg.UserID != nil && *msg.UserID == userID
	if !isAuthor && !role.CanModerate() {
		respondError(c, apperr.ErrForbidden)
		return
	}

	if err := h.messageRepo.SoftDeleteMessage(ctx, channelID, messageID, userID); err != nil {
		respondError(c, err)
		return
	}

	h.fanOutAll(c, channelID, models.Envelope{
		Type:    models.EventMessageDeleted,
		Payload: models.MessageEventPayload{ChannelID: channelID, MessageID: messageID},
	})
	c.Status(http.StatusNoContent)
}

// PinMessage flips a message's pinned flag. Moderators only.
func (h *MessageHandler) PinMessage(c *gin.Context) {
	channelID, messageID, ok := paramMessageIDs(c)
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

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpModerate); err != nil {
		respondError(c, err)
		return
	}
	msg, err := h.getChannelMessage(c, channelID, messageID)
	if err != nil {
		return
	}
	if err := h.messageRepo.SetMessagePinned(ctx, channelID, messageID, userID, req.Pinned); err != nil {
		respondError(c, err)
		return
	}

	msg.IsPinned = req.Pinned
	msg.Sanitize()
	h.fanOutAll(c, channelID, models.Envelope{
		Type:    models.EventMessageUpdated,
		Payload: models.MessageEventPayload{ChannelID: channelID, Message: &msg},
	})
	c.Status(http.StatusNoContent)
}

// ToggleReaction adds or removes the caller's emoji reaction. Any member
// may react; toggling an existing reaction removes it.
func (h *MessageHandler) ToggleReaction(c *gin.Context) {
	channelID, messageID, ok := paramMessageIDs(c)
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
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
	if _, err := h.getChannelMessage(c, channelID, messageID); err != nil {
		return
	}

	added, err := h.messageRepo.ToggleReaction(ctx, channelID, messageID, userID, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	reactions, err := h.messageRepo.ListReactions(ctx, []int{messageID})
	if err == nil {
		msg, merr := h.messageRepo.GetMessage(ctx, messageID)
		if merr == nil {
			msg.Reactions = reactions[messageID]
			msg.Sanitize()
			h.fanOutAll(c, channelID, models.Envelope{
				Type:    models.EventMessageUpdated,
				Payload: models.MessageEventPayload{ChannelID: channelID, Message: &msg},
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// MarkRead advances the caller's read cursor to the channel's newest
// message. Safe for clients to coalesce since only the latest value
// matters.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if _, err := h.gate.Require(ctx, userID, channelID, access.OpRead); err != nil {
		respondError(c, err)
		return
	}

	lastReadID, err := h.messageRepo.MarkRead(ctx, channelID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_read_id": lastReadID})
}

// getChannelMessage loads a message and checks it belongs to the routed
// channel, responding on failure.
func (h *MessageHandler) getChannelMessage(c *gin.Context, channelID, messageID int) (models.Message, error) {
	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return models.Message{}, err
	}
	if msg.ChannelID != channelID {
		respondError(c, apperr.ErrNotFound)
		return models.Message{}, apperr.ErrNotFound
	}
	return msg, nil
}

// fanOut pushes asynchronously to every member except the sender.
func (h *MessageHandler) fanOut(c *gin.Context, channelID, senderID int, env models.Envelope) {
	memberIDs, err := h.channelRepo.MemberIDs(c.Request.Context(), channelID)
	if err != nil {
		return
	}
	recipients := excludeID(memberIDs, senderID)
	go h.hub.PushMany(recipients, env)
}

// fanOutAll pushes asynchronously to every member, sender included, so
// the sender's other devices converge too.
func (h *MessageHandler) fanOutAll(c *gin.Context, channelID int, env models.Envelope) {
	memberIDs, err := h.channelRepo.MemberIDs(c.Request.Context(), channelID)
	if err != nil {
		return
	}
	go h.hub.PushMany(memberIDs, env)
}

func paramMessageIDs(c *gin.Context) (int, int, bool) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return 0, 0, false
	}
	messageID, ok := paramID(c, "message_id")
	if !ok {
		return 0, 0, false
	}
	return channelID, messageID, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	val := c.Query(name)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
