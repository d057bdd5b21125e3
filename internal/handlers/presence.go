package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"comms-service/internal/models"
	"comms-service/internal/presence"
	"comms-service/internal/repositories"
)

// PresenceHandler exposes the presence read/update RPCs. The gateway's
// heartbeat path covers implicit refreshes; these endpoints cover
// explicit status changes and bulk reads.
type PresenceHandler struct {
	tracker  *presence.Tracker
	userRepo repositories.UserRepository
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(tracker *presence.Tracker, userRepo repositories.UserRepository) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, userRepo: userRepo}
}

// UpdatePresence sets the caller's status.
func (h *PresenceHandler) UpdatePresence(c *gin.Context) {
	var req struct {
		Status models.PresenceStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	userID := c.GetInt("userID")
	if err := h.tracker.SetStatus(c.Request.Context(), userID, req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPresence returns the presence records for `user_ids`, a comma
// separated id list. Users without a live record read as offline.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	raw := c.Query("user_ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_ids is required"})
		return
	}
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id: " + part})
			return
		}
		ids = append(ids, id)
	}

	records, err := h.tracker.Get(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	users, err := h.userRepo.BulkUsers(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	names := make(map[int]string, len(users))
	for _, user := range users {
		names[user.ID] = user.DisplayName
	}
	c.JSON(http.StatusOK, gin.H{"presence": records, "display_names": names})
}
