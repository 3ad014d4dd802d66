package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateRoom reserves a room for the caller: the oldest idle room with a
// free slot, or a fresh empty one.
func (h *Handler) CreateRoom(c *gin.Context) {
	room := h.Hub.Matcher.ReserveRoom()
	zap.L().Debug("room handed out over http", zap.String("roomID", room.ID()))
	c.JSON(http.StatusCreated, gin.H{"chatRoom": room.Snapshot()})
}

// GetRoom returns a live room by id.
func (h *Handler) GetRoom(c *gin.Context) {
	room, ok := h.Hub.Matcher.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"data": nil, "error": "chat room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": room.Snapshot()})
}

// Health reports liveness along with the hub's counters.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.Hub.ClientCount(),
		"waiting":     h.Hub.Matcher.Waiting(),
	})
}
