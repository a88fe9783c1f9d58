package server

import (
	"net/http"

	"github.com/AyushSriv06/codesync2/internal/room"
	"github.com/AyushSriv06/codesync2/internal/ws"

	"github.com/gin-gonic/gin"
)

// Handler 提供只读的房间查询接口，所有写操作都走 WebSocket 事件。
type Handler struct {
	store *room.Store
	hub   *ws.Hub
}

func NewHandler(store *room.Store, hub *ws.Hub) *Handler {
	return &Handler{store: store, hub: hub}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": h.store.Len(), "connections": h.hub.Online()})
}

// ListRooms 列出内存中的活跃房间及在线人数。
func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.store.List()})
}

// GetRoom 返回单个房间的快照；查询不会创建房间。
func (h *Handler) GetRoom(c *gin.Context) {
	snap, ok := h.store.Lookup(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": snap})
}
