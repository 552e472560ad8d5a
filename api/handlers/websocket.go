package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/remote-host-console/backend/internal/registry"
	"github.com/remote-host-console/backend/internal/ws"
)

// WebSocketHandler handles the event-stream subscription endpoint.
type WebSocketHandler struct {
	registry  *registry.Registry
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(reg *registry.Registry, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		registry:  reg,
		wsHandler: wsHandler,
	}
}

// Events handles GET /api/hosts/:id/events - upgrades to WebSocket and
// streams the host's output events (buffered replay first, then live).
func (h *WebSocketHandler) Events(c *gin.Context) {
	hostID := c.Param("id")

	if _, err := h.registry.Get(c.Request.Context(), hostID); err != nil {
		sendMappedError(c, err)
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, hostID); err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/hosts/:id/events", h.Events)
}
