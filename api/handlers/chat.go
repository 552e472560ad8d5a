package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/pkg/driver"
)

// ChatHandler forwards operator messages to the configured agent. The
// agent is an opaque collaborator: whatever commands it decides to run
// flow back through the dispatcher like any other caller's.
type ChatHandler struct {
	agent    driver.Agent
	executor driver.Executor
}

// NewChatHandler creates a new ChatHandler. A nil agent falls back to
// driver.Unconfigured.
func NewChatHandler(agent driver.Agent, executor driver.Executor) *ChatHandler {
	if agent == nil {
		agent = driver.Unconfigured{}
	}
	return &ChatHandler{
		agent:    agent,
		executor: executor,
	}
}

// ChatRequest is the operator message body.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	reply, err := h.agent.HandleMessage(c.Request.Context(), req.Message, h.executor)
	if err != nil {
		if errors.Is(err, model.ErrNoAgent) {
			sendError(c, http.StatusNotImplemented, "NO_AGENT", err.Error())
			return
		}
		sendMappedError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// RegisterRoutes registers the chat route on a Gin router group.
func (h *ChatHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/chat", h.Chat)
}
