package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-host-console/backend/internal/audit"
	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/ws"
)

// CommandHandler exposes the dispatcher boundary over HTTP for direct
// UI-triggered commands, plus the per-host audit trail.
type CommandHandler struct {
	executor ws.Executor
	auditLog *audit.Log
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(executor ws.Executor, auditLog *audit.Log) *CommandHandler {
	return &CommandHandler{
		executor: executor,
		auditLog: auditLog,
	}
}

// ExecRequest is the command-submission body.
type ExecRequest struct {
	HostID    string `json:"hostId" binding:"required"`
	Command   string `json:"command" binding:"required"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// ExecResponse is the structured result of one command.
type ExecResponse struct {
	RequestID  string `json:"requestId"`
	HostID     string `json:"hostId"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exitCode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Exec handles POST /api/commands.
func (h *CommandHandler) Exec(c *gin.Context) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	result, err := h.executor.Dispatch(c.Request.Context(), model.CommandRequest{
		HostID:     req.HostID,
		Command:    req.Command,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		Originator: model.OriginatorUI,
	})
	if err != nil {
		sendMappedError(c, err)
		return
	}

	c.JSON(http.StatusOK, &ExecResponse{
		RequestID:  result.RequestID,
		HostID:     result.HostID,
		Status:     string(result.State),
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Truncated:  result.Truncated,
		DurationMs: result.Duration.Milliseconds(),
	})
}

// Audit handles GET /api/hosts/:id/audit - recent command history.
func (h *CommandHandler) Audit(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 10000 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 10000")
			return
		}
		limit = parsed
	}

	entries, err := h.auditLog.Tail(c.Param("id"), limit)
	if err != nil {
		sendMappedError(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// RegisterRoutes registers the command routes on a Gin router group.
func (h *CommandHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/commands", h.Exec)
	rg.GET("/hosts/:id/audit", h.Audit)
}
