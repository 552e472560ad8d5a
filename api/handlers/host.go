// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-host-console/backend/internal/model"
	"github.com/remote-host-console/backend/internal/registry"
	"github.com/remote-host-console/backend/internal/session"
)

// HostHandler handles HTTP requests for host profile management and
// session connect/disconnect triggers.
type HostHandler struct {
	registry *registry.Registry
	pool     *session.Pool
}

// NewHostHandler creates a new HostHandler.
func NewHostHandler(reg *registry.Registry, pool *session.Pool) *HostHandler {
	return &HostHandler{
		registry: reg,
		pool:     pool,
	}
}

// HostResponse represents a host profile in API responses. Credential
// material is never included, only its reference.
type HostResponse struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	CredentialID string `json:"credentialId"`
	Label        string `json:"label,omitempty"`
	Connected    bool   `json:"connected"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *HostHandler) toHostResponse(p *model.HostProfile) *HostResponse {
	return &HostResponse{
		ID:           p.ID,
		Address:      p.Address,
		Port:         p.Port,
		User:         p.User,
		CredentialID: p.CredentialID,
		Label:        p.Label,
		Connected:    h.pool.Connected(p.ID),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    p.UpdatedAt.Format(time.RFC3339),
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendMappedError translates domain errors to HTTP responses.
func sendMappedError(c *gin.Context, err error) {
	var validationErr *model.ValidationError
	switch {
	case errors.As(err, &validationErr):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrCommandRequired):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrHostNotFound):
		sendError(c, http.StatusNotFound, "HOST_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrHostExists):
		sendError(c, http.StatusConflict, "HOST_EXISTS", err.Error())
	case errors.Is(err, model.ErrHostBusy):
		sendError(c, http.StatusTooManyRequests, "HOST_BUSY", err.Error())
	case errors.Is(err, model.ErrInvalidState):
		sendError(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, model.ErrPoolClosed):
		sendError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		sendError(c, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	default:
		if connectErr, ok := model.IsConnectError(err); ok {
			sendError(c, http.StatusBadGateway, "CONNECT_"+string(connectErr.Kind), err.Error())
			return
		}
		if execErr, ok := model.IsExecError(err); ok {
			sendError(c, http.StatusBadGateway, "EXEC_"+string(execErr.Kind), err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// Create handles POST /api/hosts - registers a new host profile.
func (h *HostHandler) Create(c *gin.Context) {
	var req model.CreateHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	profile, err := h.registry.Add(c.Request.Context(), &req)
	if err != nil {
		sendMappedError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toHostResponse(profile))
}

// List handles GET /api/hosts - lists all host profiles with their live
// connection state.
func (h *HostHandler) List(c *gin.Context) {
	profiles, err := h.registry.List(c.Request.Context())
	if err != nil {
		sendMappedError(c, err)
		return
	}

	response := make([]*HostResponse, len(profiles))
	for i, p := range profiles {
		response[i] = h.toHostResponse(p)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/hosts/:id.
func (h *HostHandler) Get(c *gin.Context) {
	profile, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toHostResponse(profile))
}

// Update handles PUT /api/hosts/:id.
func (h *HostHandler) Update(c *gin.Context) {
	var req model.UpdateHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	profile, err := h.registry.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		sendMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toHostResponse(profile))
}

// Delete handles DELETE /api/hosts/:id - removes the profile and tears
// down any live session for it.
func (h *HostHandler) Delete(c *gin.Context) {
	hostID := c.Param("id")

	if err := h.registry.Remove(c.Request.Context(), hostID); err != nil {
		sendMappedError(c, err)
		return
	}
	h.pool.Release(hostID)

	c.Status(http.StatusNoContent)
}

// Connect handles POST /api/hosts/:id/connect - explicit connect trigger.
func (h *HostHandler) Connect(c *gin.Context) {
	hostID := c.Param("id")

	handle, err := h.pool.Acquire(c.Request.Context(), hostID)
	if err != nil {
		sendMappedError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hostId": hostID,
		"state":  string(handle.State()),
	})
}

// Disconnect handles POST /api/hosts/:id/disconnect.
func (h *HostHandler) Disconnect(c *gin.Context) {
	hostID := c.Param("id")

	if _, err := h.registry.Get(c.Request.Context(), hostID); err != nil {
		sendMappedError(c, err)
		return
	}
	h.pool.Release(hostID)

	c.JSON(http.StatusOK, gin.H{
		"hostId": hostID,
		"state":  string(model.StateDisconnected),
	})
}

// RegisterRoutes registers the host handler routes on a Gin router group.
func (h *HostHandler) RegisterRoutes(rg *gin.RouterGroup) {
	hosts := rg.Group("/hosts")
	{
		hosts.POST("", h.Create)
		hosts.GET("", h.List)
		hosts.GET("/:id", h.Get)
		hosts.PUT("/:id", h.Update)
		hosts.DELETE("/:id", h.Delete)
		hosts.POST("/:id/connect", h.Connect)
		hosts.POST("/:id/disconnect", h.Disconnect)
	}
}
