package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/attic-backup/attic/internal/api/middleware"
	"github.com/attic-backup/attic/internal/models"
	"github.com/attic-backup/attic/internal/trust"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AgentService defines the trust protocol operations exposed to agents.
type AgentService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error)
	Poll(ctx context.Context, token string) (*models.PollResponse, error)
	Report(ctx context.Context, token string, req models.ReportRequest) error
}

// AgentHandler handles the agent-facing trust protocol endpoints.
type AgentHandler struct {
	service AgentService
	logger  zerolog.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(service AgentService, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		service: service,
		logger:  logger.With().Str("component", "agent_handler").Logger(),
	}
}

// RegisterRoutes registers agent routes. register takes the rate limiter;
// poll and report require a bearer token.
func (h *AgentHandler) RegisterRoutes(r *gin.RouterGroup, registerLimiter gin.HandlerFunc) {
	agent := r.Group("/agent")
	{
		agent.POST("/register", registerLimiter, h.Register)

		authed := agent.Group("", middleware.AgentToken())
		authed.GET("/poll", h.Poll)
		authed.POST("/report", h.Report)
	}
}

// Register enrolls an agent, idempotently.
// POST /api/v1/agent/register
func (h *AgentHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("hostname", req.Hostname).Msg("registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Poll returns the agent's approval status and, once approved, its
// effective configuration.
// GET /api/v1/agent/poll
func (h *AgentHandler) Poll(c *gin.Context) {
	resp, err := h.service.Poll(c.Request.Context(), middleware.GetAgentToken(c))
	if err != nil {
		if errors.Is(err, trust.ErrUnknownToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown agent token"})
			return
		}
		h.logger.Error().Err(err).Msg("poll failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Report records a run outcome from an agent.
// POST /api/v1/agent/report
func (h *AgentHandler) Report(c *gin.Context) {
	var req models.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.service.Report(c.Request.Context(), middleware.GetAgentToken(c), req); err != nil {
		if errors.Is(err, trust.ErrUnknownToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown agent token"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
