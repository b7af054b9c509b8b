package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/service"
)

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

type createServerRequest struct {
	Name                 string  `json:"name" binding:"required"`
	SpamThreshold        float64 `json:"spam_threshold"`
	SpamFailureThreshold float64 `json:"spam_failure_threshold"`
}

type updateServerRequest struct {
	SpamThreshold        *float64 `json:"spam_threshold"`
	SpamFailureThreshold *float64 `json:"spam_failure_threshold"`
}

// currentServer 由 requireServer 放入上下文的服务器
func currentServer(c *gin.Context) *domain.Server {
	return c.MustGet("server").(*domain.Server)
}

func (h *Handler) createOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	org, err := h.servers.CreateOrganization(c.Request.Context(), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	Created(c, org)
}

func (h *Handler) getOrganization(c *gin.Context) {
	org, err := h.servers.GetOrganization(c.Request.Context(), c.Param("org"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	Success(c, org)
}

func (h *Handler) createServer(c *gin.Context) {
	var req createServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	server, err := h.servers.CreateServer(c.Request.Context(), c.Param("org"), service.ServerInput{
		Name:                 req.Name,
		SpamThreshold:        req.SpamThreshold,
		SpamFailureThreshold: req.SpamFailureThreshold,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	Created(c, server)
}

func (h *Handler) listServers(c *gin.Context) {
	servers, err := h.servers.ListServers(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if servers == nil {
		servers = []domain.Server{}
	}
	Success(c, servers)
}

func (h *Handler) getServer(c *gin.Context) {
	Success(c, currentServer(c))
}

func (h *Handler) updateServer(c *gin.Context) {
	var req updateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	server, err := h.servers.UpdateThresholds(c.Request.Context(), currentServer(c).ID, service.ThresholdInput{
		SpamThreshold:        req.SpamThreshold,
		SpamFailureThreshold: req.SpamFailureThreshold,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	Success(c, server)
}
