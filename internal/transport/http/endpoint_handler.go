package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailroute/backend/internal/domain"
)

const (
	endpointHTTP    = domain.EndpointHTTP
	endpointSMTP    = domain.EndpointSMTP
	endpointAddress = domain.EndpointAddress
)

type httpEndpointRequest struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	Encoding           string `json:"encoding"`
	Format             string `json:"format"`
	StripReplies       bool   `json:"strip_replies"`
	IncludeAttachments bool   `json:"include_attachments"`
	Timeout            int    `json:"timeout"`
}

func (r httpEndpointRequest) endpoint(serverID string) *domain.HTTPEndpoint {
	return &domain.HTTPEndpoint{
		ServerID:           serverID,
		Name:               r.Name,
		URL:                r.URL,
		Encoding:           domain.HTTPEncoding(r.Encoding),
		Format:             domain.HTTPFormat(r.Format),
		StripReplies:       r.StripReplies,
		IncludeAttachments: r.IncludeAttachments,
		Timeout:            r.Timeout,
	}
}

type smtpEndpointRequest struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"ssl_mode"`
}

func (r smtpEndpointRequest) endpoint(serverID string) *domain.SMTPEndpoint {
	return &domain.SMTPEndpoint{
		ServerID: serverID,
		Name:     r.Name,
		Hostname: r.Hostname,
		Port:     r.Port,
		SSLMode:  domain.SSLMode(r.SSLMode),
	}
}

type addressEndpointRequest struct {
	Address string `json:"address"`
}

// ========== HTTP ==========

func (h *Handler) createHTTPEndpoint(c *gin.Context) {
	var req httpEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ep := req.endpoint(currentServer(c).ID)
	if err := h.endpoints.CreateHTTP(c.Request.Context(), ep); err != nil {
		h.writeError(c, err)
		return
	}
	Created(c, ep)
}

func (h *Handler) updateHTTPEndpoint(c *gin.Context) {
	var req httpEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ep := req.endpoint(currentServer(c).ID)
	ep.ID = c.Param("id")
	if err := h.endpoints.UpdateHTTP(c.Request.Context(), ep); err != nil {
		h.writeError(c, err)
		return
	}
	Success(c, ep)
}

func (h *Handler) listHTTPEndpoints(c *gin.Context) {
	eps, err := h.endpoints.ListHTTP(c.Request.Context(), currentServer(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if eps == nil {
		eps = []domain.HTTPEndpoint{}
	}
	Success(c, eps)
}

// ========== SMTP ==========

func (h *Handler) createSMTPEndpoint(c *gin.Context) {
	var req smtpEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ep := req.endpoint(currentServer(c).ID)
	if err := h.endpoints.CreateSMTP(c.Request.Context(), ep); err != nil {
		h.writeError(c, err)
		return
	}
	Created(c, ep)
}

func (h *Handler) updateSMTPEndpoint(c *gin.Context) {
	var req smtpEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ep := req.endpoint(currentServer(c).ID)
	ep.ID = c.Param("id")
	if err := h.endpoints.UpdateSMTP(c.Request.Context(), ep); err != nil {
		h.writeError(c, err)
		return
	}
	Success(c, ep)
}

func (h *Handler) listSMTPEndpoints(c *gin.Context) {
	eps, err := h.endpoints.ListSMTP(c.Request.Context(), currentServer(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if eps == nil {
		eps = []domain.SMTPEndpoint{}
	}
	Success(c, eps)
}

// ========== Address ==========

func (h *Handler) createAddressEndpoint(c *gin.Context) {
	var req addressEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ep := &domain.AddressEndpoint{ServerID: currentServer(c).ID, Address: req.Address}
	if err := h.endpoints.CreateAddress(c.Request.Context(), ep); err != nil {
		h.writeError(c, err)
		return
	}
	Created(c, ep)
}

func (h *Handler) updateAddressEndpoint(c *gin.Context) {
	var req addressEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ep := &domain.AddressEndpoint{ID: c.Param("id"), ServerID: currentServer(c).ID, Address: req.Address}
	if err := h.endpoints.UpdateAddress(c.Request.Context(), ep); err != nil {
		h.writeError(c, err)
		return
	}
	Success(c, ep)
}

func (h *Handler) listAddressEndpoints(c *gin.Context) {
	eps, err := h.endpoints.ListAddress(c.Request.Context(), currentServer(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if eps == nil {
		eps = []domain.AddressEndpoint{}
	}
	Success(c, eps)
}

// ========== 通用 ==========

func (h *Handler) getEndpoint(typ domain.EndpointType) gin.HandlerFunc {
	return func(c *gin.Context) {
		ep, err := h.endpoints.Get(c.Request.Context(), currentServer(c).ID, domain.EndpointRef{Type: typ, ID: c.Param("id")})
		if err != nil {
			h.writeError(c, err)
			return
		}
		Success(c, ep)
	}
}

// deleteEndpoint 删除端点；以其为主端点的路由切换为 Reject
func (h *Handler) deleteEndpoint(typ domain.EndpointType) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.endpoints.Delete(c.Request.Context(), currentServer(c).ID, domain.EndpointRef{Type: typ, ID: c.Param("id")})
		if err != nil {
			h.writeError(c, err)
			return
		}
		Deleted(c)
	}
}
