package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/service"
)

type createDomainRequest struct {
	Name string `json:"name" binding:"required"`
	// OwnerType "Server"（默认）或 "Organization"，后者归属于服务器所在组织
	OwnerType string `json:"owner_type"`
	Verified  bool   `json:"verified"`
}

func (h *Handler) createDomain(c *gin.Context) {
	var req createDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	server := currentServer(c)
	in := service.DomainInput{
		Name:      req.Name,
		OwnerType: domain.OwnerServer,
		OwnerID:   server.ID,
		Verified:  req.Verified,
	}
	if req.OwnerType != "" {
		in.OwnerType = domain.OwnerType(req.OwnerType)
		if in.OwnerType == domain.OwnerOrganization {
			in.OwnerID = server.OrganizationID
		}
	}

	d, err := h.domains.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	Created(c, d)
}

func (h *Handler) listDomains(c *gin.Context) {
	domains, err := h.domains.ListForServer(c.Request.Context(), currentServer(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if domains == nil {
		domains = []domain.Domain{}
	}
	Success(c, domains)
}

// serverDomain 读取路径中的域名，不属于当前服务器时视为不存在
func (h *Handler) serverDomain(c *gin.Context) (*domain.Domain, bool) {
	d, err := h.domains.Get(c.Request.Context(), c.Param("id"))
	if err == nil && !d.ReachableFrom(currentServer(c)) {
		err = domain.ErrDomainNotFound
	}
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return d, true
}

func (h *Handler) getDomain(c *gin.Context) {
	d, ok := h.serverDomain(c)
	if !ok {
		return
	}
	Success(c, d)
}

func (h *Handler) verifyDomain(c *gin.Context) {
	d, ok := h.serverDomain(c)
	if !ok {
		return
	}

	verified, err := h.domains.MarkVerified(c.Request.Context(), d.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	SuccessWithMsg(c, "域名已验证", verified)
}

func (h *Handler) deleteDomain(c *gin.Context) {
	d, ok := h.serverDomain(c)
	if !ok {
		return
	}

	if err := h.domains.Delete(c.Request.Context(), d.ID); err != nil {
		h.writeError(c, err)
		return
	}
	Deleted(c)
}
