package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/service"
)

// routeRequest 创建/更新路由；更新时未出现的字段保持不变
type routeRequest struct {
	Name     *string `json:"name"`
	DomainID *string `json:"domain_id"`
	Mode     *string `json:"mode"`
	SpamMode *string `json:"spam_mode"`
	// Endpoint 单字符串形式，如 "Bounce" 或 "HTTPEndpoint#<uuid>"
	Endpoint     *string `json:"endpoint"`
	EndpointUUID string  `json:"endpoint_uuid"`
	EndpointType string  `json:"endpoint_type"`
}

func (r routeRequest) input() service.RouteInput {
	in := service.RouteInput{
		Name:         r.Name,
		DomainID:     r.DomainID,
		EndpointSpec: r.Endpoint,
		EndpointID:   r.EndpointUUID,
		EndpointType: r.EndpointType,
	}
	if r.Mode != nil {
		mode := domain.RouteMode(*r.Mode)
		in.Mode = &mode
	}
	if r.SpamMode != nil {
		spamMode := domain.SpamMode(*r.SpamMode)
		in.SpamMode = &spamMode
	}
	return in
}

type endpointSummary struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type additionalEndpointResponse struct {
	ID       string          `json:"id"`
	Position int             `json:"position"`
	Endpoint endpointSummary `json:"endpoint"`
}

type routeResponse struct {
	ID                  string                       `json:"id"`
	Name                string                       `json:"name"`
	Description         string                       `json:"description"`
	Domain              *string                      `json:"domain"`
	Mode                domain.RouteMode             `json:"mode"`
	SpamMode            domain.SpamMode              `json:"spamMode"`
	Token               string                       `json:"token"`
	ForwardAddress      string                       `json:"forwardAddress,omitempty"`
	Endpoint            *endpointSummary             `json:"endpoint"`
	AdditionalEndpoints []additionalEndpointResponse `json:"additionalEndpoints,omitempty"`
	CreatedAt           time.Time                    `json:"createdAt"`
	UpdatedAt           time.Time                    `json:"updatedAt"`
}

func summarize(ep domain.Endpoint) endpointSummary {
	ref := ep.Ref()
	return endpointSummary{Type: string(ref.Type), ID: ref.ID, Name: ep.Label()}
}

func toRouteResponse(d *service.RouteDetails) routeResponse {
	r := d.Route
	resp := routeResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: d.Description(),
		Mode:        r.Mode,
		SpamMode:    r.SpamMode,
		Token:       r.Token,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if d.Domain != nil {
		name := d.Domain.Name
		resp.Domain = &name
		resp.ForwardAddress = r.ForwardAddress(name)
	}
	if d.Endpoint != nil {
		s := summarize(d.Endpoint)
		resp.Endpoint = &s
	}
	for _, b := range d.Additional {
		resp.AdditionalEndpoints = append(resp.AdditionalEndpoints, additionalEndpointResponse{
			ID:       b.Binding.ID,
			Position: b.Binding.Position,
			Endpoint: summarize(b.Endpoint),
		})
	}
	return resp
}

// respondRoute 返回带附加端点的路由详情
func (h *Handler) respondRoute(c *gin.Context, routeID string, created bool) {
	details, err := h.routes.Details(c.Request.Context(), currentServer(c).ID, routeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if created {
		Created(c, toRouteResponse(details))
		return
	}
	Success(c, toRouteResponse(details))
}

func (h *Handler) createRoute(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	route, err := h.routes.Create(c.Request.Context(), currentServer(c).ID, req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondRoute(c, route.ID, true)
}

func (h *Handler) updateRoute(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	route, err := h.routes.Update(c.Request.Context(), currentServer(c).ID, c.Param("id"), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondRoute(c, route.ID, false)
}

func (h *Handler) getRoute(c *gin.Context) {
	h.respondRoute(c, c.Param("id"), false)
}

func (h *Handler) listRoutes(c *gin.Context) {
	ctx := c.Request.Context()
	routes, err := h.routes.List(ctx, currentServer(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]routeResponse, 0, len(routes))
	for i := range routes {
		details, err := h.routes.Describe(ctx, &routes[i])
		if err != nil {
			h.writeError(c, err)
			return
		}
		items = append(items, toRouteResponse(details))
	}
	Success(c, items)
}

func (h *Handler) deleteRoute(c *gin.Context) {
	if err := h.routes.Delete(c.Request.Context(), currentServer(c).ID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	Deleted(c)
}

// ========== 附加端点 ==========

type additionalEndpointRequest struct {
	EndpointUUID string `json:"endpoint_uuid" binding:"required"`
	EndpointType string `json:"endpoint_type"`
}

func (h *Handler) addAdditionalEndpoint(c *gin.Context) {
	var req additionalEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	_, err := h.routes.AddAdditionalEndpoint(c.Request.Context(), currentServer(c).ID, c.Param("id"), req.EndpointUUID, req.EndpointType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondRoute(c, c.Param("id"), true)
}

func (h *Handler) listAdditionalEndpoints(c *gin.Context) {
	bindings, err := h.routes.ListAdditionalEndpoints(c.Request.Context(), currentServer(c).ID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if bindings == nil {
		bindings = []domain.AdditionalRouteEndpoint{}
	}
	Success(c, bindings)
}

func (h *Handler) removeAdditionalEndpoint(c *gin.Context) {
	err := h.routes.RemoveAdditionalEndpoint(c.Request.Context(), currentServer(c).ID, c.Param("id"), c.Param("binding"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	Deleted(c)
}
