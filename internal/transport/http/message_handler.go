package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroute/backend/internal/disposition"
	"mailroute/backend/internal/domain"
	smtpingress "mailroute/backend/internal/smtp"
)

func (h *Handler) withdrawMessage(c *gin.Context) {
	if err := h.messages.Withdraw(c.Request.Context(), currentServer(c).ID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	SuccessWithMsg(c, "邮件已撤回", gin.H{"id": c.Param("id"), "withdrawn": true})
}

// listDeliveries 邮件的投递记录，只返回当前服务器路由产生的记录
func (h *Handler) listDeliveries(c *gin.Context) {
	ctx := c.Request.Context()
	deliveries, err := h.messages.Deliveries(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	routes, err := h.routes.List(ctx, currentServer(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	owned := make(map[string]bool, len(routes))
	for _, r := range routes {
		owned[r.ID] = true
	}
	items := make([]domain.Delivery, 0, len(deliveries))
	for _, d := range deliveries {
		if owned[d.RouteID] {
			items = append(items, d)
		}
	}
	Success(c, items)
}

// dispositionRequest 处置模拟：对给定信封和原始邮件运行处置引擎
type dispositionRequest struct {
	MailFrom string `json:"mail_from"`
	RcptTo   string `json:"rcpt_to"`
	Message  string `json:"message" binding:"required"`
	// ReturnPath 为 true 时忽略 rcpt_to 的域名，使用当前服务器的退信路由
	ReturnPath bool `json:"return_path"`
}

type dispositionResponse struct {
	MessageID string `json:"messageId"`
	*disposition.Outcome
}

// simulateDisposition 同步处置一封邮件并返回结果，需要投递时同步投递
func (h *Handler) simulateDisposition(c *gin.Context) {
	var req dispositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	server := currentServer(c)
	env := disposition.Envelope{MailFrom: req.MailFrom, ReturnPath: req.ReturnPath}
	if req.ReturnPath {
		env.ServerID = server.ID
	} else {
		local, domainName, ok := domain.SplitAddress(req.RcptTo)
		if !ok {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		env.LocalPart, env.Domain = local, domainName
	}

	msg, err := smtpingress.ParseMessage([]byte(req.Message))
	if err != nil {
		h.logger.Warn("simulated message parse failed", zap.Error(err))
	}
	msg.MailFrom = req.MailFrom
	msg.RcptTo = req.RcptTo
	env.Message = msg

	ctx := c.Request.Context()
	decision, err := h.engine.Decide(ctx, env)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if decision.ServerID != "" && decision.ServerID != server.ID {
		h.writeError(c, domain.ErrRouteNotFound)
		return
	}

	outcome, err := h.engine.Execute(ctx, decision)
	if outcome == nil {
		h.writeError(c, err)
		return
	}
	if err != nil {
		h.logger.Warn("simulated dispatch incomplete", zap.String("message_id", msg.ID), zap.Error(err))
	}
	Success(c, dispositionResponse{MessageID: msg.ID, Outcome: outcome})
}
