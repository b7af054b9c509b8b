package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrOrganizationNotFound: "组织不存在",
	domain.ErrServerNotFound:       "服务器不存在",
	domain.ErrDomainNotFound:       "域名不存在",
	domain.ErrDomainExists:         "域名已存在",
	domain.ErrRouteNotFound:        "路由不存在",
	domain.ErrEndpointNotFound:     "端点不存在",
	domain.ErrBindingNotFound:      "附加端点不存在",
	domain.ErrBindingExists:        "端点已绑定到该路由",
	domain.ErrInvalidEndpointClass: "端点类型无效",
	domain.ErrConfigurationInvalid: "配置校验失败",
	service.ErrTokenExhausted:      "生成路由令牌失败，请重试",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidMessage = "邮件内容无效"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)

// writeError 将业务错误转换为对应的 HTTP 响应
func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		UnprocessableEntity(c, GetErrorMessage(domain.ErrConfigurationInvalid), ve.Fields)
	case errors.Is(err, domain.ErrOrganizationNotFound),
		errors.Is(err, domain.ErrServerNotFound),
		errors.Is(err, domain.ErrDomainNotFound),
		errors.Is(err, domain.ErrRouteNotFound),
		errors.Is(err, domain.ErrEndpointNotFound),
		errors.Is(err, domain.ErrBindingNotFound):
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, domain.ErrDomainExists), errors.Is(err, domain.ErrBindingExists):
		Conflict(c, GetErrorMessage(err))
	case errors.Is(err, domain.ErrInvalidEndpointClass):
		BadRequest(c, GetErrorMessage(err))
	default:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
		InternalError(c, MsgInternalError)
	}
}
