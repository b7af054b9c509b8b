package delivery

import (
	"time"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
)

// Outcome 单个端点的投递结果
type Outcome struct {
	Endpoint   domain.EndpointRef    `json:"endpoint"`
	Label      string                `json:"label,omitempty"`
	Primary    bool                  `json:"primary"`
	Status     domain.DeliveryStatus `json:"status"`
	Detail     string                `json:"detail,omitempty"`
	RetryAfter time.Duration         `json:"retryAfter,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

// Success 投递成功
func Success(detail string) Outcome {
	return Outcome{Status: domain.DeliverySuccess, Detail: detail}
}

// Transient 临时失败，可重试
func Transient(detail string, retryAfter time.Duration) Outcome {
	return Outcome{Status: domain.DeliveryTransient, Detail: detail, RetryAfter: retryAfter}
}

// Permanent 永久失败
func Permanent(detail string) Outcome {
	return Outcome{Status: domain.DeliveryPermanent, Detail: detail}
}

// Succeeded 是否成功
func (o Outcome) Succeeded() bool {
	return o.Status == domain.DeliverySuccess
}

// Record 转换为持久化记录
func (o Outcome) Record(messageID, routeID string) domain.Delivery {
	return domain.Delivery{
		ID:           uuid.New().String(),
		MessageID:    messageID,
		RouteID:      routeID,
		EndpointType: o.Endpoint.Type,
		EndpointID:   o.Endpoint.ID,
		Primary:      o.Primary,
		Status:       o.Status,
		Detail:       o.Detail,
		RetryAfterMS: o.RetryAfter.Milliseconds(),
		DurationMS:   o.Duration.Milliseconds(),
	}
}
