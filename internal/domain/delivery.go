package domain

import "time"

// DeliveryStatus 单个端点的投递结果
type DeliveryStatus string

const (
	DeliverySuccess   DeliveryStatus = "success"
	DeliveryTransient DeliveryStatus = "transient"
	DeliveryPermanent DeliveryStatus = "permanent"
)

// Delivery 持久化的端点投递记录
type Delivery struct {
	ID           string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID    string         `json:"messageId" gorm:"type:varchar(64);index"`
	RouteID      string         `json:"routeId" gorm:"type:varchar(36);index"`
	EndpointType EndpointType   `json:"endpointType" gorm:"type:varchar(32)"`
	EndpointID   string         `json:"endpointId" gorm:"type:varchar(36)"`
	Primary      bool           `json:"primary"`
	Status       DeliveryStatus `json:"status" gorm:"type:varchar(16)"`
	Detail       string         `json:"detail" gorm:"type:text"`
	RetryAfterMS int64          `json:"retryAfterMs"`
	DurationMS   int64          `json:"durationMs"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// WithdrawnMessage 已撤回的消息，撤回后不再记录投递结果
type WithdrawnMessage struct {
	MessageID   string    `json:"messageId" gorm:"primaryKey;type:varchar(64)"`
	ServerID    string    `json:"serverId" gorm:"type:varchar(36);index"`
	WithdrawnAt time.Time `json:"withdrawnAt"`
}
