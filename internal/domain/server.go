package domain

import (
	"time"
)

// DefaultSpamThreshold 服务器未配置阈值时使用的垃圾邮件分数阈值
const DefaultSpamThreshold = 5.0

// Organization 组织，服务器与域名的上级归属
type Organization struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"createdAt"`
}

// Server 邮件服务器，路由与投递端点都归属于某个服务器
type Server struct {
	ID                   string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrganizationID       string    `json:"organizationId" gorm:"type:varchar(36);index"`
	Name                 string    `json:"name" gorm:"type:varchar(255)"`
	SpamThreshold        float64   `json:"spamThreshold" gorm:"default:5"`
	SpamFailureThreshold float64   `json:"spamFailureThreshold" gorm:"default:0"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Threshold 返回生效的垃圾邮件阈值
func (s *Server) Threshold(fallback float64) float64 {
	if s == nil || s.SpamThreshold <= 0 {
		if fallback > 0 {
			return fallback
		}
		return DefaultSpamThreshold
	}
	return s.SpamThreshold
}

// FailureThreshold 返回生效的硬性失败阈值：服务器未设置时使用 fallback，0 表示不启用
func (s *Server) FailureThreshold(fallback float64) float64 {
	if s != nil && s.SpamFailureThreshold > 0 {
		return s.SpamFailureThreshold
	}
	return max(fallback, 0)
}

// OwnerType 域名归属类型
type OwnerType string

const (
	OwnerServer       OwnerType = "Server"
	OwnerOrganization OwnerType = "Organization"
)

// Valid 判断归属类型是否合法
func (t OwnerType) Valid() bool {
	return t == OwnerServer || t == OwnerOrganization
}

// Domain 接收邮件的域名
type Domain struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name       string     `json:"name" gorm:"type:varchar(253);uniqueIndex"`
	OwnerType  OwnerType  `json:"ownerType" gorm:"type:varchar(20);index:idx_domain_owner"`
	OwnerID    string     `json:"ownerId" gorm:"type:varchar(36);index:idx_domain_owner"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// IsVerified 域名是否已通过验证
func (d *Domain) IsVerified() bool {
	return d.VerifiedAt != nil
}

// MarkVerified 标记域名已验证
func (d *Domain) MarkVerified(at time.Time) {
	t := at.UTC()
	d.VerifiedAt = &t
}

// ReachableFrom 判断服务器能否使用该域名：
// 域名直接归属于该服务器，或归属于服务器所在的组织
func (d *Domain) ReachableFrom(server *Server) bool {
	if d == nil || server == nil {
		return false
	}
	switch d.OwnerType {
	case OwnerServer:
		return d.OwnerID == server.ID
	case OwnerOrganization:
		return d.OwnerID == server.OrganizationID
	default:
		return false
	}
}
