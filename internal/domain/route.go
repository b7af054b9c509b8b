package domain

import (
	"fmt"
	"strings"
	"time"
)

// RouteMode 路由处理模式
type RouteMode string

const (
	ModeEndpoint RouteMode = "Endpoint"
	ModeAccept   RouteMode = "Accept"
	ModeHold     RouteMode = "Hold"
	ModeBounce   RouteMode = "Bounce"
	ModeReject   RouteMode = "Reject"
)

// RouteModes 全部路由模式
var RouteModes = []RouteMode{ModeEndpoint, ModeAccept, ModeHold, ModeBounce, ModeReject}

// Valid 判断路由模式是否合法
func (m RouteMode) Valid() bool {
	for _, v := range RouteModes {
		if v == m {
			return true
		}
	}
	return false
}

// SpamMode 垃圾邮件处理模式
type SpamMode string

const (
	SpamMark       SpamMode = "Mark"
	SpamQuarantine SpamMode = "Quarantine"
	SpamFail       SpamMode = "Fail"
)

// SpamModes 全部垃圾邮件处理模式
var SpamModes = []SpamMode{SpamMark, SpamQuarantine, SpamFail}

// Valid 判断垃圾邮件模式是否合法
func (m SpamMode) Valid() bool {
	for _, v := range SpamModes {
		if v == m {
			return true
		}
	}
	return false
}

const (
	// ReturnPathName 退信路由的保留名称
	ReturnPathName = "__returnpath__"
	// WildcardName 通配路由名称
	WildcardName = "*"
	// TokenLength 路由令牌长度
	TokenLength = 8
)

// Route 将 本地部分@域名 映射到一种处理方式
type Route struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID     string       `json:"serverId" gorm:"type:varchar(36);index"`
	DomainID     *string      `json:"domainId,omitempty" gorm:"type:varchar(36);uniqueIndex:idx_route_domain_name"`
	Name         string       `json:"name" gorm:"type:varchar(255);uniqueIndex:idx_route_domain_name"`
	Mode         RouteMode    `json:"mode" gorm:"type:varchar(20)"`
	SpamMode     SpamMode     `json:"spamMode" gorm:"type:varchar(20)"`
	EndpointType EndpointType `json:"endpointType,omitempty" gorm:"type:varchar(32)"`
	EndpointID   string       `json:"endpointId,omitempty" gorm:"type:varchar(36)"`
	Token        string       `json:"token" gorm:"type:varchar(16);uniqueIndex"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// IsReturnPath 是否为退信路由
func (r *Route) IsReturnPath() bool {
	return r.Name == ReturnPathName
}

// IsWildcard 是否为通配路由
func (r *Route) IsWildcard() bool {
	return r.Name == WildcardName
}

// Endpoint 返回主端点引用
func (r *Route) Endpoint() (EndpointRef, bool) {
	if r.EndpointType == "" || r.EndpointID == "" {
		return EndpointRef{}, false
	}
	return EndpointRef{Type: r.EndpointType, ID: r.EndpointID}, true
}

// SetEndpoint 设置主端点
func (r *Route) SetEndpoint(ref EndpointRef) {
	r.EndpointType = ref.Type
	r.EndpointID = ref.ID
}

// ClearEndpoint 清除主端点
func (r *Route) ClearEndpoint() {
	r.EndpointType = ""
	r.EndpointID = ""
}

// InDomain 判断路由是否属于指定域名
func (r *Route) InDomain(domainID string) bool {
	return r.DomainID != nil && *r.DomainID == domainID
}

// Description 路由的可读描述
func (r *Route) Description(d *Domain) string {
	if r.IsReturnPath() {
		return "Return Path"
	}
	if d == nil {
		return r.Name
	}
	return r.Name + "@" + d.Name
}

// ForwardAddress 退信关联地址：token@域名
func (r *Route) ForwardAddress(domainName string) string {
	return r.Token + "@" + strings.ToLower(domainName)
}

// Clone 返回路由副本
func (r *Route) Clone() *Route {
	cp := *r
	if r.DomainID != nil {
		id := *r.DomainID
		cp.DomainID = &id
	}
	return &cp
}

// EndpointSpec 单字符串形式的模式/端点设置
//
//	"Bounce"            仅设置模式
//	"HTTPEndpoint#<id>" 设置端点并切换为 Endpoint 模式
//	""                  同时清除模式与端点
type EndpointSpec struct {
	Mode RouteMode
	Ref  EndpointRef
}

// ParseEndpointSpec 解析端点设置字符串
func ParseEndpointSpec(value string) (EndpointSpec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return EndpointSpec{}, nil
	}

	class, id, found := strings.Cut(value, "#")
	if !found {
		return EndpointSpec{Mode: RouteMode(value)}, nil
	}

	typ := EndpointType(class)
	if !typ.Valid() {
		return EndpointSpec{}, fmt.Errorf("%w: %s", ErrInvalidEndpointClass, class)
	}

	return EndpointSpec{Mode: ModeEndpoint, Ref: EndpointRef{Type: typ, ID: id}}, nil
}

// Apply 将设置应用到路由
func (s EndpointSpec) Apply(r *Route) {
	r.Mode = s.Mode
	if s.Ref.IsZero() {
		r.ClearEndpoint()
		return
	}
	r.SetEndpoint(s.Ref)
}
