package domain

import (
	"fmt"
	"strings"
	"time"
)

// EndpointType 投递端点类型
type EndpointType string

const (
	EndpointSMTP    EndpointType = "SMTPEndpoint"
	EndpointHTTP    EndpointType = "HTTPEndpoint"
	EndpointAddress EndpointType = "AddressEndpoint"
)

// EndpointTypes 全部端点类型
var EndpointTypes = []EndpointType{EndpointSMTP, EndpointHTTP, EndpointAddress}

// Valid 判断端点类型是否合法
func (t EndpointType) Valid() bool {
	for _, v := range EndpointTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseEndpointType 解析端点类型，同时接受简写 http/smtp/address
func ParseEndpointType(value string) (EndpointType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "httpendpoint", "http":
		return EndpointHTTP, true
	case "smtpendpoint", "smtp":
		return EndpointSMTP, true
	case "addressendpoint", "address":
		return EndpointAddress, true
	}
	return "", false
}

// EndpointRef 端点引用（类型 + ID）
type EndpointRef struct {
	Type EndpointType `json:"type"`
	ID   string       `json:"id"`
}

// IsZero 引用是否为空
func (r EndpointRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r EndpointRef) String() string {
	return fmt.Sprintf("%s#%s", r.Type, r.ID)
}

// Endpoint 三种投递端点的公共能力
type Endpoint interface {
	Ref() EndpointRef
	OwnerID() string
	Label() string
}

// HTTPEncoding HTTP 端点请求体编码
type HTTPEncoding string

const (
	EncodingBodyAsJSON HTTPEncoding = "BodyAsJSON"
	EncodingFormData   HTTPEncoding = "FormData"
)

// HTTPFormat HTTP 端点载荷格式
type HTTPFormat string

const (
	FormatHash       HTTPFormat = "Hash"
	FormatRawMessage HTTPFormat = "RawMessage"
)

// DefaultHTTPTimeout HTTP 端点默认超时（秒）
const DefaultHTTPTimeout = 30

// HTTPEndpoint 通过 HTTP 回调投递
type HTTPEndpoint struct {
	ID                 string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID           string       `json:"serverId" gorm:"type:varchar(36);index"`
	Name               string       `json:"name" gorm:"type:varchar(255)"`
	URL                string       `json:"url" gorm:"type:varchar(2048)"`
	Encoding           HTTPEncoding `json:"encoding" gorm:"type:varchar(20)"`
	Format             HTTPFormat   `json:"format" gorm:"type:varchar(20)"`
	StripReplies       bool         `json:"stripReplies"`
	IncludeAttachments bool         `json:"includeAttachments"`
	Timeout            int          `json:"timeout"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

func (HTTPEndpoint) TableName() string { return "http_endpoints" }

func (e *HTTPEndpoint) Ref() EndpointRef { return EndpointRef{Type: EndpointHTTP, ID: e.ID} }
func (e *HTTPEndpoint) OwnerID() string  { return e.ServerID }
func (e *HTTPEndpoint) Label() string    { return e.Name }

// ApplyDefaults 填充未设置的字段
func (e *HTTPEndpoint) ApplyDefaults() {
	if e.Encoding == "" {
		e.Encoding = EncodingBodyAsJSON
	}
	if e.Format == "" {
		e.Format = FormatHash
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultHTTPTimeout
	}
}

// TimeoutDuration 请求超时时长
func (e *HTTPEndpoint) TimeoutDuration() time.Duration {
	if e.Timeout <= 0 {
		return DefaultHTTPTimeout * time.Second
	}
	return time.Duration(e.Timeout) * time.Second
}

// SSLMode SMTP 端点的加密方式
type SSLMode string

const (
	SSLModeNone     SSLMode = "None"
	SSLModeAuto     SSLMode = "Auto"
	SSLModeSTARTTLS SSLMode = "STARTTLS"
	SSLModeTLS      SSLMode = "TLS"
)

// Valid 判断加密方式是否合法
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeNone, SSLModeAuto, SSLModeSTARTTLS, SSLModeTLS:
		return true
	}
	return false
}

// DefaultSMTPPort SMTP 端点默认端口
const DefaultSMTPPort = 25

// SMTPEndpoint 转发到另一台 SMTP 服务器
type SMTPEndpoint struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID  string    `json:"serverId" gorm:"type:varchar(36);index"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	Hostname  string    `json:"hostname" gorm:"type:varchar(255)"`
	Port      int       `json:"port"`
	SSLMode   SSLMode   `json:"sslMode" gorm:"type:varchar(20)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SMTPEndpoint) TableName() string { return "smtp_endpoints" }

func (e *SMTPEndpoint) Ref() EndpointRef { return EndpointRef{Type: EndpointSMTP, ID: e.ID} }
func (e *SMTPEndpoint) OwnerID() string  { return e.ServerID }
func (e *SMTPEndpoint) Label() string    { return e.Name }

// ApplyDefaults 填充未设置的字段
func (e *SMTPEndpoint) ApplyDefaults() {
	if e.Port == 0 {
		e.Port = DefaultSMTPPort
	}
	if e.SSLMode == "" {
		e.SSLMode = SSLModeAuto
	}
}

// Addr 返回 host:port
func (e *SMTPEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Hostname, e.Port)
}

// AddressEndpoint 重新投递到另一个邮箱地址
type AddressEndpoint struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID  string    `json:"serverId" gorm:"type:varchar(36);index"`
	Address   string    `json:"address" gorm:"type:varchar(254)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (AddressEndpoint) TableName() string { return "address_endpoints" }

func (e *AddressEndpoint) Ref() EndpointRef { return EndpointRef{Type: EndpointAddress, ID: e.ID} }
func (e *AddressEndpoint) OwnerID() string  { return e.ServerID }
func (e *AddressEndpoint) Label() string    { return e.Address }

// AdditionalRouteEndpoint 路由的附加投递端点，按 Position 排序
type AdditionalRouteEndpoint struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RouteID      string       `json:"routeId" gorm:"type:varchar(36);index"`
	EndpointType EndpointType `json:"endpointType" gorm:"type:varchar(32)"`
	EndpointID   string       `json:"endpointId" gorm:"type:varchar(36)"`
	Position     int          `json:"position"`
	CreatedAt    time.Time    `json:"createdAt"`
}

func (AdditionalRouteEndpoint) TableName() string { return "additional_route_endpoints" }

// Ref 返回绑定的端点引用
func (a *AdditionalRouteEndpoint) Ref() EndpointRef {
	return EndpointRef{Type: a.EndpointType, ID: a.EndpointID}
}
