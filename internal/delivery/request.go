package delivery

import (
	"context"
	"net/http"
	"time"

	"mailroute/backend/internal/domain"
)

// HTTPRequest 发往 HTTP 端点的请求
type HTTPRequest struct {
	Method  string
	URL     string
	Body    []byte
	Headers http.Header
	Timeout time.Duration
	Attempt int
}

// SMTPRequest 转发到 SMTP 端点的请求
type SMTPRequest struct {
	Host    string
	Port    int
	SSLMode domain.SSLMode
	From    string
	To      []string
	Message []byte
	Timeout time.Duration
	Attempt int
}

// AddressRequest 重新投递到另一个地址
type AddressRequest struct {
	Address string
	Message *domain.Message
	Timeout time.Duration
	Attempt int
}

// HTTPTransport 执行 HTTP 请求
type HTTPTransport interface {
	SendHTTP(ctx context.Context, req *HTTPRequest) Outcome
}

// SMTPTransport 执行 SMTP 转发
type SMTPTransport interface {
	SendSMTP(ctx context.Context, req *SMTPRequest) Outcome
}

// AddressTransport 执行地址重投
type AddressTransport interface {
	SendAddress(ctx context.Context, req *AddressRequest) Outcome
}

// Transports 三种端点的传输实现
type Transports struct {
	HTTP    HTTPTransport
	SMTP    SMTPTransport
	Address AddressTransport
}
