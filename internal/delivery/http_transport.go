package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// 响应体只保留前 512 字节作为详情
const maxDetailBytes = 512

// HTTPClientTransport 基于 net/http 的 HTTP 端点传输
type HTTPClientTransport struct {
	client *http.Client
	retry  *RetryPolicy
}

// NewHTTPTransport 创建 HTTP 传输，client 为空时使用默认客户端
func NewHTTPTransport(client *http.Client, retry *RetryPolicy) *HTTPClientTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClientTransport{client: client, retry: retry}
}

// SendHTTP 发送请求并按状态码分类结果
//
// 2xx 成功；408/429 与 5xx 临时失败；其他 4xx 永久失败；网络错误临时失败。
func (t *HTTPClientTransport) SendHTTP(ctx context.Context, req *HTTPRequest) Outcome {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Permanent("invalid request: " + err.Error())
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Transient("timed out", t.retry.After(req.Attempt))
		}
		return Transient("request failed: "+err.Error(), t.retry.After(req.Attempt))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if len(body) > 0 {
		detail += ": " + string(body)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success(detail)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		wait := t.retry.After(req.Attempt)
		if hinted, ok := retryAfterHeader(resp.Header); ok {
			wait = hinted
		}
		return Transient(detail, wait)
	default:
		return Permanent(detail)
	}
}

var _ HTTPTransport = (*HTTPClientTransport)(nil)
