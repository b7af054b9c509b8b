package delivery

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy 根据处理次数给出临时失败的重试间隔建议
//
// 只给出建议值，实际重试由外部队列调度。
type RetryPolicy struct {
	backoff *backoff.Backoff
}

// NewRetryPolicy 创建重试策略
func NewRetryPolicy(min, max time.Duration) *RetryPolicy {
	if min <= 0 {
		min = time.Minute
	}
	if max < min {
		max = min
	}
	return &RetryPolicy{backoff: &backoff.Backoff{Min: min, Max: max, Factor: 2}}
}

// After 第 attempt 次失败后的等待时长
func (p *RetryPolicy) After(attempt int) time.Duration {
	if p == nil {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	return p.backoff.ForAttempt(float64(attempt))
}

// retryAfterHeader 解析秒数形式的 Retry-After
func retryAfterHeader(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
