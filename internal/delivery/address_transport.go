package delivery

import (
	"context"
	"fmt"
	"net/textproto"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
)

// HopHeader 每次本地重投追加一次，用于防止循环
const HopHeader = "X-Mailroute-Hop"

// DefaultMaxHops 默认最大重投次数
const DefaultMaxHops = 5

// Injector 把邮件重新送入本地处置流程
type Injector interface {
	Inject(ctx context.Context, msg *domain.Message) (accepted bool, detail string, err error)
}

// InjectorFunc 函数形式的 Injector
type InjectorFunc func(ctx context.Context, msg *domain.Message) (bool, string, error)

func (f InjectorFunc) Inject(ctx context.Context, msg *domain.Message) (bool, string, error) {
	return f(ctx, msg)
}

// LoopbackTransport 地址端点传输：以新收件人重新走一遍本地处置
type LoopbackTransport struct {
	injector Injector
	maxHops  int
	retry    *RetryPolicy
}

// NewLoopbackTransport 创建本地重投传输
func NewLoopbackTransport(maxHops int, retry *RetryPolicy) *LoopbackTransport {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &LoopbackTransport{maxHops: maxHops, retry: retry}
}

// SetInjector 设置重投入口，须在开始投递前调用
func (t *LoopbackTransport) SetInjector(injector Injector) {
	t.injector = injector
}

// SendAddress 以新收件人重投
func (t *LoopbackTransport) SendAddress(ctx context.Context, req *AddressRequest) Outcome {
	if t.injector == nil {
		return Transient("loopback not ready", t.retry.After(req.Attempt))
	}
	if req.Message == nil {
		return Permanent("no message")
	}

	hops := len(req.Message.Headers.Values(HopHeader))
	if hops >= t.maxHops {
		return Permanent(fmt.Sprintf("too many hops (%d)", hops))
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	accepted, detail, err := t.injector.Inject(ctx, redirect(req.Message, req.Address))
	switch {
	case err != nil:
		return Transient("reinject failed: "+err.Error(), t.retry.After(req.Attempt))
	case !accepted:
		return Permanent(detail)
	}
	return Success(detail)
}

// redirect 复制邮件并改写收件人
func redirect(msg *domain.Message, address string) *domain.Message {
	out := *msg
	out.ID = uuid.New().String()
	out.RcptTo = address
	out.Spam = false
	out.SpamScore = 0

	headers := make(textproto.MIMEHeader, len(msg.Headers)+1)
	for k, vs := range msg.Headers {
		headers[k] = append([]string(nil), vs...)
	}
	headers.Add(HopHeader, msg.ID)
	out.Headers = headers
	return &out
}

var _ AddressTransport = (*LoopbackTransport)(nil)
