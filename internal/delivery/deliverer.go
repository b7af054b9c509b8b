package delivery

import (
	"context"
	"fmt"
	"time"

	"mailroute/backend/internal/domain"
)

// Deliverer 单个端点的投递能力
type Deliverer interface {
	Endpoint() domain.Endpoint
	// Timeout 单次投递的时间上限
	Timeout() time.Duration
	Deliver(ctx context.Context, msg *domain.Message) Outcome
}

// FactoryOptions 非 HTTP 端点的默认超时
type FactoryOptions struct {
	SMTPTimeout    time.Duration
	AddressTimeout time.Duration
}

// Factory 根据端点类型构建 Deliverer
type Factory struct {
	transports Transports
	opts       FactoryOptions
}

// NewFactory 创建 Deliverer 工厂
func NewFactory(transports Transports, opts FactoryOptions) *Factory {
	if opts.SMTPTimeout <= 0 {
		opts.SMTPTimeout = 60 * time.Second
	}
	if opts.AddressTimeout <= 0 {
		opts.AddressTimeout = 30 * time.Second
	}
	return &Factory{transports: transports, opts: opts}
}

// For 返回端点对应的 Deliverer
func (f *Factory) For(ep domain.Endpoint) (Deliverer, error) {
	switch e := ep.(type) {
	case *domain.HTTPEndpoint:
		if f.transports.HTTP == nil {
			return nil, fmt.Errorf("no transport for %s", domain.EndpointHTTP)
		}
		return &httpDeliverer{endpoint: e, transport: f.transports.HTTP}, nil
	case *domain.SMTPEndpoint:
		if f.transports.SMTP == nil {
			return nil, fmt.Errorf("no transport for %s", domain.EndpointSMTP)
		}
		return &smtpDeliverer{endpoint: e, transport: f.transports.SMTP, timeout: f.opts.SMTPTimeout}, nil
	case *domain.AddressEndpoint:
		if f.transports.Address == nil {
			return nil, fmt.Errorf("no transport for %s", domain.EndpointAddress)
		}
		return &addressDeliverer{endpoint: e, transport: f.transports.Address, timeout: f.opts.AddressTimeout}, nil
	case nil:
		return nil, domain.ErrEndpointNotFound
	}
	return nil, fmt.Errorf("%w: %T", domain.ErrInvalidEndpointClass, ep)
}

type httpDeliverer struct {
	endpoint  *domain.HTTPEndpoint
	transport HTTPTransport
}

func (d *httpDeliverer) Endpoint() domain.Endpoint { return d.endpoint }
func (d *httpDeliverer) Timeout() time.Duration    { return d.endpoint.TimeoutDuration() }

func (d *httpDeliverer) Deliver(ctx context.Context, msg *domain.Message) Outcome {
	req, err := BuildHTTPRequest(d.endpoint, msg)
	if err != nil {
		return Permanent("build request: " + err.Error())
	}
	return d.transport.SendHTTP(ctx, req)
}

type smtpDeliverer struct {
	endpoint  *domain.SMTPEndpoint
	transport SMTPTransport
	timeout   time.Duration
}

func (d *smtpDeliverer) Endpoint() domain.Endpoint { return d.endpoint }
func (d *smtpDeliverer) Timeout() time.Duration    { return d.timeout }

func (d *smtpDeliverer) Deliver(ctx context.Context, msg *domain.Message) Outcome {
	if d.endpoint.Hostname == "" {
		return Permanent("endpoint has no hostname")
	}
	port := d.endpoint.Port
	if port == 0 {
		port = domain.DefaultSMTPPort
	}
	mode := d.endpoint.SSLMode
	if mode == "" {
		mode = domain.SSLModeAuto
	}
	return d.transport.SendSMTP(ctx, &SMTPRequest{
		Host:    d.endpoint.Hostname,
		Port:    port,
		SSLMode: mode,
		From:    msg.MailFrom,
		To:      []string{msg.RcptTo},
		Message: smtpPayload(msg),
		Timeout: d.timeout,
		Attempt: msg.Attempt,
	})
}

type addressDeliverer struct {
	endpoint  *domain.AddressEndpoint
	transport AddressTransport
	timeout   time.Duration
}

func (d *addressDeliverer) Endpoint() domain.Endpoint { return d.endpoint }
func (d *addressDeliverer) Timeout() time.Duration    { return d.timeout }

func (d *addressDeliverer) Deliver(ctx context.Context, msg *domain.Message) Outcome {
	if _, _, ok := domain.SplitAddress(d.endpoint.Address); !ok {
		return Permanent("invalid address " + d.endpoint.Address)
	}
	return d.transport.SendAddress(ctx, &AddressRequest{
		Address: d.endpoint.Address,
		Message: msg,
		Timeout: d.timeout,
		Attempt: msg.Attempt,
	})
}
