package delivery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	gosmtp "github.com/emersion/go-smtp"

	"mailroute/backend/internal/domain"
)

// errConnect 建立 TCP/TLS 连接失败
var errConnect = errors.New("connect")

// SMTPClientTransport 基于 go-smtp 客户端的 SMTP 端点传输
type SMTPClientTransport struct {
	hostname string
	retry    *RetryPolicy
	dialer   *net.Dialer
	rootCAs  *x509.CertPool
}

// NewSMTPTransport 创建 SMTP 传输，hostname 用于 EHLO
func NewSMTPTransport(hostname string, retry *RetryPolicy) *SMTPClientTransport {
	if hostname == "" {
		hostname = "localhost"
	}
	return &SMTPClientTransport{hostname: hostname, retry: retry, dialer: &net.Dialer{}}
}

// WithRootCAs 指定校验证书使用的根证书，nil 表示系统根证书
func (t *SMTPClientTransport) WithRootCAs(pool *x509.CertPool) *SMTPClientTransport {
	t.rootCAs = pool
	return t
}

// SendSMTP 连接目标服务器并转发邮件
//
// 5xx 应答为永久失败；4xx 应答、连接错误与超时为临时失败。
// Auto 模式下 STARTTLS 升级失败时改用新的明文连接重试一次。
func (t *SMTPClientTransport) SendSMTP(ctx context.Context, req *SMTPRequest) Outcome {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(req.Host, strconv.Itoa(req.Port))
	c, stop, err := t.open(ctx, addr, req, req.SSLMode)
	if err != nil && req.SSLMode == domain.SSLModeAuto && !errors.Is(err, errConnect) && ctx.Err() == nil {
		c, stop, err = t.open(ctx, addr, req, domain.SSLModeNone)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Transient("timed out", t.retry.After(req.Attempt))
		}
		return t.classify(err, req.Attempt)
	}
	defer stop()
	defer c.Close()

	if err := t.send(c, req); err != nil {
		if ctx.Err() != nil {
			return Transient("timed out", t.retry.After(req.Attempt))
		}
		return t.classify(err, req.Attempt)
	}
	return Success("accepted by " + addr)
}

// open 建立连接并完成 EHLO（以及 STARTTLS）
func (t *SMTPClientTransport) open(ctx context.Context, addr string, req *SMTPRequest, mode domain.SSLMode) (*gosmtp.Client, func() bool, error) {
	conn, err := t.dial(ctx, addr, req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %s: %w", errConnect, addr, err)
	}
	// 超时或取消时关闭连接，打断阻塞中的读写
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, err := t.handshake(conn, req, mode)
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, err
	}
	return c, stop, nil
}

func (t *SMTPClientTransport) dial(ctx context.Context, addr string, req *SMTPRequest) (net.Conn, error) {
	if req.SSLMode == domain.SSLModeTLS {
		d := &tls.Dialer{NetDialer: t.dialer, Config: t.tlsConfig(req.Host, true)}
		return d.DialContext(ctx, "tcp", addr)
	}
	return t.dialer.DialContext(ctx, "tcp", addr)
}

func (t *SMTPClientTransport) handshake(conn net.Conn, req *SMTPRequest, mode domain.SSLMode) (*gosmtp.Client, error) {
	var c *gosmtp.Client
	switch mode {
	case domain.SSLModeSTARTTLS, domain.SSLModeAuto:
		// Auto 为机会性加密，不校验证书
		client, err := gosmtp.NewClientStartTLS(conn, t.tlsConfig(req.Host, mode == domain.SSLModeSTARTTLS))
		if err != nil {
			if strings.Contains(err.Error(), "doesn't support STARTTLS") {
				return nil, &gosmtp.SMTPError{Code: 554, Message: "server does not support STARTTLS"}
			}
			return nil, err
		}
		c = client
	default:
		c = gosmtp.NewClient(conn)
	}

	// STARTTLS 之后需要重新 EHLO，这里用自己的主机名
	if err := c.Hello(t.hostname); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (t *SMTPClientTransport) tlsConfig(host string, verify bool) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		RootCAs:            t.rootCAs,
		InsecureSkipVerify: !verify,
	}
}

func (t *SMTPClientTransport) send(c *gosmtp.Client, req *SMTPRequest) error {
	if err := c.Mail(req.From, nil); err != nil {
		return err
	}
	for _, rcpt := range req.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(req.Message); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (t *SMTPClientTransport) classify(err error, attempt int) Outcome {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return Permanent(fmt.Sprintf("%d %s", smtpErr.Code, smtpErr.Message))
	}
	if errors.As(err, &smtpErr) {
		return Transient(fmt.Sprintf("%d %s", smtpErr.Code, smtpErr.Message), t.retry.After(attempt))
	}
	return Transient(err.Error(), t.retry.After(attempt))
}

var _ SMTPTransport = (*SMTPClientTransport)(nil)
