package smtp

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailroute/backend/internal/disposition"
	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/routing"
)

// Resolver 收件人路由查询
type Resolver interface {
	Resolve(ctx context.Context, domainName, localPart string) (*routing.Match, bool, error)
	ResolveReturnPath(ctx context.Context, serverID string) (*routing.Match, bool, error)
}

// Disposer 处置引擎
type Disposer interface {
	Decide(ctx context.Context, env disposition.Envelope) (*disposition.Decision, error)
	Execute(ctx context.Context, d *disposition.Decision) (*disposition.Outcome, error)
}

// Submitter 异步投递队列
type Submitter interface {
	TrySubmit(task func()) bool
}

// Options SMTP 会话配置
type Options struct {
	// ReturnPathDomain 发往 <server-id>@<ReturnPathDomain> 的邮件由该服务器的退信路由处理
	ReturnPathDomain string
	NoRoutePolicy    disposition.NoRoutePolicy
	MaxRecipients    int
	MaxMessageBytes  int64
	// DispatchTimeout 单封邮件异步投递的最长时间
	DispatchTimeout time.Duration
}

// Backend 实现 go-smtp 的 Backend 接口
//
// 只接收能匹配到路由的收件人：RCPT 阶段查询路由，DATA 阶段逐个收件人处置，
// 需要投递到端点的邮件交给协程池异步执行。
type Backend struct {
	ctx      context.Context
	resolver Resolver
	engine   Disposer
	jobs     Submitter
	limiter  *ConnectionLimiter
	opts     Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewBackend 创建 SMTP Backend
//
// ctx 为异步投递的父上下文，服务关闭时取消。limiter 为 nil 时不限流。
func NewBackend(ctx context.Context, resolver Resolver, engine Disposer, jobs Submitter, limiter *ConnectionLimiter, opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NoRoutePolicy == "" {
		opts.NoRoutePolicy = disposition.NoRouteReject
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 5 * time.Minute
	}
	opts.ReturnPathDomain = strings.ToLower(opts.ReturnPathDomain)
	return &Backend{
		ctx:      ctx,
		resolver: resolver,
		engine:   engine,
		jobs:     jobs,
		limiter:  limiter,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// NewSession 创建新的 SMTP 会话，超过连接限制时返回 421
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		b.metrics.RecordLimiterBlocked()
		return nil, errTooManyConnections
	}
	b.metrics.RecordSMTPSession()

	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{
		backend: b,
		logger:  b.logger.With(zap.String("remote", remote)),
	}, nil
}

var (
	errTooManyConnections = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
	errTooManyRecipients = &gosmtp.SMTPError{
		Code:         452,
		EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
		Message:      "too many recipients",
	}
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errNoRoute = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "no route for recipient",
	}
	errLookupFailed = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary routing failure, try again later",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
	errMessageTooLarge = &gosmtp.SMTPError{
		Code:         552,
		EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
		Message:      "message exceeds maximum size",
	}
)

type session struct {
	backend    *Backend
	logger     *zap.Logger
	from       string
	recipients []recipient
}

// recipient 通过 RCPT 校验的收件人
type recipient struct {
	address    string
	localPart  string
	domain     string
	returnPath bool
}

// envelope 收件人对应的处置信封
func (r recipient) envelope(from string, msg *domain.Message) disposition.Envelope {
	env := disposition.Envelope{
		LocalPart:  r.localPart,
		Domain:     r.domain,
		MailFrom:   from,
		ReturnPath: r.returnPath,
		Message:    msg,
	}
	if r.returnPath {
		env.ServerID = r.localPart
	}
	return env
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令
//
// 找不到路由时按策略处理：reject 返回 550，hold 照常接收。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	b := s.backend
	if b.opts.MaxRecipients > 0 && len(s.recipients) >= b.opts.MaxRecipients {
		return errTooManyRecipients
	}

	addr := normalizeAddress(to)
	local, domainName, ok := domain.SplitAddress(addr)
	if !ok {
		b.metrics.RecordRejectedRecipient()
		return errInvalidRecipient
	}

	rcpt := recipient{address: addr, localPart: local, domain: domainName}
	rcpt.returnPath = b.opts.ReturnPathDomain != "" && domainName == b.opts.ReturnPathDomain

	var found bool
	var err error
	if rcpt.returnPath {
		_, found, err = b.resolver.ResolveReturnPath(b.ctx, local)
	} else {
		_, found, err = b.resolver.Resolve(b.ctx, domainName, local)
	}
	if err != nil {
		s.logger.Error("route lookup failed", zap.String("rcpt", addr), zap.Error(err))
		return errLookupFailed
	}
	if !found && b.opts.NoRoutePolicy != disposition.NoRouteHold {
		b.metrics.RecordRejectedRecipient()
		s.logger.Info("recipient rejected", zap.String("rcpt", addr), zap.String("reason", disposition.ReasonNoRoute))
		return errNoRoute
	}

	s.recipients = append(s.recipients, rcpt)
	return nil
}

// Data 处理邮件内容
//
// 每个收件人独立处置；只有全部收件人都被拒收时才拒绝整封邮件。
func (s *session) Data(r io.Reader) error {
	b := s.backend
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	raw, err := readLimited(r, b.opts.MaxMessageBytes)
	if err != nil {
		return err
	}

	base, err := ParseMessage(raw)
	if err != nil {
		s.logger.Warn("message parse failed, continuing with raw content", zap.Error(err))
	}

	var (
		accepted int
		firstErr error
		refusal  *disposition.Decision
	)
	for _, rcpt := range s.recipients {
		msg := cloneFor(base, s.from, rcpt.address)
		decision, err := b.engine.Decide(b.ctx, rcpt.envelope(s.from, msg))
		if err != nil {
			s.logger.Error("disposition failed", zap.String("rcpt", rcpt.address), zap.String("message_id", msg.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if decision.Refused() {
			if refusal == nil {
				refusal = decision
			}
			continue
		}

		accepted++
		if decision.NeedsDispatch() {
			s.dispatch(decision)
		}
	}

	switch {
	case accepted > 0:
		return nil
	case firstErr != nil:
		return errLookupFailed
	default:
		return refusalError(refusal)
	}
}

// dispatch 提交异步投递，队列已满时在当前连接上同步投递
func (s *session) dispatch(d *disposition.Decision) {
	b := s.backend
	run := func() {
		ctx, cancel := context.WithTimeout(b.ctx, b.opts.DispatchTimeout)
		defer cancel()
		if _, err := b.engine.Execute(ctx, d); err != nil {
			b.logger.Error("dispatch failed", zap.String("message_id", d.Message.ID), zap.String("route_id", d.RouteID), zap.Error(err))
		}
	}

	if b.jobs != nil && b.jobs.TrySubmit(run) {
		return
	}
	s.logger.Warn("dispatch queue full, delivering inline", zap.String("message_id", d.Message.ID))
	run()
}

// Reset 重置状态
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	return nil
}

// refusalError 拒收原因对应的 SMTP 错误
func refusalError(d *disposition.Decision) error {
	if d == nil {
		return errNoRecipients
	}
	switch {
	case d.Kind == disposition.KindBounced:
		// 退信携带关联地址，发件方据此回溯到路由
		msg := "message bounced"
		if d.CorrelationAddress != "" {
			msg += " (" + d.CorrelationAddress + ")"
		}
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      msg,
		}
	case d.Reason == disposition.ReasonNoRoute:
		return errNoRoute
	case d.Reason == disposition.ReasonSpam:
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      d.Reason,
		}
	default:
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "message rejected",
		}
	}
}

// readLimited 读取邮件内容，超过上限时返回 552
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		if errors.Is(err, gosmtp.ErrDataTooLarge) {
			return nil, errMessageTooLarge
		}
		return nil, err
	}
	if int64(len(raw)) > max {
		return nil, errMessageTooLarge
	}
	return raw, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
