package disposition

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailroute/backend/internal/delivery"
	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/inspection"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/routing"
)

// NoRoutePolicy 找不到路由时的处理方式
type NoRoutePolicy string

const (
	NoRouteReject NoRoutePolicy = "reject"
	NoRouteHold   NoRoutePolicy = "hold"
)

// Resolver 路由匹配
type Resolver interface {
	Resolve(ctx context.Context, domainName, localPart string) (*routing.Match, bool, error)
	ResolveReturnPath(ctx context.Context, serverID string) (*routing.Match, bool, error)
}

// Scanner 邮件检查
type Scanner interface {
	Scan(ctx context.Context, msg *domain.Message, scope inspection.Scope) *inspection.Result
}

// Dispatcher 端点投递
type Dispatcher interface {
	Dispatch(ctx context.Context, route *domain.Route, msg *domain.Message) (*delivery.Result, error)
}

// ServerLookup 读取服务器的垃圾邮件阈值
type ServerLookup interface {
	GetServer(ctx context.Context, id string) (*domain.Server, error)
}

// Options 引擎配置
type Options struct {
	// ReturnPathDomain 退信路由没有域名时用于生成关联地址
	ReturnPathDomain string
	NoRoutePolicy    NoRoutePolicy
	// DefaultSpamThreshold 服务器未设置阈值时使用
	DefaultSpamThreshold float64
	// DefaultSpamFailureThreshold 服务器未设置失败阈值时使用，0 表示不启用
	DefaultSpamFailureThreshold float64
}

// Engine 处置引擎：匹配路由、检查邮件、按模式与垃圾邮件模式给出结果
type Engine struct {
	resolver   Resolver
	scanner    Scanner
	dispatcher Dispatcher
	servers    ServerLookup
	opts       Options
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewEngine 创建处置引擎
func NewEngine(resolver Resolver, scanner Scanner, dispatcher Dispatcher, servers ServerLookup, opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NoRoutePolicy == "" {
		opts.NoRoutePolicy = NoRouteReject
	}
	if opts.DefaultSpamThreshold <= 0 {
		opts.DefaultSpamThreshold = domain.DefaultSpamThreshold
	}
	return &Engine{
		resolver:   resolver,
		scanner:    scanner,
		dispatcher: dispatcher,
		servers:    servers,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// Dispose 处置一个收件人：决定后立即投递
func (e *Engine) Dispose(ctx context.Context, env Envelope) (*Outcome, error) {
	decision, err := e.Decide(ctx, env)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, decision)
}

// Decide 匹配路由并检查邮件，给出不含投递结果的决定
//
// 检查总是先于模式判断执行，与路由模式无关。
func (e *Engine) Decide(ctx context.Context, env Envelope) (*Decision, error) {
	if env.Message == nil {
		return nil, errors.New("envelope has no message")
	}

	match, ok, err := e.resolve(ctx, env)
	if err != nil {
		return nil, err
	}

	result := e.scanner.Scan(ctx, env.Message, inspection.ScopeIncoming)

	d := &Decision{Message: env.Message}
	d.SpamScore = result.SpamScore()
	d.Threat = result.Threat()
	d.ThreatMessage = result.ThreatMessage()
	d.InspectionFailed = result.InspectionError()
	d.Checks = result.Checks()
	d.MatchKind = routing.MatchNone

	if !ok {
		if e.opts.NoRoutePolicy == NoRouteHold {
			d.Kind = KindHeld
		} else {
			d.Kind = KindRejected
			d.Reason = ReasonNoRoute
		}
		e.finish(d, env)
		return d, nil
	}

	route := match.Route
	d.Route = route
	d.RouteID = route.ID
	d.ServerID = route.ServerID
	d.MatchKind = match.Kind

	threshold := e.opts.DefaultSpamThreshold
	failure := e.opts.DefaultSpamFailureThreshold
	server, err := e.servers.GetServer(ctx, route.ServerID)
	switch {
	case err == nil:
		threshold = server.Threshold(e.opts.DefaultSpamThreshold)
		failure = server.FailureThreshold(e.opts.DefaultSpamFailureThreshold)
	case !errors.Is(err, domain.ErrServerNotFound):
		return nil, fmt.Errorf("load server %s: %w", route.ServerID, err)
	}

	spam := d.Threat || d.SpamScore >= threshold
	d.SpamTagged = spam
	env.Message.ServerID = route.ServerID
	env.Message.Spam = spam
	env.Message.SpamScore = d.SpamScore

	// 退信路由不受垃圾邮件模式与失败阈值影响
	if failure > 0 && d.SpamScore >= failure && !route.IsReturnPath() {
		d.Kind = KindRejected
		d.Reason = ReasonSpam
		e.finish(d, env)
		return d, nil
	}
	if spam && !route.IsReturnPath() {
		switch route.SpamMode {
		case domain.SpamQuarantine:
			d.Kind = KindHeld
			e.finish(d, env)
			return d, nil
		case domain.SpamFail:
			d.Kind = KindRejected
			d.Reason = ReasonSpam
			e.finish(d, env)
			return d, nil
		}
	}

	switch route.Mode {
	case domain.ModeAccept:
		d.Kind = KindAccepted
	case domain.ModeHold:
		d.Kind = KindHeld
	case domain.ModeBounce:
		d.Kind = KindBounced
		d.CorrelationAddress = route.ForwardAddress(e.correlationDomain(match))
	case domain.ModeReject:
		d.Kind = KindRejected
		d.Reason = ReasonRouteReject
	case domain.ModeEndpoint:
		d.Kind = KindDelivered
	default:
		return nil, fmt.Errorf("%w: route %s has mode %q", domain.ErrConfigurationInvalid, route.ID, route.Mode)
	}

	e.finish(d, env)
	return d, nil
}

func (e *Engine) resolve(ctx context.Context, env Envelope) (*routing.Match, bool, error) {
	if env.ReturnPath {
		return e.resolver.ResolveReturnPath(ctx, env.ServerID)
	}
	return e.resolver.Resolve(ctx, env.Domain, env.LocalPart)
}

func (e *Engine) correlationDomain(match *routing.Match) string {
	if match.Domain != nil {
		return match.Domain.Name
	}
	return e.opts.ReturnPathDomain
}

func (e *Engine) finish(d *Decision, env Envelope) {
	if d.NeedsDispatch() {
		return
	}
	e.metrics.RecordDisposition(string(d.Kind), d.SpamTagged)
	e.logger.Info("message disposed",
		zap.String("message_id", env.Message.ID),
		zap.String("rcpt", env.LocalPart+"@"+env.Domain),
		zap.String("kind", string(d.Kind)),
		zap.String("route_id", d.RouteID),
		zap.String("reason", d.Reason),
		zap.Float64("spam_score", d.SpamScore),
		zap.Bool("spam", d.SpamTagged),
	)
}

// Execute 执行决定；Endpoint 模式下投递到全部端点
func (e *Engine) Execute(ctx context.Context, d *Decision) (*Outcome, error) {
	if !d.NeedsDispatch() {
		out := d.Outcome
		return &out, nil
	}

	result, err := e.dispatcher.Dispatch(ctx, d.Route, d.Message)
	if result == nil {
		return nil, fmt.Errorf("dispatch message %s: %w", d.Message.ID, err)
	}

	out := d.Outcome
	out.Delivery = result
	e.metrics.RecordDisposition(string(out.Kind), out.SpamTagged)
	e.logger.Info("message delivered",
		zap.String("message_id", d.Message.ID),
		zap.String("route_id", d.RouteID),
		zap.Int("endpoints", len(result.Outcomes)),
		zap.Int("succeeded", result.Succeeded()),
		zap.Bool("withdrawn", result.Withdrawn),
	)
	return &out, err
}

// Inject 以邮件的收件人重新处置，供地址端点本地重投使用
func (e *Engine) Inject(ctx context.Context, msg *domain.Message) (bool, string, error) {
	local, domainName, ok := domain.SplitAddress(msg.RcptTo)
	if !ok {
		return false, "invalid address " + msg.RcptTo, nil
	}
	out, err := e.Dispose(ctx, Envelope{
		LocalPart: local,
		Domain:    domainName,
		MailFrom:  msg.MailFrom,
		Message:   msg,
	})
	if err != nil {
		return false, "", err
	}
	if out.Refused() {
		detail := string(out.Kind)
		if out.Reason != "" {
			detail += ": " + out.Reason
		}
		return false, detail, nil
	}
	return true, string(out.Kind), nil
}

var _ delivery.Injector = (*Engine)(nil)
