package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
)

// EndpointSource 查询端点与附加端点绑定
type EndpointSource interface {
	GetEndpoint(ctx context.Context, ref domain.EndpointRef) (domain.Endpoint, error)
	ListAdditionalEndpoints(ctx context.Context, routeID string) ([]domain.AdditionalRouteEndpoint, error)
}

// Recorder 持久化投递结果
type Recorder interface {
	RecordDeliveries(ctx context.Context, deliveries []domain.Delivery) error
}

// WithdrawalChecker 查询消息是否已撤回
type WithdrawalChecker interface {
	IsWithdrawn(ctx context.Context, messageID string) (bool, error)
}

// Options 分发配置
type Options struct {
	// Concurrency 单封邮件同时投递的端点数上限
	Concurrency int
}

// Result 一次分发的汇总结果，Outcomes 顺序为主端点在前、附加端点按 Position
type Result struct {
	Outcomes  []Outcome `json:"outcomes"`
	Withdrawn bool      `json:"withdrawn,omitempty"`
}

// Succeeded 成功投递的端点数
func (r *Result) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Dispatcher 并发投递到路由的主端点与附加端点
type Dispatcher struct {
	source      EndpointSource
	factory     *Factory
	recorder    Recorder
	withdrawals WithdrawalChecker
	logger      *zap.Logger
	metrics     *monitoring.Metrics
	opts        Options
}

// NewDispatcher 创建分发器；recorder 与 withdrawals 可为空
func NewDispatcher(source EndpointSource, factory *Factory, recorder Recorder, withdrawals WithdrawalChecker, logger *zap.Logger, metrics *monitoring.Metrics, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Dispatcher{
		source:      source,
		factory:     factory,
		recorder:    recorder,
		withdrawals: withdrawals,
		logger:      logger,
		metrics:     metrics,
		opts:        opts,
	}
}

type target struct {
	ref     domain.EndpointRef
	primary bool
}

// Dispatch 投递邮件
//
// 每个端点独立超时，互不影响；任何端点失败都不会中断其他端点。
// 只有读取附加端点绑定失败时返回错误，此时不做任何投递。
func (d *Dispatcher) Dispatch(ctx context.Context, route *domain.Route, msg *domain.Message) (*Result, error) {
	targets, err := d.targets(ctx, route)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(targets))
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			outcomes[i] = d.attempt(ctx, route, t, msg)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Outcomes: outcomes}
	if d.withdrawn(ctx, msg) {
		result.Withdrawn = true
		d.logger.Info("message withdrawn, outcomes not recorded",
			zap.String("message_id", msg.ID),
			zap.String("route_id", route.ID),
		)
		return result, nil
	}

	if d.recorder != nil && len(outcomes) > 0 {
		records := make([]domain.Delivery, 0, len(outcomes))
		for _, o := range outcomes {
			records = append(records, o.Record(msg.ID, route.ID))
		}
		if err := d.recorder.RecordDeliveries(ctx, records); err != nil {
			return result, fmt.Errorf("record deliveries: %w", err)
		}
	}
	return result, nil
}

func (d *Dispatcher) targets(ctx context.Context, route *domain.Route) ([]target, error) {
	var targets []target
	if ref, ok := route.Endpoint(); ok {
		targets = append(targets, target{ref: ref, primary: true})
	} else {
		// 主端点缺失时仍返回一条永久失败
		targets = append(targets, target{primary: true})
	}

	bindings, err := d.source.ListAdditionalEndpoints(ctx, route.ID)
	if err != nil {
		return nil, fmt.Errorf("list additional endpoints: %w", err)
	}
	for _, b := range bindings {
		targets = append(targets, target{ref: b.Ref()})
	}
	return targets, nil
}

func (d *Dispatcher) attempt(ctx context.Context, route *domain.Route, t target, msg *domain.Message) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordPanic()
			d.logger.Error("deliverer panic", zap.Any("panic", r), zap.String("endpoint", t.ref.String()))
			out = Transient(fmt.Sprintf("deliverer panic: %v", r), 0)
		}
		out.Endpoint = t.ref
		out.Primary = t.primary
		out.Duration = time.Since(start)
		d.metrics.RecordDispatch(string(t.ref.Type), string(out.Status), out.Duration)
		if !out.Succeeded() {
			d.logger.Warn("delivery failed",
				zap.String("message_id", msg.ID),
				zap.String("route_id", route.ID),
				zap.String("endpoint", t.ref.String()),
				zap.String("status", string(out.Status)),
				zap.String("detail", out.Detail),
			)
		}
	}()

	if t.ref.IsZero() {
		return Permanent("route has no endpoint")
	}

	ep, err := d.source.GetEndpoint(ctx, t.ref)
	switch {
	case errors.Is(err, domain.ErrEndpointNotFound):
		return Permanent("endpoint not found")
	case err != nil:
		return Transient("load endpoint: "+err.Error(), 0)
	case ep.OwnerID() != route.ServerID:
		return Permanent("endpoint belongs to another server")
	}

	deliverer, err := d.factory.For(ep)
	if err != nil {
		return Permanent(err.Error())
	}

	out = deliverWithin(ctx, deliverer, msg)
	out.Label = ep.Label()
	return out
}

// deliverWithin 在端点超时内等待结果，超时后不再等待该端点
func deliverWithin(ctx context.Context, deliverer Deliverer, msg *domain.Message) Outcome {
	ctx, cancel := context.WithTimeout(ctx, deliverer.Timeout())
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Transient(fmt.Sprintf("deliverer panic: %v", r), 0)
			}
		}()
		done <- deliverer.Deliver(ctx, msg)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return Transient("timed out after "+deliverer.Timeout().String(), 0)
	}
}

func (d *Dispatcher) withdrawn(ctx context.Context, msg *domain.Message) bool {
	if d.withdrawals == nil {
		return false
	}
	ok, err := d.withdrawals.IsWithdrawn(ctx, msg.ID)
	if err != nil {
		d.logger.Warn("withdrawal check failed", zap.String("message_id", msg.ID), zap.Error(err))
		return false
	}
	return ok
}
