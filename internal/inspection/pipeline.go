package inspection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
)

// Inspector 检查器插件
//
// 检查器通过 AddCheck / SetThreat 修改结果；返回错误视为致命失败。
type Inspector interface {
	Name() string
	Inspect(ctx context.Context, result *Result) error
}

// InspectorFunc 函数形式的检查器
type InspectorFunc struct {
	Label string
	Fn    func(ctx context.Context, result *Result) error
}

func (f InspectorFunc) Name() string { return f.Label }

func (f InspectorFunc) Inspect(ctx context.Context, result *Result) error {
	return f.Fn(ctx, result)
}

// Registry 启动时构建的有序检查器列表，构建后不可修改
type Registry struct {
	inspectors []Inspector
}

// NewRegistry 按注册顺序创建检查器列表
func NewRegistry(inspectors ...Inspector) *Registry {
	list := make([]Inspector, 0, len(inspectors))
	for _, in := range inspectors {
		if in != nil {
			list = append(list, in)
		}
	}
	return &Registry{inspectors: list}
}

// Inspectors 返回检查器列表副本
func (r *Registry) Inspectors() []Inspector {
	out := make([]Inspector, len(r.inspectors))
	copy(out, r.inspectors)
	return out
}

// Len 检查器数量
func (r *Registry) Len() int {
	return len(r.inspectors)
}

// Pipeline 按顺序执行检查器
type Pipeline struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewPipeline 创建检查流水线
func NewPipeline(registry *Registry, logger *zap.Logger, metrics *monitoring.Metrics) *Pipeline {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{registry: registry, logger: logger, metrics: metrics}
}

// Scan 检查邮件
//
// 任一检查器返回错误或 panic 时，标记 InspectionError 并跳过剩余检查器，
// 已累积的评分保留在结果中。
func (p *Pipeline) Scan(ctx context.Context, msg *domain.Message, scope Scope) *Result {
	result := NewResult(msg, scope)

	for _, in := range p.registry.inspectors {
		if err := ctx.Err(); err != nil {
			p.abort(result, in.Name(), err)
			break
		}
		if err := p.run(ctx, in, result); err != nil {
			p.abort(result, in.Name(), err)
			break
		}
	}

	p.metrics.RecordInspection(result.SpamScore(), result.Threat())
	return result
}

func (p *Pipeline) run(ctx context.Context, in Inspector, result *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordPanic()
			err = fmt.Errorf("inspector panic: %v", r)
		}
	}()
	return in.Inspect(ctx, result)
}

func (p *Pipeline) abort(result *Result, name string, err error) {
	result.fail(name, err)
	p.metrics.RecordInspectionFault(name)

	fields := []zap.Field{
		zap.String("inspector", name),
		zap.Error(err),
		zap.Float64("partial_score", result.SpamScore()),
	}
	if result.Message != nil {
		fields = append(fields, zap.String("message_id", result.Message.ID))
	}
	p.logger.Warn("inspection aborted", fields...)
}

// DefaultInspectors 内置检查器，大小检查排在最前
func DefaultInspectors(maxBytes int, keywordWeight float64) []Inspector {
	return []Inspector{
		NewSizeInspector(maxBytes),
		NewAttachmentInspector(),
		NewHeaderInspector(),
		NewContentInspector(keywordWeight),
	}
}
