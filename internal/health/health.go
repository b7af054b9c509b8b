package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailroute/backend/internal/storage"
)

// Pinger 可探测的外部依赖，例如 Redis 缓存
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	store   storage.Store
	pingers map[string]Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// pingers 的键作为检查项名称，值为 nil 时忽略。
func NewHealthChecker(store storage.Store, pingers map[string]Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		store:   store,
		pingers: make(map[string]Pinger),
		timeout: 2 * time.Second,
		logger:  logger,
	}
	for name, p := range pingers {
		if p != nil {
			hc.pingers[name] = p
		}
	}

	hc.addChecks()
	return hc
}

// addChecks 存储不可用时视为未就绪，不影响存活
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	hc.health.AddReadinessCheck("storage", healthcheck.Timeout(hc.store.Health, hc.timeout))

	for name, p := range hc.pingers {
		p := p
		hc.health.AddReadinessCheck(name, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
			defer cancel()
			return p.Ping(ctx)
		})
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查，返回各项状态
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		hc.logger.Warn("storage health check failed", zap.Error(err))
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	for name, p := range hc.pingers {
		pctx, cancel := context.WithTimeout(ctx, hc.timeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			hc.logger.Warn("dependency health check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}
