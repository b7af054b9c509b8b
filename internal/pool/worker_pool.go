package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"mailroute/backend/internal/monitoring"
)

// WorkerPool 协程池
//
// 限制异步投递的并发数量，队列满时由调用方决定是否同步执行
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	stopOnce   sync.Once
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, logger *zap.Logger, metrics *monitoring.Metrics) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		logger:     logger,
		metrics:    metrics,
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		p.metrics.RecordPoolRejected()
		return false
	}
}

// Stop 停止接收任务并等待队列中的任务执行完毕，可重复调用
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.taskQueue)
	})
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordPanic()
			p.logger.Error("worker task panic", zap.Any("panic", r))
		}
	}()
	task()
}
