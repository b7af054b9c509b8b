package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法对 nil 接收者安全，组件可以不注入指标。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SMTP 指标
	SMTPSessions       prometheus.Counter
	SMTPRejectedRcpts  prometheus.Counter
	SMTPLimiterBlocked prometheus.Counter

	// 路由指标
	RouteResolutions *prometheus.CounterVec

	// 处置指标
	Dispositions *prometheus.CounterVec

	// 投递指标
	DispatchAttempts *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// 检查指标
	InspectionScore  prometheus.Histogram
	InspectionFaults *prometheus.CounterVec
	Threats          prometheus.Counter

	// 协程池
	PoolRejected prometheus.Counter
	PanicsTotal  prometheus.Counter
}

// NewMetrics 创建监控指标，注册到独立的 Registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		SMTPSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_smtp_sessions_total",
			Help: "Total number of accepted SMTP sessions",
		}),

		SMTPRejectedRcpts: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_smtp_rejected_recipients_total",
			Help: "Recipients rejected at RCPT time",
		}),

		SMTPLimiterBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_smtp_limiter_blocked_total",
			Help: "SMTP connections refused by the connection limiter",
		}),

		RouteResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_route_resolutions_total",
				Help: "Route resolutions by match kind",
			},
			[]string{"kind"},
		),

		Dispositions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_dispositions_total",
				Help: "Message dispositions by outcome",
			},
			[]string{"outcome", "spam"},
		),

		DispatchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_dispatch_attempts_total",
				Help: "Endpoint delivery attempts by variant and status",
			},
			[]string{"variant", "status"},
		),

		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_dispatch_duration_seconds",
				Help:    "Endpoint delivery duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"variant"},
		),

		InspectionScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailroute_inspection_spam_score",
			Help:    "Spam score produced by the inspection pipeline",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		InspectionFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_inspection_faults_total",
				Help: "Inspector failures that aborted the pipeline",
			},
			[]string{"inspector"},
		),

		Threats: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_inspection_threats_total",
			Help: "Messages flagged as threats",
		}),

		PoolRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_pool_rejected_total",
			Help: "Tasks rejected because the worker queue was full",
		}),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroute_panics_total",
			Help: "Recovered panics",
		}),
	}
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSMTPSession 记录 SMTP 会话
func (m *Metrics) RecordSMTPSession() {
	if m == nil {
		return
	}
	m.SMTPSessions.Inc()
}

// RecordRejectedRecipient 记录 RCPT 阶段拒收
func (m *Metrics) RecordRejectedRecipient() {
	if m == nil {
		return
	}
	m.SMTPRejectedRcpts.Inc()
}

// RecordLimiterBlocked 记录被限流的连接
func (m *Metrics) RecordLimiterBlocked() {
	if m == nil {
		return
	}
	m.SMTPLimiterBlocked.Inc()
}

// RecordRouteResolution 记录路由匹配结果
func (m *Metrics) RecordRouteResolution(kind string) {
	if m == nil {
		return
	}
	m.RouteResolutions.WithLabelValues(kind).Inc()
}

// RecordDisposition 记录处置结果
func (m *Metrics) RecordDisposition(outcome string, spam bool) {
	if m == nil {
		return
	}
	m.Dispositions.WithLabelValues(outcome, strconv.FormatBool(spam)).Inc()
}

// RecordDispatch 记录一次端点投递
func (m *Metrics) RecordDispatch(variant, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchAttempts.WithLabelValues(variant, status).Inc()
	m.DispatchDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordInspection 记录检查分数与威胁
func (m *Metrics) RecordInspection(score float64, threat bool) {
	if m == nil {
		return
	}
	m.InspectionScore.Observe(score)
	if threat {
		m.Threats.Inc()
	}
}

// RecordInspectionFault 记录检查器故障
func (m *Metrics) RecordInspectionFault(inspector string) {
	if m == nil {
		return
	}
	m.InspectionFaults.WithLabelValues(inspector).Inc()
}

// RecordPoolRejected 记录协程池拒绝的任务
func (m *Metrics) RecordPoolRejected() {
	if m == nil {
		return
	}
	m.PoolRejected.Inc()
}

// RecordPanic 记录恢复的 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
