package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 行情指标
	ticksReceived prometheus.Counter
	ticksDropped  prometheus.Counter
	ticksNoPrice  prometheus.Counter
	lastPrice     prometheus.Gauge

	// 决策指标
	decisions        *prometheus.CounterVec
	decisionsSkipped prometheus.Counter

	// 订单指标
	ordersSubmitted *prometheus.CounterVec
	ordersCompleted *prometheus.CounterVec
	orderLatency    prometheus.Histogram

	// 会话指标
	sessionState  prometheus.Gauge
	statusDropped prometheus.Counter

	// 网关指标
	wsConnections prometheus.Counter
	wsDisconnects prometheus.Counter
	restRequests  *prometheus.CounterVec
	restErrors    *prometheus.CounterVec
	restLatency   *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "opt",
		Subsystem: "trader",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ticksReceived: counter("ticks_received_total", "收到的 tick 总数"),
		ticksDropped:  counter("ticks_dropped_total", "缓冲区满被丢弃的 tick"),
		ticksNoPrice:  counter("ticks_without_price_total", "无成交价被忽略的 tick"),
		lastPrice:     gauge("underlying_last_price", "标的最新成交价"),

		decisions:        counterVec("decisions_total", "阈值触发的决策数", "action"),
		decisionsSkipped: counter("decisions_skipped_total", "订单在途时跳过的决策"),

		ordersSubmitted: counterVec("orders_submitted_total", "已提交订单数", "action"),
		ordersCompleted: counterVec("orders_completed_total", "订单终态统计", "status"),
		orderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_latency_seconds",
			Help:      "提交到终态的耗时（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		sessionState:  gauge("session_state", "会话状态(0=断开,1=已连接,2=交易中,3=停止中)"),
		statusDropped: counter("status_dropped_total", "超时未入队的状态消息"),

		wsConnections: counter("ws_connections_total", "WebSocket连接次数"),
		wsDisconnects: counter("ws_disconnects_total", "WebSocket断开次数"),
		restRequests:  counterVec("rest_requests_total", "REST请求总数", "action"),
		restErrors:    counterVec("rest_errors_total", "REST错误总数", "action"),
		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rest_latency_seconds",
			Help:      "REST请求延迟（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
}

// 行情
func (m *Monitor) RecordTick()        { m.ticksReceived.Inc() }
func (m *Monitor) RecordTickDropped() { m.ticksDropped.Inc() }
func (m *Monitor) RecordTickNoPrice() { m.ticksNoPrice.Inc() }
func (m *Monitor) UpdateLastPrice(p float64) {
	m.lastPrice.Set(p)
}

// 决策
func (m *Monitor) RecordDecision(action string) {
	m.decisions.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordDecisionSkipped() { m.decisionsSkipped.Inc() }

// 订单，实现 order.Observer
func (m *Monitor) RecordOrderSubmitted(action string) {
	m.ordersSubmitted.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordOrderCompleted(status string, seconds float64) {
	m.ordersCompleted.WithLabelValues(status).Inc()
	m.orderLatency.Observe(seconds)
}

// 会话
func (m *Monitor) UpdateSessionState(state int) {
	m.sessionState.Set(float64(state))
}

func (m *Monitor) RecordStatusDropped() { m.statusDropped.Inc() }

// 网关
func (m *Monitor) RecordWSConnection() { m.wsConnections.Inc() }
func (m *Monitor) RecordWSDisconnect() { m.wsDisconnects.Inc() }

func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
