// internal/pkg/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderflow"

// OrderMetrics 汇总订单服务的业务指标。nil 接收者上的方法都是空操作。
type OrderMetrics struct {
	OrdersCreated        prometheus.Counter
	OperationFailures    *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec
	PaymentConfirmations *prometheus.CounterVec
	UpstreamLatency      *prometheus.HistogramVec
	HTTPRequests         *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	m := &OrderMetrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Total number of orders persisted.",
		}),
		OperationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_operation_failures_total",
			Help:      "Failed lifecycle operations by operation and error kind.",
		}, []string{"operation", "kind"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Applied order status transitions by target status.",
		}, []string{"to"}),
		PaymentConfirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmations by result.",
		}, []string{"result"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_ms",
			Help:      "Latency of calls to remote collaborators in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"target"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
	}
	reg.MustRegister(m.OrdersCreated, m.OperationFailures, m.StatusTransitions,
		m.PaymentConfirmations, m.UpstreamLatency, m.HTTPRequests)
	return m
}

func (m *OrderMetrics) OrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreated.Inc()
}

func (m *OrderMetrics) Failure(operation, kind string) {
	if m == nil {
		return
	}
	m.OperationFailures.WithLabelValues(operation, kind).Inc()
}

func (m *OrderMetrics) Transition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(to).Inc()
}

func (m *OrderMetrics) PaymentConfirmation(result string) {
	if m == nil {
		return
	}
	m.PaymentConfirmations.WithLabelValues(result).Inc()
}

// ObserveUpstream 记录一次远程调用耗时，用法: defer m.ObserveUpstream("catalog", time.Now())
func (m *OrderMetrics) ObserveUpstream(target string, start time.Time) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(target).Observe(float64(time.Since(start).Milliseconds()))
}

func (m *OrderMetrics) HTTPRequest(handler string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
