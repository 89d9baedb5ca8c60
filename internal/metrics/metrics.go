// Package metrics содержит счётчики Prometheus денежного ядра.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stars_ledger"

// Metrics - набор коллекторов сервиса. Нулевой указатель допустим: все методы ничего не делают.
type Metrics struct {
	registry *prometheus.Registry

	ledgerOps       *prometheus.CounterVec
	paymentCredits  *prometheus.CounterVec
	referralPayouts *prometheus.CounterVec
	releaseFailures prometheus.Counter
	sweeperActions  *prometheus.CounterVec
	meteredDuration prometheus.Histogram
}

// New создаёт и регистрирует коллекторы в собственном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations by kind and outcome.",
			},
			[]string{"op", "result"},
		),
		paymentCredits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payments",
				Name:      "credits_total",
				Help:      "Payment events processed by rail; applied=false means duplicate delivery.",
			},
			[]string{"rail", "applied"},
		),
		referralPayouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "referral",
				Name:      "payouts_total",
				Help:      "Referral payouts by level and outcome.",
			},
			[]string{"level", "result"},
		),
		releaseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "holds",
				Name:      "release_failures_total",
				Help:      "Best-effort hold releases that failed and were left for the sweeper.",
			},
		),
		sweeperActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "actions_total",
				Help:      "Records closed by the reconciliation sweeper.",
			},
			[]string{"kind"},
		),
		meteredDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "metered",
				Name:      "call_duration_seconds",
				Help:      "Duration of metered downstream calls.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}

	m.registry.MustRegister(
		m.ledgerOps,
		m.paymentCredits,
		m.referralPayouts,
		m.releaseFailures,
		m.sweeperActions,
		m.meteredDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler возвращает HTTP-обработчик для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LedgerOp учитывает операцию над балансом.
func (m *Metrics) LedgerOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

// PaymentCredit учитывает обработанное событие оплаты.
func (m *Metrics) PaymentCredit(rail string, applied bool) {
	if m == nil {
		return
	}
	m.paymentCredits.WithLabelValues(rail, strconv.FormatBool(applied)).Inc()
}

// ReferralPayout учитывает выплату уровня реферальной цепочки.
func (m *Metrics) ReferralPayout(level int, result string) {
	if m == nil {
		return
	}
	m.referralPayouts.WithLabelValues(strconv.Itoa(level), result).Inc()
}

// ReleaseFailed учитывает неудачное освобождение резерва.
func (m *Metrics) ReleaseFailed() {
	if m == nil {
		return
	}
	m.releaseFailures.Inc()
}

// Swept учитывает записи, закрытые сверкой.
func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperActions.WithLabelValues(kind).Add(float64(n))
}

// ObserveMetered фиксирует длительность внешнего вызова в секундах.
func (m *Metrics) ObserveMetered(seconds float64) {
	if m == nil {
		return
	}
	m.meteredDuration.Observe(seconds)
}
