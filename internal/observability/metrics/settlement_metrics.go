package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SettlementJobReasonDeadlineExceeded = "deadline_exceeded"
	SettlementJobReasonLeaseConflict    = "lease_conflict"
	SettlementJobReasonGateway          = "gateway"
	SettlementJobReasonDB               = "db"
	SettlementJobReasonUnknown          = "unknown"
)

const (
	PledgeResultInvoiced      = "invoiced"
	PledgeResultFulfilledZero = "fulfilled_zero"
	PledgeResultSkipped       = "skipped"
	PledgeResultFailed        = "failed"
)

const (
	WebhookResultApplied   = "applied"
	WebhookResultDuplicate = "duplicate"
	WebhookResultUnmatched = "unmatched"
	WebhookResultRejected  = "rejected"
)

// Config carries the constant labels attached to settlement metrics.
type Config struct {
	ServiceName string
	Environment string
}

// SettlementMetrics captures settlement pipeline health signals.
type SettlementMetrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobTimeouts   *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	pledgesSeen   *prometheus.CounterVec
	ordersCreated prometheus.Counter
	webhookEvents *prometheus.CounterVec
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the singleton settlement metrics registry.
func Settlement() *SettlementMetrics {
	return SettlementWithConfig(Config{})
}

// SettlementWithConfig returns the singleton settlement metrics registry using config labels.
func SettlementWithConfig(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = newSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// ResetSettlementMetricsForTest resets the settlement metrics singleton for tests.
func ResetSettlementMetricsForTest() {
	settlementMetricsOnce = sync.Once{}
	settlementMetrics = nil
}

func newSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pledgeline"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	factory := metricFactory{registerer: registerer}

	return &SettlementMetrics{
		jobRuns: factory.counterVec(prometheus.CounterOpts{
			Name:        "pledgeline_settlement_job_runs_total",
			Help:        "Number of settlement job invocations.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:        "pledgeline_settlement_job_duration_seconds",
			Help:        "Duration of settlement job invocations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: factory.counterVec(prometheus.CounterOpts{
			Name:        "pledgeline_settlement_job_timeouts_total",
			Help:        "Number of settlement jobs stopped by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: factory.counterVec(prometheus.CounterOpts{
			Name:        "pledgeline_settlement_job_errors_total",
			Help:        "Number of settlement job errors by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		runsFinished: factory.counterVec(prometheus.CounterOpts{
			Name:        "pledgeline_settlement_runs_total",
			Help:        "Settlement runs finished, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		pledgesSeen: factory.counterVec(prometheus.CounterOpts{
			Name:        "pledgeline_settlement_pledges_total",
			Help:        "Pledges visited during settlement, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		ordersCreated: factory.counter(prometheus.CounterOpts{
			Name:        "pledgeline_gateway_orders_created_total",
			Help:        "External payment orders created.",
			ConstLabels: constLabels,
		}),
		webhookEvents: factory.counterVec(prometheus.CounterOpts{
			Name:        "pledgeline_webhook_events_total",
			Help:        "Webhook events received, by type and result.",
			ConstLabels: constLabels,
		}, []string{"type", "result"}),
	}
}

func (m *SettlementMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SettlementMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SettlementMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SettlementMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySettlementJobReason(err)).Inc()
}

func (m *SettlementMetrics) IncRunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(outcome).Inc()
}

func (m *SettlementMetrics) IncPledge(result string) {
	if m == nil {
		return
	}
	m.pledgesSeen.WithLabelValues(result).Inc()
}

func (m *SettlementMetrics) IncOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *SettlementMetrics) IncWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// ClassifySettlementJobReason buckets job errors for the error counter.
func ClassifySettlementJobReason(err error) string {
	switch {
	case err == nil:
		return SettlementJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SettlementJobReasonDeadlineExceeded
	default:
		return SettlementJobReasonUnknown
	}
}

type metricFactory struct {
	registerer prometheus.Registerer
}

func (f metricFactory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.registerer.MustRegister(c)
	return c
}

func (f metricFactory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.registerer.MustRegister(c)
	return c
}

func (f metricFactory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.registerer.MustRegister(h)
	return h
}
