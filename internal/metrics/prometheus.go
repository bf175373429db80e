package metrics

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with Prometheus collectors. Registration
// errors are logged and never propagated.
type PrometheusSink struct {
	jobsCreated   *prometheus.CounterVec
	jobsCancelled *prometheus.CounterVec

	scansTotal      prometheus.Counter
	scanErrorsTotal prometheus.Counter
	scanDuration    prometheus.Histogram
	scanBuckets     prometheus.Counter
	enqueuedTotal   prometheus.Counter
	dispatchLost    prometheus.Counter

	deliveries        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	transitions   *prometheus.CounterVec
	preconditions *prometheus.CounterVec
	swept         prometheus.Counter
}

// NewPrometheusSink creates and registers the collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initIntakeMetrics(reg)
	s.initScannerMetrics(reg)
	s.initWorkerMetrics(reg)
	s.initStoreMetrics(reg)
	return s
}

func (s *PrometheusSink) initIntakeMetrics(reg prometheus.Registerer) {
	s.jobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_jobs_created_total",
		Help: "Jobs accepted by intake, labelled by whether an existing job was returned.",
	}, []string{"idempotent"})
	s.jobsCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_jobs_cancel_requests_total",
		Help: "Cancellation requests by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.jobsCreated, "scheduler_jobs_created_total")
	s.register(reg, s.jobsCancelled, "scheduler_jobs_cancel_requests_total")
}

func (s *PrometheusSink) initScannerMetrics(reg prometheus.Registerer) {
	s.scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_scans_total",
		Help: "Due-job scans performed.",
	})
	s.scanErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_scan_errors_total",
		Help: "Due-job scans that ended with an error.",
	})
	s.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_scan_duration_seconds",
		Help:    "Duration of one due-job scan.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.scanBuckets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_scan_buckets_total",
		Help: "Minute buckets visited by scans.",
	})
	s.enqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_executions_enqueued_total",
		Help: "Execution messages sent to the delivery queue.",
	})
	s.dispatchLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_dispatch_lost_total",
		Help: "Messages sent whose PENDING to RUNNING transition lost a race.",
	})

	s.register(reg, s.scansTotal, "scheduler_scans_total")
	s.register(reg, s.scanErrorsTotal, "scheduler_scan_errors_total")
	s.register(reg, s.scanDuration, "scheduler_scan_duration_seconds")
	s.register(reg, s.scanBuckets, "scheduler_scan_buckets_total")
	s.register(reg, s.enqueuedTotal, "scheduler_executions_enqueued_total")
	s.register(reg, s.dispatchLost, "scheduler_dispatch_lost_total")
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_worker_deliveries_total",
		Help: "Deliveries handled by the worker, by outcome and delivery count.",
	}, []string{"outcome", "delivery"})
	s.executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_task_execution_duration_seconds",
		Help:    "Task executor latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"task", "result"})

	s.register(reg, s.deliveries, "scheduler_worker_deliveries_total")
	s.register(reg, s.executionDuration, "scheduler_task_execution_duration_seconds")
}

func (s *PrometheusSink) initStoreMetrics(reg prometheus.Registerer) {
	s.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_transitions_total",
		Help: "State transitions applied, by transition.",
	}, []string{"transition"})
	s.preconditions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_precondition_failures_total",
		Help: "Conditional writes rejected because the record had moved.",
	}, []string{"transition"})
	s.swept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_records_swept_total",
		Help: "Expired records removed by the sweeper.",
	})

	s.register(reg, s.transitions, "scheduler_transitions_total")
	s.register(reg, s.preconditions, "scheduler_precondition_failures_total")
	s.register(reg, s.swept, "scheduler_records_swept_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		slog.Warn("metrics: failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) JobCreated(idempotent bool) {
	s.jobsCreated.WithLabelValues(strconv.FormatBool(idempotent)).Inc()
}

func (s *PrometheusSink) JobCancelled(outcome string) {
	s.jobsCancelled.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) ScanCompleted(duration time.Duration, buckets, enqueued int, err error) {
	s.scansTotal.Inc()
	s.scanDuration.Observe(duration.Seconds())
	s.scanBuckets.Add(float64(buckets))
	s.enqueuedTotal.Add(float64(enqueued))
	if err != nil {
		s.scanErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) DispatchLost() {
	s.dispatchLost.Inc()
}

func (s *PrometheusSink) DeliveryHandled(outcome string, redeliveryCount int) {
	s.deliveries.WithLabelValues(outcome, deliveryLabel(redeliveryCount)).Inc()
}

func (s *PrometheusSink) ExecutionObserved(task string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.executionDuration.WithLabelValues(task, result).Observe(duration.Seconds())
}

func (s *PrometheusSink) TransitionApplied(transition string) {
	s.transitions.WithLabelValues(transition).Inc()
}

func (s *PrometheusSink) PreconditionFailed(transition string) {
	s.preconditions.WithLabelValues(transition).Inc()
}

func (s *PrometheusSink) RecordsSwept(count int) {
	s.swept.Add(float64(count))
}

// deliveryLabel caps label cardinality for runaway redelivery counts.
func deliveryLabel(n int) string {
	if n > 10 {
		return "10+"
	}
	return strconv.Itoa(n)
}
