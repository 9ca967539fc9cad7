package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library. All
// methods are non-blocking and fire-and-forget. Registration errors are
// logged but never propagated.
type PrometheusSink struct {
	triggersAcquiredTotal prometheus.Counter
	fireLatency           prometheus.Histogram
	jobExecutionsTotal    *prometheus.CounterVec
	jobExecutionDuration  prometheus.Histogram
	jobsInFlight          prometheus.Gauge

	misfiresDetectedTotal   prometheus.Counter
	misfireHandlingDuration prometheus.Histogram

	triggerStateTransitionsTotal *prometheus.CounterVec
	registryJobs                 prometheus.Gauge
	registryTriggers              prometheus.Gauge

	circuitBreakerTrippedTotal prometheus.Counter
	circuitBreakerResetTotal   prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink. If
// registration fails, it logs a warning and returns a functional sink;
// metrics that fail to register are still updated but are not exported
// through reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initFiringMetrics(reg)
	s.initMisfireMetrics(reg)
	s.initRegistryMetrics(reg)
	s.initCircuitBreakerMetrics(reg)
	return s
}

func (s *PrometheusSink) initFiringMetrics(reg prometheus.Registerer) {
	s.triggersAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quartzcore_triggers_acquired_total",
		Help: "Total number of triggers acquired by the firing loop.",
	})
	s.fireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quartzcore_fire_latency_seconds",
		Help:    "Difference between actual fire time and scheduled fire time in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.jobExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quartzcore_job_executions_total",
		Help: "Total number of job executions by outcome.",
	}, []string{"outcome"})
	s.jobExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quartzcore_job_execution_duration_seconds",
		Help:    "Job execution duration in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quartzcore_jobs_in_flight",
		Help: "Number of job executions currently in flight.",
	})

	s.register(reg, s.triggersAcquiredTotal, "quartzcore_triggers_acquired_total")
	s.register(reg, s.fireLatency, "quartzcore_fire_latency_seconds")
	s.register(reg, s.jobExecutionsTotal, "quartzcore_job_executions_total")
	s.register(reg, s.jobExecutionDuration, "quartzcore_job_execution_duration_seconds")
	s.register(reg, s.jobsInFlight, "quartzcore_jobs_in_flight")
}

func (s *PrometheusSink) initMisfireMetrics(reg prometheus.Registerer) {
	s.misfiresDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quartzcore_misfires_detected_total",
		Help: "Total number of triggers found overdue by the misfire handler.",
	})
	s.misfireHandlingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quartzcore_misfire_handling_duration_seconds",
		Help:    "Duration of each misfire handler pass in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	s.register(reg, s.misfiresDetectedTotal, "quartzcore_misfires_detected_total")
	s.register(reg, s.misfireHandlingDuration, "quartzcore_misfire_handling_duration_seconds")
}

func (s *PrometheusSink) initRegistryMetrics(reg prometheus.Registerer) {
	s.triggerStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quartzcore_trigger_state_transitions_total",
		Help: "Total number of trigger state transitions.",
	}, []string{"from", "to"})
	s.registryJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quartzcore_registry_jobs",
		Help: "Current number of jobs stored in the registry.",
	})
	s.registryTriggers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quartzcore_registry_triggers",
		Help: "Current number of triggers stored in the registry.",
	})

	s.register(reg, s.triggerStateTransitionsTotal, "quartzcore_trigger_state_transitions_total")
	s.register(reg, s.registryJobs, "quartzcore_registry_jobs")
	s.register(reg, s.registryTriggers, "quartzcore_registry_triggers")
}

func (s *PrometheusSink) initCircuitBreakerMetrics(reg prometheus.Registerer) {
	s.circuitBreakerTrippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quartzcore_circuit_breaker_tripped_total",
		Help: "Total number of times a job's circuit breaker tripped open.",
	})
	s.circuitBreakerResetTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quartzcore_circuit_breaker_reset_total",
		Help: "Total number of times a job's circuit breaker reset to closed.",
	})

	s.register(reg, s.circuitBreakerTrippedTotal, "quartzcore_circuit_breaker_tripped_total")
	s.register(reg, s.circuitBreakerResetTotal, "quartzcore_circuit_breaker_reset_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) TriggersAcquired(count int) {
	s.triggersAcquiredTotal.Add(float64(count))
}

func (s *PrometheusSink) FireLatencyObserve(latencySeconds float64) {
	s.fireLatency.Observe(latencySeconds)
}

func (s *PrometheusSink) JobExecutionObserve(duration time.Duration, outcome string) {
	s.jobExecutionsTotal.WithLabelValues(outcome).Inc()
	s.jobExecutionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobsInFlightIncr() { s.jobsInFlight.Inc() }
func (s *PrometheusSink) JobsInFlightDecr() { s.jobsInFlight.Dec() }

func (s *PrometheusSink) MisfiresDetected(count int) {
	s.misfiresDetectedTotal.Add(float64(count))
}

func (s *PrometheusSink) MisfireHandlingDuration(duration time.Duration) {
	s.misfireHandlingDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) TriggerStateTransition(from, to string) {
	s.triggerStateTransitionsTotal.WithLabelValues(from, to).Inc()
}

func (s *PrometheusSink) RegistrySize(jobs, triggers int) {
	s.registryJobs.Set(float64(jobs))
	s.registryTriggers.Set(float64(triggers))
}

func (s *PrometheusSink) CircuitBreakerTripped() { s.circuitBreakerTrippedTotal.Inc() }
func (s *PrometheusSink) CircuitBreakerReset()   { s.circuitBreakerResetTotal.Inc() }
