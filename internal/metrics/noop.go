package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggersAcquired(count int)                                  {}
func (n *NoopSink) FireLatencyObserve(latencySeconds float64)                   {}
func (n *NoopSink) JobExecutionObserve(duration time.Duration, outcome string)  {}
func (n *NoopSink) JobsInFlightIncr()                                           {}
func (n *NoopSink) JobsInFlightDecr()                                           {}
func (n *NoopSink) MisfiresDetected(count int)                                  {}
func (n *NoopSink) MisfireHandlingDuration(duration time.Duration)              {}
func (n *NoopSink) TriggerStateTransition(from, to string)                      {}
func (n *NoopSink) RegistrySize(jobs, triggers int)                            {}
func (n *NoopSink) CircuitBreakerTripped()                                     {}
func (n *NoopSink) CircuitBreakerReset()                                       {}
