// Package listener defines the three listener capabilities the firing
// loop dispatches to — Job, Trigger, Scheduler — plus the Dispatcher that
// holds their global and per-group subscriptions. Per the design
// note against inheritance hierarchies, each capability is a narrow
// interface rather than a base listener type; a caller wanting more than
// one capability just implements more than one interface.
package listener

import (
	"time"

	"github.com/djlord-it/quartzcore/internal/trigger"
)

// ExecutionContext carries everything a listener needs about one firing:
// the trigger and job snapshots involved, and the scheduled vs. actual
// fire time used to compute fire latency.
type ExecutionContext struct {
	Trigger           *trigger.Trigger
	JobDetail         *trigger.JobDetail
	ScheduledFireTime time.Time
	ActualFireTime    time.Time
}

// Result is handed to JobWasExecuted/TriggerComplete after a job runs (or
// is vetoed). Err is nil on success.
type Result struct {
	Err      error
	Duration time.Duration
	Vetoed   bool
}

// JobListener observes the worker hand-off for every job execution.
type JobListener interface {
	Name() string
	JobToBeExecuted(ctx ExecutionContext)
	JobExecutionVetoed(ctx ExecutionContext)
	JobWasExecuted(ctx ExecutionContext, result Result)
}

// TriggerListener observes a trigger's lifecycle and may veto execution.
type TriggerListener interface {
	Name() string
	TriggerFired(ctx ExecutionContext)
	// VetoJobExecution returning true prevents the worker hand-off; job
	// listeners receive JobExecutionVetoed instead of JobToBeExecuted and
	// JobWasExecuted, and trigger_complete is still called, with
	// Result.Vetoed set.
	VetoJobExecution(ctx ExecutionContext) bool
	TriggerMisfired(t *trigger.Trigger)
	TriggerComplete(ctx ExecutionContext, result Result, instruction trigger.CompletionInstruction)
}

// SchedulerListener observes scheduler-wide lifecycle events: start,
// shutdown, internal errors, and registry mutations.
type SchedulerListener interface {
	Name() string
	SchedulerStarted()
	SchedulerShutdown()
	SchedulerError(msg string, err error)
	JobScheduled(key trigger.TriggerKey)
	JobUnscheduled(key trigger.TriggerKey)
	TriggerPaused(key trigger.TriggerKey)
	TriggerResumed(key trigger.TriggerKey)
}
