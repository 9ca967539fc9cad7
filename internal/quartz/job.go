package quartz

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/quartzcore/internal/trigger"
)

// Job is the runnable unit a JobFactory produces for a JobDetail's
// JobClass. The registry never holds live job code; the factory resolves
// it fresh at fire time.
type Job interface {
	Execute(ctx context.Context, execCtx *JobExecutionContext) error
}

// InterruptableJob is a Job that exposes an Interrupt hook.
// SchedulerCore.Interrupt does not call this hook and does not return
// UnableToInterruptJob: it cancels the context passed to Execute for every
// in-flight execution of the job, whether or not the job implements this
// interface.
type InterruptableJob interface {
	Job
	Interrupt() error
}

// JobFactory constructs a Job instance for a stored JobDetail. Called once
// per firing; implementations typically type-switch on JobClass.
type JobFactory interface {
	NewJob(detail *trigger.JobDetail) (Job, error)
}

// JobFactoryFunc adapts a function to JobFactory.
type JobFactoryFunc func(detail *trigger.JobDetail) (Job, error)

func (f JobFactoryFunc) NewJob(detail *trigger.JobDetail) (Job, error) { return f(detail) }

// JobExecutionContext is handed to a Job's Execute method: the trigger and
// job snapshots responsible for this firing, the scheduled vs. actual fire
// time, and a merged data map (job data overlaid by trigger data, matching
// the source's merge order).
type JobExecutionContext struct {
	// ExecutionID is a fresh identifier minted per firing, not persisted
	// anywhere in the Registry — it exists so a Job (e.g. httpjob) can
	// hand downstream systems an idempotency key for this one attempt.
	ExecutionID       uuid.UUID
	Trigger           *trigger.Trigger
	JobDetail         *trigger.JobDetail
	ScheduledFireTime time.Time
	FireTime          time.Time
	MergedData        map[string]interface{}
}

func mergedData(job *trigger.JobDetail, t *trigger.Trigger) map[string]interface{} {
	merged := make(map[string]interface{}, len(job.Data)+len(t.Data))
	for k, v := range job.Data {
		merged[k] = v
	}
	for k, v := range t.Data {
		merged[k] = v
	}
	return merged
}
