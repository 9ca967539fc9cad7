package quartz

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/quartzcore/internal/listener"
	"github.com/djlord-it/quartzcore/internal/metrics"
	"github.com/djlord-it/quartzcore/internal/trigger"
	"github.com/djlord-it/quartzcore/internal/worker"
)

// runFiringLoop is the QuartzSchedulerThread: wait for a free worker slot →
// acquire → sleep-until-fire → hand off to the worker pool →
// trigger_fired/trigger_complete, looping until stopCh closes.
func (c *SchedulerCore) runFiringLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		if !c.waitUntilRunningOrStopped() {
			return
		}

		select {
		case <-stopCh:
			return
		default:
		}

		// Block on worker availability before acquiring, not after: an
		// acquired trigger occupies its reservation in the registry until
		// fired, so holding a batch while every worker is busy only grows
		// that window for no benefit.
		for c.pool != nil && !c.pool.Available() {
			if !sleepOrStop(stopCh, c.wake, c.cfg.IdleWaitTime) {
				return
			}
		}

		now := c.clock()
		window := now.Add(c.cfg.IdleWaitTime)

		acquired, err := c.registry.AcquireNextTriggers(window, c.cfg.AcquireBatchSize)
		if err != nil {
			c.dispatch.DispatchSchedulerError("acquire_next_triggers failed", err)
			if !sleepOrStop(stopCh, c.wake, time.Second) {
				return
			}
			continue
		}
		if len(acquired) == 0 {
			if !sleepOrStop(stopCh, c.wake, c.cfg.IdleWaitTime) {
				return
			}
			continue
		}

		c.sink.TriggersAcquired(len(acquired))

		for _, t := range acquired {
			// Re-derive waitFor after every wake-up: the wake signal is
			// coalesced and shared with job completions, mutations, and
			// misfire scans, so an early wake does not mean this trigger's
			// fire time has actually arrived.
			for {
				waitFor := t.NextFireTime.Sub(c.clock())
				if waitFor <= 0 {
					break
				}
				if !sleepOrStop(stopCh, c.wake, waitFor) {
					return
				}
			}

			select {
			case <-stopCh:
				return
			default:
			}

			c.fireTrigger(t)
		}
	}
}

// sleepOrStop blocks for d or until stopCh closes or wake fires early,
// returning false iff stopCh closed first.
func sleepOrStop(stopCh <-chan struct{}, wake interface{ C() <-chan struct{} }, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stopCh:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
		return false
	case <-wake.C():
		return true
	case <-timer.C:
		return true
	}
}

// fireTrigger carries one acquired trigger through trigger_fired, listener
// dispatch, worker hand-off, and (synchronously for the stateful-blocked
// case, asynchronously otherwise) trigger_complete.
func (c *SchedulerCore) fireTrigger(acquired *trigger.Trigger) {
	scheduledFireTime := *acquired.NextFireTime
	actualFireTime := c.clock()
	c.sink.FireLatencyObserve(actualFireTime.Sub(scheduledFireTime).Seconds())

	job, err := c.registry.GetJobDetail(acquired.JobKey)
	if err != nil {
		c.dispatch.DispatchSchedulerError("get_job_detail failed during fire", err)
		return
	}

	fireResult, err := c.registry.TriggerFired(acquired.Key, actualFireTime)
	if err != nil {
		c.dispatch.DispatchSchedulerError("trigger_fired failed", err)
		return
	}

	execCtx := listener.ExecutionContext{
		Trigger:           fireResult.Trigger,
		JobDetail:         job,
		ScheduledFireTime: scheduledFireTime,
		ActualFireTime:    actualFireTime,
	}

	vetoed := c.dispatch.DispatchTriggerFired(execCtx)

	// A stateful job already has another trigger's execution in flight;
	// this firing contributes no new execution, only the bookkeeping
	// trigger_fired already performed above.
	if fireResult.Blocked {
		c.completeTrigger(execCtx, listener.Result{Vetoed: true}, trigger.InstructionNoop)
		return
	}

	if vetoed {
		c.dispatch.DispatchJobExecutionVetoed(execCtx)
		c.completeTrigger(execCtx, listener.Result{Vetoed: true}, trigger.InstructionNoop)
		return
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(acquired.JobKey); err != nil {
			c.completeTrigger(execCtx, listener.Result{Err: err}, trigger.InstructionNoop)
			return
		}
	}

	c.dispatch.DispatchJobToBeExecuted(execCtx)
	c.submitExecution(execCtx)
}

func (c *SchedulerCore) submitExecution(execCtx listener.ExecutionContext) {
	jobCtx := &JobExecutionContext{
		ExecutionID:       uuid.New(),
		Trigger:           execCtx.Trigger,
		JobDetail:         execCtx.JobDetail,
		ScheduledFireTime: execCtx.ScheduledFireTime,
		FireTime:          execCtx.ActualFireTime,
		MergedData:        mergedData(execCtx.JobDetail, execCtx.Trigger),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	id := c.trackExecution(execCtx.JobDetail.Key, cancel)

	start := c.clock()
	item := worker.Item{
		Execute: func(ctx context.Context) error {
			job, err := c.factory.NewJob(execCtx.JobDetail)
			if err != nil {
				return err
			}
			return job.Execute(runCtx, jobCtx)
		},
		Done: func(err error) {
			cancel()
			c.untrackExecution(execCtx.JobDetail.Key, id)
			c.handleJobResult(execCtx, err, c.clock().Sub(start))
		},
	}

	if c.pool == nil {
		item.Done(item.Execute(runCtx))
		return
	}
	if err := c.pool.Submit(runCtx, item); err != nil {
		cancel()
		c.untrackExecution(execCtx.JobDetail.Key, id)
		c.dispatch.DispatchSchedulerError("worker submit failed", err)
		c.completeTrigger(execCtx, listener.Result{Err: err}, trigger.InstructionNoop)
	}
}

func (c *SchedulerCore) handleJobResult(execCtx listener.ExecutionContext, err error, duration time.Duration) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	c.sink.JobExecutionObserve(duration, outcome)

	jobKey := execCtx.JobDetail.Key
	if c.breaker != nil {
		if err != nil {
			if c.breaker.RecordFailure(jobKey) {
				c.sink.CircuitBreakerTripped()
				c.forceTriggersToState(jobKey, trigger.StateError)
			}
		} else if c.breaker.Tripped(jobKey) {
			c.breaker.RecordSuccess(jobKey)
			c.sink.CircuitBreakerReset()
			c.forceTriggersToState(jobKey, trigger.StateNormal)
		} else {
			c.breaker.RecordSuccess(jobKey)
		}
	}

	c.completeTrigger(execCtx, listener.Result{Err: err, Duration: duration}, trigger.InstructionNoop)
}

func (c *SchedulerCore) forceTriggersToState(jobKey trigger.JobKey, state trigger.State) {
	triggers, err := c.registry.GetTriggersOfJob(jobKey)
	if err != nil {
		log.Printf("quartz: could not load triggers of job %s to force state %s: %v", jobKey, state, err)
		return
	}
	for _, t := range triggers {
		if state == trigger.StateNormal && t.State != trigger.StateError {
			continue
		}
		if err := c.registry.SetTriggerState(t.Key, state); err != nil {
			log.Printf("quartz: could not set trigger %s to state %s: %v", t.Key, state, err)
			continue
		}
		c.sink.TriggerStateTransition(t.State.String(), state.String())
	}
}

func (c *SchedulerCore) completeTrigger(execCtx listener.ExecutionContext, result listener.Result, instruction trigger.CompletionInstruction) {
	// TriggerJob's one-shot manual triggers are removed once they complete.
	if instruction == trigger.InstructionNoop && execCtx.Trigger.Key.Group == trigger.GroupManualTrigger && !execCtx.Trigger.MayFireAgain() {
		instruction = trigger.InstructionDeleteTrigger
	}
	if !result.Vetoed {
		c.dispatch.DispatchJobWasExecuted(execCtx, result)
	}
	c.dispatch.DispatchTriggerComplete(execCtx, result, instruction)

	if err := c.registry.TriggerComplete(execCtx.Trigger.Key, instruction); err != nil {
		c.dispatch.DispatchSchedulerError("trigger_complete failed", err)
	}
	c.wake.Notify()
}
