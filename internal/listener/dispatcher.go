package listener

import (
	"log"
	"sync"

	"github.com/djlord-it/quartzcore/internal/trigger"
)

// Dispatcher holds the global and named (per job/trigger group) listener
// subscriptions and performs synchronous, ordered dispatch: globals first,
// then named, matching the firing loop's ordering requirement. A panic or
// error from one listener is logged and never prevents the remaining
// listeners from being called.
type Dispatcher struct {
	mu sync.RWMutex

	globalJob       []JobListener
	namedJob        map[string][]JobListener
	globalTrigger   []TriggerListener
	namedTrigger    map[string][]TriggerListener
	schedulerListen []SchedulerListener
}

// NewDispatcher returns an empty Dispatcher ready for subscriptions.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		namedJob:     make(map[string][]JobListener),
		namedTrigger: make(map[string][]TriggerListener),
	}
}

func (d *Dispatcher) AddJobListener(l JobListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalJob = append(d.globalJob, l)
}

func (d *Dispatcher) AddJobListenerForGroup(group string, l JobListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.namedJob[group] = append(d.namedJob[group], l)
}

func (d *Dispatcher) RemoveJobListener(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalJob = removeJobListener(d.globalJob, name)
	for g, ls := range d.namedJob {
		d.namedJob[g] = removeJobListener(ls, name)
	}
}

func (d *Dispatcher) AddTriggerListener(l TriggerListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalTrigger = append(d.globalTrigger, l)
}

func (d *Dispatcher) AddTriggerListenerForGroup(group string, l TriggerListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.namedTrigger[group] = append(d.namedTrigger[group], l)
}

func (d *Dispatcher) RemoveTriggerListener(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globalTrigger = removeTriggerListener(d.globalTrigger, name)
	for g, ls := range d.namedTrigger {
		d.namedTrigger[g] = removeTriggerListener(ls, name)
	}
}

func (d *Dispatcher) AddSchedulerListener(l SchedulerListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedulerListen = append(d.schedulerListen, l)
}

func (d *Dispatcher) RemoveSchedulerListener(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.schedulerListen[:0]
	for _, l := range d.schedulerListen {
		if l.Name() != name {
			out = append(out, l)
		}
	}
	d.schedulerListen = out
}

func removeJobListener(ls []JobListener, name string) []JobListener {
	out := ls[:0]
	for _, l := range ls {
		if l.Name() != name {
			out = append(out, l)
		}
	}
	return out
}

func removeTriggerListener(ls []TriggerListener, name string) []TriggerListener {
	out := ls[:0]
	for _, l := range ls {
		if l.Name() != name {
			out = append(out, l)
		}
	}
	return out
}

func (d *Dispatcher) triggerListenersFor(group string) []TriggerListener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	all := make([]TriggerListener, 0, len(d.globalTrigger)+len(d.namedTrigger[group]))
	all = append(all, d.globalTrigger...)
	all = append(all, d.namedTrigger[group]...)
	return all
}

func (d *Dispatcher) jobListenersFor(group string) []JobListener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	all := make([]JobListener, 0, len(d.globalJob)+len(d.namedJob[group]))
	all = append(all, d.globalJob...)
	all = append(all, d.namedJob[group]...)
	return all
}

// DispatchTriggerFired notifies trigger listeners (globals first, then
// named) and reports whether any of them vetoed the execution.
func (d *Dispatcher) DispatchTriggerFired(ctx ExecutionContext) (vetoed bool) {
	for _, l := range d.triggerListenersFor(ctx.Trigger.Key.Group) {
		safeCall(func() { l.TriggerFired(ctx) })
		if safeVeto(l, ctx) {
			vetoed = true
		}
	}
	return vetoed
}

func safeVeto(l TriggerListener, ctx ExecutionContext) (veto bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("listener: trigger listener %s panicked during veto check: %v", l.Name(), r)
		}
	}()
	return l.VetoJobExecution(ctx)
}

// DispatchTriggerMisfired notifies trigger listeners of an overdue trigger.
func (d *Dispatcher) DispatchTriggerMisfired(t *trigger.Trigger) {
	for _, l := range d.triggerListenersFor(t.Key.Group) {
		ll := l
		safeCall(func() { ll.TriggerMisfired(t) })
	}
}

// DispatchTriggerComplete notifies trigger listeners after a job returns
// (or is vetoed).
func (d *Dispatcher) DispatchTriggerComplete(ctx ExecutionContext, result Result, instruction trigger.CompletionInstruction) {
	for _, l := range d.triggerListenersFor(ctx.Trigger.Key.Group) {
		ll := l
		safeCall(func() { ll.TriggerComplete(ctx, result, instruction) })
	}
}

// DispatchJobToBeExecuted notifies job listeners immediately before the
// worker hand-off.
func (d *Dispatcher) DispatchJobToBeExecuted(ctx ExecutionContext) {
	for _, l := range d.jobListenersFor(ctx.JobDetail.Key.Group) {
		ll := l
		safeCall(func() { ll.JobToBeExecuted(ctx) })
	}
}

// DispatchJobExecutionVetoed notifies job listeners that a trigger
// listener vetoed this execution.
func (d *Dispatcher) DispatchJobExecutionVetoed(ctx ExecutionContext) {
	for _, l := range d.jobListenersFor(ctx.JobDetail.Key.Group) {
		ll := l
		safeCall(func() { ll.JobExecutionVetoed(ctx) })
	}
}

// DispatchJobWasExecuted notifies job listeners after the worker returns.
func (d *Dispatcher) DispatchJobWasExecuted(ctx ExecutionContext, result Result) {
	for _, l := range d.jobListenersFor(ctx.JobDetail.Key.Group) {
		ll := l
		safeCall(func() { ll.JobWasExecuted(ctx, result) })
	}
}

func (d *Dispatcher) schedulerListeners() []SchedulerListener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]SchedulerListener, len(d.schedulerListen))
	copy(out, d.schedulerListen)
	return out
}

func (d *Dispatcher) DispatchSchedulerStarted() {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.SchedulerStarted() })
	}
}

func (d *Dispatcher) DispatchSchedulerShutdown() {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.SchedulerShutdown() })
	}
}

func (d *Dispatcher) DispatchSchedulerError(msg string, err error) {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.SchedulerError(msg, err) })
	}
}

func (d *Dispatcher) DispatchJobScheduled(key trigger.TriggerKey) {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.JobScheduled(key) })
	}
}

func (d *Dispatcher) DispatchJobUnscheduled(key trigger.TriggerKey) {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.JobUnscheduled(key) })
	}
}

func (d *Dispatcher) DispatchTriggerPaused(key trigger.TriggerKey) {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.TriggerPaused(key) })
	}
}

func (d *Dispatcher) DispatchTriggerResumed(key trigger.TriggerKey) {
	for _, l := range d.schedulerListeners() {
		ll := l
		safeCall(func() { ll.TriggerResumed(key) })
	}
}

// safeCall runs fn, recovering and logging any panic so one misbehaving
// listener cannot interrupt the remaining dispatches.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("listener: panic during dispatch: %v", r)
		}
	}()
	fn()
}
