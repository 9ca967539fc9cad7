// Package quartz implements SchedulerCore: the public API surface that
// coordinates the Registry, the firing loop (SchedulerThread), the misfire
// handler, the worker pool, and listener dispatch. It is the component the
// teacher's internal/scheduler package is replaced by.
package quartz

import (
	"context"
	"sync"
	"time"

	"github.com/djlord-it/quartzcore/internal/calendar"
	"github.com/djlord-it/quartzcore/internal/circuitbreaker"
	"github.com/djlord-it/quartzcore/internal/jobstore"
	"github.com/djlord-it/quartzcore/internal/listener"
	"github.com/djlord-it/quartzcore/internal/metrics"
	"github.com/djlord-it/quartzcore/internal/schederr"
	"github.com/djlord-it/quartzcore/internal/trigger"
	"github.com/djlord-it/quartzcore/internal/wakeup"
	"github.com/djlord-it/quartzcore/internal/worker"
)

// runState is SchedulerCore's lifecycle position.
type runState int32

const (
	stateStandby runState = iota
	stateStarted
	stateShutdown
)

func (s runState) String() string {
	switch s {
	case stateStandby:
		return "standby"
	case stateStarted:
		return "started"
	case stateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config carries the firing-loop tunables SchedulerCore needs. It is a
// narrow subset of internal/config.Config so this package does not import
// the daemon's full environment-loading concern.
type Config struct {
	SchedulerName       string
	InstanceID          string
	IdleWaitTime        time.Duration
	AcquireBatchSize    int
	MisfireThreshold    time.Duration
	MisfireScanInterval time.Duration
}

// SchedulerCore is the engine's single entry point: registry mutation,
// lifecycle control, and listener subscription all go through it. The
// firing loop and misfire handler run as its background goroutines once
// Start is called.
type SchedulerCore struct {
	cfg      Config
	registry jobstore.Registry
	pool     *worker.Pool
	breaker  *circuitbreaker.Breaker
	sink     metrics.Sink
	dispatch *listener.Dispatcher
	wake     *wakeup.Signal
	factory  JobFactory
	clock    func() time.Time

	mu          sync.Mutex
	cond        *sync.Cond
	state       runState
	stopCh      chan struct{}
	loopDone    chan struct{}
	misfireDone chan struct{}

	execMu    sync.Mutex
	execSeq   uint64
	cancels   map[trigger.JobKey]map[uint64]context.CancelFunc
}

// New constructs a SchedulerCore wired to its collaborators. sink and
// breaker may be nil; nil sink falls back to metrics.NewNoopSink(), nil
// breaker disables circuit-breaking entirely.
func New(cfg Config, registry jobstore.Registry, pool *worker.Pool, factory JobFactory, breaker *circuitbreaker.Breaker, sink metrics.Sink) *SchedulerCore {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if cfg.AcquireBatchSize <= 0 {
		cfg.AcquireBatchSize = 10
	}
	if cfg.IdleWaitTime <= 0 {
		cfg.IdleWaitTime = 30 * time.Second
	}
	c := &SchedulerCore{
		cfg:      cfg,
		registry: registry,
		pool:     pool,
		breaker:  breaker,
		sink:     sink,
		dispatch: listener.NewDispatcher(),
		wake:     wakeup.New(),
		factory:  factory,
		clock:    time.Now,
		cancels:  make(map[trigger.JobKey]map[uint64]context.CancelFunc),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SchedulerName returns the configured scheduler identity.
func (c *SchedulerCore) SchedulerName() string { return c.cfg.SchedulerName }

// InstanceID returns the configured instance identity.
func (c *SchedulerCore) InstanceID() string { return c.cfg.InstanceID }

// IsInStandby reports whether the scheduler is constructed but not yet
// started (or has been returned to standby).
func (c *SchedulerCore) IsInStandby() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateStandby
}

// IsShutdown reports whether the scheduler has been terminally shut down.
func (c *SchedulerCore) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateShutdown
}

// Start transitions the scheduler from standby into the started state and
// launches the firing loop and misfire handler goroutines. Calling Start
// on an already-started or shut-down scheduler is a no-op returning
// SchedulerStateError for the latter.
func (c *SchedulerCore) Start() error {
	c.mu.Lock()
	if c.state == stateShutdown {
		c.mu.Unlock()
		return &schederr.SchedulerStateError{Op: "start", Expected: "standby or started", Actual: "shutdown"}
	}
	if c.state == stateStarted {
		c.mu.Unlock()
		return nil
	}
	c.state = stateStarted
	c.cond.Broadcast()
	if c.stopCh != nil {
		// Coming back from standby: the goroutines launched by the first
		// Start are still running and resume from the standby condition.
		c.mu.Unlock()
		c.dispatch.DispatchSchedulerStarted()
		return nil
	}
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.misfireDone = make(chan struct{})
	c.mu.Unlock()

	go c.runFiringLoop(c.stopCh, c.loopDone)
	go c.runMisfireHandler(c.stopCh, c.misfireDone)

	c.dispatch.DispatchSchedulerStarted()
	return nil
}

// Standby suspends the firing loop (it parks on its standby condition)
// without tearing down its goroutine. A started scheduler returns to
// standby; a standby or shut-down scheduler is unaffected.
func (c *SchedulerCore) Standby() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateShutdown {
		return &schederr.SchedulerStateError{Op: "standby", Expected: "started", Actual: "shutdown"}
	}
	c.state = stateStandby
	return nil
}

// Shutdown terminates the scheduler. It always stops the firing loop and
// misfire handler before returning. If waitForJobs is true, it then blocks
// until all in-flight worker executions complete (worker.Pool.Shutdown's
// drain); otherwise it cancels the context of every in-flight execution
// and returns without waiting for those executions to finish. Without a
// worker pool, executions run on the firing loop itself, so the one in
// progress is always waited for. After Shutdown, the scheduler is terminal.
func (c *SchedulerCore) Shutdown(waitForJobs bool) error {
	c.mu.Lock()
	if c.state == stateShutdown {
		c.mu.Unlock()
		return nil
	}
	wasStarted := c.stopCh != nil
	c.state = stateShutdown
	c.cond.Broadcast()
	stopCh := c.stopCh
	loopDone := c.loopDone
	misfireDone := c.misfireDone
	c.mu.Unlock()

	c.dispatch.DispatchSchedulerShutdown()

	if !waitForJobs {
		c.cancelAllExecutions()
	}

	if wasStarted {
		close(stopCh)
		<-loopDone
		<-misfireDone
	}

	if c.pool != nil {
		if waitForJobs {
			c.pool.Shutdown()
		} else {
			go c.pool.Shutdown()
		}
	}
	return nil
}

func (c *SchedulerCore) cancelAllExecutions() {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	for _, byID := range c.cancels {
		for _, cancel := range byID {
			cancel()
		}
	}
}

// waitUntilRunningOrStopped parks the caller while the scheduler is in
// standby, per the firing loop's first suspension point. Returns false if
// the scheduler was shut down while waiting.
func (c *SchedulerCore) waitUntilRunningOrStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == stateStandby {
		c.cond.Wait()
	}
	return c.state == stateStarted
}

// --- Job & trigger registration ---

// AddJob stores a job detail without scheduling any trigger for it.
func (c *SchedulerCore) AddJob(detail trigger.JobDetail, replace bool) error {
	return c.registry.StoreJob(detail, replace)
}

// ScheduleJob stores detail and t together, returning t's first fire time.
func (c *SchedulerCore) ScheduleJob(detail trigger.JobDetail, t *trigger.Trigger) (time.Time, error) {
	if err := c.registry.StoreJob(detail, false); err != nil {
		if _, ok := err.(*schederr.ObjectAlreadyExists); !ok {
			return time.Time{}, err
		}
	}
	return c.ScheduleJobTrigger(t)
}

// ScheduleJobTrigger stores t for a job already present in the registry.
func (c *SchedulerCore) ScheduleJobTrigger(t *trigger.Trigger) (time.Time, error) {
	if err := c.registry.StoreTrigger(t, false); err != nil {
		return time.Time{}, err
	}
	stored, err := c.registry.GetTrigger(t.Key)
	if err != nil {
		return time.Time{}, err
	}
	if stored.NextFireTime == nil {
		return time.Time{}, &schederr.TriggerDoesNotFire{Group: t.Key.Group, Name: t.Key.Name, Cause: "no future fire time after scheduling"}
	}
	c.dispatch.DispatchJobScheduled(t.Key)
	c.wake.Notify()
	return *stored.NextFireTime, nil
}

// DeleteJob removes a job and all of its triggers.
func (c *SchedulerCore) DeleteJob(key trigger.JobKey) (bool, error) {
	return c.registry.RemoveJob(key)
}

// UnscheduleTrigger removes a single trigger.
func (c *SchedulerCore) UnscheduleTrigger(key trigger.TriggerKey) (bool, error) {
	removed, err := c.registry.RemoveTrigger(key)
	if err == nil && removed {
		c.dispatch.DispatchJobUnscheduled(key)
	}
	return removed, err
}

// RescheduleTrigger atomically replaces the trigger at key with newTrigger,
// returning its new first fire time (nil if it no longer fires).
func (c *SchedulerCore) RescheduleTrigger(key trigger.TriggerKey, newTrigger *trigger.Trigger) (*time.Time, error) {
	if err := c.registry.ReplaceTrigger(key, newTrigger); err != nil {
		return nil, err
	}
	stored, err := c.registry.GetTrigger(newTrigger.Key)
	if err != nil {
		return nil, err
	}
	c.wake.Notify()
	return stored.NextFireTime, nil
}

// TriggerJob fires key immediately via a one-shot manual trigger, cleaned
// up automatically once it completes. volatile is stamped onto the
// manual trigger's Volatile field; no store reads that field, so the
// trigger is stored and fired like any other.
func (c *SchedulerCore) TriggerJob(key trigger.JobKey, data map[string]interface{}, volatile bool) error {
	now := c.clock()
	manualKey := trigger.NewTriggerKey(manualTriggerName(key, now), trigger.GroupManualTrigger)
	t, err := trigger.NewSimpleTrigger(manualKey, key, now, nil, 0, 0)
	if err != nil {
		return err
	}
	t.Data = data
	t.Volatile = volatile
	if err := c.registry.StoreTrigger(t, false); err != nil {
		return err
	}
	c.wake.Notify()
	return nil
}

func manualTriggerName(key trigger.JobKey, now time.Time) string {
	return key.Group + "." + key.Name + "." + now.Format(time.RFC3339Nano)
}

// --- Pause / resume ---

func (c *SchedulerCore) PauseTrigger(key trigger.TriggerKey) error {
	if err := c.registry.PauseTrigger(key); err != nil {
		return err
	}
	c.dispatch.DispatchTriggerPaused(key)
	return nil
}

func (c *SchedulerCore) PauseTriggerGroup(group string) error {
	return c.registry.PauseTriggerGroup(group)
}

func (c *SchedulerCore) PauseJob(key trigger.JobKey) error {
	triggers, err := c.registry.GetTriggersOfJob(key)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		if err := c.PauseTrigger(t.Key); err != nil {
			return err
		}
	}
	return nil
}

func (c *SchedulerCore) PauseJobGroup(group string) error {
	for _, name := range c.registry.GetJobNames(group) {
		if err := c.PauseJob(trigger.NewJobKey(name, group)); err != nil {
			return err
		}
	}
	return nil
}

func (c *SchedulerCore) PauseAll() error {
	return c.registry.PauseAll()
}

func (c *SchedulerCore) ResumeTrigger(key trigger.TriggerKey) error {
	if err := c.registry.ResumeTrigger(key, c.clock()); err != nil {
		return err
	}
	c.dispatch.DispatchTriggerResumed(key)
	c.wake.Notify()
	return nil
}

func (c *SchedulerCore) ResumeTriggerGroup(group string) error {
	err := c.registry.ResumeTriggerGroup(group, c.clock())
	c.wake.Notify()
	return err
}

func (c *SchedulerCore) ResumeJob(key trigger.JobKey) error {
	triggers, err := c.registry.GetTriggersOfJob(key)
	if err != nil {
		return err
	}
	for _, t := range triggers {
		if err := c.ResumeTrigger(t.Key); err != nil {
			return err
		}
	}
	return nil
}

func (c *SchedulerCore) ResumeJobGroup(group string) error {
	for _, name := range c.registry.GetJobNames(group) {
		if err := c.ResumeJob(trigger.NewJobKey(name, group)); err != nil {
			return err
		}
	}
	return nil
}

func (c *SchedulerCore) ResumeAll() error {
	err := c.registry.ResumeAll(c.clock())
	c.wake.Notify()
	return err
}

// --- Introspection ---

func (c *SchedulerCore) JobGroupNames() []string          { return c.registry.JobGroupNames() }
func (c *SchedulerCore) TriggerGroupNames() []string      { return c.registry.TriggerGroupNames() }
func (c *SchedulerCore) PausedTriggerGroups() []string    { return c.registry.PausedTriggerGroups() }
func (c *SchedulerCore) CalendarNames() []string          { return c.registry.CalendarNames() }
func (c *SchedulerCore) GetJobNames(group string) []string { return c.registry.GetJobNames(group) }
func (c *SchedulerCore) GetTriggerNames(group string) []string {
	return c.registry.GetTriggerNames(group)
}
func (c *SchedulerCore) GetTriggersOfJob(key trigger.JobKey) ([]*trigger.Trigger, error) {
	return c.registry.GetTriggersOfJob(key)
}
func (c *SchedulerCore) GetJobDetail(key trigger.JobKey) (*trigger.JobDetail, error) {
	return c.registry.GetJobDetail(key)
}
func (c *SchedulerCore) GetTrigger(key trigger.TriggerKey) (*trigger.Trigger, error) {
	return c.registry.GetTrigger(key)
}
func (c *SchedulerCore) GetTriggerState(key trigger.TriggerKey) (trigger.State, error) {
	return c.registry.GetTriggerState(key)
}

// Metadata summarizes scheduler identity and lifecycle state for
// introspection endpoints.
type Metadata struct {
	SchedulerName string
	InstanceID    string
	State         string
}

func (c *SchedulerCore) GetMetadata() Metadata {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	return Metadata{SchedulerName: c.cfg.SchedulerName, InstanceID: c.cfg.InstanceID, State: state.String()}
}

// GetCurrentlyExecutingJobs returns the JobKeys with at least one
// execution in flight right now.
func (c *SchedulerCore) GetCurrentlyExecutingJobs() []trigger.JobKey {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	out := make([]trigger.JobKey, 0, len(c.cancels))
	for k, byID := range c.cancels {
		if len(byID) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// --- Calendars ---

func (c *SchedulerCore) AddCalendar(name string, cal calendar.Calendar, replace, updateTriggers bool) error {
	return c.registry.AddCalendar(name, cal, replace, updateTriggers)
}

func (c *SchedulerCore) DeleteCalendar(name string) (bool, error) {
	return c.registry.RemoveCalendar(name)
}

func (c *SchedulerCore) GetCalendar(name string) (calendar.Calendar, bool) {
	return c.registry.GetCalendar(name)
}

// --- Listeners ---

func (c *SchedulerCore) AddJobListener(l listener.JobListener)               { c.dispatch.AddJobListener(l) }
func (c *SchedulerCore) AddJobListenerForGroup(g string, l listener.JobListener) {
	c.dispatch.AddJobListenerForGroup(g, l)
}
func (c *SchedulerCore) RemoveJobListener(name string) { c.dispatch.RemoveJobListener(name) }

func (c *SchedulerCore) AddTriggerListener(l listener.TriggerListener) {
	c.dispatch.AddTriggerListener(l)
}
func (c *SchedulerCore) AddTriggerListenerForGroup(g string, l listener.TriggerListener) {
	c.dispatch.AddTriggerListenerForGroup(g, l)
}
func (c *SchedulerCore) RemoveTriggerListener(name string) { c.dispatch.RemoveTriggerListener(name) }

func (c *SchedulerCore) AddSchedulerListener(l listener.SchedulerListener) {
	c.dispatch.AddSchedulerListener(l)
}
func (c *SchedulerCore) RemoveSchedulerListener(name string) {
	c.dispatch.RemoveSchedulerListener(name)
}

// --- Interruption ---

// Interrupt cancels every in-flight execution context for key. Returns
// false (with no error) if no execution for key is currently running. It
// neither calls InterruptableJob.Interrupt nor returns UnableToInterruptJob;
// a job that ignores its context keeps running after the cancellation.
func (c *SchedulerCore) Interrupt(key trigger.JobKey) (bool, error) {
	c.execMu.Lock()
	byID := c.cancels[key]
	cancels := make([]context.CancelFunc, 0, len(byID))
	for _, cancel := range byID {
		cancels = append(cancels, cancel)
	}
	c.execMu.Unlock()
	if len(cancels) == 0 {
		return false, nil
	}
	for _, cancel := range cancels {
		cancel()
	}
	return true, nil
}

// trackExecution registers cancel under key and returns the token needed
// to untrack it once the execution completes.
func (c *SchedulerCore) trackExecution(key trigger.JobKey, cancel context.CancelFunc) uint64 {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	c.execSeq++
	id := c.execSeq
	if c.cancels[key] == nil {
		c.cancels[key] = make(map[uint64]context.CancelFunc)
	}
	c.cancels[key][id] = cancel
	return id
}

func (c *SchedulerCore) untrackExecution(key trigger.JobKey, id uint64) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	delete(c.cancels[key], id)
	if len(c.cancels[key]) == 0 {
		delete(c.cancels, key)
	}
}
