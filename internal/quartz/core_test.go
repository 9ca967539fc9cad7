package quartz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/quartzcore/internal/jobstore"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// fakeJob runs a supplied function and signals completion on a channel.
type fakeJob struct {
	fn   func(ctx context.Context, execCtx *JobExecutionContext) error
	done chan *JobExecutionContext
}

func (j *fakeJob) Execute(ctx context.Context, execCtx *JobExecutionContext) error {
	var err error
	if j.fn != nil {
		err = j.fn(ctx, execCtx)
	}
	if j.done != nil {
		j.done <- execCtx
	}
	return err
}

func newFakeFactory(fn func(ctx context.Context, execCtx *JobExecutionContext) error, done chan *JobExecutionContext) JobFactory {
	return JobFactoryFunc(func(detail *trigger.JobDetail) (Job, error) {
		return &fakeJob{fn: fn, done: done}, nil
	})
}

func newTestCore(factory JobFactory) (*SchedulerCore, jobstore.Registry) {
	reg := jobstore.New(time.Now)
	c := New(Config{IdleWaitTime: 20 * time.Millisecond, AcquireBatchSize: 10}, reg, nil, factory, nil, nil)
	return c, reg
}

func TestSchedulerCore_StartStandbyShutdown(t *testing.T) {
	c, _ := newTestCore(nil)
	if !c.IsInStandby() {
		t.Fatalf("expected fresh core to be in standby")
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.IsInStandby() {
		t.Fatalf("expected started core not to be in standby")
	}
	if err := c.Standby(); err != nil {
		t.Fatalf("Standby: %v", err)
	}
	if !c.IsInStandby() {
		t.Fatalf("expected core back in standby")
	}
	if err := c.Shutdown(true); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !c.IsShutdown() {
		t.Fatalf("expected core to be shut down")
	}
	if err := c.Start(); err == nil {
		t.Fatalf("expected Start after Shutdown to error")
	}
}

func TestSchedulerCore_ShutdownIsIdempotent(t *testing.T) {
	c, _ := newTestCore(nil)
	if err := c.Shutdown(true); err != nil {
		t.Fatalf("Shutdown from standby: %v", err)
	}
	if err := c.Shutdown(true); err != nil {
		t.Fatalf("second Shutdown should be a no-op: %v", err)
	}
}

func TestSchedulerCore_ScheduleJobFiresAndCompletes(t *testing.T) {
	done := make(chan *JobExecutionContext, 1)
	factory := newFakeFactory(nil, done)
	c, _ := newTestCore(factory)

	detail := trigger.JobDetail{Key: trigger.NewJobKey("job1", "")}
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t1", ""), detail.Key, time.Now(), nil, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger: %v", err)
	}

	if _, err := c.ScheduleJob(detail, tr); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Shutdown(true)

	select {
	case execCtx := <-done:
		if execCtx.JobDetail.Key != detail.Key {
			t.Fatalf("unexpected job key in execution context: %v", execCtx.JobDetail.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job to fire")
	}
}

func TestSchedulerCore_TriggerJobFiresManually(t *testing.T) {
	done := make(chan *JobExecutionContext, 1)
	factory := newFakeFactory(nil, done)
	c, _ := newTestCore(factory)

	jobKey := trigger.NewJobKey("manual-job", "")
	if err := c.AddJob(trigger.JobDetail{Key: jobKey}, false); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Shutdown(true)

	if err := c.TriggerJob(jobKey, map[string]interface{}{"k": "v"}, false); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}

	select {
	case execCtx := <-done:
		if execCtx.MergedData["k"] != "v" {
			t.Fatalf("expected merged data to carry manual trigger data, got %v", execCtx.MergedData)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for manual trigger to fire")
	}
}

func TestSchedulerCore_PauseTriggerPreventsFiring(t *testing.T) {
	done := make(chan *JobExecutionContext, 1)
	factory := newFakeFactory(nil, done)
	c, _ := newTestCore(factory)

	detail := trigger.JobDetail{Key: trigger.NewJobKey("job2", "")}
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t2", ""), detail.Key, time.Now(), nil, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger: %v", err)
	}
	if _, err := c.ScheduleJob(detail, tr); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if err := c.PauseTrigger(tr.Key); err != nil {
		t.Fatalf("PauseTrigger: %v", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Shutdown(true)

	select {
	case <-done:
		t.Fatalf("paused trigger should not have fired")
	case <-time.After(150 * time.Millisecond):
	}

	state, err := c.GetTriggerState(tr.Key)
	if err != nil {
		t.Fatalf("GetTriggerState: %v", err)
	}
	if state != trigger.StatePaused {
		t.Fatalf("expected StatePaused, got %v", state)
	}

	if err := c.ResumeTrigger(tr.Key); err != nil {
		t.Fatalf("ResumeTrigger: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for resumed trigger to fire")
	}
}

func TestSchedulerCore_InterruptCancelsRunningExecution(t *testing.T) {
	started := make(chan struct{})
	released := make(chan struct{})
	fn := func(ctx context.Context, execCtx *JobExecutionContext) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
			return nil
		}
	}
	done := make(chan *JobExecutionContext, 1)
	factory := newFakeFactory(fn, done)
	c, _ := newTestCore(factory)

	jobKey := trigger.NewJobKey("interruptible-job", "")
	if err := c.AddJob(trigger.JobDetail{Key: jobKey}, false); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(released)
		c.Shutdown(true)
	}()

	if err := c.TriggerJob(jobKey, nil, false); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job to start")
	}

	interrupted, err := c.Interrupt(jobKey)
	if err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if !interrupted {
		t.Fatalf("expected Interrupt to find a running execution")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for interrupted execution to complete")
	}
}

func TestSchedulerCore_GetCurrentlyExecutingJobs(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	release := make(chan struct{})
	fn := func(ctx context.Context, execCtx *JobExecutionContext) error {
		wg.Done()
		<-release
		return nil
	}
	done := make(chan *JobExecutionContext, 1)
	factory := newFakeFactory(fn, done)
	c, _ := newTestCore(factory)

	jobKey := trigger.NewJobKey("inflight-job", "")
	if err := c.AddJob(trigger.JobDetail{Key: jobKey}, false); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(release)
		c.Shutdown(true)
	}()

	if err := c.TriggerJob(jobKey, nil, false); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	wg.Wait()

	executing := c.GetCurrentlyExecutingJobs()
	found := false
	for _, k := range executing {
		if k == jobKey {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %v among currently-executing jobs, got %v", jobKey, executing)
	}
}

func TestSchedulerCore_DeleteJobRemovesTriggers(t *testing.T) {
	c, reg := newTestCore(nil)
	detail := trigger.JobDetail{Key: trigger.NewJobKey("job3", "")}
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t3", ""), detail.Key, time.Now().Add(time.Hour), nil, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger: %v", err)
	}
	if _, err := c.ScheduleJob(detail, tr); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}

	removed, err := c.DeleteJob(detail.Key)
	if err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if !removed {
		t.Fatalf("expected DeleteJob to report removal")
	}
	if _, err := reg.GetJobDetail(detail.Key); err == nil {
		t.Fatalf("expected job to be gone from registry")
	}
}
