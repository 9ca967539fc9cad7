// Package jobstore implements the Registry contract: the keyed store of
// jobs, triggers and calendars that the firing loop and the public API
// depend on. RAMJobStore is the in-memory reference implementation;
// jobstore/postgres provides a durable one behind the same interface.
package jobstore

import (
	"time"

	"github.com/djlord-it/quartzcore/internal/calendar"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// Registry is the full contract described by the scheduler's job-store
// design: job/trigger CRUD, pause/resume propagation, atomic acquisition,
// and the fired/complete lifecycle callbacks.
type Registry interface {
	StoreJob(detail trigger.JobDetail, replace bool) error
	StoreTrigger(t *trigger.Trigger, replace bool) error
	RemoveJob(key trigger.JobKey) (bool, error)
	RemoveTrigger(key trigger.TriggerKey) (bool, error)
	ReplaceTrigger(key trigger.TriggerKey, newTrigger *trigger.Trigger) error

	GetJobDetail(key trigger.JobKey) (*trigger.JobDetail, error)
	GetTrigger(key trigger.TriggerKey) (*trigger.Trigger, error)
	GetTriggersOfJob(key trigger.JobKey) ([]*trigger.Trigger, error)
	GetTriggerState(key trigger.TriggerKey) (trigger.State, error)

	JobGroupNames() []string
	TriggerGroupNames() []string
	PausedTriggerGroups() []string
	GetJobNames(group string) []string
	GetTriggerNames(group string) []string

	PauseTrigger(key trigger.TriggerKey) error
	PauseTriggerGroup(group string) error
	ResumeTrigger(key trigger.TriggerKey, now time.Time) error
	ResumeTriggerGroup(group string, now time.Time) error
	PauseAll() error
	ResumeAll(now time.Time) error

	AcquireNextTriggers(noLaterThan time.Time, maxCount int) ([]*trigger.Trigger, error)
	TriggerFired(key trigger.TriggerKey, actualFireTime time.Time) (*FireResult, error)
	TriggerComplete(key trigger.TriggerKey, instr trigger.CompletionInstruction) error

	AddCalendar(name string, cal calendar.Calendar, replace, updateTriggers bool) error
	RemoveCalendar(name string) (bool, error)
	GetCalendar(name string) (calendar.Calendar, bool)
	CalendarNames() []string

	// ScanMisfires returns the keys of NORMAL triggers overdue by more than
	// threshold, transiently marking them so AcquireNextTriggers skips
	// them until ApplyMisfire (or a release) clears the mark.
	ScanMisfires(now time.Time, threshold time.Duration) ([]trigger.TriggerKey, error)
	// ApplyMisfire resolves and applies the trigger's misfire instruction,
	// clearing its transient mark.
	ApplyMisfire(key trigger.TriggerKey, now time.Time) (bool, error)

	// ReleaseStaleAcquisitions returns acquired-but-never-fired triggers
	// older than the lease threshold back to NORMAL. Used by the startup
	// recovery pass.
	ReleaseStaleAcquisitions(now time.Time, leaseThreshold time.Duration) (int, error)

	// SetTriggerState forcibly moves a trigger into the given state,
	// bypassing the normal pause/resume/block transitions. Used by the
	// job circuit breaker to force a failing job's triggers into ERROR
	// and to release them back to NORMAL once the breaker recovers.
	SetTriggerState(key trigger.TriggerKey, state trigger.State) error
}

// FireResult is returned by TriggerFired: the updated trigger snapshot and
// whether the job is now running under a serialization block (stateful).
type FireResult struct {
	Trigger *trigger.Trigger
	Blocked bool
}
