// Package schederr defines the scheduler-wide error taxonomy. Every
// client-facing operation on the CORE returns one of these kinds (never a
// bare error from an internal collaborator) so callers can type-switch on
// cause instead of parsing messages.
package schederr

import "fmt"

// ObjectAlreadyExists is returned by keyed insertion operations when the
// key exists and the caller did not ask for replacement.
type ObjectAlreadyExists struct {
	Kind string // "job" or "trigger" or "calendar"
	Name string
	Group string
}

func (e *ObjectAlreadyExists) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("%s %s.%s already exists", e.Kind, e.Group, e.Name)
	}
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Name)
}

// ObjectNotFound is returned when a referenced key is absent.
type ObjectNotFound struct {
	Kind  string
	Name  string
	Group string
}

func (e *ObjectNotFound) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("%s %s.%s not found", e.Kind, e.Group, e.Name)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// JobPersistenceError wraps a failure from the persistence layer.
type JobPersistenceError struct {
	Op  string
	Err error
}

func (e *JobPersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *JobPersistenceError) Unwrap() error { return e.Err }

// TriggerDoesNotFire is returned when a trigger's recurrence yields no
// future fire time at validation time (e.g. a cron expression whose year
// set is already exhausted, or a simple trigger whose end time precedes
// its first fire).
type TriggerDoesNotFire struct {
	Group string
	Name  string
	Cause string
}

func (e *TriggerDoesNotFire) Error() string {
	return fmt.Sprintf("trigger %s.%s will never fire: %s", e.Group, e.Name, e.Cause)
}

// InvalidConfiguration is returned on validation failure of trigger
// fields or a malformed cron expression.
type InvalidConfiguration struct {
	Field string
	Msg   string
}

func (e *InvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Msg)
}

// UnableToInterruptJob describes an interrupt request that could not be
// carried out for a job. SchedulerCore.Interrupt does not return it.
type UnableToInterruptJob struct {
	Group string
	Name  string
	Cause string
}

func (e *UnableToInterruptJob) Error() string {
	return fmt.Sprintf("unable to interrupt job %s.%s: %s", e.Group, e.Name, e.Cause)
}

// SchedulerStateError is returned when an operation requires the
// scheduler to be in a particular lifecycle state and it is not.
type SchedulerStateError struct {
	Op       string
	Expected string
	Actual   string
}

func (e *SchedulerStateError) Error() string {
	return fmt.Sprintf("%s requires scheduler to be %s, but it is %s", e.Op, e.Expected, e.Actual)
}
