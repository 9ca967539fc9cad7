// Package trigger holds the job/trigger identity types, the trigger state
// machine, misfire instruction handling, and the Trigger type itself — a
// tagged sum over SimpleTrigger and CronTrigger semantics rather than an
// interface hierarchy, per the scheduler's no-inheritance design note.
package trigger

import "fmt"

// DefaultGroup is used whenever a caller omits a group name.
const DefaultGroup = "DEFAULT"

// Reserved group names for internally-generated triggers. Clients must not
// use them directly.
const (
	GroupManualTrigger  = "MANUAL_TRIGGER"
	GroupRecoveringJobs = "RECOVERING_JOBS"
	GroupFailedOverJobs = "FAILED_OVER_JOBS"
)

// JobKey identifies a stored job by (name, group). Both fields are
// non-empty after normalization; Group defaults to DefaultGroup.
type JobKey struct {
	Name  string
	Group string
}

// NewJobKey returns a JobKey with group defaulted when empty.
func NewJobKey(name, group string) JobKey {
	if group == "" {
		group = DefaultGroup
	}
	return JobKey{Name: name, Group: group}
}

func (k JobKey) String() string { return fmt.Sprintf("%s.%s", k.Group, k.Name) }

// TriggerKey identifies a stored trigger by (name, group).
type TriggerKey struct {
	Name  string
	Group string
}

// NewTriggerKey returns a TriggerKey with group defaulted when empty.
func NewTriggerKey(name, group string) TriggerKey {
	if group == "" {
		group = DefaultGroup
	}
	return TriggerKey{Name: name, Group: group}
}

func (k TriggerKey) String() string { return fmt.Sprintf("%s.%s", k.Group, k.Name) }

// JobDetail describes a stored job: its identity, the opaque class a
// JobFactory resolves at execution time, its lifecycle flags, and an
// arbitrary data map the job implementation consults.
type JobDetail struct {
	Key JobKey

	// JobClass is an opaque identifier a JobFactory uses to construct the
	// runnable job instance. The registry never holds live job code.
	JobClass string

	// Durable jobs persist even when no trigger references them.
	Durable bool
	// Stateful jobs forbid concurrent executions of the same JobKey.
	Stateful bool
	// Volatile is stored by the Postgres store (scheduler_jobs.volatile);
	// no store skips or removes a job because of it.
	Volatile bool

	Data map[string]interface{}
}

// Clone returns a deep copy, safe to hand to callers as an immutable
// snapshot.
func (d JobDetail) Clone() JobDetail {
	c := d
	if d.Data != nil {
		c.Data = make(map[string]interface{}, len(d.Data))
		for k, v := range d.Data {
			c.Data[k] = v
		}
	}
	return c
}
