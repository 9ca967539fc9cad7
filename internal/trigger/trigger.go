package trigger

import (
	"time"

	"github.com/djlord-it/quartzcore/internal/calendar"
	"github.com/djlord-it/quartzcore/internal/cronexpr"
	"github.com/djlord-it/quartzcore/internal/schederr"
)

// Kind discriminates the two trigger variants this package supports. A
// Trigger carries exactly one of SimpleSpec or CronSpec, selected by Kind —
// a tagged sum instead of an interface hierarchy, so dispatch is an
// exhaustive switch rather than virtual calls.
type Kind int

const (
	KindSimple Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindCron {
		return "CRON"
	}
	return "SIMPLE"
}

// RepeatIndefinitely marks a SimpleTrigger that repeats forever (bounded
// only by an optional end time).
const RepeatIndefinitely = -1

// SimpleSpec carries SimpleTrigger-specific state.
type SimpleSpec struct {
	RepeatCount    int // 0..N, or RepeatIndefinitely
	RepeatInterval time.Duration

	timesTriggered int
}

// CronSpec carries CronTrigger-specific state. The zone is kept alongside
// the parsed expression rather than folded into it, so the same parsed
// expression is never implicitly re-interpreted in a different zone.
type CronSpec struct {
	Expression     *cronexpr.CronExpression
	ExpressionText string
	Location       *time.Location
}

// Trigger is the shared-header-plus-variant representation described in
// the design notes: identity, scheduling window, and firing-state live in
// the common fields; Simple/Cron hold the variant-specific configuration
// selected by Kind.
type Trigger struct {
	Key    TriggerKey
	JobKey JobKey

	StartTime        time.Time
	EndTime          *time.Time
	PreviousFireTime *time.Time
	NextFireTime     *time.Time

	MisfireInstruction MisfireInstruction
	State              State
	Priority           int

	// CalendarName optionally references a registered Calendar that
	// excludes instants from this trigger's fire sequence.
	CalendarName string

	// Volatile is not persisted by the Postgres store and is not read by
	// any store; volatile and non-volatile triggers are stored and fired
	// identically.
	Volatile bool

	Kind   Kind
	Simple SimpleSpec
	Cron   CronSpec

	Data map[string]interface{}
}

const maxCalendarIterations = 1000

// NewSimpleTrigger constructs a validated SimpleTrigger. endTime may be
// nil for an unbounded schedule.
func NewSimpleTrigger(key TriggerKey, jobKey JobKey, startTime time.Time, endTime *time.Time, repeatCount int, repeatInterval time.Duration) (*Trigger, error) {
	t := &Trigger{
		Key:                normalizeTriggerKey(key),
		JobKey:             normalizeJobKey(jobKey),
		StartTime:          startTime,
		EndTime:            endTime,
		MisfireInstruction: MisfireSmartPolicy,
		State:              StateNone,
		Kind:               KindSimple,
		Simple:             SimpleSpec{RepeatCount: repeatCount, RepeatInterval: repeatInterval},
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewCronTrigger constructs a validated CronTrigger, parsing expression
// immediately so malformed cron strings surface at construction time
// rather than at fire time.
func NewCronTrigger(key TriggerKey, jobKey JobKey, startTime time.Time, endTime *time.Time, expression string, loc *time.Location) (*Trigger, error) {
	if loc == nil {
		loc = time.UTC
	}
	ce, err := cronexpr.Parse(expression)
	if err != nil {
		return nil, &schederr.InvalidConfiguration{Field: "cron_expression", Msg: err.Error()}
	}
	t := &Trigger{
		Key:                normalizeTriggerKey(key),
		JobKey:             normalizeJobKey(jobKey),
		StartTime:          startTime,
		EndTime:            endTime,
		MisfireInstruction: MisfireSmartPolicy,
		State:              StateNone,
		Kind:               KindCron,
		Cron:               CronSpec{Expression: ce, ExpressionText: expression, Location: loc},
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func normalizeTriggerKey(k TriggerKey) TriggerKey {
	return NewTriggerKey(k.Name, k.Group)
}

func normalizeJobKey(k JobKey) JobKey {
	return NewJobKey(k.Name, k.Group)
}

// Validate checks the invariants every stored trigger must hold.
func (t *Trigger) Validate() error {
	if t.Key.Name == "" {
		return &schederr.InvalidConfiguration{Field: "name", Msg: "must not be empty"}
	}
	if t.EndTime != nil && t.EndTime.Before(t.StartTime) {
		return &schederr.InvalidConfiguration{Field: "end_time", Msg: "must not precede start_time"}
	}
	if !validMisfireInstruction(t.Kind, t.MisfireInstruction) {
		return &schederr.InvalidConfiguration{Field: "misfire_instruction", Msg: "not valid for trigger kind " + t.Kind.String()}
	}
	switch t.Kind {
	case KindSimple:
		if t.Simple.RepeatCount < 0 && t.Simple.RepeatCount != RepeatIndefinitely {
			return &schederr.InvalidConfiguration{Field: "repeat_count", Msg: "must be >= 0 or RepeatIndefinitely"}
		}
		if t.Simple.RepeatCount != 0 && t.Simple.RepeatInterval <= 0 {
			return &schederr.InvalidConfiguration{Field: "repeat_interval", Msg: "must be positive unless repeat_count is 0"}
		}
	case KindCron:
		if t.Cron.Expression == nil {
			return &schederr.InvalidConfiguration{Field: "cron_expression", Msg: "not parsed"}
		}
	}
	return nil
}

// Clone returns a deep copy suitable for handing to clients, listeners,
// and the firing loop as an immutable snapshot.
func (t *Trigger) Clone() *Trigger {
	c := *t
	if t.EndTime != nil {
		e := *t.EndTime
		c.EndTime = &e
	}
	if t.PreviousFireTime != nil {
		p := *t.PreviousFireTime
		c.PreviousFireTime = &p
	}
	if t.NextFireTime != nil {
		n := *t.NextFireTime
		c.NextFireTime = &n
	}
	if t.Data != nil {
		c.Data = make(map[string]interface{}, len(t.Data))
		for k, v := range t.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// ComputeFirstFireTime sets and returns the first fire time at or after
// StartTime, honoring cal (which may be nil). It is called once, when a
// trigger is first stored.
func (t *Trigger) ComputeFirstFireTime(cal calendar.Calendar) *time.Time {
	first := t.GetNextFireTimeAfter(t.StartTime.Add(-time.Second), cal)
	t.NextFireTime = first
	return first
}

// GetNextFireTimeAfter returns the smallest fire time strictly after
// `after` that is not excluded by cal, or nil if the trigger will never
// fire again (recurrence exhausted, or past EndTime).
func (t *Trigger) GetNextFireTimeAfter(after time.Time, cal calendar.Calendar) *time.Time {
	candidate := t.nextCandidate(after)
	if cal == nil {
		return candidate
	}
	for i := 0; candidate != nil && !cal.IsTimeIncluded(*candidate) && i < maxCalendarIterations; i++ {
		candidate = t.nextCandidate(*candidate)
	}
	return candidate
}

func (t *Trigger) nextCandidate(after time.Time) *time.Time {
	switch t.Kind {
	case KindSimple:
		return t.nextSimpleFireTime(after)
	case KindCron:
		return t.nextCronFireTime(after)
	default:
		return nil
	}
}

func (t *Trigger) nextSimpleFireTime(after time.Time) *time.Time {
	s := t.Simple
	if after.Before(t.StartTime) {
		first := t.StartTime
		return t.clampEnd(&first)
	}
	if s.RepeatCount == 0 {
		return nil
	}
	if s.RepeatInterval <= 0 {
		return nil
	}
	elapsed := after.Sub(t.StartTime)
	n := int64(elapsed / s.RepeatInterval)
	if s.RepeatCount != RepeatIndefinitely && n >= int64(s.RepeatCount) {
		return nil
	}
	next := t.StartTime.Add(time.Duration(n+1) * s.RepeatInterval)
	return t.clampEnd(&next)
}

func (t *Trigger) nextCronFireTime(after time.Time) *time.Time {
	next, ok := t.Cron.Expression.Next(after, t.Cron.Location)
	if !ok {
		return nil
	}
	return t.clampEnd(&next)
}

func (t *Trigger) clampEnd(ft *time.Time) *time.Time {
	if t.EndTime != nil && ft.After(*t.EndTime) {
		return nil
	}
	return ft
}

// Triggered is called by the registry's trigger_fired step: it records
// the fire that just happened and computes the next one.
func (t *Trigger) Triggered(cal calendar.Calendar) {
	if t.Kind == KindSimple {
		t.Simple.timesTriggered++
	}
	fired := t.NextFireTime
	t.PreviousFireTime = fired
	if fired != nil {
		t.NextFireTime = t.GetNextFireTimeAfter(*fired, cal)
	} else {
		t.NextFireTime = nil
	}
}

// TimesTriggered reports how many times a SimpleTrigger has fired so far.
// Always 0 for a CronTrigger.
func (t *Trigger) TimesTriggered() int {
	return t.Simple.timesTriggered
}

// MayFireAgain reports whether this trigger has a future fire time.
func (t *Trigger) MayFireAgain() bool {
	return t.NextFireTime != nil
}

const maxFinalFireIterations = 100000

// FinalFireTime returns the last instant this trigger will ever fire, or
// nil if it fires indefinitely. For a bounded-end CronTrigger this walks
// forward from StartTime keeping the last match at or before EndTime — a
// documented upgrade over leaving it unimplemented, per the design note on
// get_time_before.
func (t *Trigger) FinalFireTime() *time.Time {
	switch t.Kind {
	case KindSimple:
		return t.finalSimpleFireTime()
	case KindCron:
		return t.finalCronFireTime()
	default:
		return nil
	}
}

func (t *Trigger) finalSimpleFireTime() *time.Time {
	if t.Simple.RepeatCount == RepeatIndefinitely && t.EndTime == nil {
		return nil
	}
	var n int64
	if t.Simple.RepeatCount != RepeatIndefinitely {
		n = int64(t.Simple.RepeatCount)
	}
	if t.EndTime != nil && t.Simple.RepeatInterval > 0 {
		byEnd := int64(t.EndTime.Sub(t.StartTime) / t.Simple.RepeatInterval)
		if byEnd < 0 {
			byEnd = 0
		}
		if t.Simple.RepeatCount == RepeatIndefinitely || byEnd < n {
			n = byEnd
		}
	}
	last := t.StartTime.Add(time.Duration(n) * t.Simple.RepeatInterval)
	if t.EndTime != nil && last.After(*t.EndTime) {
		last = last.Add(-t.Simple.RepeatInterval)
	}
	return &last
}

func (t *Trigger) finalCronFireTime() *time.Time {
	if t.EndTime == nil {
		return nil
	}
	cur := t.StartTime.Add(-time.Second)
	var last *time.Time
	for i := 0; i < maxFinalFireIterations; i++ {
		next, ok := t.Cron.Expression.Next(cur, t.Cron.Location)
		if !ok || next.After(*t.EndTime) {
			break
		}
		nv := next
		last = &nv
		cur = next
	}
	return last
}

// UpdateAfterMisfire rewrites NextFireTime (and, for count-bearing simple
// triggers, RepeatCount) according to the resolved misfire instruction.
func (t *Trigger) UpdateAfterMisfire(now time.Time, cal calendar.Calendar) error {
	instr := t.resolvedMisfireInstruction()
	switch instr {
	case MisfireIgnorePolicy:
		return nil
	case MisfireFireNow, MisfireFireOnceNow:
		fireNow := now
		t.NextFireTime = &fireNow
		return nil
	case MisfireRescheduleNowWithExistingCount:
		fireNow := now
		t.NextFireTime = &fireNow
		return nil
	case MisfireDoNothing:
		t.NextFireTime = t.GetNextFireTimeAfter(now, cal)
		return nil
	case MisfireRescheduleNextWithExistingCount, MisfireRescheduleNextWithRemainingCount:
		skipped := t.advancePastMissed(now, cal)
		if instr == MisfireRescheduleNextWithRemainingCount && t.Kind == KindSimple && t.Simple.RepeatCount != RepeatIndefinitely {
			t.Simple.RepeatCount -= skipped
			if t.Simple.RepeatCount < 0 {
				t.Simple.RepeatCount = 0
			}
		}
		return nil
	default:
		return &schederr.InvalidConfiguration{Field: "misfire_instruction", Msg: "unsupported instruction " + instr.String()}
	}
}

// advancePastMissed walks NextFireTime forward past every fire that has
// already passed `now`, returning the count skipped.
func (t *Trigger) advancePastMissed(now time.Time, cal calendar.Calendar) int {
	skipped := 0
	cur := t.NextFireTime
	for cur != nil && !cur.After(now) {
		skipped++
		cur = t.GetNextFireTimeAfter(*cur, cal)
	}
	t.NextFireTime = cur
	return skipped
}
