package jobstore

import (
	"sort"
	"sync"
	"time"

	"github.com/djlord-it/quartzcore/internal/calendar"
	"github.com/djlord-it/quartzcore/internal/schederr"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

type storedTrigger struct {
	t          *trigger.Trigger
	acquiredAt *time.Time
	misfiring  bool
}

// RAMJobStore is a sync.RWMutex-guarded in-memory Registry. It is the
// reference implementation the firing loop is tested against; durability
// across restarts is provided separately by jobstore/postgres.
type RAMJobStore struct {
	mu sync.RWMutex

	jobs          map[trigger.JobKey]*trigger.JobDetail
	triggers      map[trigger.TriggerKey]*storedTrigger
	triggersByJob map[trigger.JobKey]map[trigger.TriggerKey]struct{}

	pausedTriggerGroups map[string]bool
	pauseAllMarker      bool

	calendars map[string]calendar.Calendar

	// executingCount tracks in-flight executions per stateful JobKey, so
	// TriggerFired/TriggerComplete can block/unblock sibling triggers.
	executingCount map[trigger.JobKey]int

	clock func() time.Time
}

// New constructs an empty RAMJobStore. clock defaults to time.Now when nil,
// overridable in tests.
func New(clock func() time.Time) *RAMJobStore {
	if clock == nil {
		clock = time.Now
	}
	return &RAMJobStore{
		jobs:                make(map[trigger.JobKey]*trigger.JobDetail),
		triggers:            make(map[trigger.TriggerKey]*storedTrigger),
		triggersByJob:       make(map[trigger.JobKey]map[trigger.TriggerKey]struct{}),
		pausedTriggerGroups: make(map[string]bool),
		calendars:           make(map[string]calendar.Calendar),
		executingCount:      make(map[trigger.JobKey]int),
		clock:               clock,
	}
}

func (s *RAMJobStore) StoreJob(detail trigger.JobDetail, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[detail.Key]; exists && !replace {
		return &schederr.ObjectAlreadyExists{Kind: "job", Name: detail.Key.Name, Group: detail.Key.Group}
	}
	stored := detail.Clone()
	s.jobs[detail.Key] = &stored
	return nil
}

func (s *RAMJobStore) StoreTrigger(t *trigger.Trigger, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeTriggerLocked(t, replace)
}

func (s *RAMJobStore) storeTriggerLocked(t *trigger.Trigger, replace bool) error {
	if _, exists := s.jobs[t.JobKey]; !exists {
		return &schederr.ObjectNotFound{Kind: "job", Name: t.JobKey.Name, Group: t.JobKey.Group}
	}
	if _, exists := s.triggers[t.Key]; exists && !replace {
		return &schederr.ObjectAlreadyExists{Kind: "trigger", Name: t.Key.Name, Group: t.Key.Group}
	}

	clone := t.Clone()
	if clone.NextFireTime == nil {
		cal := s.calendarLocked(clone.CalendarName)
		clone.ComputeFirstFireTime(cal)
	}
	switch {
	case clone.NextFireTime == nil:
		clone.State = trigger.StateComplete
	case s.groupPausedLocked(clone.Key.Group):
		clone.State = trigger.StatePaused
	default:
		clone.State = trigger.StateNormal
	}

	s.triggers[clone.Key] = &storedTrigger{t: clone}
	if s.triggersByJob[clone.JobKey] == nil {
		s.triggersByJob[clone.JobKey] = make(map[trigger.TriggerKey]struct{})
	}
	s.triggersByJob[clone.JobKey][clone.Key] = struct{}{}
	return nil
}

func (s *RAMJobStore) groupPausedLocked(group string) bool {
	return s.pauseAllMarker || s.pausedTriggerGroups[group]
}

func (s *RAMJobStore) calendarLocked(name string) calendar.Calendar {
	if name == "" {
		return nil
	}
	return s.calendars[name]
}

func (s *RAMJobStore) RemoveJob(key trigger.JobKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[key]; !exists {
		return false, nil
	}
	for tk := range s.triggersByJob[key] {
		delete(s.triggers, tk)
	}
	delete(s.triggersByJob, key)
	delete(s.jobs, key)
	return true, nil
}

func (s *RAMJobStore) RemoveTrigger(key trigger.TriggerKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeTriggerLocked(key)
}

func (s *RAMJobStore) removeTriggerLocked(key trigger.TriggerKey) (bool, error) {
	st, exists := s.triggers[key]
	if !exists {
		return false, nil
	}
	jobKey := st.t.JobKey
	delete(s.triggers, key)
	if set, ok := s.triggersByJob[jobKey]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.triggersByJob, jobKey)
			if job, ok := s.jobs[jobKey]; ok && !job.Durable {
				delete(s.jobs, jobKey)
			}
		}
	}
	return true, nil
}

func (s *RAMJobStore) ReplaceTrigger(key trigger.TriggerKey, newTrigger *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.triggers[key]
	if !exists {
		return &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	if newTrigger.JobKey != old.t.JobKey {
		return &schederr.InvalidConfiguration{Field: "job_key", Msg: "replacement trigger must reference the same job"}
	}
	if _, err := s.removeTriggerLocked(key); err != nil {
		return err
	}
	return s.storeTriggerLocked(newTrigger, true)
}

func (s *RAMJobStore) GetJobDetail(key trigger.JobKey) (*trigger.JobDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[key]
	if !exists {
		return nil, &schederr.ObjectNotFound{Kind: "job", Name: key.Name, Group: key.Group}
	}
	clone := job.Clone()
	return &clone, nil
}

func (s *RAMJobStore) GetTrigger(key trigger.TriggerKey) (*trigger.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, exists := s.triggers[key]
	if !exists {
		return nil, &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	return st.t.Clone(), nil
}

func (s *RAMJobStore) GetTriggersOfJob(key trigger.JobKey) ([]*trigger.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*trigger.Trigger
	for tk := range s.triggersByJob[key] {
		out = append(out, s.triggers[tk].t.Clone())
	}
	return out, nil
}

func (s *RAMJobStore) GetTriggerState(key trigger.TriggerKey) (trigger.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, exists := s.triggers[key]
	if !exists {
		return trigger.StateNone, nil
	}
	return st.t.State, nil
}

func (s *RAMJobStore) JobGroupNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range s.jobs {
		if !seen[k.Group] {
			seen[k.Group] = true
			out = append(out, k.Group)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RAMJobStore) TriggerGroupNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range s.triggers {
		if !seen[k.Group] {
			seen[k.Group] = true
			out = append(out, k.Group)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RAMJobStore) PausedTriggerGroups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for g, paused := range s.pausedTriggerGroups {
		if paused {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RAMJobStore) GetJobNames(group string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.jobs {
		if k.Group == group {
			out = append(out, k.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RAMJobStore) GetTriggerNames(group string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.triggers {
		if k.Group == group {
			out = append(out, k.Name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *RAMJobStore) PauseTrigger(key trigger.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.triggers[key]
	if !exists {
		return nil
	}
	st.t.State = st.t.State.Pause()
	return nil
}

func (s *RAMJobStore) PauseTriggerGroup(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pausedTriggerGroups[group] = true
	for k, st := range s.triggers {
		if k.Group == group {
			st.t.State = st.t.State.Pause()
		}
	}
	return nil
}

func (s *RAMJobStore) ResumeTrigger(key trigger.TriggerKey, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.triggers[key]
	if !exists {
		return nil
	}
	return s.resumeStoredLocked(st, now)
}

func (s *RAMJobStore) ResumeTriggerGroup(group string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pausedTriggerGroups, group)
	for k, st := range s.triggers {
		if k.Group == group {
			if err := s.resumeStoredLocked(st, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RAMJobStore) resumeStoredLocked(st *storedTrigger, now time.Time) error {
	st.t.State = st.t.State.Resume()
	if st.t.NextFireTime != nil && st.t.NextFireTime.Before(now) {
		cal := s.calendarLocked(st.t.CalendarName)
		return st.t.UpdateAfterMisfire(now, cal)
	}
	return nil
}

func (s *RAMJobStore) PauseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseAllMarker = true
	for k, st := range s.triggers {
		s.pausedTriggerGroups[k.Group] = true
		st.t.State = st.t.State.Pause()
	}
	return nil
}

func (s *RAMJobStore) ResumeAll(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseAllMarker = false
	for g := range s.pausedTriggerGroups {
		delete(s.pausedTriggerGroups, g)
	}
	for _, st := range s.triggers {
		if err := s.resumeStoredLocked(st, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *RAMJobStore) AcquireNextTriggers(noLaterThan time.Time, maxCount int) ([]*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*storedTrigger
	for _, st := range s.triggers {
		if !st.t.State.Acquirable() || st.misfiring || st.acquiredAt != nil {
			continue
		}
		if st.t.NextFireTime == nil || st.t.NextFireTime.After(noLaterThan) {
			continue
		}
		candidates = append(candidates, st)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].t, candidates[j].t
		if !a.NextFireTime.Equal(*b.NextFireTime) {
			return a.NextFireTime.Before(*b.NextFireTime)
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Key.Group != b.Key.Group {
			return a.Key.Group < b.Key.Group
		}
		return a.Key.Name < b.Key.Name
	})

	if maxCount > 0 && len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}

	now := s.clock()
	out := make([]*trigger.Trigger, 0, len(candidates))
	for _, st := range candidates {
		acquiredAt := now
		st.acquiredAt = &acquiredAt
		out = append(out, st.t.Clone())
	}
	return out, nil
}

func (s *RAMJobStore) TriggerFired(key trigger.TriggerKey, actualFireTime time.Time) (*FireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.triggers[key]
	if !exists {
		return nil, &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	st.acquiredAt = nil

	cal := s.calendarLocked(st.t.CalendarName)
	st.t.Triggered(cal)
	if st.t.NextFireTime == nil {
		st.t.State = trigger.StateComplete
	}

	job, err := s.getJobLocked(st.t.JobKey)
	if err != nil {
		return nil, err
	}

	blocked := false
	if job.Stateful {
		s.executingCount[st.t.JobKey]++
		if st.t.State != trigger.StateComplete {
			for tk := range s.triggersByJob[st.t.JobKey] {
				if tk == key {
					continue
				}
				other := s.triggers[tk]
				other.t.State = other.t.State.Block()
			}
		}
		blocked = s.executingCount[st.t.JobKey] > 1
	}

	return &FireResult{Trigger: st.t.Clone(), Blocked: blocked}, nil
}

func (s *RAMJobStore) getJobLocked(key trigger.JobKey) (*trigger.JobDetail, error) {
	job, exists := s.jobs[key]
	if !exists {
		return nil, &schederr.ObjectNotFound{Kind: "job", Name: key.Name, Group: key.Group}
	}
	return job, nil
}

func (s *RAMJobStore) TriggerComplete(key trigger.TriggerKey, instr trigger.CompletionInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.triggers[key]
	if !exists {
		return &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}

	job, err := s.getJobLocked(st.t.JobKey)
	if err != nil {
		return err
	}
	if job.Stateful {
		if s.executingCount[st.t.JobKey] > 0 {
			s.executingCount[st.t.JobKey]--
		}
		if s.executingCount[st.t.JobKey] == 0 {
			for tk := range s.triggersByJob[st.t.JobKey] {
				other := s.triggers[tk]
				other.t.State = other.t.State.Unblock()
			}
		}
	}

	switch instr {
	case trigger.InstructionNoop:
	case trigger.InstructionReExecuteJob:
		now := s.clock()
		st.t.NextFireTime = &now
		if st.t.State == trigger.StateComplete {
			st.t.State = trigger.StateNormal
		}
	case trigger.InstructionDeleteTrigger:
		_, err := s.removeTriggerLocked(key)
		return err
	case trigger.InstructionSetTriggerComplete:
		st.t.State = trigger.StateComplete
	case trigger.InstructionSetAllJobTriggersComplete:
		for tk := range s.triggersByJob[st.t.JobKey] {
			s.triggers[tk].t.State = trigger.StateComplete
		}
	}
	return nil
}

func (s *RAMJobStore) AddCalendar(name string, cal calendar.Calendar, replace, updateTriggers bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calendars[name]; exists && !replace {
		return &schederr.ObjectAlreadyExists{Kind: "calendar", Name: name}
	}
	s.calendars[name] = cal
	if updateTriggers {
		for _, st := range s.triggers {
			if st.t.CalendarName == name {
				st.t.NextFireTime = st.t.GetNextFireTimeAfter(s.clock().Add(-time.Second), cal)
			}
		}
	}
	return nil
}

func (s *RAMJobStore) RemoveCalendar(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.triggers {
		if st.t.CalendarName == name {
			return false, &schederr.InvalidConfiguration{Field: "calendar", Msg: "calendar " + name + " is still referenced by a trigger"}
		}
	}
	if _, exists := s.calendars[name]; !exists {
		return false, nil
	}
	delete(s.calendars, name)
	return true, nil
}

func (s *RAMJobStore) GetCalendar(name string) (calendar.Calendar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cal, exists := s.calendars[name]
	return cal, exists
}

func (s *RAMJobStore) CalendarNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.calendars))
	for name := range s.calendars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *RAMJobStore) ScanMisfires(now time.Time, threshold time.Duration) ([]trigger.TriggerKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []trigger.TriggerKey
	for k, st := range s.triggers {
		if st.t.State != trigger.StateNormal || st.misfiring || st.acquiredAt != nil {
			continue
		}
		if st.t.NextFireTime == nil {
			continue
		}
		if st.t.NextFireTime.Add(threshold).Before(now) {
			st.misfiring = true
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *RAMJobStore) ApplyMisfire(key trigger.TriggerKey, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.triggers[key]
	if !exists {
		return false, nil
	}
	defer func() { st.misfiring = false }()

	if st.t.MisfireInstruction == trigger.MisfireIgnorePolicy {
		return false, nil
	}
	cal := s.calendarLocked(st.t.CalendarName)
	if err := st.t.UpdateAfterMisfire(now, cal); err != nil {
		return false, err
	}
	if st.t.NextFireTime == nil {
		st.t.State = trigger.StateComplete
	}
	return true, nil
}

func (s *RAMJobStore) SetTriggerState(key trigger.TriggerKey, state trigger.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, exists := s.triggers[key]
	if !exists {
		return &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	st.t.State = state
	return nil
}

func (s *RAMJobStore) ReleaseStaleAcquisitions(now time.Time, leaseThreshold time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, st := range s.triggers {
		if st.acquiredAt == nil {
			continue
		}
		if st.acquiredAt.Add(leaseThreshold).Before(now) {
			st.acquiredAt = nil
			released++
		}
	}
	return released, nil
}
