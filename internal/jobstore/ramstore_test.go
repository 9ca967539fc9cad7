package jobstore

import (
	"testing"
	"time"

	"github.com/djlord-it/quartzcore/internal/schederr"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

func newStoreAt(now time.Time) *RAMJobStore {
	return New(func() time.Time { return now })
}

func mustStoreJobAndTrigger(t *testing.T, s *RAMJobStore, jobKey trigger.JobKey, trigKey trigger.TriggerKey, start time.Time, interval time.Duration) *trigger.Trigger {
	t.Helper()
	if err := s.StoreJob(trigger.JobDetail{Key: jobKey, JobClass: "noop"}, false); err != nil {
		t.Fatalf("StoreJob failed: %v", err)
	}
	tr, err := trigger.NewSimpleTrigger(trigKey, jobKey, start, nil, trigger.RepeatIndefinitely, interval)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}
	if err := s.StoreTrigger(tr, false); err != nil {
		t.Fatalf("StoreTrigger failed: %v", err)
	}
	return tr
}

func TestStoreTrigger_RejectsMissingJob(t *testing.T) {
	s := newStoreAt(time.Now())
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t1", ""), trigger.NewJobKey("missing", ""), time.Now(), nil, trigger.RepeatIndefinitely, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}
	err = s.StoreTrigger(tr, false)
	var notFound *schederr.ObjectNotFound
	if !asObjectNotFound(err, &notFound) {
		t.Fatalf("expected ObjectNotFound, got %v", err)
	}
}

func asObjectNotFound(err error, target **schederr.ObjectNotFound) bool {
	if e, ok := err.(*schederr.ObjectNotFound); ok {
		*target = e
		return true
	}
	return false
}

func TestStoreJob_DuplicateWithoutReplace_Errors(t *testing.T) {
	s := newStoreAt(time.Now())
	key := trigger.NewJobKey("j1", "")
	if err := s.StoreJob(trigger.JobDetail{Key: key}, false); err != nil {
		t.Fatalf("first StoreJob failed: %v", err)
	}
	err := s.StoreJob(trigger.JobDetail{Key: key}, false)
	if _, ok := err.(*schederr.ObjectAlreadyExists); !ok {
		t.Fatalf("expected ObjectAlreadyExists, got %v", err)
	}
}

func TestRemoveJob_RemovesAllItsTriggers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigger.NewTriggerKey("t1", ""), now, time.Minute)
	mustStoreJobAndTrigger2ndTrigger(t, s, jobKey, trigger.NewTriggerKey("t2", ""), now, time.Minute)

	found, err := s.RemoveJob(jobKey)
	if err != nil || !found {
		t.Fatalf("RemoveJob: found=%v err=%v", found, err)
	}
	if _, err := s.GetTrigger(trigger.NewTriggerKey("t1", "")); err == nil {
		t.Errorf("expected t1 to be removed along with its job")
	}
	if _, err := s.GetTrigger(trigger.NewTriggerKey("t2", "")); err == nil {
		t.Errorf("expected t2 to be removed along with its job")
	}
}

// mustStoreJobAndTrigger2ndTrigger stores a second trigger against an
// already-stored job.
func mustStoreJobAndTrigger2ndTrigger(t *testing.T, s *RAMJobStore, jobKey trigger.JobKey, trigKey trigger.TriggerKey, start time.Time, interval time.Duration) *trigger.Trigger {
	t.Helper()
	tr, err := trigger.NewSimpleTrigger(trigKey, jobKey, start, nil, trigger.RepeatIndefinitely, interval)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}
	if err := s.StoreTrigger(tr, false); err != nil {
		t.Fatalf("StoreTrigger failed: %v", err)
	}
	return tr
}

func TestRemoveTrigger_RemovesOrphanedNonDurableJob(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Minute)

	found, err := s.RemoveTrigger(trigKey)
	if err != nil || !found {
		t.Fatalf("RemoveTrigger: found=%v err=%v", found, err)
	}
	if _, err := s.GetJobDetail(jobKey); err == nil {
		t.Errorf("expected orphaned non-durable job to be removed")
	}
}

func TestRemoveTrigger_KeepsDurableJob(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	if err := s.StoreJob(trigger.JobDetail{Key: jobKey, Durable: true}, false); err != nil {
		t.Fatalf("StoreJob failed: %v", err)
	}
	tr, err := trigger.NewSimpleTrigger(trigKey, jobKey, now, nil, trigger.RepeatIndefinitely, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}
	if err := s.StoreTrigger(tr, false); err != nil {
		t.Fatalf("StoreTrigger failed: %v", err)
	}

	if _, err := s.RemoveTrigger(trigKey); err != nil {
		t.Fatalf("RemoveTrigger failed: %v", err)
	}
	if _, err := s.GetJobDetail(jobKey); err != nil {
		t.Errorf("expected durable job to survive its last trigger's removal: %v", err)
	}
}

func TestReplaceTrigger_RejectsDifferentJobKey(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	otherJobKey := trigger.NewJobKey("j2", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Minute)
	if err := s.StoreJob(trigger.JobDetail{Key: otherJobKey}, false); err != nil {
		t.Fatalf("StoreJob failed: %v", err)
	}

	replacement, err := trigger.NewSimpleTrigger(trigKey, otherJobKey, now, nil, trigger.RepeatIndefinitely, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}
	if err := s.ReplaceTrigger(trigKey, replacement); err == nil {
		t.Errorf("expected error replacing a trigger with a different job key")
	}
}

func TestGetTriggerState_AbsentIsNone(t *testing.T) {
	s := newStoreAt(time.Now())
	state, err := s.GetTriggerState(trigger.NewTriggerKey("ghost", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != trigger.StateNone {
		t.Errorf("expected NONE for an absent trigger, got %v", state)
	}
}

func TestPauseGroup_AffectsFutureInsertions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	if err := s.PauseTriggerGroup("g1"); err != nil {
		t.Fatalf("PauseTriggerGroup failed: %v", err)
	}

	jobKey := trigger.NewJobKey("j1", "g1")
	trigKey := trigger.NewTriggerKey("t1", "g1")
	if err := s.StoreJob(trigger.JobDetail{Key: jobKey}, false); err != nil {
		t.Fatalf("StoreJob failed: %v", err)
	}
	tr, err := trigger.NewSimpleTrigger(trigKey, jobKey, now, nil, trigger.RepeatIndefinitely, time.Minute)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}
	if err := s.StoreTrigger(tr, false); err != nil {
		t.Fatalf("StoreTrigger failed: %v", err)
	}

	state, _ := s.GetTriggerState(trigKey)
	if state != trigger.StatePaused {
		t.Errorf("expected a trigger inserted into a paused group to start PAUSED, got %v", state)
	}
}

// Property 4: for every paused group g, every trigger currently in g has
// state PAUSED or PAUSED_BLOCKED.
func TestPauseGroup_AllMembersBecomePaused(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "g1")
	mustStoreJobAndTrigger(t, s, jobKey, trigger.NewTriggerKey("t1", "g1"), now, time.Minute)
	mustStoreJobAndTrigger2ndTrigger(t, s, jobKey, trigger.NewTriggerKey("t2", "g1"), now, time.Minute)

	if err := s.PauseTriggerGroup("g1"); err != nil {
		t.Fatalf("PauseTriggerGroup failed: %v", err)
	}
	for _, name := range []string{"t1", "t2"} {
		state, _ := s.GetTriggerState(trigger.NewTriggerKey(name, "g1"))
		if !state.Paused() {
			t.Errorf("trigger %s: expected a paused state, got %v", name, state)
		}
	}
}

// Property 5: resume_all ∘ pause_all is equivalent to identity modulo
// misfire rewrites.
func TestPauseAll_ThenResumeAll_RestoresNormal(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Minute)

	if err := s.PauseAll(); err != nil {
		t.Fatalf("PauseAll failed: %v", err)
	}
	state, _ := s.GetTriggerState(trigKey)
	if state != trigger.StatePaused {
		t.Fatalf("expected PAUSED after PauseAll, got %v", state)
	}

	if err := s.ResumeAll(now); err != nil {
		t.Fatalf("ResumeAll failed: %v", err)
	}
	state, _ = s.GetTriggerState(trigKey)
	if state != trigger.StateNormal {
		t.Errorf("expected NORMAL after ResumeAll, got %v", state)
	}
	if len(s.PausedTriggerGroups()) != 0 {
		t.Errorf("expected no paused groups after ResumeAll")
	}
}

func TestAcquireNextTriggers_OrdersByFireTimeThenPriorityThenKey(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	if err := s.StoreJob(trigger.JobDetail{Key: jobKey}, false); err != nil {
		t.Fatalf("StoreJob failed: %v", err)
	}

	// Two triggers firing at the same instant; "b" has higher priority.
	fireAt := now.Add(time.Minute)
	a, _ := trigger.NewSimpleTrigger(trigger.NewTriggerKey("a", ""), jobKey, fireAt, nil, 0, 0)
	b, _ := trigger.NewSimpleTrigger(trigger.NewTriggerKey("b", ""), jobKey, fireAt, nil, 0, 0)
	b.Priority = 10
	if err := s.StoreTrigger(a, false); err != nil {
		t.Fatalf("StoreTrigger a failed: %v", err)
	}
	if err := s.StoreTrigger(b, false); err != nil {
		t.Fatalf("StoreTrigger b failed: %v", err)
	}

	acquired, err := s.AcquireNextTriggers(now.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("AcquireNextTriggers failed: %v", err)
	}
	if len(acquired) != 2 {
		t.Fatalf("expected 2 acquired triggers, got %d", len(acquired))
	}
	if acquired[0].Key.Name != "b" {
		t.Errorf("expected higher-priority trigger first, got %q", acquired[0].Key.Name)
	}
}

func TestAcquireNextTriggers_DoesNotReacquireAlreadyAcquired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Minute)

	first, err := s.AcquireNextTriggers(now.Add(time.Minute), 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("first acquisition: got %d triggers, err=%v", len(first), err)
	}
	second, err := s.AcquireNextTriggers(now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("second acquisition failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected the already-acquired trigger to be invisible to a second acquirer, got %d", len(second))
	}
}

func TestTriggerFired_StatefulJobBlocksSiblingTriggers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	if err := s.StoreJob(trigger.JobDetail{Key: jobKey, Stateful: true}, false); err != nil {
		t.Fatalf("StoreJob failed: %v", err)
	}
	t1, _ := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t1", ""), jobKey, now, nil, trigger.RepeatIndefinitely, time.Second)
	t2, _ := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t2", ""), jobKey, now, nil, trigger.RepeatIndefinitely, time.Second)
	if err := s.StoreTrigger(t1, false); err != nil {
		t.Fatalf("StoreTrigger t1 failed: %v", err)
	}
	if err := s.StoreTrigger(t2, false); err != nil {
		t.Fatalf("StoreTrigger t2 failed: %v", err)
	}

	if _, err := s.TriggerFired(trigger.NewTriggerKey("t1", ""), now); err != nil {
		t.Fatalf("TriggerFired failed: %v", err)
	}

	state, _ := s.GetTriggerState(trigger.NewTriggerKey("t2", ""))
	if state != trigger.StateBlocked {
		t.Errorf("expected sibling trigger of a stateful job to be BLOCKED, got %v", state)
	}

	if err := s.TriggerComplete(trigger.NewTriggerKey("t1", ""), trigger.InstructionNoop); err != nil {
		t.Fatalf("TriggerComplete failed: %v", err)
	}
	state, _ = s.GetTriggerState(trigger.NewTriggerKey("t2", ""))
	if state != trigger.StateNormal {
		t.Errorf("expected sibling trigger to unblock after job completion, got %v", state)
	}
}

func TestTriggerComplete_DeleteTriggerInstruction(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Second)

	if _, err := s.TriggerFired(trigKey, now); err != nil {
		t.Fatalf("TriggerFired failed: %v", err)
	}
	if err := s.TriggerComplete(trigKey, trigger.InstructionDeleteTrigger); err != nil {
		t.Fatalf("TriggerComplete failed: %v", err)
	}
	if _, err := s.GetTrigger(trigKey); err == nil {
		t.Errorf("expected trigger to be removed by DELETE_TRIGGER instruction")
	}
}

func TestScanMisfires_ThenApply(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(start)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, start, 5*time.Minute)

	now := start.Add(2 * time.Hour)
	overdue, err := s.ScanMisfires(now, 60*time.Second)
	if err != nil {
		t.Fatalf("ScanMisfires failed: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("expected 1 overdue trigger, got %d", len(overdue))
	}

	// A misfiring trigger must be invisible to acquisition until resolved.
	acquired, err := s.AcquireNextTriggers(now, 10)
	if err != nil {
		t.Fatalf("AcquireNextTriggers failed: %v", err)
	}
	if len(acquired) != 0 {
		t.Errorf("expected misfiring trigger to be excluded from acquisition, got %d", len(acquired))
	}

	applied, err := s.ApplyMisfire(trigKey, now)
	if err != nil || !applied {
		t.Fatalf("ApplyMisfire: applied=%v err=%v", applied, err)
	}

	stored, err := s.GetTrigger(trigKey)
	if err != nil {
		t.Fatalf("GetTrigger failed: %v", err)
	}
	if stored.NextFireTime == nil || !stored.NextFireTime.After(now) {
		t.Errorf("expected next_fire_time strictly after now post-misfire, got %v", stored.NextFireTime)
	}
}

func TestReleaseStaleAcquisitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Minute)

	if _, err := s.AcquireNextTriggers(now.Add(time.Minute), 10); err != nil {
		t.Fatalf("AcquireNextTriggers failed: %v", err)
	}

	released, err := s.ReleaseStaleAcquisitions(now.Add(time.Hour), 5*time.Minute)
	if err != nil {
		t.Fatalf("ReleaseStaleAcquisitions failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released acquisition, got %d", released)
	}

	acquired, err := s.AcquireNextTriggers(now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("AcquireNextTriggers failed: %v", err)
	}
	if len(acquired) != 1 {
		t.Errorf("expected the released trigger to be re-acquirable, got %d", len(acquired))
	}
}

func TestSetTriggerState_ForcesErrorAndBack(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStoreAt(now)
	jobKey := trigger.NewJobKey("j1", "")
	trigKey := trigger.NewTriggerKey("t1", "")
	mustStoreJobAndTrigger(t, s, jobKey, trigKey, now, time.Minute)

	if err := s.SetTriggerState(trigKey, trigger.StateError); err != nil {
		t.Fatalf("SetTriggerState(ERROR) failed: %v", err)
	}
	state, err := s.GetTriggerState(trigKey)
	if err != nil {
		t.Fatalf("GetTriggerState failed: %v", err)
	}
	if state != trigger.StateError {
		t.Errorf("state = %v, want ERROR", state)
	}

	if err := s.SetTriggerState(trigKey, trigger.StateNormal); err != nil {
		t.Fatalf("SetTriggerState(NORMAL) failed: %v", err)
	}
	state, err = s.GetTriggerState(trigKey)
	if err != nil {
		t.Fatalf("GetTriggerState failed: %v", err)
	}
	if state != trigger.StateNormal {
		t.Errorf("state = %v, want NORMAL", state)
	}
}

func TestSetTriggerState_UnknownKeyErrors(t *testing.T) {
	s := newStoreAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	err := s.SetTriggerState(trigger.NewTriggerKey("absent", ""), trigger.StateError)
	var notFound *schederr.ObjectNotFound
	if !asObjectNotFound(err, &notFound) {
		t.Fatalf("expected ObjectNotFound, got %v", err)
	}
}
