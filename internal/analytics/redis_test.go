package analytics

import (
	"testing"
	"time"

	"github.com/djlord-it/quartzcore/internal/listener"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

func TestTruncateToBucket_OneMinuteWindow(t *testing.T) {
	ts := time.Date(2026, 8, 3, 14, 37, 52, 0, time.UTC)
	got := truncateToBucket(ts, time.Minute)
	want := "202608031437"
	if got != want {
		t.Errorf("truncateToBucket = %q, want %q", got, want)
	}
}

func TestTruncateToBucket_FiveMinuteWindow(t *testing.T) {
	ts := time.Date(2026, 8, 3, 14, 37, 52, 0, time.UTC)
	got := truncateToBucket(ts, 5*time.Minute)
	want := "2026080314" + "35"
	if got != want {
		t.Errorf("truncateToBucket = %q, want %q", got, want)
	}
}

func TestTruncateToBucket_HourWindow(t *testing.T) {
	ts := time.Date(2026, 8, 3, 14, 37, 52, 0, time.UTC)
	got := truncateToBucket(ts, time.Hour)
	want := "2026080314"
	if got != want {
		t.Errorf("truncateToBucket = %q, want %q", got, want)
	}
}

func TestBucketKey_IncludesGroupAndName(t *testing.T) {
	ts := time.Date(2026, 8, 3, 14, 37, 0, 0, time.UTC)
	key := bucketKey("reports", "nightly-export", ts, time.Minute)
	want := "quartzcore:fires:reports:nightly-export:202608031437"
	if key != want {
		t.Errorf("bucketKey = %q, want %q", key, want)
	}
}

func TestNewRedisListener_DefaultsWindowAndTTL(t *testing.T) {
	l := NewRedisListener(nil, 0, 0)
	if l.window != time.Minute {
		t.Errorf("window default = %v, want 1m", l.window)
	}
	if l.ttl != 24*time.Hour {
		t.Errorf("ttl default = %v, want 24h", l.ttl)
	}
}

func TestRedisListener_TriggerFired_NilClientIsNoop(t *testing.T) {
	l := NewRedisListener(nil, time.Minute, time.Hour)

	tr, err := trigger.NewSimpleTrigger(
		trigger.NewTriggerKey("t1", "g1"),
		trigger.NewJobKey("j1", "g1"),
		time.Now(), nil, trigger.RepeatIndefinitely, time.Minute,
	)
	if err != nil {
		t.Fatalf("NewSimpleTrigger failed: %v", err)
	}

	ctx := listener.ExecutionContext{
		Trigger:        tr,
		JobDetail:      &trigger.JobDetail{Key: trigger.NewJobKey("j1", "g1")},
		ActualFireTime: time.Now(),
	}

	// Must not panic with a nil redis client.
	l.TriggerFired(ctx)
}

func TestRedisListener_OtherHooksAreNoops(t *testing.T) {
	l := NewRedisListener(nil, time.Minute, time.Hour)

	if l.VetoJobExecution(listener.ExecutionContext{}) {
		t.Error("VetoJobExecution should always return false")
	}
	l.TriggerMisfired(nil)
	l.TriggerComplete(listener.ExecutionContext{}, listener.Result{}, trigger.InstructionNoop)
}

var _ listener.TriggerListener = (*RedisListener)(nil)
