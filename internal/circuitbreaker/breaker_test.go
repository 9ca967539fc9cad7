package circuitbreaker

import (
	"testing"
	"time"

	"github.com/djlord-it/quartzcore/internal/trigger"
)

func TestAllow_UnknownJob_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	if err := cb.Allow(trigger.NewJobKey("j1", "")); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	key := trigger.NewJobKey("j1", "")
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb := New(3, 5*time.Second)
	key := trigger.NewJobKey("j1", "")
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	tripped := cb.RecordFailure(key)
	if !tripped {
		t.Errorf("expected the threshold-crossing failure to report tripped=true")
	}
	if err := cb.Allow(key); err == nil {
		t.Fatal("expected ErrOpen, got nil")
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	key := trigger.NewJobKey("j1", "")
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	time.Sleep(15 * time.Millisecond)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow(key); err == nil {
		t.Fatal("expected ErrOpen while a half-open probe is in flight")
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	key := trigger.NewJobKey("j1", "")
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	time.Sleep(15 * time.Millisecond)
	cb.Allow(key)
	cb.RecordSuccess(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
	if cb.Tripped(key) {
		t.Errorf("expected Tripped to report false after RecordSuccess")
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb := New(3, 10*time.Millisecond)
	key := trigger.NewJobKey("j1", "")
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	time.Sleep(15 * time.Millisecond)
	cb.Allow(key)
	cb.RecordFailure(key)
	if err := cb.Allow(key); err == nil {
		t.Fatal("expected ErrOpen after a failed half-open probe re-opens the circuit")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb := New(3, 5*time.Second)
	key := trigger.NewJobKey("j1", "")
	cb.RecordSuccess(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentJobs(t *testing.T) {
	cb := New(2, 5*time.Second)
	j1 := trigger.NewJobKey("j1", "")
	j2 := trigger.NewJobKey("j2", "")
	cb.RecordFailure(j1)
	cb.RecordFailure(j1)
	if err := cb.Allow(j1); err == nil {
		t.Fatal("expected j1 open")
	}
	if err := cb.Allow(j2); err != nil {
		t.Fatalf("expected j2 allowed, got %v", err)
	}
}

func TestReset_ClearsRecordedState(t *testing.T) {
	cb := New(2, 5*time.Second)
	key := trigger.NewJobKey("j1", "")
	cb.RecordFailure(key)
	cb.RecordFailure(key)
	if err := cb.Allow(key); err == nil {
		t.Fatal("expected circuit to be open before Reset")
	}
	cb.Reset(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil after Reset, got %v", err)
	}
}
