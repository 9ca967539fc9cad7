package wakeup

import "testing"

func TestNotify_DeliversOnChannel(t *testing.T) {
	s := New()
	s.Notify()

	select {
	case <-s.C():
	default:
		t.Fatal("expected a pending wake-up after Notify")
	}
}

func TestNotify_CoalescesBursts(t *testing.T) {
	s := New()
	s.Notify()
	s.Notify()
	s.Notify()

	received := 0
	for {
		select {
		case <-s.C():
			received++
		default:
			if received != 1 {
				t.Errorf("expected exactly 1 coalesced wake-up, got %d", received)
			}
			return
		}
	}
}

func TestNotify_NeverBlocks(t *testing.T) {
	s := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Notify()
		}
		close(done)
	}()
	<-done
}
