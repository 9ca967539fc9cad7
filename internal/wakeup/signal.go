// Package wakeup provides a coalescing wake-up signal the firing loop
// sleeps on between (a) its standby condition, (b) the time-to-next-fire
// sleep, interruptible by a registry-change notification, per the
// scheduler's suspension-point design. It replaces the teacher's
// channel-based EventBus with a non-blocking broadcast: callers never
// block on Notify, and the loop never misses a wake because a buffered
// channel of size 1 coalesces bursts into a single pending signal.
package wakeup

// Signal is a single-slot, non-blocking wake channel. Multiple Notify
// calls before the receiver drains collapse into one pending wake-up.
type Signal struct {
	ch chan struct{}
}

// New returns a ready-to-use Signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify schedules a wake-up, coalescing with any already-pending one.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the firing loop selects on to observe a wake-up.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
