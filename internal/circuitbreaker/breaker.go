// Package circuitbreaker guards against a job whose executions are
// irrecoverably failing: once a JobKey's consecutive failures cross a
// threshold, the firing loop is told to stop handing its triggers to the
// worker pool until a cooldown probe succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/quartzcore/internal/trigger"
)

// ErrOpen is returned by Allow when a job's circuit is open.
var ErrOpen = errors.New("circuit breaker is open for this job")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type jobState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks per-JobKey health, keyed here by JobKey instead of
// webhook URL.
type Breaker struct {
	mu        sync.Mutex
	states    map[trigger.JobKey]*jobState
	threshold int
	cooldown  time.Duration
}

// New constructs a Breaker that opens a job's circuit after `threshold`
// consecutive failures, re-probing after `cooldown`.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		states:    make(map[trigger.JobKey]*jobState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether an execution of key may proceed. A half-open
// circuit allows exactly one probe at a time.
func (b *Breaker) Allow(key trigger.JobKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.states[key]
	if !ok {
		return nil
	}
	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess closes key's circuit and resets its failure count.
func (b *Breaker) RecordSuccess(key trigger.JobKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[key]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

// RecordFailure increments key's failure count, opening its circuit once
// the threshold is reached. Tripped reports whether this call caused the
// transition into the open state.
func (b *Breaker) RecordFailure(key trigger.JobKey) (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[key]
	if !ok {
		s = &jobState{}
		b.states[key] = s
	}
	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold {
		tripped = s.state != stateOpen
		s.state = stateOpen
		s.openedAt = time.Now()
		return tripped
	}
	return false
}

// Tripped reports whether key's circuit is currently open or half-open.
func (b *Breaker) Tripped(key trigger.JobKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[key]
	return ok && s.state != stateClosed
}

// Reset clears all recorded state for key, e.g. after an operator
// manually intervenes on a job stuck in the ERROR state.
func (b *Breaker) Reset(key trigger.JobKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, key)
}
