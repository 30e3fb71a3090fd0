// Package timers keeps named, replaceable timers. Scheduling under a name that already has a pending timer stops
// the previous one first, so at most one timer per name is ever pending.
package timers

import (
	"sync"
	"time"
)

type entry struct {
	t   *time.Timer
	gen uint64
}

// Timers is a set of named timers. The zero value is not usable; use New.
type Timers struct {
	mu      sync.Mutex
	pending map[string]entry
	gen     uint64
	stopped bool
}

// New returns an empty set of timers.
func New() *Timers {
	return &Timers{pending: make(map[string]entry)}
}

// Schedule runs fn after d under name, replacing any pending timer with the same name. It is a no-op once Stop
// has been called.
func (s *Timers) Schedule(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if e, ok := s.pending[name]; ok {
		e.t.Stop()
	}

	s.gen++
	gen := s.gen

	s.pending[name] = entry{gen: gen, t: time.AfterFunc(d, func() {
		s.mu.Lock()
		// a timer replaced after it fired but before taking the lock must not run
		e, ok := s.pending[name]
		if !ok || e.gen != gen {
			s.mu.Unlock()

			return
		}
		delete(s.pending, name)
		s.mu.Unlock()

		fn()
	})}
}

// Cancel stops the timer with name. It reports whether a timer was pending.
func (s *Timers) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[name]
	if !ok {
		return false
	}

	e.t.Stop()
	delete(s.pending, name)

	return true
}

// Pending reports whether a timer with name is waiting to fire.
func (s *Timers) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[name]

	return ok
}

// Stop cancels every pending timer and rejects further scheduling.
func (s *Timers) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.pending {
		e.t.Stop()
		delete(s.pending, name)
	}

	s.stopped = true
}
