// Package timer schedules at most one pending task per key.
package timer

import (
	"sync"
	"time"
)

// Handle identifies one scheduled task. The zero Handle is never issued.
type Handle uint64

// Scheduler runs a callback once after a delay. Scheduling under a key replaces
// any task pending under that key; a replaced or cancelled task never fires.
type Scheduler interface {
	Schedule(key string, d time.Duration, fire func(Handle)) Handle
	Cancel(key string)
}

type entry struct {
	handle Handle
	timer  *time.Timer
}

// Local is a Scheduler backed by time.AfterFunc.
type Local struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]entry
}

func NewLocal() *Local {
	return &Local{pending: make(map[string]entry)}
}

func (s *Local) Schedule(key string, d time.Duration, fire func(Handle)) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[key]; ok {
		e.timer.Stop()
	}

	s.seq++
	h := Handle(s.seq)
	// claim takes s.mu, so even a zero delay cannot run before the entry is stored.
	t := time.AfterFunc(d, func() {
		if s.claim(key, h) {
			fire(h)
		}
	})
	s.pending[key] = entry{handle: h, timer: t}
	return h
}

func (s *Local) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[key]; ok {
		e.timer.Stop()
		delete(s.pending, key)
	}
}

// Pending returns the handle waiting under key, if any.
func (s *Local) Pending(key string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[key]
	return e.handle, ok
}

// Len is the number of pending tasks across all keys.
func (s *Local) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// claim removes the entry if h is still the task pending under key.
func (s *Local) claim(key string, h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[key]
	if !ok || e.handle != h {
		return false
	}
	delete(s.pending, key)
	return true
}
