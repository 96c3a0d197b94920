package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven Clock for tests. Every call to Now advances the
// clock by Step so consecutive rows get distinct timestamps.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewFake(start time.Time, step time.Duration) *Fake {
	return &Fake{now: start, Step: step}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.now
	f.now = f.now.Add(f.Step)
	return current
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
