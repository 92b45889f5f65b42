// Package stats records named timing intervals relative to one process-local epoch.
package stats

import (
	"sync"
	"time"
)

// Sink is the timing surface handed to job code.
type Sink interface {
	TimeStart(name string)
	TimeEnd(name string)
}

// Timer is one completed interval, in seconds since the owning epoch.
type Timer struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Elapsed float64 `json:"elapsed"`
}

// Snapshot is the serialisable view of a Stats value.
type Snapshot struct {
	Epoch  time.Time        `json:"epoch"`
	Timers map[string]Timer `json:"timers"`
}

// Stats collects intervals. The zero value is not usable; call New.
type Stats struct {
	now   func() time.Time
	epoch time.Time

	mu      sync.Mutex
	timers  map[string]Timer
	running map[string]time.Time
}

// New captures the epoch every interval is measured against.
func New() *Stats {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Stats {
	return &Stats{
		now:     now,
		epoch:   now(),
		timers:  make(map[string]Timer),
		running: make(map[string]time.Time),
	}
}

// Epoch returns the instant all offsets are relative to.
func (s *Stats) Epoch() time.Time {
	return s.epoch
}

// Offset returns seconds elapsed since the epoch.
func (s *Stats) Offset() float64 {
	return s.now().Sub(s.epoch).Seconds()
}

// TimeStart opens (or restarts) the named interval.
func (s *Stats) TimeStart(name string) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = start
}

// TimeEnd closes the named interval. Ending a timer that was never started is a no-op.
func (s *Stats) TimeEnd(name string) {
	end := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.running[name]
	if !ok {
		return
	}
	delete(s.running, name)

	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	startOffset := start.Sub(s.epoch).Seconds()
	s.timers[name] = Timer{
		Start:   startOffset,
		End:     startOffset + elapsed.Seconds(),
		Elapsed: elapsed.Seconds(),
	}
}

// Time records fn's execution as the named interval, even when fn fails.
func (s *Stats) Time(name string, fn func() error) error {
	s.TimeStart(name)
	defer s.TimeEnd(name)
	return fn()
}

// Record stores an interval measured elsewhere, in epoch-relative seconds.
// An end before start is clamped so elapsed stays non-negative.
func (s *Stats) Record(name string, start, end float64) {
	if end < start {
		end = start
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[name] = Timer{Start: start, End: end, Elapsed: end - start}
}

// Elapsed returns the duration of a completed interval.
func (s *Stats) Elapsed(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[name]
	if !ok {
		return 0, false
	}
	return time.Duration(timer.Elapsed * float64(time.Second)), true
}

// Snapshot copies the completed intervals. Running intervals are omitted.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	timers := make(map[string]Timer, len(s.timers))
	for name, timer := range s.timers {
		timers[name] = timer
	}
	return Snapshot{Epoch: s.epoch, Timers: timers}
}
