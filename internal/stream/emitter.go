// Package stream coalesces rapid text fragments into frame-paced deliveries.
package stream

import (
	"strings"
	"sync"
	"time"
)

// Scheduler runs fn once at the next frame opportunity.
type Scheduler interface {
	Schedule(fn func())
}

// FrameScheduler schedules callbacks on a fixed frame interval.
type FrameScheduler struct {
	Interval time.Duration
}

func (s FrameScheduler) Schedule(fn func()) {
	time.AfterFunc(s.Interval, fn)
}

// Emitter accumulates fragments and delivers them at most once per frame.
// Each stream owns its own Emitter; it is safe for concurrent pushes.
type Emitter struct {
	sched Scheduler

	// flushMu serializes deliveries so Drain returns only after any
	// in-flight frame has finished.
	flushMu sync.Mutex

	mu        sync.Mutex
	buf       strings.Builder
	scheduled bool
	flush     func(string)
}

// New returns an Emitter that paces deliveries with s.
func New(s Scheduler) *Emitter {
	return &Emitter{sched: s}
}

// Push appends fragment to the accumulator. The first push since the last
// delivery schedules a frame; later pushes only accumulate. At the frame the
// accumulated text goes to the flush callback of the most recent push.
func (e *Emitter) Push(fragment string, flush func(string)) {
	e.mu.Lock()
	e.buf.WriteString(fragment)
	e.flush = flush
	if e.scheduled {
		e.mu.Unlock()
		return
	}
	e.scheduled = true
	e.mu.Unlock()

	e.sched.Schedule(e.fire)
}

// Drain delivers any accumulated text immediately. When it returns no
// delivery is in progress.
func (e *Emitter) Drain() {
	e.deliver()
}

func (e *Emitter) fire() {
	e.mu.Lock()
	e.scheduled = false
	e.mu.Unlock()
	e.deliver()
}

func (e *Emitter) deliver() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	text := e.buf.String()
	e.buf.Reset()
	flush := e.flush
	e.mu.Unlock()

	if text == "" || flush == nil {
		return
	}
	flush(text)
}
