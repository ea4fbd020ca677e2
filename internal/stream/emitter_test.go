package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler queues frames until the test runs them.
type manualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (m *manualScheduler) Schedule(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, fn)
}

func (m *manualScheduler) frame() {
	m.mu.Lock()
	fns := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *manualScheduler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func TestEmitter_CoalescesBurst(t *testing.T) {
	sched := &manualScheduler{}
	e := New(sched)

	var got []string
	flush := func(s string) { got = append(got, s) }

	e.Push("a", flush)
	e.Push("b", flush)
	e.Push("c", flush)
	assert.Equal(t, 1, sched.count(), "only the first push schedules")
	assert.Empty(t, got)

	sched.frame()
	assert.Equal(t, []string{"abc"}, got)
}

func TestEmitter_NewCycleAfterFlush(t *testing.T) {
	sched := &manualScheduler{}
	e := New(sched)

	var got []string
	flush := func(s string) { got = append(got, s) }

	e.Push("a", flush)
	sched.frame()
	e.Push("b", flush)
	require.Equal(t, 1, sched.count())
	sched.frame()

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestEmitter_EmptyFrameIsNoop(t *testing.T) {
	sched := &manualScheduler{}
	e := New(sched)

	calls := 0
	e.Push("", func(string) { calls++ })
	sched.frame()
	assert.Zero(t, calls)
}

func TestEmitter_LatestFlushWins(t *testing.T) {
	sched := &manualScheduler{}
	e := New(sched)

	var first, second string
	e.Push("x", func(s string) { first = s })
	e.Push("y", func(s string) { second = s })
	sched.frame()

	assert.Empty(t, first)
	assert.Equal(t, "xy", second)
}

func TestEmitter_Drain(t *testing.T) {
	sched := &manualScheduler{}
	e := New(sched)

	var got []string
	flush := func(s string) { got = append(got, s) }

	e.Push("partial", flush)
	e.Drain()
	assert.Equal(t, []string{"partial"}, got)

	// The pending frame finds nothing left to deliver.
	sched.frame()
	assert.Equal(t, []string{"partial"}, got)
}

func TestFrameScheduler(t *testing.T) {
	e := New(FrameScheduler{Interval: 5 * time.Millisecond})

	out := make(chan string, 2)
	e.Push("he", func(s string) { out <- s })
	e.Push("llo", func(s string) { out <- s })

	var got string
	deadline := time.After(2 * time.Second)
	for got != "hello" {
		select {
		case s := <-out:
			got += s
		case <-deadline:
			t.Fatalf("frames delivered %q, want %q", got, "hello")
		}
	}
}
