package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudlark/mudlark/style"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]style.Fragment
}

func (s *batchSink) accept(batch []style.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *batchSink) flat() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, batch := range s.batches {
		for _, f := range batch {
			out = append(out, f.Text)
		}
	}
	return out
}

func frags(texts ...string) []style.Fragment {
	out := make([]style.Fragment, len(texts))
	for i, t := range texts {
		out[i] = style.Fragment{Text: t}
	}
	return out
}

func TestBatcherFlushesOnWindow(t *testing.T) {
	sink := &batchSink{}
	b := NewBatcher(10*time.Millisecond, 100, sink.accept)

	b.Add(frags("a", "b"))
	b.Add(frags("c"))

	assert.Eventually(t, func() bool {
		return len(sink.flat()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, sink.flat())
}

func TestBatcherFlushesOnLimit(t *testing.T) {
	sink := &batchSink{}
	b := NewBatcher(time.Hour, 3, sink.accept)

	b.Add(frags("a", "b"))
	assert.Empty(t, sink.flat())

	// Hitting the limit flushes without waiting for the window.
	b.Add(frags("c", "d"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, sink.flat())
}

func TestBatcherPreservesOrderUnderLoad(t *testing.T) {
	sink := &batchSink{}
	b := NewBatcher(time.Millisecond, 16, sink.accept)

	var want []string
	for i := 0; i < 200; i++ {
		text := string(rune('a' + i%26))
		want = append(want, text)
		b.Add(frags(text))
	}
	b.Flush()

	require.Eventually(t, func() bool {
		return len(sink.flat()) == len(want)
	}, time.Second, time.Millisecond)
	assert.Equal(t, want, sink.flat())
}

func TestBatcherStopFlushesAndIsIdempotent(t *testing.T) {
	sink := &batchSink{}
	b := NewBatcher(time.Hour, 100, sink.accept)

	b.Add(frags("pending"))
	b.Stop()
	assert.Equal(t, []string{"pending"}, sink.flat())

	b.Stop()
	b.Add(frags("ignored"))
	b.Flush()
	assert.Equal(t, []string{"pending"}, sink.flat())
}

func TestNextKeepAliveInterval(t *testing.T) {
	foreground := 30 * time.Second
	floor := 5 * time.Second

	// Perfect health probes at half the foreground cadence.
	assert.Equal(t, 15*time.Second, NextKeepAliveInterval(1, 0, foreground, floor))

	// Degraded connections tighten toward the floor.
	assert.Equal(t, floor, NextKeepAliveInterval(0, 0, foreground, floor))
	mid := NextKeepAliveInterval(0.5, 0, foreground, floor)
	assert.Greater(t, mid, floor)
	assert.Less(t, mid, 15*time.Second)

	// A budget hint caps the interval at half the remaining budget.
	assert.Equal(t, 6*time.Second, NextKeepAliveInterval(1, 12*time.Second, foreground, floor))

	// But never below the floor, and scores are clamped.
	assert.Equal(t, floor, NextKeepAliveInterval(1, 2*time.Second, foreground, floor))
	assert.Equal(t, floor, NextKeepAliveInterval(-3, 0, foreground, floor))
	assert.Equal(t, 15*time.Second, NextKeepAliveInterval(9, 0, foreground, floor))
}

func TestProvokeCommandRotates(t *testing.T) {
	first := provokeCommand(0)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, provokeCommand(1))
	assert.Equal(t, first, provokeCommand(len(provokeCommands)))
}
