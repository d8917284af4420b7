package ratecounter

import (
	"sync"
	"time"
)

// SlidingWindow counts events that happened within the last window duration.
// Thread-safe: every call prunes expired timestamps under a single mutex.
type SlidingWindow struct {
	mu         sync.Mutex
	window     time.Duration
	timestamps []time.Time
	now        func() time.Time // injectable clock for testing
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(w *SlidingWindow) { w.now = fn }
}

// New creates a counter for the given window.
func New(window time.Duration, opts ...Option) *SlidingWindow {
	w := &SlidingWindow{
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record registers one event at the current time.
func (w *SlidingWindow) Record() {
	if w == nil {
		return
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timestamps = append(w.timestamps, now)
	w.pruneLocked(now)
}

// Count returns the number of events recorded within the window.
func (w *SlidingWindow) Count() int {
	if w == nil {
		return 0
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.timestamps)
}

// Window returns the configured window size.
func (w *SlidingWindow) Window() time.Duration {
	if w == nil {
		return 0
	}
	return w.window
}

// pruneLocked drops timestamps older than the window. Caller holds mu.
func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	drop := 0
	for drop < len(w.timestamps) && w.timestamps[drop].Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	w.timestamps = append(w.timestamps[:0], w.timestamps[drop:]...)
}
