// Package limiter provides a fixed-window rate limiter for lesson-completion
// toggling.
package limiter

import (
	"sync"
	"time"
)

// Limiter caps operations per key within a rolling window start.
type Limiter interface {
	// Allow reports whether the key may perform another operation and
	// records it when allowed.
	Allow(key uint) bool
}

type window struct {
	start time.Time
	count int
}

// FixedWindow allows up to limit operations per key per window. Excess calls
// are rejected until the window rolls over; there is no queuing.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[uint]window
}

// NewFixedWindow builds a limiter with the given per-window cap.
func NewFixedWindow(limit int, windowSize time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 20
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &FixedWindow{
		limit:   limit,
		window:  windowSize,
		now:     time.Now,
		windows: make(map[uint]window),
	}
}

// SetClock overrides the time source, for tests.
func (l *FixedWindow) SetClock(now func() time.Time) {
	l.now = now
}

func (l *FixedWindow) Allow(key uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = window{start: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	l.windows[key] = w
	return true
}
