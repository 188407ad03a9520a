package alerting

import (
	"sync"
	"time"
)

// lineWindow holds the arrival times of matching lines for one threshold
// rule. Only the newest limit entries are kept: once the threshold is reached
// older lines cannot change the outcome.
type lineWindow struct {
	span  time.Duration
	limit int
	times []time.Time // ascending
}

// record adds a line seen at t and returns how many lines fall inside the
// window ending at t.
func (w *lineWindow) record(t time.Time) int {
	cutoff := t.Add(-w.span)
	n := 0
	for n < len(w.times) && w.times[n].Before(cutoff) {
		n++
	}
	w.times = append(w.times[:0], w.times[n:]...)

	w.times = append(w.times, t)
	if len(w.times) > w.limit {
		w.times = append(w.times[:0], w.times[len(w.times)-w.limit:]...)
	}
	return len(w.times)
}

// WindowManager tracks matching lines per threshold rule.
type WindowManager struct {
	mu      sync.Mutex
	windows map[string]*lineWindow
}

// NewWindowManager creates a new window manager.
func NewWindowManager() *WindowManager {
	return &WindowManager{
		windows: make(map[string]*lineWindow),
	}
}

// Record counts a matching line for ruleName at t and returns the number of
// matching lines within span, capped at threshold. Changing span or threshold
// for a rule starts its window over.
func (wm *WindowManager) Record(ruleName string, span time.Duration, threshold int, t time.Time) int {
	if threshold < 1 {
		threshold = 1
	}

	wm.mu.Lock()
	defer wm.mu.Unlock()

	w, ok := wm.windows[ruleName]
	if !ok || w.span != span || w.limit != threshold {
		w = &lineWindow{span: span, limit: threshold, times: make([]time.Time, 0, threshold)}
		wm.windows[ruleName] = w
	}
	return w.record(t)
}

// Reset forgets the lines counted for ruleName.
func (wm *WindowManager) Reset(ruleName string) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if w, ok := wm.windows[ruleName]; ok {
		w.times = w.times[:0]
	}
}

// DeleteAll drops every window.
func (wm *WindowManager) DeleteAll() {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.windows = make(map[string]*lineWindow)
}
