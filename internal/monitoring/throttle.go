package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Throttle rate-limits repeated diagnostics by key. The estimator loop runs
// at 100 Hz, so per-cycle conditions such as spike rejections or stale GPS
// are reported at most once per interval with a count of what was dropped.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	last       map[string]time.Time
	suppressed map[string]int
}

// NewThrottle returns a Throttle that emits each key at most once per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval:   interval,
		now:        time.Now,
		last:       make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Logf logs through the package Logf unless key was logged less than the
// interval ago. It reports whether the message was emitted.
func (t *Throttle) Logf(key, format string, v ...interface{}) bool {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		t.suppressed[key]++
		t.mu.Unlock()
		return false
	}
	dropped := t.suppressed[key]
	t.last[key] = now
	delete(t.suppressed, key)
	t.mu.Unlock()

	msg := fmt.Sprintf(format, v...)
	if dropped > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, dropped)
	}
	Logf("%s", msg)
	return true
}

// Suppressed returns how many messages for key are waiting to be reported.
func (t *Throttle) Suppressed(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed[key]
}
