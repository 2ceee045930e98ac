package monitor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultWindow is the bandwidth averaging window.
const DefaultWindow = 5 * time.Second

// Meter is a fixed-window throughput estimator. Byte counts are summed over
// the window; once the window has elapsed the sum is turned into a rate and
// the samples are cleared. Between flushes Rate returns the last computed
// value.
type Meter struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	samples []int64
	start   time.Time
	rate    float64
}

// NewMeter returns a meter with the given window. A nil clock uses wall time
// and a non-positive window falls back to DefaultWindow.
func NewMeter(window time.Duration, clk clock.Clock) *Meter {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Meter{
		clock:  clk,
		window: window,
		start:  clk.Now(),
	}
}

// Record adds n bytes to the current window and reports whether this call
// closed the window.
func (m *Meter) Record(n int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, n)
	return m.maybeFlushLocked()
}

// MaybeFlush closes the window if it has elapsed.
func (m *Meter) MaybeFlush() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maybeFlushLocked()
}

func (m *Meter) maybeFlushLocked() bool {
	now := m.clock.Now()
	if now.Sub(m.start) <= m.window {
		return false
	}
	var sum int64
	for _, n := range m.samples {
		sum += n
	}
	m.rate = float64(sum) / m.window.Seconds()
	m.samples = m.samples[:0]
	m.start = now
	return true
}

// Rate returns bytes per second measured over the last complete window.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeFlushLocked()
	return m.rate
}

// Pending is the number of samples recorded since the last flush.
func (m *Meter) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// Window returns the averaging window.
func (m *Meter) Window() time.Duration {
	return m.window
}
