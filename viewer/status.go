package viewer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"tarun-kavipurapu/desk-viewer/pkg/monitor"
)

// ANSI color codes for terminal output
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Bold   = "\033[1m"
)

// SessionStats counts what a viewer session has drawn.
type SessionStats struct {
	mu        sync.RWMutex
	Remote    string
	StartTime time.Time
	EndTime   time.Time

	frames     uint64
	tiles      uint64
	badFrames  uint64
	imageBytes uint64
	lastErr    error
}

func NewSessionStats(remote string) *SessionStats {
	return &SessionStats{
		Remote:    remote,
		StartTime: time.Now(),
	}
}

// AddFrame records a full frame of n encoded bytes.
func (s *SessionStats) AddFrame(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.imageBytes += uint64(n)
}

// AddTile records a tile update of n encoded bytes.
func (s *SessionStats) AddTile(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles++
	s.imageBytes += uint64(n)
}

// AddBadFrame records an image that could not be decoded or drawn.
func (s *SessionStats) AddBadFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badFrames++
}

// MarkEnded records when and why the session ended.
func (s *SessionStats) MarkEnded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
		s.lastErr = err
	}
}

// Counts returns frames, tiles and bad frames seen so far.
func (s *SessionStats) Counts() (frames, tiles, bad uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames, s.tiles, s.badFrames
}

func (s *SessionStats) ImageBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageBytes
}

// Ended reports whether the session is over and the error that ended it.
func (s *SessionStats) Ended() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.EndTime.IsZero(), s.lastErr
}

// Elapsed returns the session duration so far.
func (s *SessionStats) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// StatusRenderer keeps one status line for a session up to date.
type StatusRenderer struct {
	out         io.Writer
	stats       *SessionStats
	rates       monitor.RateSource
	refreshRate time.Duration
	useColors   bool

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewStatusRenderer(out io.Writer, stats *SessionStats, rates monitor.RateSource, useColors bool) *StatusRenderer {
	return &StatusRenderer{
		out:         out,
		stats:       stats,
		rates:       rates,
		refreshRate: 500 * time.Millisecond,
		useColors:   useColors,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetRefreshRate sets how often the line is redrawn.
func (sr *StatusRenderer) SetRefreshRate(rate time.Duration) {
	if rate > 0 {
		sr.refreshRate = rate
	}
}

// Start redraws the status line until Stop. It blocks.
func (sr *StatusRenderer) Start() {
	defer close(sr.done)
	sr.Render()

	ticker := time.NewTicker(sr.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sr.Render()
		case <-sr.stopChan:
			return
		}
	}
}

// Stop ends the render loop and prints the final line. If Start was never
// called it only prints.
func (sr *StatusRenderer) Stop() {
	sr.stopOnce.Do(func() {
		close(sr.stopChan)
	})
	select {
	case <-sr.done:
	case <-time.After(sr.refreshRate * 2):
	}
	sr.RenderFinal()
}

// Line builds the current status line without writing it.
func (sr *StatusRenderer) Line() string {
	frames, tiles, bad := sr.stats.Counts()
	up := monitor.RateString(sr.rates.SentRate())
	down := monitor.RateString(sr.rates.ReceivedRate())

	var line string
	if sr.useColors {
		line = fmt.Sprintf("%s[%s]%s %d frames, %d tiles | %s↓ %s%s %s↑ %s%s | %s",
			Cyan, sr.stats.Remote, Reset,
			frames, tiles,
			Blue, down, Reset,
			Yellow, up, Reset,
			formatDuration(sr.stats.Elapsed()),
		)
	} else {
		line = fmt.Sprintf("[%s] %d frames, %d tiles | ↓ %s ↑ %s | %s",
			sr.stats.Remote, frames, tiles, down, up,
			formatDuration(sr.stats.Elapsed()),
		)
	}
	if bad > 0 {
		if sr.useColors {
			line += Red + fmt.Sprintf(" | %d bad", bad) + Reset
		} else {
			line += fmt.Sprintf(" | %d bad", bad)
		}
	}
	return line
}

// Render overwrites the current terminal line.
func (sr *StatusRenderer) Render() {
	fmt.Fprint(sr.out, "\r\033[K"+sr.Line())
}

// RenderFinal prints a closing summary for the session.
func (sr *StatusRenderer) RenderFinal() {
	fmt.Fprint(sr.out, "\r\033[K")

	frames, tiles, _ := sr.stats.Counts()
	total := monitor.SizeSuffix(sr.rates.BytesReceived())
	_, err := sr.stats.Ended()

	switch {
	case err != nil && sr.useColors:
		fmt.Fprintf(sr.out, "%s[%s]%s %sdisconnected%s after %s: %v\n",
			Cyan, sr.stats.Remote, Reset, Red+Bold, Reset,
			formatDuration(sr.stats.Elapsed()), err)
	case err != nil:
		fmt.Fprintf(sr.out, "[%s] disconnected after %s: %v\n",
			sr.stats.Remote, formatDuration(sr.stats.Elapsed()), err)
	case sr.useColors:
		fmt.Fprintf(sr.out, "%s[%s]%s %ssession closed%s: %d frames, %d tiles, %s received in %s\n",
			Cyan, sr.stats.Remote, Reset, Green, Reset,
			frames, tiles, total, formatDuration(sr.stats.Elapsed()))
	default:
		fmt.Fprintf(sr.out, "[%s] session closed: %d frames, %d tiles, %s received in %s\n",
			sr.stats.Remote, frames, tiles, total, formatDuration(sr.stats.Elapsed()))
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := d / time.Hour
	mins := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, mins)
}
