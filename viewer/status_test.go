package viewer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct {
	sent, recv float64
	total      int64
}

func (f fakeRates) Addr() string          { return "10.0.0.2:5900" }
func (f fakeRates) SentRate() float64     { return f.sent }
func (f fakeRates) ReceivedRate() float64 { return f.recv }
func (f fakeRates) BytesSent() int64      { return 0 }
func (f fakeRates) BytesReceived() int64  { return f.total }

func TestSessionStatsCounts(t *testing.T) {
	s := NewSessionStats("host")
	s.AddFrame(100)
	s.AddTile(10)
	s.AddTile(20)
	s.AddBadFrame()

	frames, tiles, bad := s.Counts()
	assert.Equal(t, uint64(1), frames)
	assert.Equal(t, uint64(2), tiles)
	assert.Equal(t, uint64(1), bad)
	assert.Equal(t, uint64(130), s.ImageBytes())

	ended, _ := s.Ended()
	assert.False(t, ended)

	cause := errors.New("gone")
	s.MarkEnded(cause)
	s.MarkEnded(nil)
	ended, err := s.Ended()
	assert.True(t, ended)
	assert.Equal(t, cause, err)
}

func TestStatusLine(t *testing.T) {
	s := NewSessionStats("host")
	s.AddFrame(1)
	s.AddTile(1)
	r := NewStatusRenderer(&bytes.Buffer{}, s, fakeRates{sent: 512, recv: 2048}, false)

	line := r.Line()
	assert.Contains(t, line, "[host] 1 frames, 1 tiles")
	assert.Contains(t, line, "↓ 2.0 KB/s")
	assert.Contains(t, line, "↑ 512.0 bytes/s")
	assert.NotContains(t, line, "bad")

	s.AddBadFrame()
	assert.Contains(t, r.Line(), "| 1 bad")
}

func TestStatusRendererStartStop(t *testing.T) {
	var out bytes.Buffer
	s := NewSessionStats("host")
	r := NewStatusRenderer(&out, s, fakeRates{total: 3 << 20}, false)
	r.SetRefreshRate(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Start()
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renderer did not stop")
	}
	require.Contains(t, out.String(), "session closed: 0 frames, 0 tiles, 3.0 MB received")
}

func TestStatusFinalOnDisconnect(t *testing.T) {
	var out bytes.Buffer
	s := NewSessionStats("host")
	s.MarkEnded(errors.New("secure: transport error"))
	r := NewStatusRenderer(&out, s, fakeRates{}, false)
	r.RenderFinal()
	assert.Contains(t, out.String(), "[host] disconnected after <1s: secure: transport error")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "<1s", formatDuration(300*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}
