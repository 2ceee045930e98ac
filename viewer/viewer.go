// Package viewer is the client side of a remote desktop session. It dials a
// screen host, keeps a local copy of the remote screen and forwards local
// input back.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tarun-kavipurapu/desk-viewer/pkg/config"
	"tarun-kavipurapu/desk-viewer/pkg/discovery"
	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
)

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = errors.New("viewer not connected")

// Viewer owns one session with a screen host.
type Viewer struct {
	cfg  config.ViewerConfig
	key  []byte
	opts []secure.Option

	fb *Framebuffer

	mu    sync.Mutex
	ch    *secure.Channel
	loop  *Loop
	stats *SessionStats
	done  chan struct{}
}

func NewViewer(cfg config.ViewerConfig, key []byte, opts ...secure.Option) *Viewer {
	return &Viewer{
		cfg:  cfg,
		key:  append([]byte(nil), key...),
		opts: opts,
		fb:   NewFramebuffer(cfg.MaxImageBytes),
	}
}

// Connect dials the host and starts the session in the background.
func (v *Viewer) Connect(ctx context.Context) error {
	v.mu.Lock()
	if v.loop != nil {
		v.mu.Unlock()
		return errors.New("viewer already connected")
	}
	v.mu.Unlock()

	addr, err := v.resolve(ctx)
	if err != nil {
		return err
	}

	dialCtx := ctx
	if v.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, v.cfg.DialTimeout)
		defer cancel()
	}
	ch, err := secure.Dial(dialCtx, addr, v.key, v.opts...)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	loop := NewLoop(ch, v.cfg.IdleSleep)
	stats := NewSessionStats(ch.Addr())
	done := make(chan struct{})

	v.mu.Lock()
	v.ch, v.loop, v.stats, v.done = ch, loop, stats, done
	v.mu.Unlock()

	loop.Start(context.Background())
	go v.consume(loop, stats, done)

	logger.Sugar.Infof("[Viewer] session started: remote=%s", ch.Addr())
	return nil
}

func (v *Viewer) resolve(ctx context.Context) (string, error) {
	if !v.cfg.Discover {
		return v.cfg.Addr, nil
	}
	r, err := discovery.NewResolver()
	if err != nil {
		return "", err
	}
	timeout := v.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := r.Find(findCtx, "")
	if err != nil {
		return "", fmt.Errorf("discover host: %w", err)
	}
	logger.Sugar.Infof("[Viewer] discovered host: instance=%s addr=%s", h.Instance, h.Addr())
	return h.Addr(), nil
}

// consume paints render events into the framebuffer until the loop exits.
func (v *Viewer) consume(loop *Loop, stats *SessionStats, done chan struct{}) {
	defer close(done)
	for ev := range loop.Events() {
		switch ev.Kind {
		case EventNewImage:
			if err := v.fb.Replace(ev.Image); err != nil {
				stats.AddBadFrame()
				logger.Sugar.Warnf("[Viewer] dropping frame: err=%v", err)
				continue
			}
			stats.AddFrame(len(ev.Image))
		case EventImageUpdate:
			if err := v.fb.Draw(ev.At, ev.Image); err != nil {
				stats.AddBadFrame()
				logger.Sugar.Warnf("[Viewer] dropping tile at %v: err=%v", ev.At, err)
				continue
			}
			stats.AddTile(len(ev.Image))
		case EventDisconnected:
			stats.MarkEnded(ev.Err)
		}
	}
	stats.MarkEnded(loop.Err())
	if v.cfg.Snapshot != "" {
		if err := v.SaveSnapshot(v.cfg.Snapshot); err != nil && !errors.Is(err, ErrNoImage) {
			logger.Sugar.Warnf("[Viewer] final snapshot failed: path=%s err=%v", v.cfg.Snapshot, err)
		}
	}
}

// Framebuffer gives read access to the local copy of the screen.
func (v *Viewer) Framebuffer() *Framebuffer { return v.fb }

// Channel returns the live channel, or nil before Connect.
func (v *Viewer) Channel() *secure.Channel {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ch
}

// Stats returns the session counters, or nil before Connect.
func (v *Viewer) Stats() *SessionStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// Done is closed once the session has ended and its events are drained.
// It is nil before Connect.
func (v *Viewer) Done() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.done
}

// Pointer forwards a pointer event to the host.
func (v *Viewer) Pointer(e protocol.PointerEvent) error {
	loop := v.currentLoop()
	if loop == nil {
		return ErrNotConnected
	}
	return loop.OnMouseEvent(e)
}

// Key forwards a key event to the host.
func (v *Viewer) Key(e protocol.KeyEvent) error {
	loop := v.currentLoop()
	if loop == nil {
		return ErrNotConnected
	}
	return loop.OnKeyEvent(e)
}

func (v *Viewer) currentLoop() *Loop {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loop
}

// SaveSnapshot writes the current screen to path as PNG.
func (v *Viewer) SaveSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := v.fb.WritePNG(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// GetStatus returns a one-line summary of the session.
func (v *Viewer) GetStatus() string {
	v.mu.Lock()
	ch, stats := v.ch, v.stats
	v.mu.Unlock()
	if ch == nil {
		return "not connected"
	}
	b := v.fb.Bounds()
	line := NewStatusRenderer(nil, stats, ch, false).Line()
	if ended, err := stats.Ended(); ended {
		return fmt.Sprintf("%s | screen %dx%d | ended: %v", line, b.Dx(), b.Dy(), err)
	}
	return fmt.Sprintf("%s | screen %dx%d", line, b.Dx(), b.Dy())
}

// Stop ends the session and waits for the last events to be applied.
func (v *Viewer) Stop() {
	v.mu.Lock()
	loop, done := v.loop, v.done
	v.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Stop()
	<-done
}
