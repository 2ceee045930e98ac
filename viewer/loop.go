package viewer

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/transport"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
)

var (
	// ErrStopped is returned by input methods once the loop has exited.
	ErrStopped = errors.New("viewer loop stopped")
	// ErrRemoteClosed is the disconnect reason when the host says goodbye.
	ErrRemoteClosed = errors.New("remote host closed the session")
)

// EventKind says what a render event asks the UI to do.
type EventKind int

const (
	EventNewImage EventKind = iota
	EventImageUpdate
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventNewImage:
		return "new-image"
	case EventImageUpdate:
		return "image-update"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered to the UI side. Image holds encoded image bytes; At is
// only set for tile updates and Err only for disconnects.
type Event struct {
	Kind  EventKind
	At    image.Point
	Image []byte
	Err   error
}

const (
	defaultIdleSleep = 5 * time.Millisecond
	inputQueueSize   = 256
	eventQueueSize   = 64

	// stopGrace is how long a stopping loop may spend on its goodbye or on
	// I/O already in flight before the channel is closed under it.
	stopGrace = 250 * time.Millisecond
)

// Loop owns a channel and is the only goroutine that touches it. Input is
// queued in, render work comes out on Events. Nothing is shared with the UI
// beyond those two queues.
type Loop struct {
	ch        transport.Channel
	idleSleep time.Duration

	input  chan *protocol.Message
	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	started   bool

	mu  sync.Mutex
	err error
}

// NewLoop returns a loop for ch. idleSleep is how long the loop rests when a
// pass found no work; zero picks a default.
func NewLoop(ch transport.Channel, idleSleep time.Duration) *Loop {
	if idleSleep <= 0 {
		idleSleep = defaultIdleSleep
	}
	return &Loop{
		ch:        ch,
		idleSleep: idleSleep,
		input:     make(chan *protocol.Message, inputQueueSize),
		events:    make(chan Event, eventQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Events is closed after the loop exits. A broken channel shows up as one
// EventDisconnected before that.
func (l *Loop) Events() <-chan Event { return l.events }

// Done is closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err returns why the loop exited, nil for a local stop.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start runs the loop until Stop, ctx cancellation or a channel failure.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()
		go l.run(ctx)
	})
}

// Stop says goodbye to the host, closes the channel and waits for the loop.
// A loop stuck on a stalled peer gets stopGrace before its channel is closed.
// Safe to call more than once, and before Start.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		l.startOnce.Do(func() {
			_ = l.ch.Close()
			close(l.events)
			close(l.done)
		})
	}
	<-l.done
}

// OnMouseEvent queues a pointer event. Pointer motion is lossy: when the
// queue is full the event is dropped.
func (l *Loop) OnMouseEvent(e protocol.PointerEvent) error {
	m, err := protocol.NewPointer(e)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.input <- m:
	default:
		logger.Sugar.Debugf("[Viewer] input queue full, dropping pointer event: x=%d y=%d", e.X, e.Y)
	}
	return nil
}

// OnKeyEvent queues a key event, waiting for room if needed.
func (l *Loop) OnKeyEvent(e protocol.KeyEvent) error {
	m, err := protocol.NewKey(e)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.input <- m:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.events)

	logger.Sugar.Infof("[Viewer] loop started: remote=%s", l.ch.Addr())
	go l.watchStop(ctx)

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-l.stop:
			l.shutdown()
			return
		default:
		}

		busy, err := l.pass(ctx)
		if err != nil {
			if l.stopping(ctx) {
				logger.Sugar.Infof("[Viewer] loop stopped: remote=%s", l.ch.Addr())
				return
			}
			l.disconnect(ctx, err)
			return
		}
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
		case <-l.stop:
		case <-time.After(l.idleSleep):
		}
	}
}

// watchStop closes the channel if the loop has not exited stopGrace after a
// stop was requested. That unblocks a read waiting for the rest of a frame or
// a write to a peer that stopped reading.
func (l *Loop) watchStop(ctx context.Context) {
	select {
	case <-l.done:
		return
	case <-l.stop:
	case <-ctx.Done():
	}
	select {
	case <-l.done:
	case <-time.After(stopGrace):
		logger.Sugar.Warnf("[Viewer] loop stuck on I/O, closing channel: remote=%s", l.ch.Addr())
		_ = l.ch.Close()
	}
}

func (l *Loop) stopping(ctx context.Context) bool {
	select {
	case <-l.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// pass forwards queued input and handles at most one incoming message.
func (l *Loop) pass(ctx context.Context) (bool, error) {
	busy := false
drain:
	for {
		select {
		case m := <-l.input:
			busy = true
			if err := l.ch.Send(m); err != nil {
				if secure.IsFatal(err) {
					return busy, err
				}
				logger.Sugar.Warnf("[Viewer] dropped input: type=%s err=%v", m.Type, err)
			}
		default:
			break drain
		}
	}

	m, err := l.ch.Receive()
	if err != nil {
		return busy, err
	}
	if m == nil {
		return busy, nil
	}
	return true, l.dispatch(ctx, m)
}

func (l *Loop) dispatch(ctx context.Context, m *protocol.Message) error {
	switch m.Type {
	case protocol.MsgNewImage:
		l.emit(ctx, Event{Kind: EventNewImage, Image: m.Payload})
	case protocol.MsgImageUpdate:
		u, err := m.ImageUpdate()
		if err != nil {
			logger.Sugar.Warnf("[Viewer] bad image update: err=%v", err)
			return nil
		}
		l.emit(ctx, Event{Kind: EventImageUpdate, At: image.Pt(int(u.X), int(u.Y)), Image: u.Image})
	case protocol.MsgBye:
		return ErrRemoteClosed
	default:
		logger.Sugar.Debugf("[Viewer] ignoring message: type=%s len=%d", m.Type, m.Length())
	}
	return nil
}

// emit hands an event to the UI. It waits for room so frames are not lost,
// but gives up once the loop is asked to stop.
func (l *Loop) emit(ctx context.Context, ev Event) {
	select {
	case l.events <- ev:
	case <-l.stop:
	case <-ctx.Done():
	}
}

func (l *Loop) shutdown() {
	if err := l.ch.Send(protocol.NewBye()); err != nil {
		logger.Sugar.Debugf("[Viewer] bye not sent: err=%v", err)
	}
	_ = l.ch.Close()
	logger.Sugar.Infof("[Viewer] loop stopped: remote=%s", l.ch.Addr())
}

func (l *Loop) disconnect(ctx context.Context, err error) {
	_ = l.ch.Close()
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	logger.Sugar.Warnf("[Viewer] disconnected: remote=%s err=%v", l.ch.Addr(), err)

	select {
	case l.events <- Event{Kind: EventDisconnected, Err: err}:
	case <-l.stop:
	case <-ctx.Done():
	}
}
