package viewer

import (
	"bytes"
	"context"
	"image"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
)

var testKey = bytes.Repeat([]byte{0x17}, 32)

// securePair returns a viewer-side and a host-side channel over loopback.
func securePair(t *testing.T) (*secure.Channel, *secure.Channel) {
	t.Helper()
	l, err := secure.Listen("127.0.0.1:0", testKey)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan *secure.Channel, 1)
	go func() {
		ch, err := l.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- ch
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := secure.Dial(ctx, l.Addr().String(), testKey)
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// rawPeer returns a viewer-side channel whose peer is a plain TCP conn, so
// tests can put arbitrary bytes on the wire.
func rawPeer(t *testing.T) (*secure.Channel, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := secure.Dial(ctx, l.Addr().String(), testKey)
	require.NoError(t, err)
	peer := <-accepted
	require.NotNil(t, peer)

	t.Cleanup(func() {
		_ = ch.Close()
		_ = peer.Close()
	})
	return ch, peer
}

func nextEvent(t *testing.T, l *Loop) Event {
	t.Helper()
	select {
	case ev, ok := <-l.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event before deadline")
		return Event{}
	}
}

func receiveFrom(t *testing.T, ch *secure.Channel) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m, err := ch.Receive()
		require.NoError(t, err)
		if m != nil {
			return m
		}
	}
	t.Fatal("no message before deadline")
	return nil
}

func TestLoopDeliversImages(t *testing.T) {
	viewerCh, hostCh := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())
	defer l.Stop()

	frame := []byte("full frame")
	require.NoError(t, hostCh.Send(protocol.NewImage(frame)))
	tile, err := protocol.NewImageUpdate(protocol.ImageUpdate{X: 16, Y: 32, Image: []byte("tile")})
	require.NoError(t, err)
	require.NoError(t, hostCh.Send(tile))

	ev := nextEvent(t, l)
	assert.Equal(t, EventNewImage, ev.Kind)
	assert.Equal(t, frame, ev.Image)

	ev = nextEvent(t, l)
	assert.Equal(t, EventImageUpdate, ev.Kind)
	assert.Equal(t, image.Pt(16, 32), ev.At)
	assert.Equal(t, []byte("tile"), ev.Image)
}

func TestLoopForwardsInput(t *testing.T) {
	viewerCh, hostCh := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())
	defer l.Stop()

	require.NoError(t, l.OnKeyEvent(protocol.KeyEvent{Code: 65, Down: true}))
	require.NoError(t, l.OnMouseEvent(protocol.PointerEvent{X: 10, Y: 20, Buttons: protocol.ButtonLeft}))

	m := receiveFrom(t, hostCh)
	require.Equal(t, protocol.MsgKey, m.Type)
	k, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, protocol.KeyEvent{Code: 65, Down: true}, k)

	m = receiveFrom(t, hostCh)
	require.Equal(t, protocol.MsgPointer, m.Type)
	p, err := m.Pointer()
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.X)
	assert.Equal(t, int32(20), p.Y)
}

func TestLoopDisconnectsOnPeerClose(t *testing.T) {
	viewerCh, hostCh := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())
	defer l.Stop()

	require.NoError(t, hostCh.Close())

	ev := nextEvent(t, l)
	assert.Equal(t, EventDisconnected, ev.Kind)
	require.Error(t, ev.Err)
	assert.True(t, secure.IsFatal(ev.Err))

	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, ev.Err, l.Err())
	assert.ErrorIs(t, l.OnKeyEvent(protocol.KeyEvent{Code: 1}), ErrStopped)
}

func TestLoopDisconnectsOnBye(t *testing.T) {
	viewerCh, hostCh := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())
	defer l.Stop()

	require.NoError(t, hostCh.Send(protocol.NewBye()))

	ev := nextEvent(t, l)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrRemoteClosed)
}

func TestLoopStopSaysBye(t *testing.T) {
	viewerCh, hostCh := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())

	l.Stop()
	l.Stop()

	m := receiveFrom(t, hostCh)
	assert.Equal(t, protocol.MsgBye, m.Type)
	assert.NoError(t, l.Err())

	_, ok := <-l.Events()
	assert.False(t, ok)
}

func TestLoopStopBeforeStart(t *testing.T) {
	viewerCh, _ := securePair(t)
	l := NewLoop(viewerCh, 0)
	l.Stop()

	select {
	case <-l.Done():
	default:
		t.Fatal("done not closed")
	}
	_, err := viewerCh.Receive()
	assert.ErrorIs(t, err, secure.ErrClosed)
}

func TestLoopContextCancel(t *testing.T) {
	viewerCh, _ := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
}

func TestLoopStopWithPeerStalledMidFrame(t *testing.T) {
	viewerCh, peer := rawPeer(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())

	// part of an IV, then nothing: the loop is left reading the frame
	_, err := peer.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while the peer stalled mid-frame")
	}
	assert.NoError(t, l.Err())

	_, err = viewerCh.Receive()
	assert.ErrorIs(t, err, secure.ErrClosed)
}

func TestLoopKeyEventAfterExit(t *testing.T) {
	viewerCh, _ := securePair(t)
	l := NewLoop(viewerCh, time.Millisecond)
	l.Start(context.Background())
	l.Stop()

	// the input queue still has room, the event must still be refused
	for i := 0; i < 50; i++ {
		assert.ErrorIs(t, l.OnKeyEvent(protocol.KeyEvent{Code: uint32(i)}), ErrStopped)
	}
}
