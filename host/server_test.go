package host

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/desk-viewer/pkg/config"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
)

var testKey = bytes.Repeat([]byte{0x5a}, 32)

func startServer(t *testing.T) *Server {
	t.Helper()
	src, err := NewPatternSource(64, 64, 32)
	require.NoError(t, err)
	s := NewServer(config.HostConfig{
		Listen:       "127.0.0.1:0",
		TileInterval: 10 * time.Millisecond,
	}, testKey, src)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dialServer(t *testing.T, s *Server) *secure.Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := secure.Dial(ctx, s.Addr(), testKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func receive(t *testing.T, ch *secure.Channel) *protocol.Message {
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

func TestServerSendsFullFrameThenTiles(t *testing.T) {
	s := startServer(t)
	ch := dialServer(t, s)

	m := receive(t, ch)
	assert.Equal(t, protocol.MsgNewImage, m.Type)
	assert.NotEmpty(t, m.Payload)

	m = receive(t, ch)
	require.Equal(t, protocol.MsgImageUpdate, m.Type)
	u, err := m.ImageUpdate()
	require.NoError(t, err)
	assert.NotEmpty(t, u.Image)
	assert.Zero(t, u.X%32)
}

func TestServerRecordsInput(t *testing.T) {
	s := startServer(t)
	ch := dialServer(t, s)
	receive(t, ch)

	p, err := protocol.NewPointer(protocol.PointerEvent{X: 7, Y: 9})
	require.NoError(t, err)
	require.NoError(t, ch.Send(p))
	k, err := protocol.NewKey(protocol.KeyEvent{Code: 32, Down: true})
	require.NoError(t, err)
	require.NoError(t, ch.Send(k))

	require.Eventually(t, func() bool {
		sessions := s.Sessions()
		return len(sessions) == 1 && sessions[0].Pointers == 1 && sessions[0].Keys == 1
	}, 3*time.Second, 5*time.Millisecond)

	info := s.Sessions()[0]
	assert.Equal(t, 7, info.LastPointer.X)
	assert.Equal(t, 9, info.LastPointer.Y)
	assert.Positive(t, info.BytesSent)
	assert.Contains(t, s.Status(), "Connected Viewers: 1")
	assert.Equal(t, 4, testutil.CollectAndCount(s.Collector()))
}

func TestServerDropsSessionOnBye(t *testing.T) {
	s := startServer(t)
	ch := dialServer(t, s)
	receive(t, ch)
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Send(protocol.NewBye()))
	require.Eventually(t, func() bool { return len(s.Sessions()) == 0 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, testutil.CollectAndCount(s.Collector()))
}

func TestServerDropsSessionOnDisconnect(t *testing.T) {
	s := startServer(t)
	ch := dialServer(t, s)
	receive(t, ch)
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool { return len(s.Sessions()) == 0 }, 3*time.Second, 5*time.Millisecond)
}

func TestServerStopSaysBye(t *testing.T) {
	s := startServer(t)
	ch := dialServer(t, s)
	receive(t, ch)
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m, err := ch.Receive()
		require.NoError(t, err, "bye should arrive before the connection closes")
		if m != nil && m.Type == protocol.MsgBye {
			return
		}
	}
	t.Fatal("no bye before deadline")
}

func TestServerRejectsWrongKey(t *testing.T) {
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := secure.Dial(ctx, s.Addr(), bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	defer ch.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, err = ch.Receive()
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, secure.ErrCrypto)
}
