package host

import (
	"encoding/binary"
	"image"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/desk-viewer/pkg/config"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
)

// bulkSource hands out one large tile per step so a viewer that stops
// reading quickly fills the socket buffers.
type bulkSource struct{}

func (bulkSource) Size() image.Point     { return image.Pt(1, 1) }
func (bulkSource) Full() ([]byte, error) { return []byte("full"), nil }
func (bulkSource) Next() ([]Tile, error) {
	return []Tile{{Image: make([]byte, 4<<20)}}, nil
}

func TestServerStopWithStalledViewer(t *testing.T) {
	s := NewServer(config.HostConfig{
		Listen:       "127.0.0.1:0",
		TileInterval: 10 * time.Millisecond,
	}, testKey, bulkSource{})
	require.NoError(t, s.Start())

	// plain TCP client that never reads
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(500 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a viewer stopped reading")
	}
	assert.Empty(t, s.Sessions())
}

func TestServerStopWithViewerStalledMidFrame(t *testing.T) {
	s := startServer(t)
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return len(s.Sessions()) == 1 }, 3*time.Second, 5*time.Millisecond)

	// half a header leaves the session reading a frame that never completes
	_, err = conn.Write(make([]byte, 10))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a session was mid-frame")
	}
}

// counterSource numbers its states; Full reports the current number and
// every tile carries the number of the state it produced.
type counterSource struct {
	mu sync.Mutex
	n  uint32
}

func (c *counterSource) Size() image.Point { return image.Pt(1, 1) }

func (c *counterSource) Full() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.BigEndian.AppendUint32(nil, c.n), nil
}

func (c *counterSource) Next() ([]Tile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return []Tile{{Image: binary.BigEndian.AppendUint32(nil, c.n)}}, nil
}

func TestNewViewerMissesNoTiles(t *testing.T) {
	s := NewServer(config.HostConfig{
		Listen:       "127.0.0.1:0",
		TileInterval: time.Millisecond,
	}, testKey, &counterSource{})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	for i := 0; i < 20; i++ {
		ch := dialServer(t, s)

		m := receive(t, ch)
		require.Equal(t, protocol.MsgNewImage, m.Type)
		want := binary.BigEndian.Uint32(m.Payload)

		for j := 0; j < 3; j++ {
			m = receive(t, ch)
			require.Equal(t, protocol.MsgImageUpdate, m.Type)
			u, err := m.ImageUpdate()
			require.NoError(t, err)
			want++
			require.Equal(t, want, binary.BigEndian.Uint32(u.Image), "viewer %d skipped a state", i)
		}
		require.NoError(t, ch.Close())
	}
}
