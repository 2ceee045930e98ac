// Package secure implements the encrypted message channel used between a
// screen host and a viewer.
//
// Every message travels as one frame: a fresh 16-byte IV, the ciphertext
// length as a little-endian uint32, and the AES-CBC/PKCS#7 ciphertext of the
// codec's encoding of the message. The session key is agreed out of band.
//
// Receive never waits for a message to start arriving. Once the first byte
// of a frame is available the remainder is read to completion.
package secure

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"tarun-kavipurapu/desk-viewer/pkg/config"
	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/monitor"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/protocol/codec"
	"tarun-kavipurapu/desk-viewer/pkg/transport"
)

const (
	// DefaultBufferSize bounds the ciphertext length of a single frame.
	DefaultBufferSize = 8 * 1024 * 1024
	// DefaultPollTimeout is how long Receive probes an idle socket.
	DefaultPollTimeout = time.Millisecond
)

var _ transport.Channel = (*Channel)(nil)

type options struct {
	codec       codec.Codec
	bufferSize  int
	window      time.Duration
	pollTimeout time.Duration
	clock       clock.Clock
	rand        io.Reader
}

// Option configures a Channel.
type Option func(*options)

// WithCodec replaces the default CBOR + BLAKE3 message codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithBufferSize sets the receive buffer size, which is also the largest
// ciphertext either side may put in a frame.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithWindow sets the bandwidth averaging window.
func WithWindow(d time.Duration) Option {
	return func(o *options) { o.window = d }
}

// WithPollTimeout sets how long Receive waits for the first byte of a frame.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) { o.pollTimeout = d }
}

// WithClock sets the clock driving the bandwidth meters.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRandom sets the IV source.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// ConfigOptions turns the channel section of the config file into options.
// Zero values are left to the defaults.
func ConfigOptions(c config.ChannelConfig) []Option {
	var opts []Option
	if c.BufferSize > 0 {
		opts = append(opts, WithBufferSize(c.BufferSize))
	}
	if c.Window > 0 {
		opts = append(opts, WithWindow(c.Window))
	}
	if c.PollTimeout > 0 {
		opts = append(opts, WithPollTimeout(c.PollTimeout))
	}
	return opts
}

// Channel is a secure message channel over a connected stream.
//
// Send and Receive each hold their own lock, so one goroutine may send while
// another receives. Close may be called from anywhere and more than once.
type Channel struct {
	conn  net.Conn
	br    *bufio.Reader
	addr  string
	block cipher.Block
	codec codec.Codec
	rand  io.Reader

	pollTimeout time.Duration

	sendMu sync.Mutex
	recvMu sync.Mutex
	buf    []byte // receive buffer, reused for every frame

	sent     atomic.Int64
	received atomic.Int64

	sendMeter *monitor.Meter
	recvMeter *monitor.Meter

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New takes ownership of conn and returns a channel encrypting with key,
// which must be 16, 24 or 32 bytes long.
func New(conn net.Conn, key []byte, opts ...Option) (*Channel, error) {
	if conn == nil {
		return nil, errors.New("secure: nil connection")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secure: session key: %w", err)
	}

	o := options{
		codec:       codec.Default(),
		bufferSize:  DefaultBufferSize,
		window:      monitor.DefaultWindow,
		pollTimeout: DefaultPollTimeout,
		rand:        rand.Reader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bufferSize < aes.BlockSize {
		return nil, fmt.Errorf("secure: buffer size %d is smaller than one block", o.bufferSize)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	addr := "unknown"
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}

	return &Channel{
		conn:        conn,
		br:          bufio.NewReader(conn),
		addr:        addr,
		block:       block,
		codec:       o.codec,
		rand:        o.rand,
		pollTimeout: o.pollTimeout,
		buf:         make([]byte, o.bufferSize),
		sendMeter:   monitor.NewMeter(o.window, o.clock),
		recvMeter:   monitor.NewMeter(o.window, o.clock),
		done:        make(chan struct{}),
	}, nil
}

// Send encrypts m and writes it as one frame. A failed write closes the
// channel; a message that cannot be encoded or is too large leaves it open.
func (c *Channel) Send(m *protocol.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}

	plain, err := c.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if ctLen := len(plain) + aes.BlockSize - len(plain)%aes.BlockSize; ctLen > len(c.buf) {
		return fmt.Errorf("%w: %w: ciphertext of %d bytes exceeds frame limit %d",
			ErrSendFailed, ErrFraming, ctLen, len(c.buf))
	}

	frame, err := sealFrame(c.block, c.rand, plain)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrSendFailed, ErrCrypto, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, c.fail(fmt.Errorf("%w: write frame: %w", ErrTransport, err)))
	}

	n := int64(m.Length())
	c.sent.Add(n)
	if c.sendMeter.Record(n) {
		c.logRates()
	}
	return nil
}

// Receive returns the next message, or (nil, nil) if none has started to
// arrive. Errors are fatal: the channel is closed before they are returned.
func (c *Channel) Receive() (*protocol.Message, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.closed.Load() {
		return nil, ErrClosed
	}

	ok, err := c.poll()
	if err != nil {
		return nil, c.fail(err)
	}
	if !ok {
		return nil, nil
	}

	m, err := c.readFrame()
	if err != nil {
		return nil, c.fail(err)
	}

	n := int64(m.Length())
	c.received.Add(n)
	if c.recvMeter.Record(n) {
		c.logRates()
	}
	return m, nil
}

// poll reports whether at least one byte of the next frame is available.
func (c *Channel) poll() (bool, error) {
	if c.br.Buffered() > 0 {
		return true, nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pollTimeout)); err != nil {
		return false, fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
	}
	_, err := c.br.Peek(1)
	if derr := c.conn.SetReadDeadline(time.Time{}); derr != nil && err == nil {
		err = derr
	}
	switch {
	case err == nil:
		return true, nil
	case isTimeout(err):
		return false, nil
	default:
		return false, fmt.Errorf("%w: poll: %w", ErrTransport, err)
	}
}

func (c *Channel) readFrame() (*protocol.Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, streamError("read header", err)
	}

	iv, n := parseHeader(hdr[:])
	if uint64(n) > uint64(len(c.buf)) {
		return nil, fmt.Errorf("%w: declared length %d exceeds buffer capacity %d", ErrFraming, n, len(c.buf))
	}
	if n == 0 || n%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: declared length %d is not a positive multiple of %d", ErrFraming, n, aes.BlockSize)
	}

	ct := c.buf[:n]
	if _, err := io.ReadFull(c.br, ct); err != nil {
		return nil, streamError("read payload", err)
	}

	plain, err := openFrame(c.block, iv, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	m, err := c.codec.Unmarshal(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return m, nil
}

func streamError(op string, err error) error {
	if isShortRead(err) {
		return fmt.Errorf("%w: %s: stream closed mid-frame: %w", ErrFraming, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// fail closes the channel after a fatal error. If the channel was already
// closed by the caller the original cause is only noise.
func (c *Channel) fail(err error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	logger.Sugar.Warnf("[SecureChannel] closing: remote=%s err=%v", c.addr, err)
	_ = c.Close()
	return err
}

func (c *Channel) logRates() {
	logger.Sugar.Debugf("[SecureChannel] remote=%s Received: %s Sent: %s",
		c.addr, monitor.RateString(c.recvMeter.Rate()), monitor.RateString(c.sendMeter.Rate()))
}

// SentRate is the send throughput in bytes per second over the last
// complete window.
func (c *Channel) SentRate() float64 { return c.sendMeter.Rate() }

// ReceivedRate is the receive throughput in bytes per second over the last
// complete window.
func (c *Channel) ReceivedRate() float64 { return c.recvMeter.Rate() }

// BytesSent is the total logical length of all sent messages.
func (c *Channel) BytesSent() int64 { return c.sent.Load() }

// BytesReceived is the total logical length of all received messages.
func (c *Channel) BytesReceived() int64 { return c.received.Load() }

func (c *Channel) Addr() string { return c.addr }

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close closes the underlying connection. Only the first call does anything.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
