package secure

import (
	"context"
	"crypto/aes"
	"errors"
	"fmt"
	"net"

	"tarun-kavipurapu/desk-viewer/pkg/logger"
)

// Dial connects to addr over TCP and wraps the connection in a Channel.
func Dial(ctx context.Context, addr string, key []byte, opts ...Option) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	ch, err := New(conn, key, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Sugar.Infof("[SecureChannel] connected: remote=%s", ch.Addr())
	return ch, nil
}

// Listener accepts TCP connections and hands them out as Channels sharing
// one session key.
type Listener struct {
	l    net.Listener
	key  []byte
	opts []Option
}

// Listen starts listening on addr.
func Listen(addr string, key []byte, opts ...Option) (*Listener, error) {
	if _, err := aes.NewCipher(key); err != nil {
		return nil, fmt.Errorf("secure: session key: %w", err)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		l:    l,
		key:  append([]byte(nil), key...),
		opts: opts,
	}, nil
}

// Accept waits for the next connection. It returns net.ErrClosed once the
// listener has been closed.
func (l *Listener) Accept() (*Channel, error) {
	conn, err := l.l.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, net.ErrClosed
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	ch, err := New(conn, l.key, l.opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Sugar.Infof("[SecureChannel] accepted: remote=%s", ch.Addr())
	return ch, nil
}

func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *Listener) Close() error {
	return l.l.Close()
}
