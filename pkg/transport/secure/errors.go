package secure

import (
	"errors"
	"io"
	"net"
)

var (
	// ErrClosed is returned by every call made after Close or after a fatal
	// error closed the channel.
	ErrClosed = errors.New("secure: channel closed")

	// ErrFraming means the stream no longer lines up with frame boundaries:
	// an impossible declared length or a connection that ended mid-frame.
	ErrFraming = errors.New("secure: framing error")

	// ErrCrypto means a frame could not be decrypted, unpadded or decoded.
	ErrCrypto = errors.New("secure: crypto error")

	// ErrTransport wraps failures of the underlying connection.
	ErrTransport = errors.New("secure: transport error")

	// ErrSendFailed marks every error returned from Send. It is combined
	// with one of the kinds above when the cause is known.
	ErrSendFailed = errors.New("secure: send failed")
)

// IsFatal reports whether err closed the channel. Only ErrSendFailed
// without a transport cause leaves the channel usable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrTransport) ||
		(!errors.Is(err, ErrSendFailed) && (errors.Is(err, ErrFraming) || errors.Is(err, ErrCrypto)))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
