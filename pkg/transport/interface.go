package transport

import "tarun-kavipurapu/desk-viewer/pkg/protocol"

// Channel is an established, encrypted message link to one remote peer.
//
// Receive polls: it returns (nil, nil) when no message is waiting. Any other
// error is fatal and the channel is already closed when it is returned.
type Channel interface {
	Send(m *protocol.Message) error
	Receive() (*protocol.Message, error)
	SentRate() float64
	ReceivedRate() float64
	BytesSent() int64
	BytesReceived() int64
	Close() error
	Addr() string
}
