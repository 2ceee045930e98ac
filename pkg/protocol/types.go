package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MessageType identifies what a Message payload carries.
type MessageType uint8

const (
	MsgData MessageType = iota
	MsgNewImage
	MsgImageUpdate
	MsgPointer
	MsgKey
	MsgBye
)

func (t MessageType) String() string {
	switch t {
	case MsgData:
		return "data"
	case MsgNewImage:
		return "new-image"
	case MsgImageUpdate:
		return "image-update"
	case MsgPointer:
		return "pointer"
	case MsgKey:
		return "key"
	case MsgBye:
		return "bye"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Message is the unit of application data carried by a secure channel. The
// channel never looks inside Payload.
type Message struct {
	Type    MessageType `cbor:"1,keyasint"`
	Payload []byte      `cbor:"2,keyasint,omitempty"`
}

// Length is the logical payload size used for byte accounting. It is not the
// serialized size.
func (m *Message) Length() int {
	if m == nil {
		return 0
	}
	return len(m.Payload)
}

// --- Viewer bodies ---

// ImageUpdate is an encoded image tile to draw at X,Y.
type ImageUpdate struct {
	X     int32  `cbor:"1,keyasint"`
	Y     int32  `cbor:"2,keyasint"`
	Image []byte `cbor:"3,keyasint"`
}

// PointerEvent mirrors a local mouse event.
type PointerEvent struct {
	X       int32 `cbor:"1,keyasint"`
	Y       int32 `cbor:"2,keyasint"`
	Buttons uint8 `cbor:"3,keyasint"`
	Wheel   int16 `cbor:"4,keyasint,omitempty"`
}

// KeyEvent mirrors a local key press or release.
type KeyEvent struct {
	Code uint32 `cbor:"1,keyasint"`
	Down bool   `cbor:"2,keyasint"`
}

// Button bits for PointerEvent.Buttons.
const (
	ButtonLeft uint8 = 1 << iota
	ButtonMiddle
	ButtonRight
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func newMessage(t MessageType, body any) (*Message, error) {
	payload, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", t, err)
	}
	return &Message{Type: t, Payload: payload}, nil
}

func decodeBody(m *Message, want MessageType, v any) error {
	if m.Type != want {
		return fmt.Errorf("message is %s, not %s", m.Type, want)
	}
	if err := decMode.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s body: %w", want, err)
	}
	return nil
}

// NewData wraps an opaque payload.
func NewData(payload []byte) *Message {
	return &Message{Type: MsgData, Payload: payload}
}

// NewImage carries a complete encoded frame that replaces the current one.
func NewImage(img []byte) *Message {
	return &Message{Type: MsgNewImage, Payload: img}
}

// NewImageUpdate carries a tile to be drawn onto the current frame.
func NewImageUpdate(u ImageUpdate) (*Message, error) {
	return newMessage(MsgImageUpdate, u)
}

func NewPointer(e PointerEvent) (*Message, error) {
	return newMessage(MsgPointer, e)
}

func NewKey(e KeyEvent) (*Message, error) {
	return newMessage(MsgKey, e)
}

func NewBye() *Message {
	return &Message{Type: MsgBye}
}

// ImageUpdate decodes the body of an image-update message.
func (m *Message) ImageUpdate() (ImageUpdate, error) {
	var u ImageUpdate
	err := decodeBody(m, MsgImageUpdate, &u)
	return u, err
}

func (m *Message) Pointer() (PointerEvent, error) {
	var e PointerEvent
	err := decodeBody(m, MsgPointer, &e)
	return e, err
}

func (m *Message) Key() (KeyEvent, error) {
	var e KeyEvent
	err := decodeBody(m, MsgKey, &e)
	return e, err
}
