package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageUpdateBody(t *testing.T) {
	m, err := NewImageUpdate(ImageUpdate{X: 64, Y: 128, Image: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, MsgImageUpdate, m.Type)

	u, err := m.ImageUpdate()
	require.NoError(t, err)
	assert.Equal(t, int32(64), u.X)
	assert.Equal(t, int32(128), u.Y)
	assert.Equal(t, []byte{1, 2, 3}, u.Image)
}

func TestBodyTypeMismatch(t *testing.T) {
	m, err := NewKey(KeyEvent{Code: 13, Down: true})
	require.NoError(t, err)

	_, err = m.Pointer()
	assert.Error(t, err)

	k, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, KeyEvent{Code: 13, Down: true}, k)
}

func TestLength(t *testing.T) {
	var nilMsg *Message
	assert.Equal(t, 0, nilMsg.Length())
	assert.Equal(t, 0, NewBye().Length())
	assert.Equal(t, 4, NewData([]byte("ping")).Length())
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "image-update", MsgImageUpdate.String())
	assert.Equal(t, "type(42)", MessageType(42).String())
}
