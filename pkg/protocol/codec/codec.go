// Package codec turns protocol messages into the plaintext bytes a secure
// channel encrypts, and back.
//
// Layout of the default codec's output:
//
//	n        []byte    canonical CBOR encoding of the message
//	32       []byte    BLAKE3-256 digest of the CBOR bytes
//
// CBC decryption with a wrong IV or a flipped ciphertext bit still yields
// plaintext, so the digest is what lets a receiver tell a damaged frame from
// a real message.
package codec

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"

	"tarun-kavipurapu/desk-viewer/pkg/protocol"
)

// DigestSize is the length of the integrity trailer.
const DigestSize = 32

// ErrDigestMismatch is returned when the trailer does not match the body.
var ErrDigestMismatch = errors.New("codec: digest mismatch")

// Codec is the serialize/deserialize contract a channel relies on.
// Unmarshal must not retain data after it returns.
type Codec interface {
	Marshal(m *protocol.Message) ([]byte, error)
	Unmarshal(data []byte) (*protocol.Message, error)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// Default returns the CBOR + BLAKE3 codec.
func Default() Codec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: em, dec: dm}
}

func (c cborCodec) Marshal(m *protocol.Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("codec: nil message")
	}
	body, err := c.enc.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	sum := blake3.Sum256(body)
	return append(body, sum[:]...), nil
}

func (c cborCodec) Unmarshal(data []byte) (*protocol.Message, error) {
	if len(data) < DigestSize {
		return nil, fmt.Errorf("codec: short input (%d bytes)", len(data))
	}
	body, trailer := data[:len(data)-DigestSize], data[len(data)-DigestSize:]
	sum := blake3.Sum256(body)
	if subtle.ConstantTimeCompare(sum[:], trailer) != 1 {
		return nil, ErrDigestMismatch
	}
	var m protocol.Message
	if err := c.dec.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return &m, nil
}
