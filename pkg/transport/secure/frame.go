package secure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout, repeated per message with nothing in between:
//
//	16       []byte    IV, cleartext, fresh per frame
//	4        uint32    ciphertext length, little-endian
//	n        []byte    AES-CBC ciphertext, PKCS#7 padded
const (
	IVSize     = aes.BlockSize
	lengthSize = 4
	HeaderSize = IVSize + lengthSize
)

// sealFrame encrypts plain under a fresh IV drawn from rnd and returns the
// complete frame, ready for a single Write.
func sealFrame(block cipher.Block, rnd io.Reader, plain []byte) ([]byte, error) {
	bs := block.BlockSize()
	padLen := bs - len(plain)%bs
	ctLen := len(plain) + padLen

	frame := make([]byte, HeaderSize+ctLen)
	iv := frame[:IVSize]
	if _, err := io.ReadFull(rnd, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	binary.LittleEndian.PutUint32(frame[IVSize:HeaderSize], uint32(ctLen))

	body := frame[HeaderSize:]
	copy(body, plain)
	for i := len(plain); i < ctLen; i++ {
		body[i] = byte(padLen)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, body)
	return frame, nil
}

// parseHeader splits a frame header into IV and declared ciphertext length.
func parseHeader(hdr []byte) (iv []byte, n uint32) {
	return hdr[:IVSize], binary.LittleEndian.Uint32(hdr[IVSize:HeaderSize])
}

// openFrame decrypts ct in place and strips the padding. The returned slice
// aliases ct.
func openFrame(block cipher.Block, iv, ct []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(ct) == 0 || len(ct)%bs != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of %d", len(ct), bs)
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(ct, ct)
	return unpad(ct, bs)
}

var errPadding = errors.New("invalid padding")

func unpad(b []byte, bs int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, errPadding
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errPadding
	}
	return b[:len(b)-n], nil
}
