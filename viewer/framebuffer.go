package viewer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"sync"
)

var (
	// ErrNoImage is returned when a tile arrives before the first full frame.
	ErrNoImage = errors.New("no base image")
	// ErrImageTooLarge is returned for images whose decoded RGBA size would
	// exceed the framebuffer limit.
	ErrImageTooLarge = errors.New("image too large")
)

// DefaultMaxImageBytes fits a 4K RGBA screen.
const DefaultMaxImageBytes = 64 * 1024 * 1024

// Framebuffer holds the remote screen as last seen. Full frames replace it
// and tiles are painted on top.
type Framebuffer struct {
	mu       sync.RWMutex
	img      *image.RGBA
	maxBytes int
}

// NewFramebuffer returns an empty framebuffer that refuses images larger
// than maxBytes once decoded to RGBA. Zero or less picks the default.
func NewFramebuffer(maxBytes int) *Framebuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Framebuffer{maxBytes: maxBytes}
}

// decode checks the image header against the size limit before decoding
// the pixels.
func (f *Framebuffer) decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height)*4 > int64(f.maxBytes) {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	return src, err
}

// Replace decodes a complete frame and makes it the current image.
func (f *Framebuffer) Replace(data []byte) error {
	src, err := f.decode(data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	f.mu.Lock()
	f.img = dst
	f.mu.Unlock()
	return nil
}

// Draw decodes a tile and paints it with its top-left corner at at. Parts
// outside the current image are clipped.
func (f *Framebuffer) Draw(at image.Point, data []byte) error {
	src, err := f.decode(data)
	if err != nil {
		return fmt.Errorf("decode tile: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.img == nil {
		return ErrNoImage
	}
	b := src.Bounds()
	r := image.Rectangle{Min: at, Max: at.Add(b.Size())}
	draw.Draw(f.img, r, src, b.Min, draw.Over)
	return nil
}

// Bounds returns the current image bounds, empty before the first frame.
func (f *Framebuffer) Bounds() image.Rectangle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.img == nil {
		return image.Rectangle{}
	}
	return f.img.Bounds()
}

// Snapshot returns a copy of the current image, or nil.
func (f *Framebuffer) Snapshot() *image.RGBA {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.img == nil {
		return nil
	}
	cp := image.NewRGBA(f.img.Bounds())
	copy(cp.Pix, f.img.Pix)
	return cp
}

// WritePNG encodes the current image to w.
func (f *Framebuffer) WritePNG(w io.Writer) error {
	img := f.Snapshot()
	if img == nil {
		return ErrNoImage
	}
	return png.Encode(w, img)
}
