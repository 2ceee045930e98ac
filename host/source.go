package host

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
)

// Tile is an encoded rectangle of the screen with its top-left corner.
type Tile struct {
	At    image.Point
	Image []byte
}

// FrameSource produces the screen a host shares. Implementations must be
// safe for concurrent use.
type FrameSource interface {
	// Size is the full screen size.
	Size() image.Point
	// Full encodes the whole current screen.
	Full() ([]byte, error)
	// Next advances the screen and returns the tiles that changed.
	Next() ([]Tile, error)
}

// PatternSource is a synthetic screen: a colored band sweeps across a gray
// background one tile column per step. It stands in for real capture.
type PatternSource struct {
	mu   sync.Mutex
	img  *image.RGBA
	tile int
	cols int
	step int
	enc  png.Encoder
}

var background = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}

func NewPatternSource(width, height, tileSize int) (*PatternSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid screen size %dx%d", width, height)
	}
	if tileSize <= 0 {
		return nil, errors.New("tile size must be positive")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	return &PatternSource{
		img:  img,
		tile: tileSize,
		cols: (width + tileSize - 1) / tileSize,
		enc:  png.Encoder{CompressionLevel: png.BestSpeed},
	}, nil
}

func (p *PatternSource) Size() image.Point {
	return p.img.Bounds().Size()
}

func (p *PatternSource) Full() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encode(p.img)
}

// Next restores the column the band left and paints the column it enters.
func (p *PatternSource) Next() ([]Tile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.step % p.cols
	p.step++
	cur := p.step % p.cols

	var tiles []Tile
	if prev != cur {
		t, err := p.paintColumn(prev, background)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, t...)
	}
	t, err := p.paintColumn(cur, bandColor(p.step))
	if err != nil {
		return nil, err
	}
	return append(tiles, t...), nil
}

func (p *PatternSource) paintColumn(col int, c color.Color) ([]Tile, error) {
	b := p.img.Bounds()
	x0 := col * p.tile
	x1 := min(x0+p.tile, b.Max.X)

	var tiles []Tile
	for y0 := 0; y0 < b.Max.Y; y0 += p.tile {
		r := image.Rect(x0, y0, x1, min(y0+p.tile, b.Max.Y))
		draw.Draw(p.img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
		data, err := p.encode(p.img.SubImage(r))
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, Tile{At: r.Min, Image: data})
	}
	return tiles, nil
}

func (p *PatternSource) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// bandColor cycles through a few saturated colors.
func bandColor(step int) color.RGBA {
	palette := [...]color.RGBA{
		{R: 0xe0, G: 0x40, B: 0x40, A: 0xff},
		{R: 0x40, G: 0xc0, B: 0x40, A: 0xff},
		{R: 0x40, G: 0x60, B: 0xe0, A: 0xff},
		{R: 0xe0, G: 0xc0, B: 0x30, A: 0xff},
	}
	return palette[step%len(palette)]
}
