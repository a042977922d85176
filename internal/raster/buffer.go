// Package raster provides the pixel buffer the codec operates on, along with
// conversions to and from image.Image and image files.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"math"
)

// Channel identifies one of the four 8-bit channels of a pixel.
type Channel int

const (
	Alpha Channel = iota
	Red
	Green
	Blue
)

// BytesPerPixel is the size of one pixel in the raw interleaved layout.
const BytesPerPixel = 4

// offset of each channel inside a pixel; storage follows image.NRGBA (R,G,B,A)
var channelOffset = [4]int{
	Alpha: 3,
	Red:   0,
	Green: 1,
	Blue:  2,
}

func (c Channel) String() string {
	switch c {
	case Alpha:
		return "alpha"
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	default:
		return "unknown"
	}
}

// Buffer is a row-major grid of width*height pixels with four independent,
// non-premultiplied 8-bit channels each.
type Buffer struct {
	width  int
	height int
	pix    []uint8
}

// CheckDimensions rejects negative sizes and sizes whose byte length does
// not fit in an int.
func CheckDimensions(width, height int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("raster: invalid dimensions %dx%d", width, height)
	}
	if width > 0 && height > math.MaxInt/BytesPerPixel/width {
		return fmt.Errorf("raster: dimensions %dx%d overflow", width, height)
	}
	return nil
}

// New returns a zeroed buffer of the given dimensions.
func New(width, height int) *Buffer {
	if err := CheckDimensions(width, height); err != nil {
		panic(err.Error())
	}
	return &Buffer{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height*BytesPerPixel),
	}
}

// FromNRGBA wraps a copy of raw interleaved R,G,B,A bytes.
func FromNRGBA(pix []byte, width, height int) (*Buffer, error) {
	if err := CheckDimensions(width, height); err != nil {
		return nil, err
	}
	if want := width * height * BytesPerPixel; len(pix) != want {
		return nil, fmt.Errorf("raster: pixel data is %d bytes, want %d for %dx%d", len(pix), want, width, height)
	}
	b := New(width, height)
	copy(b.pix, pix)
	return b, nil
}

// FromARGB unpacks 32-bit words laid out as alpha<<24 | red<<16 | green<<8 | blue.
func FromARGB(words []uint32, width, height int) (*Buffer, error) {
	if err := CheckDimensions(width, height); err != nil {
		return nil, err
	}
	if len(words) != width*height {
		return nil, fmt.Errorf("raster: got %d pixels, want %d for %dx%d", len(words), width*height, width, height)
	}
	b := New(width, height)
	for i, w := range words {
		p := b.pix[i*BytesPerPixel:]
		p[0] = uint8(w >> 16)
		p[1] = uint8(w >> 8)
		p[2] = uint8(w)
		p[3] = uint8(w >> 24)
	}
	return b, nil
}

// FromARGBBytes unpacks little-endian 32-bit ARGB words, the layout of a
// packed integer ARGB raster dumped from memory on little-endian hosts.
func FromARGBBytes(data []byte, width, height int) (*Buffer, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("raster: ARGB data is %d bytes, not a whole number of words", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return FromARGB(words, width, height)
}

// FromImage copies any image.Image into a buffer anchored at (0,0).
func FromImage(src image.Image) *Buffer {
	r := src.Bounds()
	b := New(r.Dx(), r.Dy())

	if n, ok := src.(*image.NRGBA); ok {
		rowLen := r.Dx() * BytesPerPixel
		for y := 0; y < r.Dy(); y++ {
			off := n.PixOffset(r.Min.X, r.Min.Y+y)
			copy(b.pix[y*rowLen:(y+1)*rowLen], n.Pix[off:off+rowLen])
		}
		return b
	}

	dst := &image.NRGBA{Pix: b.pix, Stride: r.Dx() * BytesPerPixel, Rect: image.Rect(0, 0, r.Dx(), r.Dy())}
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return b
}

// Width returns the number of columns.
func (b *Buffer) Width() int { return b.width }

// Height returns the number of rows.
func (b *Buffer) Height() int { return b.height }

func (b *Buffer) offset(row, col int, ch Channel) int {
	if row < 0 || row >= b.height || col < 0 || col >= b.width {
		panic(fmt.Sprintf("raster: position (%d,%d) outside %dx%d buffer", row, col, b.width, b.height))
	}
	if ch < Alpha || ch > Blue {
		panic(fmt.Sprintf("raster: invalid channel %d", ch))
	}
	return (row*b.width+col)*BytesPerPixel + channelOffset[ch]
}

// At returns the value of channel ch at (row, col).
func (b *Buffer) At(row, col int, ch Channel) uint8 {
	return b.pix[b.offset(row, col, ch)]
}

// Set stores v in channel ch at (row, col).
func (b *Buffer) Set(row, col int, ch Channel, v uint8) {
	b.pix[b.offset(row, col, ch)] = v
}

// Clone returns an independent deep copy.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{width: b.width, height: b.height, pix: make([]uint8, len(b.pix))}
	copy(c.pix, b.pix)
	return c
}

// Bytes returns a copy of the raw interleaved R,G,B,A bytes.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.pix))
	copy(out, b.pix)
	return out
}

// ARGB packs the buffer as alpha<<24 | red<<16 | green<<8 | blue words.
func (b *Buffer) ARGB() []uint32 {
	out := make([]uint32, b.width*b.height)
	for i := range out {
		p := b.pix[i*BytesPerPixel:]
		out[i] = uint32(p[3])<<24 | uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	}
	return out
}

// ARGBBytes is ARGB serialized as little-endian words.
func (b *Buffer) ARGBBytes() []byte {
	words := b.ARGB()
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// NRGBA returns a copy of the buffer as an *image.NRGBA.
func (b *Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Bytes(),
		Stride: b.width * BytesPerPixel,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// Equal reports whether both buffers have the same shape and channel values.
func (b *Buffer) Equal(other *Buffer) bool {
	if other == nil {
		return false
	}
	return b.width == other.width && b.height == other.height && bytes.Equal(b.pix, other.pix)
}
