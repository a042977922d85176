// Package steg hides a short Latin-1 text inside the two low-order bits of
// the red, green and blue channels of a pixel buffer, and recovers it.
//
// A payload is framed as "~~~" + text + padding + "!" and split into 2-bit
// symbols. Symbols are written three at a time (one pixel) along a row-major
// walk restricted to pixels where row*col exceeds the insertion threshold.
// After each pixel the walk skips as many eligible pixels as the value of
// the blue symbol just written, so the schedule is derived from the payload
// itself and the decoder recomputes it from what it reads.
//
// A Codec is immutable and safe for concurrent use.
package steg

import (
	"errors"
	"fmt"

	"github.com/zachmartin/pixelsteg/internal/raster"
)

const (
	// DefaultInsertionThreshold is the row*col product below which no pixel
	// carries data. Images produced by earlier versions rely on this value.
	DefaultInsertionThreshold = 4096

	// DefaultChunkSymbols is how many symbols the decoder collects before it
	// reassembles bytes and looks for the terminator.
	DefaultChunkSymbols = 768

	// StartMarker is repeated startMarkerLen times at the head of every frame.
	StartMarker byte = '~'

	// Terminator ends a frame. Padding uses the same value.
	Terminator byte = '!'

	startMarkerLen = 3

	lowMask  = 0x03
	highMask = 0xFF &^ lowMask

	symbolsPerByte  = 4
	symbolsPerPixel = 3
)

// payload channels in write order; the last one clocks the skip countdown
var symbolChannels = [symbolsPerPixel]raster.Channel{raster.Red, raster.Green, raster.Blue}

var (
	// ErrNotFound is returned by Extract when the image holds no message.
	ErrNotFound = errors.New("steg: no encoded message")

	// ErrUnsupportedCharacter is matched by a *CharsetError.
	ErrUnsupportedCharacter = errors.New("steg: character outside Latin-1")

	errInvalidOption = errors.New("steg: invalid option")
)

// Codec embeds and extracts messages with a fixed insertion threshold and
// decode chunk size.
type Codec struct {
	threshold    int
	chunkSymbols int
}

// Option configures a Codec.
type Option func(*Codec) error

// WithInsertionThreshold sets the row*col product a pixel must exceed to
// carry data. Encoder and decoder must agree on it.
func WithInsertionThreshold(n int) Option {
	return func(c *Codec) error {
		if n < 0 {
			return fmt.Errorf("%w: insertion threshold %d is negative", errInvalidOption, n)
		}
		c.threshold = n
		return nil
	}
}

// WithChunkSymbols sets the decode chunk size. It must be a positive multiple
// of 12 so chunks hold whole pixels and whole bytes.
func WithChunkSymbols(n int) Option {
	return func(c *Codec) error {
		if n <= 0 || n%(symbolsPerPixel*symbolsPerByte) != 0 {
			return fmt.Errorf("%w: chunk size %d is not a positive multiple of 12", errInvalidOption, n)
		}
		c.chunkSymbols = n
		return nil
	}
}

// New returns a Codec with the defaults overridden by opts.
func New(opts ...Option) (*Codec, error) {
	c := &Codec{
		threshold:    DefaultInsertionThreshold,
		chunkSymbols: DefaultChunkSymbols,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns a Codec compatible with images encoded by earlier versions.
func Default() *Codec {
	c, _ := New()
	return c
}

// InsertionThreshold returns the configured threshold.
func (c *Codec) InsertionThreshold() int { return c.threshold }

// ChunkSymbols returns the configured decode chunk size.
func (c *Codec) ChunkSymbols() int { return c.chunkSymbols }

func (c *Codec) scheduler(b *raster.Buffer) Scheduler {
	return Scheduler{Width: b.Width(), Height: b.Height(), Threshold: c.threshold}
}
