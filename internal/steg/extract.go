package steg

import (
	"golang.org/x/text/encoding/charmap"

	"github.com/zachmartin/pixelsteg/internal/raster"
)

// scanState tracks one decode across chunks.
type scanState struct {
	markers int // consecutive start markers seen
	out     []byte
}

// consume scans whole bytes. It reports done once a terminator follows a
// complete start marker, and ErrNotFound as soon as the stream cannot be a
// frame.
func (s *scanState) consume(data []byte) (done bool, err error) {
	for _, b := range data {
		if b == StartMarker {
			// Markers are swallowed wherever they appear.
			s.markers++
			continue
		}
		if s.markers < startMarkerLen {
			return false, ErrNotFound
		}
		if b == Terminator {
			return true, nil
		}
		s.out = append(s.out, b)
	}
	return false, nil
}

// Extract recovers the message hidden in src, or returns ErrNotFound.
// Symbols are decoded in chunks so that reading stops shortly after the
// terminator instead of walking the whole image.
func (c *Codec) Extract(src *raster.Buffer) (string, error) {
	sched := c.scheduler(src)
	syms := make([]byte, 0, c.chunkSymbols)
	chunk := make([]byte, 0, c.chunkSymbols/symbolsPerByte)

	var (
		scan scanState
		st   State
	)
	for {
		pos, next, ok := sched.Next(st)
		if !ok {
			break
		}
		for _, ch := range symbolChannels {
			syms = append(syms, src.At(pos.Row, pos.Col, ch)&lowMask)
		}
		st = next.WithSkip(syms[len(syms)-1])

		if len(syms) == c.chunkSymbols {
			chunk = packSymbols(chunk[:0], syms)
			syms = syms[:0]
			done, err := scan.consume(chunk)
			if err != nil {
				return "", err
			}
			if done {
				return decodeLatin1(scan.out)
			}
		}
	}

	// Image exhausted: scan whatever whole bytes remain.
	done, err := scan.consume(packSymbols(chunk[:0], syms))
	if err != nil {
		return "", err
	}
	if !done {
		return "", ErrNotFound
	}
	return decodeLatin1(scan.out)
}

func decodeLatin1(b []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
