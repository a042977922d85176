package steg

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// CharsetError reports the first character of a payload that has no Latin-1
// encoding.
type CharsetError struct {
	Offset  int  // byte offset in the UTF-8 input
	Rune    rune // utf8.RuneError when Invalid is set
	Invalid bool // the input is not valid UTF-8 at Offset
}

func (e *CharsetError) Error() string {
	if e.Invalid {
		return fmt.Sprintf("steg: invalid UTF-8 at byte %d", e.Offset)
	}
	return fmt.Sprintf("steg: character %q (U+%04X) at byte %d is outside Latin-1", e.Rune, e.Rune, e.Offset)
}

func (e *CharsetError) Is(target error) bool {
	return target == ErrUnsupportedCharacter
}

// Frame encodes text as Latin-1 and wraps it as
// START START START payload [pad...] TERMINATOR, padded with the terminator
// value so that everything after the start marker is a multiple of 3 bytes.
func Frame(text string) ([]byte, error) {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			return nil, &CharsetError{Offset: i, Rune: r, Invalid: true}
		}
		if r > 0xFF {
			return nil, &CharsetError{Offset: i, Rune: r}
		}
		i += size
	}

	payload, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		return nil, fmt.Errorf("steg: latin-1 encode: %w", err)
	}

	pad := paddingFor(len(payload))
	frame := make([]byte, 0, startMarkerLen+len(payload)+pad+1)
	for i := 0; i < startMarkerLen; i++ {
		frame = append(frame, StartMarker)
	}
	frame = append(frame, payload...)
	for i := 0; i < pad; i++ {
		frame = append(frame, Terminator)
	}
	return append(frame, Terminator), nil
}

// paddingFor returns how many pad bytes make (n + pad + 1) a multiple of 3.
func paddingFor(n int) int {
	return (3 - (n % 3)) - 1
}
