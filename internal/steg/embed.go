package steg

import "github.com/zachmartin/pixelsteg/internal/raster"

// EmbedStats describes what an embed call wrote.
type EmbedStats struct {
	FrameBytes     int // framed payload size, markers and padding included
	Symbols        int // symbols the frame needs
	SymbolsWritten int
	Positions      int // pixels modified
	Eligible       int // pixels beyond the insertion frontier
	Truncated      bool
}

// Embed returns a copy of src with text hidden in it. src is not modified.
// If the image is too small the message is silently cut short.
func (c *Codec) Embed(src *raster.Buffer, text string) (*raster.Buffer, error) {
	out, _, err := c.EmbedStats(src, text)
	return out, err
}

// EmbedStats is Embed that also reports how much of the frame fit.
func (c *Codec) EmbedStats(src *raster.Buffer, text string) (*raster.Buffer, EmbedStats, error) {
	frame, err := Frame(text)
	if err != nil {
		return nil, EmbedStats{}, err
	}
	symbols := ToSymbols(frame)

	out := src.Clone()
	sched := c.scheduler(out)
	stats := EmbedStats{
		FrameBytes: len(frame),
		Symbols:    len(symbols),
		Eligible:   sched.EligibleCount(),
	}

	var st State
	n := 0
	for n+symbolsPerPixel <= len(symbols) {
		pos, next, ok := sched.Next(st)
		if !ok {
			break
		}
		group := symbols[n : n+symbolsPerPixel]
		for i, ch := range symbolChannels {
			v := out.At(pos.Row, pos.Col, ch)
			out.Set(pos.Row, pos.Col, ch, (v&highMask)|group[i])
		}
		st = next.WithSkip(group[symbolsPerPixel-1])
		n += symbolsPerPixel
		stats.Positions++
	}

	stats.SymbolsWritten = n
	stats.Truncated = n < len(symbols)
	return out, stats, nil
}
