// Package service runs embed and extract jobs for the daemon's transports:
// it enforces size limits, logs each job and emits a job event.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zachmartin/pixelsteg/internal/events"
	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

// ErrTooLarge is returned when an image exceeds the configured limits.
var ErrTooLarge = errors.New("service: image exceeds size limits")

// Limits bounds the work a single job may cause.
type Limits struct {
	MaxImageBytes int64
	MaxPixels     int
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Codec         *steg.Codec
	Publisher     events.Publisher
	Logger        zerolog.Logger
	Limits        Limits
	OutputFormat  raster.Format
	EncodeOptions raster.EncodeOptions
}

// Service is safe for concurrent use.
type Service struct {
	codec     *steg.Codec
	publisher events.Publisher
	log       zerolog.Logger
	limits    Limits
	format    raster.Format
	encOpts   raster.EncodeOptions
}

// EmbedResult is the outcome of an embed job.
type EmbedResult struct {
	JobID  uuid.UUID
	Buffer *raster.Buffer
	Stats  steg.EmbedStats
}

// ExtractResult is the outcome of an extract job. Found is false when the
// image holds no message.
type ExtractResult struct {
	JobID uuid.UUID
	Text  string
	Found bool
}

// New creates a Service.
func New(opts Options) *Service {
	s := &Service{
		codec:     opts.Codec,
		publisher: opts.Publisher,
		log:       opts.Logger.With().Str("component", "service").Logger(),
		limits:    opts.Limits,
		format:    opts.OutputFormat,
		encOpts:   opts.EncodeOptions,
	}
	if s.codec == nil {
		s.codec = steg.Default()
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.format == "" {
		s.format = raster.FormatPNG
	}
	return s
}

// Limits returns the configured limits.
func (s *Service) Limits() Limits { return s.limits }

// OutputFormat returns the default output format.
func (s *Service) OutputFormat() raster.Format { return s.format }

// CheckSize rejects images larger than MaxPixels.
func (s *Service) CheckSize(width, height int) error {
	if err := raster.CheckDimensions(width, height); err != nil {
		return err
	}
	if s.limits.MaxPixels > 0 && width > 0 && height > s.limits.MaxPixels/width {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, width, height, s.limits.MaxPixels)
	}
	return nil
}

// DecodeImage reads an image file, checking the byte and pixel limits before
// decoding the pixel data.
func (s *Service) DecodeImage(r io.Reader) (*raster.Buffer, string, error) {
	if s.limits.MaxImageBytes > 0 {
		r = io.LimitReader(r, s.limits.MaxImageBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if s.limits.MaxImageBytes > 0 && int64(len(data)) > s.limits.MaxImageBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.limits.MaxImageBytes)
	}

	cfg, _, err := raster.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if err := s.CheckSize(cfg.Width, cfg.Height); err != nil {
		return nil, "", err
	}
	return raster.Decode(bytes.NewReader(data))
}

// EncodeImage writes buf in format f, or the default format when f is empty.
func (s *Service) EncodeImage(w io.Writer, buf *raster.Buffer, f raster.Format) error {
	if f == "" {
		f = s.format
	}
	return raster.Encode(w, buf, f, s.encOpts)
}

// Embed hides text in a copy of buf.
func (s *Service) Embed(ctx context.Context, source string, buf *raster.Buffer, text string) (EmbedResult, error) {
	res := EmbedResult{JobID: uuid.New()}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := s.CheckSize(buf.Width(), buf.Height()); err != nil {
		return res, err
	}

	start := time.Now()
	out, stats, err := s.codec.EmbedStats(buf, text)
	elapsed := time.Since(start)

	log := s.log.With().
		Str("job_id", res.JobID.String()).
		Str("source", source).
		Int("width", buf.Width()).
		Int("height", buf.Height()).
		Logger()

	ev := events.Event{
		ID:         res.JobID,
		Kind:       events.KindEmbed,
		Source:     source,
		Width:      buf.Width(),
		Height:     buf.Height(),
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		At:         start.UTC(),
	}

	if err != nil {
		log.Warn().Err(err).Msg("embed rejected")
		ev.Error = err.Error()
		s.emit(ev)
		return res, err
	}

	res.Buffer = out
	res.Stats = stats
	ev.PayloadBytes = stats.FrameBytes
	ev.Truncated = stats.Truncated

	if stats.Truncated {
		log.Warn().
			Int("symbols", stats.Symbols).
			Int("symbols_written", stats.SymbolsWritten).
			Int("eligible", stats.Eligible).
			Msg("message truncated, image too small")
	} else {
		log.Info().
			Int("frame_bytes", stats.FrameBytes).
			Int("positions", stats.Positions).
			Dur("elapsed", elapsed).
			Msg("message embedded")
	}

	s.emit(ev)
	return res, nil
}

// Extract recovers the message hidden in buf. A missing message is reported
// through ExtractResult.Found, not as an error.
func (s *Service) Extract(ctx context.Context, source string, buf *raster.Buffer) (ExtractResult, error) {
	res := ExtractResult{JobID: uuid.New()}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := s.CheckSize(buf.Width(), buf.Height()); err != nil {
		return res, err
	}

	start := time.Now()
	text, err := s.codec.Extract(buf)
	elapsed := time.Since(start)

	log := s.log.With().
		Str("job_id", res.JobID.String()).
		Str("source", source).
		Int("width", buf.Width()).
		Int("height", buf.Height()).
		Logger()

	ev := events.Event{
		ID:         res.JobID,
		Kind:       events.KindExtract,
		Source:     source,
		Width:      buf.Width(),
		Height:     buf.Height(),
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		At:         start.UTC(),
	}

	switch {
	case errors.Is(err, steg.ErrNotFound):
		log.Info().Dur("elapsed", elapsed).Msg("no encoded message")
	case err != nil:
		log.Error().Err(err).Msg("extract failed")
		ev.Error = err.Error()
		s.emit(ev)
		return res, err
	default:
		res.Text = text
		res.Found = true
		ev.Found = true
		ev.PayloadBytes = len(text)
		log.Info().Dur("elapsed", elapsed).Msg("message extracted")
	}

	s.emit(ev)
	return res, nil
}

func (s *Service) emit(ev events.Event) {
	if err := s.publisher.Publish(ev); err != nil {
		s.log.Debug().Err(err).Str("event_id", ev.ID.String()).Msg("event not published")
	}
}
