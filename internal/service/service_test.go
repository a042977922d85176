package service

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachmartin/pixelsteg/internal/events"
	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func randomBuffer(t *testing.T, w, h int) *raster.Buffer {
	t.Helper()
	pix := make([]byte, w*h*raster.BytesPerPixel)
	rand.New(rand.NewSource(42)).Read(pix)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xFF
	}
	b, err := raster.FromNRGBA(pix, w, h)
	require.NoError(t, err)
	return b
}

func newTestService(rec *recorder, limits Limits) *Service {
	return New(Options{
		Codec:     steg.Default(),
		Publisher: rec,
		Logger:    zerolog.Nop(),
		Limits:    limits,
	})
}

func TestService_EmbedExtract(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(rec, Limits{MaxPixels: 1 << 20})
	img := randomBuffer(t, 256, 256)

	emb, err := svc.Embed(context.Background(), "test", img, "service layer")
	require.NoError(t, err)
	require.NotNil(t, emb.Buffer)
	assert.False(t, emb.Stats.Truncated)

	ext, err := svc.Extract(context.Background(), "test", emb.Buffer)
	require.NoError(t, err)
	assert.True(t, ext.Found)
	assert.Equal(t, "service layer", ext.Text)

	require.Len(t, rec.events, 2)
	assert.Equal(t, events.KindEmbed, rec.events[0].Kind)
	assert.Equal(t, emb.JobID, rec.events[0].ID)
	assert.Equal(t, events.KindExtract, rec.events[1].Kind)
	assert.True(t, rec.events[1].Found)
	assert.Equal(t, "test", rec.events[1].Source)
}

func TestService_ExtractNotFound(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(rec, Limits{})

	ext, err := svc.Extract(context.Background(), "test", randomBuffer(t, 200, 200))
	require.NoError(t, err)
	assert.False(t, ext.Found)
	assert.Empty(t, ext.Text)
	require.Len(t, rec.events, 1)
	assert.False(t, rec.events[0].Found)
}

func TestService_EmbedRejectsCharacters(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(rec, Limits{})

	_, err := svc.Embed(context.Background(), "test", randomBuffer(t, 200, 200), "naïve ✓")
	assert.ErrorIs(t, err, steg.ErrUnsupportedCharacter)
	require.Len(t, rec.events, 1)
	assert.NotEmpty(t, rec.events[0].Error)
}

func TestService_Limits(t *testing.T) {
	svc := newTestService(&recorder{}, Limits{MaxImageBytes: 64, MaxPixels: 100})

	_, err := svc.Embed(context.Background(), "test", randomBuffer(t, 20, 20), "x")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = svc.DecodeImage(bytes.NewReader(make([]byte, 65)))
	assert.ErrorIs(t, err, ErrTooLarge)

	var buf bytes.Buffer
	require.NoError(t, raster.Encode(&buf, randomBuffer(t, 20, 20), raster.FormatPNG, raster.EncodeOptions{}))
	big := newTestService(&recorder{}, Limits{MaxImageBytes: 1 << 20, MaxPixels: 100})
	_, _, err = big.DecodeImage(&buf)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestService_CheckSize(t *testing.T) {
	svc := newTestService(&recorder{}, Limits{MaxPixels: 40_000_000})

	assert.NoError(t, svc.CheckSize(8000, 5000))
	assert.NoError(t, svc.CheckSize(0, 1<<40))
	assert.ErrorIs(t, svc.CheckSize(8000, 5001), ErrTooLarge)
	assert.ErrorIs(t, svc.CheckSize(1<<20, 1<<20), ErrTooLarge)
	// The product wraps negative in int.
	assert.Error(t, svc.CheckSize(4294836226, 2147549185))
	assert.Error(t, svc.CheckSize(-1, 5))
}

func TestService_DecodeEncodeImage(t *testing.T) {
	svc := New(Options{Logger: zerolog.Nop(), OutputFormat: raster.FormatQOI})
	img := randomBuffer(t, 32, 32)

	var buf bytes.Buffer
	require.NoError(t, svc.EncodeImage(&buf, img, ""))

	got, format, err := svc.DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "qoi", format)
	assert.True(t, img.Equal(got))
}

func TestService_CanceledContext(t *testing.T) {
	svc := newTestService(&recorder{}, Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Extract(ctx, "test", randomBuffer(t, 10, 10))
	assert.ErrorIs(t, err, context.Canceled)
}
