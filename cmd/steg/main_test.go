package main

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachmartin/pixelsteg/internal/ipc"
	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/service"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	pix := make([]byte, w*h*raster.BytesPerPixel)
	rand.New(rand.NewSource(11)).Read(pix)
	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xFF
	}
	b, err := raster.FromNRGBA(pix, w, h)
	require.NoError(t, err)

	path := filepath.Join(dir, "cover.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, raster.Encode(f, b, raster.FormatPNG, raster.EncodeOptions{}))
	return path
}

func TestRun_EmbedExtract(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 160, 120)

	for _, ext := range []string{".png", ".tiff", ".qoi"} {
		t.Run(ext, func(t *testing.T) {
			out := filepath.Join(dir, "secret"+ext)
			var stdout, stderr bytes.Buffer
			code := run([]string{"embed", "-in", in, "-out", out, "-text", "meet at noon"}, &stdout, &stderr)
			require.Equal(t, exitOK, code, stderr.String())

			stdout.Reset()
			code = run([]string{"extract", "-in", out}, &stdout, &stderr)
			require.Equal(t, exitOK, code, stderr.String())
			assert.Equal(t, "meet at noon\n", stdout.String())
		})
	}
}

func TestRun_EmbedFromFileWithThreshold(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 100, 100)
	msg := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(msg, []byte("from a file"), 0o644))
	out := filepath.Join(dir, "out.png")

	var stdout, stderr bytes.Buffer
	code := run([]string{"embed", "-in", in, "-out", out, "-file", msg, "-threshold", "1600"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	stdout.Reset()
	code = run([]string{"extract", "-in", out, "-threshold", strconv.Itoa(1600)}, &stdout, &stderr)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "from a file\n", stdout.String())
}

func TestRun_ThroughSocket(t *testing.T) {
	dir := t.TempDir()
	socket := filepath.Join(dir, "d.sock")
	srv, err := ipc.NewServer(socket, service.New(service.Options{Logger: zerolog.Nop()}), 1<<24, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	in := writePNG(t, dir, 140, 140)
	out := filepath.Join(dir, "remote.png")

	var stdout, stderr bytes.Buffer
	code := run([]string{"embed", "-socket", socket, "-in", in, "-out", out, "-text", "via stegd"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	// Default threshold on both sides, so a local extract reads it too.
	stdout.Reset()
	code = run([]string{"extract", "-in", out}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Equal(t, "via stegd\n", stdout.String())

	stdout.Reset()
	code = run([]string{"extract", "-socket", socket, "-in", in}, &stdout, &stderr)
	assert.Equal(t, exitNotFound, code)

	stdout.Reset()
	code = run([]string{"embed", "-socket", socket, "-verify", "-in", in, "-out", out, "-text", "checked remotely"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "Verified message: checked remotely")
}

func TestRun_ThresholdWithSocketRejected(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 60, 60)
	socket := filepath.Join(dir, "unused.sock")

	for _, args := range [][]string{
		{"extract", "-socket", socket, "-in", in, "-threshold", "1600"},
		{"embed", "-socket", socket, "-in", in, "-out", filepath.Join(dir, "o.png"), "-text", "x", "-threshold", "4096"},
	} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitError, run(args, &stdout, &stderr), args[0])
		assert.Contains(t, stderr.String(), "-threshold cannot be combined with -socket")
	}
}

func TestRun_EmbedVerify(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "v.png")

	var stdout, stderr bytes.Buffer
	in := writePNG(t, dir, 150, 150)
	code := run([]string{"embed", "-verify", "-in", in, "-out", out, "-text", "round trip"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "Verified message: round trip")

	tests := []struct {
		name string
		size int
		text string
	}{
		{"truncated", 70, string(bytes.Repeat([]byte("y"), 400))},
		{"marker in payload", 150, "a~b"},
		{"terminator in payload", 150, "wait! more"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := writePNG(t, t.TempDir(), tt.size, tt.size)
			failed := filepath.Join(t.TempDir(), "f.png")
			var stdout, stderr bytes.Buffer
			code := run([]string{"embed", "-verify", "-in", in, "-out", failed, "-text", tt.text}, &stdout, &stderr)
			assert.Equal(t, exitError, code)
			_, err := os.Stat(failed)
			assert.True(t, os.IsNotExist(err), "no output is written when verification fails")
		})
	}
}

func TestRun_ExtractNotFound(t *testing.T) {
	in := writePNG(t, t.TempDir(), 120, 120)

	var stdout, stderr bytes.Buffer
	code := run([]string{"extract", "-in", in}, &stdout, &stderr)
	assert.Equal(t, exitNotFound, code)
	assert.Equal(t, notFoundMessage+"\n", stdout.String())
}

func TestRun_Usage(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 50, 50)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"hide"}},
		{"embed without text", []string{"embed", "-in", in, "-out", filepath.Join(dir, "o.png")}},
		{"embed with text and file", []string{"embed", "-in", in, "-out", filepath.Join(dir, "o.png"), "-text", "a", "-file", "b"}},
		{"lossy output", []string{"embed", "-in", in, "-out", filepath.Join(dir, "o.jpg"), "-text", "a"}},
		{"unsupported character", []string{"embed", "-in", in, "-out", filepath.Join(dir, "o.png"), "-text", "ǅ"}},
		{"extract without input", []string{"extract"}},
		{"missing input file", []string{"extract", "-in", filepath.Join(dir, "nope.png")}},
		{"bad flag", []string{"extract", "-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, exitError, run(tt.args, &stdout, &stderr))
		})
	}
}
