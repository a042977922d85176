package raster

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	// Input formats registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/xfmoulet/qoi"
)

// Format is a lossless output container. Lossy formats are accepted on input
// only: re-quantizing would destroy the low-order bits the codec writes.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
	FormatQOI  Format = "qoi"
)

// ErrUnsupportedFormat is returned for output formats that are not lossless.
var ErrUnsupportedFormat = errors.New("raster: unsupported output format")

// ParseFormat maps a format name ("png", "tif", "tiff", "qoi") to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "png":
		return FormatPNG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "qoi":
		return FormatQOI, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatFromPath picks the output format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatTIFF:
		return "image/tiff"
	case FormatQOI:
		return "image/qoi"
	default:
		return "image/png"
	}
}

// EncodeOptions tunes the output encoders.
type EncodeOptions struct {
	PNGCompression png.CompressionLevel
}

// ParsePNGCompression maps "default", "none", "speed" or "best".
func ParsePNGCompression(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	default:
		return 0, fmt.Errorf("raster: unknown png compression %q", name)
	}
}

// Decode reads any registered image format into a buffer and reports the
// format name image.Decode detected.
func Decode(r io.Reader) (*Buffer, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("raster: decode image: %w", err)
	}
	return FromImage(img), format, nil
}

// DecodeConfig reads only the image header, for size checks before a full decode.
func DecodeConfig(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("raster: decode image header: %w", err)
	}
	return cfg, format, nil
}

// Encode writes b to w in a lossless format.
func Encode(w io.Writer, b *Buffer, f Format, opts EncodeOptions) error {
	img := b.NRGBA()

	var err error
	switch f {
	case FormatPNG, "":
		enc := png.Encoder{CompressionLevel: opts.PNGCompression}
		err = enc.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatQOI:
		err = qoi.Encode(w, img)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return fmt.Errorf("raster: encode %s: %w", f, err)
	}
	return nil
}
