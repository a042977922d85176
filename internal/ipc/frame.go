package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Op identifies the job a request asks for
type Op byte

const (
	OpEmbed   Op = 0x01
	OpExtract Op = 0x02
)

// Flags contains frame metadata flags
type Flags byte

const (
	// FlagZstd marks a zstd-compressed pixel section.
	FlagZstd Flags = 0x01
	// FlagTruncated is set on embed responses when the message did not fit.
	FlagTruncated Flags = 0x02
	// FlagARGB marks pixel sections laid out as little-endian packed ARGB
	// words instead of R,G,B,A bytes. Embed responses use the request layout.
	FlagARGB Flags = 0x04
)

// Status is the outcome carried by a response
type Status byte

const (
	StatusOK         Status = 0x00
	StatusNotFound   Status = 0x01
	StatusBadRequest Status = 0x02
	StatusInternal   Status = 0x03
)

// RequestHeaderSize is the size of the request header in bytes
// Op(1) + Flags(1) + Width(4) + Height(4) + PixLen(4) + TextLen(4) = 18
const RequestHeaderSize = 18

// ResponseHeaderSize is the size of the response header in bytes
// Status(1) + Flags(1) + Width(4) + Height(4) + Length(4) = 14
const ResponseHeaderSize = 14

// Request is a decoded job request. Pixels are uncompressed, in the layout
// selected by FlagARGB.
type Request struct {
	Op     Op
	Flags  Flags
	Width  int
	Height int
	Pixels []byte
	Text   string
}

// Response is a decoded job response. Payload holds pixels for embed, text
// for extract and an error message otherwise.
type Response struct {
	Status  Status
	Flags   Flags
	Width   int
	Height  int
	Payload []byte
}

func (o Op) String() string {
	switch o {
	case OpEmbed:
		return "embed"
	case OpExtract:
		return "extract"
	default:
		return "unknown"
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusBadRequest:
		return "bad request"
	case StatusInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// wire encodes and decodes frames, compressing pixel sections on demand.
// Both zstd coders are safe for concurrent EncodeAll/DecodeAll calls.
type wire struct {
	maxBytes int64
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func newWire(maxBytes int64) (*wire, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxBytes)))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &wire{maxBytes: maxBytes, enc: enc, dec: dec}, nil
}

func (w *wire) close() {
	w.enc.Close()
	w.dec.Close()
}

func (w *wire) pack(pix []byte, flags Flags) []byte {
	if flags&FlagZstd == 0 {
		return pix
	}
	return w.enc.EncodeAll(pix, make([]byte, 0, len(pix)/2))
}

func (w *wire) unpack(data []byte, flags Flags) ([]byte, error) {
	if flags&FlagZstd == 0 {
		return data, nil
	}
	out, err := w.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// readLen reads n bytes after checking n against the frame limit.
func (w *wire) readLen(r io.Reader, n uint32) ([]byte, error) {
	if int64(n) > w.maxBytes {
		return nil, fmt.Errorf("frame section too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (w *wire) writeRequest(out io.Writer, req Request) error {
	pix := w.pack(req.Pixels, req.Flags)

	header := make([]byte, RequestHeaderSize)
	header[0] = byte(req.Op)
	header[1] = byte(req.Flags)
	binary.LittleEndian.PutUint32(header[2:6], uint32(req.Width))
	binary.LittleEndian.PutUint32(header[6:10], uint32(req.Height))
	binary.LittleEndian.PutUint32(header[10:14], uint32(len(pix)))
	binary.LittleEndian.PutUint32(header[14:18], uint32(len(req.Text)))

	if _, err := out.Write(header); err != nil {
		return err
	}
	if _, err := out.Write(pix); err != nil {
		return err
	}
	_, err := io.WriteString(out, req.Text)
	return err
}

// readRequest returns io.EOF untouched when the peer closed between frames.
func (w *wire) readRequest(in io.Reader) (Request, error) {
	header := make([]byte, RequestHeaderSize)
	if _, err := io.ReadFull(in, header); err != nil {
		return Request{}, err
	}

	req := Request{
		Op:     Op(header[0]),
		Flags:  Flags(header[1]),
		Width:  int(binary.LittleEndian.Uint32(header[2:6])),
		Height: int(binary.LittleEndian.Uint32(header[6:10])),
	}
	pixLen := binary.LittleEndian.Uint32(header[10:14])
	textLen := binary.LittleEndian.Uint32(header[14:18])

	pix, err := w.readLen(in, pixLen)
	if err != nil {
		return req, err
	}
	text, err := w.readLen(in, textLen)
	if err != nil {
		return req, err
	}

	req.Pixels, err = w.unpack(pix, req.Flags)
	if err != nil {
		return req, err
	}
	req.Text = string(text)
	return req, nil
}

func (w *wire) writeResponse(out io.Writer, resp Response) error {
	header := make([]byte, ResponseHeaderSize)
	header[0] = byte(resp.Status)
	header[1] = byte(resp.Flags)
	binary.LittleEndian.PutUint32(header[2:6], uint32(resp.Width))
	binary.LittleEndian.PutUint32(header[6:10], uint32(resp.Height))
	binary.LittleEndian.PutUint32(header[10:14], uint32(len(resp.Payload)))

	if _, err := out.Write(header); err != nil {
		return err
	}
	_, err := out.Write(resp.Payload)
	return err
}

func (w *wire) readResponse(in io.Reader) (Response, error) {
	header := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(in, header); err != nil {
		return Response{}, err
	}

	resp := Response{
		Status: Status(header[0]),
		Flags:  Flags(header[1]),
		Width:  int(binary.LittleEndian.Uint32(header[2:6])),
		Height: int(binary.LittleEndian.Uint32(header[6:10])),
	}
	payload, err := w.readLen(in, binary.LittleEndian.Uint32(header[10:14]))
	if err != nil {
		return resp, err
	}
	resp.Payload = payload
	return resp, nil
}
