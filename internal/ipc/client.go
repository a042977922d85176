package ipc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

// defaultClientMaxBytes bounds responses read by a Client.
const defaultClientMaxBytes = 1 << 30

// RemoteError is a non-OK status returned by the server.
type RemoteError struct {
	Status  Status
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: %s: %s", e.Status, e.Message)
}

// Client issues requests over one connection. Calls are serialized.
type Client struct {
	conn     net.Conn
	wire     *wire
	compress bool

	mu sync.Mutex
}

// Dial connects to a stegd socket. With compress set, pixel sections travel
// zstd-compressed in both directions.
func Dial(ctx context.Context, socketPath string, compress bool) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", socketPath, err)
	}
	w, err := newWire(defaultClientMaxBytes)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{conn: conn, wire: w, compress: compress}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wire.close()
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Zero deadline when ctx has none.
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, err
	}

	if c.compress {
		req.Flags |= FlagZstd
	}
	if err := c.wire.writeRequest(c.conn, req); err != nil {
		return Response{}, fmt.Errorf("ipc: write request: %w", err)
	}
	resp, err := c.wire.readResponse(c.conn)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	return resp, nil
}

// Embed sends buf and text to the server and returns the encoded buffer.
// truncated reports that the message did not fit.
func (c *Client) Embed(ctx context.Context, buf *raster.Buffer, text string) (out *raster.Buffer, truncated bool, err error) {
	resp, err := c.do(ctx, Request{
		Op:     OpEmbed,
		Width:  buf.Width(),
		Height: buf.Height(),
		Pixels: buf.Bytes(),
		Text:   text,
	})
	if err != nil {
		return nil, false, err
	}
	if resp.Status != StatusOK {
		return nil, false, &RemoteError{Status: resp.Status, Message: string(resp.Payload)}
	}

	pix, err := c.wire.unpack(resp.Payload, resp.Flags)
	if err != nil {
		return nil, false, err
	}
	out, err = raster.FromNRGBA(pix, resp.Width, resp.Height)
	if err != nil {
		return nil, false, err
	}
	return out, resp.Flags&FlagTruncated != 0, nil
}

// Extract asks the server for the message in buf. It returns
// steg.ErrNotFound when there is none.
func (c *Client) Extract(ctx context.Context, buf *raster.Buffer) (string, error) {
	resp, err := c.do(ctx, Request{
		Op:     OpExtract,
		Width:  buf.Width(),
		Height: buf.Height(),
		Pixels: buf.Bytes(),
	})
	if err != nil {
		return "", err
	}

	switch resp.Status {
	case StatusOK:
		return string(resp.Payload), nil
	case StatusNotFound:
		return "", steg.ErrNotFound
	default:
		return "", &RemoteError{Status: resp.Status, Message: string(resp.Payload)}
	}
}
