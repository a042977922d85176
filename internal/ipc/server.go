// Package ipc carries raw pixel buffers between stegd and local producers
// over a Unix socket, so callers that already hold decoded pixels skip image
// file encoding entirely.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/service"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

// Jobs runs the work behind each request.
type Jobs interface {
	Embed(ctx context.Context, source string, buf *raster.Buffer, text string) (service.EmbedResult, error)
	Extract(ctx context.Context, source string, buf *raster.Buffer) (service.ExtractResult, error)
}

// Server listens for job requests on a Unix socket. Each connection may
// carry any number of sequential requests.
type Server struct {
	socketPath string
	jobs       Jobs
	wire       *wire
	log        zerolog.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new IPC server. maxBytes bounds every frame section.
func NewServer(socketPath string, jobs Jobs, maxBytes int64, log zerolog.Logger) (*Server, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max frame size must be positive")
	}
	w, err := newWire(maxBytes)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		jobs:       jobs,
		wire:       w,
		log:        log.With().Str("component", "ipc").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins listening for connections and serving requests
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("already running")
	}
	s.running = true
	s.mu.Unlock()

	// Remove a stale socket file left by a previous run
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	s.log.Info().Str("socket", s.socketPath).Msg("IPC listening")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("IPC accept error")
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.log.Debug().Msg("IPC client connected")

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
		s.log.Debug().Msg("IPC client disconnected")
	}()

	requests := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		req, err := s.wire.readRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warn().Err(err).Int("requests", requests).Msg("IPC request read error")
			}
			return
		}
		requests++

		resp := s.serve(req)
		if err := s.wire.writeResponse(conn, resp); err != nil {
			s.log.Warn().Err(err).Msg("IPC response write error")
			return
		}
	}
}

// decodePixels builds a buffer from a request's pixel section.
func decodePixels(req Request) (*raster.Buffer, error) {
	if req.Flags&FlagARGB != 0 {
		return raster.FromARGBBytes(req.Pixels, req.Width, req.Height)
	}
	return raster.FromNRGBA(req.Pixels, req.Width, req.Height)
}

// encodePixels serializes buf in the layout selected by flags.
func encodePixels(buf *raster.Buffer, flags Flags) []byte {
	if flags&FlagARGB != 0 {
		return buf.ARGBBytes()
	}
	return buf.Bytes()
}

func (s *Server) serve(req Request) (resp Response) {
	// A panic in one job answers that request instead of taking the
	// daemon down.
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("op", req.Op.String()).Msg("IPC job panicked")
			resp = errorResponse(StatusInternal, fmt.Errorf("internal error"))
		}
	}()

	buf, err := decodePixels(req)
	if err != nil {
		return errorResponse(StatusBadRequest, err)
	}

	switch req.Op {
	case OpEmbed:
		res, err := s.jobs.Embed(s.ctx, "ipc", buf, req.Text)
		if err != nil {
			return errorResponse(statusFor(err), err)
		}
		resp := Response{
			Status: StatusOK,
			Flags:  req.Flags & (FlagZstd | FlagARGB),
			Width:  res.Buffer.Width(),
			Height: res.Buffer.Height(),
		}
		if res.Stats.Truncated {
			resp.Flags |= FlagTruncated
		}
		resp.Payload = s.wire.pack(encodePixels(res.Buffer, resp.Flags), resp.Flags)
		return resp

	case OpExtract:
		res, err := s.jobs.Extract(s.ctx, "ipc", buf)
		if err != nil {
			return errorResponse(statusFor(err), err)
		}
		if !res.Found {
			return Response{Status: StatusNotFound, Width: req.Width, Height: req.Height}
		}
		return Response{
			Status:  StatusOK,
			Width:   req.Width,
			Height:  req.Height,
			Payload: []byte(res.Text),
		}

	default:
		return errorResponse(StatusBadRequest, fmt.Errorf("unknown op 0x%02x", byte(req.Op)))
	}
}

func statusFor(err error) Status {
	switch {
	case errors.Is(err, steg.ErrUnsupportedCharacter), errors.Is(err, service.ErrTooLarge):
		return StatusBadRequest
	default:
		return StatusInternal
	}
}

func errorResponse(status Status, err error) Response {
	return Response{Status: status, Payload: []byte(err.Error())}
}

// Stop shuts down the IPC server and waits for open connections to finish
// their current request.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.wire.close()

	// Remove socket file
	os.Remove(s.socketPath)

	s.log.Info().Msg("IPC server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
