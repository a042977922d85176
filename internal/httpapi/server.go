// Package httpapi exposes embed and extract jobs over HTTP.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/zachmartin/pixelsteg/internal/raster"
	"github.com/zachmartin/pixelsteg/internal/service"
	"github.com/zachmartin/pixelsteg/internal/steg"
)

const (
	// HeaderRequestID carries the id assigned to every request.
	HeaderRequestID = "X-Request-ID"
	// HeaderTruncated reports whether the embedded message was cut short.
	HeaderTruncated = "X-Steg-Truncated"
	// HeaderJobID carries the service job id.
	HeaderJobID = "X-Steg-Job-ID"

	// formOverhead is allowed on top of MaxImageBytes for multipart framing
	// and the text field.
	formOverhead = 1 << 20
	// memoryLimit is the multipart form size kept in memory.
	memoryLimit = 32 << 20
)

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Server routes HTTP requests to a Service.
type Server struct {
	svc     *service.Service
	log     zerolog.Logger
	origins []string
	router  *mux.Router
}

// New creates a Server for svc.
func New(svc *service.Service, opts Options) *Server {
	s := &Server{
		svc:     svc,
		log:     opts.Logger.With().Str("component", "http").Logger(),
		origins: opts.AllowedOrigins,
		router:  mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/embed", s.handleEmbed).Methods(http.MethodPost)
	v1.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)

	return s
}

// ServeHTTP wraps the router with request ids, CORS and access logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id := r.Header.Get(HeaderRequestID)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, id)

	log := s.log.With().Str("request_id", id).Logger()
	r = r.WithContext(log.WithContext(r.Context()))
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	if s.cors(rec, r) {
		s.router.ServeHTTP(rec, r)
	}

	log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Int64("bytes", rec.bytes).
		Dur("elapsed", time.Since(start)).
		Msg("request")
}

// cors sets the CORS headers and reports whether the request still needs
// routing. Preflight requests are answered here.
func (s *Server) cors(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin != "" && s.originAllowed(origin) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderRequestID)
		h.Set("Access-Control-Expose-Headers", strings.Join([]string{HeaderRequestID, HeaderTruncated, HeaderJobID}, ", "))
		h.Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	return true
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)

	format := s.svc.OutputFormat()
	if name := r.URL.Query().Get("format"); name != "" {
		f, err := raster.ParseFormat(name)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		s.fail(w, r, statusFor(err, http.StatusBadRequest), err)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("missing image file"))
		return
	}
	defer file.Close()

	buf, _, err := s.svc.DecodeImage(file)
	if err != nil {
		s.fail(w, r, statusFor(err, http.StatusBadRequest), err)
		return
	}

	res, err := s.svc.Embed(r.Context(), "http", buf, r.FormValue("text"))
	if err != nil {
		s.fail(w, r, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	var out bytes.Buffer
	if err := s.svc.EncodeImage(&out, res.Buffer, format); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", format.ContentType())
	h.Set("Content-Length", strconv.Itoa(out.Len()))
	h.Set(HeaderTruncated, strconv.FormatBool(res.Stats.Truncated))
	h.Set(HeaderJobID, res.JobID.String())
	w.WriteHeader(http.StatusOK)
	out.WriteTo(w)
}

type extractResponse struct {
	Found bool   `json:"found"`
	Text  string `json:"text,omitempty"`
	JobID string `json:"job_id"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)

	var body io.Reader = r.Body
	if isMultipart(r) {
		if err := r.ParseMultipartForm(memoryLimit); err != nil {
			s.fail(w, r, statusFor(err, http.StatusBadRequest), err)
			return
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, errors.New("missing image file"))
			return
		}
		defer file.Close()
		body = file
	}

	buf, _, err := s.svc.DecodeImage(body)
	if err != nil {
		s.fail(w, r, statusFor(err, http.StatusBadRequest), err)
		return
	}

	res, err := s.svc.Extract(r.Context(), "http", buf)
	if err != nil {
		s.fail(w, r, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	status := http.StatusOK
	if !res.Found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, extractResponse{Found: res.Found, Text: res.Text, JobID: res.JobID.String()})
}

// limitBody caps the request body at MaxImageBytes plus form overhead.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	if limit := s.svc.Limits().MaxImageBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	}
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mt, "multipart/")
}

// statusFor maps service errors to HTTP status codes, using fallback for
// anything it does not recognize.
func statusFor(err error, fallback int) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, service.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, steg.ErrUnsupportedCharacter):
		return http.StatusUnprocessableEntity
	default:
		return fallback
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int64
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.written = true
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}
