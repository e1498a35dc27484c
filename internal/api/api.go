// Package api serves the HTTP control surface of voxrelay.
//
// Every route answers with JSON. The pipeline itself is driven through a
// [Controller], which *app.App implements:
//
//	GET  /v1/state          pipeline snapshot
//	POST /v1/start          start a session (optional {"input","output"})
//	POST /v1/stop           stop the session
//	POST /v1/recalibrate    re-measure the ambient level
//	GET  /v1/transcript     lines of the current session
//	GET  /v1/transcripts    saved transcripts (?limit=N)
//	POST /v1/transcripts    save the current transcript ({"name"})
//	GET  /v1/devices        input and output device names
//	GET  /v1/voices         voice catalogue and selection
//	PUT  /v1/voice          select a voice ({"name"})
//	PUT  /v1/language       set the translation target ({"target"})
//
// /healthz, /readyz and /metrics are mounted when configured.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxrelay/internal/app"
	"github.com/MrWong99/voxrelay/internal/calibrate"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Controller is the part of the application the API drives.
type Controller interface {
	Start(ctx context.Context, opts app.StartOptions) error
	Stop() bool
	Recalibrate(ctx context.Context) (calibrate.Result, error)
	State() app.State

	Transcript() []transcript.Line
	SaveTranscript(ctx context.Context, name string) (store.Record, error)
	Transcripts(ctx context.Context, limit int) ([]store.Record, error)

	Devices() (inputs, outputs []string, err error)
	Voices() []string
	Voice() tts.Voice
	SetVoice(name string) (tts.Voice, error)
	SetTargetLanguage(code string) string
}

var _ Controller = (*app.App)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the metrics the request middleware records into.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStartTimeout bounds how long POST /v1/start and POST /v1/recalibrate
// may take, calibration included. Defaults to 30s.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Server) { s.startTimeout = d }
}

// Server routes HTTP requests to a [Controller].
type Server struct {
	ctrl           Controller
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	startTimeout   time.Duration
}

// New creates a Server for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, startTimeout: 30 * time.Second}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("POST /v1/start", s.handleStart)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("POST /v1/recalibrate", s.handleRecalibrate)
	mux.HandleFunc("GET /v1/transcript", s.handleTranscript)
	mux.HandleFunc("GET /v1/transcripts", s.handleListTranscripts)
	mux.HandleFunc("POST /v1/transcripts", s.handleSaveTranscript)
	mux.HandleFunc("GET /v1/devices", s.handleDevices)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("PUT /v1/voice", s.handleSetVoice)
	mux.HandleFunc("PUT /v1/language", s.handleSetLanguage)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var opts app.StartOptions
	if !decodeBody(w, r, &opts, true) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.startTimeout)
	defer cancel()
	if err := s.ctrl.Start(ctx, opts); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

type stopResponse struct {
	Stopped bool      `json:"stopped"`
	State   app.State `json:"state"`
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	stopped := s.ctrl.Stop()
	writeJSON(w, http.StatusOK, stopResponse{Stopped: stopped, State: s.ctrl.State()})
}

type recalibrateResponse struct {
	MeasuredDBFS    float64 `json:"measured_dbfs"`
	ThresholdDBFS   float64 `json:"threshold_dbfs"`
	CapturedSeconds float64 `json:"captured_seconds"`
	Fallback        bool    `json:"fallback"`
}

func (s *Server) handleRecalibrate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.startTimeout)
	defer cancel()
	res, err := s.ctrl.Recalibrate(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recalibrateResponse{
		MeasuredDBFS:    res.MeasuredDBFS,
		ThresholdDBFS:   res.ThresholdDBFS,
		CapturedSeconds: res.Captured.Seconds(),
		Fallback:        res.Fallback,
	})
}

type transcriptResponse struct {
	Lines []transcript.Line `json:"lines"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	lines := s.ctrl.Transcript()
	if lines == nil {
		lines = []transcript.Line{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Lines: lines})
}

type recordsResponse struct {
	Transcripts []store.Record `json:"transcripts"`
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	recs, err := s.ctrl.Transcripts(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{Transcripts: recs})
}

type saveRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSaveTranscript(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	rec, err := s.ctrl.SaveTranscript(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type devicesResponse struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	inputs, outputs, err := s.ctrl.Devices()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devicesResponse{Inputs: nonNil(inputs), Outputs: nonNil(outputs)})
}

type voicesResponse struct {
	Voices   []string `json:"voices"`
	Selected string   `json:"selected"`
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voicesResponse{Voices: nonNil(s.ctrl.Voices()), Selected: s.ctrl.Voice().Name})
}

type voiceRequest struct {
	Name string `json:"name"`
}

type voiceResponse struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}
	v, err := s.ctrl.SetVoice(req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Name: v.Name, ID: v.ID})
}

type languageRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	writeJSON(w, http.StatusOK, languageRequest{Target: s.ctrl.SetTargetLanguage(req.Target)})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

// decodeBody decodes the JSON request body into v. When optional is set an
// empty body is accepted. On failure it writes a 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
	return false
}

// statusFor maps application errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrNoDevice),
		errors.Is(err, app.ErrUnknownVoice):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotRunning),
		errors.Is(err, app.ErrEmptyTranscript),
		errors.Is(err, app.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, app.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, app.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "path", r.URL.Path, "err", err)
	} else {
		slog.Debug("api: request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
