package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"safetybuddy/internal/alert"
	"safetybuddy/internal/config"
	"safetybuddy/internal/model"
	"safetybuddy/internal/orchestrator"
	"safetybuddy/internal/store"
	"safetybuddy/internal/upstream/openai"
)

const serviceName = "SafetyBuddy"

type Processor interface {
	Process(ctx context.Context, in orchestrator.Input) (orchestrator.Result, error)
}

type EventLister interface {
	ListEvents(ctx context.Context) ([]store.EventView, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	ObserveStage(stage string, duration time.Duration)
}

type Dependencies struct {
	Processor      Processor
	Events         EventLister
	Store          Pinger
	Upstream       UpstreamChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	processor    Processor
	events       EventLister
	store        Pinger
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Processor == nil || deps.Events == nil {
		panic("httpapi: processor and event store are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		processor:    deps.Processor,
		events:       deps.Events,
		store:        deps.Store,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/process_audio", s.handleProcessAudio)
		r.Get("/supervisor/events", s.handleSupervisorEvents)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if s.store != nil {
		checks["store"] = "ok"
		if err := s.store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			ready = false
		}
	}
	if s.upstream != nil && s.cfg.STTAPIKey != "" {
		checks["speech_to_text"] = "ok"
		if err := s.upstream.CheckModels(ctx); err != nil {
			checks["speech_to_text"] = err.Error()
			ready = false
		}
	}

	if !ready {
		details := make(map[string]any, len(checks))
		for k, v := range checks {
			details[k] = v
		}
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "dependency check failed", details)
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: serviceName, Checks: checks})
}

func (s *server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	studentID := strings.TrimSpace(r.FormValue("student_id"))
	if studentID == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "student_id is required", nil)
		return
	}
	if _, err := uuid.Parse(studentID); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "student_id must be a UUID", nil)
		return
	}
	location, err := parseLocation(r.FormValue("latitude"), r.FormValue("longitude"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	result, err := s.processor.Process(ctx, orchestrator.Input{
		File:      file,
		FileName:  header.Filename,
		StudentID: studentID,
		Location:  location,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveStage("transcode", result.Timings.Transcode)
		s.metrics.ObserveStage("transcription", result.Timings.Transcription)
		s.metrics.ObserveStage("scoring", result.Timings.Scoring)
		s.metrics.ObserveStage("total", result.Timings.Total)
	}

	writeJSON(w, http.StatusOK, model.NewProcessAudioResponse(result))
}

func (s *server) handleSupervisorEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.ListEvents(r.Context())
	if err != nil {
		s.logger.Error("list sos events failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "could not load events", nil)
		return
	}
	if events == nil {
		events = []store.EventView{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		return nil, nil, nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, r.MultipartForm, err
	}
	return file, header, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
		return
	}
	if errors.Is(err, http.ErrMissingFile) {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart field 'file' is required", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "request failed"
	details := detailsForError(err)

	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "invalid_request"
		message = "invalid request"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "timeout"
		message = "request timed out"
	case errors.Is(err, context.Canceled):
		status = 499
		code = "canceled"
		message = "request canceled"
	case errors.Is(err, orchestrator.ErrTranscode):
		status = http.StatusUnprocessableEntity
		code = "transcode_failed"
		message = "audio could not be decoded"
	case errors.Is(err, orchestrator.ErrTranscription):
		status = http.StatusBadGateway
		code = "upstream_request_failed"
		message = "transcription request failed"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("process audio failed", "request_id", requestIDFromContext(r.Context()), "code", code, "error", err)
	}
	s.writeError(w, r, status, code, message, details)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces API_TOKEN on every non-public path when set.
func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, hasHeader, ok := extractBearerToken(r.Header.Get("Authorization"))
		if hasHeader && !ok {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authorization must be Bearer <token>", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// parseLocation accepts both coordinates or neither.
func parseLocation(latRaw, lonRaw string) (*alert.Location, error) {
	latRaw, lonRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lonRaw)
	if latRaw == "" && lonRaw == "" {
		return nil, nil
	}
	if latRaw == "" || lonRaw == "" {
		return nil, errors.New("latitude and longitude must be provided together")
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, errors.New("latitude must be a number between -90 and 90")
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, errors.New("longitude must be a number between -180 and 180")
	}
	return &alert.Location{Latitude: lat, Longitude: lon}, nil
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func extractBearerToken(header string) (token string, hasHeader bool, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, true
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", true, false
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", true, false
	}
	return token, true, true
}

func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return nil
	}
	details := map[string]any{"error": err.Error()}
	var stageErr *orchestrator.Error
	if errors.As(err, &stageErr) {
		details["stage"] = string(stageErr.Stage)
	}
	var upstreamErr *openai.Error
	if errors.As(err, &upstreamErr) {
		details["upstream_status"] = upstreamErr.StatusCode
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
	}
	return details
}
