package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowtrack/internal/api"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
	"flowtrack/internal/notify"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/pipeline"
	"flowtrack/internal/services"
	"flowtrack/internal/statusstore"
	"flowtrack/internal/workflow"
)

const (
	maxUploadBytes = 512 << 20
	maxJSONBytes   = 1 << 20
)

type jobStarter interface {
	StartDownload(ctx context.Context, req pipeline.DownloadRequest) (flowstate.Record, error)
	StartTranscription(ctx context.Context, req pipeline.TranscriptionRequest) (flowstate.Record, error)
}

type jobReader interface {
	Current(jobID string) (flowstate.Record, bool)
	List() []flowstate.Record
}

type statusReader interface {
	Fetch(ctx context.Context, objectID string) (flowstate.Record, error)
}

type artifactReader interface {
	Download(ctx context.Context, id string) ([]byte, error)
}

type apiServer struct {
	bind      string
	token     string
	logger    *slog.Logger
	starter   jobStarter
	jobs      jobReader
	status    statusReader
	artifacts artifactReader
	hub       *notify.Hub
	metrics   http.Handler

	heartbeat time.Duration
	closing   chan struct{}

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, starter jobStarter, jobs jobReader, status statusReader, artifacts artifactReader, hub *notify.Hub, metrics http.Handler, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:      strings.TrimSpace(bind),
		token:     strings.TrimSpace(token),
		logger:    logging.NewComponentLogger(logger, "api-server"),
		starter:   starter,
		jobs:      jobs,
		status:    status,
		artifacts: artifacts,
		hub:       hub,
		metrics:   metrics,
		heartbeat: 15 * time.Second,
		closing:   make(chan struct{}),
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/jobs/download", s.handleStartDownload)
	apiMux.HandleFunc("POST /api/jobs/transcribe", s.handleStartTranscription)
	apiMux.HandleFunc("GET /api/jobs", s.handleListJobs)
	apiMux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	apiMux.HandleFunc("GET /api/jobs/{id}/events", s.handleJobEvents)
	apiMux.HandleFunc("GET /api/events", s.handleAllEvents)
	apiMux.HandleFunc("GET /api/artifacts/{id}", s.handleArtifact)
	apiMux.HandleFunc("GET /api/artifacts/{id}/status", s.handleArtifactStatus)

	root := http.NewServeMux()
	root.Handle("/api/", authMiddleware(s.token, apiMux))
	if s.metrics != nil {
		root.Handle("GET /metrics", s.metrics)
	}
	return s.withRequestID(root)
}

func (s *apiServer) start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.listener == nil {
		return
	}
	close(s.closing)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		_ = s.server.Close()
	}
	s.listener = nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var body api.DownloadJobRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	rec, err := s.starter.StartDownload(r.Context(), pipeline.DownloadRequest{
		URL:            body.URL,
		Transcribe:     body.Transcribe,
		QualityProfile: body.QualityProfile,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromRecord(rec)})
}

func (s *apiServer) handleStartTranscription(w http.ResponseWriter, r *http.Request) {
	req, err := transcriptionRequest(w, r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	rec, err := s.starter.StartTranscription(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromRecord(rec)})
}

// transcriptionRequest accepts either a multipart upload ("file" plus an
// optional "qualityProfile" field) or a JSON body naming an artifact.
func transcriptionRequest(w http.ResponseWriter, r *http.Request) (pipeline.TranscriptionRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body api.TranscribeJobRequest
		if err := decodeJSON(w, r, &body); err != nil {
			return pipeline.TranscriptionRequest{}, err
		}
		return pipeline.TranscriptionRequest{ArtifactID: body.ArtifactID, QualityProfile: body.QualityProfile}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return pipeline.TranscriptionRequest{}, services.Wrap(services.ErrValidation, "api", "parse upload", "", err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.TranscriptionRequest{}, services.Wrap(services.ErrValidation, "api", "parse upload", "file field is required", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.TranscriptionRequest{}, services.Wrap(services.ErrValidation, "api", "read upload", "", err)
	}
	return pipeline.TranscriptionRequest{
		Filename:       header.Filename,
		Data:           data,
		QualityProfile: r.FormValue("qualityProfile"),
	}, nil
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromRecords(s.jobs.List())})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.jobs.Current(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromRecord(rec)})
}

func (s *apiServer) handleArtifactStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.status.Fetch(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ArtifactStatusResponse{ArtifactID: id, Job: api.FromRecord(rec)})
}

func (s *apiServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.artifacts.Download(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// statusForError maps error classes onto HTTP status codes.
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrValidation), errors.Is(err, flowstate.ErrUnknownState):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound), errors.Is(err, statusstore.ErrNotFound),
		errors.Is(err, objectstore.ErrObjectNotFound), errors.Is(err, workflow.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrJobExists):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrShuttingDown), errors.Is(err, services.ErrTransient), errors.Is(err, statusstore.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Warn("api request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return services.Wrap(services.ErrValidation, "api", "decode request", "", err)
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message})
}
