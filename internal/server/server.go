package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/laboras/laboras/internal/config"
	"github.com/laboras/laboras/internal/recorder"
	"github.com/laboras/laboras/internal/service"
	"github.com/laboras/laboras/internal/store"
)

// Server exposes the recording service over HTTP for remote control
type Server struct {
	service    service.Service
	cfg        *config.Config
	configFile string
	port       int
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Success bool                    `json:"success"`
	Status  service.RecordingStatus `json:"status"`
	Message string                  `json:"message"`
	Config  *ResolvedConfigInfo     `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	ActiveProfile     string `json:"active_profile"`
	SessionsDirectory string `json:"sessions_directory"`
	FrameRate         int    `json:"frame_rate"`
	Quality           string `json:"quality"`
	Extension         string `json:"extension"`
	PauseGraceMs      int64  `json:"pause_grace_ms"`
	StopGraceMs       int64  `json:"stop_grace_ms"`
	ArchiveEnabled    bool   `json:"archive_enabled"`
	EventsEnabled     bool   `json:"events_enabled"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a web server around an existing service
func New(svc service.Service, configFile string) *Server {
	cfg := svc.GetConfig()
	return &Server{
		service:    svc,
		cfg:        cfg,
		configFile: configFile,
		port:       cfg.Server.Port,
	}
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleSaveSettings).Methods(http.MethodPut)

	api.HandleFunc("/recording/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/recording/resume", s.handleResume).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleStop).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleUpdateSession).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/start", s.handleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/assemble", s.handleAssemble).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/archive", s.handleArchive).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/video", s.handleVideo).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/thumbnail", s.handleThumbnail).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/notes", s.handleGetNotes).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/notes", s.handleSaveNotes).Methods(http.MethodPut)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path, "method", r.Method)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(s.port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting laboras web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) resolvedConfig() *ResolvedConfigInfo {
	return &ResolvedConfigInfo{
		ActiveProfile:     getActiveProfileName(s.configFile),
		SessionsDirectory: s.cfg.Output.Directory,
		FrameRate:         s.cfg.Capture.FrameRate,
		Quality:           s.cfg.Capture.Quality,
		Extension:         s.cfg.Capture.Extension,
		PauseGraceMs:      s.cfg.Timeouts.PauseGrace.Milliseconds(),
		StopGraceMs:       s.cfg.Timeouts.StopGrace.Milliseconds(),
		ArchiveEnabled:    s.cfg.Archive.Enabled,
		EventsEnabled:     s.cfg.Events.Enabled,
	}
}

func getActiveProfileName(configFile string) string {
	if configFile == "" {
		return ""
	}
	root, err := config.ValidateConfigurationFormat(configFile)
	if err != nil {
		return ""
	}
	if root.ActiveConfig == "" {
		return "default"
	}
	return root.ActiveConfig
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, service.ErrNoSegments),
		errors.Is(err, service.ErrNoVideo):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrOperationInProgress),
		errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, recorder.ErrNotPaused),
		errors.Is(err, recorder.ErrNothingToStop),
		errors.Is(err, service.ErrSessionActive),
		errors.Is(err, service.ErrSessionNotNew):
		return http.StatusConflict
	case errors.Is(err, service.ErrArchiveDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func (s *Server) sendServiceError(w http.ResponseWriter, operation string, err error) {
	s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", operation)
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
