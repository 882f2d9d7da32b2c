package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laboras/laboras/internal/archive"
	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/config"
	"github.com/laboras/laboras/internal/events"
	"github.com/laboras/laboras/internal/probe"
	"github.com/laboras/laboras/internal/recorder"
	"github.com/laboras/laboras/internal/recovery"
	"github.com/laboras/laboras/internal/segment"
	"github.com/laboras/laboras/internal/store"
)

// Service represents the core laboras service interface
type Service interface {
	// Recording operations
	CreateSession(req StartRequest) (*store.Session, error)
	StartRecording(sessionID string) (*store.Session, error)
	StartSession(req StartRequest) (*store.Session, error)
	PauseRecording() error
	ResumeRecording() error
	StopRecording() (*recorder.Summary, error)
	GetRecordingStatus() RecordingStatus

	// Session operations
	ListSessions() ([]*store.Session, error)
	GetSession(sessionID string) (*store.Session, error)
	UpdateSessionDetails(sessionID string, details SessionDetails) (*store.Session, error)
	DeleteSession(sessionID string) error
	AssembleSession(ctx context.Context, sessionID string) (*recorder.Summary, error)
	VideoPath(sessionID string) (string, error)
	GetNotes(sessionID string) ([]store.Note, error)
	SaveNotes(sessionID string, notes []store.Note) error
	GetStats() (store.Stats, error)
	GetSettings() store.UserSettings
	SaveSettings(settings store.UserSettings) error

	// Archive operations
	ArchiveSession(ctx context.Context, sessionID string) (archive.Uploaded, error)

	// Lifecycle
	Recover(ctx context.Context) ([]string, error)
	Shutdown(ctx context.Context) error

	// Configuration operations
	GetConfig() *config.Config
	GetLastError() string
}

var (
	ErrSessionActive   = errors.New("session is being recorded")
	ErrSessionNotNew   = errors.New("session has already been recorded")
	ErrNoSegments      = errors.New("no segments found for session")
	ErrArchiveDisabled = errors.New("archive is not configured")
	ErrNoVideo         = errors.New("session has no video")
)

// StartRequest describes a new session. Zero capture values fall back to
// the active profile.
type StartRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	FrameRate   int      `json:"frameRate"`
	Quality     string   `json:"videoQuality"`
}

type SessionDetails struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

// RecordingStatus is what UIs poll while a session runs.
type RecordingStatus struct {
	SessionID      string           `json:"session_id,omitempty"`
	State          recorder.State   `json:"state"`
	Settings       capture.Settings `json:"settings"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	ElapsedMs      int64            `json:"elapsed_ms"`
	EstimatedBytes int64            `json:"estimated_bytes"`
	Segments       int              `json:"segments"`
	PID            int              `json:"pid,omitempty"`
	PendingSession string           `json:"pending_session,omitempty"`
	Error          string           `json:"error,omitempty"`
}

const (
	eventQueueSize = 64
	publishTimeout = 10 * time.Second
	enrichTimeout  = 30 * time.Second
	archiveTimeout = 10 * time.Minute
)

// RecorderService is the main service implementation
type RecorderService struct {
	cfg        *config.Config
	configFile string

	store      *store.FileStore
	manager    *capture.Manager
	controller *recorder.Controller
	assembler  *segment.Assembler
	prober     *probe.Prober
	archiver   *archive.Archiver
	now        func() time.Time

	publisher    events.Publisher
	eventQueue   chan events.Event
	eventsDone   chan struct{}
	eventsMu     sync.RWMutex
	eventsClosed bool

	background sync.WaitGroup

	// pending is a created session whose capture has not started yet
	pendingMu sync.Mutex
	pending   string

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

type Option func(*options)

type options struct {
	ffmpeg    *capture.Tool
	ffprobe   *capture.Tool
	backend   func() (capture.Backend, error)
	publisher events.Publisher
	now       func() time.Time
}

// WithTools replaces the ffmpeg and ffprobe binaries from the configuration.
func WithTools(ffmpeg, ffprobe capture.Tool) Option {
	return func(o *options) {
		o.ffmpeg = &ffmpeg
		o.ffprobe = &ffprobe
	}
}

func WithBackend(backend func() (capture.Backend, error)) Option {
	return func(o *options) { o.backend = backend }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a new laboras service instance
func New(cfg *config.Config, configFile string, opts ...Option) (*RecorderService, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.NewFileStore(cfg.Output.Directory)
	if err != nil {
		return nil, err
	}

	ffmpeg := capture.NewTool(cfg.Capture.FFmpegPath)
	ffprobe := capture.NewTool(cfg.Capture.FFprobePath)
	if o.ffmpeg != nil {
		ffmpeg, ffprobe = *o.ffmpeg, *o.ffprobe
	}

	s := &RecorderService{
		cfg:        cfg,
		configFile: configFile,
		store:      st,
		manager:    capture.NewManager(ffmpeg),
		assembler: segment.NewAssembler(ffmpeg, segment.Backoff{
			Attempts: cfg.Assembly.MaterializeAttempts,
			Delay:    cfg.Assembly.MaterializeDelay,
		}),
		prober:     probe.New(ffmpeg, ffprobe),
		now:        o.now,
		eventQueue: make(chan events.Event, eventQueueSize),
		eventsDone: make(chan struct{}),
	}

	s.controller = recorder.NewController(recorder.Options{
		Manager:         s.manager,
		Assembler:       s.assembler,
		Backend:         o.backend,
		Extension:       cfg.Capture.Extension,
		PauseGrace:      cfg.Timeouts.PauseGrace,
		StopGrace:       cfg.Timeouts.StopGrace,
		AssemblyTimeout: cfg.Assembly.Timeout,
		BytesPerMinute:  cfg.Estimate.BytesPerMinute,
		Now:             o.now,
	})
	s.controller.AddListener(s.onTransition)

	if cfg.Archive.Enabled {
		s.archiver, err = archive.New(archive.Options{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Secure:    cfg.Archive.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set up archive: %w", err)
		}
	}

	switch {
	case o.publisher != nil:
		s.publisher = o.publisher
	case cfg.Events.Enabled:
		p, err := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to set up event publisher: %w", err)
		}
		s.publisher = p
	default:
		s.publisher = events.Noop{}
	}
	go s.runPublisher()

	return s, nil
}

// NewSessionID returns a fresh id in the store's directory naming.
func NewSessionID() string {
	return store.SessionPrefix + uuid.NewString()
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// Recover marks sessions left open by an earlier run as completed.
func (s *RecorderService) Recover(ctx context.Context) ([]string, error) {
	ids, err := recovery.ReconcileOrphans(ctx, s.store, s.now())
	for _, id := range ids {
		s.publish(events.Event{Type: events.SessionRecovered, SessionID: id, State: string(store.StatusCompleted)})
	}
	return ids, err
}

// Shutdown stops an active recording, kills leftover encoders and flushes
// pending events and uploads. ctx bounds the whole sequence.
func (s *RecorderService) Shutdown(ctx context.Context) error {
	stop := func(context.Context) error {
		if !s.controller.State().Active() {
			return nil
		}
		slog.Info("Stopping active recording before exit")
		_, err := s.StopRecording()
		return err
	}
	err := recovery.Shutdown(ctx, stop, s.manager, s.store.Dir())
	s.Close(ctx)
	return err
}

// Close waits for uploads and enrichment started by this service and
// flushes queued events. Encoders are left alone; use Shutdown for that.
func (s *RecorderService) Close(ctx context.Context) {
	waited := make(chan struct{})
	go func() {
		s.background.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		slog.Warn("Background work still running at exit")
	}

	s.eventsMu.Lock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.eventQueue)
	}
	s.eventsMu.Unlock()

	select {
	case <-s.eventsDone:
	case <-ctx.Done():
	}
	if err := s.publisher.Close(); err != nil {
		slog.Debug("Failed to close event publisher", "error", err)
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *RecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

func (s *RecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func (s *RecorderService) setPending(id string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = id
}

// takePending clears the pending session if it is id, or any when id is empty.
func (s *RecorderService) takePending(id string) string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p := s.pending
	if id != "" && p != id {
		return ""
	}
	s.pending = ""
	return p
}

func (s *RecorderService) pendingSession() string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pending
}

func (s *RecorderService) publish(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.eventQueue <- ev:
	default:
		slog.Warn("Event queue full, dropping event", "type", ev.Type, "session", ev.SessionID)
	}
}

func (s *RecorderService) runPublisher() {
	defer close(s.eventsDone)
	for ev := range s.eventQueue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.publisher.Publish(ctx, ev); err != nil {
			slog.Warn("Failed to publish session event", "type", ev.Type, "session", ev.SessionID, "error", err)
		}
		cancel()
	}
}
