package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/segment"
)

type Options struct {
	Manager   *capture.Manager
	Assembler *segment.Assembler

	// Backend resolves the grabber for this platform. Defaults to capture.DetectBackend.
	Backend func() (capture.Backend, error)

	Extension      string
	PauseGrace     time.Duration
	StopGrace      time.Duration
	BytesPerMinute int64

	// AssemblyTimeout bounds finalize; a concat still running then is killed.
	AssemblyTimeout time.Duration

	// Now is the clock used for all duration bookkeeping.
	Now func() time.Time
}

// Summary is the outcome of a completed session.
type Summary struct {
	SessionID  string `json:"session_id"`
	OutputPath string `json:"output_path,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Segments   int    `json:"segments"`
	SizeBytes  int64  `json:"size_bytes"`
	// Cancelled is set when stop arrived before any capture started.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Status is a point-in-time view for UIs.
type Status struct {
	SessionID      string
	State          State
	Settings       capture.Settings
	StartedAt      time.Time
	ElapsedMs      int64
	EstimatedBytes int64
	Segments       int
	OutputPath     string
	PID            int
	Err            error
}

type session struct {
	id       string
	dir      string
	state    State
	settings capture.Settings
	backend  capture.Backend

	segments    *segment.Registry
	proc        *capture.Process
	openSegment string
	// set while an operation is terminating the encoder on purpose
	expectingExit bool

	startedAt          time.Time
	pausedAccumulated  time.Duration
	lastPauseStartedAt time.Time
	endedAt            time.Time

	outputPath string
	err        error
}

// Controller runs one recording session at a time. Mutating operations are
// never queued: a call made while another is still running fails with
// ErrOperationInProgress.
type Controller struct {
	opts Options

	op sync.Mutex

	mu        sync.Mutex
	session   *session
	listeners []Listener
}

func NewController(opts Options) *Controller {
	if opts.Backend == nil {
		opts.Backend = capture.DetectBackend
	}
	if opts.Extension == "" {
		opts.Extension = "mp4"
	}
	if opts.PauseGrace <= 0 {
		opts.PauseGrace = 5 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if opts.AssemblyTimeout <= 0 {
		opts.AssemblyTimeout = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{opts: opts}
}

func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start begins a session whose files live in baseDir/sessionID.
func (c *Controller) Start(sessionID string, settings capture.Settings, baseDir string) error {
	if !c.op.TryLock() {
		return ErrOperationInProgress
	}
	defer c.op.Unlock()

	c.mu.Lock()
	if s := c.session; s != nil && s.state.Active() {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.mu.Unlock()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid capture settings: %w", err)
	}

	backend, err := c.opts.Backend()
	if err != nil {
		return err
	}

	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &DirectoryCreateError{Path: dir, Err: err}
	}

	s := &session{
		id:         sessionID,
		dir:        dir,
		state:      Idle,
		settings:   settings,
		backend:    backend,
		segments:   segment.NewRegistry(),
		outputPath: filepath.Join(dir, segment.OutputName(c.opts.Extension)),
	}

	now := c.opts.Now()
	proc, path, err := c.spawn(s, now)
	if err != nil {
		return &SpawnFailedError{Err: err}
	}

	c.mu.Lock()
	c.session = s
	s.startedAt = now
	s.proc, s.openSegment = proc, path
	t := c.transition(s, Recording, nil)
	c.mu.Unlock()

	go c.watch(s, proc, path)
	c.notify(t)

	slog.Info("Recording started", "session", sessionID, "backend", backend.Name(), "segment", path)
	return nil
}

// Pause closes the current segment. Elapsed time stops counting from the
// moment Pause is called, not when the encoder finally exits.
func (c *Controller) Pause() error {
	if !c.op.TryLock() {
		return ErrOperationInProgress
	}
	defer c.op.Unlock()

	c.mu.Lock()
	s := c.session
	if s == nil || s.state != Recording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	s.lastPauseStartedAt = c.opts.Now()
	s.expectingExit = true
	proc, path := s.proc, s.openSegment
	c.mu.Unlock()

	res := proc.Stop(c.opts.PauseGrace)

	c.mu.Lock()
	s.expectingExit = false
	s.proc, s.openSegment = nil, ""
	c.closeSegment(s, path, res)
	t := c.transition(s, Paused, nil)
	c.mu.Unlock()

	c.notify(t)
	slog.Info("Recording paused", "session", s.id, "segments", s.segments.Len())
	return nil
}

// Resume starts a new segment with the session's original settings.
func (c *Controller) Resume() error {
	if !c.op.TryLock() {
		return ErrOperationInProgress
	}
	defer c.op.Unlock()

	c.mu.Lock()
	s := c.session
	if s == nil || s.state != Paused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	c.mu.Unlock()

	now := c.opts.Now()
	proc, path, err := c.spawn(s, now)
	if err != nil {
		// Still paused; the pause interval stays open
		return &SpawnFailedError{Err: err}
	}

	c.mu.Lock()
	s.pausedAccumulated += now.Sub(s.lastPauseStartedAt)
	s.lastPauseStartedAt = time.Time{}
	s.proc, s.openSegment = proc, path
	t := c.transition(s, Recording, nil)
	c.mu.Unlock()

	go c.watch(s, proc, path)
	c.notify(t)

	slog.Info("Recording resumed", "session", s.id, "segment", path)
	return nil
}

// Stop ends the session and assembles its segments into the final file.
// Stopping before anything was captured completes with Summary.Cancelled.
func (c *Controller) Stop() (*Summary, error) {
	if !c.op.TryLock() {
		return nil, ErrOperationInProgress
	}
	defer c.op.Unlock()

	c.mu.Lock()
	s := c.session
	if s == nil {
		s = &session{state: Idle, segments: segment.NewRegistry()}
		c.session = s
	}

	switch s.state {
	case Idle:
		s.endedAt = c.opts.Now()
		t1 := c.transition(s, Stopping, nil)
		t2 := c.transition(s, Completed, nil)
		c.mu.Unlock()
		c.notify(t1, t2)
		slog.Info("Session stopped before recording started", "session", s.id)
		return &Summary{SessionID: s.id, Cancelled: true}, nil
	case Recording, Paused:
	default:
		c.mu.Unlock()
		return nil, ErrNothingToStop
	}

	wasRecording := s.state == Recording
	if wasRecording {
		s.endedAt = c.opts.Now()
	} else {
		// Paused time is never counted
		s.endedAt = s.lastPauseStartedAt
	}
	s.expectingExit = true
	proc, path := s.proc, s.openSegment
	t := c.transition(s, Stopping, nil)
	c.mu.Unlock()
	c.notify(t)

	if wasRecording && proc != nil {
		res := proc.Stop(c.opts.StopGrace)
		c.mu.Lock()
		s.proc, s.openSegment = nil, ""
		c.closeSegment(s, path, res)
		c.mu.Unlock()
	}

	c.mu.Lock()
	s.expectingExit = false
	c.mu.Unlock()

	return c.finalize(s)
}

// RetryFinalize runs assembly again for a failed session whose segments are
// still on disk.
func (c *Controller) RetryFinalize() (*Summary, error) {
	if !c.op.TryLock() {
		return nil, ErrOperationInProgress
	}
	defer c.op.Unlock()

	c.mu.Lock()
	s := c.session
	if s == nil || s.state != Failed || s.segments.Len() == 0 {
		c.mu.Unlock()
		return nil, ErrNothingToStop
	}
	t := c.transition(s, Stopping, nil)
	c.mu.Unlock()
	c.notify(t)

	return c.finalize(s)
}

func (c *Controller) finalize(s *session) (*Summary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AssemblyTimeout)
	defer cancel()
	res, err := c.opts.Assembler.Finalize(ctx, s.segments, s.outputPath)

	c.mu.Lock()
	if err != nil {
		s.err = &AssemblyFailedError{Cause: err}
		t := c.transition(s, Failed, s.err)
		c.mu.Unlock()
		c.notify(t)
		slog.Error("Recording assembly failed", "session", s.id, "segments", s.segments.Len(), "error", err)
		return nil, s.err
	}

	summary := &Summary{
		SessionID:  s.id,
		OutputPath: res.OutputPath,
		DurationMs: c.elapsed(s).Milliseconds(),
		Segments:   res.Segments,
		SizeBytes:  res.SizeBytes,
	}
	if res.Empty {
		summary.OutputPath = ""
		summary.DurationMs = 0
	}
	s.err = nil
	t := c.transition(s, Completed, nil)
	c.mu.Unlock()
	c.notify(t)

	slog.Info("Recording completed", "session", s.id, "output", summary.OutputPath, "duration_ms", summary.DurationMs, "segments", summary.Segments)
	return summary, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Idle
	}
	return c.session.state
}

// ElapsedMs is the recorded time so far, excluding pauses.
func (c *Controller) ElapsedMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.elapsed(c.session).Milliseconds()
}

// EstimatedOutputBytes extrapolates the final file size from elapsed time.
func (c *Controller) EstimatedOutputBytes() int64 {
	return estimateBytes(c.ElapsedMs(), c.opts.BytesPerMinute)
}

func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return Status{State: Idle}
	}
	st := Status{
		SessionID:  s.id,
		State:      s.state,
		Settings:   s.settings,
		StartedAt:  s.startedAt,
		ElapsedMs:  c.elapsed(s).Milliseconds(),
		Segments:   s.segments.Len(),
		OutputPath: s.outputPath,
		Err:        s.err,
	}
	st.EstimatedBytes = estimateBytes(st.ElapsedMs, c.opts.BytesPerMinute)
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	return st
}

// Segments returns the closed segments of the current session.
func (c *Controller) Segments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.segments.Paths()
}

func (c *Controller) spawn(s *session, now time.Time) (*capture.Process, string, error) {
	path := segment.NextSegmentPath(s.dir, c.opts.Extension, now, s.segments.Last())
	proc, err := c.opts.Manager.Spawn(s.backend.Args(s.settings, path), s.id)
	if err != nil {
		return nil, "", err
	}
	return proc, path, nil
}

// watch turns an encoder exit nobody asked for into a failed session.
func (c *Controller) watch(s *session, proc *capture.Process, path string) {
	<-proc.Done()
	res := proc.Result()

	c.mu.Lock()
	if c.session != s || s.proc != proc || s.expectingExit || s.state != Recording {
		c.mu.Unlock()
		return
	}

	slog.Error("Encoder exited unexpectedly", "session", s.id, "code", res.Code, "diagnostics", res.Diagnostics)

	s.proc, s.openSegment = nil, ""
	s.endedAt = c.opts.Now()
	// Whatever was written is kept as evidence
	c.closeSegment(s, path, res)
	s.err = &CaptureFailedError{ExitCode: res.Code, Diagnostics: res.Diagnostics}
	t := c.transition(s, Failed, s.err)
	c.mu.Unlock()

	c.notify(t)
}

// closeSegment registers a segment whose encoder has exited. Must hold c.mu.
func (c *Controller) closeSegment(s *session, path string, res capture.ExitResult) {
	if !res.Success() {
		slog.Warn("Encoder did not exit cleanly", "session", s.id, "segment", path, "code", res.Code, "signaled", res.Signaled)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		slog.Warn("Segment produced no data, dropping it", "session", s.id, "segment", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove empty segment", "session", s.id, "segment", path, "error", err)
		}
		return
	}
	if err := s.segments.Register(path); err != nil {
		slog.Warn("Failed to register segment", "session", s.id, "segment", path, "error", err)
		return
	}
	slog.Debug("Segment closed", "session", s.id, "segment", path, "size", info.Size())
}

// transition moves s to state and returns the event to deliver once c.mu is released.
func (c *Controller) transition(s *session, to State, err error) Transition {
	from := s.state
	if !CanTransition(from, to) {
		slog.Warn("Unexpected state transition", "session", s.id, "from", from, "to", to)
	}
	s.state = to
	slog.Debug("Session state changed", "session", s.id, "from", from, "to", to)
	return Transition{SessionID: s.id, From: from, To: to, At: c.opts.Now(), Err: err}
}

func (c *Controller) notify(ts ...Transition) {
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, t := range ts {
		for _, l := range listeners {
			l(t)
		}
	}
}

// elapsed must be called with c.mu held.
func (c *Controller) elapsed(s *session) time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	var end time.Time
	switch s.state {
	case Recording:
		end = c.opts.Now()
		if !s.lastPauseStartedAt.IsZero() {
			// pause requested, encoder still winding down
			end = s.lastPauseStartedAt
		}
	case Paused:
		end = s.lastPauseStartedAt
	default:
		end = s.endedAt
	}
	if end.IsZero() {
		return 0
	}
	d := end.Sub(s.startedAt) - s.pausedAccumulated
	if d < 0 {
		return 0
	}
	return d
}

func estimateBytes(elapsedMs, bytesPerMinute int64) int64 {
	return int64(float64(elapsedMs) / 60000 * float64(bytesPerMinute))
}
