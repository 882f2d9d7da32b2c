package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/capture/capturetest"
	"github.com/laboras/laboras/internal/segment"
)

func TestHelperProcess(t *testing.T) {
	if !capturetest.IsHelper() {
		return
	}
	capturetest.Main()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBackend hands the encoder nothing but its output path.
type fakeBackend struct{}

func (fakeBackend) Name() string { return "fake" }

func (fakeBackend) Args(_ capture.Settings, output string) []string {
	return []string{"-y", output}
}

var testSettings = capture.Settings{FrameRate: 15, Quality: capture.Quality720p}

type harness struct {
	ctrl    *Controller
	manager *capture.Manager
	clock   *fakeClock
	baseDir string
}

func newHarness(t *testing.T, record, concat string) *harness {
	t.Helper()
	path, args, env := capturetest.Command(record, concat)
	tool := capture.Tool{Path: path, Args: args, Env: env}

	h := &harness{
		manager: capture.NewManager(tool),
		clock:   newFakeClock(),
		baseDir: t.TempDir(),
	}
	h.ctrl = NewController(Options{
		Manager:        h.manager,
		Assembler:      segment.NewAssembler(tool, segment.Backoff{Attempts: 3, Delay: 10 * time.Millisecond}),
		Backend:        func() (capture.Backend, error) { return fakeBackend{}, nil },
		Extension:      "mp4",
		PauseGrace:     2 * time.Second,
		StopGrace:      2 * time.Second,
		BytesPerMinute: 6000,
		Now:            h.clock.Now,
	})
	t.Cleanup(func() {
		h.manager.Sweep()
	})
	return h
}

func waitForState(t *testing.T, c *Controller, expected State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %v (got %v)", expected, c.State())
}

func TestController_PauseResumeStop(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)
	c := h.ctrl

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(3 * time.Second)

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if c.State() != Paused {
		t.Fatalf("Expected paused, got %v", c.State())
	}

	// Time spent paused is not recorded
	h.clock.Advance(10 * time.Second)
	if got := c.ElapsedMs(); got != 3000 {
		t.Errorf("Expected elapsed 3000ms while paused, got %d", got)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)

	summary, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if summary.DurationMs != 5000 {
		t.Errorf("Expected duration 5000ms, got %d", summary.DurationMs)
	}
	if summary.Segments != 2 {
		t.Errorf("Expected 2 segments, got %d", summary.Segments)
	}
	if summary.Cancelled {
		t.Error("Completed session should not be cancelled")
	}
	if c.State() != Completed {
		t.Errorf("Expected completed, got %v", c.State())
	}

	dir := filepath.Join(h.baseDir, "session-1")
	expectedOutput := filepath.Join(dir, "video.mp4")
	if summary.OutputPath != expectedOutput {
		t.Errorf("Expected output %s, got %s", expectedOutput, summary.OutputPath)
	}
	info, err := os.Stat(expectedOutput)
	if err != nil || info.Size() == 0 {
		t.Fatalf("Expected non-empty output, got %v (err=%v)", info, err)
	}
	if summary.SizeBytes != info.Size() {
		t.Errorf("Expected size %d, got %d", info.Size(), summary.SizeBytes)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "video.mp4" {
			t.Errorf("Unexpected residue in session directory: %s", e.Name())
		}
	}
}

func TestController_StopWhilePausedExcludesPause(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)
	c := h.ctrl

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(4 * time.Second)
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	h.clock.Advance(time.Minute)

	summary, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if summary.DurationMs != 4000 {
		t.Errorf("Expected duration 4000ms, got %d", summary.DurationMs)
	}
	if summary.Segments != 1 {
		t.Errorf("Expected 1 segment, got %d", summary.Segments)
	}
}

func TestController_InvalidOperations(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)
	c := h.ctrl

	if err := c.Pause(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Pause on idle: expected ErrNotRecording, got %v", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume on idle: expected ErrNotPaused, got %v", err)
	}

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume while recording: expected ErrNotPaused, got %v", err)
	}
	if err := c.Start("session-2", testSettings, h.baseDir); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Second start: expected ErrAlreadyRecording, got %v", err)
	}

	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := c.Stop(); !errors.Is(err, ErrNothingToStop) {
		t.Errorf("Second stop: expected ErrNothingToStop, got %v", err)
	}
	if err := c.Pause(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Pause after completion: expected ErrNotRecording, got %v", err)
	}

	// A finished session can be followed by a new one
	if err := c.Start("session-2", testSettings, h.baseDir); err != nil {
		t.Errorf("Start after completion failed: %v", err)
	}
	c.Stop()
}

func TestController_StopBeforeStartIsCancel(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)

	summary, err := h.ctrl.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !summary.Cancelled || summary.DurationMs != 0 || summary.OutputPath != "" {
		t.Errorf("Expected cancelled zero-duration summary, got %+v", summary)
	}
	if h.ctrl.State() != Completed {
		t.Errorf("Expected completed, got %v", h.ctrl.State())
	}

	entries, _ := os.ReadDir(h.baseDir)
	if len(entries) != 0 {
		t.Errorf("Expected nothing on disk, found %d entries", len(entries))
	}
}

func TestController_CrashWhileRecording(t *testing.T) {
	h := newHarness(t, capturetest.RecordCrash, capturetest.ConcatCopy)
	c := h.ctrl

	var mu sync.Mutex
	var failures []Transition
	c.AddListener(func(tr Transition) {
		if tr.To == Failed {
			mu.Lock()
			failures = append(failures, tr)
			mu.Unlock()
		}
	})

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, c, Failed, 5*time.Second)

	var captureErr *CaptureFailedError
	if !errors.As(c.Snapshot().Err, &captureErr) {
		t.Fatalf("Expected CaptureFailedError, got %v", c.Snapshot().Err)
	}
	if captureErr.ExitCode != 137 {
		t.Errorf("Expected exit code 137, got %d", captureErr.ExitCode)
	}
	if !strings.Contains(captureErr.Diagnostics, "Conversion failed!") {
		t.Errorf("Expected encoder diagnostics, got %q", captureErr.Diagnostics)
	}

	// Truncated segment kept as evidence
	if segs := c.Segments(); len(segs) != 1 {
		t.Errorf("Expected crashed segment to be registered, got %v", segs)
	}

	mu.Lock()
	if len(failures) != 1 {
		t.Errorf("Expected one failure transition, got %d", len(failures))
	}
	mu.Unlock()

	if _, err := c.Stop(); !errors.Is(err, ErrNothingToStop) {
		t.Errorf("Stop after failure: expected ErrNothingToStop, got %v", err)
	}

	// Operator retry assembles the evidence
	summary, err := c.RetryFinalize()
	if err != nil {
		t.Fatalf("RetryFinalize failed: %v", err)
	}
	if summary.Segments != 1 || c.State() != Completed {
		t.Errorf("Unexpected retry outcome: %+v, state %v", summary, c.State())
	}
}

func TestController_CrashDuringPause(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		segments int
	}{
		{"segment with data is kept", capturetest.RecordQuitCrash, 1},
		{"empty segment is dropped", capturetest.RecordQuitEmpty, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.mode, capturetest.ConcatCopy)
			c := h.ctrl

			var mu sync.Mutex
			var states []State
			c.AddListener(func(tr Transition) {
				mu.Lock()
				states = append(states, tr.To)
				mu.Unlock()
			})

			if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			time.Sleep(50 * time.Millisecond)

			// The exit was requested, so it settles the pause instead of failing the session
			if err := c.Pause(); err != nil {
				t.Fatalf("Pause failed: %v", err)
			}
			if c.State() != Paused {
				t.Fatalf("Expected paused, got %v", c.State())
			}
			if got := len(c.Segments()); got != tc.segments {
				t.Errorf("Expected %d segments, got %d (%v)", tc.segments, got, c.Segments())
			}

			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			for _, st := range states {
				if st == Failed {
					t.Errorf("Unexpected failed transition, got %v", states)
				}
			}
		})
	}
}

func TestController_EmptySegmentsLeaveNoResidue(t *testing.T) {
	h := newHarness(t, capturetest.RecordQuitEmpty, capturetest.ConcatCopy)
	c := h.ctrl

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	summary, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if summary.Segments != 0 || summary.OutputPath != "" {
		t.Errorf("Expected an empty recording, got %+v", summary)
	}

	dir := filepath.Join(h.baseDir, "session-1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "video.mp4" {
			t.Errorf("Unexpected residue in session directory: %s", e.Name())
		}
	}

	reg, err := segment.ScanSegments(dir, "mp4")
	if err != nil {
		t.Fatalf("ScanSegments failed: %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Expected no segments left to assemble, got %v", reg.Paths())
	}
}

func TestController_AssemblyFailureKeepsSegments(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatEmpty)
	c := h.ctrl

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	_, err := c.Stop()

	var assemblyErr *AssemblyFailedError
	if !errors.As(err, &assemblyErr) {
		t.Fatalf("Expected AssemblyFailedError, got %v", err)
	}
	var concatErr *segment.ConcatenationFailedError
	if !errors.As(err, &concatErr) || concatErr.Kind != segment.OutputNotMaterialized {
		t.Errorf("Expected OutputNotMaterialized cause, got %v", assemblyErr.Cause)
	}
	if c.State() != Failed {
		t.Errorf("Expected failed, got %v", c.State())
	}

	segs := c.Segments()
	if len(segs) != 2 {
		t.Fatalf("Expected 2 segments, got %v", segs)
	}
	for _, p := range segs {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Expected segment %s to remain on disk: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(h.baseDir, "session-1", "video.mp4")); !os.IsNotExist(err) {
		t.Error("Expected no final output after failed assembly")
	}
}

func TestController_StopBoundedByAssemblyTimeout(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatHang)
	c := h.ctrl
	c.opts.AssemblyTimeout = 300 * time.Millisecond

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	started := time.Now()
	_, err := c.Stop()
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("Stop took %s despite the assembly timeout", elapsed)
	}

	var assemblyErr *AssemblyFailedError
	if !errors.As(err, &assemblyErr) {
		t.Fatalf("Expected AssemblyFailedError, got %v", err)
	}
	if c.State() != Failed {
		t.Errorf("Expected failed, got %v", c.State())
	}
	if segs := c.Segments(); len(segs) != 2 {
		t.Errorf("Expected both segments kept for a retry, got %v", segs)
	}
}

func TestController_RejectsConcurrentOperation(t *testing.T) {
	h := newHarness(t, capturetest.RecordHang, capturetest.ConcatCopy)
	h.ctrl.opts.PauseGrace = 500 * time.Millisecond
	c := h.ctrl

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pauseErr := make(chan error, 1)
	go func() { pauseErr <- c.Pause() }()

	// Pause is stuck waiting out the grace period
	time.Sleep(150 * time.Millisecond)
	if _, err := c.Stop(); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("Expected ErrOperationInProgress, got %v", err)
	}

	if err := <-pauseErr; err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if c.State() != Paused {
		t.Errorf("Expected paused after forced kill, got %v", c.State())
	}
	if len(c.Segments()) != 1 {
		t.Errorf("Expected killed segment to be registered, got %v", c.Segments())
	}
}

func TestController_ResumeSpawnFailureStaysPaused(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)
	c := h.ctrl

	if err := c.Start("session-1", testSettings, h.baseDir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Another encoder holds the slot
	blocker, err := h.manager.Spawn([]string{"-y", filepath.Join(h.baseDir, "blocker.mp4")}, "blocker")
	if err != nil {
		t.Fatalf("Spawn blocker failed: %v", err)
	}

	h.clock.Advance(time.Second)
	err = c.Resume()
	var spawnErr *SpawnFailedError
	if !errors.As(err, &spawnErr) || !errors.Is(err, capture.ErrProcessActive) {
		t.Fatalf("Expected SpawnFailedError wrapping ErrProcessActive, got %v", err)
	}
	if c.State() != Paused {
		t.Errorf("Expected to stay paused, got %v", c.State())
	}

	blocker.Stop(2 * time.Second)
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume after blocker exit failed: %v", err)
	}
	h.clock.Advance(time.Second)

	summary, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if summary.DurationMs != 2000 {
		t.Errorf("Expected duration 2000ms, got %d", summary.DurationMs)
	}
}

func TestController_StartErrors(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)

	h.ctrl.opts.Backend = func() (capture.Backend, error) { return capture.BackendFor("plan9") }
	err := h.ctrl.Start("session-1", testSettings, h.baseDir)
	var unsupported *capture.UnsupportedPlatformError
	if !errors.As(err, &unsupported) {
		t.Errorf("Expected UnsupportedPlatformError, got %v", err)
	}

	h.ctrl.opts.Backend = func() (capture.Backend, error) { return fakeBackend{}, nil }
	blocker := filepath.Join(h.baseDir, "not-a-dir")
	os.WriteFile(blocker, []byte("x"), 0644)
	err = h.ctrl.Start("session-1", testSettings, blocker)
	var dirErr *DirectoryCreateError
	if !errors.As(err, &dirErr) {
		t.Errorf("Expected DirectoryCreateError, got %v", err)
	}

	err = h.ctrl.Start("session-1", capture.Settings{FrameRate: 0, Quality: capture.Quality720p}, h.baseDir)
	if err == nil {
		t.Error("Expected error for invalid settings")
	}

	if h.ctrl.State() != Idle {
		t.Errorf("Failed starts must leave the controller idle, got %v", h.ctrl.State())
	}
}

func TestController_ListenerSeesTransitionsInOrder(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)
	c := h.ctrl

	var mu sync.Mutex
	var seen []string
	c.AddListener(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(tr.From)+">"+string(tr.To))
	})

	c.Start("session-1", testSettings, h.baseDir)
	c.Pause()
	c.Resume()
	c.Stop()

	expected := "idle>recording recording>paused paused>recording recording>stopping stopping>completed"
	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(seen, " "); got != expected {
		t.Errorf("Unexpected transitions:\n got: %s\nwant: %s", got, expected)
	}
}

func TestController_Estimate(t *testing.T) {
	h := newHarness(t, capturetest.RecordNormal, capturetest.ConcatCopy)
	c := h.ctrl

	if got := c.EstimatedOutputBytes(); got != 0 {
		t.Errorf("Expected 0 before start, got %d", got)
	}

	c.Start("session-1", testSettings, h.baseDir)
	defer c.Stop()
	h.clock.Advance(90 * time.Second)

	if got := c.EstimatedOutputBytes(); got != 9000 {
		t.Errorf("Expected 9000 bytes for 1.5 minutes, got %d", got)
	}
	st := c.Snapshot()
	if st.State != Recording || st.ElapsedMs != 90000 || st.PID == 0 {
		t.Errorf("Unexpected snapshot: %+v", st)
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]State{
		{Idle, Recording}, {Recording, Paused}, {Paused, Recording},
		{Recording, Stopping}, {Paused, Stopping}, {Stopping, Completed},
		{Stopping, Failed}, {Idle, Stopping}, {Recording, Failed},
	}
	for _, p := range legal {
		if !CanTransition(p[0], p[1]) {
			t.Errorf("Expected %s -> %s to be legal", p[0], p[1])
		}
	}

	illegal := [][2]State{
		{Idle, Paused}, {Paused, Paused}, {Completed, Recording}, {Paused, Completed},
	}
	for _, p := range illegal {
		if CanTransition(p[0], p[1]) {
			t.Errorf("Expected %s -> %s to be illegal", p[0], p[1])
		}
	}
}
