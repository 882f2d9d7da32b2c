package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const diagnosticLines = 40

// ExitResult is how an encoder process ended.
type ExitResult struct {
	Code        int  // -1 when terminated by a signal
	Signaled    bool // killed rather than exited
	Diagnostics string
	Err         error // non-exit failure reported by Wait
}

func (r ExitResult) Success() bool {
	return r.Err == nil && !r.Signaled && r.Code == 0
}

// Process is a running encoder. Its termination is observed through Done,
// which is closed exactly once.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	label string

	startedAt time.Time
	done      chan struct{}
	result    ExitResult
	diag      *tailBuffer

	killOnce      sync.Once
	stopRequested atomic.Bool
}

// Spawn starts cmd with all three standard streams piped. stdin stays open so
// a quit command can be written later.
func Spawn(cmd *exec.Cmd, label string) (*Process, error) {
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder stderr: %w", err)
	}

	slog.Debug("Starting encoder", "label", label, "command", cmd.Path, "args", strings.Join(cmd.Args[1:], " "))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	p := &Process{
		cmd:       cmd,
		stdin:     stdin,
		label:     label,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		diag:      newTailBuffer(diagnosticLines),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readOutput(stdout, "stdout", &readers)
	go p.readOutput(stderr, "stderr", &readers)

	go func() {
		// Pipes must be drained before Wait closes them
		readers.Wait()
		err := cmd.Wait()
		p.result = p.exitResult(err)
		slog.Debug("Encoder exited", "label", p.label, "pid", p.PID(), "code", p.result.Code, "signaled", p.result.Signaled)
		close(p.done)
	}()

	return p, nil
}

func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) Label() string { return p.label }

func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether Done is already closed.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result blocks until the process has exited.
func (p *Process) Result() ExitResult {
	<-p.done
	return p.result
}

// StopRequested reports whether Stop or Kill was called. An exit without a
// prior request is unexpected.
func (p *Process) StopRequested() bool {
	return p.stopRequested.Load()
}

// Stop asks the encoder to finish its file by sending "q" on stdin. When it has
// not exited after grace it is killed. Stop returns only after the process is
// gone.
func (p *Process) Stop(grace time.Duration) ExitResult {
	p.stopRequested.Store(true)
	if p.Exited() {
		return p.result
	}

	slog.Debug("Requesting graceful encoder stop", "label", p.label, "pid", p.PID(), "grace", grace)
	if _, err := io.WriteString(p.stdin, "q\n"); err != nil {
		slog.Debug("Failed to write quit command", "label", p.label, "error", err)
	}
	if err := p.stdin.Close(); err != nil {
		slog.Debug("Failed to close encoder stdin", "label", p.label, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		slog.Warn("Encoder did not exit within grace period, force killing", "label", p.label, "pid", p.PID(), "grace", grace)
		p.Kill()
		<-p.done
	}
	return p.result
}

// Kill terminates the process immediately. Safe to call repeatedly and after exit.
func (p *Process) Kill() {
	p.stopRequested.Store(true)
	p.killOnce.Do(func() {
		if p.cmd.Process == nil || p.Exited() {
			return
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("Failed to kill encoder", "label", p.label, "pid", p.PID(), "error", err)
		}
	})
}

// Diagnostics returns the most recent encoder output lines.
func (p *Process) Diagnostics() string {
	return p.diag.String()
}

func (p *Process) exitResult(err error) ExitResult {
	res := ExitResult{Diagnostics: p.diag.String()}
	if err == nil {
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Code = exitErr.ExitCode()
		res.Signaled = res.Code == -1
		return res
	}
	res.Code = -1
	res.Err = err
	return res
}

func (p *Process) readOutput(pipe io.Reader, label string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	scanner.Split(scanLinesOrReturns)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.diag.Add(line)
		slog.Log(context.Background(), LevelTrace, "Encoder output", "label", p.label, "stream", label, "line", line)
	}
	// Keep draining so the encoder never blocks on a full pipe
	_, _ = io.Copy(io.Discard, pipe)
}

// LevelTrace sits below debug and is enabled with -vv.
const LevelTrace = slog.LevelDebug - 4

// scanLinesOrReturns splits on \n or \r; ffmpeg rewrites its progress line with \r.
func scanLinesOrReturns(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
