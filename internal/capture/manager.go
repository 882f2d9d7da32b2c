package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
)

var ErrProcessActive = errors.New("an encoder process is already running")

// sweepWait bounds how long Sweep waits for a killed process to be reaped.
const sweepWait = 2 * time.Second

// Manager owns the single live encoder and remembers every process it started
// until that process has exited.
type Manager struct {
	tool Tool

	mu      sync.Mutex
	active  *Process
	tracked map[int]*Process
}

func NewManager(tool Tool) *Manager {
	return &Manager{
		tool:    tool,
		tracked: make(map[int]*Process),
	}
}

// Spawn starts the encoder with args. Only one encoder may be live at a time.
func (m *Manager) Spawn(args []string, label string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.Exited() {
		return nil, ErrProcessActive
	}

	p, err := Spawn(m.tool.Command(args...), label)
	if err != nil {
		return nil, err
	}

	pid := p.PID()
	m.active = p
	m.tracked[pid] = p

	go func() {
		<-p.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.tracked, pid)
		if m.active == p {
			m.active = nil
		}
	}()

	return p, nil
}

// Active returns the live encoder, or nil.
func (m *Manager) Active() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.Exited() {
		return nil
	}
	return m.active
}

// ForceKill kills the live encoder without waiting for a graceful exit.
func (m *Manager) ForceKill() {
	if p := m.Active(); p != nil {
		slog.Warn("Force killing encoder", "label", p.Label(), "pid", p.PID(), "running_for", time.Since(p.StartedAt()))
		p.Kill()
	}
}

// Sweep kills every process this manager started that is still running.
func (m *Manager) Sweep() error {
	m.mu.Lock()
	procs := make([]*Process, 0, len(m.tracked))
	for _, p := range m.tracked {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	var errs error
	for _, p := range procs {
		p.Kill()
		select {
		case <-p.Done():
		case <-time.After(sweepWait):
			errs = multierr.Append(errs, fmt.Errorf("encoder pid %d did not exit after kill", p.PID()))
		}
	}
	if len(procs) > 0 {
		slog.Info("Swept tracked encoder processes", "count", len(procs))
	}
	return errs
}
