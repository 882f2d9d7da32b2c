//go:build linux

package capture

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// SweepOrphans kills stray ffmpeg grabs still writing a segment below marker,
// normally the sessions directory. Such processes survive when a previous run
// was killed before it could stop its encoder. Concat runs are not touched.
func SweepOrphans(marker string) error {
	if marker == "" {
		return nil
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	self := os.Getpid()
	var errs error
	killed := 0

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		raw, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			continue
		}
		argv := strings.Split(string(bytes.TrimRight(raw, "\x00")), "\x00")
		if !isCaptureInvocation(argv, marker) {
			continue
		}

		if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			errs = multierr.Append(errs, fmt.Errorf("kill pid %d: %w", pid, err))
			continue
		}
		killed++
		slog.Warn("Killed orphaned encoder", "pid", pid)
	}

	if killed > 0 {
		slog.Info("Orphan sweep finished", "killed", killed)
	}
	return errs
}
