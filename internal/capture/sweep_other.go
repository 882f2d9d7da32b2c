//go:build !linux

package capture

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
)

// SweepOrphans kills stray ffmpeg grabs still writing a segment below marker.
// Windows has no portable command line match, so only tracked processes are
// swept there.
func SweepOrphans(marker string) error {
	if marker == "" || runtime.GOOS == "windows" {
		return nil
	}

	pattern := "ffmpeg.*" + regexp.QuoteMeta(marker) + ".*" + SegmentFilePrefix + "[0-9]+\\.[^ ]+$"
	err := exec.Command("pkill", "-KILL", "-f", pattern).Run()

	// pkill exits 1 when nothing matched
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pkill failed: %w", err)
	}
	return nil
}
