package capture

import (
	"path/filepath"
	"strings"
)

// SegmentFilePrefix starts the name of every file an encoder captures into.
const SegmentFilePrefix = "video_part"

// isCaptureInvocation reports whether argv is an ffmpeg grab writing a
// segment below marker. Concat, ffprobe and thumbnail runs write elsewhere and
// are left alone.
func isCaptureInvocation(argv []string, marker string) bool {
	if len(argv) < 2 || !strings.Contains(filepath.Base(argv[0]), "ffmpeg") {
		return false
	}
	output := argv[len(argv)-1]
	return strings.Contains(output, marker) && strings.HasPrefix(filepath.Base(output), SegmentFilePrefix)
}
