package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/laboras/laboras/internal/capture"
)

const (
	ManifestName = "video_segments.txt"
	finalBase    = "video"
	partPrefix   = capture.SegmentFilePrefix
)

// OutputName is the final artifact name inside a session directory.
func OutputName(ext string) string {
	return finalBase + "." + ext
}

// tempOutputPath is where concatenation writes before replacing outputPath.
func tempOutputPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	base := strings.TrimSuffix(filepath.Base(outputPath), ext)
	return filepath.Join(filepath.Dir(outputPath), base+"_final"+ext)
}

// NextSegmentPath names a new segment after prev. Names carry a millisecond
// timestamp and always sort after prev, even when the clock has not moved.
func NextSegmentPath(dir, ext string, now time.Time, prev string) string {
	ms := now.UnixMilli()
	if prevMs, ok := segmentStamp(prev, ext); ok && prevMs >= ms {
		ms = prevMs + 1
	}
	for {
		path := filepath.Join(dir, fmt.Sprintf("%s%d.%s", partPrefix, ms, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		ms++
	}
}

func segmentStamp(path, ext string) (int64, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, partPrefix) || !strings.HasSuffix(name, "."+ext) {
		return 0, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, partPrefix), "."+ext)
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// ScanSegments rebuilds a registry from the segment files left in dir,
// ordered by their timestamps.
func ScanSegments(dir, ext string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory %s: %w", dir, err)
	}

	type stamped struct {
		path string
		ms   int64
	}
	var found []stamped
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ms, ok := segmentStamp(path, ext)
		if !ok {
			continue
		}
		// An encoder that died before writing anything leaves an empty part
		if info, err := entry.Info(); err != nil || info.Size() == 0 {
			slog.Debug("Skipping empty segment file", "segment", path)
			continue
		}
		found = append(found, stamped{path: path, ms: ms})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ms < found[j].ms })

	paths := make([]string, 0, len(found))
	for _, s := range found {
		paths = append(paths, s.path)
	}
	return NewRegistry(paths...), nil
}
