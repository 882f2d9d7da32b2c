// Package probe inspects finished recordings with ffprobe and grabs preview
// frames with ffmpeg.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/laboras/laboras/internal/capture"
)

// ThumbnailSize matches the 720p preset so previews never need rescaling.
const ThumbnailSize = "1280x720"

type Stream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// MediaInfo is the subset of ffprobe output that sessions record.
type MediaInfo struct {
	Path       string   `json:"path"`
	FormatName string   `json:"format_name"`
	DurationMs int64    `json:"duration_ms"`
	SizeBytes  int64    `json:"size_bytes"`
	Streams    []Stream `json:"streams"`
}

// Video returns the first video stream, if any.
func (m *MediaInfo) Video() (Stream, bool) {
	for _, s := range m.Streams {
		if s.CodecType == "video" {
			return s, true
		}
	}
	return Stream{}, false
}

type Prober struct {
	ffmpeg  capture.Tool
	ffprobe capture.Tool
}

func New(ffmpeg, ffprobe capture.Tool) *Prober {
	return &Prober{ffmpeg: ffmpeg, ffprobe: ffprobe}
}

// Info runs ffprobe on path.
func (p *Prober) Info(ctx context.Context, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file not found: %s", path)
	}

	cmd := p.ffprobe.CommandContext(ctx,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe failed for %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probeResult struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			Size       string `json:"size"`
		} `json:"format"`
		Streams []Stream `json:"streams"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	info := &MediaInfo{
		Path:       path,
		FormatName: probeResult.Format.FormatName,
		Streams:    probeResult.Streams,
	}
	// ffprobe prints "N/A" for unknown values
	if seconds, err := strconv.ParseFloat(probeResult.Format.Duration, 64); err == nil {
		info.DurationMs = int64(seconds * 1000)
	}
	if size, err := strconv.ParseInt(probeResult.Format.Size, 10, 64); err == nil {
		info.SizeBytes = size
	}

	slog.Debug("Probed video", "path", path, "duration_ms", info.DurationMs, "size", info.SizeBytes, "streams", len(info.Streams))
	return info, nil
}

// Thumbnail writes a single JPEG frame taken from the middle of video.
func (p *Prober) Thumbnail(ctx context.Context, video, output string) error {
	offset := 0.0
	if info, err := p.Info(ctx, video); err == nil && info.DurationMs > 0 {
		offset = float64(info.DurationMs) / 2000
	} else if err != nil {
		slog.Debug("Could not probe video, using first frame", "path", video, "error", err)
	}

	cmd := p.ffmpeg.CommandContext(ctx,
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", video,
		"-vframes", "1",
		"-s", ThumbnailSize,
		"-q:v", "2",
		"-y",
		output,
	)
	slog.Debug("Generating thumbnail", "command", strings.Join(cmd.Args, " "))

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("thumbnail generation failed for %s: %w: %s", video, err, lastLine(string(out)))
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		return fmt.Errorf("thumbnail generation produced no image for %s", video)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
