package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/laboras/laboras/internal/capture"
)

// Backoff is the polling schedule used while waiting for the concatenated
// file to appear. Attempt n waits n*Delay, so the defaults give
// 200ms, 400ms, 600ms, 800ms.
type Backoff struct {
	Attempts int
	Delay    time.Duration
}

var DefaultBackoff = Backoff{Attempts: 5, Delay: 200 * time.Millisecond}

// wait sleeps before the next attempt (1-based) or returns early on ctx.
func (b Backoff) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt) * b.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result describes a finished Finalize.
type Result struct {
	OutputPath   string
	Segments     int
	Empty        bool // nothing was recorded, no output exists
	Concatenated bool
	SizeBytes    int64
}

// Assembler joins a session's segments into one file by stream copy.
type Assembler struct {
	ffmpeg  capture.Tool
	backoff Backoff
}

func NewAssembler(ffmpeg capture.Tool, backoff Backoff) *Assembler {
	if backoff.Attempts < 1 {
		backoff.Attempts = DefaultBackoff.Attempts
	}
	return &Assembler{ffmpeg: ffmpeg, backoff: backoff}
}

// Finalize turns the registered segments into outputPath.
//
// With no segments there is nothing to do. A single segment is renamed onto
// outputPath. Several segments are concatenated without re-encoding; on
// success the segments and the manifest are removed and the registry holds
// only outputPath, which makes a repeated Finalize a no-op. On failure
// outputPath is left untouched and every segment stays on disk.
func (a *Assembler) Finalize(ctx context.Context, reg *Registry, outputPath string) (Result, error) {
	paths := reg.Paths()

	switch len(paths) {
	case 0:
		slog.Debug("No segments to finalize", "output", outputPath)
		return Result{OutputPath: outputPath, Empty: true}, nil
	case 1:
		return a.finalizeSingle(reg, paths[0], outputPath)
	}

	for _, p := range paths {
		if err := checkSegment(p); err != nil {
			return Result{}, err
		}
	}

	dir := filepath.Dir(outputPath)
	manifest := filepath.Join(dir, ManifestName)
	tmp := tempOutputPath(outputPath)

	// A leftover from an earlier failed attempt must not count as output
	os.Remove(tmp)

	if err := writeManifest(manifest, paths); err != nil {
		return Result{}, err
	}

	if err := a.concat(ctx, manifest, tmp); err != nil {
		removeQuietly(manifest, tmp)
		return Result{}, err
	}

	size, err := a.waitForOutput(ctx, tmp)
	if err != nil {
		removeQuietly(manifest, tmp)
		return Result{}, err
	}

	// Rename replaces any stale outputPath atomically
	if err := os.Rename(tmp, outputPath); err != nil {
		removeQuietly(manifest, tmp)
		return Result{}, fmt.Errorf("failed to move concatenated file to %s: %w", outputPath, err)
	}

	var cleanupErr error
	for _, p := range paths {
		if p == outputPath {
			continue
		}
		cleanupErr = multierr.Append(cleanupErr, os.Remove(p))
	}
	cleanupErr = multierr.Append(cleanupErr, os.Remove(manifest))
	if cleanupErr != nil {
		slog.Warn("Failed to clean up after concatenation", "output", outputPath, "error", cleanupErr)
	}

	reg.collapse(outputPath)

	slog.Info("Segments concatenated", "output", outputPath, "segments", len(paths), "size", size)
	return Result{OutputPath: outputPath, Segments: len(paths), Concatenated: true, SizeBytes: size}, nil
}

func (a *Assembler) finalizeSingle(reg *Registry, segment, outputPath string) (Result, error) {
	if segment == outputPath {
		info, err := os.Stat(outputPath)
		if err != nil {
			return Result{}, &MissingSegmentError{Path: outputPath}
		}
		return Result{OutputPath: outputPath, Segments: 1, SizeBytes: info.Size()}, nil
	}

	info, err := os.Stat(segment)
	if err != nil {
		return Result{}, &MissingSegmentError{Path: segment}
	}

	if err := os.Rename(segment, outputPath); err != nil {
		return Result{}, fmt.Errorf("failed to move segment to %s: %w", outputPath, err)
	}
	reg.collapse(outputPath)

	slog.Debug("Single segment moved into place", "segment", segment, "output", outputPath)
	return Result{OutputPath: outputPath, Segments: 1, SizeBytes: info.Size()}, nil
}

func (a *Assembler) concat(ctx context.Context, manifest, output string) error {
	cmd := a.ffmpeg.CommandContext(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
		"-y",
		output,
	)

	slog.Debug("Running FFmpeg for concatenation", "command", strings.Join(cmd.Args, " "))

	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	failure := &ConcatenationFailedError{
		Kind:        ConcatProcessFailed,
		Output:      output,
		Diagnostics: tail(string(out), 2048),
		Err:         err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
	}
	slog.Error("FFmpeg concatenation failed", "exit_code", failure.ExitCode, "output", failure.Diagnostics)
	return failure
}

func (a *Assembler) waitForOutput(ctx context.Context, path string) (int64, error) {
	for attempt := 1; ; attempt++ {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return info.Size(), nil
		}
		if attempt >= a.backoff.Attempts {
			break
		}
		slog.Debug("Waiting for concatenated output", "path", path, "attempt", attempt)
		if err := a.backoff.wait(ctx, attempt); err != nil {
			return 0, err
		}
	}
	return 0, &ConcatenationFailedError{Kind: OutputNotMaterialized, Output: path}
}

func checkSegment(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &MissingSegmentError{Path: path}
	}
	if info.Size() == 0 {
		return &EmptySegmentError{Path: path}
	}
	return nil
}

// writeManifest writes a concat demuxer list. Single quotes inside a path
// are closed, escaped and reopened.
func writeManifest(path string, segments []string) error {
	var b strings.Builder
	for _, s := range segments {
		abs, err := filepath.Abs(s)
		if err != nil {
			return fmt.Errorf("failed to resolve segment path %s: %w", s, err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list %s: %w", path, err)
	}
	return nil
}

func removeQuietly(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove temporary file", "path", p, "error", err)
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
