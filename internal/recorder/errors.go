package recorder

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRecording    = errors.New("a recording session is already active")
	ErrNotRecording        = errors.New("not recording")
	ErrNotPaused           = errors.New("recording is not paused")
	ErrNothingToStop       = errors.New("nothing to stop")
	ErrOperationInProgress = errors.New("another recording operation is in progress")
)

// DirectoryCreateError means the session directory could not be created.
type DirectoryCreateError struct {
	Path string
	Err  error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("failed to create session directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error { return e.Err }

// SpawnFailedError means the encoder for a new segment could not be started.
type SpawnFailedError struct {
	Err error
}

func (e *SpawnFailedError) Error() string {
	return fmt.Sprintf("failed to start encoder: %v", e.Err)
}

func (e *SpawnFailedError) Unwrap() error { return e.Err }

// AssemblyFailedError wraps the segment assembler's error verbatim.
type AssemblyFailedError struct {
	Cause error
}

func (e *AssemblyFailedError) Error() string {
	return fmt.Sprintf("failed to assemble recording: %v", e.Cause)
}

func (e *AssemblyFailedError) Unwrap() error { return e.Cause }

// CaptureFailedError means the encoder exited without being asked to.
type CaptureFailedError struct {
	ExitCode    int
	Diagnostics string
}

func (e *CaptureFailedError) Error() string {
	return fmt.Sprintf("capture process exited unexpectedly with code %d", e.ExitCode)
}
