package segment

import "fmt"

// MissingSegmentError means a registered segment is not on disk.
type MissingSegmentError struct {
	Path string
}

func (e *MissingSegmentError) Error() string {
	return fmt.Sprintf("segment missing: %s", e.Path)
}

// EmptySegmentError means a registered segment has zero bytes.
type EmptySegmentError struct {
	Path string
}

func (e *EmptySegmentError) Error() string {
	return fmt.Sprintf("segment is empty: %s", e.Path)
}

type ConcatFailureKind int

const (
	// ConcatProcessFailed: the concatenation process exited non-zero.
	ConcatProcessFailed ConcatFailureKind = iota
	// OutputNotMaterialized: the process succeeded but no usable output appeared.
	OutputNotMaterialized
)

func (k ConcatFailureKind) String() string {
	switch k {
	case ConcatProcessFailed:
		return "concat process failed"
	case OutputNotMaterialized:
		return "output not materialized"
	default:
		return "unknown"
	}
}

type ConcatenationFailedError struct {
	Kind        ConcatFailureKind
	ExitCode    int
	Output      string
	Diagnostics string
	Err         error
}

func (e *ConcatenationFailedError) Error() string {
	switch e.Kind {
	case ConcatProcessFailed:
		if e.Err != nil && e.ExitCode == 0 {
			return fmt.Sprintf("concatenation failed: %v", e.Err)
		}
		return fmt.Sprintf("concatenation failed with exit code %d", e.ExitCode)
	case OutputNotMaterialized:
		return fmt.Sprintf("concatenation output never materialized: %s", e.Output)
	default:
		return "concatenation failed"
	}
}

func (e *ConcatenationFailedError) Unwrap() error {
	return e.Err
}
