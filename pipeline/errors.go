package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure for the queue's retry policy.
type ErrorKind int

const (
	// ErrInput covers bad source assets and unsupported format
	// combinations. Never retried.
	ErrInput ErrorKind = iota
	// ErrTool covers non-zero exits, missing output files, and failure
	// sentinels in tool output.
	ErrTool
	// ErrTimeout means a subprocess exceeded its wall-clock budget.
	ErrTimeout
	// ErrPublish covers failed uploads to durable storage.
	ErrPublish
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInput:
		return "input"
	case ErrTool:
		return "tool"
	case ErrTimeout:
		return "timeout"
	case ErrPublish:
		return "publish"
	}
	return "unknown"
}

// Error is the typed failure every stage surfaces to the worker handler.
type Error struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the queue may redeliver after this failure.
func (e *Error) Retryable() bool { return e.Kind != ErrInput }

func inputErr(stage string, err error) *Error {
	return &Error{Kind: ErrInput, Stage: stage, Err: err}
}

func toolErr(stage string, err error) *Error {
	return &Error{Kind: ErrTool, Stage: stage, Err: err}
}

func timeoutErr(stage string, err error) *Error {
	return &Error{Kind: ErrTimeout, Stage: stage, Err: err}
}

func publishErr(stage string, err error) *Error {
	return &Error{Kind: ErrPublish, Stage: stage, Err: err}
}

// Exported constructors for callers outside this package (the worker
// wraps publish failures; tests build representative stage errors).

func InputError(stage string, err error) error   { return inputErr(stage, err) }
func ToolError(stage string, err error) error    { return toolErr(stage, err) }
func TimeoutError(stage string, err error) error { return timeoutErr(stage, err) }
func PublishError(stage string, err error) error { return publishErr(stage, err) }

// Retryable classifies an arbitrary handler error. Unknown errors are
// treated as retryable so transient infrastructure faults get another
// attempt.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// KindOf returns the stage error kind, or false for untyped errors.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// StageOf returns the failing stage name, or "" for untyped errors.
func StageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
