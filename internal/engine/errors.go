package engine

import (
	"errors"
	"fmt"
)

// ErrLookupUnsupported indicates the engine cannot resolve messages by id,
// so revocation is unavailable for its sessions.
var ErrLookupUnsupported = errors.New("engine message lookup not supported")

// ErrMessageNotFound indicates the engine found no message for the given id.
var ErrMessageNotFound = errors.New("engine message not found")

// ErrorKind classifies an engine failure.
type ErrorKind string

const (
	// ErrorKindEvaluation is the known class of transient engine scripting
	// faults (script evaluation failed inside the automation runtime).
	// It is the only class eligible for the media-egress document fallback.
	ErrorKindEvaluation ErrorKind = "evaluation"
	// ErrorKindFatal covers every other engine failure.
	ErrorKindFatal ErrorKind = "fatal"
)

// Error is a classified failure bubbled from the automation engine.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as an engine failure of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	if kind == "" {
		kind = ErrorKindFatal
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsEvaluationFault reports whether err is the recognized transient
// evaluation-fault class. Only this narrow class triggers the one-shot
// send-as-document fallback in media egress.
func IsEvaluationFault(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindEvaluation
}
