package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrGraphInvalid     = errors.New("workflow graph invalid")
	ErrRender           = errors.New("render failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("turn timed out")
	ErrConflict         = errors.New("session revision conflict")
	ErrInvalidInput     = errors.New("invalid input")
)

// Error attaches an operation and a kind to an underlying error.
type Error struct {
	Op   string
	Kind error
	Err  error
}

// E builds an *Error.
func E(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Violation is one graph invariant broken by a workflow document.
type Violation struct {
	Code    string `json:"code"`
	NodeID  string `json:"nodeId,omitempty"`
	EdgeID  string `json:"edgeId,omitempty"`
	Message string `json:"message"`
}

// GraphInvalidError is returned when a workflow version fails validation.
type GraphInvalidError struct {
	WorkflowID string
	Version    int
	Violations []Violation
}

func (e *GraphInvalidError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("workflow %s v%d invalid: %s", e.WorkflowID, e.Version, strings.Join(msgs, "; "))
}

func (e *GraphInvalidError) Is(target error) bool {
	return target == ErrGraphInvalid
}

// IsFatal reports whether err is an engine-side failure rather than a
// problem with the caller's request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrGraphInvalid) ||
		errors.Is(err, ErrRender) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// Code returns a stable machine-readable name for the kind of err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrGraphInvalid):
		return "graph_invalid"
	case errors.Is(err, ErrRender):
		return "render_failed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}
