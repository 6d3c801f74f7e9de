package bpfobj

import (
	"errors"
	"fmt"
)

// ErrTimeoutExpired is returned by Poll when the timeout lapses with no
// records drained. It is a benign condition: callers typically loop on
// it rather than treat it as a failure.
var ErrTimeoutExpired = errors.New("poll timeout expired")

// ErrStopPolling may be returned by a record handler to stop the
// current Poll early. Poll returns the count of records processed so
// far and a nil error; ErrStopPolling never escapes to callers.
var ErrStopPolling = errors.New("stop polling")

// ParseError is returned when a compiled unit cannot be parsed from a
// file or in-memory buffer. No kernel interaction has happened yet.
type ParseError struct {
	Source string // file path or buffer name
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse object %q: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// VerificationError is returned when the kernel verifier rejects a
// program during load. Log carries the verifier's full diagnostic
// text, which is usually the only actionable debugging signal.
type VerificationError struct {
	Object string
	Log    string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verifier rejected object %q: %v", e.Object, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// LoadError is returned for load failures below the verifier:
// insufficient privilege, unsupported map or program type on this
// kernel, relocation failures.
type LoadError struct {
	Object string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load object %q: %v", e.Object, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// AttachError is returned when the kernel rejects attaching a program
// to a hook point. Attach failures are never retried internally;
// attaching is not idempotent and a blind retry risks duplicate hooks.
type AttachError struct {
	Program string
	Kind    AttachType
	Target  string
	Err     error
}

func (e *AttachError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("attach program %q as %s to %q: %v", e.Program, e.Kind, e.Target, e.Err)
	}
	return fmt.Sprintf("attach program %q as %s: %v", e.Program, e.Kind, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// NotFoundError is returned when a named resource does not exist: a
// missing object file, a map or program name absent from a loaded
// object, a map key deleted or updated with UpdateExist while absent.
type NotFoundError struct {
	Resource string // "file", "map", "program", "key", ...
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// AlreadyExistsError is returned when creating something that already
// exists: a map key updated with UpdateNoExist while present, or a pin
// path that is already occupied.
type AlreadyExistsError struct {
	Resource string
	Name     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Name)
}

// SizeMismatchError is returned when a key or value buffer does not
// exactly match a map's declared sizes. The operation fails before any
// native call; buffers are never truncated or padded.
type SizeMismatchError struct {
	Map  string
	What string // "key" or "value"
	Want int
	Got  int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("map %q: %s size mismatch: want %d bytes, got %d", e.Map, e.What, e.Want, e.Got)
}

// InvalidStateError is returned when an operation is issued in the
// wrong lifecycle state, e.g. configuring an object after Load or
// adding a buffer source after Build.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %q", e.Op, e.State)
}

// UseAfterCloseError is returned when a handle is used after it, or
// its owning object, has been closed. The stale native handle is never
// invoked.
type UseAfterCloseError struct {
	Resource string
	Name     string
}

func (e *UseAfterCloseError) Error() string {
	return fmt.Sprintf("%s %q used after close", e.Resource, e.Name)
}

// IOError is returned for filesystem failures around pinning:
// permission problems, missing bpffs mounts, unremovable pins.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
