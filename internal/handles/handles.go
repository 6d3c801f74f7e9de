// Package handles tracks ownership of native BPF resource handles.
//
// Every kernel-backed resource (object, map, program, link, buffer
// reader) is wrapped in exactly one Handle. A Handle releases its
// native resource at most once, and releases registered children in
// reverse registration order before itself, matching the destruction
// order the kernel expects (programs and maps before the object that
// created them).
package handles

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Guard after a Handle has been closed.
// Callers translate it into their own use-after-close error type.
var ErrClosed = errors.New("handle is closed")

// Handle is the single owner of one native resource.
//
// The zero value is not usable; construct with New or Child.
type Handle struct {
	mu       sync.Mutex
	resource string
	name     string
	closed   bool
	closeFn  func() error
	children []*Handle
}

// New creates a Handle owning a native resource. closeFn invokes the
// native destructor and runs at most once; it may be nil for purely
// logical handles that only gate their children.
func New(resource, name string, closeFn func() error) *Handle {
	return &Handle{resource: resource, name: name, closeFn: closeFn}
}

// Child creates a Handle owned by h. Closing h closes the child first.
// A child may also be closed independently; the parent's close then
// skips it.
func (h *Handle) Child(resource, name string, closeFn func() error) *Handle {
	c := New(resource, name, closeFn)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.children = append(h.children, c)
	return c
}

// Resource returns the resource kind given at construction.
func (h *Handle) Resource() string { return h.resource }

// Name returns the resource name given at construction.
func (h *Handle) Name() string { return h.name }

// Guard returns ErrClosed if the handle has been closed. It is a
// fail-fast liveness check, not a lock: a concurrent Close can still
// win the race, which is the caller's synchronization problem per the
// shared-resource policy.
func (h *Handle) Guard() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

// Alive reports whether the handle has not been closed.
func (h *Handle) Alive() bool { return h.Guard() == nil }

// Close releases children in reverse registration order, then the
// handle's own resource. It is idempotent: a second Close is a no-op
// returning nil, and the native destructor can never run twice.
// Destructor failures are joined and returned, never panicked, since
// closes also run on unwind paths.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	children := h.children
	h.children = nil
	closeFn := h.closeFn
	h.closeFn = nil
	h.mu.Unlock()

	var errs []error
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closeFn != nil {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
