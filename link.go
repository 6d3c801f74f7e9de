package bpfobj

import (
	"log/slog"

	"github.com/frobware/go-bpfobj/internal/handles"
)

// Link is an active attachment of a Program to a kernel hook point.
//
// Closing an unpinned Link detaches the hook; this happens on every
// exit path once the Link is closed, so a Link dropped without pinning
// never leaves a stale hook behind. Closing a pinned Link releases
// only the in-process handle: the pin holds a kernel reference, so the
// attachment stays active until the pin is removed.
type Link struct {
	program string
	kind    AttachType
	target  string

	h      *handles.Handle
	raw    rawLink
	logger *slog.Logger

	pinPath string
}

func newLink(program string, kind AttachType, target string, raw rawLink, logger *slog.Logger) *Link {
	return &Link{
		program: program,
		kind:    kind,
		target:  target,
		raw:     raw,
		logger:  logger,
		h:       handles.New("link", string(kind)+":"+target, raw.Close),
	}
}

// Kind returns the hook-kind family the link attaches to.
func (l *Link) Kind() AttachType { return l.kind }

// Target returns the human-readable hook target.
func (l *Link) Target() string { return l.target }

// PinPath returns the bpffs path the link is pinned at, or "" if
// unpinned.
func (l *Link) PinPath() string { return l.pinPath }

// Pinned reports whether the link is currently pinned.
func (l *Link) Pinned() bool { return l.pinPath != "" }

func (l *Link) guard() error {
	if !l.h.Alive() {
		return &UseAfterCloseError{Resource: "link", Name: string(l.kind) + ":" + l.target}
	}
	return nil
}

// Pin persists the attachment at path so it survives both Close and
// process exit. The path must not already exist unless
// WithPinOverwrite is given.
func (l *Link) Pin(path string, opts ...PinOption) error {
	if err := l.guard(); err != nil {
		return err
	}
	if err := preparePin(path, opts); err != nil {
		return err
	}
	if err := l.raw.Pin(path); err != nil {
		return &IOError{Op: "pin link", Path: path, Err: err}
	}
	l.pinPath = path
	l.logger.Debug("pinned link", "kind", l.kind, "target", l.target, "path", path)
	return nil
}

// Unpin removes the link's bpffs pin. The attachment then lives only
// as long as the in-process handle.
func (l *Link) Unpin() error {
	if err := l.guard(); err != nil {
		return err
	}
	if err := l.raw.Unpin(); err != nil {
		return &IOError{Op: "unpin link", Path: l.pinPath, Err: err}
	}
	l.pinPath = ""
	return nil
}

// Close releases the in-process link handle, detaching the hook unless
// the link is pinned. Safe to call more than once.
func (l *Link) Close() error {
	return l.h.Close()
}
