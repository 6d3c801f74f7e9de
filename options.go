package bpfobj

import (
	"io"
	"log/slog"
)

// Option configures the object, pinned-handle and event buffer
// constructors.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used by the returned handles.
// If not specified, a no-op logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
