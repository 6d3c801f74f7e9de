package bpfobj

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfobj/internal/handles"
)

// RecordHandler consumes one ring buffer record. The record slice is
// borrowed: it is valid only for the duration of the call and is
// reused for the next record, so the handler must copy out anything it
// needs to keep.
//
// Returning ErrStopPolling ends the current Poll early with a nil
// error; any other non-nil error aborts the remainder of the poll
// batch and propagates out of Poll.
type RecordHandler func(record []byte) error

// ringReader is the subset of the native ring buffer reader the poller
// needs. *ringbuf.Reader satisfies it directly.
type ringReader interface {
	ReadInto(*ringbuf.Record) error
	SetDeadline(time.Time)
	Close() error
}

var _ ringReader = (*ringbuf.Reader)(nil)

// pastDeadline makes reads non-blocking: a deadline in the past drains
// pending records and then reports deadline exceeded. The zero time
// would mean "no deadline".
var pastDeadline = time.Unix(1, 0)

// ringWaitSlice bounds how long Poll blocks on one source before
// rotating to the next when more than one source is registered.
const ringWaitSlice = 10 * time.Millisecond

type ringSource struct {
	name    string
	reader  ringReader
	handler RecordHandler
	rec     ringbuf.Record // scratch record, reused across reads
}

type pendingRingSource struct {
	m       *Map
	handler RecordHandler
}

// RingBufferBuilder registers handler callbacks per source map before
// the buffer is finalized into a pollable RingBuffer. Registration
// must happen before Build; adding a source afterwards is rejected.
type RingBufferBuilder struct {
	pending   []pendingRingSource
	logger    *slog.Logger
	built     bool
	newReader func(m *Map) (ringReader, error)
}

// NewRingBufferBuilder creates an empty builder.
func NewRingBufferBuilder(opts ...Option) *RingBufferBuilder {
	o := newOptions(opts)
	return &RingBufferBuilder{
		logger:    o.logger,
		newReader: newRingReader,
	}
}

// Add registers handler for records produced through m, which must be
// a ring buffer map from a loaded object.
func (b *RingBufferBuilder) Add(m *Map, handler RecordHandler) error {
	if b.built {
		return &InvalidStateError{Op: "add ring buffer source", State: "built"}
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if err := m.guard(); err != nil {
		return err
	}
	if m.Type() != MapTypeRingBuf {
		return &InvalidStateError{
			Op:    fmt.Sprintf("add ring buffer source %q", m.Name()),
			State: m.Type().String(),
		}
	}
	b.pending = append(b.pending, pendingRingSource{m: m, handler: handler})
	return nil
}

// Build finalizes the registrations into a pollable RingBuffer. The
// builder cannot be reused afterwards.
func (b *RingBufferBuilder) Build() (*RingBuffer, error) {
	if b.built {
		return nil, &InvalidStateError{Op: "build ring buffer", State: "built"}
	}
	if len(b.pending) == 0 {
		return nil, errors.New("ring buffer has no sources")
	}
	b.built = true

	sources := make([]*ringSource, 0, len(b.pending))
	for _, p := range b.pending {
		r, err := b.newReader(p.m)
		if err != nil {
			for _, s := range sources {
				s.reader.Close()
			}
			return nil, &LoadError{Object: p.m.Name(), Err: fmt.Errorf("create ring buffer reader: %w", err)}
		}
		sources = append(sources, &ringSource{name: p.m.Name(), reader: r, handler: p.handler})
	}

	rb := &RingBuffer{sources: sources, logger: b.logger}
	rb.h = handles.New("ringbuf", "", func() error {
		var errs []error
		for _, s := range sources {
			if err := s.reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return rb, nil
}

func newRingReader(m *Map) (ringReader, error) {
	nm, ok := m.ops.(*ebpf.Map)
	if !ok {
		return nil, errors.New("map has no native handle")
	}
	return ringbuf.NewReader(nm)
}

// RingBuffer consumes records from registered ring buffer maps and
// delivers them to the handlers registered at build time. Callbacks
// run synchronously on the polling goroutine; the poller never spawns
// workers of its own.
//
// Within one source, records are delivered in arrival order. Across
// sources the order is the drain order of the readers and is
// unspecified.
type RingBuffer struct {
	sources []*ringSource
	h       *handles.Handle
	logger  *slog.Logger
	next    int
}

func (rb *RingBuffer) guard() error {
	if !rb.h.Alive() {
		return &UseAfterCloseError{Resource: "ring buffer", Name: ""}
	}
	return nil
}

// Poll drains ready records, blocking up to timeout for the first one,
// and returns the number of records delivered. A timeout of zero
// performs a single non-blocking drain. When the timeout lapses with
// nothing drained, Poll returns (0, ErrTimeoutExpired).
//
// A handler error aborts the remainder of the batch and propagates,
// with the count of records already delivered; ErrStopPolling ends the
// batch early with a nil error. Either way the poller state stays
// consistent and Poll may be called again.
func (rb *RingBuffer) Poll(timeout time.Duration) (int, error) {
	if err := rb.guard(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(timeout)
	total := 0

	// First pass: sweep records that are already pending.
	n, stop, err := rb.drainAll()
	total += n
	if err != nil || stop {
		return total, err
	}
	if total > 0 {
		return total, nil
	}

	// Nothing pending: wait for the first record, bounded by the
	// timeout, rotating across sources when there are several since
	// only one reader can be blocked on at a time.
	for total == 0 {
		if timeout <= 0 || !time.Now().Before(deadline) {
			return 0, ErrTimeoutExpired
		}
		src := rb.sources[rb.next%len(rb.sources)]
		rb.next++

		wait := deadline
		if len(rb.sources) > 1 {
			if slice := time.Now().Add(ringWaitSlice); slice.Before(deadline) {
				wait = slice
			}
		}
		n, stop, err := drainRingSource(src, wait)
		total += n
		if err != nil || stop {
			return total, err
		}
	}

	// Sweep up anything that arrived alongside the first record.
	n, _, err = rb.drainAll()
	total += n
	return total, err
}

// drainAll sweeps every source non-blockingly.
func (rb *RingBuffer) drainAll() (int, bool, error) {
	total := 0
	for _, src := range rb.sources {
		n, stop, err := drainRingSource(src, pastDeadline)
		total += n
		if err != nil || stop {
			return total, stop, err
		}
	}
	return total, false, nil
}

// drainRingSource reads records from one source until it runs dry,
// blocking until wait for the first record. Returns the count
// delivered and whether the handler requested an early stop.
func drainRingSource(src *ringSource, wait time.Time) (int, bool, error) {
	src.reader.SetDeadline(wait)
	count := 0
	for {
		err := src.reader.ReadInto(&src.rec)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, unix.EAGAIN):
			// Transient empty-buffer conditions mean zero events
			// this pass, not failure.
			return count, false, nil
		case errors.Is(err, ringbuf.ErrClosed):
			return count, false, &UseAfterCloseError{Resource: "ring buffer", Name: src.name}
		default:
			return count, false, fmt.Errorf("ring buffer %q: read: %w", src.name, err)
		}

		// The first record ends the blocking phase; the rest of the
		// pass is a non-blocking sweep.
		src.reader.SetDeadline(pastDeadline)

		herr := src.handler(src.rec.RawSample)
		if herr == nil {
			count++
			continue
		}
		if errors.Is(herr, ErrStopPolling) {
			count++
			return count, true, nil
		}
		return count, false, fmt.Errorf("ring buffer %q: handler: %w", src.name, herr)
	}
}

// Close releases all ring readers. Safe to call more than once.
func (rb *RingBuffer) Close() error {
	return rb.h.Close()
}
