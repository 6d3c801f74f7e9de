package bpfobj

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-bpfobj/internal/handles"
)

// SampleHandler consumes one perf buffer sample together with the CPU
// whose ring produced it. The record slice is borrowed: it is valid
// only for the duration of the call and is reused for the next record,
// so the handler must copy out anything it needs to keep.
//
// Returning ErrStopPolling ends the current Poll early with a nil
// error; any other non-nil error aborts the remainder of the poll
// batch and propagates out of Poll.
type SampleHandler func(cpu int, record []byte) error

// LossHandler is notified when the kernel reports dropped samples on
// one CPU's ring. Losses are reported out-of-band and do not count as
// delivered records.
type LossHandler func(cpu int, lost uint64)

// perfReader is the subset of the native perf reader the poller needs.
// *perf.Reader satisfies it directly.
type perfReader interface {
	ReadInto(*perf.Record) error
	SetDeadline(time.Time)
	Close() error
}

var _ perfReader = (*perf.Reader)(nil)

type perfSource struct {
	name    string
	reader  perfReader
	handler SampleHandler
	onLost  LossHandler
	rec     perf.Record // scratch record, reused across reads
}

type pendingPerfSource struct {
	m       *Map
	handler SampleHandler
	onLost  LossHandler
}

// PerfBufferBuilder registers handler callbacks per source map before
// the buffer is finalized into a pollable PerfBuffer. Registration
// must happen before Build; adding a source afterwards is rejected.
type PerfBufferBuilder struct {
	pending    []pendingPerfSource
	bufferSize int
	logger     *slog.Logger
	built      bool
	newReader  func(m *Map, perCPUBytes int) (perfReader, error)
}

// NewPerfBufferBuilder creates an empty builder.
func NewPerfBufferBuilder(opts ...Option) *PerfBufferBuilder {
	o := newOptions(opts)
	return &PerfBufferBuilder{
		logger:    o.logger,
		newReader: newPerfReader,
	}
}

// BufferSize sets the per-CPU ring size in bytes, rounded up to a
// whole number of pages. The default is 64 pages per CPU.
func (b *PerfBufferBuilder) BufferSize(bytes int) *PerfBufferBuilder {
	b.bufferSize = bytes
	return b
}

// Add registers handler for samples produced through m, which must be
// a perf event array map from a loaded object.
func (b *PerfBufferBuilder) Add(m *Map, handler SampleHandler) error {
	return b.AddWithLossHandler(m, handler, nil)
}

// AddWithLossHandler registers handler for samples produced through m
// and onLost for kernel-reported drops on m's rings.
func (b *PerfBufferBuilder) AddWithLossHandler(m *Map, handler SampleHandler, onLost LossHandler) error {
	if b.built {
		return &InvalidStateError{Op: "add perf buffer source", State: "built"}
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if err := m.guard(); err != nil {
		return err
	}
	if m.Type() != MapTypePerfEventArray {
		return &InvalidStateError{
			Op:    fmt.Sprintf("add perf buffer source %q", m.Name()),
			State: m.Type().String(),
		}
	}
	b.pending = append(b.pending, pendingPerfSource{m: m, handler: handler, onLost: onLost})
	return nil
}

// Build finalizes the registrations into a pollable PerfBuffer. The
// builder cannot be reused afterwards.
func (b *PerfBufferBuilder) Build() (*PerfBuffer, error) {
	if b.built {
		return nil, &InvalidStateError{Op: "build perf buffer", State: "built"}
	}
	if len(b.pending) == 0 {
		return nil, errors.New("perf buffer has no sources")
	}
	b.built = true

	perCPUBytes := b.bufferSize
	if perCPUBytes <= 0 {
		perCPUBytes = 64 * os.Getpagesize()
	}

	sources := make([]*perfSource, 0, len(b.pending))
	for _, p := range b.pending {
		r, err := b.newReader(p.m, perCPUBytes)
		if err != nil {
			for _, s := range sources {
				s.reader.Close()
			}
			return nil, &LoadError{Object: p.m.Name(), Err: fmt.Errorf("create perf buffer reader: %w", err)}
		}
		sources = append(sources, &perfSource{name: p.m.Name(), reader: r, handler: p.handler, onLost: p.onLost})
	}

	pb := &PerfBuffer{sources: sources, logger: b.logger}
	pb.h = handles.New("perfbuf", "", func() error {
		var errs []error
		for _, s := range sources {
			if err := s.reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return pb, nil
}

func newPerfReader(m *Map, perCPUBytes int) (perfReader, error) {
	nm, ok := m.ops.(*ebpf.Map)
	if !ok {
		return nil, errors.New("map has no native handle")
	}
	return perf.NewReader(nm, perCPUBytes)
}

// PerfBuffer consumes samples from registered perf event array maps,
// one kernel ring per possible CPU per source. Each Poll drains all
// ready CPU rings; order is preserved per CPU but not across CPUs.
// Callbacks run synchronously on the polling goroutine.
type PerfBuffer struct {
	sources []*perfSource
	h       *handles.Handle
	logger  *slog.Logger
	next    int
}

func (pb *PerfBuffer) guard() error {
	if !pb.h.Alive() {
		return &UseAfterCloseError{Resource: "perf buffer", Name: ""}
	}
	return nil
}

// Poll drains ready samples, blocking up to timeout for the first one,
// and returns the number of samples delivered. A timeout of zero
// performs a single non-blocking drain. When the timeout lapses with
// nothing drained, Poll returns (0, ErrTimeoutExpired).
//
// Handler failure semantics match RingBuffer.Poll: a handler error
// aborts the batch and propagates with the count already delivered;
// ErrStopPolling ends the batch early with a nil error.
func (pb *PerfBuffer) Poll(timeout time.Duration) (int, error) {
	if err := pb.guard(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(timeout)
	total := 0

	n, stop, err := pb.drainAll()
	total += n
	if err != nil || stop {
		return total, err
	}
	if total > 0 {
		return total, nil
	}

	for total == 0 {
		if timeout <= 0 || !time.Now().Before(deadline) {
			return 0, ErrTimeoutExpired
		}
		src := pb.sources[pb.next%len(pb.sources)]
		pb.next++

		wait := deadline
		if len(pb.sources) > 1 {
			if slice := time.Now().Add(ringWaitSlice); slice.Before(deadline) {
				wait = slice
			}
		}
		n, stop, err := drainPerfSource(src, wait)
		total += n
		if err != nil || stop {
			return total, err
		}
	}

	n, _, err = pb.drainAll()
	total += n
	return total, err
}

func (pb *PerfBuffer) drainAll() (int, bool, error) {
	total := 0
	for _, src := range pb.sources {
		n, stop, err := drainPerfSource(src, pastDeadline)
		total += n
		if err != nil || stop {
			return total, stop, err
		}
	}
	return total, false, nil
}

func drainPerfSource(src *perfSource, wait time.Time) (int, bool, error) {
	src.reader.SetDeadline(wait)
	count := 0
	for {
		err := src.reader.ReadInto(&src.rec)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, unix.EAGAIN):
			return count, false, nil
		case errors.Is(err, perf.ErrClosed):
			return count, false, &UseAfterCloseError{Resource: "perf buffer", Name: src.name}
		default:
			return count, false, fmt.Errorf("perf buffer %q: read: %w", src.name, err)
		}

		src.reader.SetDeadline(pastDeadline)

		if src.rec.LostSamples > 0 && src.onLost != nil {
			src.onLost(src.rec.CPU, src.rec.LostSamples)
		}
		if len(src.rec.RawSample) == 0 {
			continue
		}

		herr := src.handler(src.rec.CPU, src.rec.RawSample)
		if herr == nil {
			count++
			continue
		}
		if errors.Is(herr, ErrStopPolling) {
			count++
			return count, true, nil
		}
		return count, false, fmt.Errorf("perf buffer %q: handler: %w", src.name, herr)
	}
}

// Close releases all perf readers. Safe to call more than once.
func (pb *PerfBuffer) Close() error {
	return pb.h.Close()
}
