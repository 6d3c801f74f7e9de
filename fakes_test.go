package bpfobj

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"
)

// testLogger returns a discard logger unless BPFOBJ_TEST_VERBOSE is
// set, in which case debug output goes to stderr.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	if os.Getenv("BPFOBJ_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withPossibleCPU pins the per-CPU fan-out width for the duration of a
// test.
func withPossibleCPU(t *testing.T, n int) {
	t.Helper()
	old := possibleCPU
	possibleCPU = func() (int, error) { return n, nil }
	t.Cleanup(func() { possibleCPU = old })
}

// fakeMapOps is an in-memory stand-in for a native map handle. It
// counts native calls so tests can prove that validation failures
// never reach the kernel.
type fakeMapOps struct {
	data map[string][]byte

	nativeCalls int
	closeCalls  int
	pinnedAt    string
	pinErr      error
	info        *ebpf.MapInfo
}

func newFakeMapOps() *fakeMapOps {
	return &fakeMapOps{data: make(map[string][]byte)}
}

func (f *fakeMapOps) LookupBytes(key any) ([]byte, error) {
	f.nativeCalls++
	v, ok := f.data[string(key.([]byte))]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (f *fakeMapOps) Update(key, value any, flags ebpf.MapUpdateFlags) error {
	f.nativeCalls++
	k := string(key.([]byte))
	_, exists := f.data[k]
	switch {
	case flags == ebpf.UpdateNoExist && exists:
		return ebpf.ErrKeyExist
	case flags == ebpf.UpdateExist && !exists:
		return ebpf.ErrKeyNotExist
	}

	var buf []byte
	switch v := value.(type) {
	case []byte:
		buf = append(buf, v...)
	case [][]byte:
		for _, seg := range v {
			buf = append(buf, seg...)
		}
	}
	f.data[k] = buf
	return nil
}

func (f *fakeMapOps) Delete(key any) error {
	f.nativeCalls++
	k := string(key.([]byte))
	if _, ok := f.data[k]; !ok {
		return ebpf.ErrKeyNotExist
	}
	delete(f.data, k)
	return nil
}

func (f *fakeMapOps) NextKeyBytes(key any) ([]byte, error) {
	f.nativeCalls++
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if key == nil {
		if len(keys) == 0 {
			return nil, nil
		}
		return []byte(keys[0]), nil
	}
	prev := string(key.([]byte))
	for i, k := range keys {
		if k == prev && i+1 < len(keys) {
			return []byte(keys[i+1]), nil
		}
	}
	return nil, nil
}

func (f *fakeMapOps) Pin(path string) error {
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinnedAt = path
	return nil
}

func (f *fakeMapOps) Unpin() error {
	f.pinnedAt = ""
	return nil
}

func (f *fakeMapOps) Close() error {
	f.closeCalls++
	return nil
}

func (f *fakeMapOps) Info() (*ebpf.MapInfo, error) {
	if f.info != nil {
		return f.info, nil
	}
	return &ebpf.MapInfo{}, nil
}

// fakeProgramOps is a stand-in for a native program handle.
type fakeProgramOps struct {
	closeCalls int
	pinnedAt   string
	pinErr     error
	info       *ebpf.ProgramInfo
}

func (f *fakeProgramOps) Pin(path string) error {
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinnedAt = path
	return nil
}

func (f *fakeProgramOps) Unpin() error {
	f.pinnedAt = ""
	return nil
}

func (f *fakeProgramOps) Close() error {
	f.closeCalls++
	return nil
}

func (f *fakeProgramOps) Info() (*ebpf.ProgramInfo, error) {
	if f.info != nil {
		return f.info, nil
	}
	return &ebpf.ProgramInfo{}, nil
}

// fakeRawLink is a stand-in for a native link handle.
type fakeRawLink struct {
	closeCalls int
	pinnedAt   string
	pinErr     error
}

func (f *fakeRawLink) Pin(path string) error {
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinnedAt = path
	return nil
}

func (f *fakeRawLink) Unpin() error {
	f.pinnedAt = ""
	return nil
}

func (f *fakeRawLink) Close() error {
	f.closeCalls++
	return nil
}

// fakeRingReader serves queued records and then reports an exceeded
// deadline, like a drained kernel ring.
type fakeRingReader struct {
	records [][]byte
	closed  bool
	readErr error
}

func (f *fakeRingReader) ReadInto(rec *ringbuf.Record) error {
	if f.closed {
		return ringbuf.ErrClosed
	}
	if f.readErr != nil {
		return f.readErr
	}
	if len(f.records) == 0 {
		return os.ErrDeadlineExceeded
	}
	rec.RawSample = f.records[0]
	f.records = f.records[1:]
	return nil
}

func (f *fakeRingReader) SetDeadline(time.Time) {}

func (f *fakeRingReader) Close() error {
	f.closed = true
	return nil
}

// fakePerfSample is one queued perf record.
type fakePerfSample struct {
	cpu  int
	data []byte
	lost uint64
}

// fakePerfReader serves queued samples and loss reports.
type fakePerfReader struct {
	samples []fakePerfSample
	closed  bool
}

func (f *fakePerfReader) ReadInto(rec *perf.Record) error {
	if f.closed {
		return perf.ErrClosed
	}
	if len(f.samples) == 0 {
		return os.ErrDeadlineExceeded
	}
	s := f.samples[0]
	f.samples = f.samples[1:]
	rec.CPU = s.cpu
	rec.RawSample = s.data
	rec.LostSamples = s.lost
	return nil
}

func (f *fakePerfReader) SetDeadline(time.Time) {}

func (f *fakePerfReader) Close() error {
	f.closed = true
	return nil
}

// newTestMap builds a Map on fake ops without an owning object.
func newTestMap(t *testing.T, name string, mapType MapType, keySize, valueSize uint32, ops mapOps) *Map {
	t.Helper()
	m, err := newMap(nil, name, mapType, keySize, valueSize, 128, ops, testLogger(t))
	if err != nil {
		t.Fatalf("newMap: %v", err)
	}
	return m
}
