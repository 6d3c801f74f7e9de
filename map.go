package bpfobj

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/frobware/go-bpfobj/bpffs"
	"github.com/frobware/go-bpfobj/internal/handles"
)

// Map is one kernel-resident key-value store owned by an Object (or
// standing alone when adopted from a bpffs pin).
//
// All operations are byte-oriented: key and value buffer lengths must
// exactly match the map's declared sizes or the operation fails with
// SizeMismatchError before any native call is made.
//
// A Map must not be used after it or its owning Object is closed;
// such use fails with UseAfterCloseError. A single Map handle is not
// safe for interleaved use from multiple goroutines without external
// synchronization.
type Map struct {
	name       string
	mapType    MapType
	keySize    uint32
	valueSize  uint32
	maxEntries uint32

	h      *handles.Handle
	ops    mapOps
	logger *slog.Logger

	pinPath string
	// cpus is the per-CPU fan-out width, resolved once for per-CPU
	// map types.
	cpus int
}

func newMap(parent *handles.Handle, name string, mapType MapType, keySize, valueSize, maxEntries uint32, ops mapOps, logger *slog.Logger) (*Map, error) {
	m := &Map{
		name:       name,
		mapType:    mapType,
		keySize:    keySize,
		valueSize:  valueSize,
		maxEntries: maxEntries,
		ops:        ops,
		logger:     logger,
	}
	if mapType.PerCPU() {
		n, err := possibleCPU()
		if err != nil {
			return nil, &LoadError{Object: name, Err: fmt.Errorf("determine possible CPUs: %w", err)}
		}
		m.cpus = n
	}
	if parent != nil {
		m.h = parent.Child("map", name, ops.Close)
	} else {
		m.h = handles.New("map", name, ops.Close)
	}
	return m, nil
}

// Name returns the map's section name.
func (m *Map) Name() string { return m.name }

// Type returns the map-type tag.
func (m *Map) Type() MapType { return m.mapType }

// KeySize returns the declared key size in bytes.
func (m *Map) KeySize() uint32 { return m.keySize }

// ValueSize returns the declared per-value size in bytes. For per-CPU
// map types this is the size of one CPU's segment, not the widened
// buffer.
func (m *Map) ValueSize() uint32 { return m.valueSize }

// MaxEntries returns the declared capacity.
func (m *Map) MaxEntries() uint32 { return m.maxEntries }

// PinPath returns the bpffs path this handle pinned the map to, or ""
// if it did not pin it.
func (m *Map) PinPath() string { return m.pinPath }

func (m *Map) guard() error {
	if !m.h.Alive() {
		return &UseAfterCloseError{Resource: "map", Name: m.name}
	}
	return nil
}

func (m *Map) checkKey(key []byte) error {
	if len(key) != int(m.keySize) {
		return &SizeMismatchError{Map: m.name, What: "key", Want: int(m.keySize), Got: len(key)}
	}
	return nil
}

// wideValueSize is the total value length callers see for this map:
// the declared size, widened by the CPU count for per-CPU types.
func (m *Map) wideValueSize() int {
	if m.mapType.PerCPU() {
		return int(m.valueSize) * m.cpus
	}
	return int(m.valueSize)
}

func (m *Map) checkValue(value []byte) error {
	if len(value) != m.wideValueSize() {
		return &SizeMismatchError{Map: m.name, What: "value", Want: m.wideValueSize(), Got: len(value)}
	}
	return nil
}

// Lookup returns the value stored under key, or found=false if the key
// is absent; absence is not an error. The returned buffer is a fresh
// copy owned by the caller.
//
// For per-CPU map types the buffer is the joined view: every CPU's
// segment concatenated in CPU order, ValueSize bytes each. Use
// LookupPerCPU for the indexed view.
func (m *Map) Lookup(key []byte) (value []byte, found bool, err error) {
	if err := m.guard(); err != nil {
		return nil, false, err
	}
	if err := m.checkKey(key); err != nil {
		return nil, false, err
	}

	raw, err := m.ops.LookupBytes(key)
	if err != nil {
		return nil, false, fmt.Errorf("map %q: lookup: %w", m.name, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	if m.mapType.PerCPU() {
		return packPerCPU(raw, int(m.valueSize), m.cpus), true, nil
	}
	return raw, true, nil
}

// LookupPerCPU returns one value segment per possible CPU. The
// segments alias one freshly allocated buffer; they do not alias
// kernel memory and remain valid after further map operations.
// It fails for non-per-CPU map types.
func (m *Map) LookupPerCPU(key []byte) (*PerCPUValues, bool, error) {
	if err := m.guard(); err != nil {
		return nil, false, err
	}
	if !m.mapType.PerCPU() {
		return nil, false, &InvalidStateError{
			Op:    fmt.Sprintf("map %q: lookup per-CPU", m.name),
			State: m.mapType.String(),
		}
	}
	joined, found, err := m.Lookup(key)
	if err != nil || !found {
		return nil, found, err
	}
	return &PerCPUValues{data: joined, valueSize: int(m.valueSize)}, true, nil
}

// Update stores value under key subject to flag's presence semantics:
// UpdateNoExist fails with AlreadyExistsError if the key is present,
// UpdateExist fails with NotFoundError if it is absent.
//
// For per-CPU map types value is the joined view (ValueSize bytes per
// possible CPU, concatenated); use UpdatePerCPU to pass one segment
// per CPU.
func (m *Map) Update(key, value []byte, flag UpdateFlag) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.checkKey(key); err != nil {
		return err
	}
	if err := m.checkValue(value); err != nil {
		return err
	}

	var err error
	if m.mapType.PerCPU() {
		err = m.ops.Update(key, splitPerCPU(value, int(m.valueSize), m.cpus), flag.toNative())
	} else {
		err = m.ops.Update(key, value, flag.toNative())
	}
	if err != nil {
		if terr, ok := translateKeyError(m.name, key, err); ok {
			return terr
		}
		return fmt.Errorf("map %q: update: %w", m.name, err)
	}
	return nil
}

// UpdatePerCPU stores one value segment per possible CPU under key.
// values must contain exactly one ValueSize-byte segment per possible
// CPU. It fails for non-per-CPU map types.
func (m *Map) UpdatePerCPU(key []byte, values [][]byte, flag UpdateFlag) error {
	if err := m.guard(); err != nil {
		return err
	}
	if !m.mapType.PerCPU() {
		return &InvalidStateError{
			Op:    fmt.Sprintf("map %q: update per-CPU", m.name),
			State: m.mapType.String(),
		}
	}
	if err := m.checkKey(key); err != nil {
		return err
	}
	if len(values) != m.cpus {
		return &SizeMismatchError{Map: m.name, What: "value", Want: m.cpus, Got: len(values)}
	}
	for _, v := range values {
		if len(v) != int(m.valueSize) {
			return &SizeMismatchError{Map: m.name, What: "value", Want: int(m.valueSize), Got: len(v)}
		}
	}

	if err := m.ops.Update(key, values, flag.toNative()); err != nil {
		if terr, ok := translateKeyError(m.name, key, err); ok {
			return terr
		}
		return fmt.Errorf("map %q: update: %w", m.name, err)
	}
	return nil
}

// Delete removes key from the map, failing with NotFoundError if it is
// absent.
func (m *Map) Delete(key []byte) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.checkKey(key); err != nil {
		return err
	}

	if err := m.ops.Delete(key); err != nil {
		if terr, ok := translateKeyError(m.name, key, err); ok {
			return terr
		}
		return fmt.Errorf("map %q: delete: %w", m.name, err)
	}
	return nil
}

// Keys iterates over the map's keys using the kernel's get-next-key
// primitive. Each range restarts from the beginning; iteration order
// is kernel-defined and unstable under concurrent mutation. Each
// yielded key is a fresh copy.
//
// A non-nil error is yielded once as the final element if iteration
// fails mid-way.
func (m *Map) Keys() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if err := m.guard(); err != nil {
			yield(nil, err)
			return
		}
		var prev any
		for {
			next, err := m.ops.NextKeyBytes(prev)
			if err != nil {
				yield(nil, fmt.Errorf("map %q: next key: %w", m.name, err))
				return
			}
			if next == nil {
				return
			}
			if !yield(next, nil) {
				return
			}
			prev = next
		}
	}
}

// Pin persists the map's kernel handle at path so it survives process
// exit. The path must not already exist unless WithPinOverwrite is
// given.
func (m *Map) Pin(path string, opts ...PinOption) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := preparePin(path, opts); err != nil {
		return err
	}
	if err := m.ops.Pin(path); err != nil {
		return &IOError{Op: "pin map", Path: path, Err: err}
	}
	m.pinPath = path
	m.logger.Debug("pinned map", "name", m.name, "path", path)
	return nil
}

// Unpin removes the map's bpffs pin. The in-process handle stays
// valid; the kernel map is released once the last reference drops.
func (m *Map) Unpin() error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.ops.Unpin(); err != nil {
		return &IOError{Op: "unpin map", Path: m.pinPath, Err: err}
	}
	m.pinPath = ""
	return nil
}

// Info returns a snapshot of the kernel's view of the map.
func (m *Map) Info() (*MapInfo, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	info, err := m.ops.Info()
	if err != nil {
		return nil, fmt.Errorf("map %q: info: %w", m.name, err)
	}
	id, _ := info.ID()
	return &MapInfo{
		ID:         uint32(id),
		Name:       info.Name,
		Type:       mapTypeFromNative(info.Type),
		KeySize:    info.KeySize,
		ValueSize:  info.ValueSize,
		MaxEntries: info.MaxEntries,
		Flags:      info.Flags,
	}, nil
}

// Close releases the in-process map handle. Safe to call more than
// once. A map owned by an Object is also closed when the Object is.
func (m *Map) Close() error {
	return m.h.Close()
}

// preparePin enforces the pin pre-existence contract shared by map,
// program and link pinning.
func preparePin(path string, opts []PinOption) error {
	var o pinOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := bpffs.PreparePin(path, o.overwrite); err != nil {
		if bpffs.IsExist(err) {
			return &AlreadyExistsError{Resource: "pin", Name: path}
		}
		return &IOError{Op: "prepare pin", Path: path, Err: err}
	}
	return nil
}

type pinOptions struct {
	overwrite bool
}

// PinOption configures pinning behaviour.
type PinOption func(*pinOptions)

// WithPinOverwrite allows Pin to replace an existing pin at the target
// path instead of failing with AlreadyExistsError.
func WithPinOverwrite() PinOption {
	return func(o *pinOptions) { o.overwrite = true }
}
