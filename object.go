package bpfobj

import (
	"bytes"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfobj/internal/handles"
)

// OpenObject is a parsed compiled unit that has not been loaded into
// the kernel. Parsing happens entirely in userspace: the header and
// section table are read, but no native map or program handles exist
// yet.
//
// Pre-load configuration (map size overrides, pin directives, program
// types, global data) is only valid on an OpenObject; Load consumes it
// irreversibly, and every call after Load fails with
// InvalidStateError.
type OpenObject struct {
	name   string
	spec   *ebpf.CollectionSpec
	logger *slog.Logger

	mapPins  map[string]string
	progTags map[string]ProgramType

	loaded bool
	load   loadFunc
}

// Open parses a compiled unit from a file without loading it. It fails
// with NotFoundError if the path does not exist and ParseError on
// malformed input. Section names are unique by construction; a unit
// with duplicate map or program names is rejected by the parser.
func Open(path string, opts ...Option) (*OpenObject, error) {
	o := newOptions(opts)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{Resource: "file", Name: path}
	}
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, &ParseError{Source: path, Err: err}
	}

	name := strings.TrimSuffix(filepath.Base(path), ".o")
	return newOpenObject(name, spec, o.logger), nil
}

// OpenBytes parses a compiled unit from an in-memory buffer without
// loading it. name identifies the unit in errors and logs.
func OpenBytes(name string, data []byte, opts ...Option) (*OpenObject, error) {
	o := newOptions(opts)

	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Source: name, Err: err}
	}
	return newOpenObject(name, spec, o.logger), nil
}

func newOpenObject(name string, spec *ebpf.CollectionSpec, logger *slog.Logger) *OpenObject {
	return &OpenObject{
		name:     name,
		spec:     spec,
		logger:   logger,
		mapPins:  make(map[string]string),
		progTags: make(map[string]ProgramType),
		load:     loadCollection,
	}
}

// Name returns the unit's name.
func (o *OpenObject) Name() string { return o.name }

func (o *OpenObject) guardOpen(op string) error {
	if o.loaded {
		return &InvalidStateError{Op: op, State: "loaded"}
	}
	return nil
}

// MapNames returns the names of the unit's declared map sections,
// sorted.
func (o *OpenObject) MapNames() []string {
	names := make([]string, 0, len(o.spec.Maps))
	for name := range o.spec.Maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProgramNames returns the names of the unit's declared program
// sections, sorted.
func (o *OpenObject) ProgramNames() []string {
	names := make([]string, 0, len(o.spec.Programs))
	for name := range o.spec.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetMaxEntries overrides a map's declared capacity before load.
func (o *OpenObject) SetMaxEntries(mapName string, maxEntries uint32) error {
	if err := o.guardOpen("set max entries"); err != nil {
		return err
	}
	ms, ok := o.spec.Maps[mapName]
	if !ok {
		return &NotFoundError{Resource: "map", Name: mapName}
	}
	ms.MaxEntries = maxEntries
	return nil
}

// SetMapPinPath directs Load to pin the named map at path once it is
// materialized. The path must not already exist at load time.
func (o *OpenObject) SetMapPinPath(mapName, path string) error {
	if err := o.guardOpen("set map pin path"); err != nil {
		return err
	}
	if _, ok := o.spec.Maps[mapName]; !ok {
		return &NotFoundError{Resource: "map", Name: mapName}
	}
	o.mapPins[mapName] = path
	return nil
}

// SetProgramType overrides the program type inferred from the ELF
// section name. The override takes precedence because one program can
// legitimately attach more than one way (e.g. a kprobe program used as
// a kretprobe).
func (o *OpenObject) SetProgramType(progName string, t ProgramType) error {
	if err := o.guardOpen("set program type"); err != nil {
		return err
	}
	ps, ok := o.spec.Programs[progName]
	if !ok {
		return &NotFoundError{Resource: "program", Name: progName}
	}
	o.progTags[progName] = t
	if native := t.toNative(); native != ebpf.UnspecifiedProgram {
		ps.Type = native
	}
	return nil
}

// SetVariable overrides a global variable (rodata/bss) before load.
func (o *OpenObject) SetVariable(name string, data []byte) error {
	if err := o.guardOpen("set variable"); err != nil {
		return err
	}
	v, ok := o.spec.Variables[name]
	if !ok {
		return &NotFoundError{Resource: "variable", Name: name}
	}
	if err := v.Set(data); err != nil {
		return &ParseError{Source: o.name, Err: fmt.Errorf("set variable %q: %w", name, err)}
	}
	return nil
}

// Load resolves relocations, creates native map and program handles
// and submits program instructions to the kernel verifier. On success
// the returned Object owns exactly one Map per declared map section
// and one Program per declared program section, each addressable by
// name.
//
// Load consumes the OpenObject whether or not it succeeds; the
// Open→Loaded transition is irreversible. Verifier rejections are
// reported as VerificationError carrying the verifier's full
// diagnostic text; other failures as LoadError.
func (o *OpenObject) Load() (*Object, error) {
	if err := o.guardOpen("load"); err != nil {
		return nil, err
	}
	o.loaded = true

	// Pinning happens manually after load so the pre-existence
	// contract applies; clear any PIN_BY_NAME annotations the unit
	// carries.
	for _, ms := range o.spec.Maps {
		ms.Pinning = ebpf.PinNone
	}

	lh, err := o.load(o.spec, ebpf.CollectionOptions{})
	if err != nil {
		return nil, translateLoadError(o.name, err)
	}

	obj := &Object{
		name:     o.name,
		h:        handles.New("object", o.name, nil),
		maps:     make(map[string]*Map, len(lh.maps)),
		programs: make(map[string]*Program, len(lh.programs)),
		logger:   o.logger,
	}

	// Materialize wrappers in sorted order so handle teardown order
	// is deterministic.
	for _, name := range sortedKeys(lh.maps) {
		ms := o.spec.Maps[name]
		mapType, keySize, valueSize, maxEntries := MapTypeUnspecified, uint32(0), uint32(0), uint32(0)
		if ms != nil {
			mapType = mapTypeFromNative(ms.Type)
			keySize, valueSize, maxEntries = ms.KeySize, ms.ValueSize, ms.MaxEntries
		}
		m, err := newMap(obj.h, name, mapType, keySize, valueSize, maxEntries, lh.maps[name], o.logger)
		if err != nil {
			obj.Close()
			return nil, err
		}
		obj.maps[name] = m
	}
	for _, name := range sortedKeys(lh.programs) {
		ps := o.spec.Programs[name]
		tag, section := o.progTags[name], ""
		if ps != nil {
			section = ps.SectionName
			if tag == ProgramTypeUnspecified {
				tag = inferProgramType(section)
			}
		}
		obj.programs[name] = newProgram(obj.h, name, tag, section, lh.programs[name], o.logger)
	}

	// Apply pin directives; any failure rolls the whole load back so
	// no half-pinned object escapes.
	for _, name := range sortedKeys(o.mapPins) {
		m := obj.maps[name]
		if m == nil {
			obj.Close()
			return nil, &NotFoundError{Resource: "map", Name: name}
		}
		if err := m.Pin(o.mapPins[name]); err != nil {
			obj.Close()
			return nil, err
		}
	}

	o.logger.Debug("loaded object",
		"name", o.name,
		"maps", len(obj.maps),
		"programs", len(obj.programs))
	return obj, nil
}

// Object is one loaded compiled unit. It owns the native handles of
// every map and program the unit declared; closing the Object releases
// them all, programs and maps before the object itself, and
// invalidates every Map and Program reference handed out.
type Object struct {
	name     string
	h        *handles.Handle
	maps     map[string]*Map
	programs map[string]*Program
	logger   *slog.Logger
}

// Name returns the unit's name.
func (o *Object) Name() string { return o.name }

func (o *Object) guard() error {
	if !o.h.Alive() {
		return &UseAfterCloseError{Resource: "object", Name: o.name}
	}
	return nil
}

// Map returns the named map, failing with NotFoundError if the unit
// declares no such map. The returned reference must not outlive the
// Object; operations on it fail with UseAfterCloseError once the
// Object is closed.
func (o *Object) Map(name string) (*Map, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	m, ok := o.maps[name]
	if !ok {
		return nil, &NotFoundError{Resource: "map", Name: name}
	}
	return m, nil
}

// Program returns the named program, failing with NotFoundError if the
// unit declares no such program. The same lifetime rules as Map apply.
func (o *Object) Program(name string) (*Program, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	p, ok := o.programs[name]
	if !ok {
		return nil, &NotFoundError{Resource: "program", Name: name}
	}
	return p, nil
}

// Maps iterates over the object's maps in name order.
func (o *Object) Maps() iter.Seq[*Map] {
	return func(yield func(*Map) bool) {
		for _, name := range sortedKeys(o.maps) {
			if !yield(o.maps[name]) {
				return
			}
		}
	}
}

// Programs iterates over the object's programs in name order.
func (o *Object) Programs() iter.Seq[*Program] {
	return func(yield func(*Program) bool) {
		for _, name := range sortedKeys(o.programs) {
			if !yield(o.programs[name]) {
				return
			}
		}
	}
}

// Close releases every owned native handle in an order safe for the
// kernel (programs and maps before the object) and invalidates all
// Map/Program references derived from this Object. Safe to call more
// than once.
func (o *Object) Close() error {
	return o.h.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
